package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personal/banner-lifecycle/internal/domain/banner"
	"github.com/personal/banner-lifecycle/internal/domain/schedule"
)

func TestMemoryActivationTimer(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	timer := NewMemoryActivationTimer().WithClock(func() time.Time { return now })
	ctx := context.Background()

	a, b := banner.NewID(), banner.NewID()
	require.NoError(t, timer.Enqueue(ctx, schedule.NewActivation(a, now), time.Minute))
	require.NoError(t, timer.Enqueue(ctx, schedule.NewActivation(b, now), -time.Minute))

	dueAt, ok := timer.DueAt(schedule.KeyFor(b))
	require.True(t, ok)
	assert.Equal(t, now, dueAt, "negative delay fires immediately")

	claimed, err := timer.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, b, claimed[0].BannerID())
	assert.Equal(t, []schedule.JobKey{schedule.KeyFor(a)}, timer.Keys())

	timer.FailEnqueue(errors.New("redis down"))
	assert.Error(t, timer.Enqueue(ctx, schedule.NewActivation(b, now), 0))

	require.NoError(t, timer.Cancel(ctx, schedule.KeyFor(a)))
	pending, err := timer.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}
