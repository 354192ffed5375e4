package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personal/banner-lifecycle/internal/domain/banner"
	"github.com/personal/banner-lifecycle/internal/domain/schedule"
)

// queuedDueAt reads the score of key straight from the queue
func queuedDueAt(ctx context.Context, timer *RedisActivationTimer, key schedule.JobKey) (time.Time, bool, error) {
	score, err := timer.client.ZScore(ctx, timer.queueKey, string(key)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(int64(score)), true, nil
}

func newTestTimer(t *testing.T, now time.Time) (*RedisActivationTimer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	timer := NewRedisActivationTimer(client, "test:activation").WithClock(func() time.Time { return now })
	return timer, mr
}

func TestRedisActivationTimer_EnqueueAndClaim(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	timer, _ := newTestTimer(t, now)
	ctx := context.Background()

	id := banner.NewID()
	require.NoError(t, timer.Enqueue(ctx, schedule.NewActivation(id, now.Add(time.Hour)), time.Hour))

	pending, err := timer.Pending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)

	dueAt, ok, err := queuedDueAt(ctx, timer, schedule.KeyFor(id))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, now.Add(time.Hour).UnixMilli(), dueAt.UnixMilli())

	// Not due yet
	claimed, err := timer.ClaimDue(ctx, now.Add(59*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	claimed, err = timer.ClaimDue(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, id, claimed[0].BannerID())
	assert.Equal(t, schedule.KeyFor(id), claimed[0].Key())
	assert.Equal(t, 0, claimed[0].Attempt())

	// Claimed activations are gone
	claimed, err = timer.ClaimDue(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestRedisActivationTimer_EnqueueReplacesSameKey(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	timer, _ := newTestTimer(t, now)
	ctx := context.Background()

	id := banner.NewID()
	require.NoError(t, timer.Enqueue(ctx, schedule.NewActivation(id, now), time.Minute))
	require.NoError(t, timer.Enqueue(ctx, schedule.NewActivation(id, now), time.Hour))

	pending, err := timer.Pending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)

	dueAt, _, err := queuedDueAt(ctx, timer, schedule.KeyFor(id))
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour).UnixMilli(), dueAt.UnixMilli())
}

func TestRedisActivationTimer_CancelIsIdempotent(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	timer, _ := newTestTimer(t, now)
	ctx := context.Background()

	id := banner.NewID()
	require.NoError(t, timer.Enqueue(ctx, schedule.NewActivation(id, now), 0))
	require.NoError(t, timer.Cancel(ctx, schedule.KeyFor(id)))
	require.NoError(t, timer.Cancel(ctx, schedule.KeyFor(id)))
	require.NoError(t, timer.Cancel(ctx, schedule.KeyFor(banner.NewID())))

	claimed, err := timer.ClaimDue(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestRedisActivationTimer_ClaimRespectsLimitAndOrder(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	timer, _ := newTestTimer(t, now)
	ctx := context.Background()

	ids := []banner.ID{banner.NewID(), banner.NewID(), banner.NewID()}
	for i, id := range ids {
		delay := time.Duration(3-i) * time.Second
		require.NoError(t, timer.Enqueue(ctx, schedule.NewActivation(id, now.Add(delay)), delay))
	}

	claimed, err := timer.ClaimDue(ctx, now.Add(time.Minute), 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, ids[2], claimed[0].BannerID())
	assert.Equal(t, ids[1], claimed[1].BannerID())

	pending, err := timer.Pending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)
}

func TestRedisActivationTimer_RetryKeepsAttempt(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	timer, _ := newTestTimer(t, now)
	ctx := context.Background()

	id := banner.NewID()
	retry := schedule.NewActivation(id, now).Retry(now, 30*time.Second).Retry(now, 30*time.Second)
	require.NoError(t, timer.Enqueue(ctx, retry, 0))

	claimed, err := timer.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 2, claimed[0].Attempt())
}

func TestRedisActivationTimer_SkipsForeignMembers(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	timer, mr := newTestTimer(t, now)
	ctx := context.Background()

	_, err := mr.ZAdd("test:activation:queue", float64(now.UnixMilli()), "not_a_banner")
	require.NoError(t, err)
	id := banner.NewID()
	require.NoError(t, timer.Enqueue(ctx, schedule.NewActivation(id, now), 0))

	claimed, err := timer.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, id, claimed[0].BannerID())
}

func TestRedisActivationTimer_RequeueDoesNotClobber(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	timer, _ := newTestTimer(t, now)
	ctx := context.Background()

	id := banner.NewID()
	delivered := schedule.NewActivation(id, now)

	// A reschedule landed while the delivered activation was being handled
	require.NoError(t, timer.Enqueue(ctx, schedule.NewActivation(id, now.Add(time.Hour)), time.Hour))
	require.NoError(t, timer.Requeue(ctx, delivered.Retry(now, 30*time.Second), 30*time.Second))

	dueAt, ok, err := queuedDueAt(ctx, timer, schedule.KeyFor(id))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, now.Add(time.Hour).UnixMilli(), dueAt.UnixMilli())

	// Without a competing activation the retry is stored
	other := banner.NewID()
	require.NoError(t, timer.Requeue(ctx, schedule.NewActivation(other, now).Retry(now, time.Second), time.Second))
	claimed, err := timer.ClaimDue(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, other, claimed[0].BannerID())
	assert.Equal(t, 1, claimed[0].Attempt())
}
