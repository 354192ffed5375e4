package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/personal/banner-lifecycle/internal/domain/banner"
	"github.com/personal/banner-lifecycle/internal/domain/schedule"
	"github.com/personal/banner-lifecycle/internal/infrastructure/cache"
	"github.com/personal/banner-lifecycle/pkg/logger"
)

type MockActivator struct {
	mock.Mock
}

func (m *MockActivator) ActivateScheduled(ctx context.Context, rawID string) (*BannerResponse, error) {
	args := m.Called(ctx, rawID)
	if resp := args.Get(0); resp != nil {
		return resp.(*BannerResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func newConsumerUnderTest(activator Activator, timer schedule.Timer, now time.Time) *ActivationConsumer {
	return NewActivationConsumer(activator, timer, logger.Discard(), ActivationConsumerConfig{
		RetryAttempts:      3,
		RetryDelay:         30 * time.Second,
		MaxRequeueAttempts: 2,
		InitialInterval:    time.Millisecond,
		Now:                func() time.Time { return now },
	})
}

func TestActivationConsumer_Handle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	id := banner.NewID()
	rank := 1

	t.Run("Success", func(t *testing.T) {
		activator := new(MockActivator)
		timer := cache.NewMemoryActivationTimer().WithClock(func() time.Time { return now })
		activator.On("ActivateScheduled", mock.Anything, id.String()).
			Return(&BannerResponse{ID: id.String(), RunningNo: &rank}, nil).Once()

		err := newConsumerUnderTest(activator, timer, now).Handle(ctx, schedule.NewActivation(id, now))
		require.NoError(t, err)
		activator.AssertExpectations(t)
		assert.Empty(t, timer.Keys())
	})

	t.Run("StaleIsSkippedWithoutRetry", func(t *testing.T) {
		for _, staleErr := range []error{banner.ErrBannerNotFound, banner.ErrInvalidTransition} {
			activator := new(MockActivator)
			timer := cache.NewMemoryActivationTimer()
			activator.On("ActivateScheduled", mock.Anything, id.String()).Return(nil, staleErr).Once()

			err := newConsumerUnderTest(activator, timer, now).Handle(ctx, schedule.NewActivation(id, now))
			assert.NoError(t, err)
			activator.AssertNumberOfCalls(t, "ActivateScheduled", 1)
			assert.Empty(t, timer.Keys())
		}
	})

	t.Run("TransientRetriedInPlace", func(t *testing.T) {
		activator := new(MockActivator)
		timer := cache.NewMemoryActivationTimer()
		activator.On("ActivateScheduled", mock.Anything, id.String()).
			Return(nil, banner.ErrTransactionFailed).Once()
		activator.On("ActivateScheduled", mock.Anything, id.String()).
			Return(&BannerResponse{ID: id.String(), RunningNo: &rank}, nil).Once()

		err := newConsumerUnderTest(activator, timer, now).Handle(ctx, schedule.NewActivation(id, now))
		require.NoError(t, err)
		activator.AssertExpectations(t)
	})

	t.Run("ExhaustedRetriesRequeue", func(t *testing.T) {
		activator := new(MockActivator)
		timer := cache.NewMemoryActivationTimer().WithClock(func() time.Time { return now })
		activator.On("ActivateScheduled", mock.Anything, id.String()).Return(nil, banner.ErrTransactionFailed)

		err := newConsumerUnderTest(activator, timer, now).Handle(ctx, schedule.NewActivation(id, now))
		assert.ErrorIs(t, err, banner.ErrTransactionFailed)
		activator.AssertNumberOfCalls(t, "ActivateScheduled", 3)

		dueAt, ok := timer.DueAt(schedule.KeyFor(id))
		require.True(t, ok)
		assert.Equal(t, 30*time.Second, dueAt.Sub(now))

		claimed, err := timer.ClaimDue(ctx, now.Add(time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, 1, claimed[0].Attempt())
	})

	t.Run("RequeueKeepsNewerActivation", func(t *testing.T) {
		activator := new(MockActivator)
		timer := cache.NewMemoryActivationTimer().WithClock(func() time.Time { return now })
		activator.On("ActivateScheduled", mock.Anything, id.String()).Return(nil, banner.ErrTransactionFailed)

		// Rescheduled while the failing delivery was in flight
		require.NoError(t, timer.Enqueue(ctx, schedule.NewActivation(id, now.Add(time.Hour)), time.Hour))

		err := newConsumerUnderTest(activator, timer, now).Handle(ctx, schedule.NewActivation(id, now))
		assert.Error(t, err)

		dueAt, ok := timer.DueAt(schedule.KeyFor(id))
		require.True(t, ok)
		assert.Equal(t, time.Hour, dueAt.Sub(now))
	})

	t.Run("DroppedAfterMaxRequeues", func(t *testing.T) {
		activator := new(MockActivator)
		timer := cache.NewMemoryActivationTimer()
		activator.On("ActivateScheduled", mock.Anything, id.String()).Return(nil, banner.ErrTransactionFailed)

		err := newConsumerUnderTest(activator, timer, now).Handle(ctx, schedule.RestoreActivation(id, now, 2))
		assert.ErrorIs(t, err, banner.ErrTransactionFailed)
		assert.Empty(t, timer.Keys())
	})

	t.Run("RequeueFailure", func(t *testing.T) {
		activator := new(MockActivator)
		timer := cache.NewMemoryActivationTimer()
		timer.FailEnqueue(errors.New("redis down"))
		activator.On("ActivateScheduled", mock.Anything, id.String()).Return(nil, banner.ErrTransactionFailed)

		err := newConsumerUnderTest(activator, timer, now).Handle(ctx, schedule.NewActivation(id, now))
		assert.ErrorIs(t, err, banner.ErrTransactionFailed)
		assert.Contains(t, err.Error(), "redis down")
	})
}
