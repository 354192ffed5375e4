package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"github.com/personal/banner-lifecycle/internal/domain/banner"
	"github.com/personal/banner-lifecycle/internal/domain/schedule"
	"github.com/personal/banner-lifecycle/pkg/logger"
	"github.com/personal/banner-lifecycle/pkg/monitoring"
)

// Activator performs the publish transition of a fired activation
type Activator interface {
	ActivateScheduled(ctx context.Context, rawID string) (*BannerResponse, error)
}

// ActivationConsumerConfig controls retry behaviour of the consumer
type ActivationConsumerConfig struct {
	RetryAttempts      uint
	RetryDelay         time.Duration
	MaxRequeueAttempts int
	InitialInterval    time.Duration
	Now                func() time.Time
}

// ActivationConsumer handles activations delivered by the timer. Stale
// activations are dropped; transient failures are retried in place and
// then handed back to the timer.
type ActivationConsumer struct {
	activator Activator
	timer     schedule.Timer
	cfg       ActivationConsumerConfig
	log       *logrus.Entry
}

// NewActivationConsumer creates a new ActivationConsumer
func NewActivationConsumer(activator Activator, timer schedule.Timer, log *logger.Logger, cfg ActivationConsumerConfig) *ActivationConsumer {
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ActivationConsumer{
		activator: activator,
		timer:     timer,
		cfg:       cfg,
		log:       log.Component("activation-consumer"),
	}
}

// isStale reports whether the banner can no longer be activated
func isStale(err error) bool {
	return errors.Is(err, banner.ErrBannerNotFound) || errors.Is(err, banner.ErrInvalidTransition)
}

// Handle activates the banner behind a. It returns nil when the activation
// was applied or safely dropped.
func (c *ActivationConsumer) Handle(ctx context.Context, a *schedule.Activation) error {
	entry := c.log.WithFields(logger.Fields{
		"bannerId": a.BannerID().String(),
		"jobKey":   a.Key(),
		"attempt":  a.Attempt(),
	})
	monitoring.RecordActivationLag(c.cfg.Now().Sub(a.DueAt()))

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.cfg.InitialInterval

	operation := func() (*BannerResponse, error) {
		resp, err := c.activator.ActivateScheduled(ctx, a.BannerID().String())
		if err != nil && isStale(err) {
			return nil, backoff.Permanent(err)
		}
		return resp, err
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(c.cfg.RetryAttempts),
	)
	switch {
	case err == nil:
		monitoring.RecordActivation("fire", "success")
		entry.WithField("runningNo", resp.RunningNo).Info("Scheduled banner published")
		return nil

	case isStale(err):
		monitoring.RecordActivation("fire", "skipped")
		entry.WithError(err).Info("Skipping stale activation")
		return nil
	}

	if a.Attempt() >= c.cfg.MaxRequeueAttempts {
		monitoring.RecordActivation("fire", "dropped")
		entry.WithError(err).Error("Activation failed too many times, dropping")
		return fmt.Errorf("activation %s dropped: %w", a.Key(), err)
	}

	retry := a.Retry(c.cfg.Now(), c.cfg.RetryDelay)
	requeueErr := c.timer.Requeue(ctx, retry, c.cfg.RetryDelay)
	monitoring.RecordActivation("requeue", resultLabel(requeueErr))
	if requeueErr != nil {
		entry.WithError(requeueErr).Error("Failed to requeue activation")
		return fmt.Errorf("activation %s lost: %w", a.Key(), errors.Join(err, requeueErr))
	}

	entry.WithError(err).WithField("retryIn", c.cfg.RetryDelay.String()).Warn("Activation failed, requeued")
	return fmt.Errorf("activation %s requeued: %w", a.Key(), err)
}
