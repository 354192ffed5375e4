package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/personal/banner-lifecycle/internal/domain/banner"
)

const jobKeyPrefix = "start_banner_"

// JobKey identifies the activation timer of a banner. It is a pure function
// of the banner id, so a banner can never have two outstanding activations.
type JobKey string

// KeyFor returns the activation job key of a banner
func KeyFor(id banner.ID) JobKey {
	return JobKey(jobKeyPrefix + id.String())
}

// BannerID extracts the banner id from a job key
func (k JobKey) BannerID() (banner.ID, error) {
	raw, ok := strings.CutPrefix(string(k), jobKeyPrefix)
	if !ok {
		return banner.ID{}, fmt.Errorf("unexpected job key %q", string(k))
	}
	return banner.ParseID(raw)
}

// Activation is a deferred publish of one banner
type Activation struct {
	key      JobKey
	bannerID banner.ID
	dueAt    time.Time
	attempt  int
}

// NewActivation creates an activation due at dueAt
func NewActivation(bannerID banner.ID, dueAt time.Time) *Activation {
	return &Activation{
		key:      KeyFor(bannerID),
		bannerID: bannerID,
		dueAt:    dueAt,
	}
}

// RestoreActivation rebuilds an activation read back from the timer store
func RestoreActivation(bannerID banner.ID, dueAt time.Time, attempt int) *Activation {
	a := NewActivation(bannerID, dueAt)
	a.attempt = attempt
	return a
}

// Getters
func (a *Activation) Key() JobKey         { return a.key }
func (a *Activation) BannerID() banner.ID { return a.bannerID }
func (a *Activation) DueAt() time.Time    { return a.dueAt }
func (a *Activation) Attempt() int        { return a.attempt }

// Retry returns a copy due again after delay with the attempt counter bumped
func (a *Activation) Retry(now time.Time, delay time.Duration) *Activation {
	return RestoreActivation(a.bannerID, now.Add(delay), a.attempt+1)
}

// DelayUntil returns max(at - now, 0)
func DelayUntil(at, now time.Time) time.Duration {
	d := at.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Timer is the producer side of the delayed-job facility
type Timer interface {
	// Enqueue registers the activation to fire after delay, replacing any
	// outstanding activation with the same key
	Enqueue(ctx context.Context, activation *Activation, delay time.Duration) error

	// Requeue registers a retry of a delivered activation unless a newer
	// activation with the same key was enqueued in the meantime
	Requeue(ctx context.Context, activation *Activation, delay time.Duration) error

	// Cancel drops the outstanding activation. Cancelling a key that already
	// fired or never existed succeeds.
	Cancel(ctx context.Context, key JobKey) error
}

// Source is the consumer side of the delayed-job facility
type Source interface {
	// ClaimDue atomically removes and returns up to limit activations due at or before now
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Activation, error)

	// Pending returns the number of outstanding activations
	Pending(ctx context.Context) (int64, error)
}
