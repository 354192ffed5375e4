package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/personal/banner-lifecycle/internal/domain/schedule"
)

type pendingActivation struct {
	activation *schedule.Activation
	dueAt      time.Time
}

// MemoryActivationTimer is an in-process schedule.Timer and schedule.Source
type MemoryActivationTimer struct {
	pending    map[schedule.JobKey]pendingActivation
	now        func() time.Time
	enqueueErr error
	cancelErr  error
	mu         sync.Mutex
}

// NewMemoryActivationTimer creates an empty timer
func NewMemoryActivationTimer() *MemoryActivationTimer {
	return &MemoryActivationTimer{
		pending: make(map[schedule.JobKey]pendingActivation),
		now:     time.Now,
	}
}

// WithClock replaces the clock used to turn delays into due times
func (m *MemoryActivationTimer) WithClock(now func() time.Time) *MemoryActivationTimer {
	m.now = now
	return m
}

// FailEnqueue makes later Enqueue calls return err, nil clears it
func (m *MemoryActivationTimer) FailEnqueue(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueueErr = err
}

// FailCancel makes later Cancel calls return err, nil clears it
func (m *MemoryActivationTimer) FailCancel(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelErr = err
}

func (m *MemoryActivationTimer) Enqueue(ctx context.Context, activation *schedule.Activation, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	if delay < 0 {
		delay = 0
	}
	m.pending[activation.Key()] = pendingActivation{
		activation: activation,
		dueAt:      m.now().Add(delay),
	}
	return nil
}

func (m *MemoryActivationTimer) Requeue(ctx context.Context, activation *schedule.Activation, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	if _, exists := m.pending[activation.Key()]; exists {
		return nil
	}
	if delay < 0 {
		delay = 0
	}
	m.pending[activation.Key()] = pendingActivation{
		activation: activation,
		dueAt:      m.now().Add(delay),
	}
	return nil
}

func (m *MemoryActivationTimer) Cancel(ctx context.Context, key schedule.JobKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancelErr != nil {
		return m.cancelErr
	}
	delete(m.pending, key)
	return nil
}

func (m *MemoryActivationTimer) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*schedule.Activation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []pendingActivation
	for _, p := range m.pending {
		if !p.dueAt.After(now) {
			due = append(due, p)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].dueAt.Before(due[j].dueAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]*schedule.Activation, 0, len(due))
	for _, p := range due {
		delete(m.pending, p.activation.Key())
		out = append(out, schedule.RestoreActivation(p.activation.BannerID(), p.dueAt, p.activation.Attempt()))
	}
	return out, nil
}

func (m *MemoryActivationTimer) Pending(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.pending)), nil
}

// DueAt returns when the activation under key will fire
func (m *MemoryActivationTimer) DueAt(key schedule.JobKey) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[key]
	return p.dueAt, ok
}

// Keys lists the outstanding job keys
func (m *MemoryActivationTimer) Keys() []schedule.JobKey {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]schedule.JobKey, 0, len(m.pending))
	for k := range m.pending {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
