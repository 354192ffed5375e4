package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/personal/banner-lifecycle/internal/domain/banner"
)

// Operations on which a failure can be injected into MemoryBannerRepository
const (
	OpInsert    = "insert"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpDecrement = "decrement"
	OpCommit    = "commit"
)

// MemoryBannerRepository is an in-memory implementation for testing and local runs.
// Transactions work on a copy of the table that replaces it on commit.
type MemoryBannerRepository struct {
	banners  map[string]*banner.Banner
	failures map[string]error
	mu       sync.RWMutex
}

// NewMemoryBannerRepository creates a new in-memory banner repository
func NewMemoryBannerRepository() *MemoryBannerRepository {
	return &MemoryBannerRepository{
		banners:  make(map[string]*banner.Banner),
		failures: make(map[string]error),
	}
}

// FailOn makes every later call of op fail with err. A nil err clears it.
func (r *MemoryBannerRepository) FailOn(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, op)
		return
	}
	r.failures[op] = err
}

// FindByID retrieves a banner by ID
func (r *MemoryBannerRepository) FindByID(ctx context.Context, id banner.ID) (*banner.Banner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, exists := r.banners[id.String()]
	if !exists {
		return nil, banner.ErrBannerNotFound
	}
	return b.Clone(), nil
}

// List retrieves banners matching the filter, newest first
func (r *MemoryBannerRepository) List(ctx context.Context, filter banner.ListFilter) ([]*banner.Banner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*banner.Banner
	for _, b := range r.banners {
		if filter.Category != "" && b.Category() != filter.Category {
			continue
		}
		if filter.Status != "" && b.Status() != filter.Status {
			continue
		}
		result = append(result, b.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt().After(result[j].CreatedAt())
	})
	return result, nil
}

// FindPublished retrieves the published banners of a category by running number
func (r *MemoryBannerRepository) FindPublished(ctx context.Context, category banner.Category) ([]*banner.Banner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := publishedIn(r.banners, category)
	for i, b := range result {
		result[i] = b.Clone()
	}
	return result, nil
}

// WithinTx runs fn against a working copy. Transactions are serialized.
func (r *MemoryBannerRepository) WithinTx(ctx context.Context, fn func(tx banner.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	work := make(map[string]*banner.Banner, len(r.banners))
	for k, b := range r.banners {
		work[k] = b.Clone()
	}

	if err := fn(&memoryTx{banners: work, failures: r.failures}); err != nil {
		return err
	}

	if err := r.failures[OpCommit]; err != nil {
		return fmt.Errorf("%w: commit: %v", banner.ErrTransactionFailed, err)
	}

	r.banners = work
	return nil
}

func publishedIn(banners map[string]*banner.Banner, category banner.Category) []*banner.Banner {
	var result []*banner.Banner
	for _, b := range banners {
		if b.Category() == category && b.Status() == banner.StatusPublished {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Rank() < result[j].Rank()
	})
	return result
}

// memoryTx mutates the working copy owned by one WithinTx call
type memoryTx struct {
	banners  map[string]*banner.Banner
	failures map[string]error
}

func (t *memoryTx) fail(op string) error {
	if err := t.failures[op]; err != nil {
		return fmt.Errorf("failed to %s banner: %w", op, err)
	}
	return nil
}

// LockCategory is a no-op, WithinTx already holds the table lock
func (t *memoryTx) LockCategory(ctx context.Context, category banner.Category) error {
	return nil
}

func (t *memoryTx) FindByIDForUpdate(ctx context.Context, id banner.ID) (*banner.Banner, error) {
	b, exists := t.banners[id.String()]
	if !exists {
		return nil, banner.ErrBannerNotFound
	}
	return b.Clone(), nil
}

func (t *memoryTx) CountPublished(ctx context.Context, category banner.Category) (int, error) {
	return len(publishedIn(t.banners, category)), nil
}

func (t *memoryTx) RunningNumbers(ctx context.Context, category banner.Category) ([]int, error) {
	var ranks []int
	for _, b := range t.banners {
		if b.Category() == category && b.RunningNo() != nil {
			ranks = append(ranks, b.Rank())
		}
	}
	sort.Ints(ranks)
	return ranks, nil
}

func (t *memoryTx) Insert(ctx context.Context, b *banner.Banner) error {
	if err := t.fail(OpInsert); err != nil {
		return err
	}
	if _, exists := t.banners[b.ID().String()]; exists {
		return fmt.Errorf("banner %s already exists", b.ID())
	}
	t.banners[b.ID().String()] = b.Clone()
	return nil
}

func (t *memoryTx) Update(ctx context.Context, b *banner.Banner) error {
	if err := t.fail(OpUpdate); err != nil {
		return err
	}
	if _, exists := t.banners[b.ID().String()]; !exists {
		return banner.ErrBannerNotFound
	}
	t.banners[b.ID().String()] = b.Clone()
	return nil
}

func (t *memoryTx) Delete(ctx context.Context, id banner.ID) error {
	if err := t.fail(OpDelete); err != nil {
		return err
	}
	if _, exists := t.banners[id.String()]; !exists {
		return banner.ErrBannerNotFound
	}
	delete(t.banners, id.String())
	return nil
}

func (t *memoryTx) DecrementRanksAbove(ctx context.Context, category banner.Category, rank int) (int64, error) {
	if err := t.failures[OpDecrement]; err != nil {
		return 0, fmt.Errorf("%w: close ranking gap: %v", banner.ErrTransactionFailed, err)
	}

	var shifted int64
	for _, b := range publishedIn(t.banners, category) {
		if b.Rank() <= rank {
			continue
		}
		if err := b.AssignRunningNo(b.Rank() - 1); err != nil {
			return shifted, err
		}
		shifted++
	}
	return shifted, nil
}

// Snapshot returns a consistent copy of every stored banner, used by tests
// to check ranking invariants between operations.
func (r *MemoryBannerRepository) Snapshot() []*banner.Banner {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*banner.Banner, 0, len(r.banners))
	for _, b := range r.banners {
		result = append(result, b.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt().Equal(result[j].CreatedAt()) {
			return result[i].ID().String() < result[j].ID().String()
		}
		return result[i].CreatedAt().Before(result[j].CreatedAt())
	})
	return result
}
