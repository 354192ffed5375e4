package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/personal/banner-lifecycle/internal/domain/asset"
	"github.com/personal/banner-lifecycle/internal/domain/banner"
	"github.com/personal/banner-lifecycle/internal/domain/staff"
	"github.com/personal/banner-lifecycle/internal/infrastructure/cache"
	"github.com/personal/banner-lifecycle/internal/infrastructure/persistence"
	"github.com/personal/banner-lifecycle/pkg/logger"
)

// fakeStorage keeps uploaded files in memory
type fakeStorage struct {
	mu         sync.Mutex
	files      map[string]string
	uploadErr  error
	removeErr  error
	removeLogs []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{files: make(map[string]string)}
}

func (f *fakeStorage) Upload(ctx context.Context, file *asset.File, prefix string) (*asset.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, fmt.Errorf("%w: %v", asset.ErrUploadFailed, f.uploadErr)
	}
	body, err := io.ReadAll(file.Content)
	if err != nil {
		return nil, err
	}
	name := uuid.NewString() + ".png"
	f.files[prefix+"/"+name] = string(body)
	return &asset.Location{Filename: name, Prefix: prefix, URL: f.URL(name, prefix)}, nil
}

func (f *fakeStorage) Remove(ctx context.Context, filename, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeLogs = append(f.removeLogs, prefix+"/"+filename)
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.files, prefix+"/"+filename)
	return nil
}

func (f *fakeStorage) URL(filename, prefix string) string {
	return "https://cdn.test/" + prefix + "/" + filename
}

func (f *fakeStorage) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files)
}

func (f *fakeStorage) has(filename, prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[prefix+"/"+filename]
	return ok
}

// testClock is a settable clock shared by the service and the timer
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	svc     *BannerService
	repo    *persistence.MemoryBannerRepository
	timer   *cache.MemoryActivationTimer
	storage *fakeStorage
	staff   *persistence.MemoryStaffDirectory
	cache   *cache.PublishedCache
	clock   *testClock
	staffID string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, true)
}

func newTestEnvWithConfig(t *testing.T, validateReorder bool) *testEnv {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	repo := persistence.NewMemoryBannerRepository()
	timer := cache.NewMemoryActivationTimer().WithClock(clock.Now)
	storage := newFakeStorage()
	published := cache.NewPublishedCache(nil, &cache.PublishedCacheConfig{
		L1TTL:      time.Hour,
		L1MaxItems: 16,
		EnableL1:   true,
	})

	staffID := uuid.NewString()
	id, err := staff.ParseID(staffID)
	require.NoError(t, err)
	directory := persistence.NewMemoryStaffDirectory(staff.Staff{
		ID: id, Name: "Curator", Email: "curator@example.com", Active: true,
	})

	svc := NewBannerService(repo, timer, storage, directory, published, logger.Discard(), BannerServiceConfig{
		ValidateManualReorder: validateReorder,
		Now:                   clock.Now,
	})

	return &testEnv{
		svc:     svc,
		repo:    repo,
		timer:   timer,
		storage: storage,
		staff:   directory,
		cache:   published,
		clock:   clock,
		staffID: staffID,
	}
}

func image(name string) *asset.File {
	return &asset.File{Name: name, ContentType: "image/png", Content: strings.NewReader("img:" + name)}
}

func (e *testEnv) create(t *testing.T, category banner.Category, status banner.Status, scheduleAt *time.Time) *BannerResponse {
	t.Helper()
	req := &CreateBannerRequest{
		Name:       "Banner " + uuid.NewString()[:8],
		ClientName: "Acme",
		URL:        "https://example.com/promo",
		Category:   string(category),
		Status:     string(status),
		ScheduleAt: scheduleAt,
	}
	if status != banner.StatusDraft {
		req.DesktopImage = image("desktop.png")
		req.MobileImage = image("mobile.png")
	}
	resp, err := e.svc.CreateBanner(context.Background(), req)
	require.NoError(t, err)
	return resp
}

// publishN creates n published banners in category, returned in rank order
func (e *testEnv) publishN(t *testing.T, category banner.Category, n int) []*BannerResponse {
	t.Helper()
	out := make([]*BannerResponse, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, e.create(t, category, banner.StatusPublished, nil))
	}
	return out
}

func (e *testEnv) get(t *testing.T, id string) *BannerResponse {
	t.Helper()
	resp, err := e.svc.GetBanner(context.Background(), id)
	require.NoError(t, err)
	return resp
}

// rankedIDs returns the ids of the published banners of category in rank order
func (e *testEnv) rankedIDs(t *testing.T, category banner.Category) []string {
	t.Helper()
	published, err := e.repo.FindPublished(context.Background(), category)
	require.NoError(t, err)
	ids := make([]string, 0, len(published))
	for _, b := range published {
		ids = append(ids, b.ID().String())
	}
	return ids
}

// requireInvariants checks ranking density and the status/field pairing of every stored banner
func (e *testEnv) requireInvariants(t *testing.T) {
	t.Helper()

	ranks := make(map[banner.Category][]int)
	for _, b := range e.repo.Snapshot() {
		if b.Status() == banner.StatusPublished {
			require.NotNil(t, b.RunningNo(), "published banner %s has no running number", b.ID())
			ranks[b.Category()] = append(ranks[b.Category()], b.Rank())
		} else {
			require.Nil(t, b.RunningNo(), "%s banner %s holds a running number", b.Status(), b.ID())
		}
		if b.Status() != banner.StatusScheduled {
			require.Nil(t, b.ScheduleAt(), "%s banner %s holds a schedule time", b.Status(), b.ID())
		}
	}

	for category, got := range ranks {
		seen := make(map[int]bool, len(got))
		for _, r := range got {
			require.False(t, seen[r], "duplicate rank %d in %s", r, category)
			require.True(t, r >= 1 && r <= len(got), "rank %d out of range in %s (%v)", r, category, got)
			seen[r] = true
		}
	}
}

func ranksOf(resps []*BannerResponse) []int {
	out := make([]int, 0, len(resps))
	for _, r := range resps {
		if r.RunningNo == nil {
			out = append(out, 0)
			continue
		}
		out = append(out, *r.RunningNo)
	}
	return out
}
