package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personal/banner-lifecycle/internal/domain/banner"
)

func newDraft(t *testing.T, category banner.Category) *banner.Banner {
	t.Helper()
	b, err := banner.NewFactory().CreateBanner(banner.NewBannerParams{
		Name:     "Summer sale",
		Category: category,
	})
	require.NoError(t, err)
	return b
}

// seedPublished inserts n published banners ranked 1..n and returns them by rank
func seedPublished(t *testing.T, repo banner.Repository, category banner.Category, n int) []*banner.Banner {
	t.Helper()
	ctx := context.Background()

	out := make([]*banner.Banner, 0, n)
	err := repo.WithinTx(ctx, func(tx banner.Tx) error {
		for i := 1; i <= n; i++ {
			b := newDraft(t, category)
			if _, err := b.Apply(banner.EventPublish, i, nil); err != nil {
				return err
			}
			if err := tx.Insert(ctx, b); err != nil {
				return err
			}
			out = append(out, b)
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func ranksOf(bs []*banner.Banner) []int {
	out := make([]int, 0, len(bs))
	for _, b := range bs {
		out = append(out, b.Rank())
	}
	return out
}

func TestMemoryBannerRepository_FindByID(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBannerRepository()

	_, err := repo.FindByID(ctx, banner.NewID())
	assert.ErrorIs(t, err, banner.ErrBannerNotFound)

	b := newDraft(t, banner.CategoryPrimaryHero)
	require.NoError(t, repo.WithinTx(ctx, func(tx banner.Tx) error {
		return tx.Insert(ctx, b)
	}))

	got, err := repo.FindByID(ctx, b.ID())
	require.NoError(t, err)
	assert.Equal(t, b.Name(), got.Name())

	// Returned entities are copies
	require.NoError(t, got.UpdateDetails("changed", "", ""))
	again, err := repo.FindByID(ctx, b.ID())
	require.NoError(t, err)
	assert.Equal(t, "Summer sale", again.Name())
}

func TestMemoryBannerRepository_FindPublishedOrdersByRank(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBannerRepository()

	seedPublished(t, repo, banner.CategoryPrimaryHero, 3)
	seedPublished(t, repo, banner.CategorySubAdvertising, 1)

	got, err := repo.FindPublished(ctx, banner.CategoryPrimaryHero)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, ranksOf(got))

	all, err := repo.List(ctx, banner.ListFilter{Status: banner.StatusPublished})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	sub, err := repo.List(ctx, banner.ListFilter{Category: banner.CategorySubAdvertising})
	require.NoError(t, err)
	assert.Len(t, sub, 1)
}

func TestMemoryBannerRepository_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBannerRepository()
	seeded := seedPublished(t, repo, banner.CategoryPrimaryHero, 2)

	boom := errors.New("boom")
	err := repo.WithinTx(ctx, func(tx banner.Tx) error {
		if err := tx.Delete(ctx, seeded[0].ID()); err != nil {
			return err
		}
		if _, err := tx.DecrementRanksAbove(ctx, banner.CategoryPrimaryHero, 1); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.FindPublished(ctx, banner.CategoryPrimaryHero)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, ranksOf(got))
}

func TestMemoryBannerRepository_DecrementRanksAbove(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBannerRepository()
	seeded := seedPublished(t, repo, banner.CategoryPrimaryHero, 4)
	other := seedPublished(t, repo, banner.CategorySecondaryHero, 3)

	var shifted int64
	err := repo.WithinTx(ctx, func(tx banner.Tx) error {
		b, err := tx.FindByIDForUpdate(ctx, seeded[1].ID())
		if err != nil {
			return err
		}
		if _, err := b.Apply(banner.EventUnpublish, 0, nil); err != nil {
			return err
		}
		if err := tx.Update(ctx, b); err != nil {
			return err
		}
		shifted, err = tx.DecrementRanksAbove(ctx, banner.CategoryPrimaryHero, 2)
		return err
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, shifted)

	got, err := repo.FindPublished(ctx, banner.CategoryPrimaryHero)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, ranksOf(got))
	assert.Equal(t, seeded[2].ID(), got[1].ID())
	assert.Equal(t, seeded[3].ID(), got[2].ID())

	untouched, err := repo.FindPublished(ctx, banner.CategorySecondaryHero)
	require.NoError(t, err)
	assert.Equal(t, ranksOf(other), ranksOf(untouched))
}

func TestMemoryBannerRepository_FailureInjection(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBannerRepository()
	seeded := seedPublished(t, repo, banner.CategoryPrimaryHero, 2)

	repo.FailOn(OpDecrement, errors.New("connection reset"))
	err := repo.WithinTx(ctx, func(tx banner.Tx) error {
		if err := tx.Delete(ctx, seeded[0].ID()); err != nil {
			return err
		}
		_, err := tx.DecrementRanksAbove(ctx, banner.CategoryPrimaryHero, 1)
		return err
	})
	assert.ErrorIs(t, err, banner.ErrTransactionFailed)
	assert.Len(t, repo.Snapshot(), 2)

	repo.FailOn(OpDecrement, nil)
	repo.FailOn(OpCommit, errors.New("commit lost"))
	err = repo.WithinTx(ctx, func(tx banner.Tx) error {
		return tx.Delete(ctx, seeded[0].ID())
	})
	assert.ErrorIs(t, err, banner.ErrTransactionFailed)
	assert.Len(t, repo.Snapshot(), 2)
}

func TestMemoryBannerRepository_RunningNumbers(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBannerRepository()
	seedPublished(t, repo, banner.CategoryPrimaryHero, 3)

	err := repo.WithinTx(ctx, func(tx banner.Tx) error {
		ranks, err := tx.RunningNumbers(ctx, banner.CategoryPrimaryHero)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, ranks)

		count, err := tx.CountPublished(ctx, banner.CategoryPrimaryHero)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
		return nil
	})
	require.NoError(t, err)
}
