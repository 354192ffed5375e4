package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/personal/banner-lifecycle/internal/domain/banner"
	"github.com/personal/banner-lifecycle/pkg/monitoring"
)

// RankingMaintainer keeps the running numbers of every category dense.
// All methods run inside a transaction opened by the caller, which must hold
// the category lock before reading or moving ranks.
type RankingMaintainer struct{}

// NewRankingMaintainer creates a new RankingMaintainer
func NewRankingMaintainer() *RankingMaintainer {
	return &RankingMaintainer{}
}

// Lock takes the ranking locks of the given categories in a fixed order
func (m *RankingMaintainer) Lock(ctx context.Context, tx banner.Tx, categories ...banner.Category) error {
	seen := make(map[banner.Category]bool, len(categories))
	ordered := make([]banner.Category, 0, len(categories))
	for _, c := range categories {
		if !seen[c] {
			seen[c] = true
			ordered = append(ordered, c)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	for _, c := range ordered {
		if err := tx.LockCategory(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// NextRank returns the rank appended to the end of the category
func (m *RankingMaintainer) NextRank(ctx context.Context, tx banner.Tx, category banner.Category) (int, error) {
	count, err := tx.CountPublished(ctx, category)
	if err != nil {
		return 0, fmt.Errorf("failed to count published banners: %w", err)
	}
	return count + 1, nil
}

// CloseGap shifts every rank above vacatedRank down by one
func (m *RankingMaintainer) CloseGap(ctx context.Context, tx banner.Tx, category banner.Category, vacatedRank int) (int64, error) {
	shifted, err := tx.DecrementRanksAbove(ctx, category, vacatedRank)
	if err != nil {
		return 0, err
	}
	monitoring.RecordGapClosure(string(category), shifted)
	return shifted, nil
}

// Verify checks that the category holds exactly the ranks 1..N
func (m *RankingMaintainer) Verify(ctx context.Context, tx banner.Tx, category banner.Category) error {
	ranks, err := tx.RunningNumbers(ctx, category)
	if err != nil {
		return fmt.Errorf("failed to read running numbers: %w", err)
	}
	for i, r := range ranks {
		if r != i+1 {
			return fmt.Errorf("%w: %s has %v", banner.ErrRankingViolation, category, ranks)
		}
	}
	return nil
}
