package banner

import (
	"context"
)

// ListFilter narrows administrative listings. Zero values match everything.
type ListFilter struct {
	Category Category
	Status   Status
}

// Repository defines the interface for banner persistence
type Repository interface {
	// FindByID finds a banner by its ID
	FindByID(ctx context.Context, id ID) (*Banner, error)

	// List returns banners matching the filter, newest first
	List(ctx context.Context, filter ListFilter) ([]*Banner, error)

	// FindPublished returns the published banners of a category ordered by running number
	FindPublished(ctx context.Context, category Category) ([]*Banner, error)

	// WithinTx runs fn as one unit of work. Any error returned by fn rolls
	// back every mutation made through the Tx handle.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transaction handle passed to units of work
type Tx interface {
	// LockCategory serializes ranking changes within a category until the transaction ends
	LockCategory(ctx context.Context, category Category) error

	// FindByIDForUpdate loads a banner and locks its row
	FindByIDForUpdate(ctx context.Context, id ID) (*Banner, error)

	// CountPublished returns the number of published banners in a category
	CountPublished(ctx context.Context, category Category) (int, error)

	// RunningNumbers returns the running numbers held in a category, ascending
	RunningNumbers(ctx context.Context, category Category) ([]int, error)

	// Insert stores a new banner
	Insert(ctx context.Context, b *Banner) error

	// Update persists every mutable column of a banner
	Update(ctx context.Context, b *Banner) error

	// Delete removes a banner row
	Delete(ctx context.Context, id ID) error

	// DecrementRanksAbove shifts down by one every published running number in
	// the category greater than rank and returns the number of rows moved
	DecrementRanksAbove(ctx context.Context, category Category, rank int) (int64, error)
}
