package staff

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrStaffNotFound = errors.New("staff not found")

// ID is a value object representing staff identifier
type ID struct {
	value string
}

// ParseID parses string to ID
func ParseID(id string) (ID, error) {
	if _, err := uuid.Parse(id); err != nil {
		return ID{}, err
	}
	return ID{value: id}, nil
}

// String returns string representation
func (id ID) String() string {
	return id.value
}

// Staff is a back-office user allowed to curate banner ordering
type Staff struct {
	ID     ID
	Name   string
	Email  string
	Active bool
}

// Directory looks up staff members
type Directory interface {
	// FindByID returns ErrStaffNotFound for unknown or inactive staff
	FindByID(ctx context.Context, id ID) (*Staff, error)
}
