package persistence

import (
	"context"
	"sync"

	"github.com/personal/banner-lifecycle/internal/domain/staff"
)

// MemoryStaffDirectory is an in-memory staff.Directory
type MemoryStaffDirectory struct {
	members map[string]staff.Staff
	mu      sync.RWMutex
}

// NewMemoryStaffDirectory creates a directory holding the given members
func NewMemoryStaffDirectory(members ...staff.Staff) *MemoryStaffDirectory {
	d := &MemoryStaffDirectory{members: make(map[string]staff.Staff)}
	for _, m := range members {
		d.Add(m)
	}
	return d
}

// Add registers or replaces a member
func (d *MemoryStaffDirectory) Add(m staff.Staff) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[m.ID.String()] = m
}

// FindByID returns an active staff member
func (d *MemoryStaffDirectory) FindByID(ctx context.Context, id staff.ID) (*staff.Staff, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	m, ok := d.members[id.String()]
	if !ok || !m.Active {
		return nil, staff.ErrStaffNotFound
	}
	return &m, nil
}
