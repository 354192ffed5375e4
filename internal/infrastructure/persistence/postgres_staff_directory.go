package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/personal/banner-lifecycle/internal/domain/staff"
	"github.com/personal/banner-lifecycle/pkg/monitoring"
)

// PostgresStaffDirectory implements staff.Directory using PostgreSQL
type PostgresStaffDirectory struct {
	db *sql.DB
}

// NewPostgresStaffDirectory creates a new PostgresStaffDirectory
func NewPostgresStaffDirectory(db *sql.DB) *PostgresStaffDirectory {
	return &PostgresStaffDirectory{db: db}
}

// FindByID returns an active staff member
func (d *PostgresStaffDirectory) FindByID(ctx context.Context, id staff.ID) (s *staff.Staff, err error) {
	start := time.Now()
	defer func() {
		monitoring.RecordDatabaseQuery("select", "staff", time.Since(start), err)
	}()

	var (
		name  string
		email string
	)
	err = d.db.QueryRowContext(ctx,
		`SELECT name, email FROM staff WHERE staff_id = $1 AND active`,
		id.String(),
	).Scan(&name, &email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, staff.ErrStaffNotFound
		}
		return nil, fmt.Errorf("failed to find staff: %w", err)
	}

	return &staff.Staff{ID: id, Name: name, Email: email, Active: true}, nil
}
