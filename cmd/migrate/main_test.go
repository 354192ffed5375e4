package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMigrator struct {
	up       []*goose.MigrationResult
	down     *goose.MigrationResult
	statuses []*goose.MigrationStatus
	version  int64
	err      error
}

func (f *fakeMigrator) Up(context.Context) ([]*goose.MigrationResult, error) { return f.up, f.err }
func (f *fakeMigrator) Down(context.Context) (*goose.MigrationResult, error) { return f.down, f.err }
func (f *fakeMigrator) Status(context.Context) ([]*goose.MigrationStatus, error) {
	return f.statuses, f.err
}
func (f *fakeMigrator) GetDBVersion(context.Context) (int64, error) { return f.version, f.err }

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    command
		wantErr bool
	}{
		{"Up", []string{"up"}, command{name: "up"}, false},
		{"Status", []string{"status"}, command{name: "status"}, false},
		{"Create", []string{"create", "add_banner_priority"}, command{name: "create", arg: "add_banner_priority"}, false},
		{"Empty", nil, command{}, true},
		{"CreateWithoutName", []string{"create"}, command{}, true},
		{"ExtraArgument", []string{"up", "3"}, command{}, true},
		{"Removed", []string{"reset"}, command{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCommand(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	banners := &goose.Source{Path: "00001_create_banners.sql", Version: 1}
	staff := &goose.Source{Path: "00002_create_staff.sql", Version: 2}

	t.Run("Up", func(t *testing.T) {
		var out bytes.Buffer
		m := &fakeMigrator{up: []*goose.MigrationResult{
			{Source: banners, Duration: time.Millisecond},
			{Source: staff, Duration: time.Millisecond},
		}}
		require.NoError(t, run(ctx, m, "up", &out))
		assert.Contains(t, out.String(), "applied 00001_create_banners.sql")
		assert.Contains(t, out.String(), "applied 00002_create_staff.sql")
	})

	t.Run("UpToDate", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, run(ctx, &fakeMigrator{}, "up", &out))
		assert.Equal(t, "schema is up to date\n", out.String())
	})

	t.Run("Status", func(t *testing.T) {
		var out bytes.Buffer
		m := &fakeMigrator{statuses: []*goose.MigrationStatus{
			{Source: banners, State: goose.StateApplied, AppliedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
			{Source: staff, State: goose.StatePending},
		}}
		require.NoError(t, run(ctx, m, "status", &out))
		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		require.Len(t, lines, 2)
		assert.Equal(t, []string{"applied", "2026-03-01", "09:00:00", "00001_create_banners.sql"}, strings.Fields(lines[0]))
		assert.Equal(t, []string{"pending", "-", "00002_create_staff.sql"}, strings.Fields(lines[1]))
	})

	t.Run("Version", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, run(ctx, &fakeMigrator{version: 2}, "version", &out))
		assert.Equal(t, "schema version 2\n", out.String())
	})

	t.Run("Error", func(t *testing.T) {
		var out bytes.Buffer
		err := run(ctx, &fakeMigrator{err: errors.New("connection refused")}, "down", &out)
		assert.EqualError(t, err, "connection refused")
		assert.Empty(t, out.String())
	})
}
