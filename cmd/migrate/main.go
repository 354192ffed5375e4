package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pressly/goose/v3"

	"github.com/personal/banner-lifecycle/internal/infrastructure/persistence"
	"github.com/personal/banner-lifecycle/migrations"
	"github.com/personal/banner-lifecycle/pkg/config"
	mylogger "github.com/personal/banner-lifecycle/pkg/logger"
)

const usage = `Usage: migrate [-v] <command> [name]

Applies the banner schema embedded in this binary. DATABASE_URL overrides
the database section of the configuration.

Commands:
  up             apply pending migrations
  down           roll back the latest migration
  status         list migrations and whether they are applied
  version        print the current schema version
  create <name>  write a new SQL migration into ./migrations
`

// migrator is the part of goose.Provider the commands need
type migrator interface {
	Up(ctx context.Context) ([]*goose.MigrationResult, error)
	Down(ctx context.Context) (*goose.MigrationResult, error)
	Status(ctx context.Context) ([]*goose.MigrationStatus, error)
	GetDBVersion(ctx context.Context) (int64, error)
}

type command struct {
	name string
	arg  string
}

func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return command{}, errors.New("missing command")
	}

	cmd := command{name: args[0]}
	switch cmd.name {
	case "up", "down", "status", "version":
		if len(args) > 1 {
			return command{}, fmt.Errorf("%s takes no arguments", cmd.name)
		}
	case "create":
		if len(args) != 2 || args[1] == "" {
			return command{}, errors.New("create requires a migration name")
		}
		cmd.arg = args[1]
	default:
		return command{}, fmt.Errorf("unknown command %q", cmd.name)
	}
	return cmd, nil
}

func main() {
	verbose := flag.Bool("v", false, "Log every migration as it runs")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}
	flag.Parse()

	cmd, err := parseCommand(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		flag.Usage()
		os.Exit(2)
	}

	// New files go to the source tree, not the embedded copy
	if cmd.name == "create" {
		goose.SetSequential(true)
		if err := goose.Create(nil, "migrations", cmd.arg, "sql"); err != nil {
			log.Fatalf("Failed to create migration: %v", err)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := mylogger.New(cfg.LogLevel, cfg.Environment).Component("migrate")

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = cfg.Database.DSN()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := persistence.OpenPostgres(ctx, dsn, persistence.ConnectionPoolConfig{MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS, goose.WithVerbose(*verbose))
	if err != nil {
		logger.WithError(err).Fatal("Failed to load migrations")
	}

	if err := run(ctx, provider, cmd.name, os.Stdout); err != nil {
		logger.WithError(err).WithField("command", cmd.name).Fatal("Migration failed")
	}
}

func run(ctx context.Context, m migrator, name string, out io.Writer) error {
	switch name {
	case "up":
		results, err := m.Up(ctx)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Fprintln(out, "schema is up to date")
		}
		for _, r := range results {
			fmt.Fprintf(out, "applied %s (%s)\n", filepath.Base(r.Source.Path), r.Duration)
		}

	case "down":
		r, err := m.Down(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "rolled back %s (%s)\n", filepath.Base(r.Source.Path), r.Duration)

	case "status":
		statuses, err := m.Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			applied := "-"
			if s.State == goose.StateApplied {
				applied = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(out, "%-8s %-20s %s\n", s.State, applied, filepath.Base(s.Source.Path))
		}

	case "version":
		version, err := m.GetDBVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "schema version %d\n", version)

	default:
		return fmt.Errorf("unknown command %q", name)
	}
	return nil
}
