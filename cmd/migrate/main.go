// Command migrate applies the Postgres schema used when DATABASE_URL is set.
//
// Usage:
//
//	migrate up              # apply all pending migrations
//	migrate down            # roll back the last migration
//	migrate up-to <ver>     # apply up to and including ver
//	migrate down-to <ver>   # roll back to ver
//	migrate status          # list migrations and when they were applied
//	migrate version         # print the current schema version
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/mbd888/tiptap/internal/config"
	"github.com/mbd888/tiptap/internal/logging"
	"github.com/mbd888/tiptap/migrations"
)

const usage = "usage: migrate up | down | up-to <version> | down-to <version> | status | version"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	provider, err := migrations.NewProvider(db)
	if err != nil {
		logger.Error("failed to load migrations", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, provider, os.Stdout, os.Args[1], os.Args[2:]); err != nil {
		logger.Error("migration failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, p *goose.Provider, out io.Writer, command string, args []string) error {
	switch command {
	case "up":
		results, err := p.Up(ctx)
		report(out, results...)
		return err
	case "down":
		result, err := p.Down(ctx)
		if result != nil {
			report(out, result)
		}
		return err
	case "up-to", "down-to":
		version, err := versionArg(args)
		if err != nil {
			return err
		}
		var results []*goose.MigrationResult
		if command == "up-to" {
			results, err = p.UpTo(ctx, version)
		} else {
			results, err = p.DownTo(ctx, version)
		}
		report(out, results...)
		return err
	case "status":
		statuses, err := p.Status(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED\tFILE")
		for _, s := range statuses {
			applied := "-"
			if !s.AppliedAt.IsZero() {
				applied = s.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Source.Version, s.State, applied, s.Source.Path)
		}
		return w.Flush()
	case "version":
		v, err := p.GetDBVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, v)
		return nil
	default:
		return errors.New(usage)
	}
}

func versionArg(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, errors.New(usage)
	}
	v, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid version %q", args[0])
	}
	return v, nil
}

func report(out io.Writer, results ...*goose.MigrationResult) {
	if len(results) == 0 {
		fmt.Fprintln(out, "no migrations to run")
		return
	}
	for _, r := range results {
		fmt.Fprintf(out, "%-4s %s (%s)\n", r.Direction, r.Source.Path, r.Duration.Round(time.Millisecond))
	}
}
