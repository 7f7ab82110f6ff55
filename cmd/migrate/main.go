package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"homedash/internal/state"
	"homedash/internal/storage"
	"homedash/migrations"
)

const usage = `Usage: migrate [-db path] <command> [args]

Schema commands:
  up              Migrate to the latest version
  up-one          Migrate one version up
  down            Roll back one version
  status          Show migration status
  version         Show current version
  reset           Roll back all migrations

State commands:
  prune <days>    Drop read and dismissed ids older than <days>
  forget <gmail|trello>
                  Remove a stored credential`

func main() {
	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/dashboard.db"), "path to sqlite database")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	var err error
	switch args[0] {
	case "prune", "forget":
		err = runState(ctx, *dbPath, args)
	default:
		err = runSchema(ctx, *dbPath, args[0])
	}
	if err != nil {
		log.Fatalf("%s: %v", args[0], err)
	}
}

func runSchema(ctx context.Context, dbPath, cmd string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	p, err := migrations.NewProvider(db)
	if err != nil {
		return err
	}

	switch cmd {
	case "up":
		results, err := p.Up(ctx)
		printResults(results...)
		return err
	case "up-one":
		res, err := p.UpByOne(ctx)
		printResults(res)
		return err
	case "down":
		res, err := p.Down(ctx)
		printResults(res)
		return err
	case "reset":
		results, err := p.DownTo(ctx, 0)
		printResults(results...)
		return err
	case "status":
		statuses, err := p.Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			applied := "pending"
			if s.State == goose.StateApplied {
				applied = s.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Printf("%5d  %-25s  %s\n", s.Source.Version, applied, s.Source.Path)
		}
		return nil
	case "version":
		v, err := p.GetDBVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printResults(results ...*goose.MigrationResult) {
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		fmt.Printf("%-4s %5d  %s (%s)\n", r.Direction, r.Source.Version, r.Source.Path, r.Duration.Round(time.Millisecond))
	}
}

func runState(ctx context.Context, dbPath string, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: %s <arg>", args[0])
	}

	store, err := storage.NewSQLite(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	st := state.New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	switch args[0] {
	case "prune":
		days, err := strconv.Atoi(args[1])
		if err != nil || days < 1 {
			return fmt.Errorf("days must be a positive integer, got %q", args[1])
		}
		n, err := st.Prune(ctx, time.Now().Add(-time.Duration(days)*24*time.Hour))
		if err != nil {
			return err
		}
		fmt.Printf("pruned %d id(s)\n", n)
	case "forget":
		switch args[1] {
		case "gmail":
			err = st.ClearGmailToken(ctx)
		case "trello":
			err = st.ClearTrelloToken(ctx)
		default:
			return fmt.Errorf("unknown credential %q, use: gmail, trello", args[1])
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s credential removed\n", args[1])
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
