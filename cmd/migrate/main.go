// Command migrate applies or reports the callwallet Postgres schema.
//
//	migrate          apply pending migrations
//	migrate -status  list migrations and whether they are applied
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callwallet/internal/config"
	"callwallet/internal/storage"
	"callwallet/pkg/logger"
	"callwallet/pkg/utils"

	"github.com/fatih/color"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	statusOnly := flag.Bool("status", false, "print migration status and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *statusOnly, os.Stdout); err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, statusOnly bool, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Storage.Driver != config.StorageDriverPostgres {
		return fmt.Errorf("STORAGE_DRIVER=%s has no schema to migrate", cfg.Storage.Driver)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 2})
	if err != nil {
		return err
	}
	defer db.Close()

	if !statusOnly {
		if err := storage.Migrate(ctx, db, log); err != nil {
			return err
		}
	}

	st, err := storage.Status(ctx, db)
	if err != nil {
		return err
	}
	printStatus(out, st)
	return nil
}

func printStatus(out io.Writer, st []storage.MigrationStatus) {
	applied := color.New(color.FgGreen)
	pending := color.New(color.FgYellow)
	for _, s := range st {
		if s.AppliedAt != nil {
			applied.Fprintf(out, "  applied  %s  %-28s %s\n", s.Version, s.Name, s.AppliedAt.Format(time.RFC3339))
			continue
		}
		pending.Fprintf(out, "  pending  %s  %s\n", s.Version, s.Name)
	}
}
