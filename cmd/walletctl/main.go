// Command walletctl freezes or unfreezes a user's wallet. A frozen wallet rejects credits
// and debits until it is unfrozen.
//
//	walletctl -user <id> -freeze
//	walletctl -user <id> -unfreeze
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"callwallet/internal/config"
	"callwallet/internal/wallet"
	"callwallet/pkg/logger"
	"callwallet/pkg/utils"

	"github.com/fatih/color"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type walletAdmin interface {
	GetWallet(ctx context.Context, userID string) (wallet.Wallet, error)
	SetActive(ctx context.Context, userID string, active bool) error
}

func main() {
	userID := flag.String("user", "", "user id owning the wallet")
	freeze := flag.Bool("freeze", false, "freeze the wallet")
	unfreeze := flag.Bool("unfreeze", false, "unfreeze the wallet")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *userID, *freeze, *unfreeze, os.Stdout); err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "walletctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, userID string, freeze, unfreeze bool, out io.Writer) error {
	if freeze == unfreeze {
		return errors.New("exactly one of -freeze or -unfreeze is required")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Storage.Driver != config.StorageDriverPostgres {
		return fmt.Errorf("STORAGE_DRIVER=%s keeps no wallets between processes", cfg.Storage.Driver)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 2})
	if err != nil {
		return err
	}
	defer db.Close()

	svc := wallet.NewService(wallet.NewPostgresStore(db), cfg.Billing.Currency, log)
	return setActive(ctx, svc, userID, unfreeze, out)
}

func setActive(ctx context.Context, svc walletAdmin, userID string, active bool, out io.Writer) error {
	if err := svc.SetActive(ctx, userID, active); err != nil {
		return err
	}
	w, err := svc.GetWallet(ctx, userID)
	if err != nil {
		return err
	}
	state := color.New(color.FgYellow).Sprint("frozen")
	if w.IsActive {
		state = color.New(color.FgGreen).Sprint("active")
	}
	fmt.Fprintf(out, "  %s  %s  %s\n", w.UserID, w.ID, state)
	return nil
}
