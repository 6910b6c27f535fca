package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"callwallet/internal/audit"
	"callwallet/internal/calls"
	"callwallet/internal/config"
	"callwallet/internal/httpapi"
	"callwallet/internal/payments"
	"callwallet/internal/payments/gateway"
	"callwallet/internal/pricing"
	"callwallet/internal/reporting"
	"callwallet/internal/storage"
	"callwallet/internal/wallet"
	"callwallet/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

type application struct {
	handlers httpapi.Handlers
	closers  []func() error
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

type stores struct {
	wallets  wallet.Store
	calls    calls.Store
	payments payments.Store
	audit    audit.Repository
}

// build constructs the service graph for the configured storage driver.
func build(ctx context.Context, cfg config.Config, log *slog.Logger) (*application, error) {
	app := &application{}

	var st stores
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		log.Warn("using in-memory storage; data is lost on restart")
		st = stores{
			wallets:  wallet.NewMemoryStore(),
			calls:    calls.NewMemoryStore(),
			payments: payments.NewMemoryStore(),
			audit:    audit.NewMemoryRepo(),
		}
	default:
		db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		app.closers = append(app.closers, db.Close)
		if err := storage.Migrate(ctx, db, log); err != nil {
			app.close()
			return nil, err
		}
		st = postgresStores(db)
	}

	var guard calls.ActiveCallGuard
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			app.close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		app.closers = append(app.closers, rdb.Close)
		guard = redisGuard(rdb, cfg)
	}

	auditSvc := audit.NewService(st.audit)
	wallets := wallet.NewService(st.wallets, cfg.Billing.Currency, log.With("component", "wallet"))
	rates := pricing.NewService(pricing.NewStaticRates(cfg.Billing.Currency, cfg.Billing.VoiceRateMinor, cfg.Billing.VideoRateMinor))

	callSvc := calls.NewService(calls.Deps{
		Store:  st.calls,
		Ledger: wallets,
		Rates:  rates,
		Audit:  auditSvc,
		Guard:  guard,
		Log:    log.With("component", "calls"),
	}, calls.Options{
		MinBalanceMinor: cfg.Billing.MinBalanceMinor,
		SingleActive:    cfg.Calls.SingleActive,
	})

	paySvc := payments.NewService(payments.Deps{
		Store:   st.payments,
		Ledger:  wallets,
		Gateway: mockGateway(cfg.Gateway),
		Audit:   auditSvc,
		Log:     log.With("component", "payments"),
	}, payments.Options{
		Currency:       cfg.Billing.Currency,
		MinAmountMinor: cfg.Billing.MinTopUpMinor,
	})

	app.handlers = httpapi.Handlers{
		Wallet:    wallets,
		Calls:     callSvc,
		Payments:  paySvc,
		Reporting: reporting.NewService(reporting.ServiceRepo{Calls: callSvc, Wallets: wallets, Payments: paySvc}),
	}
	return app, nil
}

func postgresStores(db *sql.DB) stores {
	return stores{
		wallets:  wallet.NewPostgresStore(db),
		calls:    calls.NewPostgresStore(db),
		payments: payments.NewPostgresStore(db),
		audit:    audit.NewPostgresRepo(db),
	}
}

// redisGuard returns nil unless single-active enforcement is on.
func redisGuard(rdb *redis.Client, cfg config.Config) calls.ActiveCallGuard {
	if !cfg.Calls.SingleActive {
		return nil
	}
	return calls.NewRedisGuard(rdb, cfg.Calls.ActiveSlotTTL)
}

func mockGateway(cfg config.GatewayConfig) *gateway.MockGateway {
	g := gateway.NewMockGateway()
	if cfg.InitiateDelay > 0 {
		g.InitiateDelay = cfg.InitiateDelay
	}
	if cfg.VerifyDelay > 0 {
		g.VerifyDelay = cfg.VerifyDelay
	}
	g.SuccessRate = cfg.SuccessRate
	return g
}
