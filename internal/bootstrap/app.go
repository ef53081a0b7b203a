// Package bootstrap builds the reconciliation service from configuration. It
// is shared by recond and the local mode of reconctl.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/example/recon-engine/internal/config"
	"github.com/example/recon-engine/internal/ledger"
	"github.com/example/recon-engine/internal/matching"
	"github.com/example/recon-engine/internal/reconcile"
	"github.com/example/recon-engine/internal/rules"
	"github.com/example/recon-engine/internal/security"
	"github.com/example/recon-engine/internal/session"
	"github.com/example/recon-engine/internal/storage"
	"github.com/example/recon-engine/pkg/audit"
)

// App owns every long-lived resource of a running process.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   *storage.Store
	Rules   *rules.Service
	Manager *session.Manager
	Service *reconcile.Service
	Audit   *audit.ChainLogger
	Redis   *redis.Client

	closers []func() error
}

// New opens the store, the ledger and the optional Redis client and wires
// the facade. The returned App must be closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger}
	ready := false
	defer func() {
		if !ready {
			_ = app.Close()
		}
	}()

	dialect, err := storage.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, dialect, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	app.Store = store
	app.closers = append(app.closers, store.Close)

	if cfg.Database.AutoMigrate {
		if err := store.Migrate(); err != nil {
			return nil, err
		}
		logger.Info("migrations applied", "driver", cfg.Database.Driver)
	}

	var adapter ledger.Adapter = store
	if cfg.Ledger.Source == config.LedgerSourcePostgres {
		pool, err := pgxpool.New(ctx, cfg.Ledger.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create ledger pool: %w", err)
		}
		pl := ledger.NewPostgresLedger(pool)
		app.closers = append(app.closers, func() error { pl.Close(); return nil })
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to reach ledger database: %w", err)
		}
		adapter = pl
	}

	var leaser session.Leaser = store.Leaser()
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		app.Redis = client
		app.closers = append(app.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		leaser = &storage.RedisLeaser{Redis: client, Prefix: cfg.Redis.Prefix}
	}

	sink, closeSink, err := openAuditSink(cfg.Audit.Sink)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, closeSink)
	app.Audit = audit.NewChainLogger(sink)

	scorer, err := matching.NewScorer(cfg.Matching.Params)
	if err != nil {
		return nil, err
	}
	defaults, err := cfg.RuleDefaults()
	if err != nil {
		return nil, err
	}

	app.Rules = rules.NewService(store, defaults, logger)
	app.Manager = session.NewManager(session.Deps{
		Store:      store,
		Statements: store,
		Ledger:     adapter,
		Programs:   app.Rules,
		Scorer:     scorer,
		Leaser:     leaser,
		Auditor:    app.Audit,
	}, cfg.Session, logger)
	app.Service = reconcile.NewService(store, app.Rules, app.Manager, app.Audit, logger)

	logger.Info("reconciliation service ready",
		"env", cfg.Environment,
		"driver", cfg.Database.Driver,
		"ledger", cfg.Ledger.Source,
		"redis", cfg.Redis.Addr != "",
	)
	ready = true
	return app, nil
}

// RateLimiter returns the HTTP token bucket, or nil when rate limiting is
// off.
func (a *App) RateLimiter() *security.RedisTokenBucket {
	rl := a.Config.HTTP.RateLimit
	if a.Redis == nil || rl.Capacity <= 0 {
		return nil
	}
	return &security.RedisTokenBucket{
		Redis:      a.Redis,
		Prefix:     a.Config.Redis.Prefix,
		Capacity:   rl.Capacity,
		RefillRate: rl.RefillPerSec,
	}
}

// TLSConfig returns the listener TLS settings.
func (a *App) TLSConfig() security.TLSConfig {
	t := a.Config.TLS
	return security.TLSConfig{
		CertFile:          t.CertFile,
		KeyFile:           t.KeyFile,
		CAFile:            t.CAFile,
		RequireClientAuth: t.RequireClientAuth,
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openAuditSink(path string) (io.Writer, func() error, error) {
	switch path {
	case "":
		return nil, func() error { return nil }, nil
	case "stdout":
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open audit sink: %w", err)
	}
	return f, f.Close, nil
}
