// Package billing wires the subscription billing core to its real
// backends: Postgres for the subscription store and event ledger,
// Redis for the status cache, Paddle for checkout, all configured from
// the environment.
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dapurlokal/backend/pkg/billing"
	"github.com/dapurlokal/backend/pkg/config"
	"github.com/dapurlokal/backend/pkg/logger"
	"github.com/dapurlokal/backend/pkg/pg"
	"github.com/dapurlokal/backend/pkg/redis"
)

// Config holds the service-level billing settings.
type Config struct {
	CacheTTL       time.Duration `env:"BILLING_CACHE_TTL" envDefault:"5m"`
	SweepInterval  time.Duration `env:"BILLING_SWEEP_INTERVAL" envDefault:"1m"`
	SweepBatchSize int           `env:"BILLING_SWEEP_BATCH_SIZE" envDefault:"100"`
}

// Module bundles the running billing core and its owned connections.
type Module struct {
	Service  billing.Service
	Sweeper  *billing.Sweeper
	Provider *billing.PaddleProvider

	close func()
}

// New assembles the billing module: loads configuration, connects to
// Postgres and Redis, applies migrations, and builds the reconciler
// and sweeper. The returned module owns both connections; call Close
// on shutdown.
func New(ctx context.Context, log *slog.Logger, opts ...billing.ServiceOption) (*Module, error) {
	var (
		cfg       Config
		logCfg    logger.Config
		pgCfg     pg.Config
		redisCfg  redis.Config
		paddleCfg billing.PaddleConfig
	)
	if err := config.Load(&cfg); err != nil {
		return nil, fmt.Errorf("load billing config: %w", err)
	}
	if log == nil {
		if err := config.Load(&logCfg); err != nil {
			return nil, fmt.Errorf("load logger config: %w", err)
		}
		log = logger.FromConfig(logCfg, logger.WithService("billing"))
	}
	if err := config.Load(&pgCfg); err != nil {
		return nil, fmt.Errorf("load postgres config: %w", err)
	}
	if err := config.Load(&redisCfg); err != nil {
		return nil, fmt.Errorf("load redis config: %w", err)
	}
	if err := config.Load(&paddleCfg); err != nil {
		return nil, fmt.Errorf("load paddle config: %w", err)
	}

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	redisClient, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	catalog := billing.NewCatalog()
	provider, err := billing.NewPaddleProvider(paddleCfg, catalog)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("create paddle provider: %w", err)
	}

	store := billing.NewPGStore(pool)
	svcOpts := append([]billing.ServiceOption{
		billing.WithCatalog(catalog),
		billing.WithCacheTTL(cfg.CacheTTL),
		billing.WithLogger(log),
	}, opts...)
	svc := billing.NewService(store, store, billing.NewRedisCache(redisClient), provider, svcOpts...)

	sweeper := billing.NewSweeper(svc,
		billing.WithSweepInterval(cfg.SweepInterval),
		billing.WithSweepBatchSize(cfg.SweepBatchSize),
		billing.WithSweeperLogger(log),
	)

	return &Module{
		Service:  svc,
		Sweeper:  sweeper,
		Provider: provider,
		close: func() {
			_ = redisClient.Close()
			pool.Close()
		},
	}, nil
}

// Run blocks, driving the expiry sweep until the context is cancelled.
func (m *Module) Run(ctx context.Context) error {
	return m.Sweeper.Run(ctx)
}

// Close releases the module's database and cache connections.
func (m *Module) Close() {
	if m.close != nil {
		m.close()
	}
}
