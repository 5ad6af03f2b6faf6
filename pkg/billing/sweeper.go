package billing

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically demotes lapsed, non-renewing subscriptions to
// expired. Nothing in the command or event paths performs this
// demotion synchronously; the sweep is the time-based trigger. It runs
// each demotion through the reconciler, so multiple replicas sweeping
// concurrently are absorbed by the ledger and the store's
// compare-and-swap.
type Sweeper struct {
	svc       Service
	interval  time.Duration
	batchSize int
	log       *slog.Logger
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets how often the sweep runs. Default is 1 minute.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSweepBatchSize caps how many subscriptions one pass demotes.
// Default is 100.
func WithSweepBatchSize(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithSweeperLogger sets the logger.
func WithSweeperLogger(log *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if log != nil {
			s.log = log
		}
	}
}

// NewSweeper creates a sweeper over the given reconciler.
func NewSweeper(svc Service, opts ...SweeperOption) *Sweeper {
	if svc == nil {
		panic("billing: Service is required")
	}
	s := &Sweeper{
		svc:       svc,
		interval:  time.Minute,
		batchSize: 100,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks, sweeping on every tick until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	expired, err := s.svc.ExpireLapsed(ctx, time.Now().UTC(), s.batchSize)
	if err != nil {
		s.log.ErrorContext(ctx, "expiry sweep failed", slog.Any("error", err))
		return
	}
	if expired > 0 {
		s.log.InfoContext(ctx, "expiry sweep demoted lapsed subscriptions",
			slog.Int("count", expired))
	}
}
