package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/josh-kwaku/travel-booking-api/internal/domain"
)

// Maintainer is the housekeeping surface every Engine exposes.
type Maintainer interface {
	Kind() domain.OrderKind
	ExpireStale(ctx context.Context) (int, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Sweeper periodically expires stale pending orders and removes old failed
// ones. Correctness never depends on it; reads expire orders lazily.
type Sweeper struct {
	engines      []Maintainer
	logger       *slog.Logger
	interval     time.Duration
	cleanupAfter time.Duration
}

func NewSweeper(engines []Maintainer, logger *slog.Logger, interval, cleanupAfter time.Duration) *Sweeper {
	return &Sweeper{
		engines:      engines,
		logger:       logger,
		interval:     interval,
		cleanupAfter: cleanupAfter,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("order sweeper started", "interval", s.interval, "cleanup_after", s.cleanupAfter)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("order sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

func (s *Sweeper) Sweep(ctx context.Context) {
	for _, eng := range s.engines {
		expired, err := eng.ExpireStale(ctx)
		if err != nil {
			s.logger.Error("failed to expire pending orders", "kind", eng.Kind(), "error", err)
		} else if expired > 0 {
			s.logger.Info("expired pending orders", "kind", eng.Kind(), "count", expired)
		}

		if s.cleanupAfter <= 0 {
			continue
		}
		if _, err := eng.Cleanup(ctx, s.cleanupAfter); err != nil {
			s.logger.Error("failed to clean up orders", "kind", eng.Kind(), "error", err)
		}
	}
}
