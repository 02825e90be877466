package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/observability"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/storage"
)

// Sweeper marks pending offers whose window has passed as expired, so
// polling clients see the terminal state without anyone answering.
type Sweeper struct {
	Store    storage.Store
	Interval time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

func (s *Sweeper) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	n, err := s.Store.ExpireStale(ctx, now)
	if err != nil {
		return 0, err
	}
	observability.SweptExpired.Add(float64(n))
	return n, nil
}

// Run sweeps until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				s.logger().Error("expiry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger().Info("expired stale notifications", "count", n)
			}
		}
	}
}
