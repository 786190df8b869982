package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/LavonTMCQ/mistermarketing/internal/metrics"
	"github.com/LavonTMCQ/mistermarketing/internal/ratelimit"
)

// Sweeper periodically drops ledger entries whose windows have all elapsed
type Sweeper struct {
	ledger   *ratelimit.Ledger
	interval time.Duration
}

// New creates a Sweeper for the ledger
func New(ledger *ratelimit.Ledger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Sweeper{
		ledger:   ledger,
		interval: interval,
	}
}

// Start runs the sweep loop and returns once ctx is cancelled
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("Starting ledger sweeper", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Ledger sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one eviction pass and returns the number of entries dropped
func (s *Sweeper) Sweep() int {
	evicted := s.ledger.Sweep()
	metrics.RecordLedger(s.ledger, evicted)

	users, guilds := s.ledger.Len()
	slog.Debug("Ledger swept", "evicted", evicted, "users", users, "guilds", guilds)
	return evicted
}
