package relay

import (
	"context"
	"log/slog"
	"time"
)

// TickRunner is one execution of the fetch→deliver→commit cycle.
type TickRunner interface {
	Tick(ctx context.Context) error
}

// Scheduler drives the pipeline on a fixed interval. Ticks run strictly
// sequentially and a failing tick never stops the loop; only context
// cancellation does.
type Scheduler struct {
	pipeline TickRunner
	interval time.Duration
}

func NewScheduler(p TickRunner, interval time.Duration) *Scheduler {
	return &Scheduler{pipeline: p, interval: interval}
}

// Run executes one tick immediately, then one per interval until ctx is
// cancelled. It blocks for the lifetime of the process.
func (s *Scheduler) Run(ctx context.Context) {
	s.runTick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopping", "reason", ctx.Err())
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := s.pipeline.Tick(ctx); err != nil {
		slog.Error("Tick aborted", "error", err, "duration", time.Since(start))
		return
	}
	slog.Debug("Tick finished", "duration", time.Since(start))
}
