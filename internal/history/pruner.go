package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

type pruneable interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Pruner deletes history older than the retention window on a cron schedule.
type Pruner struct {
	store     pruneable
	retention time.Duration
	schedule  string
	cron      *cron.Cron
	now       func() time.Time

	mu      sync.Mutex
	running bool
}

func NewPruner(store pruneable, retentionDays int, schedule string) *Pruner {
	return &Pruner{
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		schedule:  schedule,
		cron:      cron.New(),
		now:       time.Now,
	}
}

// Start schedules pruning. An empty schedule or a non-positive retention
// leaves the pruner idle.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.schedule == "" || p.retention <= 0 {
		slog.Info("history retention disabled")
		return nil
	}
	if _, err := cron.ParseStandard(p.schedule); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", p.schedule, err)
	}
	if _, err := p.cron.AddFunc(p.schedule, func() { p.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule history pruning: %w", err)
	}
	p.cron.Start()
	p.running = true
	slog.Info("history retention scheduled", "schedule", p.schedule, "retention", p.retention.String())
	return nil
}

// RunOnce prunes immediately and returns the number of deleted rows.
func (p *Pruner) RunOnce(ctx context.Context) int64 {
	cutoff := p.now().Add(-p.retention)
	deleted, err := p.store.Prune(ctx, cutoff)
	if err != nil {
		slog.Error("history pruning failed", "error", err)
		return 0
	}
	if deleted > 0 {
		slog.Info("history pruned", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted
}

// Stop waits for a running prune to finish.
func (p *Pruner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		<-p.cron.Stop().Done()
		p.running = false
	}
}
