package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mattjoyce/runnerd/internal/events"
	"github.com/mattjoyce/runnerd/internal/journal"
)

// Maintenance marks runners orphaned by a previous process as abandoned and
// periodically prunes old journal entries.
type Maintenance struct {
	journal   JournalService
	clock     clockwork.Clock
	interval  time.Duration
	retention time.Duration
	events    *events.Hub
	logger    *slog.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewMaintenance creates a maintenance loop. A zero retention disables pruning.
func NewMaintenance(j JournalService, c clockwork.Clock, interval, retention time.Duration, hub *events.Hub, logger *slog.Logger) *Maintenance {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if hub == nil {
		hub = events.NewHub(128)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintenance{
		journal:   j,
		clock:     c,
		interval:  interval,
		retention: retention,
		events:    hub,
		logger:    logger.With("component", "maintenance"),
		stopCh:    make(chan struct{}),
	}
}

// Start performs orphan recovery and begins the prune loop.
func (m *Maintenance) Start(ctx context.Context) error {
	m.logger.Info("Starting maintenance")

	if err := m.abandonOrphans(ctx); err != nil {
		return fmt.Errorf("orphan recovery failed: %w", err)
	}

	m.wg.Add(1)
	go m.tickLoop(ctx)

	return nil
}

// Stop gracefully stops the loop.
func (m *Maintenance) Stop() {
	m.stopOnce.Do(func() {
		m.logger.Info("Stopping maintenance")
		close(m.stopCh)
	})
	m.wg.Wait()
}

func (m *Maintenance) tickLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	// Initial pass immediately
	m.tick(ctx)

	for {
		select {
		case <-ticker.Chan():
			m.tick(ctx)
		case <-m.stopCh:
			return
		case <-ctx.Done():
			m.logger.Warn("Maintenance context cancelled, stopping tick loop")
			return
		}
	}
}

func (m *Maintenance) tick(ctx context.Context) {
	if m.retention <= 0 {
		return
	}
	n, err := m.journal.Prune(ctx, m.retention)
	if err != nil {
		m.logger.Error("Failed to prune runner journal", "error", err)
		return
	}
	if n > 0 {
		m.logger.Info("Pruned runner journal", "removed", n, "retention", m.retention.String())
		m.events.Publish(events.JournalPruned, map[string]any{"removed": n})
	}
}

// abandonOrphans marks journal entries still "running" from a previous
// process. Runners are never resumed across restarts.
func (m *Maintenance) abandonOrphans(ctx context.Context) error {
	entries, err := m.journal.FindByStatus(ctx, journal.StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to find running entries: %w", err)
	}
	if len(entries) == 0 {
		m.logger.Info("No orphaned runners found")
		return nil
	}

	m.logger.Warn("Found orphaned runners from a previous process", "count", len(entries))
	for _, e := range entries {
		if err := m.journal.MarkAbandoned(ctx, e.ID, "dispatcher restarted"); err != nil {
			m.logger.Error("Failed to mark runner abandoned", "runner_id", e.ID, "error", err)
			continue
		}
		m.events.PublishRunner(events.RunnerAbandoned, e.ID, map[string]any{
			"definition": e.Definition,
		})
	}
	return nil
}
