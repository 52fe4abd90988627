package reputation

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Worker periodically refreshes per-network score rows so a consumer
// reading a single network's view never sees a stale score for long.
type Worker struct {
	ledger   *Ledger
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewWorker creates a network score sync worker.
// interval is typically a few minutes in production, seconds in demo mode.
func NewWorker(ledger *Ledger, interval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		ledger:   ledger,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sync loop is actively running.
func (w *Worker) Running() bool {
	return w.running.Load()
}

// Start begins the sync loop. Call in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.running.Store(true)
	defer w.running.Store(false)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately on start
	w.resync(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.resync(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *Worker) Stop() {
	select {
	case w.stop <- struct{}{}:
	default:
	}
}

func (w *Worker) resync(ctx context.Context) {
	agents, err := w.ledger.networks.Agents(ctx)
	if err != nil {
		w.logger.Warn("network score resync failed to list agents", "error", err)
		return
	}

	var synced int
	for _, agentID := range agents {
		rows, err := w.ledger.NetworkScores(ctx, agentID)
		if err != nil || len(rows) == 0 {
			continue
		}
		networks := make([]string, 0, len(rows))
		for _, row := range rows {
			networks = append(networks, row.Network)
		}
		if _, err := w.ledger.SyncNetworks(ctx, agentID, networks); err != nil {
			w.logger.Warn("network score resync failed", "agent_id", agentID, "error", err)
			continue
		}
		synced++
	}

	if synced > 0 {
		w.logger.Info("network scores resynced", "agents", synced)
	}
}
