package revenue

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

const defaultDistributeInterval = 60 * time.Second

// Distributor periodically drains the revenue pool into a distribution
// round so accrued platform fees keep flowing to participation holders.
type Distributor struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewDistributor creates a new pool distribution timer.
func NewDistributor(service *Service, interval time.Duration, logger *slog.Logger) *Distributor {
	if interval <= 0 {
		interval = defaultDistributeInterval
	}
	return &Distributor{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}, 1),
	}
}

// Running reports whether the distribution loop is actively running.
func (d *Distributor) Running() bool {
	return d.running.Load()
}

// Start begins the distribution loop. Call in a goroutine.
func (d *Distributor) Start(ctx context.Context) {
	d.running.Store(true)
	defer d.running.Store(false)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-ticker.C:
			d.safeDistribute(ctx)
		}
	}
}

// Stop signals the distributor to stop.
func (d *Distributor) Stop() {
	select {
	case d.stop <- struct{}{}:
	default:
	}
}

func (d *Distributor) safeDistribute(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in revenue distributor", "panic", fmt.Sprint(r))
		}
	}()
	d.distribute(ctx)
}

func (d *Distributor) distribute(ctx context.Context) {
	dist, err := d.service.DistributePool(ctx)
	if err != nil {
		d.logger.Warn("failed to distribute pool revenue", "error", err)
		return
	}
	if dist == nil {
		return
	}
	d.logger.Info("distributed pool revenue",
		"periodId", dist.PeriodID,
		"total", dist.TotalRevenue,
		"holders", dist.HolderCount,
	)
}
