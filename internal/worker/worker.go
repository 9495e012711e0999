package worker

import (
	"context"
	"time"

	"payment-service/internal/broker"
	"payment-service/internal/models"
	"payment-service/internal/service"
	"payment-service/internal/util"

	"go.uber.org/zap"
)

// PluginEventWorker drops cached plugin resolutions when another instance
// changes a registration
type PluginEventWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	invalidator  service.PathInvalidator
	logger       *zap.Logger
}

// NewPluginEventWorker creates a new plugin event worker
func NewPluginEventWorker(consumer *broker.Consumer, invalidator service.PathInvalidator) *PluginEventWorker {
	w := &PluginEventWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		invalidator:  invalidator,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnPluginChanged(w.handlePluginChanged)
	return w
}

// Start starts the worker
func (w *PluginEventWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting plugin event worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *PluginEventWorker) Stop() error {
	w.logger.Info("Stopping plugin event worker")
	return w.consumer.Close()
}

func (w *PluginEventWorker) handlePluginChanged(ctx context.Context, event *models.PluginChangedEvent) error {
	w.logger.Info("Plugin changed, invalidating cached path",
		zap.String("plugin", event.Name),
		zap.String("action", event.Action))
	return w.invalidator.Invalidate(ctx, event.Name)
}

// RateRefresher is the part of the exchange service the worker drives
type RateRefresher interface {
	RefreshRates(ctx context.Context) (*service.RefreshResult, error)
}

const rateRefreshLockKey = "exchange_rates:refresh"

// RateRefreshWorker refreshes exchange rates on a fixed interval
type RateRefreshWorker struct {
	refresher RateRefresher
	locker    service.Locker
	interval  time.Duration
	logger    *zap.Logger
}

// NewRateRefreshWorker creates a new rate refresh worker. With a locker, only
// one instance refreshes per tick.
func NewRateRefreshWorker(refresher RateRefresher, locker service.Locker, interval time.Duration) *RateRefreshWorker {
	return &RateRefreshWorker{
		refresher: refresher,
		locker:    locker,
		interval:  interval,
		logger:    util.GetLogger(),
	}
}

// Start refreshes once, then on every tick until ctx is cancelled
func (w *RateRefreshWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting rate refresh worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.refresh(ctx)

		select {
		case <-ctx.Done():
			w.logger.Info("Stopping rate refresh worker")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *RateRefreshWorker) refresh(ctx context.Context) {
	if w.locker != nil {
		acquired, err := w.locker.AcquireLock(ctx, rateRefreshLockKey, w.interval/2)
		if err != nil {
			w.logger.Warn("Failed to acquire rate refresh lock", zap.Error(err))
			return
		}
		if !acquired {
			w.logger.Debug("Rate refresh running elsewhere, skipping")
			return
		}
		// the lock is left to expire so other instances skip this tick
	}

	res, err := w.refresher.RefreshRates(ctx)
	if err != nil {
		w.logger.Error("Rate refresh failed", zap.Error(err))
		return
	}
	for target, reason := range res.Failed {
		w.logger.Warn("Rate not refreshed", zap.String("target", target), zap.String("reason", reason))
	}
}
