package snapshotter

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/adhocore/gronx"

	"nostrgraph/pkg/logger"
	"nostrgraph/pkg/store"
	"nostrgraph/pkg/telemetry"
)

// Start runs the periodic snapshot writer: one save after initialDelay, then
// one per cron tick. Returns a cancel func. An empty cron defaults to hourly.
func Start(ctx context.Context, st *store.Store, dir string, initialDelay time.Duration, cronExpr string) (context.CancelFunc, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		logger.Error("snapshot_dir_create_failed", "path", dir, "error", err)
		return nil, err
	}

	if cronExpr == "" {
		cronExpr = "0 * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("snapshot_invalid_cron", "cron", cronExpr)
		return nil, fmt.Errorf("invalid snapshot cron expression: %s", cronExpr)
	}

	logger.Info("snapshot_scheduler_started", "cron", cronExpr, "path", dir, "initial_delay", initialDelay.String())
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, st, dir, initialDelay, cronExpr)
	return cancel, nil
}

// SaveNow writes one snapshot and records the outcome.
func SaveNow(st *store.Store, dir string) error {
	err := st.Save(dir)
	if err != nil {
		telemetry.SnapshotSaves.WithLabelValues("error").Inc()
		logger.Error("snapshot_save_failed", "path", dir, "error", err)
		return err
	}
	telemetry.SnapshotSaves.WithLabelValues("ok").Inc()
	return nil
}

// runScheduler sleeps until the initial delay, then until each cron tick,
// writing a snapshot at every wakeup.
func runScheduler(ctx context.Context, st *store.Store, dir string, initialDelay time.Duration, cronExpr string) {
	if initialDelay > 0 {
		select {
		case <-time.After(initialDelay):
			_ = SaveNow(st, dir)
		case <-ctx.Done():
			logger.Info("snapshot_scheduler_stopping")
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("snapshot_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("snapshot_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				logger.Info("snapshot_scheduler_stopping")
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			_ = SaveNow(st, dir)
			// small sleep to avoid a tight loop on a tick boundary
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				logger.Info("snapshot_scheduler_stopping")
				return
			}
			continue
		}

		select {
		case <-time.After(wait):
			_ = SaveNow(st, dir)
		case <-ctx.Done():
			logger.Info("snapshot_scheduler_stopping")
			return
		}
	}
}
