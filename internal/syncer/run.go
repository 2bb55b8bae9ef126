package syncer

import (
	"context"
	"errors"
	"time"
)

// Run drains the queue on every tick and whenever new work is flushed while
// offline or requeued, until ctx is cancelled. Entries a crash left in
// processing are recovered first.
//
// Run must be called from one goroutine. Ticks that find the remote
// unreachable, or a drain already running, are skipped.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) error {
	if _, err := c.Recover(ctx); err != nil {
		return err
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("sync loop started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("sync loop stopped")
			return nil
		case <-ticker.C:
		case <-c.kick:
		}

		if !c.conn.IsConnected() {
			c.logger.Debug("remote unreachable, skipping drain")
			continue
		}
		res, err := c.Trigger(ctx, TriggerOptions{AutoResolve: c.autoResolve})
		switch {
		case errors.Is(err, ErrSyncInProgress), errors.Is(err, ErrOffline):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("background drain failed", "error", err)
		case res.Processed > 0:
			c.logger.Debug("background drain", "processed", res.Processed, "succeeded", res.Succeeded)
		}
	}
}
