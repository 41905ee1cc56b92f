package client

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/openmined/gdmirror/internal/record"
	"github.com/openmined/gdmirror/internal/remote"
	"github.com/openmined/gdmirror/internal/sync"
	"github.com/openmined/gdmirror/internal/utils"
)

const DefaultPollInterval = time.Minute

// Watch syncs once, then again after every burst of local changes and every
// poll interval for remote changes. It returns when ctx is done or a run
// fails fatally.
func (c *Client) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if err := c.runOnce(ctx, false); err != nil {
		return err
	}

	watcher := NewFileWatcher(c.config.LocalRoot)
	watcher.FilterPaths(c.ignoredPath)
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-watcher.Changes():
			slog.Debug("local changes detected")
		case <-ticker.C:
			utils.Trace("poll interval")
		}
		if err := c.runOnce(ctx, false); err != nil {
			return err
		}
	}
}

// runOnce syncs once. Only record store and authentication failures are
// returned; anything else is logged and retried on the next trigger.
func (c *Client) runOnce(ctx context.Context, full bool) error {
	report, err := c.Sync(ctx, full)
	switch {
	case err == nil:
		if n := report.Total(report.Failed); n > 0 {
			slog.Warn("sync finished with failures", "failed", n)
		}
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, sync.ErrSyncAlreadyRunning):
		slog.Debug("sync already running")
		return nil
	case errors.Is(err, sync.ErrRecordStore), errors.Is(err, record.ErrNotConnected), errors.Is(err, remote.ErrAuthFailed):
		return err
	}
	slog.Error("sync failed", "error", err)
	return nil
}

// ignoredPath filters watcher events for paths the engine would drop anyway.
func (c *Client) ignoredPath(p string) bool {
	rel, ok := utils.RelTo(c.store.LocalRoot(), filepath.ToSlash(p))
	if !ok {
		return true
	}
	return c.ignore.ShouldIgnore(rel)
}
