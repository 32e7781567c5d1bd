package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"storefront-chat/internal/core/ports"
)

// WatchdogConfig drives the housekeeping loop
type WatchdogConfig struct {
	// Schedule is a cron expression evaluated once per minute (default every 10 minutes)
	Schedule string

	// DiskPath is the filesystem checked for PurgeDiskThreshold
	DiskPath string

	// PurgeDiskThreshold in percent; above it old chat history is purged too
	PurgeDiskThreshold float64

	// HistoryRetention keeps chat history this long when the disk is full
	HistoryRetention time.Duration

	PurgeChunk int
}

// WatchdogReport is the outcome of one housekeeping pass
type WatchdogReport struct {
	PendingPurged int64   `json:"pending_purged"`
	HistoryPurged int64   `json:"history_purged"`
	DiskUsed      float64 `json:"disk_used_percent"`
}

// Watchdog is the auto-purge background service (self-healing storage)
type Watchdog struct {
	batcher *Batcher
	history ports.ChatHistoryRepository
	disk    ports.DiskProbe
	cron    *gronx.Gronx
	cfg     WatchdogConfig
	now     func() time.Time
}

// NewWatchdog validates the schedule and creates the service
func NewWatchdog(batcher *Batcher, history ports.ChatHistoryRepository, disk ports.DiskProbe, cfg WatchdogConfig) (*Watchdog, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "*/10 * * * *"
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	if cfg.PurgeChunk <= 0 {
		cfg.PurgeChunk = 1000
	}
	g := gronx.New()
	if !g.IsValid(cfg.Schedule) {
		return nil, fmt.Errorf("invalid watchdog schedule %q", cfg.Schedule)
	}
	return &Watchdog{
		batcher: batcher,
		history: history,
		disk:    disk,
		cron:    g,
		cfg:     cfg,
		now:     time.Now,
	}, nil
}

// Run ticks every minute and runs a pass whenever the schedule is due.
// Blocks until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	slog.Info("Watchdog started", "schedule", w.cfg.Schedule)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Watchdog stopped")
			return
		case <-ticker.C:
			due, err := w.cron.IsDue(w.cfg.Schedule, w.now().Truncate(time.Minute))
			if err != nil || !due {
				continue
			}
			w.safeRun(ctx)
		}
	}
}

func (w *Watchdog) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in watchdog", "panic", r)
		}
	}()
	if _, err := w.RunOnce(ctx); err != nil {
		slog.Error("Watchdog pass failed", "error", err)
	}
}

// RunOnce purges processed pending messages and, when disk usage is above
// the threshold, chat history older than HistoryRetention
func (w *Watchdog) RunOnce(ctx context.Context) (WatchdogReport, error) {
	var report WatchdogReport

	// Step 1: Pending queue garbage collection (always)
	n, err := w.batcher.Purge(ctx)
	report.PendingPurged = n
	if err != nil {
		return report, err
	}

	// Step 2: Disk pressure check
	if w.disk == nil || w.cfg.PurgeDiskThreshold <= 0 {
		return report, nil
	}
	used, err := w.disk.UsedPercent(ctx, w.cfg.DiskPath)
	if err != nil {
		slog.Warn("Disk usage check failed", "error", err, "path", w.cfg.DiskPath)
		return report, nil
	}
	report.DiskUsed = used
	if used < w.cfg.PurgeDiskThreshold {
		slog.Debug("Disk usage OK, no history purge needed", "used_percent", used)
		return report, nil
	}

	// Step 3: History purge in bounded chunks
	slog.Warn("Disk usage above threshold, purging old chat history",
		"used_percent", used,
		"threshold", w.cfg.PurgeDiskThreshold,
	)
	cutoff := w.now().Add(-w.cfg.HistoryRetention)
	for {
		n, err := w.history.PurgeOlderThan(ctx, cutoff, w.cfg.PurgeChunk)
		report.HistoryPurged += n
		if err != nil {
			return report, fmt.Errorf("purge history: %w", err)
		}
		if n < int64(w.cfg.PurgeChunk) || ctx.Err() != nil {
			break
		}
	}
	slog.Info("Purged old chat history", "count", report.HistoryPurged, "cutoff", cutoff)
	return report, nil
}
