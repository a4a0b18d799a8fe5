// Package worker runs background loops over the knowledge base.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperengineering/paramlore/internal/knowledge"
	"github.com/hyperengineering/paramlore/internal/snapshot"
)

// SnapshotSource loads the persisted knowledge base. knowledge.Persister
// implementations satisfy it.
type SnapshotSource interface {
	Load(ctx context.Context) (*knowledge.Snapshot, error)
}

// PublishWorker periodically publishes the persisted knowledge base so
// other machines can seed from it. It reads the persisted snapshot rather
// than an in-memory base, so it picks up flushes from other processes.
type PublishWorker struct {
	source   SnapshotSource
	uploader snapshot.Uploader
	name     string
	interval time.Duration

	mu            sync.Mutex
	lastPublished time.Time
}

// NewPublishWorker creates a worker publishing source under name.
func NewPublishWorker(source SnapshotSource, uploader snapshot.Uploader, name string, interval time.Duration) *PublishWorker {
	return &PublishWorker{
		source:   source,
		uploader: uploader,
		name:     name,
		interval: interval,
	}
}

// Run publishes immediately on start, then on each interval. Failures are
// logged and retried on the next tick. Returns when ctx is cancelled.
func (w *PublishWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "kb-publish",
		"action", "worker_started",
		"interval", w.interval,
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "kb-publish",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.cycle(ctx)
		}
	}
}

func (w *PublishWorker) cycle(ctx context.Context) {
	if _, err := w.PublishOnce(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("knowledge base publish failed",
			"component", "worker",
			"worker", "kb-publish",
			"action", "publish_failed",
			"name", w.name,
			"error", err,
		)
	}
}

// PublishOnce uploads the persisted snapshot unless it is unchanged since
// the last successful publish. It reports whether an upload happened.
func (w *PublishWorker) PublishOnce(ctx context.Context) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap, err := w.source.Load(ctx)
	if errors.Is(err, knowledge.ErrNoSnapshot) {
		slog.Debug("nothing to publish",
			"component", "worker",
			"worker", "kb-publish",
			"action", "publish_skipped",
			"reason", "no_snapshot",
		)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load knowledge snapshot: %w", err)
	}

	if !snap.UpdatedAt.IsZero() && snap.UpdatedAt.Equal(w.lastPublished) {
		slog.Debug("knowledge base unchanged",
			"component", "worker",
			"worker", "kb-publish",
			"action", "publish_skipped",
			"reason", "unchanged",
		)
		return false, nil
	}

	if err := snapshot.Publish(ctx, w.uploader, w.name, snap); err != nil {
		return false, err
	}
	w.lastPublished = snap.UpdatedAt

	slog.Info("knowledge base published",
		"component", "worker",
		"worker", "kb-publish",
		"action", "published",
		"name", w.name,
		"updated_at", snap.UpdatedAt,
		"formats", len(snap.FormatByParamName),
	)
	return true, nil
}
