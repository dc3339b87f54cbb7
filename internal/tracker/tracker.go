// Package tracker feeds push events and fetched snapshots into the job and
// health views and hands out immutable snapshots of them.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kiranshivaraju/vodwatch/internal/metrics"
	"github.com/kiranshivaraju/vodwatch/internal/realtime"
	"github.com/kiranshivaraju/vodwatch/internal/realtime/transport"
	"github.com/kiranshivaraju/vodwatch/internal/view"
	"github.com/kiranshivaraju/vodwatch/pkg/models"
)

// SnapshotSource fetches the authoritative state used for resync.
type SnapshotSource interface {
	FetchJobStatus(ctx context.Context) (*models.JobStatus, error)
	FetchHealth(ctx context.Context) (*models.HealthResponse, error)
}

// Subscriber binds handlers to named push events.
type Subscriber interface {
	RegisterHandler(event string, h transport.Handler) (func(), error)
}

type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Tracker owns the two views. All mutations go through its mutex, so push
// handlers and resyncs may run concurrently.
type Tracker struct {
	source  SnapshotSource
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	job    *view.JobProgress
	health *view.HealthAggregate

	bindMu  sync.Mutex
	removes []func()

	// Background resyncs: at most one runs, and triggers that arrive while
	// it runs collapse into a single follow-up pass.
	resyncMu      sync.Mutex
	resyncRunning bool
	resyncPending bool
	resyncs       sync.WaitGroup
}

func New(source SnapshotSource, opts Options) *Tracker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		source:  source,
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// Bind registers a handler for every routed event. On failure nothing stays
// registered.
func (t *Tracker) Bind(sub Subscriber) error {
	t.bindMu.Lock()
	defer t.bindMu.Unlock()

	var removes []func()
	for _, r := range t.routes() {
		remove, err := sub.RegisterHandler(r.event, t.handle(r))
		if err != nil {
			for _, rm := range removes {
				rm()
			}
			return fmt.Errorf("register %s handler: %w", r.event, err)
		}
		removes = append(removes, remove)
	}
	t.removes = append(t.removes, removes...)
	return nil
}

// Unbind removes every handler registered by Bind.
func (t *Tracker) Unbind() {
	t.bindMu.Lock()
	defer t.bindMu.Unlock()

	for _, rm := range t.removes {
		rm()
	}
	t.removes = nil
}

// Resync replaces both views with freshly fetched snapshots. A snapshot that
// cannot be fetched leaves its view untouched.
func (t *Tracker) Resync(ctx context.Context) error {
	start := time.Now()
	defer func() { t.metrics.ObserveResyncDuration(time.Since(start).Seconds()) }()

	var errs []error

	status, err := t.source.FetchJobStatus(ctx)
	if err == nil {
		t.mu.Lock()
		err = t.replaceJob(status)
		t.mu.Unlock()
	}
	t.metrics.RecordResync("job", err == nil)
	if err != nil {
		t.logger.Warn("job status resync failed, keeping previous view", "error", err)
		errs = append(errs, fmt.Errorf("resync job status: %w", err))
	}

	health, err := t.source.FetchHealth(ctx)
	if err == nil {
		t.mu.Lock()
		err = t.replaceHealth(health)
		t.mu.Unlock()
	}
	t.metrics.RecordResync("health", err == nil)
	if err != nil {
		t.logger.Warn("health resync failed, keeping previous view", "error", err)
		errs = append(errs, fmt.Errorf("resync health: %w", err))
	}

	return errors.Join(errs...)
}

// ResyncOn returns a lifecycle listener that resyncs on the given kinds.
// The listener only schedules the work and returns at once, so it never
// stalls the transport goroutine that fires it. The resync itself runs under
// ctx; cancelling ctx aborts it.
func (t *Tracker) ResyncOn(ctx context.Context, kinds ...realtime.EventKind) realtime.Listener {
	return func(_ context.Context, ev realtime.Event) error {
		if !slices.Contains(kinds, ev.Kind) {
			return nil
		}
		t.logger.Info("resyncing snapshots", "trigger", ev.Kind.String(), "connection_id", ev.ConnectionID)

		t.resyncMu.Lock()
		defer t.resyncMu.Unlock()
		if t.resyncRunning {
			t.resyncPending = true
			return nil
		}
		t.resyncRunning = true
		t.resyncs.Add(1)
		go t.resyncLoop(ctx)
		return nil
	}
}

func (t *Tracker) resyncLoop(ctx context.Context) {
	defer t.resyncs.Done()
	for {
		if ctx.Err() == nil {
			// Failures are logged and counted by Resync.
			_ = t.Resync(ctx)
		}

		t.resyncMu.Lock()
		if !t.resyncPending || ctx.Err() != nil {
			t.resyncRunning = false
			t.resyncPending = false
			t.resyncMu.Unlock()
			return
		}
		t.resyncPending = false
		t.resyncMu.Unlock()
	}
}

// Wait blocks until background resyncs started by ResyncOn listeners have
// returned. Call it after the listeners can no longer fire.
func (t *Tracker) Wait() {
	t.resyncs.Wait()
}

// Job returns a snapshot of the current job. ok is false when no job is
// being tracked.
func (t *Tracker) Job() (view.JobSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.job == nil {
		return view.JobSnapshot{}, false
	}
	return t.job.Snapshot(), true
}

// Health returns a snapshot of the health aggregate. ok is false until the
// first health message or resync.
func (t *Tracker) Health() (view.HealthSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.health == nil {
		return view.HealthSnapshot{}, false
	}
	return t.health.Snapshot(), true
}

// replaceJob installs the job described by a full snapshot. A nil snapshot
// or one without a job id means the pipeline is idle. Callers hold t.mu.
func (t *Tracker) replaceJob(status *models.JobStatus) error {
	if status == nil || strings.TrimSpace(status.JobID) == "" {
		t.job = nil
		return nil
	}

	job, err := view.NewJobProgress(status)
	if err != nil {
		return err
	}
	t.job = job
	return nil
}

// replaceHealth applies a full health snapshot. Callers hold t.mu.
func (t *Tracker) replaceHealth(resp *models.HealthResponse) error {
	if t.health == nil {
		h, err := view.NewHealthAggregate(resp)
		if err != nil {
			return err
		}
		t.health = h
		return nil
	}
	return t.health.ApplyFullUpdate(resp)
}
