// Package enrich decouples AI enrichment (network-bound, slow, unreliable)
// from the hardware-facing call path. A single background worker drains a
// FIFO queue, gated on feature enablement, connectivity, a post-recording
// cooldown, and phone idleness — in that order.
package enrich

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotaryline/guestbook/internal/indicator"
	"github.com/rotaryline/guestbook/internal/store"
)

// Store is the metadata repository the worker mutates.
type Store interface {
	MarkProcessing(filename string) error
	MarkCompleted(filename string, result store.Enrichment) error
	MarkFailed(filename, lastError string) error
	MarkSkipped(filename string) error
	MarkPending(filename string) error
	ListByStatus(status store.Status) ([]store.Record, error)
}

// Connectivity is the cached reachability probe.
type Connectivity interface {
	Online() bool
}

// Options configures the queue.
type Options struct {
	Enabled         bool
	AutoProcess     bool
	AllowDuringCall bool
	Cooldown        time.Duration
	PollInterval    time.Duration
	RecordingsDir   string
	QueueSize       int
}

type item struct {
	path     string
	filename string
}

// Queue accepts completed recording references and processes them in the
// background. Enqueue never blocks, so the call session stays responsive no
// matter what the network is doing.
type Queue struct {
	store    Store
	proc     Processor
	probe    Connectivity
	notifier indicator.Notifier

	// phoneIdle reports whether a call is in progress; part of the gate.
	phoneIdle func() bool

	opts  Options
	items chan item
	now   func() time.Time

	mu            sync.Mutex
	lastRecording time.Time
}

func NewQueue(st Store, proc Processor, probe Connectivity, phoneIdle func() bool, notifier indicator.Notifier, opts Options) *Queue {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 128
	}
	if notifier == nil {
		notifier = indicator.Nop{}
	}
	if phoneIdle == nil {
		phoneIdle = func() bool { return true }
	}

	return &Queue{
		store:     st,
		proc:      proc,
		probe:     probe,
		notifier:  notifier,
		phoneIdle: phoneIdle,
		opts:      opts,
		items:     make(chan item, opts.QueueSize),
		now:       time.Now,
	}
}

// Enqueue registers a finished recording for enrichment and refreshes the
// cooldown clock. Re-enqueueing a failed recording resets it to pending.
// Never blocks.
func (q *Queue) Enqueue(path, filename string) {
	q.mu.Lock()
	q.lastRecording = q.now()
	q.mu.Unlock()

	if !q.opts.AutoProcess {
		slog.Info("enrich: auto-process disabled, skipping", "file", filename)
		if err := q.store.MarkSkipped(filename); err != nil {
			slog.Error("enrich: mark skipped failed", "file", filename, "error", err)
		}
		return
	}

	if err := q.store.MarkPending(filename); err != nil {
		slog.Error("enrich: mark pending failed", "file", filename, "error", err)
	}

	select {
	case q.items <- item{path: path, filename: filename}:
		slog.Info("enrich: queued", "file", filename)
	default:
		// Stays pending in the store; ResumePending picks it up later.
		slog.Error("enrich: queue full, leaving pending", "file", filename)
	}
}

// ResumePending re-enqueues every pending record, oldest first. Called at
// startup so enrichment survives restarts.
func (q *Queue) ResumePending() {
	records, err := q.store.ListByStatus(store.StatusPending)
	if err != nil {
		slog.Error("enrich: list pending failed", "error", err)
		return
	}

	for _, rec := range records {
		select {
		case q.items <- item{path: filepath.Join(q.opts.RecordingsDir, rec.Filename), filename: rec.Filename}:
		default:
			return
		}
	}
	if len(records) > 0 {
		slog.Info("enrich: resumed pending recordings", "count", len(records))
	}
}

// Run drains the queue until ctx is cancelled. Items are handled serially;
// an item blocked by the gate is requeued to the back after one poll
// interval so it cannot starve later items.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-q.items:
			q.handle(ctx, it)
		}
	}
}

// handle applies the gate in fixed precedence (enabled → connectivity →
// cooldown → idle) and processes the item if it passes. A gate failure
// other than "disabled" mutates nothing: the item stays pending.
func (q *Queue) handle(ctx context.Context, it item) {
	if !q.opts.Enabled {
		slog.Info("enrich: disabled, marking skipped", "file", it.filename)
		if err := q.store.MarkSkipped(it.filename); err != nil {
			slog.Error("enrich: mark skipped failed", "file", it.filename, "error", err)
		}
		return
	}

	if q.proc == nil {
		// Enabled but unusable (no API key). Leave pending so configuring
		// the key later picks the item up.
		q.requeue(ctx, it, "no processor configured")
		return
	}

	if !q.probe.Online() {
		q.requeue(ctx, it, "offline")
		return
	}

	if remaining := q.cooldownRemaining(); remaining > 0 {
		q.requeue(ctx, it, "cooldown")
		return
	}

	if !q.opts.AllowDuringCall && !q.phoneIdle() {
		q.requeue(ctx, it, "phone active")
		return
	}

	// The web layer may have deleted the file since enqueue.
	if _, err := os.Stat(it.path); err != nil {
		slog.Warn("enrich: recording vanished before processing", "file", it.filename, "error", err)
		if err := q.store.MarkFailed(it.filename, "recording file missing"); err != nil {
			slog.Error("enrich: mark failed failed", "file", it.filename, "error", err)
		}
		return
	}

	if err := q.store.MarkProcessing(it.filename); err != nil {
		slog.Error("enrich: mark processing failed", "file", it.filename, "error", err)
	}
	q.notifier.Notify(indicator.StateProcessing)
	defer q.notifier.Notify(indicator.StateIdle)

	slog.Info("enrich: processing", "file", it.filename)
	result, err := q.proc.Process(ctx, it.path, it.filename)
	if err != nil {
		slog.Warn("enrich: processing failed", "file", it.filename, "error", err)
		if mErr := q.store.MarkFailed(it.filename, err.Error()); mErr != nil {
			slog.Error("enrich: mark failed failed", "file", it.filename, "error", mErr)
		}
		return
	}

	enrichment := store.Enrichment{
		Transcription: result.Transcription,
		SpeakerNames:  result.SpeakerNames,
		Category:      result.Category,
		Summary:       result.Summary,
		Confidence:    result.Confidence,
	}
	if err := q.store.MarkCompleted(it.filename, enrichment); err != nil {
		slog.Error("enrich: mark completed failed", "file", it.filename, "error", err)
		return
	}
	slog.Info("enrich: completed", "file", it.filename, "category", result.Category)
}

// requeue pushes the item to the back after one poll interval, leaving its
// status untouched.
func (q *Queue) requeue(ctx context.Context, it item, reason string) {
	slog.Info("enrich: gate blocked, requeueing", "file", it.filename, "reason", reason)

	select {
	case <-ctx.Done():
		return
	case <-time.After(q.opts.PollInterval):
	}

	select {
	case q.items <- it:
	case <-ctx.Done():
	}
}

func (q *Queue) cooldownRemaining() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.lastRecording.IsZero() || q.opts.Cooldown <= 0 {
		return 0
	}
	elapsed := q.now().Sub(q.lastRecording)
	if elapsed >= q.opts.Cooldown {
		return 0
	}
	return q.opts.Cooldown - elapsed
}
