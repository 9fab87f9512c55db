package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"corridor-router/internal/events"
	"corridor-router/internal/risk"
	"corridor-router/internal/routing"
)

// AuditorOptions configure an Auditor.
type AuditorOptions struct {
	Snapshots SnapshotStore
	Signals   SignalArchive
	Quotes    QuoteLogStore
	QueueSize int
	Timeout   time.Duration
	Clock     func() time.Time
}

type auditJob struct {
	kind string
	run  func(ctx context.Context) error
}

// Auditor persists signals, corridor snapshots and quote logs off the
// request path. Writes are best effort: a full queue or a failed write is
// logged and never surfaces to callers.
type Auditor struct {
	opts    AuditorOptions
	queue   chan auditJob
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	dropped int64
	logger  zerolog.Logger
}

// NewAuditor constructs an Auditor; call Start to begin writing.
func NewAuditor(opts AuditorOptions, logger zerolog.Logger) *Auditor {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Auditor{
		opts:   opts,
		queue:  make(chan auditJob, opts.QueueSize),
		logger: logger.With().Str("component", "auditor").Logger(),
	}
}

// Start runs the writer goroutine until Close.
func (a *Auditor) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for job := range a.queue {
			ctx, cancel := context.WithTimeout(context.Background(), a.opts.Timeout)
			if err := job.run(ctx); err != nil {
				a.logger.Error().Err(err).Str("kind", job.kind).Msg("audit write failed")
			}
			cancel()
		}
	}()
}

// Close stops accepting work and waits for queued writes to finish.
func (a *Auditor) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	a.wg.Wait()
}

// Dropped reports how many writes were discarded because the queue was full.
func (a *Auditor) Dropped() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.dropped
}

func (a *Auditor) enqueue(kind string, run func(ctx context.Context) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- auditJob{kind: kind, run: run}:
	default:
		a.dropped++
		a.logger.Warn().Str("kind", kind).Msg("audit queue full, write dropped")
	}
}

// Name implements events.Sink.
func (a *Auditor) Name() string { return "auditor" }

// Handle implements events.Sink, archiving ingested signals and state updates.
func (a *Auditor) Handle(_ context.Context, e risk.Event) error {
	switch e.Type {
	case risk.EventSignalIngested:
		if e.Signal == nil || a.opts.Signals == nil {
			return nil
		}
		rec := SignalRecordFrom(*e.Signal)
		a.enqueue("signal", func(ctx context.Context) error {
			return a.opts.Signals.InsertSignal(ctx, rec)
		})
	case risk.EventStateUpdated:
		if len(e.States) == 0 || a.opts.Snapshots == nil {
			return nil
		}
		snaps := make([]CorridorSnapshot, 0, len(e.States))
		for _, st := range e.States {
			snaps = append(snaps, SnapshotFromState(st))
		}
		a.enqueue("snapshot", func(ctx context.Context) error {
			return a.opts.Snapshots.UpsertSnapshots(ctx, snaps)
		})
	}
	return nil
}

// RecordQuote queues the audit row for one quote request.
func (a *Auditor) RecordQuote(req routing.QuoteRequest, res routing.QuoteResult, quoteErr error) {
	if a == nil || a.opts.Quotes == nil {
		return
	}
	at := res.QuotedAt
	if at.IsZero() {
		at = a.opts.Clock()
	}
	entry := QuoteLogFrom(req, res, quoteErr, at)
	a.enqueue("quote", func(ctx context.Context) error {
		_, err := a.opts.Quotes.InsertQuoteLog(ctx, entry)
		return err
	})
}

var _ events.Sink = (*Auditor)(nil)
