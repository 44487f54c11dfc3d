// Package export copies finalized round history to external sinks.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/revpool/pool/pkg/history"
	"github.com/malbeclabs/revpool/pool/pkg/metrics"
	"github.com/malbeclabs/revpool/pool/pkg/store"
	"github.com/malbeclabs/revpool/utils/pkg/retry"
)

// Sink receives round history entries. Writes must be idempotent: an entry
// may be delivered again after a restart.
type Sink interface {
	Name() string
	Write(ctx context.Context, entries []history.Entry) error
}

// Source lists recorded history, ordered by round.
type Source interface {
	History(from uint64, limit int) []history.Entry
}

// CursorStore persists per-sink progress.
type CursorStore interface {
	Cursor(ctx context.Context, sink string) (store.Cursor, bool, error)
	SaveCursor(ctx context.Context, c store.Cursor) error
}

type Config struct {
	Logger          *slog.Logger
	Clock           clockwork.Clock
	Source          Source
	Sinks           []Sink
	Cursors         CursorStore // optional
	RefreshInterval time.Duration
	Retry           retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Source == nil {
		return errors.New("history source is required")
	}
	if len(cfg.Sinks) == 0 {
		return errors.New("at least one sink is required")
	}
	seen := make(map[string]bool, len(cfg.Sinks))
	for _, s := range cfg.Sinks {
		if seen[s.Name()] {
			return fmt.Errorf("duplicate sink %q", s.Name())
		}
		seen[s.Name()] = true
	}
	if cfg.RefreshInterval <= 0 {
		return errors.New("refresh interval must be greater than 0")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

type progress struct {
	// sent is the last revision written per round.
	sent map[uint64]int
	// watermark is the newest finalize time written. Entries finalized
	// before it were written by an earlier process.
	watermark time.Time
}

// Exporter periodically writes new and revised history entries to every sink.
type Exporter struct {
	log       *slog.Logger
	cfg       Config
	refreshMu sync.Mutex

	progress  map[string]*progress
	readyOnce sync.Once
	readyCh   chan struct{}
}

func New(cfg Config) (*Exporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := make(map[string]*progress, len(cfg.Sinks))
	for _, s := range cfg.Sinks {
		p[s.Name()] = &progress{sent: make(map[uint64]int)}
	}
	return &Exporter{
		log:      cfg.Logger,
		cfg:      cfg,
		progress: p,
		readyCh:  make(chan struct{}),
	}, nil
}

// Ready reports whether the first refresh has completed.
func (e *Exporter) Ready() bool {
	select {
	case <-e.readyCh:
		return true
	default:
		return false
	}
}

func (e *Exporter) WaitReady(ctx context.Context) error {
	select {
	case <-e.readyCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for exporter: %w", ctx.Err())
	}
}

// Start loads saved cursors and runs the refresh loop until ctx is done.
func (e *Exporter) Start(ctx context.Context) {
	go func() {
		e.log.Info("export: starting refresh loop", "interval", e.cfg.RefreshInterval, "sinks", len(e.cfg.Sinks))

		if err := e.loadCursors(ctx); err != nil {
			e.log.Warn("export: failed to load cursors, exporting full history", "error", err)
		}
		e.safeRefresh(ctx)

		ticker := e.cfg.Clock.NewTicker(e.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				e.safeRefresh(ctx)
			}
		}
	}()
}

func (e *Exporter) loadCursors(ctx context.Context) error {
	if e.cfg.Cursors == nil {
		return nil
	}
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()
	for name, p := range e.progress {
		c, ok, err := e.cfg.Cursors.Cursor(ctx, name)
		if err != nil {
			return fmt.Errorf("sink %s: %w", name, err)
		}
		if ok {
			p.watermark = c.UpdatedAt
			e.log.Info("export: resuming sink", "sink", name, "round", c.RoundID, "revision", c.Revision, "watermark", c.UpdatedAt)
		}
	}
	return nil
}

func (e *Exporter) safeRefresh(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("export: refresh panicked", "panic", r)
			metrics.ExportRefreshTotal.WithLabelValues("all", "panic").Inc()
		}
	}()

	if err := e.Refresh(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		e.log.Error("export: refresh failed", "error", err)
	}
}

// Refresh writes pending entries to every sink. A failing sink does not stop
// the others; the joined error is returned.
func (e *Exporter) Refresh(ctx context.Context) error {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	entries := e.cfg.Source.History(0, 0)

	var errs []error
	for _, sink := range e.cfg.Sinks {
		if err := e.refreshSink(ctx, sink, entries); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", sink.Name(), err))
		}
	}
	e.readyOnce.Do(func() { close(e.readyCh) })
	return errors.Join(errs...)
}

func (e *Exporter) refreshSink(ctx context.Context, sink Sink, entries []history.Entry) error {
	name := sink.Name()
	p := e.progress[name]

	var pending []history.Entry
	for _, entry := range entries {
		if entry.Revision <= p.sent[entry.RoundID] || entry.FinalizedAt.Before(p.watermark) {
			continue
		}
		pending = append(pending, entry)
	}
	if len(pending) == 0 {
		return nil
	}

	start := time.Now()
	err := retry.Do(ctx, e.cfg.Retry, func() error {
		return sink.Write(ctx, pending)
	})
	metrics.ExportRefreshDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ExportRefreshTotal.WithLabelValues(name, "error").Inc()
		return err
	}
	metrics.ExportRefreshTotal.WithLabelValues(name, "success").Inc()
	metrics.ExportedRoundsTotal.WithLabelValues(name).Add(float64(len(pending)))

	last := pending[0]
	for _, entry := range pending {
		p.sent[entry.RoundID] = entry.Revision
		if entry.FinalizedAt.After(last.FinalizedAt) {
			last = entry
		}
	}
	if last.FinalizedAt.After(p.watermark) {
		p.watermark = last.FinalizedAt
	}
	e.log.Info("export: wrote rounds", "sink", name, "count", len(pending))

	if e.cfg.Cursors != nil {
		c := store.Cursor{Sink: name, RoundID: last.RoundID, Revision: last.Revision, UpdatedAt: p.watermark}
		if err := e.cfg.Cursors.SaveCursor(ctx, c); err != nil {
			e.log.Warn("export: failed to save cursor", "sink", name, "error", err)
		}
	}
	return nil
}
