package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/malbeclabs/revpool/pool/pkg/export"
	"github.com/malbeclabs/revpool/pool/pkg/history"
	"github.com/malbeclabs/revpool/pool/pkg/pool"
	"github.com/malbeclabs/revpool/pool/pkg/store"
)

const defaultBackfillBatchSize = 100

// SnapshotLoader returns the latest persisted pool state.
type SnapshotLoader interface {
	LoadLatest(ctx context.Context) (pool.State, bool, error)
}

// BackfillHistoryConfig holds the configuration for BackfillHistory.
type BackfillHistoryConfig struct {
	Logger    *slog.Logger
	Snapshots SnapshotLoader
	Sinks     []export.Sink
	Cursors   export.CursorStore // optional
	FromRound uint64
	BatchSize int
	DryRun    bool
	Out       io.Writer
}

func (cfg *BackfillHistoryConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Snapshots == nil {
		return errors.New("snapshot loader is required")
	}
	if len(cfg.Sinks) == 0 {
		return errors.New("at least one sink is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBackfillBatchSize
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	return nil
}

// BackfillHistory rewrites the persisted round history to every sink,
// ignoring export cursors, then moves each sink's cursor to the newest entry
// so the export loop does not repeat the work. It returns the number of
// entries written per sink.
func BackfillHistory(ctx context.Context, cfg BackfillHistoryConfig) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}

	st, ok, err := cfg.Snapshots.LoadLatest(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load pool snapshot: %w", err)
	}
	if !ok {
		fmt.Fprintln(cfg.Out, "No pool snapshot found, nothing to backfill")
		return 0, nil
	}

	var entries []history.Entry
	for _, e := range st.History {
		if e.RoundID >= cfg.FromRound {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].RoundID < entries[j].RoundID })
	if len(entries) == 0 {
		fmt.Fprintf(cfg.Out, "No finalized rounds at or after round %d\n", cfg.FromRound)
		return 0, nil
	}

	first, last := entries[0], entries[len(entries)-1]
	fmt.Fprintf(cfg.Out, "Backfilling %d round(s) [%d..%d] to %d sink(s)\n", len(entries), first.RoundID, last.RoundID, len(cfg.Sinks))
	if cfg.DryRun {
		for _, e := range entries {
			fmt.Fprintf(cfg.Out, "  round %d rev %d reward %s\n", e.RoundID, e.Revision, e.Reward)
		}
		fmt.Fprintln(cfg.Out, "\n[DRY RUN] Would write the above rounds")
		return 0, nil
	}

	newest := entries[0]
	for _, e := range entries {
		if e.FinalizedAt.After(newest.FinalizedAt) {
			newest = e
		}
	}

	for _, sink := range cfg.Sinks {
		for start := 0; start < len(entries); start += cfg.BatchSize {
			end := min(start+cfg.BatchSize, len(entries))
			if err := sink.Write(ctx, entries[start:end]); err != nil {
				return 0, fmt.Errorf("sink %s: failed to write rounds %d..%d: %w",
					sink.Name(), entries[start].RoundID, entries[end-1].RoundID, err)
			}
			cfg.Logger.Debug("backfill: wrote batch", "sink", sink.Name(), "from", entries[start].RoundID, "to", entries[end-1].RoundID)
		}
		fmt.Fprintf(cfg.Out, "  ✓ %s: wrote %d round(s)\n", sink.Name(), len(entries))

		if cfg.Cursors != nil {
			c := store.Cursor{Sink: sink.Name(), RoundID: newest.RoundID, Revision: newest.Revision, UpdatedAt: newest.FinalizedAt}
			if err := cfg.Cursors.SaveCursor(ctx, c); err != nil {
				return 0, fmt.Errorf("sink %s: failed to save cursor: %w", sink.Name(), err)
			}
		}
	}
	return len(entries), nil
}
