// Package engine orchestrates the simulation: it owns the clock, builds
// per-machine contexts, executes detector scripts in the sandbox and
// feeds their candidates through the dedup state machine.
//
// Clock and run operations are mutually exclusive. Context building and
// script evaluation fan out across a bounded worker pool, but every
// alert write happens sequentially on the calling goroutine, in
// deterministic machine order. The engine never mutates the feed
// databases.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vendops/vendwatch/internal/config"
	"github.com/vendops/vendwatch/internal/ctxpack"
	"github.com/vendops/vendwatch/internal/feed"
	"github.com/vendops/vendwatch/internal/inventory"
	"github.com/vendops/vendwatch/internal/sandbox"
	"github.com/vendops/vendwatch/internal/scripts"
	"github.com/vendops/vendwatch/internal/simday"
	"github.com/vendops/vendwatch/internal/store"
)

// ErrConflictingOperation is returned when a clock or run operation is
// requested while another one is still in progress.
var ErrConflictingOperation = errors.New("another engine operation is in progress")

// ErrAtEndOfWindow is returned by Advance once the clock has reached the
// final day of the simulation window.
var ErrAtEndOfWindow = errors.New("simulation clock is at the end of the window")

// Engine ties the feed, the context builder, the sandbox and the state
// store together.
type Engine struct {
	cfg     config.Config
	store   *store.Store
	src     *feed.Source
	builder *ctxpack.Builder
	prog    *inventory.Progressor
	runner  *sandbox.Runner
	logger  *slog.Logger

	// currencies caches the per-location transaction currency.
	currencies map[int64]string

	// mu serializes clock and run operations. TryLock instead of Lock:
	// a second concurrent operation is a caller error, not a queueing
	// request.
	mu sync.Mutex
}

// New wires an Engine from an open store and feed source. It also seeds
// the baseline script revisions so a fresh database is immediately
// runnable.
func New(ctx context.Context, cfg config.Config, st *store.Store, src *feed.Source, logger *slog.Logger) (*Engine, error) {
	builder, err := ctxpack.NewBuilder(ctx, src, cfg.HistoryDays, cfg.ForecastDays)
	if err != nil {
		return nil, fmt.Errorf("init context builder: %w", err)
	}
	prog, err := inventory.NewProgressor(ctx, st, src, logger)
	if err != nil {
		return nil, fmt.Errorf("init inventory: %w", err)
	}
	currencies, err := src.LocationCurrencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("load currencies: %w", err)
	}

	baselines := make(map[string]string)
	for _, name := range scripts.Names() {
		source, err := scripts.Source(name)
		if err != nil {
			return nil, err
		}
		baselines[name] = source
	}
	if err := st.SeedBaselines(ctx, baselines); err != nil {
		return nil, fmt.Errorf("seed baseline scripts: %w", err)
	}

	return &Engine{
		cfg:        cfg,
		store:      st,
		src:        src,
		builder:    builder,
		prog:       prog,
		runner:     sandbox.NewRunner(cfg.ScriptTimeout.Std()),
		logger:     logger,
		currencies: currencies,
	}, nil
}

// Store exposes the engine's state store for read-side CLI commands.
func (e *Engine) Store() *store.Store {
	return e.store
}

// ContextBuilder exposes the shared context builder so backtests reuse
// its caches.
func (e *Engine) ContextBuilder() *ctxpack.Builder {
	return e.builder
}

// Init installs the simulation window. When from and to are zero the
// window is derived from the observed transaction range: the clock
// starts after a full history lookback and ends at the last transaction
// day.
func (e *Engine) Init(ctx context.Context, from, to simday.Date) (store.EngineState, error) {
	if !e.mu.TryLock() {
		return store.EngineState{}, ErrConflictingOperation
	}
	defer e.mu.Unlock()

	if from.IsZero() || to.IsZero() {
		min, max, err := e.src.TransactionDateRange(ctx)
		if err != nil {
			return store.EngineState{}, fmt.Errorf("derive window: %w", err)
		}
		if from.IsZero() {
			from = min.AddDays(e.cfg.HistoryDays)
			if max.Before(from) {
				from = max
			}
		}
		if to.IsZero() {
			to = max
		}
	}
	return e.store.InitState(ctx, from, to)
}

// State returns the simulation clock.
func (e *Engine) State(ctx context.Context) (store.EngineState, error) {
	return e.store.State(ctx)
}

// Advance runs the current day's detectors, then moves the clock forward
// one day. A day that already completed a run (recorded in the run log)
// is not evaluated again, so an explicit Run followed by Advance costs
// one run, not two. No day is ever stepped over unevaluated.
func (e *Engine) Advance(ctx context.Context) (store.EngineState, error) {
	if !e.mu.TryLock() {
		return store.EngineState{}, ErrConflictingOperation
	}
	defer e.mu.Unlock()

	st, err := e.store.State(ctx)
	if err != nil {
		return store.EngineState{}, err
	}
	if st.AtEnd() {
		return store.EngineState{}, ErrAtEndOfWindow
	}

	ran, err := e.store.HasRun(ctx, st.CurrentDay)
	if err != nil {
		return store.EngineState{}, err
	}
	if !ran {
		if _, err := e.runCurrentDay(ctx); err != nil {
			return store.EngineState{}, fmt.Errorf("run day %s before advancing: %w", st.CurrentDay, err)
		}
	}

	next := st.CurrentDay.AddDays(1)
	if err := e.store.SetCurrentDay(ctx, next); err != nil {
		return store.EngineState{}, err
	}
	st.CurrentDay = next
	e.logger.Info("clock advanced", "current_day", next.String())
	return st, nil
}

// Skip jumps the clock to a later day inside the window. Inventory for
// the skipped days is replayed lazily by the next Run, so a skip of N
// days leaves the same state as N single advances.
func (e *Engine) Skip(ctx context.Context, to simday.Date) (store.EngineState, error) {
	if !e.mu.TryLock() {
		return store.EngineState{}, ErrConflictingOperation
	}
	defer e.mu.Unlock()

	st, err := e.store.State(ctx)
	if err != nil {
		return store.EngineState{}, err
	}
	if !st.CurrentDay.Before(to) {
		return store.EngineState{}, fmt.Errorf("skip target %s is not after current day %s", to, st.CurrentDay)
	}
	if st.EndDay.Before(to) {
		return store.EngineState{}, fmt.Errorf("skip target %s is after window end %s", to, st.EndDay)
	}
	if err := e.store.SetCurrentDay(ctx, to); err != nil {
		return store.EngineState{}, err
	}
	st.CurrentDay = to
	e.logger.Info("clock skipped", "current_day", to.String())
	return st, nil
}

// Reset rewinds the simulation to the start of the window and clears all
// derived state. Script revisions survive.
func (e *Engine) Reset(ctx context.Context) (store.EngineState, error) {
	if !e.mu.TryLock() {
		return store.EngineState{}, ErrConflictingOperation
	}
	defer e.mu.Unlock()

	st, err := e.store.Reset(ctx)
	if err != nil {
		return store.EngineState{}, err
	}
	e.logger.Info("simulation reset", "current_day", st.CurrentDay.String())
	return st, nil
}
