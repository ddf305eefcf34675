package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/vendops/vendwatch/internal/alert"
	"github.com/vendops/vendwatch/internal/ctxpack"
	"github.com/vendops/vendwatch/internal/feed"
	"github.com/vendops/vendwatch/internal/scripts"
	"github.com/vendops/vendwatch/internal/simday"
	"github.com/vendops/vendwatch/internal/store"
)

// RunSummary reports what one daily run did.
type RunSummary struct {
	RunDate     simday.Date `json:"run_date"`
	Machines    int         `json:"machines"`
	Scripts     int         `json:"scripts"`
	Inserted    int         `json:"inserted"`
	Overwritten int         `json:"overwritten"`
	Suppressed  int         `json:"suppressed"`
	WokenAlerts int         `json:"woken_alerts"`
	// Diagnostics carries per-machine and per-script failures that were
	// logged and skipped. A failing script never aborts the run.
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// scriptCandidate pairs a validated candidate with the script revision
// that emitted it.
type scriptCandidate struct {
	scriptName string
	version    string
	candidate  *alert.Candidate
}

// machineResult is one worker's output for one machine.
type machineResult struct {
	index       int
	candidates  []scriptCandidate
	diagnostics []string
}

// Run executes every enabled script against every machine's context for
// the current simulated day.
//
// Inventory is first replayed up to the current day, so the first run
// seeds it and a run after a skip catches up. Context building and
// script evaluation fan out across workers; the resulting candidates
// are then upserted sequentially in (location, machine, script) order,
// so alert writes are single-writer and deterministic.
//
// Running the same day twice is safe: unchanged candidates are
// suppressed by the cooldown rule and inventory progression is a no-op.
func (e *Engine) Run(ctx context.Context) (RunSummary, error) {
	if !e.mu.TryLock() {
		return RunSummary{}, ErrConflictingOperation
	}
	defer e.mu.Unlock()
	return e.runCurrentDay(ctx)
}

// runCurrentDay executes the daily run for the clock's current day.
// Callers must hold e.mu.
func (e *Engine) runCurrentDay(ctx context.Context) (RunSummary, error) {
	st, err := e.store.State(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	day := st.CurrentDay
	summary := RunSummary{RunDate: day}

	woken, err := e.store.WakeExpiredSnoozes(ctx, day)
	if err != nil {
		return RunSummary{}, err
	}
	summary.WokenAlerts = woken

	revisions, err := e.store.EnabledScripts(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	summary.Scripts = len(revisions)

	machines, err := e.src.Machines(ctx)
	if err != nil {
		return RunSummary{}, fmt.Errorf("list machines: %w", err)
	}
	summary.Machines = len(machines)

	e.logger.Info("daily run starting",
		"run_date", day.String(), "machines", len(machines), "scripts", len(revisions))

	results := e.evaluateMachines(ctx, st, machines, revisions)

	// Single-writer phase: machines in feed order, scripts in name order
	// within each machine.
	for _, res := range results {
		summary.Diagnostics = append(summary.Diagnostics, res.diagnostics...)
		for _, sc := range res.candidates {
			up, err := e.store.UpsertAlert(ctx, sc.scriptName, sc.version, day, e.cfg.CooldownDays, sc.candidate)
			if err != nil {
				// Storage failures are not script bugs; abort the run.
				return RunSummary{}, fmt.Errorf("upsert alert from %s: %w", sc.scriptName, err)
			}
			switch up.Decision {
			case alert.DecisionInsert:
				summary.Inserted++
			case alert.DecisionOverwrite:
				summary.Overwritten++
			case alert.DecisionSuppress:
				summary.Suppressed++
			}
		}
	}

	if err := e.store.RecordRun(ctx, store.RunRecord{
		RunDate:         day,
		ExecutedScripts: summary.Scripts,
		EmittedAlerts:   summary.Inserted + summary.Overwritten,
	}); err != nil {
		return RunSummary{}, err
	}

	e.logger.Info("daily run finished",
		"run_date", day.String(),
		"inserted", summary.Inserted,
		"overwritten", summary.Overwritten,
		"suppressed", summary.Suppressed,
		"diagnostics", len(summary.Diagnostics))
	return summary, nil
}

// evaluateMachines fans machines out over a bounded worker pool and
// returns results in machine order.
func (e *Engine) evaluateMachines(ctx context.Context, st store.EngineState, machines []feed.Machine, revisions []store.ScriptRevision) []machineResult {
	jobs := make(chan int)
	results := make([]machineResult, len(machines))
	var wg sync.WaitGroup

	workers := e.cfg.MachineConcurrency
	if workers > len(machines) {
		workers = len(machines)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = e.evaluateMachine(ctx, st, i, machines[i], revisions)
			}
		}()
	}
	for i := range machines {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results
}

// evaluateMachine replays inventory, builds the context and runs every
// script for one machine. Failures are reported as diagnostics; the
// machine is skipped, never the run.
func (e *Engine) evaluateMachine(ctx context.Context, st store.EngineState, index int, m feed.Machine, revisions []store.ScriptRevision) machineResult {
	res := machineResult{index: index}
	day := st.CurrentDay

	if err := e.prog.ReplayTo(ctx, m, st.StartDay, day); err != nil {
		e.logger.Error("inventory replay failed, skipping machine",
			"machine_id", m.ID, "error", err)
		res.diagnostics = append(res.diagnostics,
			fmt.Sprintf("machine %d: inventory replay: %v", m.ID, err))
		return res
	}

	inv, err := e.inventoryContext(ctx, m.ID, day)
	if err != nil {
		e.logger.Error("inventory snapshot failed, skipping machine",
			"machine_id", m.ID, "error", err)
		res.diagnostics = append(res.diagnostics,
			fmt.Sprintf("machine %d: inventory snapshot: %v", m.ID, err))
		return res
	}

	currency := e.currencies[m.LocationID]
	if currency == "" {
		currency = "USD"
	}
	sctx, err := e.builder.Build(ctx, m.LocationID, m.ID, day, currency, inv)
	if err != nil {
		var unavailable *ctxpack.DataUnavailableError
		if errors.As(err, &unavailable) {
			e.logger.Warn("context unavailable, skipping machine",
				"machine_id", m.ID, "error", err)
		} else {
			e.logger.Error("context build failed, skipping machine",
				"machine_id", m.ID, "error", err)
		}
		res.diagnostics = append(res.diagnostics,
			fmt.Sprintf("machine %d: context: %v", m.ID, err))
		return res
	}

	for _, rev := range revisions {
		version := scripts.Version(rev.SourceCode)
		candidates, diags := e.runner.Run(ctx, rev.ScriptName, rev.SourceCode, sctx)
		for _, d := range diags {
			e.logger.Warn("script diagnostic",
				"script", rev.ScriptName, "machine_id", m.ID, "error", d)
			res.diagnostics = append(res.diagnostics,
				fmt.Sprintf("machine %d: %s: %v", m.ID, rev.ScriptName, d))
		}
		for i := range candidates {
			res.candidates = append(res.candidates, scriptCandidate{
				scriptName: rev.ScriptName,
				version:    version,
				candidate:  &candidates[i],
			})
		}
	}
	return res
}

// inventoryContext converts the stored snapshot for a day into the
// context shape scripts see, sorted by ingredient id.
func (e *Engine) inventoryContext(ctx context.Context, machineID int64, day simday.Date) (ctxpack.Inventory, error) {
	snapshot, err := e.prog.Snapshot(ctx, machineID, day)
	if err != nil {
		return ctxpack.Inventory{}, err
	}
	inv := ctxpack.Inventory{
		SnapshotDate: day.String(),
		ByIngredient: make([]ctxpack.InventoryRow, 0, len(snapshot)),
	}
	ids := make([]int64, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		row := snapshot[id]
		inv.ByIngredient = append(inv.ByIngredient, ctxpack.InventoryRow{
			IngredientID:   id,
			IngredientName: e.builder.IngredientName(id),
			QtyOnHand:      row.OnHandQty,
			Unit:           row.Unit,
			Capacity:       row.Capacity,
		})
	}
	return inv, nil
}
