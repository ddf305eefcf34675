// Package backtest replays a candidate script revision against
// historical context windows and compares its behavior with the active
// revision. Comparison is strictly read-only: contexts come from the
// feed and previously persisted inventory snapshots, and no candidate
// ever reaches the alert store.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/vendops/vendwatch/internal/ctxpack"
	"github.com/vendops/vendwatch/internal/feed"
	"github.com/vendops/vendwatch/internal/sandbox"
	"github.com/vendops/vendwatch/internal/scripts"
	"github.com/vendops/vendwatch/internal/simday"
	"github.com/vendops/vendwatch/internal/store"
)

// DayResult compares both revisions on one simulated day, aggregated
// over all machines.
type DayResult struct {
	Date              simday.Date `json:"date"`
	ActiveTriggers    int         `json:"active_triggers"`
	CandidateTriggers int         `json:"candidate_triggers"`
	Changed           bool        `json:"changed"`
}

// Report is the outcome of one comparison run. Identical inputs always
// produce an identical report.
type Report struct {
	ScriptName       string        `json:"script_name"`
	ActiveVersion    string        `json:"active_version"`
	CandidateVersion string        `json:"candidate_version"`
	From             simday.Date   `json:"from"`
	To               simday.Date   `json:"to"`
	Days             []DayResult   `json:"days"`
	TotalActive      int           `json:"total_active"`
	TotalCandidate   int           `json:"total_candidate"`
	ChangedDays      []simday.Date `json:"changed_days"`
}

// Comparator runs active-vs-candidate backtests.
type Comparator struct {
	store   *store.Store
	src     *feed.Source
	builder *ctxpack.Builder
	runner  *sandbox.Runner
	logger  *slog.Logger

	currencies map[int64]string
}

// New wires a Comparator over already open connections.
func New(ctx context.Context, st *store.Store, src *feed.Source, builder *ctxpack.Builder, timeout time.Duration, logger *slog.Logger) (*Comparator, error) {
	currencies, err := src.LocationCurrencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("load currencies: %w", err)
	}
	return &Comparator{
		store:      st,
		src:        src,
		builder:    builder,
		runner:     sandbox.NewRunner(timeout),
		logger:     logger,
		currencies: currencies,
	}, nil
}

// Compare evaluates the active revision of scriptName and the candidate
// source over every day in [from, to]. Each day's machine contexts are
// built once and shared between both revisions, so a difference in the
// report is a difference in script behavior, never in input data.
func (c *Comparator) Compare(ctx context.Context, scriptName, candidateSource string, from, to simday.Date) (*Report, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("invalid range: %s is after %s", from, to)
	}
	if err := sandbox.ValidateSource(scriptName, candidateSource); err != nil {
		return nil, fmt.Errorf("candidate rejected: %w", err)
	}
	_, activeSource, err := c.store.ActiveSource(ctx, scriptName)
	if err != nil {
		return nil, err
	}

	machines, err := c.src.Machines(ctx)
	if err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}

	report := &Report{
		ScriptName:       scriptName,
		ActiveVersion:    scripts.Version(activeSource),
		CandidateVersion: scripts.Version(candidateSource),
		From:             from,
		To:               to,
	}

	for day := from; !to.Before(day); day = day.AddDays(1) {
		contexts, err := c.buildDay(ctx, machines, day)
		if err != nil {
			return nil, err
		}
		result := DayResult{Date: day}
		for _, sctx := range contexts {
			result.ActiveTriggers += c.countTriggers(ctx, scriptName, activeSource, sctx)
			result.CandidateTriggers += c.countTriggers(ctx, scriptName, candidateSource, sctx)
		}
		result.Changed = result.ActiveTriggers != result.CandidateTriggers
		if result.Changed {
			report.ChangedDays = append(report.ChangedDays, day)
		}
		report.TotalActive += result.ActiveTriggers
		report.TotalCandidate += result.CandidateTriggers
		report.Days = append(report.Days, result)
	}
	return report, nil
}

// buildDay constructs the shared context for every machine on one day.
// Machines whose context cannot be built are skipped for both revisions
// alike, preserving the apples-to-apples comparison.
func (c *Comparator) buildDay(ctx context.Context, machines []feed.Machine, day simday.Date) ([]*ctxpack.Context, error) {
	var contexts []*ctxpack.Context
	for _, m := range machines {
		inv, err := c.storedInventory(ctx, m.ID, day)
		if err != nil {
			return nil, err
		}
		currency := c.currencies[m.LocationID]
		if currency == "" {
			currency = "USD"
		}
		sctx, err := c.builder.Build(ctx, m.LocationID, m.ID, day, currency, inv)
		if err != nil {
			c.logger.Warn("backtest context unavailable, skipping machine",
				"machine_id", m.ID, "day", day.String(), "error", err)
			continue
		}
		contexts = append(contexts, sctx)
	}
	return contexts, nil
}

// storedInventory reads the persisted snapshot for the day, or the most
// recent one before it. Days the simulation never reached get an empty
// snapshot; both revisions see the same gap.
func (c *Comparator) storedInventory(ctx context.Context, machineID int64, day simday.Date) (ctxpack.Inventory, error) {
	inv := ctxpack.Inventory{SnapshotDate: day.String(), ByIngredient: []ctxpack.InventoryRow{}}
	last, ok, err := c.store.LatestInventoryDay(ctx, machineID, day)
	if err != nil {
		return ctxpack.Inventory{}, err
	}
	if !ok {
		return inv, nil
	}
	snapshot, err := c.store.InventoryForDay(ctx, machineID, last)
	if err != nil {
		return ctxpack.Inventory{}, err
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
			IngredientName: c.builder.IngredientName(id),
			QtyOnHand:      row.OnHandQty,
			Unit:           row.Unit,
			Capacity:       row.Capacity,
		})
	}
	return inv, nil
}

// countTriggers runs one revision against one context and counts its
// validated candidates. Diagnostics count as zero triggers.
func (c *Comparator) countTriggers(ctx context.Context, scriptName, source string, sctx *ctxpack.Context) int {
	candidates, diags := c.runner.Run(ctx, scriptName, source, sctx)
	for _, d := range diags {
		c.logger.Warn("backtest script diagnostic", "script", scriptName, "error", d)
	}
	return len(candidates)
}
