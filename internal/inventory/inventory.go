// Package inventory advances the simulated on-hand state of every
// machine one day at a time. Inventory is seeded at a fraction of hopper
// capacity on the first simulated day and then drawn down by the day's
// forecast ingredient consumption, topped back up to capacity on days
// with an effective restock action.
package inventory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vendops/vendwatch/internal/feed"
	"github.com/vendops/vendwatch/internal/simday"
	"github.com/vendops/vendwatch/internal/store"
)

// SeedFraction of hopper capacity installed on the first simulated day.
const SeedFraction = 0.9

// OutOfOrderAdvanceError reports an AdvanceDay call that would skip or
// rewind days for a machine.
type OutOfOrderAdvanceError struct {
	MachineID int64
	Have      simday.Date
	Want      simday.Date
}

func (e *OutOfOrderAdvanceError) Error() string {
	return fmt.Sprintf("machine %d: inventory at %s, cannot advance to %s (days must be consecutive)",
		e.MachineID, e.Have, e.Want)
}

// Progressor owns the day-by-day inventory state machine. It reads
// consumption from the feed and persists snapshots through the store.
type Progressor struct {
	store  *store.Store
	src    *feed.Source
	logger *slog.Logger

	// capacity rows per machine model, loaded once
	capsByModel map[string][]feed.Capacity
}

// NewProgressor loads the capacity catalog and returns a ready Progressor.
func NewProgressor(ctx context.Context, st *store.Store, src *feed.Source, logger *slog.Logger) (*Progressor, error) {
	caps, err := src.Capacities(ctx)
	if err != nil {
		return nil, fmt.Errorf("load capacities: %w", err)
	}
	byModel := make(map[string][]feed.Capacity)
	for _, c := range caps {
		byModel[c.MachineModel] = append(byModel[c.MachineModel], c)
	}
	return &Progressor{store: st, src: src, logger: logger, capsByModel: byModel}, nil
}

// Seed writes the initial snapshot for a machine on the given day:
// every capacity-cataloged ingredient at SeedFraction of capacity.
// A machine that already has rows for the day is left untouched.
func (p *Progressor) Seed(ctx context.Context, m feed.Machine, day simday.Date) error {
	present, err := p.store.HasInventoryForDay(ctx, m.ID, day)
	if err != nil {
		return err
	}
	if present {
		return nil
	}
	caps := p.capsByModel[m.Model]
	if len(caps) == 0 {
		p.logger.Warn("no capacity catalog for machine model, skipping inventory seed",
			"machine_id", m.ID, "model", m.Model)
		return nil
	}
	rows := make([]store.InventoryRow, 0, len(caps))
	for _, c := range caps {
		capacity := c.Capacity
		rows = append(rows, store.InventoryRow{
			Day:          day,
			MachineID:    m.ID,
			IngredientID: c.IngredientID,
			OnHandQty:    capacity * SeedFraction,
			Capacity:     &capacity,
			Unit:         c.Unit,
			Source:       store.InventorySourceSeed,
		})
	}
	return p.store.WriteInventoryDay(ctx, rows)
}

// AdvanceDay computes the machine's snapshot for day from the previous
// day's snapshot:
//
//	next = clamp(prev - predicted(day), 0, capacity)
//
// On a restock day the machine is topped back up to capacity after the
// drawdown. day must be exactly one day after the machine's latest
// snapshot; anything else returns OutOfOrderAdvanceError. Advancing a
// day that already has rows is a no-op, which keeps daily runs
// idempotent.
func (p *Progressor) AdvanceDay(ctx context.Context, m feed.Machine, day simday.Date, restock bool) error {
	present, err := p.store.HasInventoryForDay(ctx, m.ID, day)
	if err != nil {
		return err
	}
	if present {
		return nil
	}

	last, ok, err := p.store.LatestInventoryDay(ctx, m.ID, day)
	if err != nil {
		return err
	}
	if !ok {
		return &OutOfOrderAdvanceError{MachineID: m.ID, Want: day}
	}
	if last.AddDays(1) != day {
		return &OutOfOrderAdvanceError{MachineID: m.ID, Have: last, Want: day}
	}

	prev, err := p.store.InventoryForDay(ctx, m.ID, last)
	if err != nil {
		return err
	}

	predicted, err := p.src.PredictedConsumption(ctx, m.ID, day)
	if err != nil {
		return fmt.Errorf("predicted consumption for machine %d on %s: %w", m.ID, day, err)
	}

	rows := make([]store.InventoryRow, 0, len(prev))
	for _, pr := range prev {
		qty := pr.OnHandQty - predicted[pr.IngredientID].Quantity
		source := store.InventorySourceDrawdown
		if restock && pr.Capacity != nil {
			qty = *pr.Capacity
			source = store.InventorySourceRestock
		}
		if qty < 0 {
			p.logger.Warn("inventory drawdown below zero, clamping",
				"machine_id", m.ID, "ingredient_id", pr.IngredientID,
				"day", day.String(), "qty", qty)
			qty = 0
		}
		if pr.Capacity != nil && qty > *pr.Capacity {
			qty = *pr.Capacity
		}
		rows = append(rows, store.InventoryRow{
			Day:          day,
			MachineID:    m.ID,
			IngredientID: pr.IngredientID,
			OnHandQty:    qty,
			Capacity:     pr.Capacity,
			Unit:         pr.Unit,
			Source:       source,
		})
	}
	return p.store.WriteInventoryDay(ctx, rows)
}

// ReplayTo brings a machine's inventory forward to target, seeding at
// start if the machine has no state yet, and applying each intervening
// day's drawdown and restocks in order. Used by clock skips so a jump
// of N days is indistinguishable from N single advances.
func (p *Progressor) ReplayTo(ctx context.Context, m feed.Machine, start, target simday.Date) error {
	last, ok, err := p.store.LatestInventoryDay(ctx, m.ID, target)
	if err != nil {
		return err
	}
	if !ok {
		if err := p.Seed(ctx, m, start); err != nil {
			return err
		}
		last = start
	}
	for day := last.AddDays(1); !target.Before(day); day = day.AddDays(1) {
		restocks, err := p.store.RestocksEffectiveOn(ctx, day)
		if err != nil {
			return err
		}
		if err := p.AdvanceDay(ctx, m, day, restocks[m.ID]); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns the machine's stored snapshot for the given day,
// keyed by ingredient. Empty when the day has no rows.
func (p *Progressor) Snapshot(ctx context.Context, machineID int64, day simday.Date) (map[int64]store.InventoryRow, error) {
	return p.store.InventoryForDay(ctx, machineID, day)
}
