package ctxpack

import (
	"context"
	"log/slog"
	"math"

	"github.com/vendops/vendwatch/internal/feed"
	"github.com/vendops/vendwatch/internal/simday"
)

// Builder assembles script contexts from the read-only feed.
// Builders are safe for concurrent use; name lookups are loaded once.
type Builder struct {
	src          *feed.Source
	historyDays  int
	forecastDays int

	productNames    map[int64]string
	ingredientNames map[int64]string
}

// NewBuilder creates a Builder with the given windows. historyDays counts
// the as-of day itself; forecastDays counts days after it.
func NewBuilder(ctx context.Context, src *feed.Source, historyDays, forecastDays int) (*Builder, error) {
	productNames, err := src.ProductNames(ctx)
	if err != nil {
		return nil, err
	}
	ingredientNames, err := src.IngredientNames(ctx)
	if err != nil {
		return nil, err
	}
	return &Builder{
		src:             src,
		historyDays:     historyDays,
		forecastDays:    forecastDays,
		productNames:    productNames,
		ingredientNames: ingredientNames,
	}, nil
}

// Build assembles the context for one (location, machine, as-of day).
// The inventory snapshot is supplied by the caller: it belongs to the
// engine's own state, not the read-only feed.
//
// Returns *DataUnavailableError when the machine or location cannot be
// resolved. Every other gap degrades: missing names become nil, missing
// observed or predicted rows become empty day entries.
func (b *Builder) Build(ctx context.Context, locationID, machineID int64, asOf simday.Date, currency string, inv Inventory) (*Context, error) {
	machine, err := b.src.Machine(ctx, locationID, machineID)
	if err != nil {
		return nil, &DataUnavailableError{LocationID: locationID, MachineID: machineID, Err: err}
	}
	location, err := b.src.Location(ctx, locationID)
	if err != nil {
		return nil, &DataUnavailableError{LocationID: locationID, MachineID: machineID, Err: err}
	}

	historyStart := asOf.AddDays(-(b.historyDays - 1))
	forecastEnd := asOf.AddDays(b.forecastDays)

	runID, err := b.src.LatestRunID(ctx)
	if err != nil {
		return nil, err
	}

	totals, err := b.src.ObservedDaily(ctx, locationID, machineID, historyStart, asOf)
	if err != nil {
		return nil, err
	}
	obsProducts, err := b.src.ObservedByProduct(ctx, locationID, machineID, historyStart, asOf)
	if err != nil {
		return nil, err
	}
	obsIngredients, err := b.src.ObservedByIngredient(ctx, machineID, historyStart, asOf)
	if err != nil {
		return nil, err
	}

	var predIngredients []feed.IngredientDayRow
	var predProducts []feed.PredictedProductRow
	if runID != "" {
		anchor, ok, err := b.src.ProjectionAnchor(ctx, runID, machineID, asOf)
		if err != nil {
			return nil, err
		}
		if ok {
			if predIngredients, err = b.src.PredictedIngredients(ctx, runID, machineID, anchor, asOf, forecastEnd); err != nil {
				return nil, err
			}
			if predProducts, err = b.src.PredictedProducts(ctx, runID, machineID, anchor, asOf, forecastEnd); err != nil {
				return nil, err
			}
		} else {
			slog.Debug("no projection anchor for machine, predicted days will be empty",
				"machine_id", machineID, "as_of", asOf)
		}
	}

	totalsByDate := make(map[simday.Date]*Totals, len(totals))
	for _, t := range totals {
		rev, _ := t.Revenue.Float64()
		totalsByDate[t.Date] = &Totals{Units: float64(t.Units), Revenue: rev, CardShare: t.CardShare}
	}
	obsProductsByDate := make(map[simday.Date][]ProductRow)
	for _, r := range obsProducts {
		rev := r.Revenue
		obsProductsByDate[r.Date] = append(obsProductsByDate[r.Date], ProductRow{
			ProductID:   r.ProductID,
			ProductName: b.productName(r.ProductID),
			Units:       r.Units,
			Revenue:     &rev,
		})
	}
	obsIngredientsByDate := make(map[simday.Date][]IngredientRow)
	for _, r := range obsIngredients {
		obsIngredientsByDate[r.Date] = append(obsIngredientsByDate[r.Date], b.ingredientRow(r))
	}
	predProductsByDate := make(map[simday.Date][]ProductRow)
	for _, r := range predProducts {
		predProductsByDate[r.Date] = append(predProductsByDate[r.Date], ProductRow{
			ProductID:   r.ProductID,
			ProductName: b.productName(r.ProductID),
			Units:       r.Units,
		})
	}
	predIngredientsByDate := make(map[simday.Date][]IngredientRow)
	for _, r := range predIngredients {
		predIngredientsByDate[r.Date] = append(predIngredientsByDate[r.Date], b.ingredientRow(r))
	}

	days := make([]Day, 0, b.historyDays+b.forecastDays+1)
	for offset := -(b.historyDays - 1); offset <= 0; offset++ {
		d := asOf.AddDays(offset)
		t := totalsByDate[d]
		if t == nil {
			t = &Totals{}
		}
		days = append(days, Day{
			Kind:         KindObserved,
			Date:         d.String(),
			OffsetDays:   offset,
			Totals:       t,
			ByProduct:    emptyIfNil(obsProductsByDate[d]),
			ByIngredient: emptyIngIfNil(obsIngredientsByDate[d]),
		})
	}
	for offset := 0; offset <= b.forecastDays; offset++ {
		d := asOf.AddDays(offset)
		days = append(days, Day{
			Kind:         KindPredicted,
			Date:         d.String(),
			OffsetDays:   offset,
			ByProduct:    emptyIfNil(predProductsByDate[d]),
			ByIngredient: emptyIngIfNil(predIngredientsByDate[d]),
		})
	}

	return &Context{
		Meta: Meta{AsOfDate: asOf.String(), Currency: currency, RunID: runID},
		IDs:  IDs{LocationID: locationID, MachineID: machineID},
		Entities: Entities{
			Location: LocationMeta{Name: location.Name, Timezone: location.Timezone, Region: location.Region},
			Machine: MachineMeta{
				Name:             machine.Name,
				Model:            machine.Model,
				InstalledAt:      machine.InstalledAt,
				LastServicedAt:   machine.LastServicedAt,
				DaysSinceService: daysSinceService(machine.LastServicedAt, asOf),
			},
		},
		Days:      days,
		Inventory: inv,
		Stats:     computeStats(days),
	}, nil
}

// IngredientName resolves a display name, nil when unknown.
// Exposed for the engine's inventory snapshot assembly.
func (b *Builder) IngredientName(id int64) *string {
	return b.ingredientName(id)
}

func (b *Builder) productName(id int64) *string {
	if name, ok := b.productNames[id]; ok {
		return &name
	}
	return nil
}

func (b *Builder) ingredientName(id int64) *string {
	if name, ok := b.ingredientNames[id]; ok {
		return &name
	}
	return nil
}

func (b *Builder) ingredientRow(r feed.IngredientDayRow) IngredientRow {
	return IngredientRow{
		IngredientID:   r.IngredientID,
		IngredientName: b.ingredientName(r.IngredientID),
		Qty:            r.Quantity,
		Unit:           r.Unit,
	}
}

// computeStats derives window statistics from the observed entries.
// Population stdev, matching what the detector thresholds were tuned on.
func computeStats(days []Day) Stats {
	var units, revenue []float64
	for _, d := range days {
		if d.Kind != KindObserved || d.Totals == nil {
			continue
		}
		units = append(units, d.Totals.Units)
		revenue = append(revenue, d.Totals.Revenue)
	}
	return Stats{
		ObservedDays: len(units),
		UnitsMean:    mean(units),
		UnitsStdev:   stdev(units),
		RevenueMean:  mean(revenue),
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// daysSinceService parses a last-serviced timestamp (date prefix only) and
// returns whole days elapsed as of asOf. Nil when missing or unparseable.
func daysSinceService(lastServicedAt string, asOf simday.Date) *int {
	if len(lastServicedAt) < 10 {
		return nil
	}
	serviced, err := simday.Parse(lastServicedAt[:10])
	if err != nil {
		return nil
	}
	days := serviced.DaysUntil(asOf)
	if days < 0 {
		return nil
	}
	return &days
}

func emptyIfNil(rows []ProductRow) []ProductRow {
	if rows == nil {
		return []ProductRow{}
	}
	return rows
}

func emptyIngIfNil(rows []IngredientRow) []IngredientRow {
	if rows == nil {
		return []IngredientRow{}
	}
	return rows
}
