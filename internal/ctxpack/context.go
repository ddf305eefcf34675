// Package ctxpack builds the immutable per-(location, machine, day) snapshot
// handed to detector scripts. The snapshot is plain data with JSON tags; the
// sandbox encodes it as the single `ctx` input and scripts never see anything
// the builder did not put here.
package ctxpack

import "fmt"

// Context is the script input. All fields are value types; a built Context
// is never mutated after Build returns.
type Context struct {
	Meta      Meta      `json:"meta"`
	IDs       IDs       `json:"ids"`
	Entities  Entities  `json:"entities"`
	Days      []Day     `json:"days"`
	Inventory Inventory `json:"inventory"`
	Stats     Stats     `json:"stats"`
}

// Meta carries run-level metadata.
type Meta struct {
	AsOfDate string `json:"as_of_date"`
	Currency string `json:"currency"`
	RunID    string `json:"run_id"`
}

// IDs carries the scope the context was built for.
type IDs struct {
	LocationID int64 `json:"location_id"`
	MachineID  int64 `json:"machine_id"`
}

// Entities carries resolved entity metadata.
type Entities struct {
	Location LocationMeta `json:"location"`
	Machine  MachineMeta  `json:"machine"`
}

// LocationMeta describes the site.
type LocationMeta struct {
	Name     string `json:"name"`
	Timezone string `json:"timezone"`
	Region   string `json:"region"`
}

// MachineMeta describes the machine. DaysSinceService is precomputed from
// last_serviced_at against the as-of date because scripts have no date
// arithmetic; nil when the service date is missing or unparseable.
type MachineMeta struct {
	Name             string `json:"name"`
	Model            string `json:"model"`
	InstalledAt      string `json:"installed_at"`
	LastServicedAt   string `json:"last_serviced_at"`
	DaysSinceService *int   `json:"days_since_service"`
}

// DayKind tags a timeline entry as observed history or model forecast.
const (
	KindObserved  = "observed"
	KindPredicted = "predicted"
)

// Day is one timeline entry. Observed entries carry offsets in
// [-(history-1), 0]; predicted entries carry offsets in [0, forecast].
// The as-of date therefore appears twice, once per kind.
type Day struct {
	Kind         string          `json:"kind"`
	Date         string          `json:"date"`
	OffsetDays   int             `json:"offset_days"`
	Totals       *Totals         `json:"totals"`
	ByProduct    []ProductRow    `json:"by_product"`
	ByIngredient []IngredientRow `json:"by_ingredient"`
}

// Totals aggregates one observed day. Nil on predicted entries.
type Totals struct {
	Units     float64  `json:"units"`
	Revenue   float64  `json:"revenue"`
	CardShare *float64 `json:"card_share"`
}

// ProductRow is per-product units (and, for observed days, revenue).
// ProductName is nil when the catalog cannot resolve the id; scripts must
// tolerate that rather than the build failing.
type ProductRow struct {
	ProductID   int64    `json:"product_id"`
	ProductName *string  `json:"product_name"`
	Units       float64  `json:"units"`
	Revenue     *float64 `json:"revenue"`
}

// IngredientRow is per-ingredient quantity for one day.
type IngredientRow struct {
	IngredientID   int64   `json:"ingredient_id"`
	IngredientName *string `json:"ingredient_name"`
	Qty            float64 `json:"qty"`
	Unit           string  `json:"unit"`
}

// Inventory is the machine's on-hand snapshot as of the context date.
type Inventory struct {
	SnapshotDate string         `json:"snapshot_date"`
	ByIngredient []InventoryRow `json:"by_ingredient"`
}

// InventoryRow is one ingredient's on-hand state.
type InventoryRow struct {
	IngredientID   int64    `json:"ingredient_id"`
	IngredientName *string  `json:"ingredient_name"`
	QtyOnHand      float64  `json:"qty_on_hand"`
	Unit           string   `json:"unit"`
	Capacity       *float64 `json:"capacity"`
}

// Stats precomputes window statistics over the observed timeline so scripts
// do not re-derive them. Days with no transactions count as zero-unit days.
type Stats struct {
	ObservedDays int     `json:"observed_days"`
	UnitsMean    float64 `json:"units_mean"`
	UnitsStdev   float64 `json:"units_stdev"`
	RevenueMean  float64 `json:"revenue_mean"`
}

// DataUnavailableError reports that the machine or location entity itself
// could not be resolved. This is the only fatal failure mode of a context
// build; sparse or missing series degrade to empty lists instead.
type DataUnavailableError struct {
	LocationID int64
	MachineID  int64
	Err        error
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("context unavailable for location %d machine %d: %v", e.LocationID, e.MachineID, e.Err)
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }
