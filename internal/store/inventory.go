package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vendops/vendwatch/internal/simday"
)

// Inventory row provenance.
const (
	InventorySourceSeed     = "seed"
	InventorySourceDrawdown = "drawdown"
	InventorySourceRestock  = "restock"
)

// InventoryRow is one ingredient's on-hand state for one machine on one
// simulated day.
type InventoryRow struct {
	Day          simday.Date `json:"day"`
	MachineID    int64       `json:"machine_id"`
	IngredientID int64       `json:"ingredient_id"`
	OnHandQty    float64     `json:"on_hand_qty"`
	Capacity     *float64    `json:"capacity"`
	Unit         string      `json:"unit"`
	Source       string      `json:"source"`
}

// WriteInventoryDay persists one machine's full ingredient snapshot for a
// day in a single transaction. Writing a (day, machine, ingredient) cell
// twice is an error: progression must be advanced exactly once per day.
func (s *Store) WriteInventoryDay(ctx context.Context, rows []InventoryRow) error {
	if len(rows) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO inventory_state
				(day, machine_id, ingredient_id, on_hand_qty, capacity, unit, source)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare inventory insert: %w", err)
		}
		defer stmt.Close()
		for _, r := range rows {
			var capacity any
			if r.Capacity != nil {
				capacity = *r.Capacity
			}
			if _, err := stmt.ExecContext(ctx,
				r.Day.String(), r.MachineID, r.IngredientID,
				r.OnHandQty, capacity, r.Unit, r.Source); err != nil {
				return fmt.Errorf("insert inventory %s machine %d ingredient %d: %w",
					r.Day, r.MachineID, r.IngredientID, err)
			}
		}
		return nil
	})
}

// InventoryForDay returns one machine's snapshot for a day, keyed by
// ingredient. Empty map when the day has no rows.
func (s *Store) InventoryForDay(ctx context.Context, machineID int64, day simday.Date) (map[int64]InventoryRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT day, machine_id, ingredient_id, on_hand_qty, capacity, unit, source
		FROM inventory_state
		WHERE machine_id = ? AND day = ?
		ORDER BY ingredient_id`,
		machineID, day.String())
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]InventoryRow)
	for rows.Next() {
		r, err := scanInventoryRow(rows)
		if err != nil {
			return nil, err
		}
		out[r.IngredientID] = r
	}
	return out, rows.Err()
}

// LatestInventoryDay returns the most recent day with inventory rows for
// the machine at or before the given day. ok is false when none exists.
func (s *Store) LatestInventoryDay(ctx context.Context, machineID int64, atOrBefore simday.Date) (simday.Date, bool, error) {
	var day sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(day) FROM inventory_state
		WHERE machine_id = ? AND day <= ?`,
		machineID, atOrBefore.String()).Scan(&day)
	if err != nil {
		return simday.Date{}, false, fmt.Errorf("query latest inventory day: %w", err)
	}
	if !day.Valid {
		return simday.Date{}, false, nil
	}
	d, err := simday.Parse(day.String)
	if err != nil {
		return simday.Date{}, false, fmt.Errorf("corrupt inventory day: %w", err)
	}
	return d, true, nil
}

// HasInventoryForDay reports whether the machine already has rows for the
// day. Used to keep daily progression idempotent.
func (s *Store) HasInventoryForDay(ctx context.Context, machineID int64, day simday.Date) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM inventory_state WHERE machine_id = ? AND day = ?`,
		machineID, day.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query inventory presence: %w", err)
	}
	return n > 0, nil
}

func scanInventoryRow(rows *sql.Rows) (InventoryRow, error) {
	var r InventoryRow
	var day string
	var capacity sql.NullFloat64
	if err := rows.Scan(&day, &r.MachineID, &r.IngredientID,
		&r.OnHandQty, &capacity, &r.Unit, &r.Source); err != nil {
		return InventoryRow{}, fmt.Errorf("scan inventory row: %w", err)
	}
	d, err := simday.Parse(day)
	if err != nil {
		return InventoryRow{}, fmt.Errorf("corrupt inventory day: %w", err)
	}
	r.Day = d
	if capacity.Valid {
		v := capacity.Float64
		r.Capacity = &v
	}
	return r, nil
}
