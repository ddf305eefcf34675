package feed

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vendops/vendwatch/internal/simday"
)

// LatestRunID returns the most recent forecast run id, or "" when the
// analysis database has none. A missing run degrades every predicted series
// to empty; it never fails a context build.
func (s *Source) LatestRunID(ctx context.Context) (string, error) {
	row := s.analysis.QueryRowContext(ctx,
		`SELECT id FROM sim_run ORDER BY created_at DESC, id DESC LIMIT 1`)
	var id string
	err := row.Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest run id: %w", err)
	}
	return id, nil
}

// ProjectionAnchor picks the projection snapshot to read forecasts from:
// the newest projection_date at or before asOf, falling back to the newest
// available one. Returns ok=false when the machine has no projections.
func (s *Source) ProjectionAnchor(ctx context.Context, runID string, machineID int64, asOf simday.Date) (simday.Date, bool, error) {
	row := s.analysis.QueryRowContext(ctx, `
		SELECT COALESCE(
			(SELECT MAX(projection_date) FROM daily_ingredient_projection
			 WHERE run_id = ? AND machine_id = ? AND projection_date <= ?),
			(SELECT MAX(projection_date) FROM daily_ingredient_projection
			 WHERE run_id = ? AND machine_id = ?)
		)
	`, runID, machineID, asOf.String(), runID, machineID)

	var anchor sql.NullString
	if err := row.Scan(&anchor); err != nil {
		return simday.Date{}, false, fmt.Errorf("projection anchor: %w", err)
	}
	if !anchor.Valid {
		return simday.Date{}, false, nil
	}
	d, err := simday.Parse(anchor.String)
	if err != nil {
		return simday.Date{}, false, err
	}
	return d, true, nil
}

// PredictedIngredients returns forecast ingredient draw for a machine over
// [from, to], read from the given projection anchor.
func (s *Source) PredictedIngredients(ctx context.Context, runID string, machineID int64, anchor, from, to simday.Date) ([]IngredientDayRow, error) {
	rows, err := s.analysis.QueryContext(ctx, `
		SELECT forecast_date, ingredient_id, forecast_quantity, unit
		FROM daily_ingredient_projection
		WHERE run_id = ? AND machine_id = ? AND projection_date = ?
		  AND forecast_date BETWEEN ? AND ?
		ORDER BY forecast_date, ingredient_id
	`, runID, machineID, anchor.String(), from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("predicted ingredients: %w", err)
	}
	defer rows.Close()
	return scanIngredientRows(rows)
}

// PredictedConsumption returns the forecast ingredient draw for one machine
// on one day, keyed by ingredient id. The projection anchor is resolved the
// same way context building resolves it, so the inventory progressor and the
// script context always agree on the drawdown.
func (s *Source) PredictedConsumption(ctx context.Context, machineID int64, day simday.Date) (map[int64]IngredientDayRow, error) {
	runID, err := s.LatestRunID(ctx)
	if err != nil {
		return nil, err
	}
	if runID == "" {
		return map[int64]IngredientDayRow{}, nil
	}
	anchor, ok, err := s.ProjectionAnchor(ctx, runID, machineID, day)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[int64]IngredientDayRow{}, nil
	}
	rows, err := s.PredictedIngredients(ctx, runID, machineID, anchor, day, day)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]IngredientDayRow, len(rows))
	for _, r := range rows {
		out[r.IngredientID] = r
	}
	return out, nil
}

// PredictedProductRow is one (day, product) forecast row.
type PredictedProductRow struct {
	Date      simday.Date
	ProductID int64
	Units     float64
}

// PredictedProducts returns forecast product sales for a machine over
// [from, to], read from the given projection anchor.
func (s *Source) PredictedProducts(ctx context.Context, runID string, machineID int64, anchor, from, to simday.Date) ([]PredictedProductRow, error) {
	rows, err := s.analysis.QueryContext(ctx, `
		SELECT forecast_date, product_id, SUM(forecast_units)
		FROM daily_product_projection
		WHERE run_id = ? AND machine_id = ? AND projection_date = ?
		  AND forecast_date BETWEEN ? AND ? AND product_id IS NOT NULL
		GROUP BY forecast_date, product_id
		ORDER BY forecast_date, product_id
	`, runID, machineID, anchor.String(), from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("predicted products: %w", err)
	}
	defer rows.Close()

	var out []PredictedProductRow
	for rows.Next() {
		var r PredictedProductRow
		var dateStr string
		if err := rows.Scan(&dateStr, &r.ProductID, &r.Units); err != nil {
			return nil, fmt.Errorf("scan predicted product: %w", err)
		}
		if r.Date, err = simday.Parse(dateStr); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
