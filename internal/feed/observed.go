package feed

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vendops/vendwatch/internal/simday"
)

// DayTotals aggregates one machine-day of observed transactions.
// Revenue is accumulated as a decimal: summing per-transaction amounts as
// binary floats drifts after a few thousand rows and the totals land in
// alert evidence, where two runs must agree to the byte.
type DayTotals struct {
	Date      simday.Date
	Units     int64
	Revenue   decimal.Decimal
	CardShare *float64 // nil when the day has no transactions
}

// ObservedDaily returns per-day transaction totals for a machine over
// [from, to], one entry per day that has at least one transaction.
func (s *Source) ObservedDaily(ctx context.Context, locationID, machineID int64, from, to simday.Date) ([]DayTotals, error) {
	rows, err := s.observed.QueryContext(ctx, `
		SELECT date, amount, cash_type
		FROM transactions
		WHERE location_id = ? AND machine_id = ? AND date BETWEEN ? AND ?
		ORDER BY date, id
	`, locationID, machineID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("observed daily totals: %w", err)
	}
	defer rows.Close()

	var out []DayTotals
	var cur *DayTotals
	var cardCount int64
	flush := func() {
		if cur == nil {
			return
		}
		share := float64(cardCount) / float64(cur.Units)
		cur.CardShare = &share
		out = append(out, *cur)
		cur, cardCount = nil, 0
	}
	for rows.Next() {
		var dateStr, amountStr, cashType string
		if err := rows.Scan(&dateStr, &amountStr, &cashType); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		day, err := simday.Parse(dateStr)
		if err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("transaction amount %q: %w", amountStr, err)
		}
		if cur == nil || cur.Date != day {
			flush()
			cur = &DayTotals{Date: day}
		}
		cur.Units++
		cur.Revenue = cur.Revenue.Add(amount)
		if cashType == "card" {
			cardCount++
		}
	}
	flush()
	return out, rows.Err()
}

// ProductDayRow is one (day, product) observed sales aggregate.
type ProductDayRow struct {
	Date      simday.Date
	ProductID int64
	Units     float64
	Revenue   float64
}

// ObservedByProduct returns per-day per-product sales for a machine over [from, to].
func (s *Source) ObservedByProduct(ctx context.Context, locationID, machineID int64, from, to simday.Date) ([]ProductDayRow, error) {
	rows, err := s.observed.QueryContext(ctx, `
		SELECT date, product_id, SUM(units_sold), SUM(revenue)
		FROM daily_product_sales
		WHERE location_id = ? AND machine_id = ? AND date BETWEEN ? AND ?
		GROUP BY date, product_id
		ORDER BY date, product_id
	`, locationID, machineID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("observed product sales: %w", err)
	}
	defer rows.Close()

	var out []ProductDayRow
	for rows.Next() {
		var r ProductDayRow
		var dateStr string
		if err := rows.Scan(&dateStr, &r.ProductID, &r.Units, &r.Revenue); err != nil {
			return nil, fmt.Errorf("scan product sales: %w", err)
		}
		if r.Date, err = simday.Parse(dateStr); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// IngredientDayRow is one (day, ingredient) consumption or forecast row.
type IngredientDayRow struct {
	Date         simday.Date
	IngredientID int64
	Quantity     float64
	Unit         string
}

// ObservedByIngredient returns per-day ingredient consumption for a machine
// over [from, to].
func (s *Source) ObservedByIngredient(ctx context.Context, machineID int64, from, to simday.Date) ([]IngredientDayRow, error) {
	rows, err := s.observed.QueryContext(ctx, `
		SELECT date, ingredient_id, total_quantity, unit
		FROM daily_ingredient_consumption
		WHERE machine_id = ? AND date BETWEEN ? AND ?
		ORDER BY date, ingredient_id
	`, machineID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("observed ingredient consumption: %w", err)
	}
	defer rows.Close()
	return scanIngredientRows(rows)
}

func scanIngredientRows(rows *sql.Rows) ([]IngredientDayRow, error) {
	var out []IngredientDayRow
	for rows.Next() {
		var r IngredientDayRow
		var dateStr string
		if err := rows.Scan(&dateStr, &r.IngredientID, &r.Quantity, &r.Unit); err != nil {
			return nil, fmt.Errorf("scan ingredient row: %w", err)
		}
		var err error
		if r.Date, err = simday.Parse(dateStr); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LocationCurrencies maps each location to the currency of its most recent
// transaction. Locations with no transactions are absent; callers fall back
// to USD.
func (s *Source) LocationCurrencies(ctx context.Context) (map[int64]string, error) {
	rows, err := s.observed.QueryContext(ctx, `
		SELECT location_id, currency
		FROM (
			SELECT location_id, currency,
			       ROW_NUMBER() OVER (PARTITION BY location_id ORDER BY date DESC, id DESC) AS rn
			FROM transactions
		)
		WHERE rn = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("location currencies: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]string)
	for rows.Next() {
		var id int64
		var cur string
		if err := rows.Scan(&id, &cur); err != nil {
			return nil, fmt.Errorf("scan currency: %w", err)
		}
		out[id] = cur
	}
	return out, rows.Err()
}

// TransactionDateRange returns the observed [min, max] transaction dates.
// Used to derive the simulation window on first run.
func (s *Source) TransactionDateRange(ctx context.Context) (min, max simday.Date, err error) {
	row := s.observed.QueryRowContext(ctx, `SELECT MIN(date), MAX(date) FROM transactions`)
	var minStr, maxStr sql.NullString
	if err := row.Scan(&minStr, &maxStr); err != nil {
		return simday.Date{}, simday.Date{}, fmt.Errorf("transaction date range: %w", err)
	}
	if !minStr.Valid || !maxStr.Valid {
		return simday.Date{}, simday.Date{}, fmt.Errorf("transactions table has no date range")
	}
	if min, err = simday.Parse(minStr.String); err != nil {
		return simday.Date{}, simday.Date{}, err
	}
	if max, err = simday.Parse(maxStr.String); err != nil {
		return simday.Date{}, simday.Date{}, err
	}
	return min, max, nil
}
