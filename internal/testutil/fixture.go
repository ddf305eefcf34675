// Package testutil builds throwaway SQLite fixtures shaped like the
// production feed databases, so engine and context tests can run against
// realistic data without shipping binary fixtures.
package testutil

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/vendops/vendwatch/internal/feed"
)

// Fixture owns the three feed databases for one test.
type Fixture struct {
	t     *testing.T
	Paths feed.Paths

	facts    *sql.DB
	observed *sql.DB
	analysis *sql.DB
}

// NewFixture creates empty facts/observed/analysis databases under the
// test's temp dir and installs the feed schemas. Connections are closed
// automatically on test cleanup.
func NewFixture(t *testing.T) *Fixture {
	t.Helper()
	dir := t.TempDir()
	f := &Fixture{
		t: t,
		Paths: feed.Paths{
			FactsDB:    filepath.Join(dir, "facts.db"),
			ObservedDB: filepath.Join(dir, "observed.db"),
			AnalysisDB: filepath.Join(dir, "analysis.db"),
		},
	}
	f.facts = f.open(f.Paths.FactsDB)
	f.observed = f.open(f.Paths.ObservedDB)
	f.analysis = f.open(f.Paths.AnalysisDB)

	f.exec(f.facts, `
		CREATE TABLE location (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			timezone TEXT,
			region TEXT
		);
		CREATE TABLE machine (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			model TEXT NOT NULL,
			serial_number TEXT,
			installed_at TEXT,
			last_serviced_at TEXT,
			location_id INTEGER NOT NULL
		);
		CREATE TABLE product (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
		CREATE TABLE ingredient (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
		CREATE TABLE machine_ingredient_capacity (
			machine_model TEXT NOT NULL,
			ingredient_id INTEGER NOT NULL,
			capacity REAL NOT NULL,
			unit TEXT NOT NULL
		);
	`)
	f.exec(f.observed, `
		CREATE TABLE transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date TEXT NOT NULL,
			location_id INTEGER NOT NULL,
			machine_id INTEGER NOT NULL,
			amount TEXT NOT NULL,
			cash_type TEXT NOT NULL,
			currency TEXT NOT NULL DEFAULT 'USD'
		);
		CREATE TABLE daily_product_sales (
			date TEXT NOT NULL,
			location_id INTEGER NOT NULL,
			machine_id INTEGER NOT NULL,
			product_id INTEGER NOT NULL,
			units_sold REAL NOT NULL,
			revenue REAL NOT NULL
		);
		CREATE TABLE daily_ingredient_consumption (
			date TEXT NOT NULL,
			machine_id INTEGER NOT NULL,
			ingredient_id INTEGER NOT NULL,
			total_quantity REAL NOT NULL,
			unit TEXT NOT NULL
		);
	`)
	f.exec(f.analysis, `
		CREATE TABLE sim_run (id TEXT PRIMARY KEY, created_at TEXT NOT NULL);
		CREATE TABLE daily_ingredient_projection (
			run_id TEXT NOT NULL,
			machine_id INTEGER NOT NULL,
			projection_date TEXT NOT NULL,
			forecast_date TEXT NOT NULL,
			ingredient_id INTEGER NOT NULL,
			forecast_quantity REAL NOT NULL,
			unit TEXT NOT NULL
		);
		CREATE TABLE daily_product_projection (
			run_id TEXT NOT NULL,
			machine_id INTEGER NOT NULL,
			projection_date TEXT NOT NULL,
			forecast_date TEXT NOT NULL,
			product_id INTEGER,
			forecast_units REAL NOT NULL
		);
	`)
	return f
}

func (f *Fixture) open(path string) *sql.DB {
	f.t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { db.Close() })
	return db
}

func (f *Fixture) exec(db *sql.DB, query string, args ...any) {
	f.t.Helper()
	_, err := db.Exec(query, args...)
	require.NoError(f.t, err)
}

// AddLocation inserts a location.
func (f *Fixture) AddLocation(id int64, name string) {
	f.exec(f.facts, `INSERT INTO location (id, name, timezone, region) VALUES (?, ?, 'UTC', 'test')`, id, name)
}

// AddMachine inserts a machine at a location.
func (f *Fixture) AddMachine(id, locationID int64, name, model, lastServicedAt string) {
	f.exec(f.facts, `
		INSERT INTO machine (id, name, model, serial_number, installed_at, last_serviced_at, location_id)
		VALUES (?, ?, ?, 'SN-'||?, '2024-01-01', ?, ?)`,
		id, name, model, id, lastServicedAt, locationID)
}

// AddProduct inserts a product.
func (f *Fixture) AddProduct(id int64, name string) {
	f.exec(f.facts, `INSERT INTO product (id, name) VALUES (?, ?)`, id, name)
}

// AddIngredient inserts an ingredient.
func (f *Fixture) AddIngredient(id int64, name string) {
	f.exec(f.facts, `INSERT INTO ingredient (id, name) VALUES (?, ?)`, id, name)
}

// AddCapacity inserts a hopper capacity for a machine model.
func (f *Fixture) AddCapacity(model string, ingredientID int64, capacity float64, unit string) {
	f.exec(f.facts, `
		INSERT INTO machine_ingredient_capacity (machine_model, ingredient_id, capacity, unit)
		VALUES (?, ?, ?, ?)`, model, ingredientID, capacity, unit)
}

// AddTransactions inserts n identical transactions on one day.
func (f *Fixture) AddTransactions(date string, locationID, machineID int64, n int, amount, cashType string) {
	for i := 0; i < n; i++ {
		f.exec(f.observed, `
			INSERT INTO transactions (date, location_id, machine_id, amount, cash_type, currency)
			VALUES (?, ?, ?, ?, ?, 'USD')`, date, locationID, machineID, amount, cashType)
	}
}

// AddProductSales inserts one (day, product) sales aggregate.
func (f *Fixture) AddProductSales(date string, locationID, machineID, productID int64, units, revenue float64) {
	f.exec(f.observed, `
		INSERT INTO daily_product_sales (date, location_id, machine_id, product_id, units_sold, revenue)
		VALUES (?, ?, ?, ?, ?, ?)`, date, locationID, machineID, productID, units, revenue)
}

// AddConsumption inserts one (day, ingredient) observed consumption row.
func (f *Fixture) AddConsumption(date string, machineID, ingredientID int64, quantity float64, unit string) {
	f.exec(f.observed, `
		INSERT INTO daily_ingredient_consumption (date, machine_id, ingredient_id, total_quantity, unit)
		VALUES (?, ?, ?, ?, ?)`, date, machineID, ingredientID, quantity, unit)
}

// AddForecastRun inserts a forecast run.
func (f *Fixture) AddForecastRun(runID, createdAt string) {
	f.exec(f.analysis, `INSERT INTO sim_run (id, created_at) VALUES (?, ?)`, runID, createdAt)
}

// AddIngredientProjection inserts one forecast ingredient row.
func (f *Fixture) AddIngredientProjection(runID string, machineID int64, projectionDate, forecastDate string, ingredientID int64, quantity float64, unit string) {
	f.exec(f.analysis, `
		INSERT INTO daily_ingredient_projection
			(run_id, machine_id, projection_date, forecast_date, ingredient_id, forecast_quantity, unit)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, machineID, projectionDate, forecastDate, ingredientID, quantity, unit)
}

// AddProductProjection inserts one forecast product row.
func (f *Fixture) AddProductProjection(runID string, machineID int64, projectionDate, forecastDate string, productID int64, units float64) {
	f.exec(f.analysis, `
		INSERT INTO daily_product_projection
			(run_id, machine_id, projection_date, forecast_date, product_id, forecast_units)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, machineID, projectionDate, forecastDate, productID, units)
}

// Source opens the fixture's databases through the production feed layer.
func (f *Fixture) Source() *feed.Source {
	f.t.Helper()
	src, err := feed.Open(f.Paths)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { src.Close() })
	return src
}

// Describe returns a short human label for debugging failed tests.
func (f *Fixture) Describe() string {
	return fmt.Sprintf("fixture at %s", filepath.Dir(f.Paths.FactsDB))
}
