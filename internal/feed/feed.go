// Package feed exposes the three read-only historical data sources the
// engine replays against: the facts catalog (locations, machines, products,
// ingredients, capacities), the observed transaction history, and the
// forecast/analysis output of the demand model.
//
// Source data is immutable for elapsed days, so reads are safe to issue
// concurrently from the per-machine worker pool.
package feed

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Paths locates the three source databases on disk.
type Paths struct {
	FactsDB    string `yaml:"facts_db"`
	ObservedDB string `yaml:"observed_db"`
	AnalysisDB string `yaml:"analysis_db"`
}

// Source holds read-only connections to the three databases.
type Source struct {
	facts    *sql.DB
	observed *sql.DB
	analysis *sql.DB
}

// Open opens all three databases read-only.
func Open(p Paths) (*Source, error) {
	s := &Source{}
	var err error
	if s.facts, err = openReadOnly(p.FactsDB); err != nil {
		return nil, fmt.Errorf("open facts db: %w", err)
	}
	if s.observed, err = openReadOnly(p.ObservedDB); err != nil {
		s.Close()
		return nil, fmt.Errorf("open observed db: %w", err)
	}
	if s.analysis, err = openReadOnly(p.AnalysisDB); err != nil {
		s.Close()
		return nil, fmt.Errorf("open analysis db: %w", err)
	}
	return s, nil
}

func openReadOnly(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Close closes all open connections. Safe on a partially opened Source.
func (s *Source) Close() error {
	var first error
	for _, db := range []*sql.DB{s.facts, s.observed, s.analysis} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NotFoundError reports a missing entity in the facts catalog.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// Machine is a vending machine joined with its location metadata.
type Machine struct {
	ID             int64
	Name           string
	Model          string
	SerialNumber   string
	InstalledAt    string
	LastServicedAt string
	LocationID     int64
	LocationName   string
}

// Location is a site hosting one or more machines.
type Location struct {
	ID       int64
	Name     string
	Timezone string
	Region   string
}

// Capacity is the hopper capacity of one ingredient for one machine model.
type Capacity struct {
	MachineModel   string
	IngredientID   int64
	IngredientName string
	Capacity       float64
	Unit           string
}

// Machines lists every machine in deterministic (location, machine) order.
func (s *Source) Machines(ctx context.Context) ([]Machine, error) {
	rows, err := s.facts.QueryContext(ctx, `
		SELECT m.id, m.name, m.model, COALESCE(m.serial_number, ''),
		       COALESCE(m.installed_at, ''), COALESCE(m.last_serviced_at, ''),
		       m.location_id, l.name
		FROM machine m
		JOIN location l ON l.id = m.location_id
		ORDER BY m.location_id, m.id
	`)
	if err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	defer rows.Close()

	var out []Machine
	for rows.Next() {
		var m Machine
		if err := rows.Scan(&m.ID, &m.Name, &m.Model, &m.SerialNumber,
			&m.InstalledAt, &m.LastServicedAt, &m.LocationID, &m.LocationName); err != nil {
			return nil, fmt.Errorf("scan machine: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Machine resolves a single machine, checking it belongs to the location.
func (s *Source) Machine(ctx context.Context, locationID, machineID int64) (*Machine, error) {
	row := s.facts.QueryRowContext(ctx, `
		SELECT m.id, m.name, m.model, COALESCE(m.serial_number, ''),
		       COALESCE(m.installed_at, ''), COALESCE(m.last_serviced_at, ''),
		       m.location_id, l.name
		FROM machine m
		JOIN location l ON l.id = m.location_id
		WHERE m.id = ? AND m.location_id = ?
	`, machineID, locationID)

	var m Machine
	err := row.Scan(&m.ID, &m.Name, &m.Model, &m.SerialNumber,
		&m.InstalledAt, &m.LastServicedAt, &m.LocationID, &m.LocationName)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Entity: "machine", ID: machineID}
	}
	if err != nil {
		return nil, fmt.Errorf("lookup machine %d: %w", machineID, err)
	}
	return &m, nil
}

// Location resolves a single location.
func (s *Source) Location(ctx context.Context, id int64) (*Location, error) {
	row := s.facts.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(timezone, ''), COALESCE(region, '')
		FROM location WHERE id = ?
	`, id)
	var l Location
	err := row.Scan(&l.ID, &l.Name, &l.Timezone, &l.Region)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Entity: "location", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("lookup location %d: %w", id, err)
	}
	return &l, nil
}

// Capacities lists hopper capacities for every (model, ingredient) pair.
func (s *Source) Capacities(ctx context.Context) ([]Capacity, error) {
	rows, err := s.facts.QueryContext(ctx, `
		SELECT cap.machine_model, cap.ingredient_id, i.name, cap.capacity, cap.unit
		FROM machine_ingredient_capacity cap
		JOIN ingredient i ON i.id = cap.ingredient_id
		ORDER BY cap.machine_model, cap.ingredient_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list capacities: %w", err)
	}
	defer rows.Close()

	var out []Capacity
	for rows.Next() {
		var c Capacity
		if err := rows.Scan(&c.MachineModel, &c.IngredientID, &c.IngredientName, &c.Capacity, &c.Unit); err != nil {
			return nil, fmt.Errorf("scan capacity: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ProductNames returns the product id → display name lookup.
func (s *Source) ProductNames(ctx context.Context) (map[int64]string, error) {
	return s.nameLookup(ctx, "product")
}

// IngredientNames returns the ingredient id → display name lookup.
func (s *Source) IngredientNames(ctx context.Context) (map[int64]string, error) {
	return s.nameLookup(ctx, "ingredient")
}

func (s *Source) nameLookup(ctx context.Context, table string) (map[int64]string, error) {
	rows, err := s.facts.QueryContext(ctx, `SELECT id, name FROM `+table)
	if err != nil {
		return nil, fmt.Errorf("list %s names: %w", table, err)
	}
	defer rows.Close()

	out := make(map[int64]string)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan %s name: %w", table, err)
		}
		out[id] = name
	}
	return out, rows.Err()
}
