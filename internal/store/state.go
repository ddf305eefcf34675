package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vendops/vendwatch/internal/simday"
)

// ErrStateNotInitialized is returned when engine_state has no row yet.
var ErrStateNotInitialized = errors.New("engine state not initialized")

// EngineState is the singleton simulation clock row.
type EngineState struct {
	StartDay   simday.Date `json:"start_day"`
	EndDay     simday.Date `json:"end_day"`
	CurrentDay simday.Date `json:"current_day"`
}

// AtEnd reports whether the clock has reached the final day of the window.
func (st EngineState) AtEnd() bool {
	return !st.CurrentDay.Before(st.EndDay)
}

// State returns the engine clock, or ErrStateNotInitialized when the
// database has never been initialized.
func (s *Store) State(ctx context.Context) (EngineState, error) {
	var start, end, current string
	err := s.db.QueryRowContext(ctx,
		`SELECT start_day, end_day, current_day FROM engine_state WHERE id = 1`,
	).Scan(&start, &end, &current)
	if errors.Is(err, sql.ErrNoRows) {
		return EngineState{}, ErrStateNotInitialized
	}
	if err != nil {
		return EngineState{}, fmt.Errorf("query engine state: %w", err)
	}
	return parseState(start, end, current)
}

// InitState installs the simulation window if no state exists yet.
// When a row is already present it is returned unchanged: the window is
// fixed for the lifetime of the database unless Reset recreates it.
func (s *Store) InitState(ctx context.Context, start, end simday.Date) (EngineState, error) {
	if end.Before(start) {
		return EngineState{}, fmt.Errorf("invalid window: end %s before start %s", end, start)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engine_state (id, start_day, end_day, current_day, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		start.String(), end.String(), start.String(), s.timestamp())
	if err != nil {
		return EngineState{}, fmt.Errorf("init engine state: %w", err)
	}
	return s.State(ctx)
}

// SetCurrentDay moves the simulation clock. Callers are responsible for
// enforcing ordering; the store only checks window bounds.
func (s *Store) SetCurrentDay(ctx context.Context, day simday.Date) error {
	st, err := s.State(ctx)
	if err != nil {
		return err
	}
	if day.Before(st.StartDay) || st.EndDay.Before(day) {
		return fmt.Errorf("day %s outside window [%s, %s]", day, st.StartDay, st.EndDay)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE engine_state SET current_day = ?, updated_at = ? WHERE id = 1`,
		day.String(), s.timestamp())
	if err != nil {
		return fmt.Errorf("set current day: %w", err)
	}
	return nil
}

// Reset rewinds the clock to the start of the window and clears all
// derived state: alerts, inventory, manager actions, suppressions and
// the run log. Script revisions and settings survive a reset.
func (s *Store) Reset(ctx context.Context) (EngineState, error) {
	st, err := s.State(ctx)
	if err != nil {
		return EngineState{}, err
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM alerts`,
			`DELETE FROM inventory_state`,
			`DELETE FROM manager_actions`,
			`DELETE FROM suppressions`,
			`DELETE FROM run_log`,
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE engine_state SET current_day = start_day, updated_at = ? WHERE id = 1`,
			s.timestamp())
		if err != nil {
			return fmt.Errorf("reset clock: %w", err)
		}
		return nil
	})
	if err != nil {
		return EngineState{}, err
	}
	st.CurrentDay = st.StartDay
	return st, nil
}

func parseState(start, end, current string) (EngineState, error) {
	var st EngineState
	var err error
	if st.StartDay, err = simday.Parse(start); err != nil {
		return EngineState{}, fmt.Errorf("corrupt start_day: %w", err)
	}
	if st.EndDay, err = simday.Parse(end); err != nil {
		return EngineState{}, fmt.Errorf("corrupt end_day: %w", err)
	}
	if st.CurrentDay, err = simday.Parse(current); err != nil {
		return EngineState{}, fmt.Errorf("corrupt current_day: %w", err)
	}
	return st, nil
}
