package store

import (
	"context"
	"fmt"

	"github.com/vendops/vendwatch/internal/simday"
)

// RunRecord summarizes one completed daily run.
type RunRecord struct {
	RunDate         simday.Date `json:"run_date"`
	ExecutedScripts int         `json:"executed_scripts"`
	EmittedAlerts   int         `json:"emitted_alerts"`
}

// HasRun reports whether a daily run already completed for the day.
func (s *Store) HasRun(ctx context.Context, day simday.Date) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM run_log WHERE run_date = ?`, day.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query run log: %w", err)
	}
	return n > 0, nil
}

// RecordRun marks a daily run as completed. Re-recording the same day
// overwrites the counters; the run itself is expected to be idempotent.
func (s *Store) RecordRun(ctx context.Context, rec RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_log (run_date, executed_scripts, emitted_alerts, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (run_date)
		DO UPDATE SET executed_scripts = excluded.executed_scripts,
		              emitted_alerts = excluded.emitted_alerts,
		              created_at = excluded.created_at`,
		rec.RunDate.String(), rec.ExecutedScripts, rec.EmittedAlerts, s.timestamp())
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RunLog returns all completed runs in day order.
func (s *Store) RunLog(ctx context.Context) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_date, executed_scripts, emitted_alerts
		FROM run_log ORDER BY run_date`)
	if err != nil {
		return nil, fmt.Errorf("query run log: %w", err)
	}
	defer rows.Close()

	var recs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var day string
		if err := rows.Scan(&day, &rec.ExecutedScripts, &rec.EmittedAlerts); err != nil {
			return nil, fmt.Errorf("scan run record: %w", err)
		}
		if rec.RunDate, err = simday.Parse(day); err != nil {
			return nil, fmt.Errorf("corrupt run_date: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
