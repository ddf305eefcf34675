package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vendops/vendwatch/internal/alert"
	"github.com/vendops/vendwatch/internal/simday"
)

// ErrAlertNotFound is returned when an alert id does not exist.
var ErrAlertNotFound = errors.New("alert not found")

const alertColumns = `alert_id, created_at, run_date, script_name, script_version,
	fingerprint, evidence_hash, severity, alert_type,
	location_id, machine_id, product_id, ingredient_id,
	title, summary, evidence_json, recommended_actions_json,
	status, snoozed_until, decision, decision_note, decided_at`

// UpsertResult reports what the dedup engine did with one candidate.
type UpsertResult struct {
	Decision alert.Decision
	// Alert is the resulting stored row. Nil when the candidate was
	// suppressed (cooldown or suppression window).
	Alert *alert.Alert
}

// UpsertAlert applies the dedup state machine to one validated candidate.
//
// The candidate's fingerprint is computed from its identity fields, the
// evidence hash from its volatile-stripped evidence. The existing live
// (OPEN or SNOOZED) alert for the fingerprint, if any, determines the
// outcome via alert.Decide: insert a fresh row, overwrite the existing
// row in place keeping its alert_id, or suppress the candidate.
//
// A suppression window covering the candidate's scope suppresses it
// before dedup is consulted.
//
// Must only be called from the single engine writer; the partial unique
// index on live fingerprints backstops that assumption.
func (s *Store) UpsertAlert(ctx context.Context, scriptName, scriptVersion string, runDate simday.Date, cooldownDays int, c *alert.Candidate) (UpsertResult, error) {
	fp, err := alert.Fingerprint(scriptName, c)
	if err != nil {
		return UpsertResult{}, err
	}
	evHash, err := alert.EvidenceHash(c.Evidence)
	if err != nil {
		return UpsertResult{}, err
	}

	suppressed, err := s.IsSuppressed(ctx, c.AlertType, c.LocationID, c.MachineID, runDate)
	if err != nil {
		return UpsertResult{}, err
	}
	if suppressed {
		return UpsertResult{Decision: alert.DecisionSuppress}, nil
	}

	var result UpsertResult
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanOptionalAlert(tx.QueryRowContext(ctx,
			`SELECT `+alertColumns+` FROM alerts
			 WHERE fingerprint = ? AND status IN ('OPEN', 'SNOOZED')`, fp))
		if err != nil {
			return fmt.Errorf("query live alert: %w", err)
		}

		decision := alert.Decide(existing, evHash, runDate, cooldownDays)
		result.Decision = decision

		switch decision {
		case alert.DecisionSuppress:
			return nil

		case alert.DecisionInsert:
			row := buildAlertRow(uuid.Must(uuid.NewV7()).String(), s.now(), runDate,
				scriptName, scriptVersion, fp, evHash, c)
			if err := insertAlert(ctx, tx, row); err != nil {
				return err
			}
			result.Alert = row
			return nil

		case alert.DecisionOverwrite:
			row := buildAlertRow(existing.AlertID, s.now(), runDate,
				scriptName, scriptVersion, fp, evHash, c)
			// A snooze that has not yet expired survives an overwrite.
			if existing.Status == alert.StatusSnoozed &&
				existing.SnoozedUntil != nil && runDate.Before(*existing.SnoozedUntil) {
				row.Status = alert.StatusSnoozed
				row.SnoozedUntil = existing.SnoozedUntil
			}
			if err := overwriteAlert(ctx, tx, row); err != nil {
				return err
			}
			result.Alert = row
			return nil
		}
		return fmt.Errorf("unhandled merge decision %v", decision)
	})
	if err != nil {
		return UpsertResult{}, err
	}
	return result, nil
}

// Alert fetches one alert by id.
func (s *Store) Alert(ctx context.Context, alertID string) (*alert.Alert, error) {
	a, err := scanOptionalAlert(s.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE alert_id = ?`, alertID))
	if err != nil {
		return nil, fmt.Errorf("query alert %s: %w", alertID, err)
	}
	if a == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
	}
	return a, nil
}

// ListFilter narrows ListAlerts. Zero values mean "no filter".
type ListFilter struct {
	Status     alert.Status
	LocationID int64
	MachineID  int64
	ScriptName string
	Limit      int
}

// ListAlerts returns alerts newest-first, optionally filtered.
func (s *Store) ListAlerts(ctx context.Context, f ListFilter) ([]*alert.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.LocationID != 0 {
		query += ` AND location_id = ?`
		args = append(args, f.LocationID)
	}
	if f.MachineID != 0 {
		query += ` AND machine_id = ?`
		args = append(args, f.MachineID)
	}
	if f.ScriptName != "" {
		query += ` AND script_name = ?`
		args = append(args, f.ScriptName)
	}
	query += ` ORDER BY run_date DESC, created_at DESC, alert_id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*alert.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// ScheduledAction is a manager action queued by accepting an alert.
type ScheduledAction struct {
	ActionType    alert.ActionType `json:"action_type"`
	MachineID     int64            `json:"machine_id"`
	LocationID    int64            `json:"location_id"`
	EffectiveDate simday.Date      `json:"effective_date"`
}

// AcceptResult is the outcome of resolving an alert.
type AcceptResult struct {
	Alert     *alert.Alert      `json:"alert"`
	Scheduled []ScheduledAction `json:"scheduled_actions"`
}

// AcceptAlert resolves an alert and schedules its machine-scoped
// recommended actions as manager actions effective the next simulated
// day. Already-resolved alerts are rejected. Scheduling is idempotent:
// a duplicate (machine, date, action type) is silently skipped.
func (s *Store) AcceptAlert(ctx context.Context, alertID, note string, currentDay simday.Date) (AcceptResult, error) {
	a, err := s.Alert(ctx, alertID)
	if err != nil {
		return AcceptResult{}, err
	}
	if a.Status == alert.StatusResolved {
		return AcceptResult{}, fmt.Errorf("alert %s is already resolved", alertID)
	}

	effective := currentDay.AddDays(1)
	var result AcceptResult
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		_, err := tx.ExecContext(ctx, `
			UPDATE alerts
			SET status = ?, snoozed_until = NULL, decision = 'ACCEPTED',
			    decision_note = ?, decided_at = ?
			WHERE alert_id = ?`,
			string(alert.StatusResolved), note, now.Format(time.RFC3339), alertID)
		if err != nil {
			return fmt.Errorf("resolve alert: %w", err)
		}
		a.Status = alert.StatusResolved
		a.SnoozedUntil = nil
		a.Decision = "ACCEPTED"
		a.DecisionNote = note
		a.DecidedAt = &now

		for _, ra := range a.RecommendedActions {
			if a.MachineID == nil {
				continue
			}
			details, err := json.Marshal(ra.Params)
			if err != nil {
				return fmt.Errorf("marshal action params: %w", err)
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO manager_actions
					(effective_date, location_id, machine_id, action_type, details_json, created_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (machine_id, effective_date, action_type) DO NOTHING`,
				effective.String(), a.LocationID, *a.MachineID,
				string(ra.ActionType), string(details), s.timestamp())
			if err != nil {
				return fmt.Errorf("schedule %s: %w", ra.ActionType, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				result.Scheduled = append(result.Scheduled, ScheduledAction{
					ActionType:    ra.ActionType,
					MachineID:     *a.MachineID,
					LocationID:    a.LocationID,
					EffectiveDate: effective,
				})
			}
		}
		return nil
	})
	if err != nil {
		return AcceptResult{}, err
	}
	result.Alert = a
	return result, nil
}

// SnoozeAlert moves an alert to SNOOZED until run_date + days and opens
// a suppression window over the alert's scope for the same period.
func (s *Store) SnoozeAlert(ctx context.Context, alertID string, days int, currentDay simday.Date) (*alert.Alert, error) {
	if days <= 0 {
		return nil, fmt.Errorf("snooze days must be positive, got %d", days)
	}
	a, err := s.Alert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if a.Status == alert.StatusResolved {
		return nil, fmt.Errorf("alert %s is already resolved", alertID)
	}

	until := a.RunDate.AddDays(days)
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		_, err := tx.ExecContext(ctx, `
			UPDATE alerts
			SET status = ?, snoozed_until = ?, decision = 'SNOOZED',
			    decided_at = ?
			WHERE alert_id = ?`,
			string(alert.StatusSnoozed), until.String(), now.Format(time.RFC3339), alertID)
		if err != nil {
			return fmt.Errorf("snooze alert: %w", err)
		}
		a.Status = alert.StatusSnoozed
		a.SnoozedUntil = &until
		a.Decision = "SNOOZED"
		a.DecidedAt = &now

		machineID := int64(0)
		if a.MachineID != nil {
			machineID = *a.MachineID
		}
		ts := s.timestamp()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO suppressions
				(alert_type, location_id, machine_id, suppressed_until, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (alert_type, location_id, machine_id)
			DO UPDATE SET suppressed_until = excluded.suppressed_until,
			              updated_at = excluded.updated_at`,
			a.AlertType, a.LocationID, machineID, until.String(), ts, ts)
		if err != nil {
			return fmt.Errorf("record suppression: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// WakeExpiredSnoozes flips SNOOZED alerts whose window has passed back
// to OPEN. Called at the start of each daily run. Returns how many
// alerts woke.
func (s *Store) WakeExpiredSnoozes(ctx context.Context, currentDay simday.Date) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts
		SET status = 'OPEN', snoozed_until = NULL
		WHERE status = 'SNOOZED' AND snoozed_until <= ?`,
		currentDay.String())
	if err != nil {
		return 0, fmt.Errorf("wake snoozed alerts: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// IsSuppressed reports whether a suppression window covers the given
// scope on the given day. Machine-scoped candidates also match
// location-wide windows (machine_id = 0).
func (s *Store) IsSuppressed(ctx context.Context, alertType string, locationID int64, machineID *int64, day simday.Date) (bool, error) {
	mid := int64(0)
	if machineID != nil {
		mid = *machineID
	}
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM suppressions
		WHERE alert_type = ? AND location_id = ?
		  AND machine_id IN (0, ?)
		  AND suppressed_until > ?`,
		alertType, locationID, mid, day.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query suppressions: %w", err)
	}
	return n > 0, nil
}

// RestocksEffectiveOn returns machine ids with a RESTOCK_MACHINE manager
// action effective on the given day.
func (s *Store) RestocksEffectiveOn(ctx context.Context, day simday.Date) (map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT machine_id FROM manager_actions
		WHERE effective_date = ? AND action_type = ?`,
		day.String(), string(alert.ActionRestockMachine))
	if err != nil {
		return nil, fmt.Errorf("query restocks: %w", err)
	}
	defer rows.Close()

	machines := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		machines[id] = true
	}
	return machines, rows.Err()
}

func buildAlertRow(id string, createdAt time.Time, runDate simday.Date, scriptName, scriptVersion, fp, evHash string, c *alert.Candidate) *alert.Alert {
	return &alert.Alert{
		AlertID:            id,
		CreatedAt:          createdAt,
		RunDate:            runDate,
		ScriptName:         scriptName,
		ScriptVersion:      scriptVersion,
		Fingerprint:        fp,
		EvidenceHash:       evHash,
		Severity:           c.Severity,
		AlertType:          c.AlertType,
		LocationID:         c.LocationID,
		MachineID:          c.MachineID,
		ProductID:          c.ProductID,
		IngredientID:       c.IngredientID,
		Title:              c.Title,
		Summary:            c.Summary,
		Evidence:           c.Evidence,
		RecommendedActions: c.RecommendedActions,
		Status:             alert.StatusOpen,
	}
}

func insertAlert(ctx context.Context, tx *sql.Tx, a *alert.Alert) error {
	evidence, actions, err := marshalAlertJSON(a)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AlertID, a.CreatedAt.Format(time.RFC3339), a.RunDate.String(),
		a.ScriptName, a.ScriptVersion, a.Fingerprint, a.EvidenceHash,
		string(a.Severity), a.AlertType,
		a.LocationID, nullableID(a.MachineID), nullableID(a.ProductID), nullableID(a.IngredientID),
		a.Title, a.Summary, evidence, actions,
		string(a.Status), nullableDay(a.SnoozedUntil), nil, nil, nil)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func overwriteAlert(ctx context.Context, tx *sql.Tx, a *alert.Alert) error {
	evidence, actions, err := marshalAlertJSON(a)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE alerts
		SET created_at = ?, run_date = ?, script_name = ?, script_version = ?,
		    evidence_hash = ?, severity = ?, alert_type = ?,
		    location_id = ?, machine_id = ?, product_id = ?, ingredient_id = ?,
		    title = ?, summary = ?, evidence_json = ?, recommended_actions_json = ?,
		    status = ?, snoozed_until = ?
		WHERE alert_id = ?`,
		a.CreatedAt.Format(time.RFC3339), a.RunDate.String(),
		a.ScriptName, a.ScriptVersion,
		a.EvidenceHash, string(a.Severity), a.AlertType,
		a.LocationID, nullableID(a.MachineID), nullableID(a.ProductID), nullableID(a.IngredientID),
		a.Title, a.Summary, evidence, actions,
		string(a.Status), nullableDay(a.SnoozedUntil),
		a.AlertID)
	if err != nil {
		return fmt.Errorf("overwrite alert: %w", err)
	}
	return nil
}

func marshalAlertJSON(a *alert.Alert) (evidence, actions string, err error) {
	ev, err := json.Marshal(a.Evidence)
	if err != nil {
		return "", "", fmt.Errorf("marshal evidence: %w", err)
	}
	ra := a.RecommendedActions
	if ra == nil {
		ra = []alert.RecommendedAction{}
	}
	ac, err := json.Marshal(ra)
	if err != nil {
		return "", "", fmt.Errorf("marshal recommended actions: %w", err)
	}
	return string(ev), string(ac), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*alert.Alert, error) {
	var a alert.Alert
	var createdAt, runDate, severity, status, evidence, actions string
	var machineID, productID, ingredientID sql.NullInt64
	var snoozedUntil, decision, decisionNote, decidedAt sql.NullString

	err := row.Scan(&a.AlertID, &createdAt, &runDate, &a.ScriptName, &a.ScriptVersion,
		&a.Fingerprint, &a.EvidenceHash, &severity, &a.AlertType,
		&a.LocationID, &machineID, &productID, &ingredientID,
		&a.Title, &a.Summary, &evidence, &actions,
		&status, &snoozedUntil, &decision, &decisionNote, &decidedAt)
	if err != nil {
		return nil, err
	}

	if a.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("corrupt created_at: %w", err)
	}
	if a.RunDate, err = simday.Parse(runDate); err != nil {
		return nil, fmt.Errorf("corrupt run_date: %w", err)
	}
	a.Severity = alert.Severity(severity)
	a.Status = alert.Status(status)
	a.MachineID = fromNullable(machineID)
	a.ProductID = fromNullable(productID)
	a.IngredientID = fromNullable(ingredientID)
	if snoozedUntil.Valid {
		d, err := simday.Parse(snoozedUntil.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt snoozed_until: %w", err)
		}
		a.SnoozedUntil = &d
	}
	a.Decision = decision.String
	a.DecisionNote = decisionNote.String
	if decidedAt.Valid {
		t, err := time.Parse(time.RFC3339, decidedAt.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt decided_at: %w", err)
		}
		a.DecidedAt = &t
	}
	if err := json.Unmarshal([]byte(evidence), &a.Evidence); err != nil {
		return nil, fmt.Errorf("corrupt evidence_json: %w", err)
	}
	if err := json.Unmarshal([]byte(actions), &a.RecommendedActions); err != nil {
		return nil, fmt.Errorf("corrupt recommended_actions_json: %w", err)
	}
	return &a, nil
}

// scanOptionalAlert is scanAlert with ErrNoRows mapped to (nil, nil).
func scanOptionalAlert(row *sql.Row) (*alert.Alert, error) {
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func nullableDay(d *simday.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func fromNullable(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
