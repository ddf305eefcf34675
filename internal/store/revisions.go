package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Script revision lifecycle. A revision starts as a draft, becomes the
// single active revision on activation, and is superseded when a newer
// revision takes over. Revert promotes the most recently superseded
// revision back to active.
const (
	RevisionDraft      = "draft"
	RevisionActive     = "active"
	RevisionSuperseded = "superseded"
)

// ErrScriptNotFound is returned for unknown script names or revision ids.
var ErrScriptNotFound = errors.New("script not found")

// ScriptRevision is one stored version of a detector script's source.
type ScriptRevision struct {
	ScriptName  string `json:"script_name"`
	RevisionID  string `json:"revision_id"`
	SourceCode  string `json:"source_code,omitempty"`
	Status      string `json:"status"`
	Instruction string `json:"instruction,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// ScriptInfo is the listing view of a script: its active revision plus
// the enabled flag.
type ScriptInfo struct {
	ScriptName       string `json:"script_name"`
	Enabled          bool   `json:"enabled"`
	ActiveRevisionID string `json:"active_revision_id,omitempty"`
	RevisionCount    int    `json:"revision_count"`
}

// SeedBaselines installs the embedded baseline sources as the active
// revision for any script that has no revisions yet. Scripts that
// already have history are left untouched, so operator edits survive
// process restarts.
func (s *Store) SeedBaselines(ctx context.Context, sources map[string]string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for name, source := range sources {
			var n int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM script_revisions WHERE script_name = ?`, name).Scan(&n); err != nil {
				return fmt.Errorf("count revisions for %s: %w", name, err)
			}
			if n > 0 {
				continue
			}
			ts := s.timestamp()
			_, err := tx.ExecContext(ctx, `
				INSERT INTO script_revisions
					(script_name, revision_id, source_code, status, instruction, created_at)
				VALUES (?, ?, ?, ?, 'baseline', ?)`,
				name, uuid.Must(uuid.NewV7()).String(), source, RevisionActive, ts)
			if err != nil {
				return fmt.Errorf("seed baseline %s: %w", name, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO script_settings (script_name, enabled, updated_at)
				VALUES (?, 1, ?)
				ON CONFLICT (script_name) DO NOTHING`,
				name, ts)
			if err != nil {
				return fmt.Errorf("seed settings %s: %w", name, err)
			}
		}
		return nil
	})
}

// ActiveSource returns the active revision id and source for a script.
func (s *Store) ActiveSource(ctx context.Context, scriptName string) (revisionID, source string, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT revision_id, source_code FROM script_revisions
		WHERE script_name = ? AND status = 'active'`,
		scriptName).Scan(&revisionID, &source)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("%w: %s has no active revision", ErrScriptNotFound, scriptName)
	}
	if err != nil {
		return "", "", fmt.Errorf("query active revision: %w", err)
	}
	return revisionID, source, nil
}

// EnabledScripts returns the active revision of every enabled script,
// ordered by script name for a deterministic execution order.
func (s *Store) EnabledScripts(ctx context.Context) ([]ScriptRevision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.script_name, r.revision_id, r.source_code, r.status, r.created_at
		FROM script_revisions r
		JOIN script_settings st ON st.script_name = r.script_name
		WHERE r.status = 'active' AND st.enabled = 1
		ORDER BY r.script_name`)
	if err != nil {
		return nil, fmt.Errorf("query enabled scripts: %w", err)
	}
	defer rows.Close()

	var revs []ScriptRevision
	for rows.Next() {
		var r ScriptRevision
		if err := rows.Scan(&r.ScriptName, &r.RevisionID, &r.SourceCode, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		revs = append(revs, r)
	}
	return revs, rows.Err()
}

// CreateDraft stores a new draft revision and returns its id. The source
// must already have passed sandbox validation.
func (s *Store) CreateDraft(ctx context.Context, scriptName, source, instruction string) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO script_revisions
			(script_name, revision_id, source_code, status, instruction, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		scriptName, id, source, RevisionDraft, instruction, s.timestamp())
	if err != nil {
		return "", fmt.Errorf("create draft for %s: %w", scriptName, err)
	}
	return id, nil
}

// ActivateRevision promotes a draft to active, superseding the current
// active revision in the same transaction.
func (s *Store) ActivateRevision(ctx context.Context, scriptName, revisionID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `
			SELECT status FROM script_revisions
			WHERE script_name = ? AND revision_id = ?`,
			scriptName, revisionID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s revision %s", ErrScriptNotFound, scriptName, revisionID)
		}
		if err != nil {
			return fmt.Errorf("query revision: %w", err)
		}
		if status == RevisionActive {
			return nil
		}
		if status != RevisionDraft {
			return fmt.Errorf("revision %s of %s is %s, only drafts can be activated",
				revisionID, scriptName, status)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE script_revisions SET status = ?
			WHERE script_name = ? AND status = ?`,
			RevisionSuperseded, scriptName, RevisionActive); err != nil {
			return fmt.Errorf("supersede active revision: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE script_revisions SET status = ?
			WHERE script_name = ? AND revision_id = ?`,
			RevisionActive, scriptName, revisionID); err != nil {
			return fmt.Errorf("activate revision: %w", err)
		}
		// Scripts created after seeding get their settings row here.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO script_settings (script_name, enabled, updated_at)
			VALUES (?, 1, ?)
			ON CONFLICT (script_name) DO NOTHING`,
			scriptName, s.timestamp()); err != nil {
			return fmt.Errorf("ensure settings: %w", err)
		}
		return nil
	})
}

// RevertScript demotes the active revision and promotes the most
// recently superseded one. Returns the newly active revision id.
func (s *Store) RevertScript(ctx context.Context, scriptName string) (string, error) {
	var promoted string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT revision_id FROM script_revisions
			WHERE script_name = ? AND status = ?
			ORDER BY created_at DESC, revision_id DESC
			LIMIT 1`,
			scriptName, RevisionSuperseded).Scan(&promoted)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s has no superseded revision to revert to", scriptName)
		}
		if err != nil {
			return fmt.Errorf("query superseded revision: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE script_revisions SET status = ?
			WHERE script_name = ? AND status = ?`,
			RevisionSuperseded, scriptName, RevisionActive); err != nil {
			return fmt.Errorf("supersede active revision: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE script_revisions SET status = ?
			WHERE script_name = ? AND revision_id = ?`,
			RevisionActive, scriptName, promoted); err != nil {
			return fmt.Errorf("promote revision: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return promoted, nil
}

// SetScriptEnabled toggles a script's participation in daily runs.
func (s *Store) SetScriptEnabled(ctx context.Context, scriptName string, enabled bool) error {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM script_revisions WHERE script_name = ?`, scriptName).Scan(&n); err != nil {
		return fmt.Errorf("check script: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrScriptNotFound, scriptName)
	}
	flag := 0
	if enabled {
		flag = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO script_settings (script_name, enabled, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (script_name)
		DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`,
		scriptName, flag, s.timestamp())
	if err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	return nil
}

// ListScripts returns every known script with its enabled flag, active
// revision and revision count.
func (s *Store) ListScripts(ctx context.Context) ([]ScriptInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.script_name,
		       COALESCE(st.enabled, 1),
		       COALESCE(MAX(CASE WHEN r.status = 'active' THEN r.revision_id END), ''),
		       COUNT(*)
		FROM script_revisions r
		LEFT JOIN script_settings st ON st.script_name = r.script_name
		GROUP BY r.script_name
		ORDER BY r.script_name`)
	if err != nil {
		return nil, fmt.Errorf("list scripts: %w", err)
	}
	defer rows.Close()

	var infos []ScriptInfo
	for rows.Next() {
		var info ScriptInfo
		var enabled int
		if err := rows.Scan(&info.ScriptName, &enabled, &info.ActiveRevisionID, &info.RevisionCount); err != nil {
			return nil, fmt.Errorf("scan script info: %w", err)
		}
		info.Enabled = enabled == 1
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Revisions returns a script's full revision history, newest first.
// Source code is omitted from the listing.
func (s *Store) Revisions(ctx context.Context, scriptName string) ([]ScriptRevision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT script_name, revision_id, status, instruction, created_at
		FROM script_revisions
		WHERE script_name = ?
		ORDER BY created_at DESC, revision_id DESC`,
		scriptName)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	var revs []ScriptRevision
	for rows.Next() {
		var r ScriptRevision
		if err := rows.Scan(&r.ScriptName, &r.RevisionID, &r.Status, &r.Instruction, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		revs = append(revs, r)
	}
	if len(revs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, scriptName)
	}
	return revs, rows.Err()
}

// RevisionSource returns one revision's source code.
func (s *Store) RevisionSource(ctx context.Context, scriptName, revisionID string) (string, error) {
	var source string
	err := s.db.QueryRowContext(ctx, `
		SELECT source_code FROM script_revisions
		WHERE script_name = ? AND revision_id = ?`,
		scriptName, revisionID).Scan(&source)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s revision %s", ErrScriptNotFound, scriptName, revisionID)
	}
	if err != nil {
		return "", fmt.Errorf("query revision source: %w", err)
	}
	return source, nil
}
