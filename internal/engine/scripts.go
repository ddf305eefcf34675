package engine

import (
	"context"
	"fmt"
	"regexp"

	"github.com/vendops/vendwatch/internal/sandbox"
	"github.com/vendops/vendwatch/internal/store"
)

var scriptNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// DraftScript validates a new script source in the sandbox and stores it
// as a draft revision. The script name may be new: activating the draft
// later introduces a new detector.
func (e *Engine) DraftScript(ctx context.Context, scriptName, source, instruction string) (string, error) {
	if !scriptNameRe.MatchString(scriptName) {
		return "", fmt.Errorf("invalid script name %q: lowercase snake_case required", scriptName)
	}
	if err := sandbox.ValidateSource(scriptName, source); err != nil {
		return "", fmt.Errorf("draft rejected: %w", err)
	}
	return e.store.CreateDraft(ctx, scriptName, source, instruction)
}

// ActivateScript promotes a draft revision to active.
func (e *Engine) ActivateScript(ctx context.Context, scriptName, revisionID string) error {
	if !e.mu.TryLock() {
		return ErrConflictingOperation
	}
	defer e.mu.Unlock()
	return e.store.ActivateRevision(ctx, scriptName, revisionID)
}

// RevertScript reinstates the most recently superseded revision.
func (e *Engine) RevertScript(ctx context.Context, scriptName string) (string, error) {
	if !e.mu.TryLock() {
		return "", ErrConflictingOperation
	}
	defer e.mu.Unlock()
	return e.store.RevertScript(ctx, scriptName)
}

// SetScriptEnabled toggles a script's participation in daily runs.
func (e *Engine) SetScriptEnabled(ctx context.Context, scriptName string, enabled bool) error {
	return e.store.SetScriptEnabled(ctx, scriptName, enabled)
}

// ListScripts returns every known script with status metadata.
func (e *Engine) ListScripts(ctx context.Context) ([]store.ScriptInfo, error) {
	return e.store.ListScripts(ctx)
}
