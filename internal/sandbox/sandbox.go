// Package sandbox executes detector scripts against a script context under a
// fixed capability surface.
//
// Scripts are CUE snippets. CUE evaluation is hermetic: no filesystem, no
// network, no clock, no mutable globals. The runner narrows it further with
// an import whitelist (list, math, strings) and a wall-clock timeout. One
// binding goes in (`ctx`), one comes out (`result`, a list of alert
// candidates). A script that parses badly, evaluates badly, times out, or
// emits malformed candidates produces diagnostics and zero-or-fewer alerts;
// it can never abort the daily run or touch engine state.
package sandbox

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/parser"

	"github.com/vendops/vendwatch/internal/alert"
	"github.com/vendops/vendwatch/internal/ctxpack"
)

// allowedImports is the whitelist of CUE stdlib packages scripts may use.
// All three are pure computation; nothing reaches outside the evaluation.
var allowedImports = map[string]bool{
	"list":    true,
	"math":    true,
	"strings": true,
}

// ExecutionError reports a script that failed to parse, evaluate, or finish
// inside the time budget. It accounts for the whole invocation: the script
// contributed zero alerts.
type ExecutionError struct {
	Script string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("script %s: %v", e.Script, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// SchemaViolation reports one candidate dropped by output validation.
// The rest of the script's candidates are unaffected.
type SchemaViolation struct {
	Script string
	Index  int
	Err    error
}

func (e *SchemaViolation) Error() string {
	return fmt.Sprintf("script %s: candidate[%d]: %v", e.Script, e.Index, e.Err)
}

func (e *SchemaViolation) Unwrap() error { return e.Err }

// Runner executes scripts. Safe for concurrent use: every invocation
// evaluates in a fresh CUE context, so no state leaks between scripts,
// machines, or days.
type Runner struct {
	timeout time.Duration
}

// NewRunner creates a Runner with the given per-invocation wall-clock budget.
func NewRunner(timeout time.Duration) *Runner {
	return &Runner{timeout: timeout}
}

// ValidateSource checks a script without executing it: it must parse and may
// only import whitelisted packages. Returns an *ExecutionError on violation.
// Used when accepting a drafted revision, before anything is stored.
func ValidateSource(scriptName, source string) error {
	f, err := parser.ParseFile(scriptName+".cue", source)
	if err != nil {
		return &ExecutionError{Script: scriptName, Err: fmt.Errorf("parse: %w", err)}
	}
	for _, imp := range f.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return &ExecutionError{Script: scriptName, Err: fmt.Errorf("bad import %s", imp.Path.Value)}
		}
		if !allowedImports[path] {
			return &ExecutionError{Script: scriptName, Err: fmt.Errorf("import %q is not allowed (allowed: list, math, strings)", path)}
		}
	}
	return nil
}

// Run executes one script against one context and returns validated
// candidates plus diagnostics. Diagnostics are *ExecutionError or
// *SchemaViolation values; Run itself never fails the caller.
func (r *Runner) Run(ctx context.Context, scriptName, source string, sctx *ctxpack.Context) ([]alert.Candidate, []error) {
	if err := ValidateSource(scriptName, source); err != nil {
		return nil, []error{err}
	}

	type outcome struct {
		candidates []alert.Candidate
		err        error
	}
	done := make(chan outcome, 1)

	// CUE evaluation cannot be interrupted mid-flight. On timeout the
	// goroutine is abandoned; the buffered channel lets it finish and be
	// collected without anyone listening.
	go func() {
		cands, err := evaluate(scriptName, source, sctx)
		done <- outcome{candidates: cands, err: err}
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, []error{&ExecutionError{Script: scriptName, Err: o.err}}
		}
		return validateCandidates(scriptName, o.candidates, sctx)
	case <-timer.C:
		return nil, []error{&ExecutionError{Script: scriptName, Err: fmt.Errorf("timed out after %s", r.timeout)}}
	case <-ctx.Done():
		return nil, []error{&ExecutionError{Script: scriptName, Err: ctx.Err()}}
	}
}

// evaluate compiles the script with `ctx` in scope and decodes `result`.
func evaluate(scriptName, source string, sctx *ctxpack.Context) ([]alert.Candidate, error) {
	cctx := cuecontext.New()

	scope := cctx.Encode(struct {
		Ctx *ctxpack.Context `json:"ctx"`
	}{Ctx: sctx})
	if err := scope.Err(); err != nil {
		return nil, fmt.Errorf("encode ctx: %w", err)
	}

	v := cctx.CompileString(source, cue.Filename(scriptName+".cue"), cue.Scope(scope))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	result := v.LookupPath(cue.ParsePath("result"))
	if !result.Exists() {
		return nil, fmt.Errorf("script must define `result`")
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("evaluate result: %w", err)
	}
	if err := result.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("result is not concrete: %w", err)
	}

	var candidates []alert.Candidate
	if err := result.Decode(&candidates); err != nil {
		return nil, fmt.Errorf("result must be a list of alert candidates: %w", err)
	}
	return candidates, nil
}

// validateCandidates applies defaults and the candidate schema.
// Scripts routinely omit scope ids they inherited from the context; those
// default in before validation, matching the contract scripts are written to.
func validateCandidates(scriptName string, candidates []alert.Candidate, sctx *ctxpack.Context) ([]alert.Candidate, []error) {
	var out []alert.Candidate
	var diags []error
	for i := range candidates {
		c := candidates[i]
		if c.LocationID == 0 {
			c.LocationID = sctx.IDs.LocationID
		}
		if c.MachineID == nil {
			machineID := sctx.IDs.MachineID
			c.MachineID = &machineID
		}
		if c.Evidence == nil {
			c.Evidence = map[string]any{}
		}
		if err := c.Validate(); err != nil {
			diags = append(diags, &SchemaViolation{Script: scriptName, Index: i, Err: err})
			continue
		}
		out = append(out, c)
	}
	return out, diags
}
