// Package schemas holds the shared domain types and error kinds exchanged
// between the engine's components. It stays dependency-light so every layer
// can import it without cycles.
package schemas

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// -- Error Kinds --
//
// Retry and escalation decisions live in one place (the recovery
// coordinator), so component errors carry enough type information for that
// single decision point and are never swallowed along the way.

// ConfigError is a fatal configuration problem: bad locale key, malformed
// schedule window, contradictory checkpoint mode. It is surfaced immediately
// and never retried; in scheduled mode it is the only error that stops the
// loop.
type ConfigError struct {
	Field  string
	Value  string
	Reason string
	// Valid lists the accepted values when the field is an enumeration.
	Valid []string
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config %s=%q: %s", e.Field, e.Value, e.Reason)
	if len(e.Valid) > 0 {
		msg += fmt.Sprintf(" (valid: %s)", strings.Join(e.Valid, ", "))
	}
	return msg
}

// IsConfigError reports whether err is, or wraps, a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ResolutionFailure distinguishes the two ways element resolution can fail.
// They are distinct kinds because the recovery strategy differs: a missing
// element may be relocated, an ambiguous one must never be guessed at.
type ResolutionFailure string

const (
	ResolutionNotFound  ResolutionFailure = "not_found"
	ResolutionAmbiguous ResolutionFailure = "ambiguous"
)

// ResolutionError reports that no selector candidate produced exactly one
// visible match for a target.
type ResolutionError struct {
	Target     string
	Kind       ResolutionFailure
	Candidates int
	// Ambiguities notes, per ambiguous candidate, how many matches it had.
	Ambiguities []string
}

func (e *ResolutionError) Error() string {
	if e.Kind == ResolutionAmbiguous {
		return fmt.Sprintf("resolving %q: all %d candidates ambiguous (%s)",
			e.Target, e.Candidates, strings.Join(e.Ambiguities, "; "))
	}
	return fmt.Sprintf("resolving %q: no visible match across %d candidates", e.Target, e.Candidates)
}

// NoEffectError reports that an interaction completed but the page showed no
// observable effect, as judged by the step's verification check.
type NoEffectError struct {
	Step  string
	Check string
}

func (e *NoEffectError) Error() string {
	return fmt.Sprintf("step %q: no observable effect (%s)", e.Step, e.Check)
}

// CheckpointTimeoutError reports that a checkpoint gate waited out its
// timeout without a confirmation. Terminal for the step unless it is
// optional.
type CheckpointTimeoutError struct {
	Step   string
	Waited time.Duration
}

func (e *CheckpointTimeoutError) Error() string {
	return fmt.Sprintf("checkpoint for step %q: no confirmation within %s", e.Step, e.Waited)
}

// SessionFailure is the terminal error for one run. Scheduled mode catches it
// at the top level, logs it, and proceeds to the next scheduled run.
type SessionFailure struct {
	State SessionState
	Step  string
	Err   error
}

func (e *SessionFailure) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("session failed in state %s at step %q: %v", e.State, e.Step, e.Err)
	}
	return fmt.Sprintf("session failed in state %s: %v", e.State, e.Err)
}

func (e *SessionFailure) Unwrap() error { return e.Err }

// CauseOf maps an error to the recovery attempt cause classification.
func CauseOf(err error) FailureCause {
	var re *ResolutionError
	if errors.As(err, &re) {
		return CauseNotFound
	}
	var ne *NoEffectError
	if errors.As(err, &ne) {
		return CauseNoEffect
	}
	return CauseTimeout
}
