package schemas

import (
	"strings"
	"time"
)

// -- Selector Schemas --

// SelectorKind distinguishes the query languages a selector candidate may use.
type SelectorKind string

const (
	SelectorCSS   SelectorKind = "css"
	SelectorXPath SelectorKind = "xpath"
)

// Selector is one strategy for locating a target element, ranked by
// specificity within its candidate list.
type Selector struct {
	Query string       `json:"query"`
	Kind  SelectorKind `json:"kind"`
	// Label names the intent ("sign in button") for logs and diagnostics.
	Label string `json:"label,omitempty"`
}

// CSS builds a CSS selector candidate.
func CSS(query, label string) Selector {
	return Selector{Query: query, Kind: SelectorCSS, Label: label}
}

// XPath builds an XPath selector candidate.
func XPath(query, label string) Selector {
	return Selector{Query: query, Kind: SelectorXPath, Label: label}
}

// GuessKind classifies a raw query string the way the flow tables write them:
// anything starting with "//" or "xpath=" is XPath, the rest is CSS.
func GuessKind(query string) SelectorKind {
	if strings.HasPrefix(query, "//") || strings.HasPrefix(query, "xpath=") {
		return SelectorXPath
	}
	return SelectorCSS
}

// -- Interaction Step Schemas --

// StepKind is the semantic action an interaction step performs.
type StepKind string

const (
	StepTap      StepKind = "tap"
	StepSwipe    StepKind = "swipe"
	StepTypeText StepKind = "type"
	StepPressKey StepKind = "press_key"
	StepNavigate StepKind = "navigate"
	StepWait     StepKind = "wait"
)

// InteractionStep is one unit of flow work: locate a target through the
// ordered candidates and perform the action on it. Alternates widen the
// search during recovery only; they are never consulted on the happy path.
type InteractionStep struct {
	Name       string     `json:"name"`
	Kind       StepKind   `json:"kind"`
	Candidates []Selector `json:"candidates,omitempty"`
	Alternates []Selector `json:"alternates,omitempty"`
	// Text is the payload for type steps. Callers pass secrets here, so
	// the step is logged by Name only and Text never serializes.
	Text string `json:"-"`
	// Vector is the swipe displacement for swipe steps.
	Vector Point `json:"vector,omitempty"`
	// Key is the named key for press steps (Escape, Enter).
	Key string `json:"key,omitempty"`
	// URL is the destination for navigate steps.
	URL string `json:"url,omitempty"`
	// Optional steps may be skipped when recovery runs out of strategies.
	Optional bool `json:"optional"`
}

// -- Session State Schemas --

// SessionState enumerates the orchestrator's lifecycle. Transitions are
// one-directional; Failed is reachable from every non-terminal state.
type SessionState string

const (
	StateInitializing   SessionState = "initializing"
	StateAuthenticating SessionState = "authenticating"
	StateRegionChanging SessionState = "region_changing"
	StateCollecting     SessionState = "collecting"
	StateCompleted      SessionState = "completed"
	StateFailed         SessionState = "failed"
)

// Terminal reports whether the state ends the session.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// -- Recovery Schemas --

// FailureCause classifies why a step needed recovery.
type FailureCause string

const (
	CauseNotFound FailureCause = "not_found"
	CauseNoEffect FailureCause = "no_effect"
	CauseTimeout  FailureCause = "timeout"
)

// RecoveryStrategy names the remedy applied for one recovery attempt.
type RecoveryStrategy string

const (
	StrategyRewait            RecoveryStrategy = "rewait"
	StrategyAlternateSelector RecoveryStrategy = "alternate_selector"
	StrategyCheckpoint        RecoveryStrategy = "checkpoint"
)

// RecoveryAttempt records one remedy attempt for diagnostics. The sequence
// per step is bounded by the coordinator's attempt cap.
type RecoveryAttempt struct {
	Number   int              `json:"number"`
	Cause    FailureCause     `json:"cause"`
	Strategy RecoveryStrategy `json:"strategy"`
	Detail   string           `json:"detail,omitempty"`
}

// StepOutcome is the terminal status of one interaction step.
type StepOutcome string

const (
	OutcomeCompleted StepOutcome = "completed"
	OutcomeSkipped   StepOutcome = "skipped"
	OutcomeFailed    StepOutcome = "failed"
)

// StepResult pairs a step with its outcome and the recovery attempts it cost.
type StepResult struct {
	Step     string            `json:"step"`
	State    SessionState      `json:"state"`
	Outcome  StepOutcome       `json:"outcome"`
	Attempts []RecoveryAttempt `json:"attempts,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// -- Run Report Schemas --

// RunReport is the full record of one session, persisted to the run store and
// optionally emitted as JSON. Credentials never appear in it.
type RunReport struct {
	RunID      string         `json:"runId"`
	ProfileKey string         `json:"profileKey"`
	Device     string         `json:"device"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	FinalState SessionState   `json:"finalState"`
	Collected  bool           `json:"collected"`
	Steps      []StepResult   `json:"steps"`
	Console    []ConsoleEntry `json:"console,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Day returns the calendar day of the run in the given location, formatted
// for the store's uniqueness guard.
func (r RunReport) Day(loc *time.Location) string {
	return DayOf(r.StartedAt, loc)
}

// DayOf formats an instant as the calendar-day key the store and scheduler
// share.
func DayOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
