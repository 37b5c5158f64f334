// Package recovery owns every retry decision in the engine. Components
// surface typed failures and the coordinator alone decides whether a step is
// retried, widened to alternate selectors, escalated to a human, skipped or
// failed. Nothing else in the codebase loops on errors.
package recovery

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
	"github.com/xkilldash9x/magpie-cli/internal/checkpoint"
	"github.com/xkilldash9x/magpie-cli/internal/config"
)

// Gate is the escalation surface consulted on the final attempt. The
// checkpoint package provides the real one.
type Gate interface {
	Enabled() bool
	Await(ctx context.Context, req checkpoint.Request) (checkpoint.Decision, error)
}

// StepExec bundles the closures the coordinator drives for one step. The
// closures own mechanics (resolution, gestures, page waits); the coordinator
// owns policy. Nil closures are legal: navigation steps have no Resolve,
// fire-and-forget steps no Verify.
type StepExec struct {
	Step schemas.InteractionStep

	// Resolve locates the target through the given candidate list.
	Resolve func(ctx context.Context, candidates []schemas.Selector) (schemas.ElementHandle, error)
	// Act performs the gesture on the resolved element.
	Act func(ctx context.Context, el schemas.ElementHandle) error
	// Verify returns nil when the page shows the step's expected effect.
	Verify func(ctx context.Context) error
	// Stabilize waits for the page to settle before a rewait re-resolution.
	Stabilize func(ctx context.Context) error
	// Highlight marks the step's target for a checkpoint consultation.
	Highlight func(ctx context.Context) error
}

// Result is the terminal verdict for one guarded step.
type Result struct {
	Outcome  schemas.StepOutcome
	Attempts []schemas.RecoveryAttempt
	// Err is the terminal failure when Outcome is failed, nil otherwise.
	Err error
}

// Coordinator applies the recovery policy around step execution.
type Coordinator struct {
	cfg    config.RecoveryConfig
	gate   Gate
	logger *zap.Logger
}

// New creates a Coordinator. gate may be nil when no escalation surface
// exists; it then behaves like a disabled gate.
func New(cfg config.RecoveryConfig, gate Gate, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{cfg: cfg, gate: gate, logger: logger}
}

// Execute runs the step once and, on failure, works through the recovery
// strategies until the step succeeds, is skipped, or the attempt cap is
// spent. The initial try is not a recovery attempt; only remedies are
// recorded.
func (c *Coordinator) Execute(ctx context.Context, exec StepExec) Result {
	err := c.runOnce(ctx, exec, exec.Step.Candidates)
	if err == nil {
		return Result{Outcome: schemas.OutcomeCompleted}
	}

	var attempts []schemas.RecoveryAttempt
	var lastStrategy schemas.RecoveryStrategy

	for len(attempts) < c.cfg.MaxAttempts {
		if ctx.Err() != nil {
			return Result{Outcome: schemas.OutcomeFailed, Attempts: attempts, Err: ctx.Err()}
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Result{Outcome: schemas.OutcomeFailed, Attempts: attempts, Err: err}
		}

		number := len(attempts) + 1
		finalSlot := number == c.cfg.MaxAttempts
		cause := schemas.CauseOf(err)

		if finalSlot {
			if exec.Step.Optional {
				// The escalation slot of an optional step is a skip, not a
				// human consultation.
				c.logger.Info("optional step skipped after failed recovery",
					zap.String("step", exec.Step.Name),
					zap.Int("attempts", len(attempts)),
					zap.Error(err))
				return Result{Outcome: schemas.OutcomeSkipped, Attempts: attempts}
			}
			if c.gateEnabled() {
				return c.escalate(ctx, exec, attempts, cause, err)
			}
		}

		strategy := c.pickStrategy(cause, lastStrategy, number, exec)
		attempts = append(attempts, schemas.RecoveryAttempt{
			Number:   number,
			Cause:    cause,
			Strategy: strategy,
			Detail:   err.Error(),
		})
		lastStrategy = strategy

		c.logger.Info("recovery attempt",
			zap.String("step", exec.Step.Name),
			zap.Int("attempt", number),
			zap.String("cause", string(cause)),
			zap.String("strategy", string(strategy)))

		err = c.applyStrategy(ctx, exec, strategy)
		if err == nil {
			return Result{Outcome: schemas.OutcomeCompleted, Attempts: attempts}
		}
	}

	if exec.Step.Optional {
		return Result{Outcome: schemas.OutcomeSkipped, Attempts: attempts}
	}
	return Result{Outcome: schemas.OutcomeFailed, Attempts: attempts, Err: err}
}

// pickStrategy chooses the remedy for an attempt: alternate selectors when
// the cause is a missing target and the step has any, otherwise a stabilize
// and retry. Consecutive attempts never repeat a strategy when the other one
// is applicable.
func (c *Coordinator) pickStrategy(cause schemas.FailureCause, last schemas.RecoveryStrategy, number int, exec StepExec) schemas.RecoveryStrategy {
	hasAlternates := len(exec.Step.Alternates) > 0

	preferred := schemas.StrategyRewait
	if cause == schemas.CauseNotFound && hasAlternates {
		preferred = schemas.StrategyAlternateSelector
	}

	if number > 1 && preferred == last {
		if preferred == schemas.StrategyRewait && hasAlternates {
			return schemas.StrategyAlternateSelector
		}
		if preferred == schemas.StrategyAlternateSelector {
			return schemas.StrategyRewait
		}
	}
	return preferred
}

func (c *Coordinator) applyStrategy(ctx context.Context, exec StepExec, strategy schemas.RecoveryStrategy) error {
	switch strategy {
	case schemas.StrategyAlternateSelector:
		return c.runOnce(ctx, exec, exec.Step.Alternates)
	default:
		if exec.Stabilize != nil {
			if serr := exec.Stabilize(ctx); serr != nil {
				if ctx.Err() != nil {
					return serr
				}
				// A stabilization timeout is not fatal; the page may still
				// be usable.
				c.logger.Debug("stabilization incomplete before retry",
					zap.String("step", exec.Step.Name), zap.Error(serr))
			}
		}
		return c.runOnce(ctx, exec, exec.Step.Candidates)
	}
}

// escalate consults the gate as the final attempt. Confirmed re-runs the
// step once across every selector it has; Skipped ends the step without it;
// TimedOut fails the step.
func (c *Coordinator) escalate(ctx context.Context, exec StepExec, attempts []schemas.RecoveryAttempt, cause schemas.FailureCause, causeErr error) Result {
	number := len(attempts) + 1
	attempts = append(attempts, schemas.RecoveryAttempt{
		Number:   number,
		Cause:    cause,
		Strategy: schemas.StrategyCheckpoint,
		Detail:   causeErr.Error(),
	})

	c.logger.Warn("escalating step to checkpoint",
		zap.String("step", exec.Step.Name),
		zap.Int("attempt", number),
		zap.String("cause", string(cause)))

	decision, gateErr := c.gate.Await(ctx, checkpoint.Request{
		Step:      exec.Step.Name,
		Detail:    causeErr.Error(),
		Highlight: exec.Highlight,
	})

	switch decision {
	case checkpoint.Confirmed:
		widened := append(append([]schemas.Selector{}, exec.Step.Candidates...), exec.Step.Alternates...)
		if err := c.runOnce(ctx, exec, widened); err != nil {
			return Result{Outcome: schemas.OutcomeFailed, Attempts: attempts, Err: err}
		}
		return Result{Outcome: schemas.OutcomeCompleted, Attempts: attempts}
	case checkpoint.Skipped:
		return Result{Outcome: schemas.OutcomeSkipped, Attempts: attempts}
	default:
		return Result{Outcome: schemas.OutcomeFailed, Attempts: attempts, Err: gateErr}
	}
}

// runOnce executes resolve, act and verify with the given candidate list.
func (c *Coordinator) runOnce(ctx context.Context, exec StepExec, cands []schemas.Selector) error {
	var el schemas.ElementHandle
	if exec.Resolve != nil {
		handle, err := exec.Resolve(ctx, cands)
		if err != nil {
			return err
		}
		el = handle
	}
	if exec.Act != nil {
		if err := exec.Act(ctx, el); err != nil {
			return err
		}
	}
	if exec.Verify != nil {
		return exec.Verify(ctx)
	}
	return nil
}

func (c *Coordinator) gateEnabled() bool {
	return c.gate != nil && c.gate.Enabled()
}
