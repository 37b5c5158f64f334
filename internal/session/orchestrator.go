// Package session drives one full collection run as a state machine:
// Initializing, Authenticating, optional RegionChanging, Collecting. Every
// page interaction goes through the element resolver and the interaction
// simulator, wrapped by the recovery coordinator; the orchestrator itself
// never loops on errors.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
	"github.com/xkilldash9x/magpie-cli/internal/config"
	"github.com/xkilldash9x/magpie-cli/internal/humanize"
	"github.com/xkilldash9x/magpie-cli/internal/profile"
	"github.com/xkilldash9x/magpie-cli/internal/recovery"
	"github.com/xkilldash9x/magpie-cli/internal/resolve"
	"github.com/xkilldash9x/magpie-cli/internal/timing"
)

// closeTimeout bounds the best-effort page teardown after a run.
const closeTimeout = 10 * time.Second

// Page is the browser surface the orchestrator drives. The browser package
// satisfies it; tests substitute a scripted fake.
type Page interface {
	humanize.Executor

	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	QueryElements(ctx context.Context, sel schemas.Selector) ([]schemas.ElementHandle, error)
	WaitForQuiescence(ctx context.Context, quiet time.Duration) error
	Highlight(ctx context.Context, sel schemas.Selector) error
	ConsoleEntries() []schemas.ConsoleEntry
	Close(ctx context.Context) error
}

// PageOpener produces a fresh tab already carrying the device fingerprint.
// The browser manager's NewPage is the production opener.
type PageOpener func(ctx context.Context, prof schemas.FingerprintProfile) (Page, error)

// Orchestrator runs collection sessions. One Orchestrator can run many
// sessions; each Run opens and closes its own page.
type Orchestrator struct {
	cfg    *config.Config
	open   PageOpener
	gate   recovery.Gate
	logger *zap.Logger
}

// New creates an Orchestrator. gate may be nil when no escalation surface
// exists.
func New(cfg *config.Config, open PageOpener, gate recovery.Gate, logger *zap.Logger) (*Orchestrator, error) {
	if cfg == nil || open == nil || logger == nil {
		return nil, fmt.Errorf("cannot build a session orchestrator from nil dependencies")
	}
	return &Orchestrator{cfg: cfg, open: open, gate: gate, logger: logger.Named("session")}, nil
}

// Run executes one session end to end. The returned report is always
// populated, also on failure, so the caller can persist what happened; the
// error is the terminal failure when the final state is Failed.
func (o *Orchestrator) Run(ctx context.Context) (*schemas.RunReport, error) {
	report := &schemas.RunReport{
		RunID:      uuid.New().String(),
		ProfileKey: o.cfg.Profile.Locale,
		StartedAt:  time.Now().UTC(),
	}
	logger := o.logger.With(zap.String("run_id", report.RunID))

	prof, err := profile.Select(o.cfg.Profile.Locale)
	if err != nil {
		return failed(report, err), err
	}
	report.Device = prof.DeviceName

	var reg region
	if o.cfg.Collector.UseRegionChange {
		if reg, err = regionFor(o.cfg.Collector.TargetRegion); err != nil {
			return failed(report, err), err
		}
	}

	logger.Info("session starting",
		zap.String("device", prof.DeviceName),
		zap.String("profile", o.cfg.Profile.Locale),
		zap.Bool("region_change", o.cfg.Collector.UseRegionChange))

	r := &run{
		cfg:     o.cfg,
		logger:  logger,
		profile: prof,
		region:  reg,
		model:   timing.New(o.cfg.Timing),
		report:  report,
		state:   schemas.StateInitializing,
	}

	page, err := o.open(ctx, prof)
	if err != nil {
		serr := &schemas.SessionFailure{State: schemas.StateInitializing, Err: err}
		return failed(report, serr), serr
	}
	r.page = page
	r.sim = humanize.New(page, r.model, o.cfg.Timing, logger.Named("humanize"))
	r.resolver = resolve.New(page, o.cfg.Resolver, logger.Named("resolve"))
	r.coord = recovery.New(o.cfg.Recovery, o.gate, logger.Named("recovery"))

	runErr := r.drive(ctx)

	report.Console = page.ConsoleEntries()
	if runErr != nil {
		r.notePageOnFailure()
		r.setState(schemas.StateFailed)
		report.Error = runErr.Error()
	}
	r.closePage()

	report.FinalState = r.state
	report.FinishedAt = time.Now().UTC()

	logger.Info("session finished",
		zap.String("state", string(r.state)),
		zap.Bool("collected", report.Collected),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)))
	return report, runErr
}

// failed finalizes a report that never got a page off the ground.
func failed(report *schemas.RunReport, err error) *schemas.RunReport {
	report.FinalState = schemas.StateFailed
	report.FinishedAt = time.Now().UTC()
	report.Error = err.Error()
	return report
}

// run is the per-session working state. It lives for exactly one page.
type run struct {
	cfg      *config.Config
	logger   *zap.Logger
	page     Page
	profile  schemas.FingerprintProfile
	region   region
	model    *timing.Model
	sim      *humanize.Simulator
	resolver *resolve.Resolver
	coord    *recovery.Coordinator
	report   *schemas.RunReport
	state    schemas.SessionState
}

// drive walks the states in order. RegionChanging failures degrade to a
// warning: collecting in the wrong region beats abandoning the run, and
// navigating back to the coin page resets whatever the picker left open.
func (r *run) drive(ctx context.Context) error {
	if err := r.openCoinPage(ctx); err != nil {
		return err
	}
	if err := r.authenticate(ctx); err != nil {
		return err
	}
	if r.cfg.Collector.UseRegionChange {
		r.setState(schemas.StateRegionChanging)
		if err := r.changeRegion(ctx); err != nil {
			if ctx.Err() != nil {
				return err
			}
			r.logger.Warn("region change failed, collecting in the current region", zap.Error(err))
		}
	}
	if err := r.collect(ctx); err != nil {
		return err
	}
	r.setState(schemas.StateCompleted)
	return nil
}

func (r *run) setState(next schemas.SessionState) {
	if r.state == next {
		return
	}
	r.logger.Info("state transition",
		zap.String("from", string(r.state)), zap.String("to", string(next)))
	r.state = next
}

// exec runs one step through the recovery coordinator and records the
// result. A failed step comes back as a SessionFailure carrying the state it
// happened in.
func (r *run) exec(ctx context.Context, step schemas.InteractionStep,
	act func(context.Context, schemas.ElementHandle) error,
	verify func(context.Context) error) (schemas.StepOutcome, error) {

	se := recovery.StepExec{Step: step, Act: act, Verify: verify, Stabilize: r.stabilize}
	if len(step.Candidates) > 0 {
		se.Resolve = func(ctx context.Context, cands []schemas.Selector) (schemas.ElementHandle, error) {
			res, err := r.resolver.Resolve(ctx, step.Name, cands)
			if err != nil {
				return schemas.ElementHandle{}, err
			}
			return res.Handle, nil
		}
		first := step.Candidates[0]
		se.Highlight = func(ctx context.Context) error {
			return r.page.Highlight(ctx, first)
		}
	}

	result := r.coord.Execute(ctx, se)
	r.record(step.Name, result)
	if result.Outcome == schemas.OutcomeFailed {
		return result.Outcome, &schemas.SessionFailure{State: r.state, Step: step.Name, Err: result.Err}
	}
	return result.Outcome, nil
}

func (r *run) record(name string, res recovery.Result) {
	sr := schemas.StepResult{Step: name, State: r.state, Outcome: res.Outcome, Attempts: res.Attempts}
	if res.Err != nil {
		sr.Error = res.Err.Error()
	}
	r.report.Steps = append(r.report.Steps, sr)
}

// stabilize waits for network quiet before a recovery retry.
func (r *run) stabilize(ctx context.Context) error {
	sctx, cancel := context.WithTimeout(ctx, r.cfg.Recovery.StabilizeTimeout)
	defer cancel()
	return r.page.WaitForQuiescence(sctx, r.cfg.Recovery.StabilizeQuiet)
}

func (r *run) tap(ctx context.Context, el schemas.ElementHandle) error {
	return r.sim.Tap(ctx, el)
}

func (r *run) typeText(text string) func(context.Context, schemas.ElementHandle) error {
	return func(ctx context.Context, el schemas.ElementHandle) error {
		return r.sim.Type(ctx, el, text)
	}
}

// notePageOnFailure logs where the page ended up, the first thing anyone
// asks when a run fails. Best effort on a fresh context.
func (r *run) notePageOnFailure() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if url, err := r.page.CurrentURL(ctx); err == nil {
		r.logger.Info("page at failure", zap.String("url", url))
	}
}

// closePage tears the tab down on a fresh context; the operation context is
// often the thing that just failed.
func (r *run) closePage() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := r.page.Close(ctx); err != nil {
		r.logger.Debug("page close failed", zap.Error(err))
	}
}
