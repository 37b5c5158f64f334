package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
)

// persistTimeout bounds ledger writes after a run; the run context may
// already be canceled by then.
const persistTimeout = 10 * time.Second

// Runner executes one collection session. The session orchestrator's Run is
// the production runner.
type Runner func(ctx context.Context) (*schemas.RunReport, error)

// Ledger is the slice of the run store the scheduler needs: cross-restart
// dedupe and run persistence. A nil Ledger narrows the guard to this
// process's memory.
type Ledger interface {
	RanOn(ctx context.Context, day, profileKey string) (bool, error)
	RecordRun(ctx context.Context, report *schemas.RunReport) error
}

// Scheduler fires the runner once per day inside the window. Run failures
// are logged and wait for the next window; only a configuration error stops
// the loop, because no amount of waiting fixes one.
type Scheduler struct {
	window     Window
	profileKey string
	runner     Runner
	ledger     Ledger
	logger     *zap.Logger

	mu      sync.Mutex
	lastDay string
	fatal   error
	stop    context.CancelFunc
}

// New creates a Scheduler. ledger may be nil.
func New(window Window, profileKey string, runner Runner, ledger Ledger, logger *zap.Logger) (*Scheduler, error) {
	if runner == nil || logger == nil {
		return nil, fmt.Errorf("cannot build a scheduler from nil dependencies")
	}
	return &Scheduler{
		window:     window,
		profileKey: profileKey,
		runner:     runner,
		ledger:     ledger,
		logger:     logger.Named("schedule"),
	}, nil
}

// RunForever blocks, firing the runner at each window instant, until the
// context is canceled (clean stop, nil return) or a run surfaces a
// configuration error (returned).
func (s *Scheduler) RunForever(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.stop = cancel
	s.mu.Unlock()

	clog := cronLogger{log: s.logger.Named("cron").Sugar()}
	c := cron.New(
		cron.WithLocation(s.window.loc),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	c.Schedule(s.window, cron.FuncJob(func() { s.fire(ctx) }))
	c.Start()

	s.logger.Info("scheduler started",
		zap.Stringer("window", s.window),
		zap.String("profile", s.profileKey),
		zap.Time("next_fire", s.window.Next(time.Now())))

	<-ctx.Done()
	// Let a mid-flight session finish before reporting the stop.
	<-c.Stop().Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal != nil {
		return s.fatal
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// fire is one scheduled invocation.
func (s *Scheduler) fire(ctx context.Context) {
	day := schemas.DayOf(time.Now(), s.window.loc)
	if s.collectedOn(ctx, day) {
		s.logger.Info("already collected today, skipping", zap.String("day", day))
		return
	}

	s.logger.Info("scheduled run starting", zap.String("day", day))
	report, err := s.runner(ctx)
	if report != nil {
		s.persist(report)
	}

	switch {
	case err == nil:
		s.logger.Info("scheduled run finished",
			zap.Bool("collected", report != nil && report.Collected),
			zap.Time("next_fire", s.window.Next(time.Now())))
	case schemas.IsConfigError(err):
		s.logger.Error("configuration error, stopping the scheduler", zap.Error(err))
		s.shutdown(err)
	default:
		s.logger.Warn("scheduled run failed",
			zap.Error(err),
			zap.Time("next_fire", s.window.Next(time.Now())))
	}
}

// collectedOn consults the in-process marker first, then the ledger. The
// guard counts collected runs only: a failed morning run does not burn the
// day for a retry after a restart.
func (s *Scheduler) collectedOn(ctx context.Context, day string) bool {
	s.mu.Lock()
	last := s.lastDay
	s.mu.Unlock()
	if last == day {
		return true
	}
	if s.ledger == nil {
		return false
	}
	ran, err := s.ledger.RanOn(ctx, day, s.profileKey)
	if err != nil {
		s.logger.Warn("run-history lookup failed, assuming no run today", zap.Error(err))
		return false
	}
	return ran
}

// persist marks the in-process dedupe and writes the report on a fresh
// context; the run context is often already canceled here.
func (s *Scheduler) persist(report *schemas.RunReport) {
	if report.Collected {
		s.mu.Lock()
		s.lastDay = report.Day(s.window.loc)
		s.mu.Unlock()
	}
	if s.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.ledger.RecordRun(ctx, report); err != nil {
		s.logger.Warn("run not recorded, dedupe degrades to this process", zap.Error(err))
	}
}

func (s *Scheduler) shutdown(err error) {
	s.mu.Lock()
	s.fatal = err
	stop := s.stop
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// cronLogger adapts zap to cron's key-value logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
