// Package checkpoint pauses a run for human judgment when recovery has run
// out of automatic remedies. The interactive/unattended duality is explicit
// configuration; nothing here infers behavior from a headless flag.
package checkpoint

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
	"github.com/xkilldash9x/magpie-cli/internal/config"
)

// Decision is the outcome of one gate consultation.
type Decision string

const (
	Confirmed Decision = "confirmed"
	Skipped   Decision = "skipped"
	TimedOut  Decision = "timed_out"
)

// Request describes what the gate is being asked to confirm.
type Request struct {
	// Step names the stuck step for the prompt and logs.
	Step string
	// Detail is a one-line explanation of what went wrong.
	Detail string
	// Highlight, when set, marks the candidate element on the page before the
	// prompt. Best effort; a highlight failure never blocks the gate.
	Highlight func(ctx context.Context) error
}

// Gate blocks a step until a human confirms, an unattended policy decides, or
// the configured wait runs out. Streams are injected so tests never touch
// process stdio.
type Gate struct {
	cfg    config.CheckpointConfig
	in     io.Reader
	out    io.Writer
	logger *zap.Logger

	// One reader goroutine per gate; sequential consultations share it so
	// buffered input is never split across scanners.
	once  sync.Once
	lines chan string
}

// New creates a Gate reading decisions from in and prompting on out.
func New(cfg config.CheckpointConfig, in io.Reader, out io.Writer, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{cfg: cfg, in: in, out: out, logger: logger}
}

// Enabled reports whether the gate participates in recovery at all. When
// false, escalation is skipped entirely.
func (g *Gate) Enabled() bool {
	return g.cfg.Mode != config.CheckpointOff
}

// Await consults the gate. Confirmed means the caller should retry the action
// once more; Skipped means move on without it; TimedOut is terminal for the
// step and carries the reason as the error.
func (g *Gate) Await(ctx context.Context, req Request) (Decision, error) {
	if !g.Enabled() {
		return Skipped, nil
	}

	if req.Highlight != nil {
		if err := req.Highlight(ctx); err != nil {
			g.logger.Debug("checkpoint highlight failed", zap.String("step", req.Step), zap.Error(err))
		}
	}

	switch g.cfg.Mode {
	case config.CheckpointInteractive:
		return g.awaitInteractive(ctx, req)
	case config.CheckpointAuto:
		return g.awaitAutoConfirm(ctx, req)
	default:
		return g.awaitFail(ctx, req)
	}
}

// awaitInteractive blocks without a deadline until the operator answers or
// the context ends. Scheduled mode excludes this path at validation time.
func (g *Gate) awaitInteractive(ctx context.Context, req Request) (Decision, error) {
	started := time.Now()
	g.prompt(req)

	for {
		select {
		case answer, ok := <-g.lineStream():
			if !ok {
				// Input closed under us; treat like an unanswered prompt.
				return TimedOut, &schemas.CheckpointTimeoutError{Step: req.Step, Waited: time.Since(started)}
			}
			switch strings.ToLower(strings.TrimSpace(answer)) {
			case "", "y", "yes":
				return Confirmed, nil
			case "s", "skip", "n", "no":
				return Skipped, nil
			default:
				fmt.Fprintf(g.out, "  unrecognized answer %q - [enter]/[y] confirm, [s] skip: ", answer)
			}
		case <-ctx.Done():
			return TimedOut, ctx.Err()
		}
	}
}

// awaitAutoConfirm waits out a grace delay and then proceeds as confirmed.
func (g *Gate) awaitAutoConfirm(ctx context.Context, req Request) (Decision, error) {
	g.logger.Warn("checkpoint auto-confirming without a human",
		zap.String("step", req.Step),
		zap.String("detail", req.Detail),
		zap.Duration("grace", g.cfg.Grace))
	fmt.Fprintf(g.out, "  unattended checkpoint: step %q auto-confirms in %s\n", req.Step, g.cfg.Grace)

	timer := time.NewTimer(g.cfg.Grace)
	defer timer.Stop()
	select {
	case <-timer.C:
		return Confirmed, nil
	case <-ctx.Done():
		return TimedOut, ctx.Err()
	}
}

// awaitFail waits the configured timeout for a confirmation that cannot
// arrive, then fails the step.
func (g *Gate) awaitFail(ctx context.Context, req Request) (Decision, error) {
	g.logger.Warn("checkpoint in fail mode, step will time out",
		zap.String("step", req.Step),
		zap.String("detail", req.Detail),
		zap.Duration("timeout", g.cfg.Timeout))
	fmt.Fprintf(g.out, "  unattended checkpoint: step %q fails after %s without confirmation\n", req.Step, g.cfg.Timeout)

	timer := time.NewTimer(g.cfg.Timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		return TimedOut, &schemas.CheckpointTimeoutError{Step: req.Step, Waited: g.cfg.Timeout}
	case <-ctx.Done():
		return TimedOut, ctx.Err()
	}
}

func (g *Gate) prompt(req Request) {
	fmt.Fprintf(g.out, "\n  step %q could not complete automatically (%s).\n", req.Step, req.Detail)
	fmt.Fprint(g.out, "  confirm the highlighted element: [enter]/[y] continue, [s] skip: ")
}

func (g *Gate) lineStream() <-chan string {
	g.once.Do(func() {
		g.lines = make(chan string)
		go func() {
			scanner := bufio.NewScanner(g.in)
			for scanner.Scan() {
				g.lines <- scanner.Text()
			}
			close(g.lines)
		}()
	})
	return g.lines
}
