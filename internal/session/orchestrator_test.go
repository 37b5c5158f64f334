package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
	"github.com/xkilldash9x/magpie-cli/internal/config"
)

func smallRange(minMs, maxMs int) config.DelayRange {
	return config.DelayRange{
		Min: time.Duration(minMs) * time.Millisecond,
		Max: time.Duration(maxMs) * time.Millisecond,
	}
}

// testConfig keeps every real-time wait tiny; the fake page never sleeps,
// so only resolver polling and verify deadlines cost wall time.
func testConfig() *config.Config {
	return &config.Config{
		Browser: config.BrowserConfig{NavigationTimeout: 5 * time.Second, QuietPeriod: 10 * time.Millisecond},
		Profile: config.ProfileConfig{Locale: "poland"},
		Timing: config.TimingConfig{
			Seed:           7,
			TypoRate:       0,
			ThinkingRate:   0,
			FatigueGrowth:  0,
			FatigueCap:     1,
			PreClick:       smallRange(1, 2),
			TapHold:        smallRange(1, 2),
			PostAction:     smallRange(1, 2),
			KeyPress:       smallRange(1, 2),
			PostNavigation: smallRange(1, 2),
			Thinking:       smallRange(1, 2),
			Correction:     smallRange(1, 2),
		},
		Resolver:   config.ResolverConfig{CandidateWait: 25 * time.Millisecond, PollInterval: 5 * time.Millisecond},
		Recovery:   config.RecoveryConfig{MaxAttempts: 3, StabilizeQuiet: time.Millisecond, StabilizeTimeout: 50 * time.Millisecond},
		Checkpoint: config.CheckpointConfig{Mode: config.CheckpointOff},
		Collector: config.CollectorConfig{
			CoinURL:      "https://m.aliexpress.com/p/coin-index/index.html",
			TargetRegion: "KR",
		},
		Credentials: config.Credentials{Email: "coins@example.com", Password: "hunter2-secret"},
	}
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, page *fakePage) *Orchestrator {
	t.Helper()
	open := func(ctx context.Context, prof schemas.FingerprintProfile) (Page, error) {
		return page, nil
	}
	o, err := New(cfg, open, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return o
}

func runCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func findStep(report *schemas.RunReport, name string) (schemas.StepResult, bool) {
	for _, s := range report.Steps {
		if s.Step == name {
			return s, true
		}
	}
	return schemas.StepResult{}, false
}

func TestNewRejectsNilDependencies(t *testing.T) {
	cfg := testConfig()
	open := func(ctx context.Context, prof schemas.FingerprintProfile) (Page, error) {
		return newFakePage(), nil
	}
	logger := zaptest.NewLogger(t)

	_, err := New(nil, open, nil, logger)
	assert.Error(t, err)
	_, err = New(cfg, nil, nil, logger)
	assert.Error(t, err)
	_, err = New(cfg, open, nil, nil)
	assert.Error(t, err)
}

func TestRunCompletesFullLoginFlow(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	page := loggedOutSite()
	page.console = append(page.console, schemas.ConsoleEntry{Level: "error", Text: "boom", Source: "console-api"})
	o := newTestOrchestrator(t, cfg, page)

	report, err := o.Run(runCtx(t))
	require.NoError(t, err)

	assert.Equal(t, schemas.StateCompleted, report.FinalState)
	assert.True(t, report.Collected)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "samsung-galaxy-s21", report.Device)
	assert.True(t, report.FinishedAt.After(report.StartedAt))

	// Credentials reach the form exactly as configured.
	assert.Equal(t, cfg.Credentials.Email, page.submittedEmail)
	assert.Equal(t, cfg.Credentials.Password, page.submittedPassword)

	// The autocomplete overlay is dismissed with Escape plus a neutral tap.
	assert.Contains(t, page.keys, "Escape")
	assert.Contains(t, page.taps, schemas.Point{X: 100, Y: 100})

	// The coin page is opened once up front and again before collecting.
	assert.Equal(t, []string{cfg.Collector.CoinURL, cfg.Collector.CoinURL}, page.navigations)

	require.Len(t, report.Steps, 9)
	for _, name := range []string{"open login form", "continue to password", "sign in", "collect coins"} {
		step, ok := findStep(report, name)
		require.True(t, ok, name)
		assert.Equal(t, schemas.OutcomeCompleted, step.Outcome, name)
	}
	collect, _ := findStep(report, "collect coins")
	assert.Equal(t, schemas.StateCollecting, collect.State)

	require.Len(t, report.Console, 1)
	assert.Equal(t, "boom", report.Console[0].Text)
	assert.True(t, page.closed)
}

func TestRunSkipsLoginWhenSessionActive(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	page := loggedInSite()
	o := newTestOrchestrator(t, cfg, page)

	report, err := o.Run(runCtx(t))
	require.NoError(t, err)

	assert.Equal(t, schemas.StateCompleted, report.FinalState)
	assert.True(t, report.Collected)

	login, ok := findStep(report, "open login form")
	require.True(t, ok)
	assert.Equal(t, schemas.OutcomeSkipped, login.Outcome)
	assert.Equal(t, schemas.StateAuthenticating, login.State)

	// Nothing was ever typed.
	assert.Empty(t, page.keys)
	assert.Empty(t, page.submittedEmail)
}

func TestRunRecoversThroughAlternateSelector(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	page := newFakePage()
	// The button only exists under a legacy class name from the recovery set.
	relocated := placeCollect(page, collectAlternates[3].Query, row(0))
	o := newTestOrchestrator(t, cfg, page)

	report, err := o.Run(runCtx(t))
	require.NoError(t, err)

	assert.True(t, report.Collected)
	assert.Equal(t, "Collected!", relocated.text)

	collect, ok := findStep(report, "collect coins")
	require.True(t, ok)
	assert.Equal(t, schemas.OutcomeCompleted, collect.Outcome)
	require.Len(t, collect.Attempts, 1)
	assert.Equal(t, schemas.StrategyAlternateSelector, collect.Attempts[0].Strategy)
	assert.Equal(t, schemas.CauseNotFound, collect.Attempts[0].Cause)
}

func TestRunSkipsAmbiguousCandidates(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	page := newFakePage()
	// Two banners share the primary selector; only the real button under the
	// second candidate may be tapped.
	decoyA := page.place(collectCandidates[0].Query, &fakeElement{box: row(0), text: "Collect"})
	decoyB := page.place(collectCandidates[0].Query, &fakeElement{box: row(1), text: "Collect"})
	button := placeCollect(page, collectCandidates[1].Query, row(2))
	o := newTestOrchestrator(t, cfg, page)

	report, err := o.Run(runCtx(t))
	require.NoError(t, err)

	assert.True(t, report.Collected)
	assert.Equal(t, "Collected!", button.text)
	assert.Equal(t, "Collect", decoyA.text)
	assert.Equal(t, "Collect", decoyB.text)

	collect, ok := findStep(report, "collect coins")
	require.True(t, ok)
	assert.Equal(t, schemas.OutcomeCompleted, collect.Outcome)
	assert.Empty(t, collect.Attempts)
}

func TestRunChangesRegionBeforeCollecting(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.Collector.UseRegionChange = true
	page := regionSite("Korea")
	o := newTestOrchestrator(t, cfg, page)

	report, err := o.Run(runCtx(t))
	require.NoError(t, err)

	assert.Equal(t, schemas.StateCompleted, report.FinalState)
	assert.True(t, report.Collected)
	assert.Equal(t, "Korea", page.value(regionSearchCandidates[0].Query))

	for _, name := range []string{"open shipping picker", "open region list", "search region", "choose region", "save region", "confirm region"} {
		step, ok := findStep(report, name)
		require.True(t, ok, name)
		assert.Equal(t, schemas.OutcomeCompleted, step.Outcome, name)
		assert.Equal(t, schemas.StateRegionChanging, step.State, name)
	}
}

func TestRunFallsBackToNativeRegionQuery(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.Collector.UseRegionChange = true
	// The picker only answers to the native name.
	page := regionSite("대한민국")
	o := newTestOrchestrator(t, cfg, page)

	report, err := o.Run(runCtx(t))
	require.NoError(t, err)

	assert.True(t, report.Collected)
	assert.Equal(t, "대한민국", page.value(regionSearchCandidates[0].Query))

	search, ok := findStep(report, "search region")
	require.True(t, ok)
	assert.Equal(t, schemas.OutcomeCompleted, search.Outcome)
	require.Len(t, search.Attempts, 1)
	assert.Equal(t, schemas.StrategyRewait, search.Attempts[0].Strategy)
	assert.Equal(t, schemas.CauseNoEffect, search.Attempts[0].Cause)
}

func TestRunCollectsDirectlyWhenRegionChangeFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.Collector.UseRegionChange = true
	// No ship-to picker anywhere; the run should still collect.
	page := loggedInSite()
	o := newTestOrchestrator(t, cfg, page)

	report, err := o.Run(runCtx(t))
	require.NoError(t, err)

	assert.Equal(t, schemas.StateCompleted, report.FinalState)
	assert.True(t, report.Collected)
	assert.Empty(t, report.Error)

	picker, ok := findStep(report, "open shipping picker")
	require.True(t, ok)
	assert.Equal(t, schemas.OutcomeFailed, picker.Outcome)
	assert.Len(t, picker.Attempts, 3)
	assert.Equal(t, schemas.StateRegionChanging, picker.State)
}

func TestRunFailsWhenLoginStalls(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	page := stalledLoginSite()
	o := newTestOrchestrator(t, cfg, page)

	report, err := o.Run(runCtx(t))
	require.Error(t, err)

	var sf *schemas.SessionFailure
	require.ErrorAs(t, err, &sf)
	assert.Equal(t, schemas.StateAuthenticating, sf.State)
	assert.Equal(t, "continue to password", sf.Step)

	assert.Equal(t, schemas.StateFailed, report.FinalState)
	assert.False(t, report.Collected)
	assert.NotEmpty(t, report.Error)
	assert.True(t, page.closed)

	cont, ok := findStep(report, "continue to password")
	require.True(t, ok)
	assert.Equal(t, schemas.OutcomeFailed, cont.Outcome)
	assert.Len(t, cont.Attempts, 3)
}

func TestRunRejectsUnknownRegion(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.Collector.UseRegionChange = true
	cfg.Collector.TargetRegion = "XX"
	page := loggedInSite()
	o := newTestOrchestrator(t, cfg, page)

	report, err := o.Run(runCtx(t))
	require.Error(t, err)
	assert.True(t, schemas.IsConfigError(err))

	assert.Equal(t, schemas.StateFailed, report.FinalState)
	// The page was never opened.
	assert.Empty(t, page.navigations)
	assert.False(t, page.closed)
}
