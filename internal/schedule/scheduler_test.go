package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
)

func testWindow(t *testing.T) Window {
	t.Helper()
	w, err := NewWindow(windowConfig())
	require.NoError(t, err)
	return w
}

// countingRunner returns the given report and error on every call and counts
// invocations.
func countingRunner(report func() *schemas.RunReport, err error) (Runner, *atomic.Int32) {
	var calls atomic.Int32
	return func(ctx context.Context) (*schemas.RunReport, error) {
		calls.Add(1)
		if report == nil {
			return nil, err
		}
		return report(), err
	}, &calls
}

func collectedReport() *schemas.RunReport {
	return &schemas.RunReport{
		RunID:      "run-1",
		ProfileKey: "poland",
		StartedAt:  time.Now().UTC(),
		FinalState: schemas.StateCompleted,
		Collected:  true,
	}
}

func failedReport() *schemas.RunReport {
	return &schemas.RunReport{
		RunID:      "run-2",
		ProfileKey: "poland",
		StartedAt:  time.Now().UTC(),
		FinalState: schemas.StateFailed,
		Error:      "tap never registered",
	}
}

func TestNewRejectsNilDependencies(t *testing.T) {
	w := testWindow(t)
	runner, _ := countingRunner(collectedReport, nil)
	logger := zaptest.NewLogger(t)

	_, err := New(w, "poland", nil, nil, logger)
	assert.Error(t, err)
	_, err = New(w, "poland", runner, nil, nil)
	assert.Error(t, err)

	s, err := New(w, "poland", runner, nil, logger)
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestFireRunsRecordsAndDedupes(t *testing.T) {
	ledger := &fakeLedger{}
	runner, calls := countingRunner(collectedReport, nil)
	s, err := New(testWindow(t), "poland", runner, ledger, zaptest.NewLogger(t))
	require.NoError(t, err)

	s.fire(context.Background())
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, ledger.recorded())

	// The same day never runs twice, even before the ledger write lands.
	s.fire(context.Background())
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, ledger.recorded())
}

func TestFireSkipsWhenLedgerSawARun(t *testing.T) {
	ledger := &fakeLedger{ranOn: func(day, profileKey string) (bool, error) {
		return profileKey == "poland", nil
	}}
	runner, calls := countingRunner(collectedReport, nil)
	s, err := New(testWindow(t), "poland", runner, ledger, zaptest.NewLogger(t))
	require.NoError(t, err)

	s.fire(context.Background())
	assert.Zero(t, calls.Load())
	assert.Zero(t, ledger.recorded())
}

func TestFireRunsWhenLedgerLookupFails(t *testing.T) {
	ledger := &fakeLedger{ranOn: func(day, profileKey string) (bool, error) {
		return false, errors.New("database is locked")
	}}
	runner, calls := countingRunner(collectedReport, nil)
	s, err := New(testWindow(t), "poland", runner, ledger, zaptest.NewLogger(t))
	require.NoError(t, err)

	s.fire(context.Background())
	assert.Equal(t, int32(1), calls.Load())
}

func TestFireRetriesAfterFailedRun(t *testing.T) {
	ledger := &fakeLedger{}
	runner, calls := countingRunner(failedReport, errors.New("chrome went away"))
	s, err := New(testWindow(t), "poland", runner, ledger, zaptest.NewLogger(t))
	require.NoError(t, err)

	s.fire(context.Background())
	s.fire(context.Background())

	// A failed run does not burn the day and never stops the loop.
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, ledger.recorded())
	s.mu.Lock()
	assert.NoError(t, s.fatal)
	s.mu.Unlock()
}

func TestFireRecordFailureDegradesToProcessDedupe(t *testing.T) {
	ledger := &fakeLedger{recordErr: errors.New("disk full")}
	runner, calls := countingRunner(collectedReport, nil)
	s, err := New(testWindow(t), "poland", runner, ledger, zaptest.NewLogger(t))
	require.NoError(t, err)

	s.fire(context.Background())
	s.fire(context.Background())

	assert.Equal(t, int32(1), calls.Load())
	assert.Zero(t, ledger.recorded())
}

func TestConfigErrorInsideSessionFailureIsFatal(t *testing.T) {
	cfgErr := &schemas.SessionFailure{
		State: schemas.StateAuthenticating,
		Step:  "open login form",
		Err:   &schemas.ConfigError{Field: "credentials", Reason: "not set"},
	}
	runner, _ := countingRunner(failedReport, cfgErr)
	s, err := New(testWindow(t), "poland", runner, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	s.fire(context.Background())

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Error(t, s.fatal)
	assert.True(t, schemas.IsConfigError(s.fatal))
}

func TestRunForeverStopsOnConfigError(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner, _ := countingRunner(nil, &schemas.ConfigError{Field: "collector.target_region", Value: "XX"})
	s, err := New(testWindow(t), "poland", runner, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- s.RunForever(ctx) }()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.stop != nil
	}, time.Second, 5*time.Millisecond)

	// Stand in for the cron firing; waiting for the window would take hours.
	s.fire(ctx)

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.True(t, schemas.IsConfigError(err))
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler kept running after a configuration error")
	}
}

func TestRunForeverStopsCleanOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner, _ := countingRunner(collectedReport, nil)
	s, err := New(testWindow(t), "poland", runner, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.RunForever(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop on cancellation")
	}
}
