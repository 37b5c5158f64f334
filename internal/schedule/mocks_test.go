package schedule

import (
	"context"
	"sync"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
)

// fakeLedger is a scripted run store. Behavior is overridden per test
// through the function field.
type fakeLedger struct {
	mu        sync.Mutex
	ranOn     func(day, profileKey string) (bool, error)
	recordErr error
	records   []*schemas.RunReport
}

func (l *fakeLedger) RanOn(ctx context.Context, day, profileKey string) (bool, error) {
	if l.ranOn != nil {
		return l.ranOn(day, profileKey)
	}
	return false, nil
}

func (l *fakeLedger) RecordRun(ctx context.Context, report *schemas.RunReport) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recordErr != nil {
		return l.recordErr
	}
	l.records = append(l.records, report)
	return nil
}

func (l *fakeLedger) recorded() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
