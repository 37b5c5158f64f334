// Package schedule fires one collection session per day at a random-looking
// instant inside a configured wall-clock window. The instant for a given day
// is a pure function of the seed and the date, so a restart lands back on
// the same schedule instead of rolling a fresh time.
package schedule

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
	"github.com/xkilldash9x/magpie-cli/internal/config"
)

// Window is the daily span scheduled runs fire in. It implements
// cron.Schedule: Next picks the day's instant, uniform across the span.
type Window struct {
	start config.Clock
	end   config.Clock
	loc   *time.Location
	seed  int64
}

// NewWindow validates the configured window. A zero seed is replaced with a
// clock seed, the timing model's convention.
func NewWindow(cfg config.ScheduleConfig) (Window, error) {
	start, err := config.ParseClock(cfg.WindowStart)
	if err != nil {
		return Window{}, &schemas.ConfigError{Field: "schedule.window_start", Value: cfg.WindowStart, Reason: err.Error()}
	}
	end, err := config.ParseClock(cfg.WindowEnd)
	if err != nil {
		return Window{}, &schemas.ConfigError{Field: "schedule.window_end", Value: cfg.WindowEnd, Reason: err.Error()}
	}
	if !start.Before(end) {
		return Window{}, &schemas.ConfigError{
			Field:  "schedule",
			Value:  cfg.WindowStart + ".." + cfg.WindowEnd,
			Reason: "window start must be before window end",
		}
	}
	loc, err := cfg.Location()
	if err != nil {
		return Window{}, &schemas.ConfigError{Field: "schedule.timezone", Value: cfg.Timezone, Reason: err.Error()}
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return Window{start: start, end: end, loc: loc, seed: seed}, nil
}

// Location is the timezone the window is anchored in.
func (w Window) Location() *time.Location { return w.loc }

func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d..%02d:%02d %s",
		w.start.Hour, w.start.Minute, w.end.Hour, w.end.Minute, w.loc)
}

// Next returns the first fire instant after now: today's when it is still
// ahead, otherwise tomorrow's. A day has exactly one instant, so a same-day
// refire is structurally impossible.
func (w Window) Next(now time.Time) time.Time {
	local := now.In(w.loc)
	if fire := w.fireOn(local); fire.After(now) {
		return fire
	}
	return w.fireOn(local.AddDate(0, 0, 1))
}

// fireOn derives the instant for day: a per-date source draws a second
// offset uniform in [0, span).
func (w Window) fireOn(day time.Time) time.Time {
	span := int64(w.end.MinuteOfDay()-w.start.MinuteOfDay()) * 60
	rng := rand.New(rand.NewSource(w.seed ^ (dayKey(day) * 2654435761)))
	offset := time.Duration(rng.Int63n(span)) * time.Second
	return time.Date(day.Year(), day.Month(), day.Day(), w.start.Hour, w.start.Minute, 0, 0, w.loc).Add(offset)
}

// dayKey spreads the date so consecutive days seed distant states.
func dayKey(t time.Time) int64 {
	y, m, d := t.Date()
	return int64(y)*10000 + int64(m)*100 + int64(d)
}
