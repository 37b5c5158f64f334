// Package config defines the typed application configuration, its viper
// defaults, and validation. Credentials are env-only: they are bound from
// MAGPIE_EMAIL / MAGPIE_PASSWORD, never read from the config file, never
// written anywhere.
package config

import (
	"path/filepath"
	"sort"
	"strconv"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
	"github.com/xkilldash9x/magpie-cli/internal/observability"
	"github.com/xkilldash9x/magpie-cli/internal/profile"
)

// Checkpoint gate modes. The duality between interactive and unattended
// behavior is explicit configuration, never inferred from a headless flag.
const (
	CheckpointInteractive = "interactive"
	CheckpointAuto        = "auto"
	CheckpointFail        = "fail"
	CheckpointOff         = "off"
)

// Config is the root of the application configuration tree.
type Config struct {
	Logging     observability.Config `mapstructure:"logging"`
	Browser     BrowserConfig        `mapstructure:"browser"`
	Profile     ProfileConfig        `mapstructure:"profile"`
	Timing      TimingConfig         `mapstructure:"timing"`
	Resolver    ResolverConfig       `mapstructure:"resolver"`
	Recovery    RecoveryConfig       `mapstructure:"recovery"`
	Checkpoint  CheckpointConfig     `mapstructure:"checkpoint"`
	Collector   CollectorConfig      `mapstructure:"collector"`
	Schedule    ScheduleConfig       `mapstructure:"schedule"`
	Store       StoreConfig          `mapstructure:"store"`
	Credentials Credentials          `mapstructure:"credentials"`
}

// BrowserConfig controls the Chrome process and navigation behavior.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	DisableGPU        bool          `mapstructure:"disable_gpu"`
	ChromePath        string        `mapstructure:"chrome_path"`
	Args              []string      `mapstructure:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	QuietPeriod       time.Duration `mapstructure:"quiet_period"`
}

// ProfileConfig selects the device fingerprint.
type ProfileConfig struct {
	Locale string `mapstructure:"locale"`
}

// DelayRange bounds one delay kind. Samples are clamped into [Min, Max].
type DelayRange struct {
	Min time.Duration `mapstructure:"min"`
	Max time.Duration `mapstructure:"max"`
}

// TimingConfig tunes the human timing model.
type TimingConfig struct {
	// Seed makes delays and paths reproducible; 0 seeds from entropy.
	Seed int64 `mapstructure:"seed"`
	// TypoRate is the per-character probability of a deliberate
	// mistake-and-correction while typing. Capped below 0.05 by validation.
	TypoRate     float64 `mapstructure:"typo_rate"`
	ThinkingRate float64 `mapstructure:"thinking_rate"`
	// FatigueGrowth lengthens delays as the session wears on; the multiplier
	// is 1 + FatigueGrowth*actions, capped at FatigueCap.
	FatigueGrowth float64 `mapstructure:"fatigue_growth"`
	FatigueCap    float64 `mapstructure:"fatigue_cap"`

	PreClick       DelayRange `mapstructure:"pre_click"`
	TapHold        DelayRange `mapstructure:"tap_hold"`
	PostAction     DelayRange `mapstructure:"post_action"`
	KeyPress       DelayRange `mapstructure:"key_press"`
	PostNavigation DelayRange `mapstructure:"post_navigation"`
	Thinking       DelayRange `mapstructure:"thinking"`
	Correction     DelayRange `mapstructure:"correction"`
}

// ResolverConfig bounds element resolution waits.
type ResolverConfig struct {
	// CandidateWait is the per-candidate budget for the element to become
	// visible before the resolver moves to the next candidate.
	CandidateWait time.Duration `mapstructure:"candidate_wait"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
}

// RecoveryConfig bounds the retry coordinator.
type RecoveryConfig struct {
	MaxAttempts      int           `mapstructure:"max_attempts"`
	StabilizeQuiet   time.Duration `mapstructure:"stabilize_quiet"`
	StabilizeTimeout time.Duration `mapstructure:"stabilize_timeout"`
}

// CheckpointConfig selects the gate mode and its waits.
type CheckpointConfig struct {
	Mode    string        `mapstructure:"mode"`
	Grace   time.Duration `mapstructure:"grace"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CollectorConfig describes the reward flow target.
type CollectorConfig struct {
	CoinURL         string `mapstructure:"coin_url"`
	UseRegionChange bool   `mapstructure:"use_region_change"`
	TargetRegion    string `mapstructure:"target_region"`
}

// ScheduleConfig describes the unattended daily window. Times are wall-clock
// "HH:MM" in the window's timezone.
type ScheduleConfig struct {
	WindowStart string `mapstructure:"window_start"`
	WindowEnd   string `mapstructure:"window_end"`
	Timezone    string `mapstructure:"timezone"`
	Seed        int64  `mapstructure:"seed"`
}

// StoreConfig locates the run-history database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// Credentials holds the account login. Loaded exclusively from the
// environment; String is overridden so an accidental %v can never leak it.
type Credentials struct {
	Email    string `mapstructure:"email" yaml:"-"`
	Password string `mapstructure:"password" yaml:"-"`
}

func (Credentials) String() string { return "credentials(redacted)" }

// Set reports whether both fields are present.
func (c Credentials) Set() bool { return c.Email != "" && c.Password != "" }

// SetDefaults registers every default on the given viper instance. Every
// threshold the engine uses is configuration, not a constant.
func SetDefaults(v *viper.Viper) {
	// -- Logging --
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.log_file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)
	v.SetDefault("logging.add_source", false)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.chrome_path", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.quiet_period", "1500ms")

	// -- Profile --
	v.SetDefault("profile.locale", "poland")

	// -- Timing --
	v.SetDefault("timing.seed", 0)
	v.SetDefault("timing.typo_rate", 0.03)
	v.SetDefault("timing.thinking_rate", 0.05)
	v.SetDefault("timing.fatigue_growth", 0.02)
	v.SetDefault("timing.fatigue_cap", 1.5)
	v.SetDefault("timing.pre_click.min", "200ms")
	v.SetDefault("timing.pre_click.max", "900ms")
	v.SetDefault("timing.tap_hold.min", "50ms")
	v.SetDefault("timing.tap_hold.max", "140ms")
	v.SetDefault("timing.post_action.min", "300ms")
	v.SetDefault("timing.post_action.max", "1200ms")
	v.SetDefault("timing.key_press.min", "55ms")
	v.SetDefault("timing.key_press.max", "180ms")
	v.SetDefault("timing.post_navigation.min", "800ms")
	v.SetDefault("timing.post_navigation.max", "2500ms")
	v.SetDefault("timing.thinking.min", "800ms")
	v.SetDefault("timing.thinking.max", "2200ms")
	v.SetDefault("timing.correction.min", "150ms")
	v.SetDefault("timing.correction.max", "450ms")

	// -- Resolver --
	v.SetDefault("resolver.candidate_wait", "5s")
	v.SetDefault("resolver.poll_interval", "250ms")

	// -- Recovery --
	v.SetDefault("recovery.max_attempts", 3)
	v.SetDefault("recovery.stabilize_quiet", "1500ms")
	v.SetDefault("recovery.stabilize_timeout", "20s")

	// -- Checkpoint --
	v.SetDefault("checkpoint.mode", CheckpointInteractive)
	v.SetDefault("checkpoint.grace", "15s")
	v.SetDefault("checkpoint.timeout", "90s")

	// -- Collector --
	v.SetDefault("collector.coin_url", "https://m.aliexpress.com/p/coin-index/index.html")
	v.SetDefault("collector.use_region_change", false)
	v.SetDefault("collector.target_region", "KR")

	// -- Schedule --
	v.SetDefault("schedule.window_start", "10:00")
	v.SetDefault("schedule.window_end", "14:00")
	v.SetDefault("schedule.timezone", "Local")
	v.SetDefault("schedule.seed", 0)

	// -- Store --
	v.SetDefault("store.path", "")

	// -- Credentials (env-only) --
	v.SetDefault("credentials.email", "")
	v.SetDefault("credentials.password", "")
	_ = v.BindEnv("credentials.email", "MAGPIE_EMAIL")
	_ = v.BindEnv("credentials.password", "MAGPIE_PASSWORD")
}

// Load unmarshals and validates the configuration from the given viper
// instance, filling in the home-relative store default.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &schemas.ConfigError{Field: "config", Value: v.ConfigFileUsed(), Reason: err.Error()}
	}

	if cfg.Store.Path == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, &schemas.ConfigError{Field: "store.path", Value: "", Reason: "cannot determine home directory: " + err.Error()}
		}
		cfg.Store.Path = filepath.Join(home, ".magpie", "magpie.db")
	} else if expanded, err := homedir.Expand(cfg.Store.Path); err == nil {
		cfg.Store.Path = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the structural invariants every command relies on.
// Violations are schemas.ConfigError: fatal, surfaced immediately, no retry.
func (c *Config) Validate() error {
	if _, err := profile.Select(c.Profile.Locale); err != nil {
		return err
	}

	if c.Timing.TypoRate < 0 || c.Timing.TypoRate >= 0.05 {
		return &schemas.ConfigError{
			Field:  "timing.typo_rate",
			Value:  formatFloat(c.Timing.TypoRate),
			Reason: "must be in [0, 0.05)",
		}
	}
	for _, r := range []struct {
		name string
		rng  DelayRange
	}{
		{"timing.pre_click", c.Timing.PreClick},
		{"timing.tap_hold", c.Timing.TapHold},
		{"timing.post_action", c.Timing.PostAction},
		{"timing.key_press", c.Timing.KeyPress},
		{"timing.post_navigation", c.Timing.PostNavigation},
		{"timing.thinking", c.Timing.Thinking},
		{"timing.correction", c.Timing.Correction},
	} {
		if r.rng.Min <= 0 || r.rng.Max < r.rng.Min {
			return &schemas.ConfigError{
				Field:  r.name,
				Value:  r.rng.Min.String() + ".." + r.rng.Max.String(),
				Reason: "delay range needs 0 < min <= max",
			}
		}
	}

	if c.Resolver.CandidateWait <= 0 || c.Resolver.PollInterval <= 0 {
		return &schemas.ConfigError{Field: "resolver", Value: "", Reason: "candidate_wait and poll_interval must be positive"}
	}
	if c.Recovery.MaxAttempts < 1 {
		return &schemas.ConfigError{Field: "recovery.max_attempts", Value: formatInt(c.Recovery.MaxAttempts), Reason: "needs at least one attempt"}
	}

	switch c.Checkpoint.Mode {
	case CheckpointInteractive, CheckpointAuto, CheckpointFail, CheckpointOff:
	default:
		return &schemas.ConfigError{
			Field:  "checkpoint.mode",
			Value:  c.Checkpoint.Mode,
			Reason: "unknown mode",
			Valid:  []string{CheckpointInteractive, CheckpointAuto, CheckpointFail, CheckpointOff},
		}
	}

	if err := validateWindow(c.Schedule); err != nil {
		return err
	}
	return nil
}

// ValidateUnattended adds the scheduled-mode constraint: the interactive
// gate is the one unbounded wait in the system and must be excluded from
// unattended execution paths.
func (c *Config) ValidateUnattended() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Checkpoint.Mode == CheckpointInteractive {
		return &schemas.ConfigError{
			Field:  "checkpoint.mode",
			Value:  c.Checkpoint.Mode,
			Reason: "interactive checkpoints cannot run unattended",
			Valid:  []string{CheckpointAuto, CheckpointFail, CheckpointOff},
		}
	}
	return nil
}

// RequireCredentials rejects a run without account credentials, pointing at
// the environment variables that supply them.
func (c *Config) RequireCredentials() error {
	if !c.Credentials.Set() {
		return &schemas.ConfigError{
			Field:  "credentials",
			Value:  "",
			Reason: "set MAGPIE_EMAIL and MAGPIE_PASSWORD in the environment",
		}
	}
	return nil
}

func validateWindow(s ScheduleConfig) error {
	start, err := ParseClock(s.WindowStart)
	if err != nil {
		return &schemas.ConfigError{Field: "schedule.window_start", Value: s.WindowStart, Reason: err.Error()}
	}
	end, err := ParseClock(s.WindowEnd)
	if err != nil {
		return &schemas.ConfigError{Field: "schedule.window_end", Value: s.WindowEnd, Reason: err.Error()}
	}
	if !start.Before(end) {
		return &schemas.ConfigError{
			Field:  "schedule",
			Value:  s.WindowStart + ".." + s.WindowEnd,
			Reason: "window start must be before window end",
		}
	}
	if s.Timezone != "Local" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return &schemas.ConfigError{Field: "schedule.timezone", Value: s.Timezone, Reason: err.Error()}
		}
	}
	return nil
}

// Location resolves the schedule timezone.
func (s ScheduleConfig) Location() (*time.Location, error) {
	if s.Timezone == "" || s.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// Before reports whether c is earlier in the day than other.
func (c Clock) Before(other Clock) bool {
	return c.Hour < other.Hour || (c.Hour == other.Hour && c.Minute < other.Minute)
}

// MinuteOfDay returns the clock as minutes since midnight.
func (c Clock) MinuteOfDay() int { return c.Hour*60 + c.Minute }

// ParseClock parses "HH:MM" wall-clock strings.
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, err
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// ValidLocales lists the catalog keys, sorted, for error messages and help
// output.
func ValidLocales() []string {
	keys := profile.Keys()
	sort.Strings(keys)
	return keys
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

func formatInt(i int) string { return strconv.Itoa(i) }
