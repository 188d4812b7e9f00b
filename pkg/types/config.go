package types

import (
	"errors"
	"time"
)

// Config holds backend selection and session tuning. Zero durations select
// the defaults below, so a Config with only Backend set is usable.
type Config struct {
	Backend         string         `json:"backend" yaml:"backend"`
	DataDir         string         `json:"data_dir" yaml:"data_dir"`
	DefaultLanguage string         `json:"default_language" yaml:"default_language"`
	AutoSave        AutoSaveConfig `json:"autosave" yaml:"autosave"`
	Session         SessionConfig  `json:"session" yaml:"session"`
	Focus           FocusConfig    `json:"focus" yaml:"focus"`
}

// AutoSaveConfig sets the debounce delay of each auto-save channel.
type AutoSaveConfig struct {
	CodeDelay     time.Duration `json:"code_delay" yaml:"code_delay"`
	NotesDelay    time.Duration `json:"notes_delay" yaml:"notes_delay"`
	LanguageDelay time.Duration `json:"language_delay" yaml:"language_delay"`
}

// SessionConfig tunes mode transitions and the validation guard.
type SessionConfig struct {
	SettleDelay   time.Duration `json:"settle_delay" yaml:"settle_delay"`
	GuardInterval time.Duration `json:"guard_interval" yaml:"guard_interval"`
}

// FocusConfig tunes focus-mode diagnostics.
type FocusConfig struct {
	BackupBudget     time.Duration `json:"backup_budget" yaml:"backup_budget"`
	TransitionBudget time.Duration `json:"transition_budget" yaml:"transition_budget"`
	MetricsCapacity  int           `json:"metrics_capacity" yaml:"metrics_capacity"`
}

// Supported backend names.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Defaults applied when a Config field is zero.
const (
	DefaultCodeDelay        = 3 * time.Second
	DefaultNotesDelay       = 3 * time.Second
	DefaultLanguageDelay    = 500 * time.Millisecond
	DefaultSettleDelay      = 300 * time.Millisecond
	DefaultGuardInterval    = time.Second
	DefaultBackupBudget     = 50 * time.Millisecond
	DefaultTransitionBudget = 300 * time.Millisecond
	DefaultMetricsCapacity  = 50
)

// Config validation errors.
var (
	ErrBackendEmpty     = errors.New("backend must not be empty")
	ErrBackendUnknown   = errors.New("unknown backend")
	ErrDelayNegative    = errors.New("delays must not be negative")
	ErrCapacityNegative = errors.New("metrics capacity must not be negative")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite: true,
	BackendMemory: true,
}

// Validate checks that the Config is well-formed. It returns a sentinel
// error from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	for _, d := range []time.Duration{
		c.AutoSave.CodeDelay, c.AutoSave.NotesDelay, c.AutoSave.LanguageDelay,
		c.Session.SettleDelay, c.Session.GuardInterval,
		c.Focus.BackupBudget, c.Focus.TransitionBudget,
	} {
		if d < 0 {
			return ErrDelayNegative
		}
	}
	if c.Focus.MetricsCapacity < 0 {
		return ErrCapacityNegative
	}
	return nil
}

// GetDefaultLanguage returns the language for new regular cards.
func (c Config) GetDefaultLanguage() string {
	if c.DefaultLanguage == "" {
		return DefaultCardLanguage
	}
	return c.DefaultLanguage
}

// Delay returns the debounce delay for field f, falling back to defaults.
func (c AutoSaveConfig) Delay(f Field) time.Duration {
	switch f {
	case FieldCode:
		return orDefault(c.CodeDelay, DefaultCodeDelay)
	case FieldNotes:
		return orDefault(c.NotesDelay, DefaultNotesDelay)
	case FieldLanguage:
		return orDefault(c.LanguageDelay, DefaultLanguageDelay)
	default:
		return DefaultCodeDelay
	}
}

// GetSettleDelay returns the post-restore settling delay.
func (c SessionConfig) GetSettleDelay() time.Duration {
	return orDefault(c.SettleDelay, DefaultSettleDelay)
}

// GetGuardInterval returns the guard throttle interval.
func (c SessionConfig) GetGuardInterval() time.Duration {
	return orDefault(c.GuardInterval, DefaultGuardInterval)
}

// GetBackupBudget returns the warning threshold for backup and restore.
func (c FocusConfig) GetBackupBudget() time.Duration {
	return orDefault(c.BackupBudget, DefaultBackupBudget)
}

// GetTransitionBudget returns the warning threshold for a whole toggle.
func (c FocusConfig) GetTransitionBudget() time.Duration {
	return orDefault(c.TransitionBudget, DefaultTransitionBudget)
}

// GetMetricsCapacity returns the performance ring buffer size.
func (c FocusConfig) GetMetricsCapacity() int {
	if c.MetricsCapacity <= 0 {
		return DefaultMetricsCapacity
	}
	return c.MetricsCapacity
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
