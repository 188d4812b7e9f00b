package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/codecards/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"
)

// Config keys.
const (
	cfgKeyBackend          = "backend"
	cfgKeyDataDir          = "data_dir"
	cfgKeyLogLevel         = "log_level"
	cfgKeyLogFormat        = "log_format"
	cfgKeyDefaultLanguage  = "default_language"
	cfgKeyCodeDelay        = "autosave.code_delay"
	cfgKeyNotesDelay       = "autosave.notes_delay"
	cfgKeyLanguageDelay    = "autosave.language_delay"
	cfgKeySettleDelay      = "session.settle_delay"
	cfgKeyGuardInterval    = "session.guard_interval"
	cfgKeyBackupBudget     = "focus.backup_budget"
	cfgKeyTransitionBudget = "focus.transition_budget"
	cfgKeyMetricsCapacity  = "focus.metrics_capacity"
)

// configFile is the structure written to a fresh config.yaml. Durations
// are written as strings so the file reads "3s" rather than nanoseconds.
type configFile struct {
	Backend         string `yaml:"backend"`
	DataDir         string `yaml:"data_dir,omitempty"`
	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"`
	DefaultLanguage string `yaml:"default_language"`
	AutoSave        struct {
		CodeDelay     string `yaml:"code_delay"`
		NotesDelay    string `yaml:"notes_delay"`
		LanguageDelay string `yaml:"language_delay"`
	} `yaml:"autosave"`
	Session struct {
		SettleDelay   string `yaml:"settle_delay"`
		GuardInterval string `yaml:"guard_interval"`
	} `yaml:"session"`
	Focus struct {
		BackupBudget     string `yaml:"backup_budget"`
		TransitionBudget string `yaml:"transition_budget"`
		MetricsCapacity  int    `yaml:"metrics_capacity"`
	} `yaml:"focus"`
}

func defaultConfigFile(dataDir string) configFile {
	var c configFile
	c.Backend = types.BackendSQLite
	c.DataDir = dataDir
	c.LogLevel = "warn"
	c.LogFormat = "console"
	c.DefaultLanguage = types.DefaultCardLanguage
	c.AutoSave.CodeDelay = types.DefaultCodeDelay.String()
	c.AutoSave.NotesDelay = types.DefaultNotesDelay.String()
	c.AutoSave.LanguageDelay = types.DefaultLanguageDelay.String()
	c.Session.SettleDelay = types.DefaultSettleDelay.String()
	c.Session.GuardInterval = types.DefaultGuardInterval.String()
	c.Focus.BackupBudget = types.DefaultBackupBudget.String()
	c.Focus.TransitionBudget = types.DefaultTransitionBudget.String()
	c.Focus.MetricsCapacity = types.DefaultMetricsCapacity
	return c
}

// settings is the resolved configuration of one CLI invocation.
type settings struct {
	configDir string
	config    types.Config
	logLevel  string
	logFormat string
}

// loadSettings reads config.yaml from the resolved config directory,
// applies flag overrides and validates the result. A missing config.yaml
// is not an error.
func loadSettings() (*settings, error) {
	configDir, err := resolveConfigDir()
	if err != nil {
		return nil, systemError("resolve config dir: %w", err)
	}
	v, err := loadConfig(configDir)
	if err != nil {
		return nil, systemError("load config: %w", err)
	}

	cfg := configFromViper(v)
	if flags.backend != "" {
		cfg.Backend = flags.backend
	}
	cfg.DataDir, err = resolveDataDir(cfg.DataDir)
	if err != nil {
		return nil, systemError("resolve data dir: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	s := &settings{
		configDir: configDir,
		config:    cfg,
		logLevel:  v.GetString(cfgKeyLogLevel),
		logFormat: v.GetString(cfgKeyLogFormat),
	}
	if flags.logLevel != "" {
		s.logLevel = flags.logLevel
	}
	return s, nil
}

// loadConfig reads config.yaml from configDir using Viper. Defaults cover
// every key, so a missing file yields the default configuration.
func loadConfig(configDir string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(cfgKeyBackend, types.BackendSQLite)
	v.SetDefault(cfgKeyLogLevel, "warn")
	v.SetDefault(cfgKeyLogFormat, "console")
	v.SetDefault(cfgKeyDefaultLanguage, types.DefaultCardLanguage)
	v.SetDefault(cfgKeyCodeDelay, types.DefaultCodeDelay)
	v.SetDefault(cfgKeyNotesDelay, types.DefaultNotesDelay)
	v.SetDefault(cfgKeyLanguageDelay, types.DefaultLanguageDelay)
	v.SetDefault(cfgKeySettleDelay, types.DefaultSettleDelay)
	v.SetDefault(cfgKeyGuardInterval, types.DefaultGuardInterval)
	v.SetDefault(cfgKeyBackupBudget, types.DefaultBackupBudget)
	v.SetDefault(cfgKeyTransitionBudget, types.DefaultTransitionBudget)
	v.SetDefault(cfgKeyMetricsCapacity, types.DefaultMetricsCapacity)

	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

func configFromViper(v *viper.Viper) types.Config {
	return types.Config{
		Backend:         v.GetString(cfgKeyBackend),
		DataDir:         v.GetString(cfgKeyDataDir),
		DefaultLanguage: v.GetString(cfgKeyDefaultLanguage),
		AutoSave: types.AutoSaveConfig{
			CodeDelay:     v.GetDuration(cfgKeyCodeDelay),
			NotesDelay:    v.GetDuration(cfgKeyNotesDelay),
			LanguageDelay: v.GetDuration(cfgKeyLanguageDelay),
		},
		Session: types.SessionConfig{
			SettleDelay:   v.GetDuration(cfgKeySettleDelay),
			GuardInterval: v.GetDuration(cfgKeyGuardInterval),
		},
		Focus: types.FocusConfig{
			BackupBudget:     v.GetDuration(cfgKeyBackupBudget),
			TransitionBudget: v.GetDuration(cfgKeyTransitionBudget),
			MetricsCapacity:  v.GetInt(cfgKeyMetricsCapacity),
		},
	}
}

// writeConfigIfMissing creates config.yaml with default values if the file
// does not exist. It reports whether a file was written.
func writeConfigIfMissing(configDir, dataDir string) (bool, error) {
	path := filepath.Join(configDir, configFileExt)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat config file: %w", err)
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return false, fmt.Errorf("create config directory: %w", err)
	}
	cfg := defaultConfigFile(dataDir)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, err
	}
	return true, nil
}
