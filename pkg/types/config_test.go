package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:    "empty backend returns ErrBackendEmpty",
			config:  Config{Backend: "", DataDir: "/tmp/data"},
			wantErr: ErrBackendEmpty,
		},
		{
			name:    "unknown backend returns ErrBackendUnknown",
			config:  Config{Backend: "postgres", DataDir: "/tmp/data"},
			wantErr: ErrBackendUnknown,
		},
		{
			name:    "valid sqlite config",
			config:  Config{Backend: "sqlite", DataDir: "/tmp/data"},
			wantErr: nil,
		},
		{
			name:    "memory backend needs no DataDir",
			config:  Config{Backend: "memory"},
			wantErr: nil,
		},
		{
			name: "negative delay rejected",
			config: Config{
				Backend:  "sqlite",
				AutoSave: AutoSaveConfig{CodeDelay: -time.Second},
			},
			wantErr: ErrDelayNegative,
		},
		{
			name: "negative metrics capacity rejected",
			config: Config{
				Backend: "sqlite",
				Focus:   FocusConfig{MetricsCapacity: -1},
			},
			wantErr: ErrCapacityNegative,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected nil error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error %v, got nil", tt.wantErr)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config

	assert.Equal(t, DefaultCardLanguage, c.GetDefaultLanguage())
	assert.Equal(t, DefaultCodeDelay, c.AutoSave.Delay(FieldCode))
	assert.Equal(t, DefaultNotesDelay, c.AutoSave.Delay(FieldNotes))
	assert.Equal(t, DefaultLanguageDelay, c.AutoSave.Delay(FieldLanguage))
	assert.Equal(t, DefaultSettleDelay, c.Session.GetSettleDelay())
	assert.Equal(t, DefaultGuardInterval, c.Session.GetGuardInterval())
	assert.Equal(t, DefaultBackupBudget, c.Focus.GetBackupBudget())
	assert.Equal(t, DefaultTransitionBudget, c.Focus.GetTransitionBudget())
	assert.Equal(t, DefaultMetricsCapacity, c.Focus.GetMetricsCapacity())
	assert.Less(t, c.AutoSave.Delay(FieldLanguage), c.AutoSave.Delay(FieldCode),
		"language changes save faster than code")
}

func TestConfigOverrides(t *testing.T) {
	c := Config{
		DefaultLanguage: "python",
		AutoSave:        AutoSaveConfig{CodeDelay: time.Second, LanguageDelay: 10 * time.Millisecond},
		Session:         SessionConfig{SettleDelay: 50 * time.Millisecond},
	}

	assert.Equal(t, "python", c.GetDefaultLanguage())
	assert.Equal(t, time.Second, c.AutoSave.Delay(FieldCode))
	assert.Equal(t, DefaultNotesDelay, c.AutoSave.Delay(FieldNotes))
	assert.Equal(t, 10*time.Millisecond, c.AutoSave.Delay(FieldLanguage))
	assert.Equal(t, 50*time.Millisecond, c.Session.GetSettleDelay())
}
