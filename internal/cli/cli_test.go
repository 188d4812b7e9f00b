package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/codecards/internal/paths"
	"github.com/mesh-intelligence/codecards/pkg/types"
)

type env struct {
	configDir string
	dataDir   string
}

func newEnv(t *testing.T) env {
	t.Helper()
	root := t.TempDir()
	e := env{
		configDir: filepath.Join(root, "config"),
		dataDir:   filepath.Join(root, "data"),
	}
	t.Setenv(paths.EnvConfigDir, e.configDir)
	t.Setenv(paths.EnvDataDir, e.dataDir)
	return e
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "codecards v"+Version)
	assert.Contains(t, out, modulePath)
}

func TestInit_WritesConfigOnce(t *testing.T) {
	e := newEnv(t)

	out, err := run(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "config.yaml")
	assert.FileExists(t, filepath.Join(e.configDir, "config.yaml"))
	assert.FileExists(t, filepath.Join(e.dataDir, "codecards.db"))

	out, err = run(t, "init")
	require.NoError(t, err)
	assert.NotContains(t, out, "Wrote")
}

func TestLoadConfig_Defaults(t *testing.T) {
	v, err := loadConfig(t.TempDir())
	require.NoError(t, err)

	cfg := configFromViper(v)
	assert.Equal(t, types.BackendSQLite, cfg.Backend)
	assert.Equal(t, types.DefaultCodeDelay, cfg.AutoSave.CodeDelay)
	assert.Equal(t, types.DefaultLanguageDelay, cfg.AutoSave.LanguageDelay)
	assert.Equal(t, types.DefaultSettleDelay, cfg.Session.SettleDelay)
	assert.Equal(t, types.DefaultMetricsCapacity, cfg.Focus.MetricsCapacity)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_ReadsDefaultFile(t *testing.T) {
	dir := t.TempDir()
	written, err := writeConfigIfMissing(dir, "")
	require.NoError(t, err)
	require.True(t, written)

	v, err := loadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, configFromViper(mustLoad(t, t.TempDir())), configFromViper(v))
}

func TestLoadConfig_Overrides(t *testing.T) {
	dir := t.TempDir()
	yaml := `backend: memory
default_language: go
autosave:
  code_delay: 750ms
session:
  guard_interval: 2s
focus:
  metrics_capacity: 10
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileExt), []byte(yaml), 0o644))

	cfg := configFromViper(mustLoad(t, dir))
	assert.Equal(t, types.BackendMemory, cfg.Backend)
	assert.Equal(t, "go", cfg.GetDefaultLanguage())
	assert.Equal(t, 750*time.Millisecond, cfg.AutoSave.CodeDelay)
	assert.Equal(t, types.DefaultNotesDelay, cfg.AutoSave.NotesDelay)
	assert.Equal(t, 2*time.Second, cfg.Session.GuardInterval)
	assert.Equal(t, 10, cfg.Focus.MetricsCapacity)
}

func TestLoadSettings_RejectsUnknownBackend(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.MkdirAll(e.configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(e.configDir, configFileExt), []byte("backend: postgres\n"), 0o644))

	_, err := run(t, "problem", "list")
	assert.ErrorIs(t, err, types.ErrBackendUnknown)
	assert.Equal(t, exitUserError, exitCode(err))
}

func mustLoad(t *testing.T, dir string) *viper.Viper {
	t.Helper()
	v, err := loadConfig(dir)
	require.NoError(t, err)
	return v
}

func TestProblemAndCardCommands(t *testing.T) {
	newEnv(t)

	out, err := run(t, "problem", "add", "--title", "Two Sum", "--difficulty", "easy")
	require.NoError(t, err)
	problemID := strings.TrimSpace(out)
	require.NotEmpty(t, problemID)

	out, err = run(t, "problem", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Two Sum")
	assert.Contains(t, out, "Total: 1 problem(s)")

	out, err = run(t, "card", "new", problemID, "--language", "go")
	require.NoError(t, err)
	mainID := strings.TrimSpace(out)

	out, err = run(t, "card", "new", problemID, "--parent", mainID)
	require.NoError(t, err)
	childID := strings.TrimSpace(out)

	out, err = run(t, "card", "list", problemID)
	require.NoError(t, err)
	assert.Contains(t, out, mainID)
	assert.Contains(t, out, "(child)")
	assert.Contains(t, out, types.DefaultCardLanguage, "child uses the configured default language")
	assert.Contains(t, out, "Total: 2 card(s)")

	_, err = run(t, "card", "delete", mainID)
	assert.ErrorIs(t, err, types.ErrCannotDeleteMainCard)

	_, err = run(t, "card", "delete", childID)
	require.NoError(t, err)

	out, err = run(t, "--json", "card", "list", problemID)
	require.NoError(t, err)
	assert.Contains(t, out, `"language": "go"`)
	assert.NotContains(t, out, childID)
}

func TestProblemAdd_RequiresTitle(t *testing.T) {
	newEnv(t)
	_, err := run(t, "problem", "add")
	assert.Error(t, err)
}

func TestFocusStatus(t *testing.T) {
	newEnv(t)
	out, err := run(t, "focus", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "focus mode: off")
	assert.Contains(t, out, "theme=dark")
}

func TestOpenApp_LocalStateFailureReleasesBackend(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.MkdirAll(e.dataDir, 0o755))
	blocker := filepath.Join(e.dataDir, stateDirName)
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o644))

	_, err := run(t, "focus", "status")
	require.Error(t, err)
	assert.Equal(t, exitSysError, exitCode(err))

	require.NoError(t, os.Remove(blocker))
	out, err := run(t, "focus", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "focus mode: off")
}
