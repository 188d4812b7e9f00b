package cli

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/codecards/internal/focus"
	"github.com/mesh-intelligence/codecards/internal/layout"
	"github.com/mesh-intelligence/codecards/internal/localstore"
	"github.com/mesh-intelligence/codecards/internal/logging"
	"github.com/mesh-intelligence/codecards/internal/memstore"
	"github.com/mesh-intelligence/codecards/pkg/sqlite"
	"github.com/mesh-intelligence/codecards/pkg/types"
)

// stateDirName is the directory under the data directory that holds the
// local UI state (layout, focus mode).
const stateDirName = "state"

// app is everything a command needs: the attached backend, the local
// state stores and a logger. Commands open it and defer close.
type app struct {
	settings *settings
	root     *zap.SugaredLogger
	log      *zap.SugaredLogger
	backend  types.Backend
	kv       *localstore.Store
	layouts  *layout.Store
	focus    *focus.Engine
}

// openApp resolves settings, attaches the backend and loads local state.
// Focus state is loaded as persisted; only the session shell, which plays
// the part of the running application, recovers it.
func openApp() (*app, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, err
	}

	base := logging.New(s.logLevel, logging.ParseFormat(s.logFormat)).Sugar()
	a := &app{
		settings: s,
		root:     base,
		log:      base.Named(logging.ComponentCLI),
	}

	switch s.config.Backend {
	case types.BackendMemory:
		a.backend = memstore.New()
	default:
		b := sqlite.NewBackend()
		if err := b.Attach(s.config); err != nil {
			return nil, systemError("attach backend: %w", err)
		}
		a.backend = b
	}

	a.kv, err = localstore.NewOS(filepath.Join(s.config.DataDir, stateDirName))
	if err != nil {
		if derr := a.backend.Detach(); derr != nil {
			a.log.Warnw("detach backend", "error", derr)
		}
		return nil, systemError("open local state: %w", err)
	}
	a.layouts = layout.Load(a.kv, base)
	a.focus = focus.New(a.layouts, a.kv, s.config.Focus, base)

	a.log.Debugw("opened",
		"backend", s.config.Backend,
		"data_dir", s.config.DataDir,
		"config_dir", s.configDir,
	)
	return a, nil
}

func (a *app) close() error {
	defer a.log.Sync()
	if err := a.backend.Detach(); err != nil {
		return fmt.Errorf("detach backend: %w", err)
	}
	return nil
}
