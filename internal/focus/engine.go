// Package focus implements focus mode: a distraction-free layout entered
// by snapshotting the current layout, ui and preference slices and left by
// restoring them. The snapshot is persisted so an abnormal exit while focus
// mode is active can be repaired on the next start.
package focus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tiendc/go-deepcopy"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/codecards/internal/layout"
	"github.com/mesh-intelligence/codecards/internal/logging"
	"github.com/mesh-intelligence/codecards/internal/metrics"
	"github.com/mesh-intelligence/codecards/pkg/types"
)

// StorageKey is the local store key holding the persisted FocusState.
const StorageKey = "focus-mode"

// Engine owns the focus-mode state. All methods are safe for concurrent
// use.
type Engine struct {
	mu      sync.Mutex
	layouts *layout.Store
	kv      types.KVStore
	cfg     types.FocusConfig
	state   types.FocusState
	samples *Ring[types.PerformanceMetric]
	now     func() time.Time
	log     *zap.SugaredLogger
}

// New returns an engine over the given layout store. The persisted state is
// read so IsActive reflects it, but nothing is repaired until
// RecoverOnStartup runs.
func New(layouts *layout.Store, kv types.KVStore, cfg types.FocusConfig, log *zap.SugaredLogger) *Engine {
	e := &Engine{
		layouts: layouts,
		kv:      kv,
		cfg:     cfg,
		samples: NewRing[types.PerformanceMetric](cfg.GetMetricsCapacity()),
		now:     time.Now,
		log:     logging.OrNop(log).Named(logging.ComponentFocus),
	}
	if _, err := kv.Get(StorageKey, &e.state); err != nil {
		e.log.Warnw("ignoring unreadable focus state", "error", err)
		e.state = types.FocusState{}
	}
	return e
}

// IsActive reports whether focus mode is on.
func (e *Engine) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.IsActive
}

// State returns a copy of the focus state, including the saved backup.
func (e *Engine) State() types.FocusState {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out types.FocusState
	if err := deepcopy.Copy(&out, &e.state); err != nil {
		return types.FocusState{IsActive: e.state.IsActive}
	}
	return out
}

// Metrics returns the recorded performance samples, oldest first.
func (e *Engine) Metrics() []types.PerformanceMetric {
	return e.samples.All()
}

// Toggle enters focus mode when it is off and leaves it when it is on. It
// returns the resulting state.
func (e *Engine) Toggle(ctx context.Context) (bool, error) {
	if e.IsActive() {
		return false, e.Exit(ctx)
	}
	return true, e.Enter(ctx)
}

// Enter snapshots the current layout and switches to the focus layout. If
// the snapshot fails validation or cannot be persisted, focus mode is not
// entered and the layout is untouched.
func (e *Engine) Enter(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.IsActive {
		return types.ErrFocusActive
	}

	start := e.now()
	current := e.layouts.Current()
	backup, err := e.snapshot(current)
	critical := e.now().Sub(start)
	if err != nil {
		e.record(types.FocusEnter, start, critical, false)
		e.log.Errorw("focus backup rejected, staying in normal layout", "error", err)
		return err
	}

	next := types.FocusState{IsActive: true, SavedState: backup}
	if err := e.kv.Put(StorageKey, next); err != nil {
		e.record(types.FocusEnter, start, critical, false)
		return fmt.Errorf("persisting focus state: %w", err)
	}
	e.state = next

	if err := e.layouts.Set(focusLayout(current)); err != nil {
		e.log.Warnw("applying focus layout", "error", err)
	}
	e.record(types.FocusEnter, start, critical, true)
	e.log.Debugw("focus mode entered", "backup_at", backup.Timestamp)
	return nil
}

// Exit restores the saved layout and clears the focus state. An invalid
// backup is logged and dropped; the current layout then stays as it is.
func (e *Engine) Exit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.IsActive {
		return types.ErrFocusInactive
	}

	start := e.now()
	ok := e.restore(e.state.SavedState)
	critical := e.now().Sub(start)

	e.state = types.FocusState{}
	err := e.kv.Put(StorageKey, e.state)
	e.record(types.FocusExit, start, critical, ok && err == nil)
	if err != nil {
		return fmt.Errorf("persisting focus state: %w", err)
	}
	return nil
}

// RecoverOnStartup repairs state left behind by a process that exited while
// focus mode was active. A valid backup is restored; an invalid one is
// discarded and the default layout applied. Whatever was found, the
// persisted state ends inactive with no backup, so a second call is a
// no-op.
func (e *Engine) RecoverOnStartup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var persisted types.FocusState
	found, err := e.kv.Get(StorageKey, &persisted)
	switch {
	case err != nil:
		e.log.Warnw("discarding unreadable focus state", "error", err)
		persisted = types.FocusState{IsActive: true}
	case !found:
		e.state = types.FocusState{}
		return nil
	case !persisted.IsActive && persisted.SavedState == nil:
		e.state = types.FocusState{}
		return nil
	}

	start := e.now()
	ok := true
	if persisted.IsActive {
		e.log.Infow("focus mode was active at last exit, restoring layout")
		if !e.restore(persisted.SavedState) {
			ok = false
			if err := e.layouts.Set(types.DefaultLayoutState()); err != nil {
				e.log.Errorw("applying default layout", "error", err)
			}
		}
	}
	critical := e.now().Sub(start)

	e.state = types.FocusState{}
	putErr := e.kv.Put(StorageKey, e.state)
	e.record(types.FocusRecover, start, critical, ok && putErr == nil)
	if putErr != nil {
		return fmt.Errorf("clearing focus state: %w", putErr)
	}
	return nil
}

// snapshot deep-copies current into a validated backup.
func (e *Engine) snapshot(current types.LayoutState) (*types.LayoutBackup, error) {
	var clone types.LayoutState
	if err := deepcopy.Copy(&clone, &current); err != nil {
		return nil, fmt.Errorf("%w: cloning layout: %v", types.ErrInvalidBackup, err)
	}
	backup := &types.LayoutBackup{
		Layout:      &clone.Layout,
		UI:          &clone.UI,
		Preferences: &clone.Preferences,
		Timestamp:   e.now(),
	}
	if err := backup.Validate(); err != nil {
		return nil, err
	}
	return backup, nil
}

// restore applies a saved backup. It returns false, leaving the layout
// alone, when the backup is invalid or rejected by the layout store.
func (e *Engine) restore(saved *types.LayoutBackup) bool {
	if err := saved.Validate(); err != nil {
		e.log.Errorw("focus backup invalid, keeping current layout", "error", err)
		return false
	}
	if err := e.layouts.Set(saved.Restore()); err != nil {
		e.log.Errorw("restoring layout", "error", err)
		return false
	}
	return true
}

// record stores a sample. critical is the backup or restore portion of the
// operation; both it and the whole operation have a warning budget.
func (e *Engine) record(dir types.FocusDirection, start time.Time, critical time.Duration, ok bool) {
	elapsed := e.now().Sub(start)
	over := critical > e.cfg.GetBackupBudget() || elapsed > e.cfg.GetTransitionBudget()
	if over {
		e.log.Warnw("focus operation over budget",
			"direction", dir,
			"critical", critical,
			"elapsed", elapsed,
		)
	}
	e.samples.Add(types.PerformanceMetric{
		Timestamp: start,
		Elapsed:   elapsed,
		Direction: dir,
		Success:   ok,
	})
	metrics.RecordFocusOperation(string(dir), ok, over, elapsed)
}

// focusLayout hides everything but the editor.
func focusLayout(s types.LayoutState) types.LayoutState {
	s.Layout.ProblemPanelCollapsed = true
	s.Layout.NotesCollapsed = true
	s.UI.ShowTimer = false
	s.UI.ShowRecorder = false
	s.UI.ShowNotes = false
	s.UI.ActivePanel = "editor"
	return s
}
