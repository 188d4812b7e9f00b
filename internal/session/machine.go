package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/codecards/internal/logging"
	"github.com/mesh-intelligence/codecards/internal/metrics"
	"github.com/mesh-intelligence/codecards/pkg/types"
)

// Phase FSM events.
const (
	eventStart    = "start"
	eventComplete = "complete"
	eventFail     = "fail"
	eventReset    = "reset"
)

// ModeMachine tracks which document is bound to the editor and whether a
// switch between documents is in flight. Mode changes only on a completed
// transition or an explicit Restore.
type ModeMachine struct {
	mu         sync.Mutex
	phase      *fsm.FSM
	mode       types.Mode
	record     *types.TransitionRecord
	generation uint64
	loading    func() bool
	now        func() time.Time
	log        *zap.SugaredLogger

	listenersMu sync.Mutex
	listeners   map[uint64]func(types.ModeChange)
	nextID      uint64
}

// NewModeMachine returns a machine in regular mode, phase idle.
func NewModeMachine(log *zap.SugaredLogger) *ModeMachine {
	m := &ModeMachine{
		mode:      types.ModeRegular,
		now:       time.Now,
		log:       logging.OrNop(log).Named(logging.ComponentMachine),
		listeners: make(map[uint64]func(types.ModeChange)),
	}
	idle := string(types.PhaseIdle)
	transitioning := string(types.PhaseTransitioning)
	failed := string(types.PhaseError)

	m.phase = fsm.NewFSM(
		idle,
		fsm.Events{
			{Name: eventStart, Src: []string{idle}, Dst: transitioning},
			{Name: eventComplete, Src: []string{transitioning}, Dst: idle},
			{Name: eventFail, Src: []string{transitioning}, Dst: failed},
			{Name: eventReset, Src: []string{failed}, Dst: idle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.log.Debugw("phase changed", "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)
	return m
}

// SetLoadingProbe installs the check used to reject transitions while a
// dependent load is running.
func (m *ModeMachine) SetLoadingProbe(probe func() bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loading = probe
}

// sendEvent fires event on the phase FSM. The caller must hold m.mu.
func (m *ModeMachine) sendEvent(ctx context.Context, event string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.phase.Event(ctx, event); err != nil {
		return fmt.Errorf("phase event %s: %w", event, err)
	}
	return nil
}

// StartTransition begins a switch to target. It is rejected, with no state
// change, when a transition is already running, a dependent load is in
// progress, the phase is error, or target is already the current mode.
func (m *ModeMachine) StartTransition(ctx context.Context, target types.Mode, current types.EditorState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	reason := ""
	switch {
	case !target.Valid():
		reason = "unknown mode"
	case target == m.mode:
		reason = "already in mode"
	case m.phase.Current() != string(types.PhaseIdle):
		reason = "phase " + m.phase.Current()
	case m.loading != nil && m.loading():
		reason = "load in progress"
	}
	if reason != "" {
		m.log.Debugw("transition rejected", "to", target, "reason", reason)
		metrics.RecordTransitionRejected()
		return false
	}

	if err := m.sendEvent(ctx, eventStart); err != nil {
		m.log.Warnw("transition rejected", "to", target, "error", err)
		metrics.RecordTransitionRejected()
		return false
	}
	m.generation++
	m.record = &types.TransitionRecord{
		From:               m.mode,
		To:                 target,
		StartedAt:          m.now(),
		EditorStateAtStart: current,
		Generation:         m.generation,
	}
	m.log.Debugw("transition started", "from", m.mode, "to", target, "generation", m.generation)
	return true
}

// CompleteTransition commits the target mode, returns to idle and notifies
// mode listeners.
func (m *ModeMachine) CompleteTransition(ctx context.Context) error {
	m.mu.Lock()
	if m.record == nil || m.phase.Current() != string(types.PhaseTransitioning) {
		m.mu.Unlock()
		return types.ErrNoTransition
	}
	if err := m.sendEvent(ctx, eventComplete); err != nil {
		m.mu.Unlock()
		return err
	}
	change := types.ModeChange{From: m.mode, To: m.record.To}
	m.mode = m.record.To
	m.record = nil
	m.mu.Unlock()

	m.log.Infow("mode changed", "from", change.From, "to", change.To)
	m.notify(change)
	return nil
}

// HandleTransitionError moves the phase to error and returns the record so
// the caller can roll the editor back. The mode is left unchanged and the
// record is kept until ResetToIdle.
func (m *ModeMachine) HandleTransitionError(ctx context.Context, msg string) (types.TransitionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil || m.phase.Current() != string(types.PhaseTransitioning) {
		return types.TransitionRecord{}, types.ErrNoTransition
	}
	if err := m.sendEvent(ctx, eventFail); err != nil {
		return *m.record, err
	}
	m.log.Errorw("transition failed", "from", m.record.From, "to", m.record.To, "error", msg)
	return *m.record, nil
}

// ResetToIdle returns from the error phase to idle and discards the record.
func (m *ModeMachine) ResetToIdle(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase.Current() != string(types.PhaseError) {
		return fmt.Errorf("reset from phase %s: %w", m.phase.Current(), types.ErrNoTransition)
	}
	if err := m.sendEvent(ctx, eventReset); err != nil {
		return err
	}
	m.record = nil
	return nil
}

// Restore forces mode and the idle phase. Used only by state recovery; it
// also invalidates anything keyed to the previous generation.
func (m *ModeMachine) Restore(mode types.Mode) {
	m.mu.Lock()
	prev := m.mode
	m.mode = mode
	m.record = nil
	m.phase.SetState(string(types.PhaseIdle))
	m.generation++
	m.mu.Unlock()

	m.log.Infow("mode restored", "from", prev, "to", mode)
	if prev != mode {
		m.notify(types.ModeChange{From: prev, To: mode})
	}
}

// Mode returns the committed mode.
func (m *ModeMachine) Mode() types.Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Phase returns the transition phase.
func (m *ModeMachine) Phase() types.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return types.Phase(m.phase.Current())
}

// Record returns the in-flight transition record, if any.
func (m *ModeMachine) Record() (types.TransitionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return types.TransitionRecord{}, false
	}
	return *m.record, true
}

// Generation returns the number of transitions started so far, plus one per
// Restore.
func (m *ModeMachine) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// IsTransitioning reports whether the phase is transitioning.
func (m *ModeMachine) IsTransitioning() bool {
	return m.Phase() == types.PhaseTransitioning
}

// OnModeChanged registers fn for committed mode changes and returns a
// function that removes it. fn runs on the goroutine that committed the
// change, after all locks are released.
func (m *ModeMachine) OnModeChanged(fn func(types.ModeChange)) func() {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *ModeMachine) notify(change types.ModeChange) {
	m.listenersMu.Lock()
	fns := make([]func(types.ModeChange), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.listenersMu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}
