package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/codecards/internal/logging"
	"github.com/mesh-intelligence/codecards/internal/metrics"
	"github.com/mesh-intelligence/codecards/pkg/types"
)

// writeTimeout bounds a debounced write fired from a timer, which has no
// caller context.
const writeTimeout = 30 * time.Second

// Target names the document a save is routed to.
type Target struct {
	Mode   types.Mode
	CardID string
}

// IsZero reports whether no document is bound.
func (t Target) IsZero() bool {
	return t.CardID == ""
}

// channel is the debounce state of one editor field.
type channel struct {
	field types.Field
	delay time.Duration

	mu        sync.Mutex
	current   string
	persisted string
	timer     *time.Timer
	seq       uint64
}

func (c *channel) dirty() bool {
	return c.current != c.persisted
}

// stopLocked cancels the pending timer and invalidates any firing already
// under way. The caller must hold c.mu.
func (c *channel) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.seq++
}

// AutoSaver holds the editor content of the bound document and persists
// each field independently after its debounce delay. All writes are
// serialized, so the writes of one field are totally ordered.
type AutoSaver struct {
	store     types.CardStore
	suspended func() bool
	log       *zap.SugaredLogger

	channels map[types.Field]*channel

	// writeMu is held for every write and every rebind, so a write always
	// pairs a value with the document it was read from. bindMu orders edits
	// against rebinds without making edits wait for writes.
	writeMu sync.Mutex
	bindMu  sync.RWMutex
	bound   Target
	frozen  int

	flightMu sync.Mutex
	inFlight *Target
}

// NewAutoSaver returns a saver with nothing bound. suspended is consulted
// when a timer fires; while it reports true the write is deferred.
func NewAutoSaver(store types.CardStore, cfg types.AutoSaveConfig, suspended func() bool, log *zap.SugaredLogger) *AutoSaver {
	if suspended == nil {
		suspended = func() bool { return false }
	}
	a := &AutoSaver{
		store:     store,
		suspended: suspended,
		log:       logging.OrNop(log).Named(logging.ComponentAutoSave),
		channels:  make(map[types.Field]*channel, len(types.Fields)),
	}
	for _, f := range types.Fields {
		a.channels[f] = &channel{field: f, delay: cfg.Delay(f)}
	}
	return a
}

// Bound returns the document the saver currently writes to.
func (a *AutoSaver) Bound() Target {
	a.bindMu.RLock()
	defer a.bindMu.RUnlock()
	return a.bound
}

// Freeze makes Set fail with ErrTransitionInProgress until the matching
// Thaw. Calls nest.
func (a *AutoSaver) Freeze() {
	a.bindMu.Lock()
	defer a.bindMu.Unlock()
	a.frozen++
}

// Thaw undoes one Freeze.
func (a *AutoSaver) Thaw() {
	a.bindMu.Lock()
	defer a.bindMu.Unlock()
	if a.frozen > 0 {
		a.frozen--
	}
}

// Current returns the editor content.
func (a *AutoSaver) Current() types.EditorState {
	var s types.EditorState
	for _, f := range types.Fields {
		c := a.channels[f]
		c.mu.Lock()
		s = s.With(f, c.current)
		c.mu.Unlock()
	}
	return s
}

// Persisted returns the last value of each field known to be in storage.
func (a *AutoSaver) Persisted() types.EditorState {
	var s types.EditorState
	for _, f := range types.Fields {
		c := a.channels[f]
		c.mu.Lock()
		s = s.With(f, c.persisted)
		c.mu.Unlock()
	}
	return s
}

// Dirty returns the fields whose current value has not been persisted.
func (a *AutoSaver) Dirty() []types.Field {
	var out []types.Field
	for _, f := range types.Fields {
		c := a.channels[f]
		c.mu.Lock()
		if c.dirty() {
			out = append(out, f)
		}
		c.mu.Unlock()
	}
	return out
}

// IsDirty reports whether any field has unpersisted content.
func (a *AutoSaver) IsDirty() bool {
	return len(a.Dirty()) > 0
}

// InFlight returns the target of the write currently executing.
func (a *AutoSaver) InFlight() (Target, bool) {
	a.flightMu.Lock()
	defer a.flightMu.Unlock()
	if a.inFlight == nil {
		return Target{}, false
	}
	return *a.inFlight, true
}

// Set records an edit. A value that differs from the last persisted one
// (re)starts the field's debounce timer; a value equal to it cancels the
// timer.
func (a *AutoSaver) Set(field types.Field, value string) error {
	c, ok := a.channels[field]
	if !ok {
		return fmt.Errorf("unknown field %q", field)
	}
	a.bindMu.RLock()
	defer a.bindMu.RUnlock()
	switch {
	case a.frozen > 0:
		return types.ErrTransitionInProgress
	case a.bound.IsZero():
		return types.ErrNoActiveCard
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = value
	c.stopLocked()
	if c.dirty() {
		a.scheduleLocked(c)
	}
	return nil
}

// scheduleLocked arms the debounce timer. The caller must hold c.mu.
func (a *AutoSaver) scheduleLocked(c *channel) {
	seq := c.seq
	c.timer = time.AfterFunc(c.delay, func() { a.fire(c, seq) })
}

func (a *AutoSaver) fire(c *channel, seq uint64) {
	if a.suspended() {
		a.rearm(c, seq)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	c.mu.Lock()
	stale := c.seq != seq
	if !stale {
		c.timer = nil
	}
	c.mu.Unlock()
	if stale {
		return
	}
	if a.suspended() {
		// A transition or load began while this firing waited for the lock.
		a.rearm(c, seq)
		return
	}
	_ = a.persistLocked(ctx, c)
}

// rearm re-arms the timer under the same sequence, so a later edit or
// rebind still supersedes it.
func (a *AutoSaver) rearm(c *channel, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seq != seq {
		return
	}
	c.timer = time.AfterFunc(c.delay, func() { a.fire(c, seq) })
	metrics.RecordAutoSaveDeferred(string(c.field))
	a.log.Debugw("save deferred", "field", c.field)
}

// FlushAll persists every dirty field now, in language, notes, code order,
// each awaited before the next. It refuses to run while suspended. Fields
// that are clean cause no writes.
func (a *AutoSaver) FlushAll(ctx context.Context) error {
	return a.flush(ctx, true)
}

// Flush persists every dirty field to the bound document even while
// suspended. Transitions and navigation use it for the outgoing document.
func (a *AutoSaver) Flush(ctx context.Context) error {
	return a.flush(ctx, false)
}

func (a *AutoSaver) flush(ctx context.Context, respectSuspend bool) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	var errs error
	for _, f := range types.Fields {
		if respectSuspend && a.suspended() {
			return multierr.Append(errs, types.ErrTransitionInProgress)
		}
		c := a.channels[f]
		c.mu.Lock()
		c.stopLocked()
		c.mu.Unlock()
		errs = multierr.Append(errs, a.persistLocked(ctx, c))
	}
	return errs
}

// Rebind binds the saver to target. Pending timers are cancelled, current
// and persisted become the field values, and any field where they differ
// is scheduled for saving. apply, when given, runs first with the write
// and bind locks held so callers can switch their own state atomically
// with the saver. It must not call back into the saver.
func (a *AutoSaver) Rebind(target Target, current, persisted types.EditorState, apply func()) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	a.bindMu.Lock()
	defer a.bindMu.Unlock()

	if apply != nil {
		apply()
	}
	a.bound = target
	for _, f := range types.Fields {
		c := a.channels[f]
		c.mu.Lock()
		c.stopLocked()
		c.current = current.Value(f)
		c.persisted = persisted.Value(f)
		if c.dirty() && !target.IsZero() {
			a.scheduleLocked(c)
		}
		c.mu.Unlock()
	}
	a.log.Debugw("bound", "mode", target.Mode, "card", target.CardID)
}

// Reload replaces the content of the bound document with state read from
// storage. It does nothing, and returns false, when target is no longer
// bound, any field is dirty, or accept returns false. accept runs with the
// write and bind locks held.
func (a *AutoSaver) Reload(target Target, state types.EditorState, accept func() bool) bool {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	a.bindMu.Lock()
	defer a.bindMu.Unlock()

	if a.bound != target {
		return false
	}
	for _, f := range types.Fields {
		c := a.channels[f]
		c.mu.Lock()
		dirty := c.dirty()
		c.mu.Unlock()
		if dirty {
			return false
		}
	}
	if accept != nil && !accept() {
		return false
	}
	for _, f := range types.Fields {
		c := a.channels[f]
		c.mu.Lock()
		c.stopLocked()
		c.current = state.Value(f)
		c.persisted = state.Value(f)
		c.mu.Unlock()
	}
	return true
}

// CancelAll stops every pending timer. Dirty fields stay dirty.
func (a *AutoSaver) CancelAll() {
	for _, f := range types.Fields {
		c := a.channels[f]
		c.mu.Lock()
		c.stopLocked()
		c.mu.Unlock()
	}
}

// persistLocked writes one dirty field to the bound document. The caller
// must hold writeMu. On failure the field stays dirty. A field that is
// dirty again once the write lands always has a timer armed.
func (a *AutoSaver) persistLocked(ctx context.Context, c *channel) error {
	c.mu.Lock()
	value, dirty := c.current, c.dirty()
	c.mu.Unlock()
	if !dirty {
		return nil
	}
	target := a.bound
	if target.IsZero() {
		return fmt.Errorf("saving %s: %w", c.field, types.ErrNoActiveCard)
	}

	a.flightMu.Lock()
	a.inFlight = &target
	a.flightMu.Unlock()

	start := time.Now()
	err := a.write(ctx, target, c.field, value)
	elapsed := time.Since(start)

	a.flightMu.Lock()
	a.inFlight = nil
	a.flightMu.Unlock()

	metrics.RecordAutoSaveWrite(string(c.field), string(target.Mode), err == nil, elapsed)
	if err != nil {
		a.log.Errorw("save failed", "field", c.field, "mode", target.Mode, "card", target.CardID, "error", err)
		return fmt.Errorf("saving %s: %w", c.field, err)
	}

	c.mu.Lock()
	c.persisted = value
	// An edit back to the old persisted value during the write left the
	// field clean at the time, so nothing was scheduled for it.
	if c.dirty() && c.timer == nil {
		a.scheduleLocked(c)
	}
	c.mu.Unlock()
	a.log.Debugw("saved", "field", c.field, "mode", target.Mode, "card", target.CardID, "elapsed", elapsed)
	return nil
}

// write routes one field to the storage operation for the target's mode.
// In answer mode code and language travel together, each paired with the
// other field's last persisted value. The caller must hold writeMu.
func (a *AutoSaver) write(ctx context.Context, target Target, field types.Field, value string) error {
	if target.Mode == types.ModeAnswer {
		switch field {
		case types.FieldNotes:
			return a.store.UpdateSolutionNotes(ctx, target.CardID, value)
		case types.FieldCode:
			return a.store.UpdateSolutionCode(ctx, target.CardID, value, a.persistedValue(types.FieldLanguage))
		default:
			return a.store.UpdateSolutionCode(ctx, target.CardID, a.persistedValue(types.FieldCode), value)
		}
	}

	var upd types.CardUpdate
	switch field {
	case types.FieldCode:
		upd.Code = &value
	case types.FieldNotes:
		upd.Notes = &value
	default:
		upd.Language = &value
	}
	_, err := a.store.UpdateCard(ctx, target.CardID, upd)
	return err
}

func (a *AutoSaver) persistedValue(f types.Field) string {
	c := a.channels[f]
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persisted
}
