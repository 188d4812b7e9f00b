// Package session coordinates one editor bound to either a regular card or
// the problem's solution card. It owns the mode state machine, the content
// cache used across transitions, per-field auto-save and the state guard.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mesh-intelligence/codecards/internal/logging"
	"github.com/mesh-intelligence/codecards/internal/metrics"
	"github.com/mesh-intelligence/codecards/pkg/types"
)

// Direction moves through the regular cards of the open problem.
type Direction int

// Navigation directions.
const (
	Prev Direction = -1
	Next Direction = 1
)

// FocusToggler is the focus-mode engine as seen by the session.
type FocusToggler interface {
	Toggle(ctx context.Context) (bool, error)
	IsActive() bool
}

// LayoutSource supplies the UI layout checked by the guard.
type LayoutSource interface {
	Current() types.LayoutState
}

// Options carries optional collaborators.
type Options struct {
	Logger *zap.SugaredLogger
	Focus  FocusToggler
	Layout LayoutSource
}

// Session is the editor session coordinator. All exported methods are safe
// for concurrent use. Document switches (open, toggle, navigate, create,
// delete) are exclusive: a second one issued while the first runs is
// rejected rather than queued.
type Session struct {
	store  types.Store
	cfg    types.Config
	log    *zap.SugaredLogger
	focus  FocusToggler
	layout LayoutSource

	machine *ModeMachine
	cache   *ContentCache
	saver   *AutoSaver
	guard   *Guard
	flight  singleflight.Group

	opMu    sync.Mutex
	loading atomic.Int32
	closed  atomic.Bool

	mu               sync.Mutex
	problemID        string
	cards            []types.Card
	index            int
	solution         *types.Card
	regularPersisted types.EditorState
	settle           *time.Timer
}

// New returns a session with no problem open.
func New(store types.Store, cfg types.Config, opts Options) *Session {
	log := logging.OrNop(opts.Logger)
	s := &Session{
		store:  store,
		cfg:    cfg,
		log:    log.Named(logging.ComponentSession),
		focus:  opts.Focus,
		layout: opts.Layout,
		cache:  NewContentCache(),
		guard:  NewGuard(cfg.Session.GetGuardInterval(), log),
	}
	s.machine = NewModeMachine(log)
	s.machine.SetLoadingProbe(func() bool { return s.loading.Load() > 0 })
	s.saver = NewAutoSaver(store, cfg.AutoSave, s.suspended, log)
	return s
}

// suspended reports whether debounced writes must wait.
func (s *Session) suspended() bool {
	return s.loading.Load() > 0 || s.machine.IsTransitioning()
}

func (s *Session) beginLoad() func() {
	s.loading.Add(1)
	return func() { s.loading.Add(-1) }
}

// exclusive acquires the document-switch lock without waiting.
func (s *Session) exclusive() (func(), error) {
	if !s.opMu.TryLock() {
		return nil, types.ErrTransitionInProgress
	}
	if s.closed.Load() {
		s.opMu.Unlock()
		return nil, types.ErrSessionClosed
	}
	return s.opMu.Unlock, nil
}

func (s *Session) requireProblem() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.problemID == "" {
		return "", types.ErrNoProblemOpen
	}
	return s.problemID, nil
}

// activeLocked returns a copy of the active regular card. The caller must
// hold s.mu.
func (s *Session) activeLocked() *types.Card {
	if s.index < 0 || s.index >= len(s.cards) {
		return nil
	}
	c := s.cards[s.index]
	return &c
}

// ActiveCard returns the regular card the session is positioned on.
func (s *Session) ActiveCard() (types.Card, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.activeLocked()
	if c == nil {
		return types.Card{}, false
	}
	return *c, true
}

// Cards returns the regular cards of the open problem and the index of the
// active one.
func (s *Session) Cards() ([]types.Card, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Card, len(s.cards))
	copy(out, s.cards)
	return out, s.index
}

// ProblemID returns the open problem, or "".
func (s *Session) ProblemID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.problemID
}

// Mode returns the committed editor mode.
func (s *Session) Mode() types.Mode {
	return s.machine.Mode()
}

// Phase returns the transition phase.
func (s *Session) Phase() types.Phase {
	return s.machine.Phase()
}

// Dirty returns the fields with unsaved edits.
func (s *Session) Dirty() []types.Field {
	return s.saver.Dirty()
}

// documentState returns the content to show for a regular card. A cache
// entry wins over what storage returned.
func (s *Session) documentState(card *types.Card) (current, persisted types.EditorState) {
	persisted = card.EditorState()
	current = persisted
	if cached, ok := s.cache.Get(card.ID); ok {
		metrics.RecordCacheOverride()
		current = cached
	}
	return current, persisted
}

// OpenProblem binds the session to the first regular card of problemID,
// creating one when the problem has none. Unsaved edits of the previous
// document are flushed first; a failed flush leaves the session where it
// was.
func (s *Session) OpenProblem(ctx context.Context, problemID string) error {
	release, err := s.exclusive()
	if err != nil {
		return err
	}
	defer release()

	if _, err := s.store.GetProblem(ctx, problemID); err != nil {
		return fmt.Errorf("opening problem %s: %w", problemID, err)
	}

	s.saver.Freeze()
	defer s.saver.Thaw()
	done := s.beginLoad()
	defer done()

	if !s.saver.Bound().IsZero() {
		if err := s.saver.Flush(ctx); err != nil {
			return fmt.Errorf("saving before opening problem: %w", err)
		}
	}

	cards, err := s.store.ListCards(ctx, problemID)
	if err != nil {
		return fmt.Errorf("listing cards: %w", err)
	}
	if len(cards) == 0 {
		first, err := s.store.CreateCard(ctx, problemID, s.cfg.GetDefaultLanguage(), nil)
		if err != nil {
			return fmt.Errorf("creating first card: %w", err)
		}
		cards = []types.Card{*first}
	}
	solution, err := s.store.GetSolutionCard(ctx, problemID)
	if err != nil {
		// The solution is fetched again on the first switch to answer mode.
		s.log.Warnw("prefetching solution card", "problem", problemID, "error", err)
		solution = nil
	}

	s.cache.Purge()
	first := cards[0]
	state := first.EditorState()
	s.saver.Rebind(Target{Mode: types.ModeRegular, CardID: first.ID}, state, state, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.problemID = problemID
		s.cards = cards
		s.index = 0
		s.solution = solution
		s.regularPersisted = types.EditorState{}
	})
	if s.machine.Mode() != types.ModeRegular || s.machine.Phase() != types.PhaseIdle {
		s.machine.Restore(types.ModeRegular)
	}
	s.log.Infow("problem opened", "problem", problemID, "cards", len(cards), "card", first.ID)
	return nil
}

// ToggleMode switches between the active regular card and the solution
// card. It returns false, with no error, when the request was ignored
// because another switch is running. A failed transition rolls the editor
// back and returns a *types.TransitionError.
func (s *Session) ToggleMode(ctx context.Context) (bool, error) {
	if !s.opMu.TryLock() {
		metrics.RecordTransitionRejected()
		return false, nil
	}
	defer s.opMu.Unlock()
	if s.closed.Load() {
		return false, types.ErrSessionClosed
	}
	if _, err := s.requireProblem(); err != nil {
		return false, err
	}
	return s.toggle(ctx)
}

// toggle runs one transition. The caller must hold opMu.
func (s *Session) toggle(ctx context.Context) (bool, error) {
	s.mu.Lock()
	problemID := s.problemID
	active := s.activeLocked()
	s.mu.Unlock()
	if active == nil {
		return false, types.ErrNoActiveCard
	}

	s.saver.Freeze()
	defer s.saver.Thaw()

	outgoing := s.saver.Bound()
	to := s.machine.Mode().Other()
	if !s.machine.StartTransition(ctx, to, s.saver.Current()) {
		return false, nil
	}
	rec, _ := s.machine.Record()

	start := time.Now()
	var err error
	if to == types.ModeAnswer {
		err = s.enterAnswer(ctx, rec, problemID, active.ID)
	} else {
		err = s.exitAnswer(ctx, rec, active.ID)
	}
	if err == nil {
		err = s.machine.CompleteTransition(context.WithoutCancel(ctx))
	}
	metrics.RecordTransition(string(to), err == nil, time.Since(start))
	if err != nil {
		return false, s.rollback(ctx, rec, outgoing, err)
	}

	if to == types.ModeRegular {
		s.scheduleSettle(active.ID, rec.Generation)
	}
	return true, nil
}

// enterAnswer binds the editor to the solution card. The outgoing card is
// saved on a best-effort basis; its content is cached either way.
func (s *Session) enterAnswer(ctx context.Context, rec types.TransitionRecord, problemID, cardID string) error {
	if err := s.saver.Flush(ctx); err != nil {
		s.log.Warnw("saving card before answer mode", "card", cardID, "error", err)
	}
	persisted := s.saver.Persisted()
	s.mu.Lock()
	s.regularPersisted = persisted
	s.mu.Unlock()
	s.cache.Put(cardID, s.saver.Current(), rec.Generation)

	solution, err := s.solutionCard(ctx, problemID)
	if err != nil {
		return fmt.Errorf("loading solution card: %w", err)
	}
	state := solution.EditorState()
	s.saver.Rebind(Target{Mode: types.ModeAnswer, CardID: solution.ID}, state, state, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.solution = solution
	})
	return nil
}

// exitAnswer binds the editor back to the regular card, preferring the
// cached content over storage.
func (s *Session) exitAnswer(ctx context.Context, rec types.TransitionRecord, cardID string) error {
	if err := s.saver.Flush(ctx); err != nil {
		s.log.Warnw("saving solution before regular mode", "card", s.saver.Bound().CardID, "error", err)
	}

	var current, persisted types.EditorState
	if cached, ok := s.cache.Get(cardID); ok {
		metrics.RecordCacheOverride()
		s.mu.Lock()
		current, persisted = cached, s.regularPersisted
		s.mu.Unlock()
	} else {
		card, err := s.store.GetCard(ctx, cardID)
		if err != nil {
			return fmt.Errorf("loading card %s: %w", cardID, err)
		}
		current = card.EditorState()
		persisted = current
	}
	s.cache.Put(cardID, current, rec.Generation)
	s.saver.Rebind(Target{Mode: types.ModeRegular, CardID: cardID}, current, persisted, nil)
	return nil
}

// rollback restores the pre-transition editor content, returns the phase
// to idle and wraps cause.
func (s *Session) rollback(ctx context.Context, rec types.TransitionRecord, outgoing Target, cause error) error {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.machine.HandleTransitionError(ctx, cause.Error()); err != nil {
		s.log.Errorw("recording transition failure", "error", err)
	}

	persisted := s.saver.Persisted()
	if s.saver.Bound() != outgoing {
		s.mu.Lock()
		if outgoing.Mode == types.ModeRegular {
			persisted = s.regularPersisted
		}
		s.mu.Unlock()
	}
	s.saver.Rebind(outgoing, rec.EditorStateAtStart, persisted, nil)
	if rec.To == types.ModeAnswer {
		s.cache.ClearIf(outgoing.CardID, rec.Generation)
	}

	if err := s.machine.ResetToIdle(ctx); err != nil {
		s.log.Errorw("resetting phase", "error", err)
	}
	return &types.TransitionError{Record: rec, Err: cause}
}

// solutionCard fetches or creates the solution card, sharing one storage
// call between concurrent callers.
func (s *Session) solutionCard(ctx context.Context, problemID string) (*types.Card, error) {
	v, err, shared := s.flight.Do(problemID, func() (any, error) {
		return s.store.CreateOrGetSolutionCard(ctx, problemID)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.log.Debugw("solution fetch shared", "problem", problemID)
	}
	card := *v.(*types.Card)
	return &card, nil
}

// scheduleSettle clears the cache entry written by generation after the
// settle delay, once late synchronization passes have run.
func (s *Session) scheduleSettle(cardID string, generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settle != nil {
		s.settle.Stop()
	}
	s.settle = time.AfterFunc(s.cfg.Session.GetSettleDelay(), func() {
		if s.cache.ClearIf(cardID, generation) {
			s.log.Debugw("cache entry settled", "card", cardID, "generation", generation)
		}
	})
}

// stopSettle cancels a pending settle pass.
func (s *Session) stopSettle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settle != nil {
		s.settle.Stop()
		s.settle = nil
	}
}

// NavigateCard moves to the previous or next regular card. In answer mode
// the session first returns to regular mode. Unsaved edits are flushed
// before the switch; if that fails the session stays on the current card
// with its edits intact.
func (s *Session) NavigateCard(ctx context.Context, dir Direction) (types.Card, error) {
	release, err := s.exclusive()
	if err != nil {
		return types.Card{}, err
	}
	defer release()
	if _, err := s.requireProblem(); err != nil {
		return types.Card{}, err
	}

	s.mu.Lock()
	next := s.index + int(dir)
	n := len(s.cards)
	s.mu.Unlock()
	if next < 0 || next >= n {
		return types.Card{}, types.ErrEndOfCards
	}

	if err := s.leaveAnswer(ctx); err != nil {
		return types.Card{}, err
	}
	return s.switchCard(ctx, next)
}

// leaveAnswer returns to regular mode if the session is in answer mode.
// The caller must hold opMu.
func (s *Session) leaveAnswer(ctx context.Context) error {
	if s.machine.Mode() != types.ModeAnswer {
		return nil
	}
	ok, err := s.toggle(ctx)
	if err != nil {
		return fmt.Errorf("leaving answer mode: %w", err)
	}
	if !ok {
		return types.ErrTransitionRejected
	}
	return nil
}

// switchCard binds the editor to the regular card at index. The caller
// must hold opMu.
func (s *Session) switchCard(ctx context.Context, index int) (types.Card, error) {
	s.saver.Freeze()
	defer s.saver.Thaw()
	done := s.beginLoad()
	defer done()

	if err := s.saver.Flush(ctx); err != nil {
		return types.Card{}, fmt.Errorf("saving before navigation: %w", err)
	}
	s.saver.CancelAll()
	// Storage now holds the outgoing card's latest content, so a cache entry
	// left from an earlier transition is older than what was just saved.
	if out := s.saver.Bound(); out.Mode == types.ModeRegular && out.CardID != "" {
		s.stopSettle()
		s.cache.Clear(out.CardID)
	}

	s.mu.Lock()
	id := s.cards[index].ID
	s.mu.Unlock()
	card, err := s.store.GetCard(ctx, id)
	if err != nil {
		return types.Card{}, fmt.Errorf("loading card %s: %w", id, err)
	}

	current, persisted := s.documentState(card)
	s.saver.Rebind(Target{Mode: types.ModeRegular, CardID: card.ID}, current, persisted, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.cards[index] = *card
		s.index = index
		s.regularPersisted = types.EditorState{}
	})
	s.log.Debugw("card loaded", "card", card.ID, "number", card.CardNumber)
	return *card, nil
}

// NewCard creates a child of the active card, appends it to the problem
// and moves to it.
func (s *Session) NewCard(ctx context.Context) (types.Card, error) {
	release, err := s.exclusive()
	if err != nil {
		return types.Card{}, err
	}
	defer release()
	problemID, err := s.requireProblem()
	if err != nil {
		return types.Card{}, err
	}

	if err := s.leaveAnswer(ctx); err != nil {
		return types.Card{}, err
	}

	s.mu.Lock()
	active := s.activeLocked()
	s.mu.Unlock()
	if active == nil {
		return types.Card{}, types.ErrNoActiveCard
	}
	lang := s.saver.Current().Language
	if lang == "" {
		lang = s.cfg.GetDefaultLanguage()
	}
	parent := active.ID
	card, err := s.store.CreateCard(ctx, problemID, lang, &parent)
	if err != nil {
		return types.Card{}, fmt.Errorf("creating card: %w", err)
	}

	s.mu.Lock()
	s.cards = append(s.cards, *card)
	index := len(s.cards) - 1
	s.mu.Unlock()
	return s.switchCard(ctx, index)
}

// DeleteCard deletes the active card, which must be a child card, and moves
// to the card before it.
func (s *Session) DeleteCard(ctx context.Context) error {
	release, err := s.exclusive()
	if err != nil {
		return err
	}
	defer release()
	if _, err := s.requireProblem(); err != nil {
		return err
	}
	if err := s.leaveAnswer(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	active := s.activeLocked()
	index := s.index
	s.mu.Unlock()
	if active == nil {
		return types.ErrNoActiveCard
	}
	if !active.IsChild() {
		return types.ErrCannotDeleteMainCard
	}

	s.saver.Freeze()
	defer s.saver.Thaw()
	done := s.beginLoad()
	defer done()

	if err := s.store.DeleteCard(ctx, active.ID); err != nil {
		return fmt.Errorf("deleting card: %w", err)
	}
	s.cache.Clear(active.ID)

	// Unbind so nothing more is written to the deleted card, then move.
	s.saver.Rebind(Target{}, types.EditorState{}, types.EditorState{}, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.cards = append(s.cards[:index:index], s.cards[index+1:]...)
		for i := range s.cards {
			if s.cards[i].ParentCardID != nil && *s.cards[i].ParentCardID == active.ID {
				s.cards[i].ParentCardID = nil
			}
		}
		if index > 0 {
			index--
		}
		s.index = -1
	})
	if _, err := s.switchCard(ctx, index); err != nil {
		// The card is gone either way; stay on its neighbour as last loaded
		// rather than on no document at all.
		s.bindKnown(index)
		return err
	}
	return nil
}

// bindKnown binds the regular card at index using the copy held in memory,
// without reading storage. A later Refresh picks up newer content.
func (s *Session) bindKnown(index int) {
	s.mu.Lock()
	card := s.cards[index]
	s.mu.Unlock()
	state := card.EditorState()
	s.saver.Rebind(Target{Mode: types.ModeRegular, CardID: card.ID}, state, state, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.index = index
		s.regularPersisted = types.EditorState{}
	})
	s.log.Warnw("card bound from memory", "card", card.ID, "number", card.CardNumber)
}

// ManualSave persists every dirty field now, awaiting each write. It
// fails with ErrTransitionInProgress while a transition or document load
// is running.
func (s *Session) ManualSave(ctx context.Context) error {
	if s.closed.Load() {
		return types.ErrSessionClosed
	}
	if s.machine.IsTransitioning() {
		return types.ErrTransitionInProgress
	}
	if s.saver.Bound().IsZero() {
		return types.ErrNoActiveCard
	}
	return s.saver.FlushAll(ctx)
}

// CurrentEditorState returns what the editor shows.
func (s *Session) CurrentEditorState() types.EditorState {
	return s.saver.Current()
}

// EditCode records a code edit.
func (s *Session) EditCode(code string) error {
	return s.edit(types.FieldCode, code)
}

// EditNotes records a notes edit.
func (s *Session) EditNotes(notes string) error {
	return s.edit(types.FieldNotes, notes)
}

// EditLanguage records a language change.
func (s *Session) EditLanguage(language string) error {
	return s.edit(types.FieldLanguage, language)
}

func (s *Session) edit(field types.Field, value string) error {
	if s.closed.Load() {
		return types.ErrSessionClosed
	}
	return s.saver.Set(field, value)
}

// OnModeChanged registers fn for committed mode changes and returns a
// function that unregisters it.
func (s *Session) OnModeChanged(fn func(types.ModeChange)) func() {
	return s.machine.OnModeChanged(fn)
}

// ToggleFocusMode enters or leaves focus mode and returns the new state.
func (s *Session) ToggleFocusMode(ctx context.Context) (bool, error) {
	if s.focus == nil {
		return false, types.ErrFocusDisabled
	}
	return s.focus.Toggle(ctx)
}

// IsFocusModeActive reports whether focus mode is on.
func (s *Session) IsFocusModeActive() bool {
	return s.focus != nil && s.focus.IsActive()
}

// Refresh is the synchronization pass: it reloads the bound document from
// storage. It is a no-op while a transition runs, while the document has a
// cache entry, or while it has unsaved edits, and it discards its result
// if a transition started while storage was being read.
func (s *Session) Refresh(ctx context.Context) error {
	if s.closed.Load() {
		return types.ErrSessionClosed
	}
	if s.machine.IsTransitioning() {
		return nil
	}
	target := s.saver.Bound()
	if target.IsZero() {
		return types.ErrNoActiveCard
	}
	if _, ok := s.cache.Get(target.CardID); ok {
		metrics.RecordCacheOverride()
		s.log.Debugw("refresh skipped, cached content wins", "card", target.CardID)
		return nil
	}
	generation := s.machine.Generation()
	if target.Mode == types.ModeAnswer {
		done := s.beginLoad()
		defer done()
	}

	card, err := s.store.GetCard(ctx, target.CardID)
	if err != nil {
		return fmt.Errorf("refreshing card %s: %w", target.CardID, err)
	}

	applied := s.saver.Reload(target, card.EditorState(), func() bool {
		if s.machine.Generation() != generation || s.machine.IsTransitioning() {
			return false
		}
		if _, ok := s.cache.Get(target.CardID); ok {
			return false
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if card.IsSolution {
			s.solution = card
			return true
		}
		for i := range s.cards {
			if s.cards[i].ID == card.ID {
				s.cards[i] = *card
			}
		}
		return true
	})
	if !applied {
		s.log.Debugw("refresh discarded", "card", target.CardID)
	}
	return nil
}

// observe captures the state handed to the guard.
func (s *Session) observe() Observation {
	obs := Observation{
		Mode:   s.machine.Mode(),
		Phase:  s.machine.Phase(),
		Editor: s.saver.Current(),
	}
	if rec, ok := s.machine.Record(); ok {
		obs.TransitionTo = rec.To
		obs.TransitionStarted = rec.StartedAt
	}
	if t, ok := s.saver.InFlight(); ok {
		obs.InFlight = &t
	}
	s.mu.Lock()
	obs.ProblemID = s.problemID
	if c := s.activeLocked(); c != nil {
		obs.CardID = c.ID
	}
	if s.solution != nil {
		obs.SolutionCardID = s.solution.ID
	}
	s.mu.Unlock()
	if s.layout != nil {
		l := s.layout.Current()
		obs.Layout = &l
	}
	return obs
}

// Validate runs the guard now, bypassing its throttle.
func (s *Session) Validate() Verdict {
	return s.guard.Validate(s.observe())
}

// StartGuard runs the throttled guard check on a ticker until ctx is done.
// It returns immediately.
func (s *Session) StartGuard(ctx context.Context) {
	interval := s.cfg.Session.GetGuardInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if s.closed.Load() {
				return
			}
			s.guard.Check(s.observe)
		}
	}()
}

// LastKnownGood returns the guard's most recent good snapshot.
func (s *Session) LastKnownGood() (GuardSnapshot, bool) {
	return s.guard.LastKnownGood()
}

// RecoverState restores the last known good snapshot: mode, card and
// editor content. Content that differs from storage is left dirty and
// saved by the normal auto-save path. It fails with
// ErrNoRecoverableSnapshot when the guard never saw a good state.
func (s *Session) RecoverState(ctx context.Context) (GuardSnapshot, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed.Load() {
		return GuardSnapshot{}, types.ErrSessionClosed
	}

	snap, err := s.guard.Recover()
	if err != nil {
		return GuardSnapshot{}, err
	}
	ok := false
	defer func() { metrics.RecordGuardRecovery(ok) }()

	s.saver.Freeze()
	defer s.saver.Thaw()

	s.mu.Lock()
	cards := s.cards
	sameProblem := s.problemID == snap.ProblemID
	s.mu.Unlock()
	if !sameProblem && snap.ProblemID != "" {
		if cards, err = s.store.ListCards(ctx, snap.ProblemID); err != nil {
			return GuardSnapshot{}, fmt.Errorf("recovering cards: %w", err)
		}
	}

	index := -1
	for i := range cards {
		if cards[i].ID == snap.CardID {
			index = i
		}
	}

	target := Target{Mode: snap.Mode, CardID: snap.CardID}
	if snap.Mode == types.ModeAnswer {
		target.CardID = snap.SolutionCardID
	}
	var persisted types.EditorState
	var solution *types.Card
	if !target.IsZero() {
		card, err := s.store.GetCard(ctx, target.CardID)
		if err != nil {
			return GuardSnapshot{}, fmt.Errorf("recovering card %s: %w", target.CardID, err)
		}
		persisted = card.EditorState()
		if card.IsSolution {
			solution = card
		}
	}

	s.cache.Purge()
	s.saver.Rebind(target, snap.Editor, persisted, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.problemID = snap.ProblemID
		s.cards = cards
		s.index = index
		if solution != nil {
			s.solution = solution
		}
		s.regularPersisted = types.EditorState{}
	})
	s.machine.Restore(snap.Mode)
	ok = true
	s.log.Infow("state recovered", "mode", snap.Mode, "card", target.CardID)
	return snap, nil
}

// Close flushes unsaved edits, stops every timer and detaches the session
// from its document. The flush error, if any, is returned; the session is
// closed either way.
func (s *Session) Close(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed.Swap(true) {
		return nil
	}

	var err error
	if !s.saver.Bound().IsZero() {
		err = s.saver.Flush(ctx)
	}
	s.saver.CancelAll()
	s.saver.Freeze()

	s.mu.Lock()
	if s.settle != nil {
		s.settle.Stop()
	}
	s.mu.Unlock()
	s.cache.Purge()

	if err != nil {
		s.log.Errorw("unsaved edits on close", "dirty", s.saver.Dirty(), "error", err)
		return fmt.Errorf("saving on close: %w", err)
	}
	s.log.Debugw("session closed")
	return nil
}
