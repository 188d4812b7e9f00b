package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mesh-intelligence/codecards/internal/memstore"
	"github.com/mesh-intelligence/codecards/pkg/types"
)

func testConfig() types.Config {
	return types.Config{
		Backend:  types.BackendMemory,
		AutoSave: testAutoSaveConfig(),
		Session: types.SessionConfig{
			SettleDelay:   30 * time.Millisecond,
			GuardInterval: 10 * time.Millisecond,
		},
	}
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   *memstore.Store
	sess    *Session
	problem *types.Problem
	cards   []types.Card
}

// newFixture opens a problem with n regular cards. Card i holds code
// "card-i". The first card is the main card; the rest are its children.
func newFixture(t *testing.T, n int, opts ...func(*types.Config, *Options)) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{t: t, ctx: ctx, store: memstore.New()}

	var err error
	f.problem, err = f.store.CreateProblem(ctx, types.Problem{Title: "Merge Intervals", Difficulty: "medium"})
	require.NoError(t, err)

	var parent *string
	for i := 0; i < n; i++ {
		c, err := f.store.CreateCard(ctx, f.problem.ID, "go", parent)
		require.NoError(t, err)
		code := "card-" + string(rune('0'+i))
		c, err = f.store.UpdateCard(ctx, c.ID, types.CardUpdate{Code: &code})
		require.NoError(t, err)
		f.cards = append(f.cards, *c)
		if parent == nil {
			parent = &f.cards[0].ID
		}
	}

	cfg := testConfig()
	o := Options{Logger: zaptest.NewLogger(t).Sugar()}
	for _, opt := range opts {
		opt(&cfg, &o)
	}
	f.sess = New(f.store, cfg, o)
	if n > 0 {
		require.NoError(t, f.sess.OpenProblem(ctx, f.problem.ID))
	}
	f.store.ResetCalls()
	t.Cleanup(func() { _ = f.sess.Close(context.Background()) })
	return f
}

func (f *fixture) card(id string) *types.Card {
	f.t.Helper()
	c, err := f.store.GetCard(f.ctx, id)
	require.NoError(f.t, err)
	return c
}

func (f *fixture) toggle() {
	f.t.Helper()
	ok, err := f.sess.ToggleMode(f.ctx)
	require.NoError(f.t, err)
	require.True(f.t, ok)
}

func (f *fixture) writesTo(id string) []memstore.Call {
	var out []memstore.Call
	for _, c := range f.store.Writes() {
		if c.ID == id {
			out = append(out, c)
		}
	}
	return out
}

func failOp(op memstore.Op, err error) memstore.Hook {
	return func(_ context.Context, c memstore.Call) error {
		if c.Op == op {
			return err
		}
		return nil
	}
}

// blockOp blocks the first call of op until release is closed and reports
// its arrival on entered.
func blockOp(op memstore.Op) (hook memstore.Hook, entered <-chan struct{}, release chan struct{}) {
	in := make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	hook = func(_ context.Context, c memstore.Call) error {
		if c.Op != op {
			return nil
		}
		first := false
		once.Do(func() { first = true })
		if first {
			close(in)
			<-release
		}
		return nil
	}
	return hook, in, release
}

func TestSession_OpenProblemBindsFirstCard(t *testing.T) {
	f := newFixture(t, 2)

	assert.Equal(t, f.problem.ID, f.sess.ProblemID())
	assert.Equal(t, types.ModeRegular, f.sess.Mode())
	assert.Equal(t, f.cards[0].EditorState(), f.sess.CurrentEditorState())
	active, ok := f.sess.ActiveCard()
	require.True(t, ok)
	assert.Equal(t, f.cards[0].ID, active.ID)
	cards, index := f.sess.Cards()
	assert.Len(t, cards, 2)
	assert.Equal(t, 0, index)
}

func TestSession_OpenProblemCreatesFirstCard(t *testing.T) {
	f := newFixture(t, 0, func(c *types.Config, _ *Options) { c.DefaultLanguage = "python" })
	require.NoError(t, f.sess.OpenProblem(f.ctx, f.problem.ID))

	cards, err := f.store.ListCards(f.ctx, f.problem.ID)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "python", cards[0].Language)
	assert.Equal(t, "python", f.sess.CurrentEditorState().Language)
}

func TestSession_OperationsNeedProblem(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.sess.ToggleMode(f.ctx)
	assert.ErrorIs(t, err, types.ErrNoProblemOpen)
	_, err = f.sess.NavigateCard(f.ctx, Next)
	assert.ErrorIs(t, err, types.ErrNoProblemOpen)
	assert.ErrorIs(t, f.sess.EditCode("x"), types.ErrNoActiveCard)
	assert.ErrorIs(t, f.sess.ManualSave(f.ctx), types.ErrNoActiveCard)
	assert.ErrorIs(t, f.sess.OpenProblem(f.ctx, "missing"), types.ErrNotFound)
}

func TestSession_ToggleRoundTrip(t *testing.T) {
	f := newFixture(t, 1)
	var changes []types.ModeChange
	var mu sync.Mutex
	f.sess.OnModeChanged(func(c types.ModeChange) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c)
	})

	f.toggle()
	assert.Equal(t, types.ModeAnswer, f.sess.Mode())
	solution, err := f.store.GetSolutionCard(f.ctx, f.problem.ID)
	require.NoError(t, err)
	require.NotNil(t, solution, "first switch creates the solution card")
	assert.Equal(t, types.DefaultSolutionLanguage, f.sess.CurrentEditorState().Language)

	f.toggle()
	assert.Equal(t, types.ModeRegular, f.sess.Mode())
	assert.Equal(t, f.cards[0].EditorState(), f.sess.CurrentEditorState())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []types.ModeChange{
		{From: types.ModeRegular, To: types.ModeAnswer},
		{From: types.ModeAnswer, To: types.ModeRegular},
	}, changes)
}

func TestSession_EditsStayWithTheirDocument(t *testing.T) {
	f := newFixture(t, 1)
	regular := f.cards[0].ID

	require.NoError(t, f.sess.EditCode("regular draft"))
	f.toggle()
	solution := f.sess.saver.Bound().CardID

	assert.Equal(t, "regular draft", f.card(regular).Code, "outgoing edits are saved before the switch")

	require.NoError(t, f.sess.EditCode("answer draft"))
	require.NoError(t, f.sess.EditNotes("sort first"))
	require.NoError(t, f.sess.ManualSave(f.ctx))

	f.toggle()
	assert.Equal(t, "regular draft", f.sess.CurrentEditorState().Code)

	assert.Equal(t, "regular draft", f.card(regular).Code)
	assert.Equal(t, "answer draft", f.card(solution).Code)
	assert.Equal(t, "sort first", f.card(solution).Notes)
	for _, w := range f.writesTo(regular) {
		assert.Equal(t, memstore.OpUpdateCard, w.Op)
	}
	for _, w := range f.writesTo(solution) {
		assert.NotEqual(t, memstore.OpUpdateCard, w.Op)
	}
}

func TestSession_FailedSaveSurvivesRoundTrip(t *testing.T) {
	f := newFixture(t, 1)
	regular := f.cards[0].ID
	boom := errors.New("write refused")
	f.store.SetHook(failOp(memstore.OpUpdateCard, boom))

	require.NoError(t, f.sess.EditCode("unsaved work"))
	f.toggle()
	assert.Equal(t, types.ModeAnswer, f.sess.Mode(), "a failed outgoing save does not block the switch")
	f.toggle()

	assert.Equal(t, "unsaved work", f.sess.CurrentEditorState().Code)
	assert.Contains(t, f.sess.Dirty(), types.FieldCode)
	assert.Equal(t, "card-0", f.card(regular).Code)

	f.store.SetHook(nil)
	require.NoError(t, f.sess.ManualSave(f.ctx))
	assert.Equal(t, "unsaved work", f.card(regular).Code)
}

func TestSession_CacheWinsWithinSettleWindow(t *testing.T) {
	f := newFixture(t, 1, func(c *types.Config, _ *Options) { c.Session.SettleDelay = 200 * time.Millisecond })
	regular := f.cards[0].ID

	f.toggle()
	f.toggle()

	external := "written elsewhere"
	_, err := f.store.UpdateCard(f.ctx, regular, types.CardUpdate{Code: &external})
	require.NoError(t, err)

	require.NoError(t, f.sess.Refresh(f.ctx))
	assert.Equal(t, "card-0", f.sess.CurrentEditorState().Code, "late sync pass must not overwrite restored content")

	require.Eventually(t, func() bool { return f.sess.cache.Len() == 0 }, waitFor, tick)
	require.NoError(t, f.sess.Refresh(f.ctx))
	assert.Equal(t, external, f.sess.CurrentEditorState().Code)
}

func TestSession_RefreshSkipsDirtyDocument(t *testing.T) {
	f := newFixture(t, 1)
	external := "written elsewhere"
	_, err := f.store.UpdateCard(f.ctx, f.cards[0].ID, types.CardUpdate{Code: &external})
	require.NoError(t, err)

	require.NoError(t, f.sess.EditNotes("typing"))
	require.NoError(t, f.sess.Refresh(f.ctx))
	assert.Equal(t, "card-0", f.sess.CurrentEditorState().Code)
	assert.Equal(t, "typing", f.sess.CurrentEditorState().Notes)
}

func TestSession_StaleRefreshDiscarded(t *testing.T) {
	f := newFixture(t, 1)
	hook, entered, release := blockOp(memstore.OpGetCard)
	f.store.SetHook(hook)

	done := make(chan error, 1)
	go func() { done <- f.sess.Refresh(f.ctx) }()
	<-entered

	f.toggle()
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, types.ModeAnswer, f.sess.Mode())
	assert.Equal(t, types.DefaultSolutionLanguage, f.sess.CurrentEditorState().Language,
		"a sync pass that started before the switch must not rebind the old card")
}

func TestSession_SolutionFetchFailureRollsBack(t *testing.T) {
	f := newFixture(t, 1)
	boom := errors.New("storage offline")
	f.store.SetHook(failOp(memstore.OpCreateOrGetSolution, boom))
	require.NoError(t, f.sess.EditNotes("keep me"))
	before := f.sess.CurrentEditorState()

	ok, err := f.sess.ToggleMode(f.ctx)
	assert.False(t, ok)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTransitionFailed)
	assert.ErrorIs(t, err, boom)
	var terr *types.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, before, terr.Record.EditorStateAtStart)

	assert.Equal(t, types.ModeRegular, f.sess.Mode())
	assert.Equal(t, types.PhaseIdle, f.sess.Phase())
	assert.Equal(t, before, f.sess.CurrentEditorState())
	assert.Equal(t, 0, f.sess.cache.Len())

	f.store.SetHook(nil)
	f.toggle()
	assert.Equal(t, types.ModeAnswer, f.sess.Mode())
}

func TestSession_TransitionIsALock(t *testing.T) {
	f := newFixture(t, 2)
	hook, entered, release := blockOp(memstore.OpCreateOrGetSolution)
	f.store.SetHook(hook)

	result := make(chan bool, 1)
	go func() {
		ok, _ := f.sess.ToggleMode(f.ctx)
		result <- ok
	}()
	<-entered
	assert.Equal(t, types.PhaseTransitioning, f.sess.Phase())

	ok, err := f.sess.ToggleMode(f.ctx)
	assert.NoError(t, err)
	assert.False(t, ok, "toggles issued during a transition are ignored")
	assert.ErrorIs(t, f.sess.EditCode("x"), types.ErrTransitionInProgress)
	assert.ErrorIs(t, f.sess.ManualSave(f.ctx), types.ErrTransitionInProgress)
	_, err = f.sess.NavigateCard(f.ctx, Next)
	assert.ErrorIs(t, err, types.ErrTransitionInProgress)
	require.NoError(t, f.sess.Refresh(f.ctx), "sync passes are skipped during a transition")

	close(release)
	assert.True(t, <-result)
	assert.Equal(t, types.ModeAnswer, f.sess.Mode())
	assert.Equal(t, types.PhaseIdle, f.sess.Phase())
}

func TestSession_ConcurrentTogglesStayConsistent(t *testing.T) {
	f := newFixture(t, 1)
	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.sess.ToggleMode(f.ctx)
			assert.NoError(t, err)
			if ok {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Positive(t, accepted.Load())
	want := types.ModeRegular
	if accepted.Load()%2 == 1 {
		want = types.ModeAnswer
	}
	assert.Equal(t, want, f.sess.Mode())
	assert.Equal(t, types.PhaseIdle, f.sess.Phase())

	cards, err := f.store.ListCards(f.ctx, f.problem.ID)
	require.NoError(t, err)
	assert.Len(t, cards, 1, "the solution card never shows up as a regular card")
}

func TestSession_NavigateFlushesAndCancels(t *testing.T) {
	f := newFixture(t, 2)
	first, second := f.cards[0].ID, f.cards[1].ID

	require.NoError(t, f.sess.EditCode("edited first"))
	card, err := f.sess.NavigateCard(f.ctx, Next)
	require.NoError(t, err)
	assert.Equal(t, second, card.ID)
	assert.Equal(t, "card-1", f.sess.CurrentEditorState().Code)
	assert.Equal(t, "edited first", f.card(first).Code)

	time.Sleep(2 * testCodeDelay)
	assert.Empty(t, f.writesTo(second), "the outgoing timer must not fire against the new card")
	assert.Len(t, f.writesTo(first), 1)

	_, err = f.sess.NavigateCard(f.ctx, Next)
	assert.ErrorIs(t, err, types.ErrEndOfCards)
	card, err = f.sess.NavigateCard(f.ctx, Prev)
	require.NoError(t, err)
	assert.Equal(t, first, card.ID)
	assert.Equal(t, "edited first", f.sess.CurrentEditorState().Code)
	_, err = f.sess.NavigateCard(f.ctx, Prev)
	assert.ErrorIs(t, err, types.ErrEndOfCards)
}

func TestSession_NavigateAbortsOnFlushFailure(t *testing.T) {
	f := newFixture(t, 2)
	boom := errors.New("write refused")
	f.store.SetHook(failOp(memstore.OpUpdateCard, boom))

	require.NoError(t, f.sess.EditCode("precious"))
	_, err := f.sess.NavigateCard(f.ctx, Next)
	assert.ErrorIs(t, err, boom)

	active, _ := f.sess.ActiveCard()
	assert.Equal(t, f.cards[0].ID, active.ID)
	assert.Equal(t, "precious", f.sess.CurrentEditorState().Code)
	assert.Contains(t, f.sess.Dirty(), types.FieldCode)
}

func TestSession_NavigateFromAnswerMode(t *testing.T) {
	f := newFixture(t, 2)
	f.toggle()
	require.NoError(t, f.sess.EditCode("solution body"))

	card, err := f.sess.NavigateCard(f.ctx, Next)
	require.NoError(t, err)
	assert.Equal(t, types.ModeRegular, f.sess.Mode())
	assert.Equal(t, f.cards[1].ID, card.ID)
	assert.Equal(t, "card-1", f.sess.CurrentEditorState().Code)

	solution, err := f.store.GetSolutionCard(f.ctx, f.problem.ID)
	require.NoError(t, err)
	assert.Equal(t, "solution body", solution.Code)
}

func TestSession_ManualSaveOrderAndNoop(t *testing.T) {
	f := newFixture(t, 1, func(c *types.Config, _ *Options) {
		c.AutoSave = types.AutoSaveConfig{CodeDelay: time.Second, NotesDelay: time.Second, LanguageDelay: time.Second}
	})
	require.NoError(t, f.sess.EditCode("c"))
	require.NoError(t, f.sess.EditNotes("n"))
	require.NoError(t, f.sess.EditLanguage("rust"))

	require.NoError(t, f.sess.ManualSave(f.ctx))
	writes := f.store.Writes()
	require.Len(t, writes, 3)
	assert.NotNil(t, writes[0].Update.Language)
	assert.NotNil(t, writes[1].Update.Notes)
	assert.NotNil(t, writes[2].Update.Code)

	f.store.ResetCalls()
	require.NoError(t, f.sess.ManualSave(f.ctx))
	assert.Empty(t, f.store.Writes())
}

func TestSession_NewAndDeleteCard(t *testing.T) {
	f := newFixture(t, 1)
	main := f.cards[0].ID

	child, err := f.sess.NewCard(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, child.ParentCardID)
	assert.Equal(t, main, *child.ParentCardID)
	active, _ := f.sess.ActiveCard()
	assert.Equal(t, child.ID, active.ID)
	assert.Equal(t, "go", child.Language)

	require.NoError(t, f.sess.EditCode("scratch"))
	require.NoError(t, f.sess.DeleteCard(f.ctx))
	active, _ = f.sess.ActiveCard()
	assert.Equal(t, main, active.ID)
	_, err = f.store.GetCard(f.ctx, child.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	assert.ErrorIs(t, f.sess.DeleteCard(f.ctx), types.ErrCannotDeleteMainCard)
}

func TestSession_GuardAndRecovery(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.sess.RecoverState(f.ctx)
	assert.ErrorIs(t, err, types.ErrNoRecoverableSnapshot)

	v := f.sess.Validate()
	require.True(t, v.IsValid, "errors=%v warnings=%v", v.Errors, v.Warnings)
	good, ok := f.sess.LastKnownGood()
	require.True(t, ok)

	f.toggle()
	require.NoError(t, f.sess.EditCode("after snapshot"))

	snap, err := f.sess.RecoverState(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, good.Mode, snap.Mode)
	assert.Equal(t, types.ModeRegular, f.sess.Mode())
	assert.Equal(t, good.Editor, f.sess.CurrentEditorState())
	active, _ := f.sess.ActiveCard()
	assert.Equal(t, f.cards[0].ID, active.ID)
}

func TestSession_StartGuardCapturesSnapshots(t *testing.T) {
	f := newFixture(t, 1)
	ctx, cancel := context.WithCancel(f.ctx)
	defer cancel()

	f.sess.StartGuard(ctx)
	require.Eventually(t, func() bool {
		_, ok := f.sess.LastKnownGood()
		return ok
	}, waitFor, tick)
}

type fakeFocus struct{ active bool }

func (f *fakeFocus) Toggle(context.Context) (bool, error) {
	f.active = !f.active
	return f.active, nil
}

func (f *fakeFocus) IsActive() bool { return f.active }

func TestSession_FocusMode(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.sess.ToggleFocusMode(f.ctx)
	assert.ErrorIs(t, err, types.ErrFocusDisabled)
	assert.False(t, f.sess.IsFocusModeActive())

	focus := &fakeFocus{}
	g := newFixture(t, 1, func(_ *types.Config, o *Options) { o.Focus = focus })
	on, err := g.sess.ToggleFocusMode(g.ctx)
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, g.sess.IsFocusModeActive())
}

func TestSession_CloseFlushes(t *testing.T) {
	f := newFixture(t, 1)
	require.NoError(t, f.sess.EditNotes("last words"))

	require.NoError(t, f.sess.Close(f.ctx))
	assert.Equal(t, "last words", f.card(f.cards[0].ID).Notes)

	assert.ErrorIs(t, f.sess.EditNotes("more"), types.ErrSessionClosed)
	_, err := f.sess.ToggleMode(f.ctx)
	assert.ErrorIs(t, err, types.ErrSessionClosed)
	assert.ErrorIs(t, f.sess.ManualSave(f.ctx), types.ErrSessionClosed)
	require.NoError(t, f.sess.Close(f.ctx), "closing twice is harmless")
}

func TestSession_ReturnAfterSavedEditShowsStoredContent(t *testing.T) {
	f := newFixture(t, 2, func(c *types.Config, _ *Options) { c.Session.SettleDelay = 5 * time.Second })
	first := f.cards[0].ID

	f.toggle()
	f.toggle()
	require.NoError(t, f.sess.EditCode("newer edit"))

	_, err := f.sess.NavigateCard(f.ctx, Next)
	require.NoError(t, err)
	assert.Equal(t, "newer edit", f.card(first).Code)
	assert.Zero(t, f.sess.cache.Len(), "navigation drops the entry of the card it saved")

	card, err := f.sess.NavigateCard(f.ctx, Prev)
	require.NoError(t, err)
	assert.Equal(t, first, card.ID)
	assert.Equal(t, "newer edit", f.sess.CurrentEditorState().Code)
	assert.Empty(t, f.sess.Dirty())

	time.Sleep(2 * testCodeDelay)
	assert.Equal(t, "newer edit", f.card(first).Code, "older cached content must not be written back")
}

func TestSession_DeleteCardKeepsNeighbourWhenLoadFails(t *testing.T) {
	f := newFixture(t, 1)
	main := f.cards[0].ID
	child, err := f.sess.NewCard(f.ctx)
	require.NoError(t, err)

	boom := errors.New("read failed")
	f.store.SetHook(failOp(memstore.OpGetCard, boom))
	err = f.sess.DeleteCard(f.ctx)
	assert.ErrorIs(t, err, boom)

	f.store.SetHook(nil)
	_, err = f.store.GetCard(f.ctx, child.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	active, ok := f.sess.ActiveCard()
	require.True(t, ok)
	assert.Equal(t, main, active.ID)
	assert.Equal(t, "card-0", f.sess.CurrentEditorState().Code)
	require.NoError(t, f.sess.EditNotes("still editable"))
	require.NoError(t, f.sess.ManualSave(f.ctx))
	assert.Equal(t, "still editable", f.card(main).Notes)
}
