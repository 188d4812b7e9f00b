package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mesh-intelligence/codecards/internal/focus"
	"github.com/mesh-intelligence/codecards/internal/layout"
	"github.com/mesh-intelligence/codecards/internal/localstore"
	"github.com/mesh-intelligence/codecards/internal/memstore"
	"github.com/mesh-intelligence/codecards/internal/session"
	"github.com/mesh-intelligence/codecards/pkg/types"
)

type shellFixture struct {
	store *memstore.Store
	sess  *session.Session
	cards []*types.Card
}

func newShellFixture(t *testing.T) *shellFixture {
	t.Helper()
	ctx := context.Background()
	f := &shellFixture{store: memstore.New()}

	p, err := f.store.CreateProblem(ctx, types.Problem{Title: "Valid Parentheses"})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		c, err := f.store.CreateCard(ctx, p.ID, "go", nil)
		require.NoError(t, err)
		f.cards = append(f.cards, c)
	}

	kv, err := localstore.New(afero.NewMemMapFs(), "/state")
	require.NoError(t, err)
	layouts := layout.Load(kv, nil)
	log := zaptest.NewLogger(t).Sugar()

	cfg := types.Config{
		Backend: types.BackendMemory,
		AutoSave: types.AutoSaveConfig{
			CodeDelay:     time.Hour,
			NotesDelay:    time.Hour,
			LanguageDelay: time.Hour,
		},
		Session: types.SessionConfig{SettleDelay: 10 * time.Millisecond},
	}
	f.sess = session.New(f.store, cfg, session.Options{
		Logger: log,
		Focus:  focus.New(layouts, kv, cfg.Focus, log),
		Layout: layouts,
	})
	require.NoError(t, f.sess.OpenProblem(ctx, p.ID))
	t.Cleanup(func() { f.sess.Close(context.Background()) })
	return f
}

func (f *shellFixture) run(t *testing.T, lines ...string) string {
	t.Helper()
	var out bytes.Buffer
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	require.NoError(t, newShell(f.sess, in, &out).run(context.Background()))
	return out.String()
}

func TestShell_EditSaveAndNavigate(t *testing.T) {
	f := newShellFixture(t)

	out := f.run(t,
		`code func valid() bool {\n\treturn true\n}`,
		"notes use a stack",
		"status",
		"save",
		"next",
		"show",
		"quit",
	)

	assert.Contains(t, out, "unsaved: [")
	assert.Contains(t, out, "saved")
	assert.Contains(t, out, "card 2")

	card, err := f.store.GetCard(context.Background(), f.cards[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "func valid() bool {\n\treturn true\n}", card.Code)
	assert.Equal(t, "use a stack", card.Notes)
}

func TestShell_ToggleToSolution(t *testing.T) {
	f := newShellFixture(t)

	out := f.run(t, "toggle", "status", "code class Solution {}", "toggle", "status")

	assert.Contains(t, out, "[answer] solution (from card 1)")
	assert.Contains(t, out, "[regular] card 1")

	sol, err := f.store.GetSolutionCard(context.Background(), f.cards[0].ProblemID)
	require.NoError(t, err)
	require.NotNil(t, sol)
	assert.Equal(t, "class Solution {}", sol.Code, "leaving answer mode flushes the solution")
}

func TestShell_ReportsErrorsAndContinues(t *testing.T) {
	f := newShellFixture(t)

	out := f.run(t, "prev", "delete", "frobnicate", "lang", "cards")

	assert.Contains(t, out, types.ErrEndOfCards.Error())
	assert.Contains(t, out, types.ErrCannotDeleteMainCard.Error())
	assert.Contains(t, out, `unknown command "frobnicate"`)
	assert.Contains(t, out, types.ErrInvalidLanguage.Error())
	assert.Contains(t, out, f.cards[1].ID, "loop kept going after the errors")
}

func TestShell_NewCardFocusAndCheck(t *testing.T) {
	f := newShellFixture(t)

	out := f.run(t, "new", "focus", "check", "focus", "delete", "cards")

	assert.Contains(t, out, "focus mode: on")
	assert.Contains(t, out, "focus mode: off")
	assert.Contains(t, out, "valid=true proceed=true")

	cards, _ := f.sess.Cards()
	assert.Len(t, cards, 2, "the child card was created and deleted again")
}
