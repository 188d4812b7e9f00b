// Package storetest is a behavioral test suite for types.Store
// implementations. Each backend's tests call Run with a factory that returns
// a fresh, empty store.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/codecards/pkg/types"
)

// Factory returns an empty store ready for use. Cleanup is registered on t.
type Factory func(t *testing.T) types.Store

// Run executes every store contract test against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s types.Store)
	}{
		{"problems round trip", testProblems},
		{"create card numbering", testCreateCardNumbering},
		{"create card validation", testCreateCardValidation},
		{"list excludes solution", testListExcludesSolution},
		{"update card partial", testUpdateCardPartial},
		{"delete only child cards", testDeleteCard},
		{"solution card lifecycle", testSolutionCard},
		{"solution card created once under concurrency", testSolutionCardConcurrent},
		{"solution updates reject regular cards", testSolutionUpdateRegular},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func mustProblem(t *testing.T, s types.Store, title string) *types.Problem {
	t.Helper()
	p, err := s.CreateProblem(context.Background(), types.Problem{Title: title})
	require.NoError(t, err)
	return p
}

func testProblems(t *testing.T, s types.Store) {
	ctx := context.Background()

	_, err := s.CreateProblem(ctx, types.Problem{Title: "  "})
	assert.ErrorIs(t, err, types.ErrInvalidTitle)

	a := mustProblem(t, s, "Two Sum")
	b := mustProblem(t, s, "LRU Cache")
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.CreatedAt.IsZero())

	got, err := s.GetProblem(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Two Sum", got.Title)

	_, err = s.GetProblem(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)

	all, err := s.ListProblems(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, a.ID, all[0].ID)
}

func testCreateCardNumbering(t *testing.T, s types.Store) {
	ctx := context.Background()
	p := mustProblem(t, s, "Two Sum")

	first, err := s.CreateCard(ctx, p.ID, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, first.CardNumber)
	assert.Equal(t, types.DefaultCardLanguage, first.Language)
	assert.Equal(t, types.CardStatusInProgress, first.Status)
	assert.False(t, first.IsSolution)
	assert.False(t, first.IsChild())

	second, err := s.CreateCard(ctx, p.ID, "python", &first.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, second.CardNumber)
	assert.Equal(t, "python", second.Language)
	require.True(t, second.IsChild())
	assert.Equal(t, first.ID, *second.ParentCardID)

	// A solution card does not take part in numbering.
	_, err = s.CreateOrGetSolutionCard(ctx, p.ID)
	require.NoError(t, err)
	third, err := s.CreateCard(ctx, p.ID, "go", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, third.CardNumber)

	got, err := s.GetCard(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
	assert.Equal(t, 2, got.CardNumber)
	require.NotNil(t, got.ParentCardID)
	assert.Equal(t, first.ID, *got.ParentCardID)
}

func testCreateCardValidation(t *testing.T, s types.Store) {
	ctx := context.Background()

	_, err := s.CreateCard(ctx, "", "go", nil)
	assert.ErrorIs(t, err, types.ErrInvalidID)

	_, err = s.CreateCard(ctx, "no-such-problem", "go", nil)
	assert.ErrorIs(t, err, types.ErrNotFound)

	p := mustProblem(t, s, "Two Sum")
	missing := "no-such-card"
	_, err = s.CreateCard(ctx, p.ID, "go", &missing)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = s.GetCard(ctx, "")
	assert.ErrorIs(t, err, types.ErrInvalidID)
	_, err = s.GetCard(ctx, missing)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func testListExcludesSolution(t *testing.T, s types.Store) {
	ctx := context.Background()
	p := mustProblem(t, s, "Two Sum")
	other := mustProblem(t, s, "Other")

	for i := 0; i < 3; i++ {
		_, err := s.CreateCard(ctx, p.ID, "go", nil)
		require.NoError(t, err)
	}
	_, err := s.CreateCard(ctx, other.ID, "go", nil)
	require.NoError(t, err)
	_, err = s.CreateOrGetSolutionCard(ctx, p.ID)
	require.NoError(t, err)

	cards, err := s.ListCards(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, cards, 3)
	for i, c := range cards {
		assert.Equal(t, i+1, c.CardNumber)
		assert.False(t, c.IsSolution)
		assert.Equal(t, p.ID, c.ProblemID)
	}

	empty := mustProblem(t, s, "Empty")
	cards, err = s.ListCards(ctx, empty.ID)
	require.NoError(t, err)
	assert.Empty(t, cards)
}

func testUpdateCardPartial(t *testing.T, s types.Store) {
	ctx := context.Background()
	p := mustProblem(t, s, "Two Sum")
	card, err := s.CreateCard(ctx, p.ID, "go", nil)
	require.NoError(t, err)

	code := "func twoSum() {}"
	updated, err := s.UpdateCard(ctx, card.ID, types.CardUpdate{Code: &code})
	require.NoError(t, err)
	assert.Equal(t, code, updated.Code)
	assert.Equal(t, "go", updated.Language)
	assert.False(t, updated.LastModified.Before(card.LastModified))

	notes := "hash map"
	lang := "python"
	_, err = s.UpdateCard(ctx, card.ID, types.CardUpdate{Notes: &notes, Language: &lang})
	require.NoError(t, err)

	got, err := s.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, types.EditorState{Code: code, Notes: notes, Language: lang}, got.EditorState())

	bad := "Done"
	_, err = s.UpdateCard(ctx, card.ID, types.CardUpdate{Status: &bad})
	assert.ErrorIs(t, err, types.ErrInvalidStatus)

	_, err = s.UpdateCard(ctx, "missing", types.CardUpdate{Code: &code})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func testDeleteCard(t *testing.T, s types.Store) {
	ctx := context.Background()
	p := mustProblem(t, s, "Two Sum")
	main, err := s.CreateCard(ctx, p.ID, "go", nil)
	require.NoError(t, err)
	child, err := s.CreateCard(ctx, p.ID, "go", &main.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteCard(ctx, main.ID), types.ErrCannotDeleteMainCard)
	assert.ErrorIs(t, s.DeleteCard(ctx, "missing"), types.ErrNotFound)

	require.NoError(t, s.DeleteCard(ctx, child.ID))
	_, err = s.GetCard(ctx, child.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	cards, err := s.ListCards(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, main.ID, cards[0].ID)
}

func testSolutionCard(t *testing.T, s types.Store) {
	ctx := context.Background()
	p := mustProblem(t, s, "Two Sum")

	none, err := s.GetSolutionCard(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	sol, err := s.CreateOrGetSolutionCard(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, sol.IsSolution)
	assert.Equal(t, types.SolutionCardNumber, sol.CardNumber)
	assert.Equal(t, types.DefaultSolutionLanguage, sol.Language)
	assert.Empty(t, sol.Code)

	again, err := s.CreateOrGetSolutionCard(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, sol.ID, again.ID)

	require.NoError(t, s.UpdateSolutionCode(ctx, sol.ID, "class Solution {}", "java"))
	require.NoError(t, s.UpdateSolutionNotes(ctx, sol.ID, "O(n)"))

	got, err := s.GetSolutionCard(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.EditorState{Code: "class Solution {}", Notes: "O(n)", Language: "java"}, got.EditorState())

	assert.ErrorIs(t, s.UpdateSolutionCode(ctx, sol.ID, "x", ""), types.ErrInvalidLanguage)
	assert.ErrorIs(t, s.UpdateSolutionNotes(ctx, "missing", "n"), types.ErrNotFound)

	_, err = s.CreateOrGetSolutionCard(ctx, "no-such-problem")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func testSolutionCardConcurrent(t *testing.T, s types.Store) {
	ctx := context.Background()
	p := mustProblem(t, s, "Two Sum")

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := s.CreateOrGetSolutionCard(ctx, p.ID)
			errs[i] = err
			if c != nil {
				ids[i] = c.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
}

func testSolutionUpdateRegular(t *testing.T, s types.Store) {
	ctx := context.Background()
	p := mustProblem(t, s, "Two Sum")
	card, err := s.CreateCard(ctx, p.ID, "go", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, s.UpdateSolutionCode(ctx, card.ID, "x", "go"), types.ErrNotSolutionCard)
	assert.ErrorIs(t, s.UpdateSolutionNotes(ctx, card.ID, "n"), types.ErrNotSolutionCard)

	got, err := s.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Code, "regular card untouched by solution update")
}
