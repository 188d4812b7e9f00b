// Tests for the SQLite backend lifecycle and store contract.
package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/codecards/internal/storetest"
	"github.com/mesh-intelligence/codecards/pkg/types"
)

// setupBackend attaches a Backend to a fresh temporary directory.
func setupBackend(t *testing.T, dir string) *Backend {
	t.Helper()
	b := NewBackend()
	require.NoError(t, b.Attach(types.Config{
		Backend: types.BackendSQLite,
		DataDir: dir,
	}))
	t.Cleanup(func() { b.Detach() })
	return b
}

func TestBackend_Attach(t *testing.T) {
	tmpDir := t.TempDir()

	b := NewBackend()
	config := types.Config{
		Backend: types.BackendSQLite,
		DataDir: tmpDir,
	}

	err := b.Attach(config)
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	dbPath := filepath.Join(tmpDir, DBFileName)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("%s not created", DBFileName)
	}

	err = b.Attach(config)
	if err != types.ErrAlreadyAttached {
		t.Errorf("expected ErrAlreadyAttached, got %v", err)
	}

	b.Detach()
}

func TestBackend_AttachRejectsInvalidConfig(t *testing.T) {
	b := NewBackend()
	err := b.Attach(types.Config{DataDir: t.TempDir()})
	assert.ErrorIs(t, err, types.ErrBackendEmpty)
}

func TestBackend_Detach(t *testing.T) {
	b := NewBackend()
	require.NoError(t, b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))

	require.NoError(t, b.Detach())
	assert.NoError(t, b.Detach(), "second Detach should not error")

	ctx := context.Background()
	_, err := b.GetCard(ctx, "any")
	assert.ErrorIs(t, err, types.ErrStoreDetached)
	_, err = b.ListProblems(ctx)
	assert.ErrorIs(t, err, types.ErrStoreDetached)
	assert.ErrorIs(t, b.DeleteCard(ctx, "any"), types.ErrStoreDetached)
}

func TestBackend_DataSurvivesReattach(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b := NewBackend()
	cfg := types.Config{Backend: types.BackendSQLite, DataDir: dir}
	require.NoError(t, b.Attach(cfg))

	p, err := b.CreateProblem(ctx, types.Problem{Title: "Two Sum", Difficulty: "Easy"})
	require.NoError(t, err)
	card, err := b.CreateCard(ctx, p.ID, "go", nil)
	require.NoError(t, err)
	code := "package main"
	_, err = b.UpdateCard(ctx, card.ID, types.CardUpdate{Code: &code})
	require.NoError(t, err)
	require.NoError(t, b.Detach())

	reopened := setupBackend(t, dir)
	got, err := reopened.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, code, got.Code)
	assert.True(t, got.CreatedAt.Equal(card.CreatedAt))

	prob, err := reopened.GetProblem(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Easy", prob.Difficulty)
}

func TestBackend_SingleSolutionIndex(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t, t.TempDir())

	p, err := b.CreateProblem(ctx, types.Problem{Title: "Two Sum"})
	require.NoError(t, err)
	_, err = b.CreateOrGetSolutionCard(ctx, p.ID)
	require.NoError(t, err)

	db, release, err := b.conn()
	require.NoError(t, err)
	defer release()
	_, err = db.ExecContext(ctx,
		"INSERT INTO cards ("+cardColumns+") VALUES ('dup', ?, 0, '', 'java', '', 'In Progress', 0, '', '', NULL, 1)",
		p.ID)
	assert.Error(t, err, "schema must reject a second solution card")
}

func TestBackend_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) types.Store {
		return setupBackend(t, t.TempDir())
	})
}
