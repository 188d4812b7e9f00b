package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/codecards/pkg/types"
)

const problemColumns = "id, title, description, difficulty, created_at"

func scanProblem(row rowScanner) (*types.Problem, error) {
	var p types.Problem
	var createdAt string
	if err := row.Scan(&p.ID, &p.Title, &p.Description, &p.Difficulty, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &p, nil
}

// CreateProblem inserts p. An empty ID is replaced with a UUID v7.
func (b *Backend) CreateProblem(ctx context.Context, p types.Problem) (*types.Problem, error) {
	if strings.TrimSpace(p.Title) == "" {
		return nil, types.ErrInvalidTitle
	}
	if p.ID == "" {
		p.ID = generateUUID()
	}
	p.CreatedAt = b.now()

	err := b.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO problems ("+problemColumns+") VALUES (?, ?, ?, ?, ?)",
			p.ID, p.Title, p.Description, p.Difficulty, formatTime(p.CreatedAt))
		if err != nil {
			return fmt.Errorf("inserting problem: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProblem returns the problem with the given ID.
func (b *Backend) GetProblem(ctx context.Context, id string) (*types.Problem, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	db, release, err := b.conn()
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := scanProblem(db.QueryRowContext(ctx,
		"SELECT "+problemColumns+" FROM problems WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting problem %s: %w", id, err)
	}
	return p, nil
}

// ListProblems returns every problem, oldest first.
func (b *Backend) ListProblems(ctx context.Context) ([]types.Problem, error) {
	db, release, err := b.conn()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := db.QueryContext(ctx,
		"SELECT "+problemColumns+" FROM problems ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("listing problems: %w", err)
	}
	defer rows.Close()

	problems := []types.Problem{}
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning problem: %w", err)
		}
		problems = append(problems, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating problems: %w", err)
	}
	return problems, nil
}
