package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/codecards/pkg/types"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanCard hydrates one row selected with cardColumns.
func scanCard(row rowScanner) (*types.Card, error) {
	var (
		c                       types.Card
		createdAt, lastModified string
		parent                  sql.NullString
		isSolution              int
	)
	if err := row.Scan(
		&c.ID, &c.ProblemID, &c.CardNumber, &c.Code, &c.Language, &c.Notes, &c.Status,
		&c.TotalDuration, &createdAt, &lastModified, &parent, &isSolution,
	); err != nil {
		return nil, err
	}

	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.LastModified, err = parseTime(lastModified); err != nil {
		return nil, fmt.Errorf("parsing last_modified: %w", err)
	}
	if parent.Valid && parent.String != "" {
		p := parent.String
		c.ParentCardID = &p
	}
	c.IsSolution = isSolution != 0
	return &c, nil
}

// GetCard returns the card with the given ID.
func (b *Backend) GetCard(ctx context.Context, id string) (*types.Card, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	db, release, err := b.conn()
	if err != nil {
		return nil, err
	}
	defer release()

	card, err := scanCard(db.QueryRowContext(ctx,
		"SELECT "+cardColumns+" FROM cards WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting card %s: %w", id, err)
	}
	return card, nil
}

// ListCards returns the regular cards of a problem ordered by card number.
func (b *Backend) ListCards(ctx context.Context, problemID string) ([]types.Card, error) {
	if problemID == "" {
		return nil, types.ErrInvalidID
	}
	db, release, err := b.conn()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := db.QueryContext(ctx,
		"SELECT "+cardColumns+" FROM cards WHERE problem_id = ? AND is_solution = 0 ORDER BY card_number ASC",
		problemID)
	if err != nil {
		return nil, fmt.Errorf("listing cards: %w", err)
	}
	defer rows.Close()

	cards := []types.Card{}
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning card: %w", err)
		}
		cards = append(cards, *card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cards: %w", err)
	}
	return cards, nil
}

// CreateCard appends a regular card numbered one past the problem's
// highest card number.
func (b *Backend) CreateCard(ctx context.Context, problemID, language string, parentID *string) (*types.Card, error) {
	if problemID == "" {
		return nil, types.ErrInvalidID
	}
	if language == "" {
		language = types.DefaultCardLanguage
	}

	now := b.now()
	card := &types.Card{
		ID:           generateUUID(),
		ProblemID:    problemID,
		Language:     language,
		Status:       types.CardStatusInProgress,
		CreatedAt:    now,
		LastModified: now,
	}
	if parentID != nil && *parentID != "" {
		p := *parentID
		card.ParentCardID = &p
	}

	err := b.inTx(ctx, func(tx *sql.Tx) error {
		if err := requireRow(ctx, tx, "SELECT 1 FROM problems WHERE id = ?", problemID); err != nil {
			return err
		}
		if card.ParentCardID != nil {
			if err := requireRow(ctx, tx, "SELECT 1 FROM cards WHERE id = ?", *card.ParentCardID); err != nil {
				return err
			}
		}

		if err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(card_number), 0) + 1 FROM cards WHERE problem_id = ? AND is_solution = 0",
			problemID,
		).Scan(&card.CardNumber); err != nil {
			return fmt.Errorf("computing card number: %w", err)
		}
		return insertCard(ctx, tx, card)
	})
	if err != nil {
		return nil, err
	}
	return card, nil
}

// UpdateCard writes the non-nil fields of upd and bumps last_modified.
func (b *Backend) UpdateCard(ctx context.Context, id string, upd types.CardUpdate) (*types.Card, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	if err := upd.Validate(); err != nil {
		return nil, err
	}

	var sets []string
	var args []any
	if upd.Code != nil {
		sets = append(sets, "code = ?")
		args = append(args, *upd.Code)
	}
	if upd.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *upd.Notes)
	}
	if upd.Language != nil {
		sets = append(sets, "language = ?")
		args = append(args, *upd.Language)
	}
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *upd.Status)
	}
	sets = append(sets, "last_modified = ?")
	args = append(args, formatTime(b.now()), id)

	var card *types.Card
	err := b.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE cards SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
		if err != nil {
			return fmt.Errorf("updating card %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.ErrNotFound
		}
		card, err = scanCard(tx.QueryRowContext(ctx,
			"SELECT "+cardColumns+" FROM cards WHERE id = ?", id))
		if err != nil {
			return fmt.Errorf("reading updated card %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return card, nil
}

// DeleteCard removes a child card. Main cards are refused.
func (b *Backend) DeleteCard(ctx context.Context, id string) error {
	if id == "" {
		return types.ErrInvalidID
	}
	return b.inTx(ctx, func(tx *sql.Tx) error {
		var parent sql.NullString
		err := tx.QueryRowContext(ctx,
			"SELECT parent_card_id FROM cards WHERE id = ?", id).Scan(&parent)
		if errors.Is(err, sql.ErrNoRows) {
			return types.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("checking card %s: %w", id, err)
		}
		if !parent.Valid || parent.String == "" {
			return types.ErrCannotDeleteMainCard
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM cards WHERE id = ?", id); err != nil {
			return fmt.Errorf("deleting card %s: %w", id, err)
		}
		return nil
	})
}

// GetSolutionCard returns the problem's solution card or (nil, nil).
func (b *Backend) GetSolutionCard(ctx context.Context, problemID string) (*types.Card, error) {
	if problemID == "" {
		return nil, types.ErrInvalidID
	}
	db, release, err := b.conn()
	if err != nil {
		return nil, err
	}
	defer release()

	card, err := scanCard(db.QueryRowContext(ctx,
		"SELECT "+cardColumns+" FROM cards WHERE problem_id = ? AND is_solution = 1", problemID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting solution card: %w", err)
	}
	return card, nil
}

// CreateOrGetSolutionCard returns the existing solution card or inserts
// one. The lookup and insert share a transaction, and the partial unique
// index on (problem_id) WHERE is_solution = 1 backs the single-solution
// rule at the schema level.
func (b *Backend) CreateOrGetSolutionCard(ctx context.Context, problemID string) (*types.Card, error) {
	if problemID == "" {
		return nil, types.ErrInvalidID
	}

	var card *types.Card
	err := b.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanCard(tx.QueryRowContext(ctx,
			"SELECT "+cardColumns+" FROM cards WHERE problem_id = ? AND is_solution = 1", problemID))
		if err == nil {
			card = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("getting solution card: %w", err)
		}
		if err := requireRow(ctx, tx, "SELECT 1 FROM problems WHERE id = ?", problemID); err != nil {
			return err
		}

		now := b.now()
		card = &types.Card{
			ID:           generateUUID(),
			ProblemID:    problemID,
			CardNumber:   types.SolutionCardNumber,
			IsSolution:   true,
			Language:     types.DefaultSolutionLanguage,
			Status:       types.CardStatusInProgress,
			CreatedAt:    now,
			LastModified: now,
		}
		return insertCard(ctx, tx, card)
	})
	if err != nil {
		return nil, err
	}
	return card, nil
}

// UpdateSolutionCode writes code and language of a solution card.
func (b *Backend) UpdateSolutionCode(ctx context.Context, id, code, language string) error {
	if language == "" {
		return types.ErrInvalidLanguage
	}
	return b.updateSolution(ctx, id,
		"UPDATE cards SET code = ?, language = ?, last_modified = ? WHERE id = ? AND is_solution = 1",
		code, language)
}

// UpdateSolutionNotes writes the notes of a solution card.
func (b *Backend) UpdateSolutionNotes(ctx context.Context, id, notes string) error {
	return b.updateSolution(ctx, id,
		"UPDATE cards SET notes = ?, last_modified = ? WHERE id = ? AND is_solution = 1",
		notes)
}

// updateSolution runs query with args followed by last_modified and id.
// A miss reports ErrNotSolutionCard for regular cards and ErrNotFound for
// unknown IDs.
func (b *Backend) updateSolution(ctx context.Context, id, query string, args ...any) error {
	if id == "" {
		return types.ErrInvalidID
	}
	args = append(args, formatTime(b.now()), id)
	return b.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("updating solution card %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		if err := requireRow(ctx, tx, "SELECT 1 FROM cards WHERE id = ?", id); err != nil {
			return err
		}
		return types.ErrNotSolutionCard
	})
}

func insertCard(ctx context.Context, tx *sql.Tx, c *types.Card) error {
	var parent any
	if c.ParentCardID != nil {
		parent = *c.ParentCardID
	}
	isSolution := 0
	if c.IsSolution {
		isSolution = 1
	}
	_, err := tx.ExecContext(ctx,
		"INSERT INTO cards ("+cardColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		c.ID, c.ProblemID, c.CardNumber, c.Code, c.Language, c.Notes, c.Status,
		c.TotalDuration, formatTime(c.CreatedAt), formatTime(c.LastModified), parent, isSolution,
	)
	if err != nil {
		return fmt.Errorf("inserting card: %w", err)
	}
	return nil
}

// requireRow returns ErrNotFound when query yields no row.
func requireRow(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	var one int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking existence: %w", err)
	}
	return nil
}
