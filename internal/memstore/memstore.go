// Package memstore is an in-memory card store with the same contract as the
// SQLite backend. It serves ephemeral sessions and tests; a hook lets tests
// delay or fail individual calls.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/codecards/pkg/types"
)

// Op names a store operation as seen by hooks and the call log.
type Op string

// Store operations.
const (
	OpGetCard             Op = "GetCard"
	OpListCards           Op = "ListCards"
	OpCreateCard          Op = "CreateCard"
	OpUpdateCard          Op = "UpdateCard"
	OpDeleteCard          Op = "DeleteCard"
	OpGetSolutionCard     Op = "GetSolutionCard"
	OpCreateOrGetSolution Op = "CreateOrGetSolutionCard"
	OpUpdateSolutionCode  Op = "UpdateSolutionCode"
	OpUpdateSolutionNotes Op = "UpdateSolutionNotes"
	OpCreateProblem       Op = "CreateProblem"
	OpGetProblem          Op = "GetProblem"
	OpListProblems        Op = "ListProblems"
)

// Call records one store invocation. Only the fields relevant to Op are set.
type Call struct {
	Op       Op
	ID       string
	Update   types.CardUpdate
	Code     string
	Notes    string
	Language string
}

// IsWrite reports whether the call mutates card content.
func (c Call) IsWrite() bool {
	switch c.Op {
	case OpUpdateCard, OpUpdateSolutionCode, OpUpdateSolutionNotes:
		return true
	}
	return false
}

// Hook runs before every call without the store lock held. A non-nil error
// fails the call without touching state. Hooks may block.
type Hook func(ctx context.Context, call Call) error

// Compile-time interface check.
var _ types.Backend = (*Store)(nil)

// Store is a mutex-guarded map store. The zero value is not usable; call New.
type Store struct {
	mu       sync.Mutex
	attached bool
	problems map[string]types.Problem
	cards    map[string]types.Card
	calls    []Call
	hook     Hook
	now      func() time.Time
}

// New returns an empty, attached store.
func New() *Store {
	return &Store{
		attached: true,
		problems: map[string]types.Problem{},
		cards:    map[string]types.Card{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Attach re-attaches a detached store. Data survives Detach/Attach.
func (s *Store) Attach(config types.Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached {
		return types.ErrAlreadyAttached
	}
	s.attached = true
	return nil
}

// Detach makes every operation fail with ErrStoreDetached. Idempotent.
func (s *Store) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = false
	return nil
}

// SetHook installs h, replacing any previous hook. nil removes it.
func (s *Store) SetHook(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = h
}

// Calls returns a copy of the call log.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Writes returns the logged calls that mutate card content.
func (s *Store) Writes() []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.IsWrite() {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call log.
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// begin logs call, runs the hook and then takes the lock. On success the
// caller must Unlock.
func (s *Store) begin(ctx context.Context, call Call) error {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, call); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.attached {
		s.mu.Unlock()
		return types.ErrStoreDetached
	}
	return nil
}

// newID returns a UUID v7 so IDs sort in creation order.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func cloneCard(c types.Card) types.Card {
	if c.ParentCardID != nil {
		p := *c.ParentCardID
		c.ParentCardID = &p
	}
	return c
}

func (s *Store) GetCard(ctx context.Context, id string) (*types.Card, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	if err := s.begin(ctx, Call{Op: OpGetCard, ID: id}); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	c, ok := s.cards[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	out := cloneCard(c)
	return &out, nil
}

func (s *Store) ListCards(ctx context.Context, problemID string) ([]types.Card, error) {
	if problemID == "" {
		return nil, types.ErrInvalidID
	}
	if err := s.begin(ctx, Call{Op: OpListCards, ID: problemID}); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	out := []types.Card{}
	for _, c := range s.cards {
		if c.ProblemID == problemID && !c.IsSolution {
			out = append(out, cloneCard(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CardNumber < out[j].CardNumber })
	return out, nil
}

func (s *Store) CreateCard(ctx context.Context, problemID, language string, parentID *string) (*types.Card, error) {
	if problemID == "" {
		return nil, types.ErrInvalidID
	}
	if language == "" {
		language = types.DefaultCardLanguage
	}
	if err := s.begin(ctx, Call{Op: OpCreateCard, ID: problemID, Language: language}); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if _, ok := s.problems[problemID]; !ok {
		return nil, types.ErrNotFound
	}
	now := s.now()
	c := types.Card{
		ID:           newID(),
		ProblemID:    problemID,
		CardNumber:   s.nextCardNumber(problemID),
		Language:     language,
		Status:       types.CardStatusInProgress,
		CreatedAt:    now,
		LastModified: now,
	}
	if parentID != nil && *parentID != "" {
		if _, ok := s.cards[*parentID]; !ok {
			return nil, types.ErrNotFound
		}
		p := *parentID
		c.ParentCardID = &p
	}
	s.cards[c.ID] = c
	out := cloneCard(c)
	return &out, nil
}

func (s *Store) nextCardNumber(problemID string) int {
	highest := 0
	for _, c := range s.cards {
		if c.ProblemID == problemID && !c.IsSolution && c.CardNumber > highest {
			highest = c.CardNumber
		}
	}
	return highest + 1
}

func (s *Store) UpdateCard(ctx context.Context, id string, upd types.CardUpdate) (*types.Card, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	if err := upd.Validate(); err != nil {
		return nil, err
	}
	if err := s.begin(ctx, Call{Op: OpUpdateCard, ID: id, Update: upd}); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	c, ok := s.cards[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	upd.Apply(&c, s.now())
	s.cards[id] = c
	out := cloneCard(c)
	return &out, nil
}

func (s *Store) DeleteCard(ctx context.Context, id string) error {
	if id == "" {
		return types.ErrInvalidID
	}
	if err := s.begin(ctx, Call{Op: OpDeleteCard, ID: id}); err != nil {
		return err
	}
	defer s.mu.Unlock()

	c, ok := s.cards[id]
	if !ok {
		return types.ErrNotFound
	}
	if !c.IsChild() {
		return types.ErrCannotDeleteMainCard
	}
	delete(s.cards, id)
	for k, other := range s.cards {
		if other.ParentCardID != nil && *other.ParentCardID == id {
			other.ParentCardID = nil
			s.cards[k] = other
		}
	}
	return nil
}

func (s *Store) solutionLocked(problemID string) (types.Card, bool) {
	for _, c := range s.cards {
		if c.ProblemID == problemID && c.IsSolution {
			return c, true
		}
	}
	return types.Card{}, false
}

func (s *Store) GetSolutionCard(ctx context.Context, problemID string) (*types.Card, error) {
	if problemID == "" {
		return nil, types.ErrInvalidID
	}
	if err := s.begin(ctx, Call{Op: OpGetSolutionCard, ID: problemID}); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	c, ok := s.solutionLocked(problemID)
	if !ok {
		return nil, nil
	}
	out := cloneCard(c)
	return &out, nil
}

func (s *Store) CreateOrGetSolutionCard(ctx context.Context, problemID string) (*types.Card, error) {
	if problemID == "" {
		return nil, types.ErrInvalidID
	}
	if err := s.begin(ctx, Call{Op: OpCreateOrGetSolution, ID: problemID}); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if c, ok := s.solutionLocked(problemID); ok {
		out := cloneCard(c)
		return &out, nil
	}
	if _, ok := s.problems[problemID]; !ok {
		return nil, types.ErrNotFound
	}
	now := s.now()
	c := types.Card{
		ID:           newID(),
		ProblemID:    problemID,
		CardNumber:   types.SolutionCardNumber,
		IsSolution:   true,
		Language:     types.DefaultSolutionLanguage,
		Status:       types.CardStatusInProgress,
		CreatedAt:    now,
		LastModified: now,
	}
	s.cards[c.ID] = c
	out := cloneCard(c)
	return &out, nil
}

func (s *Store) UpdateSolutionCode(ctx context.Context, id, code, language string) error {
	if id == "" {
		return types.ErrInvalidID
	}
	if language == "" {
		return types.ErrInvalidLanguage
	}
	if err := s.begin(ctx, Call{Op: OpUpdateSolutionCode, ID: id, Code: code, Language: language}); err != nil {
		return err
	}
	defer s.mu.Unlock()

	c, err := s.solutionByIDLocked(id)
	if err != nil {
		return err
	}
	c.Code = code
	c.Language = language
	c.LastModified = s.now()
	s.cards[id] = c
	return nil
}

func (s *Store) UpdateSolutionNotes(ctx context.Context, id, notes string) error {
	if id == "" {
		return types.ErrInvalidID
	}
	if err := s.begin(ctx, Call{Op: OpUpdateSolutionNotes, ID: id, Notes: notes}); err != nil {
		return err
	}
	defer s.mu.Unlock()

	c, err := s.solutionByIDLocked(id)
	if err != nil {
		return err
	}
	c.Notes = notes
	c.LastModified = s.now()
	s.cards[id] = c
	return nil
}

func (s *Store) solutionByIDLocked(id string) (types.Card, error) {
	c, ok := s.cards[id]
	if !ok {
		return types.Card{}, types.ErrNotFound
	}
	if !c.IsSolution {
		return types.Card{}, types.ErrNotSolutionCard
	}
	return c, nil
}

func (s *Store) CreateProblem(ctx context.Context, p types.Problem) (*types.Problem, error) {
	if strings.TrimSpace(p.Title) == "" {
		return nil, types.ErrInvalidTitle
	}
	if err := s.begin(ctx, Call{Op: OpCreateProblem, ID: p.ID}); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = newID()
	}
	p.CreatedAt = s.now()
	s.problems[p.ID] = p
	return &p, nil
}

func (s *Store) GetProblem(ctx context.Context, id string) (*types.Problem, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	if err := s.begin(ctx, Call{Op: OpGetProblem, ID: id}); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	p, ok := s.problems[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return &p, nil
}

func (s *Store) ListProblems(ctx context.Context) ([]types.Problem, error) {
	if err := s.begin(ctx, Call{Op: OpListProblems}); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	out := make([]types.Problem, 0, len(s.problems))
	for _, p := range s.problems {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
