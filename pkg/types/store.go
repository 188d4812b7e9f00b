package types

import (
	"context"
	"errors"
)

// CardStore is the durable card storage the session coordinator consumes.
// Every method may fail; callers must treat each call as fallible.
type CardStore interface {
	// GetCard returns the card with the given ID.
	// Returns ErrNotFound if no card exists with that ID.
	GetCard(ctx context.Context, id string) (*Card, error)

	// ListCards returns the regular (non-solution) cards of a problem,
	// ordered by card number.
	ListCards(ctx context.Context, problemID string) ([]Card, error)

	// CreateCard appends a regular card to the problem. An empty language
	// selects DefaultCardLanguage. parentID marks the card as a child.
	CreateCard(ctx context.Context, problemID, language string, parentID *string) (*Card, error)

	// UpdateCard writes the non-nil fields of upd and returns the updated card.
	UpdateCard(ctx context.Context, id string, upd CardUpdate) (*Card, error)

	// DeleteCard removes a child card. Main cards cannot be deleted and
	// return ErrCannotDeleteMainCard.
	DeleteCard(ctx context.Context, id string) error

	// GetSolutionCard returns the problem's solution card, or (nil, nil)
	// when the problem has none.
	GetSolutionCard(ctx context.Context, problemID string) (*Card, error)

	// CreateOrGetSolutionCard returns the existing solution card or creates
	// one. Never creates a second solution card for the same problem.
	CreateOrGetSolutionCard(ctx context.Context, problemID string) (*Card, error)

	// UpdateSolutionCode writes code and language of a solution card.
	UpdateSolutionCode(ctx context.Context, id, code, language string) error

	// UpdateSolutionNotes writes the notes of a solution card.
	UpdateSolutionNotes(ctx context.Context, id, notes string) error
}

// ProblemStore manages the problems that own cards.
type ProblemStore interface {
	CreateProblem(ctx context.Context, p Problem) (*Problem, error)
	GetProblem(ctx context.Context, id string) (*Problem, error)
	ListProblems(ctx context.Context) ([]Problem, error)
}

// Store is a complete storage backend.
type Store interface {
	CardStore
	ProblemStore
}

// Backend is a Store with an attach/detach lifecycle. Operations on a
// detached backend return ErrStoreDetached.
type Backend interface {
	Store
	Attach(config Config) error
	Detach() error
}

// KVStore is the local key-value store for JSON-serializable UI state.
type KVStore interface {
	// Get decodes the value stored under key into out. It returns false
	// when the key is absent and ErrCorruptValue when the stored bytes
	// cannot be decoded.
	Get(key string, out any) (bool, error)

	// Put encodes v and stores it under key, replacing any previous value.
	Put(key string, v any) error

	// Delete removes key. Deleting an absent key succeeds.
	Delete(key string) error
}

// Storage errors.
var (
	ErrNotFound             = errors.New("entity not found")
	ErrInvalidID            = errors.New("invalid entity ID")
	ErrInvalidStatus        = errors.New("invalid card status")
	ErrInvalidLanguage      = errors.New("language must not be empty")
	ErrInvalidTitle         = errors.New("problem title must not be empty")
	ErrCannotDeleteMainCard = errors.New("only child cards can be deleted")
	ErrNotSolutionCard      = errors.New("card is not a solution card")
	ErrStoreDetached        = errors.New("store is detached")
	ErrAlreadyAttached      = errors.New("store is already attached")
	ErrCorruptValue         = errors.New("stored value is corrupt")
	ErrInvalidKey           = errors.New("invalid local store key")
)

// Session errors.
var (
	ErrNoProblemOpen         = errors.New("no problem is open")
	ErrNoActiveCard          = errors.New("no active card")
	ErrTransitionInProgress  = errors.New("mode transition in progress")
	ErrTransitionRejected    = errors.New("mode transition rejected")
	ErrTransitionFailed      = errors.New("mode transition failed")
	ErrNoTransition          = errors.New("no transition in progress")
	ErrNoRecoverableSnapshot = errors.New("no recoverable snapshot")
	ErrEndOfCards            = errors.New("no card in that direction")
	ErrSessionClosed         = errors.New("session is closed")
)

// Layout and focus-mode errors.
var (
	ErrInvalidLayout = errors.New("invalid layout state")
	ErrInvalidBackup = errors.New("invalid layout backup")
	ErrFocusActive   = errors.New("focus mode is already active")
	ErrFocusInactive = errors.New("focus mode is not active")
	ErrFocusDisabled = errors.New("focus mode is not available")
)
