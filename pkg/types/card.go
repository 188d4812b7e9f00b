package types

import "time"

// Card status values. A card starts in progress; the coordinator never
// changes status on its own.
const (
	CardStatusInProgress = "In Progress"
	CardStatusCompleted  = "Completed"
	CardStatusPaused     = "Paused"
)

// validCardStatuses is the set of recognized card status values.
var validCardStatuses = map[string]bool{
	CardStatusInProgress: true,
	CardStatusCompleted:  true,
	CardStatusPaused:     true,
}

// Default languages for newly created documents.
const (
	DefaultCardLanguage     = "javascript"
	DefaultSolutionLanguage = "java"
)

// SolutionCardNumber is the card number carried by every solution card.
// Regular cards start at 1.
const SolutionCardNumber = 0

// Problem is a coding problem that owns an ordered set of cards.
type Problem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Difficulty  string    `json:"difficulty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Card is one attempt at a problem: a document holding code, notes and a
// language tag. At most one card per problem has IsSolution set; regular
// cards are ordered by CardNumber.
type Card struct {
	ID            string    `json:"id"`
	ProblemID     string    `json:"problem_id"`
	ParentCardID  *string   `json:"parent_card_id,omitempty"`
	CardNumber    int       `json:"card_number"`
	IsSolution    bool      `json:"is_solution"`
	Code          string    `json:"code"`
	Notes         string    `json:"notes"`
	Language      string    `json:"language"`
	Status        string    `json:"status"`
	TotalDuration int       `json:"total_duration"` // seconds
	CreatedAt     time.Time `json:"created_at"`
	LastModified  time.Time `json:"last_modified"`
}

// IsChild reports whether the card was created under another card.
// Only child cards may be deleted.
func (c *Card) IsChild() bool {
	return c.ParentCardID != nil && *c.ParentCardID != ""
}

// EditorState projects the editable fields of the card.
func (c *Card) EditorState() EditorState {
	return EditorState{
		Code:     c.Code,
		Notes:    c.Notes,
		Language: c.Language,
	}
}

// CardUpdate is a partial update: only non-nil fields are written.
type CardUpdate struct {
	Code     *string
	Notes    *string
	Language *string
	Status   *string
}

// IsEmpty reports whether the update carries no fields.
func (u CardUpdate) IsEmpty() bool {
	return u.Code == nil && u.Notes == nil && u.Language == nil && u.Status == nil
}

// Validate checks the fields that have a closed set of values.
func (u CardUpdate) Validate() error {
	if u.Status != nil && !validCardStatuses[*u.Status] {
		return ErrInvalidStatus
	}
	if u.Language != nil && *u.Language == "" {
		return ErrInvalidLanguage
	}
	return nil
}

// Apply copies the non-nil fields of u onto c and refreshes LastModified.
func (u CardUpdate) Apply(c *Card, now time.Time) {
	if u.Code != nil {
		c.Code = *u.Code
	}
	if u.Notes != nil {
		c.Notes = *u.Notes
	}
	if u.Language != nil {
		c.Language = *u.Language
	}
	if u.Status != nil {
		c.Status = *u.Status
	}
	c.LastModified = now
}
