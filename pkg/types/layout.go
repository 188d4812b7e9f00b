package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// validate is shared by every schema check in this package. Validator
// instances cache struct metadata and are safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Layout holds panel geometry. Sizes are percentages of the window.
type Layout struct {
	ProblemPanelWidth     float64 `json:"problemPanelWidth" validate:"gte=0,lte=100"`
	EditorHeight          float64 `json:"editorHeight" validate:"gte=0,lte=100"`
	NotesHeight           float64 `json:"notesHeight" validate:"gte=0,lte=100"`
	ProblemPanelCollapsed bool    `json:"problemPanelCollapsed"`
	NotesCollapsed        bool    `json:"notesCollapsed"`
}

// UIState holds which auxiliary panels are visible.
type UIState struct {
	ShowTimer    bool   `json:"showTimer"`
	ShowRecorder bool   `json:"showRecorder"`
	ShowNotes    bool   `json:"showNotes"`
	ActivePanel  string `json:"activePanel"`
}

// Preferences holds editor preferences.
type Preferences struct {
	Theme           string `json:"theme" validate:"required"`
	FontSize        int    `json:"fontSize" validate:"gte=8,lte=72"`
	WordWrap        bool   `json:"wordWrap"`
	ShowLineNumbers bool   `json:"showLineNumbers"`
}

// LayoutState is the complete layout/ui/preferences slice of application
// state that focus mode snapshots and restores.
type LayoutState struct {
	Layout      Layout      `json:"layout"`
	UI          UIState     `json:"ui"`
	Preferences Preferences `json:"preferences"`
}

// DefaultLayoutState returns the layout used on first run and whenever a
// persisted layout cannot be read.
func DefaultLayoutState() LayoutState {
	return LayoutState{
		Layout: Layout{
			ProblemPanelWidth: 35,
			EditorHeight:      70,
			NotesHeight:       30,
		},
		UI: UIState{
			ShowTimer:    true,
			ShowRecorder: true,
			ShowNotes:    true,
			ActivePanel:  "editor",
		},
		Preferences: Preferences{
			Theme:           "dark",
			FontSize:        14,
			WordWrap:        false,
			ShowLineNumbers: true,
		},
	}
}

// Validate checks field ranges. It returns an error wrapping
// ErrInvalidLayout that lists every failing field.
func (s LayoutState) Validate() error {
	return schemaError(ErrInvalidLayout, validate.Struct(s))
}

// LayoutBackup is the snapshot taken when focus mode is entered. Every
// sub-object is required; a backup missing one cannot be restored.
type LayoutBackup struct {
	Layout      *Layout      `json:"layout" validate:"required"`
	UI          *UIState     `json:"ui" validate:"required"`
	Preferences *Preferences `json:"preferences" validate:"required"`
	Timestamp   time.Time    `json:"timestamp" validate:"required"`
}

// Validate checks structure and field ranges. It returns an error wrapping
// ErrInvalidBackup that lists every failing field.
func (b *LayoutBackup) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: backup is nil", ErrInvalidBackup)
	}
	return schemaError(ErrInvalidBackup, validate.Struct(b))
}

// Restore returns the LayoutState the backup describes. The backup must
// have passed Validate.
func (b *LayoutBackup) Restore() LayoutState {
	return LayoutState{
		Layout:      *b.Layout,
		UI:          *b.UI,
		Preferences: *b.Preferences,
	}
}

// FocusState is the persisted focus-mode record. SavedState is non-nil only
// while focus mode is active.
type FocusState struct {
	IsActive   bool          `json:"isActive"`
	SavedState *LayoutBackup `json:"savedState,omitempty"`
}

// FocusDirection labels a focus-mode performance sample.
type FocusDirection string

// Focus-mode sample directions.
const (
	FocusEnter   FocusDirection = "enter"
	FocusExit    FocusDirection = "exit"
	FocusRecover FocusDirection = "recover"
)

// PerformanceMetric is one diagnostic sample of a focus-mode operation.
type PerformanceMetric struct {
	Timestamp time.Time      `json:"timestamp"`
	Elapsed   time.Duration  `json:"elapsed"`
	Direction FocusDirection `json:"direction"`
	Success   bool           `json:"success"`
}

// schemaError converts validator output into a sentinel-wrapping error.
func schemaError(sentinel, err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", sentinel, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", sentinel, strings.Join(fields, "; "))
}
