package types

import (
	"fmt"
	"time"
)

// EditorState is an immutable snapshot of one document as shown in the
// editor. Two states are equal when all three fields are equal.
type EditorState struct {
	Code     string `json:"code"`
	Notes    string `json:"notes"`
	Language string `json:"language"`
}

// IsZero reports whether the state has no content at all.
func (s EditorState) IsZero() bool {
	return s == EditorState{}
}

// Field names one editable field of an EditorState.
type Field string

// Editable fields, one auto-save channel each.
const (
	FieldCode     Field = "code"
	FieldNotes    Field = "notes"
	FieldLanguage Field = "language"
)

// Fields lists every editable field in manual-save order.
var Fields = []Field{FieldLanguage, FieldNotes, FieldCode}

// Value returns the value of field f in s.
func (s EditorState) Value(f Field) string {
	switch f {
	case FieldCode:
		return s.Code
	case FieldNotes:
		return s.Notes
	case FieldLanguage:
		return s.Language
	default:
		return ""
	}
}

// With returns a copy of s with field f set to v.
func (s EditorState) With(f Field, v string) EditorState {
	switch f {
	case FieldCode:
		s.Code = v
	case FieldNotes:
		s.Notes = v
	case FieldLanguage:
		s.Language = v
	}
	return s
}

// Mode names which document is bound to the editor.
type Mode string

// Editor modes.
const (
	ModeRegular Mode = "regular"
	ModeAnswer  Mode = "answer"
)

// Other returns the opposite mode.
func (m Mode) Other() Mode {
	if m == ModeAnswer {
		return ModeRegular
	}
	return ModeAnswer
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeRegular || m == ModeAnswer
}

// Phase is the transition phase, orthogonal to Mode.
type Phase string

// Transition phases.
const (
	PhaseIdle          Phase = "idle"
	PhaseTransitioning Phase = "transitioning"
	PhaseError         Phase = "error"
)

// TransitionRecord describes one in-flight mode transition. It lives only
// in memory and only for the duration of that transition.
type TransitionRecord struct {
	From               Mode
	To                 Mode
	StartedAt          time.Time
	EditorStateAtStart EditorState
	Generation         uint64
}

// CacheEntry holds the content of a card across a transition so that late
// synchronization passes cannot overwrite it with stale storage data.
type CacheEntry struct {
	CardID     string
	State      EditorState
	WrittenAt  time.Time
	Generation uint64
}

// ModeChange is delivered to mode listeners after a transition commits or
// a recovery forces a mode.
type ModeChange struct {
	From Mode
	To   Mode
}

// TransitionError reports a failed mode transition. Record carries the
// pre-transition snapshot the editor was rolled back to.
type TransitionError struct {
	Record TransitionRecord
	Err    error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %s -> %s failed: %v", e.Record.From, e.Record.To, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// Is matches ErrTransitionFailed so callers need not know the concrete type.
func (e *TransitionError) Is(target error) bool {
	return target == ErrTransitionFailed
}
