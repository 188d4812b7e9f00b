package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mesh-intelligence/codecards/internal/logging"
	"github.com/mesh-intelligence/codecards/internal/metrics"
	"github.com/mesh-intelligence/codecards/pkg/types"
)

// stuckTransition is how long a transition may run before the guard warns.
const stuckTransition = 5 * time.Second

// Observation is the coordinator state handed to the guard.
type Observation struct {
	Mode           types.Mode  `validate:"required,oneof=regular answer"`
	Phase          types.Phase `validate:"required,oneof=idle transitioning error"`
	ProblemID      string
	CardID         string
	SolutionCardID string
	Editor         types.EditorState

	// Set while a transition is running.
	TransitionTo      types.Mode
	TransitionStarted time.Time

	// InFlight is the target of the save currently executing, if any.
	InFlight *Target `validate:"-"`

	// Optional UI state, checked structurally when present.
	Layout *types.LayoutState  `validate:"-"`
	Backup *types.LayoutBackup `validate:"-"`
}

// Verdict is the outcome of one validation. Errors block CanProceed;
// warnings only clear IsValid.
type Verdict struct {
	IsValid    bool
	CanProceed bool
	Warnings   []string
	Errors     []string
}

func (v *Verdict) warn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}

func (v *Verdict) fail(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// GuardSnapshot is the last state the guard judged safe to return to.
type GuardSnapshot struct {
	Mode           types.Mode
	Phase          types.Phase
	ProblemID      string
	CardID         string
	SolutionCardID string
	Editor         types.EditorState
	CapturedAt     time.Time
}

// Guard checks coordinator invariants and remembers the last good state.
// It never repairs anything by itself.
type Guard struct {
	validate *validator.Validate
	limiter  *rate.Limiter
	now      func() time.Time
	log      *zap.SugaredLogger

	mu       sync.Mutex
	snapshot *GuardSnapshot
}

// NewGuard returns a guard whose Check runs at most once per interval.
func NewGuard(interval time.Duration, log *zap.SugaredLogger) *Guard {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Guard{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		limiter:  rate.NewLimiter(limit, 1),
		now:      time.Now,
		log:      logging.OrNop(log).Named(logging.ComponentGuard),
	}
}

// Validate judges obs. An idle observation that can proceed becomes the
// last known good state.
func (g *Guard) Validate(obs Observation) Verdict {
	var v Verdict

	if err := g.validate.Struct(obs); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				v.fail("%s: failed %s", fe.Field(), fe.Tag())
			}
		} else {
			v.fail("%v", err)
		}
	}
	if obs.Layout != nil {
		if err := obs.Layout.Validate(); err != nil {
			v.fail("%v", err)
		}
	}
	if obs.Backup != nil {
		if err := obs.Backup.Validate(); err != nil {
			v.fail("%v", err)
		}
	}

	switch obs.Phase {
	case types.PhaseIdle:
		if obs.Mode == types.ModeRegular && obs.ProblemID != "" && obs.CardID == "" {
			v.fail("regular mode with no active card")
		}
	case types.PhaseTransitioning:
		if obs.InFlight != nil && obs.InFlight.Mode != obs.Mode {
			v.fail("save to %s document in flight during transition from %s", obs.InFlight.Mode, obs.Mode)
		}
		if !obs.TransitionStarted.IsZero() && g.now().Sub(obs.TransitionStarted) > stuckTransition {
			v.warn("transition to %s running for %s", obs.TransitionTo, g.now().Sub(obs.TransitionStarted).Round(time.Millisecond))
		}
	case types.PhaseError:
		v.fail("transition failed and phase was not reset")
	}
	if obs.Mode == types.ModeAnswer && obs.SolutionCardID == "" {
		v.fail("answer mode with no solution card")
	}
	if (obs.CardID != "" || obs.SolutionCardID != "") && obs.Editor.Language == "" {
		v.warn("editor language is empty")
	}

	v.CanProceed = len(v.Errors) == 0
	v.IsValid = v.CanProceed && len(v.Warnings) == 0

	metrics.RecordGuardVerdict(verdictOutcome(v))
	if v.CanProceed && obs.Phase == types.PhaseIdle {
		g.mu.Lock()
		g.snapshot = &GuardSnapshot{
			Mode:           obs.Mode,
			Phase:          obs.Phase,
			ProblemID:      obs.ProblemID,
			CardID:         obs.CardID,
			SolutionCardID: obs.SolutionCardID,
			Editor:         obs.Editor,
			CapturedAt:     g.now(),
		}
		g.mu.Unlock()
	}
	return v
}

func verdictOutcome(v Verdict) string {
	switch {
	case !v.CanProceed:
		return "invalid"
	case !v.IsValid:
		return "warning"
	default:
		return "valid"
	}
}

// Check validates the observation produced by observe unless a check ran
// within the throttle interval, in which case it returns false and observe
// is not called.
func (g *Guard) Check(observe func() Observation) (Verdict, bool) {
	if !g.limiter.Allow() {
		return Verdict{}, false
	}
	v := g.Validate(observe())
	if !v.CanProceed {
		g.log.Warnw("state diverged", "errors", v.Errors, "warnings", v.Warnings)
	} else if !v.IsValid {
		g.log.Infow("state warnings", "warnings", v.Warnings)
	}
	return v, true
}

// LastKnownGood returns the most recent state that could proceed.
func (g *Guard) LastKnownGood() (GuardSnapshot, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.snapshot == nil {
		return GuardSnapshot{}, false
	}
	return *g.snapshot, true
}

// Recover returns the snapshot to restore. Applying it is the caller's job.
func (g *Guard) Recover() (GuardSnapshot, error) {
	snap, ok := g.LastKnownGood()
	if !ok {
		metrics.RecordGuardRecovery(false)
		return GuardSnapshot{}, types.ErrNoRecoverableSnapshot
	}
	g.log.Infow("recovering state", "mode", snap.Mode, "card", snap.CardID, "captured_at", snap.CapturedAt)
	return snap, nil
}
