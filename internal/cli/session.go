package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/codecards/internal/session"
	"github.com/mesh-intelligence/codecards/pkg/types"
)

func newSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session <problem-id>",
		Short: "Open an interactive editing session on a problem",
		Long: `Session opens the problem's first card and reads commands from stdin,
one per line. Edits are auto-saved after the configured delays; "save"
writes everything immediately. Type "help" for the command list.`,
		Args: cobra.ExactArgs(1),
		RunE: runSession,
	}
}

func runSession(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.focus.RecoverOnStartup(ctx); err != nil {
		a.log.Warnw("focus recovery", "error", err)
	}

	sess := session.New(a.backend, a.settings.config, session.Options{
		Logger: a.root,
		Focus:  a.focus,
		Layout: a.layouts,
	})
	if err := sess.OpenProblem(ctx, args[0]); err != nil {
		return fmt.Errorf("open problem: %w", err)
	}
	sess.StartGuard(ctx)

	out := cmd.OutOrStdout()
	unsubscribe := sess.OnModeChanged(func(c types.ModeChange) {
		fmt.Fprintf(out, "mode: %s -> %s\n", c.From, c.To)
	})
	defer unsubscribe()

	shellErr := newShell(sess, cmd.InOrStdin(), out).run(ctx)

	// A normal exit leaves focus mode so the next start does not mistake
	// it for a crash.
	if a.focus.IsActive() {
		if err := a.focus.Exit(ctx); err != nil {
			a.log.Warnw("leaving focus mode", "error", err)
		}
	}
	if err := sess.Close(ctx); err != nil {
		return err
	}
	return shellErr
}

// shell is the line-oriented front end of a Session.
type shell struct {
	sess *session.Session
	in   *bufio.Scanner
	out  io.Writer
}

func newShell(sess *session.Session, in io.Reader, out io.Writer) *shell {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	return &shell{sess: sess, in: sc, out: out}
}

// errQuit ends the read loop.
var errQuit = errors.New("quit")

// run reads commands until EOF, "quit" or ctx is done. Command errors are
// printed and the loop continues; only input errors are returned.
func (sh *shell) run(ctx context.Context) error {
	sh.status()
	for {
		fmt.Fprint(sh.out, "> ")
		if !sh.in.Scan() {
			fmt.Fprintln(sh.out)
			return sh.in.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		err := sh.exec(ctx, sh.in.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(sh.out, "error: %v\n", err)
		}
	}
}

func (sh *shell) exec(ctx context.Context, line string) error {
	name, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "":
		return nil
	case "help", "?":
		sh.help()
	case "quit", "exit", "q":
		return errQuit
	case "show", "s":
		sh.show()
	case "status":
		sh.status()
	case "cards":
		sh.cards()
	case "code":
		return sh.sess.EditCode(unescape(rest))
	case "notes":
		return sh.sess.EditNotes(unescape(rest))
	case "lang", "language":
		if rest == "" {
			return types.ErrInvalidLanguage
		}
		return sh.sess.EditLanguage(rest)
	case "toggle", "t":
		ok, err := sh.sess.ToggleMode(ctx)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(sh.out, "busy, toggle ignored")
		}
	case "next", "n":
		return sh.navigate(ctx, session.Next)
	case "prev", "p":
		return sh.navigate(ctx, session.Prev)
	case "save", "w":
		if err := sh.sess.ManualSave(ctx); err != nil {
			return err
		}
		fmt.Fprintln(sh.out, "saved")
	case "new":
		if _, err := sh.sess.NewCard(ctx); err != nil {
			return err
		}
		sh.status()
	case "delete":
		if err := sh.sess.DeleteCard(ctx); err != nil {
			return err
		}
		sh.status()
	case "refresh":
		return sh.sess.Refresh(ctx)
	case "focus":
		on, err := sh.sess.ToggleFocusMode(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "focus mode: %s\n", onOff(on))
	case "check":
		sh.check()
	case "recover":
		snap, err := sh.sess.RecoverState(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "restored state from %s\n", snap.CapturedAt.Format("15:04:05"))
		sh.status()
	default:
		return fmt.Errorf("unknown command %q (try help)", name)
	}
	return nil
}

func (sh *shell) navigate(ctx context.Context, dir session.Direction) error {
	if _, err := sh.sess.NavigateCard(ctx, dir); err != nil {
		return err
	}
	sh.status()
	return nil
}

// status prints a one-line summary of the bound document.
func (sh *shell) status() {
	card, ok := sh.sess.ActiveCard()
	if !ok {
		fmt.Fprintln(sh.out, "no card")
		return
	}
	_, index := sh.sess.Cards()
	label := cardLabel(card)
	if sh.sess.Mode() == types.ModeAnswer {
		label = fmt.Sprintf("solution (from card %d)", card.CardNumber)
	}
	state := sh.sess.CurrentEditorState()
	line := fmt.Sprintf("[%s] %s #%d, %s", sh.sess.Mode(), label, index+1, state.Language)
	if dirty := sh.sess.Dirty(); len(dirty) > 0 {
		line += fmt.Sprintf(", unsaved: %v", dirty)
	}
	fmt.Fprintln(sh.out, line)
}

func (sh *shell) show() {
	sh.status()
	state := sh.sess.CurrentEditorState()
	fmt.Fprintln(sh.out, "--- code")
	fmt.Fprintln(sh.out, state.Code)
	fmt.Fprintln(sh.out, "--- notes")
	fmt.Fprintln(sh.out, state.Notes)
}

func (sh *shell) cards() {
	cards, index := sh.sess.Cards()
	for i, c := range cards {
		marker := " "
		if i == index {
			marker = "*"
		}
		fmt.Fprintf(sh.out, "%s %-10s %-12s %s\n", marker, cardLabel(c), c.Language, c.ID)
	}
}

func (sh *shell) check() {
	v := sh.sess.Validate()
	fmt.Fprintf(sh.out, "valid=%t proceed=%t\n", v.IsValid, v.CanProceed)
	for _, e := range v.Errors {
		fmt.Fprintf(sh.out, "  error: %s\n", e)
	}
	for _, w := range v.Warnings {
		fmt.Fprintf(sh.out, "  warning: %s\n", w)
	}
}

func (sh *shell) help() {
	fmt.Fprint(sh.out, `commands:
  show | s          print the bound document
  status            one-line summary
  cards             list the problem's cards
  code <text>       replace the code (\n for newline)
  notes <text>      replace the notes (\n for newline)
  lang <name>       change the language
  toggle | t        switch between the card and the solution
  next | n          next card
  prev | p          previous card
  save | w          save everything now
  new               new child card of the current card
  delete            delete the current child card
  refresh           reload the document from storage
  focus             toggle focus mode
  check             run the consistency check
  recover           restore the last consistent state
  quit | q          save and leave
`)
}

func unescape(s string) string {
	return strings.NewReplacer(`\n`, "\n", `\t`, "\t").Replace(s)
}
