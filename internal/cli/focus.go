package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/codecards/pkg/types"
)

func newFocusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "focus",
		Short: "Inspect and control focus mode",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show focus mode and the current layout",
		Args:  cobra.NoArgs,
		RunE:  runFocusStatus,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "recover",
		Short: "Repair focus state left by an abnormal exit",
		Long:  "Recover restores the layout saved when focus mode was entered, or the\ndefault layout if the saved one is unusable, and clears the focus state.\nThe session shell does the same when it starts.",
		Args:  cobra.NoArgs,
		RunE:  runFocusRecover,
	})
	return cmd
}

type focusStatus struct {
	Active  bool              `json:"active"`
	SavedAt string            `json:"saved_at,omitempty"`
	Layout  types.LayoutState `json:"layout"`
}

func runFocusStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	st := a.focus.State()
	status := focusStatus{
		Active: st.IsActive,
		Layout: a.layouts.Current(),
	}
	if st.SavedState != nil {
		status.SavedAt = st.SavedState.Timestamp.Format("2006-01-02 15:04:05")
	}

	out := cmd.OutOrStdout()
	if flags.jsonMode {
		return printJSON(out, status)
	}
	l := status.Layout
	fmt.Fprintf(out, "focus mode: %s\n", onOff(status.Active))
	if status.SavedAt != "" {
		fmt.Fprintf(out, "saved layout from %s\n", status.SavedAt)
	}
	fmt.Fprintf(out, "problem panel: %.0f%% collapsed=%t\n", l.Layout.ProblemPanelWidth, l.Layout.ProblemPanelCollapsed)
	fmt.Fprintf(out, "editor: %.0f%%  notes: %.0f%% collapsed=%t\n", l.Layout.EditorHeight, l.Layout.NotesHeight, l.Layout.NotesCollapsed)
	fmt.Fprintf(out, "timer=%s recorder=%s notes=%s\n", onOff(l.UI.ShowTimer), onOff(l.UI.ShowRecorder), onOff(l.UI.ShowNotes))
	fmt.Fprintf(out, "theme=%s font=%d\n", l.Preferences.Theme, l.Preferences.FontSize)
	return nil
}

func runFocusRecover(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.focus.RecoverOnStartup(cmd.Context()); err != nil {
		return systemError("recover focus state: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "focus mode: %s\n", onOff(a.focus.IsActive()))
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
