package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/codecards/pkg/types"
)

func newProblemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "problem",
		Short: "Manage problems",
	}
	cmd.AddCommand(newProblemAddCmd())
	cmd.AddCommand(newProblemListCmd())
	return cmd
}

func newProblemAddCmd() *cobra.Command {
	var p types.Problem
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a problem",
		Long: `Add creates a problem with the given title.

Example:
  codecards problem add --title "Two Sum" --difficulty easy`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			created, err := a.backend.CreateProblem(cmd.Context(), p)
			if err != nil {
				return fmt.Errorf("create problem: %w", err)
			}
			if flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), created)
			}
			fmt.Fprintln(cmd.OutOrStdout(), created.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&p.Title, "title", "", "problem title (required)")
	cmd.Flags().StringVar(&p.Description, "description", "", "problem statement")
	cmd.Flags().StringVar(&p.Difficulty, "difficulty", "", "difficulty label")
	cmd.MarkFlagRequired("title")
	return cmd
}

func newProblemListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			problems, err := a.backend.ListProblems(cmd.Context())
			if err != nil {
				return fmt.Errorf("list problems: %w", err)
			}
			out := cmd.OutOrStdout()
			if flags.jsonMode {
				return printJSON(out, problems)
			}
			if len(problems) == 0 {
				fmt.Fprintln(out, "No problems found.")
				return nil
			}
			rows := make([][]string, 0, len(problems))
			for _, p := range problems {
				rows = append(rows, []string{p.ID, truncate(p.Title, 40), p.Difficulty, p.CreatedAt.Format("2006-01-02")})
			}
			printTable(out, []string{"ID", "TITLE", "DIFFICULTY", "CREATED"}, rows)
			fmt.Fprintf(out, "Total: %d problem(s)\n", len(problems))
			return nil
		},
	}
}
