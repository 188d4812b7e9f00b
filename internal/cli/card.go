package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/codecards/pkg/types"
)

func newCardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "card",
		Short: "Manage the cards of a problem",
	}
	cmd.AddCommand(newCardListCmd())
	cmd.AddCommand(newCardNewCmd())
	cmd.AddCommand(newCardDeleteCmd())
	return cmd
}

func newCardListCmd() *cobra.Command {
	var withSolution bool
	cmd := &cobra.Command{
		Use:   "list <problem-id>",
		Short: "List the cards of a problem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			cards, err := a.backend.ListCards(ctx, args[0])
			if err != nil {
				return fmt.Errorf("list cards: %w", err)
			}
			if withSolution {
				sol, err := a.backend.GetSolutionCard(ctx, args[0])
				if err != nil {
					return fmt.Errorf("get solution card: %w", err)
				}
				if sol != nil {
					cards = append(cards, *sol)
				}
			}

			out := cmd.OutOrStdout()
			if flags.jsonMode {
				return printJSON(out, cards)
			}
			if len(cards) == 0 {
				fmt.Fprintln(out, "No cards found.")
				return nil
			}
			rows := make([][]string, 0, len(cards))
			for _, c := range cards {
				number := strconv.Itoa(c.CardNumber)
				if c.IsSolution {
					number = "solution"
				} else if c.IsChild() {
					number += " (child)"
				}
				rows = append(rows, []string{c.ID, number, c.Language, c.Status, c.LastModified.Format("2006-01-02 15:04")})
			}
			printTable(out, []string{"ID", "CARD", "LANGUAGE", "STATUS", "MODIFIED"}, rows)
			fmt.Fprintf(out, "Total: %d card(s)\n", len(cards))
			return nil
		},
	}
	cmd.Flags().BoolVar(&withSolution, "solution", false, "include the solution card")
	return cmd
}

func newCardNewCmd() *cobra.Command {
	var (
		language string
		parent   string
	)
	cmd := &cobra.Command{
		Use:   "new <problem-id>",
		Short: "Append a card to a problem",
		Long: `New appends a regular card to the problem. With --parent the card is a
child of that card and may later be deleted.

Example:
  codecards card new 0190a3c2-... --language go
  codecards card new 0190a3c2-... --parent 0190a3c5-...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			if language == "" {
				language = a.settings.config.GetDefaultLanguage()
			}
			var parentID *string
			if parent != "" {
				parentID = &parent
			}
			card, err := a.backend.CreateCard(cmd.Context(), args[0], language, parentID)
			if err != nil {
				return fmt.Errorf("create card: %w", err)
			}
			if flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), card)
			}
			fmt.Fprintln(cmd.OutOrStdout(), card.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&language, "language", "", "card language (default: config default_language)")
	cmd.Flags().StringVar(&parent, "parent", "", "parent card id")
	return cmd
}

func newCardDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <card-id>",
		Short: "Delete a child card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.backend.DeleteCard(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete card: %w", err)
			}
			if !flags.jsonMode {
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"deleted": args[0]})
		},
	}
}

// cardLabel names a card for prompts and status lines.
func cardLabel(c types.Card) string {
	if c.IsSolution {
		return "solution"
	}
	return fmt.Sprintf("card %d", c.CardNumber)
}
