package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"cardscan/internal/api"
	"cardscan/internal/apiclient"
	"cardscan/internal/collection"
)

func newCardsCommand(ctx *commandContext) *cobra.Command {
	cardsCmd := &cobra.Command{
		Use:   "cards",
		Short: "Browse and edit the collection",
	}
	cardsCmd.AddCommand(newCardsListCommand(ctx))
	cardsCmd.AddCommand(newCardsAddCommand(ctx))
	cardsCmd.AddCommand(newCardsSetCountCommand(ctx))
	cardsCmd.AddCommand(newCardsDeleteCommand(ctx))
	return cardsCmd
}

func newCardsListCommand(ctx *commandContext) *cobra.Command {
	var stacked bool
	var query apiclient.CardQuery

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cards in the collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				if stacked {
					resp, err := client.ListStacks(cmd.Context(), query)
					if err != nil {
						return err
					}
					return emit(cmd, ctx, resp, func() error {
						printStacks(cmd, resp.Stacks)
						return nil
					})
				}
				resp, err := client.ListCards(cmd.Context(), query)
				if err != nil {
					return err
				}
				return emit(cmd, ctx, resp, func() error {
					printCards(cmd, resp.Cards)
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVar(&stacked, "stacked", false, "Group copies of the same card")
	cmd.Flags().StringVar(&query.Sort, "sort", "", "Sort by name, set, price, count, or recent")
	cmd.Flags().StringVar(&query.Set, "set", "", "Only cards from this set code")
	cmd.Flags().StringVarP(&query.Query, "query", "q", "", "Only cards whose name contains this text")
	return cmd
}

func printCards(cmd *cobra.Command, cards []collection.Card) {
	out := cmd.OutOrStdout()
	if len(cards) == 0 {
		fmt.Fprintln(out, "No cards")
		return
	}
	rows := make([][]string, 0, len(cards))
	total := 0
	for _, card := range cards {
		total += card.Count
		rows = append(rows, []string{
			card.ID,
			card.Name,
			orDash(card.SetCode),
			orDash(card.CollectorNumber),
			strconv.Itoa(card.Count),
			card.Condition,
			formatPrice(card.PriceUSD),
			card.AddedMethod,
		})
	}
	fmt.Fprint(out, renderTable(
		[]string{"ID", "Name", "Set", "No.", "Count", "Cond", "USD", "Added"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
		[]string{"", fmt.Sprintf("%d row(s)", len(cards)), "", "", strconv.Itoa(total)},
	))
}

func printStacks(cmd *cobra.Command, stacks []collection.Stack) {
	out := cmd.OutOrStdout()
	if len(stacks) == 0 {
		fmt.Fprintln(out, "No cards")
		return
	}
	rows := make([][]string, 0, len(stacks))
	for _, stack := range stacks {
		rows = append(rows, []string{
			stack.Name,
			orDash(stack.SetCode),
			orDash(stack.CollectorNumber),
			strconv.Itoa(stack.StackCount),
			strconv.Itoa(stack.TotalCards),
		})
	}
	fmt.Fprint(out, renderTable(
		[]string{"Name", "Set", "No.", "Rows", "Copies"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
		nil,
	))
}

func newCardsAddCommand(ctx *commandContext) *cobra.Command {
	var req api.CardRequest

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a card by hand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]
			return ctx.withClient(func(client *apiclient.Client) error {
				card, err := client.CreateCard(cmd.Context(), req)
				if err != nil {
					return err
				}
				return emit(cmd, ctx, card, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Added %s x%d (%s)\n", card.Name, card.Count, card.ID)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&req.SetCode, "set", "", "Set code")
	cmd.Flags().StringVar(&req.SetName, "set-name", "", "Set name")
	cmd.Flags().StringVar(&req.CollectorNumber, "number", "", "Collector number")
	cmd.Flags().IntVar(&req.Count, "count", 1, "Number of copies")
	cmd.Flags().StringVar(&req.Condition, "condition", "", "Condition ("+strings.Join(collection.Conditions, ", ")+")")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "Free-text notes")
	cmd.Flags().BoolVar(&req.IsExample, "example", false, "Mark as an example card, not owned")
	return cmd
}

func newCardsSetCountCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set-count <card-id> <count>",
		Short: "Change how many copies of a card you own",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := strconv.Atoi(args[1])
			if err != nil || count < 1 {
				return fmt.Errorf("count must be a positive integer, got %q", args[1])
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				card, err := client.UpdateCard(cmd.Context(), args[0], api.CardUpdateRequest{Count: &count})
				if err != nil {
					return err
				}
				return emit(cmd, ctx, card, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "%s now has %d copies\n", card.Name, card.Count)
					return nil
				})
			})
		},
	}
}

func newCardsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <card-id>",
		Short: "Remove a card from the collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				if err := client.DeleteCard(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted card %s\n", args[0])
				return nil
			})
		},
	}
}
