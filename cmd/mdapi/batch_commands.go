package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mehebubhossain/apex-mdapi/internal/batch"
	"github.com/mehebubhossain/apex-mdapi/internal/store"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Inspect stored batches",
	}
	batchCmd.AddCommand(newBatchListCommand(ctx))
	batchCmd.AddCommand(newBatchShowCommand(ctx))
	return batchCmd
}

func newBatchListCommand(ctx *commandContext) *cobra.Command {
	var stateFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg)
			if err != nil {
				return fmt.Errorf("open batch store: %w", err)
			}
			defer st.Close()

			var states []batch.State
			if trimmed := strings.TrimSpace(stateFlag); trimmed != "" {
				state, ok := batch.ParseState(trimmed)
				if !ok {
					return fmt.Errorf("unknown state %q", trimmed)
				}
				states = append(states, state)
			}

			batches, err := st.ListBatches(cmd.Context(), states...)
			if err != nil {
				return err
			}
			if len(batches) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No batches found")
				return nil
			}

			headers := []string{"ID", "Name", "State", "Done", "Failed", "Created"}
			rows := make([][]string, 0, len(batches))
			for _, b := range batches {
				counts := b.Counts()
				rows = append(rows, []string{
					b.ID,
					b.Name,
					string(b.State),
					formatCounts(counts),
					fmt.Sprintf("%d", counts.Failed),
					b.CreatedAt.Local().Format(time.RFC3339),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft}))
			return nil
		},
	}

	cmd.Flags().StringVar(&stateFlag, "state", "", "Filter by batch state (running, awaiting_next_pass, completed)")
	return cmd
}

func newBatchShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <batch-id>",
		Short: "Show one batch and its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg)
			if err != nil {
				return fmt.Errorf("open batch store: %w", err)
			}
			defer st.Close()

			b, err := st.GetBatch(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Batch:   %s\n", b.ID)
			fmt.Fprintf(out, "Name:    %s\n", b.Name)
			fmt.Fprintf(out, "State:   %s\n", colorizeOutcome(out, string(b.State)))
			fmt.Fprintf(out, "Created: %s\n", b.CreatedAt.Local().Format(time.RFC3339))
			if b.CompletedAt != nil {
				fmt.Fprintf(out, "Completed: %s\n", b.CompletedAt.Local().Format(time.RFC3339))
			}
			fmt.Fprintln(out, renderBatchItems(b))
			return nil
		},
	}
}
