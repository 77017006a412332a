package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mehebubhossain/apex-mdapi/internal/daemon"
	"github.com/mehebubhossain/apex-mdapi/internal/logging"
	"github.com/mehebubhossain/apex-mdapi/internal/manifest"
	"github.com/mehebubhossain/apex-mdapi/internal/store"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var nameFlag string

	cmd := &cobra.Command{
		Use:   "run <manifest>",
		Short: "Submit a batch manifest and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			m, err := manifest.Load(args[0])
			if err != nil {
				return err
			}
			name := strings.TrimSpace(nameFlag)
			if name == "" {
				name = m.Name
			}

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			ops, err := ctx.soapOperations()
			if err != nil {
				return err
			}

			st, err := store.Open(cfg)
			if err != nil {
				return fmt.Errorf("open batch store: %w", err)
			}
			defer st.Close()

			d, err := daemon.New(cfg, st, ops, logger)
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}
			defer d.Close()

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := d.Start(signalCtx); err != nil {
				return err
			}
			defer d.Stop()

			created, err := d.CreateBatch(signalCtx, name, m.Items)
			if err != nil {
				return fmt.Errorf("create batch: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted batch %s (%d items)\n", created.ID, len(created.Items))

			final, err := d.WaitForBatch(signalCtx, created.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderBatchItems(final))
			counts := final.Counts()
			fmt.Fprintf(out, "Batch %s: %d succeeded, %d failed\n", final.ID, counts.Succeeded, counts.Failed)
			if counts.Failed > 0 {
				return fmt.Errorf("%d of %d items failed", counts.Failed, counts.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&nameFlag, "name", "", "Override the batch name from the manifest")
	return cmd
}
