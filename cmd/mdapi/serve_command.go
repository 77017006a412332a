package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mehebubhossain/apex-mdapi/internal/daemon"
	"github.com/mehebubhossain/apex-mdapi/internal/logging"
	"github.com/mehebubhossain/apex-mdapi/internal/preflight"
	"github.com/mehebubhossain/apex-mdapi/internal/store"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the batch daemon and HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			results := preflight.RunAll(signalCtx, cfg)
			failed := 0
			for _, result := range results {
				if !result.Passed {
					failed++
					logger.Warn("preflight check failed",
						logging.String("check", result.Name),
						logging.String("detail", result.Detail),
					)
				}
			}
			if failed > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d preflight check(s) failed; run `mdapi preflight` for details\n", failed)
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

			if err := d.Start(signalCtx); err != nil {
				return err
			}
			defer d.Stop()

			if addr := d.APIAddr(); addr != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "mdapi daemon listening on %s\n", addr)
			}

			<-signalCtx.Done()
			logger.Info("mdapi daemon shutting down")
			return nil
		},
	}
}
