package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/berrysim/internal/api"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the scoring and run-history HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.API.Port, _ = cmd.Flags().GetInt("port")
			}

			srv := &api.Server{
				Port:      a.cfg.API.Port,
				RateLimit: a.cfg.API.RateLimit,
				Version:   version,
			}

			// ── Dataset ───────────────────────────────────────────────
			if a.cfg.Dataset != "" {
				d, err := a.loadDataset()
				if err != nil {
					return err
				}
				if srv.Objective, err = a.objective(d); err != nil {
					return err
				}
			} else {
				slog.Warn("no dataset configured; score and simulate endpoints are disabled")
			}

			// ── Database ──────────────────────────────────────────────
			db, err := a.openDB()
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
				srv.DB = db
			}

			// ── Start ─────────────────────────────────────────────────
			srv.Start()
			fmt.Fprintf(cmd.OutOrStdout(), "API: http://localhost:%d/api/v1/status\n", a.cfg.API.Port)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			slog.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().Int("port", 0, "Listen port (default from config)")

	return cmd
}
