package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/automator/internal/executor"
	httpapi "github.com/nextlevelbuilder/automator/internal/http"
	"github.com/nextlevelbuilder/automator/internal/scheduler"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and control plane",
		Run: func(cmd *cobra.Command, args []string) {
			sv, err := openServices()
			if err != nil {
				fatal(err)
			}
			defer sv.Close()

			if addr != "" {
				sv.cfg.Addr = addr
			}

			sched := scheduler.New(sv.store, func(ctx context.Context, taskID int64) {
				if _, err := sv.executor.Run(ctx, taskID, executor.RunOptions{}); err != nil {
					slog.Error("scheduled run failed", "task", taskID, "error", err)
				}
			})

			sched.SetRetention(sv.cfg.RetentionDays)

			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := sched.Start(ctx); err != nil {
				fatal(err)
			}
			defer sched.Stop()

			server := httpapi.NewServer(sv.cfg, sv.store, sv.vault, sv.executor, sched, Version)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.ListenAndServe(gctx)
			})
			if err := g.Wait(); err != nil {
				fatal(err)
			}
			slog.Info("shutdown complete")
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}
