package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ophirlabs/ophir/internal/optimizer"
	"github.com/ophirlabs/ophir/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve run artifacts over HTTP with live optimization progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flagSpec, flagReload)
			if err != nil {
				return err
			}

			srv := server.New(server.Config{
				Port:         a.cfg.Port,
				ArtifactsDir: filepath.Join(a.cfg.DataDir, "artifacts"),
				CronSchedule: a.cfg.CronSchedule,
				Log:          a.log,
				Run: func(ctx context.Context, progress optimizer.ProgressFunc) (*optimizer.RunReport, error) {
					return a.optimize(ctx, progress)
				},
			})

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
