package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newOptimizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Run the two-phase grid search and export the leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flagSpec, flagReload)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			_, err = a.optimize(ctx, nil)
			return err
		},
	}
}
