package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/VisorEngine/internal/app"
	"github.com/AaronLay10/VisorEngine/internal/clock"
	"github.com/AaronLay10/VisorEngine/internal/observability"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var (
		rulesPath string
		mock      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the reactive engine until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			if rulesPath != "" {
				cfg.Reactor.Rules = rulesPath
			}
			if mock {
				cfg.Reactor.Mock = true
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := app.New(ctx, cfg, clock.Real{}, observability.GetLogger())
			if err != nil {
				return err
			}
			return svc.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&rulesPath, "rules", "r", "", "rules file (overrides reactor.rules)")
	cmd.Flags().BoolVar(&mock, "mock", false, "log rule selections without executing actions")
	return cmd
}
