package main

import (
	"github.com/spf13/cobra"

	"github.com/AaronLay10/VisorEngine/internal/config"
	"github.com/AaronLay10/VisorEngine/internal/observability"
	"github.com/AaronLay10/VisorEngine/internal/version"
)

type rootOptions struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "visor",
		Short:         "Reactive rule engine for screen-driven automation",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if opts.configPath != "" {
				loaded, err := config.Load(opts.configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			opts.cfg = cfg
			observability.InitializeStdout(cfg.Logger)
			return nil
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to visor.yaml")

	cmd.AddCommand(
		newRunCmd(opts),
		newCheckCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println(version.String())
			return nil
		},
	}
}
