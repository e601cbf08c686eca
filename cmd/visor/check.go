package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AaronLay10/VisorEngine/internal/action"
	"github.com/AaronLay10/VisorEngine/internal/clock"
	"github.com/AaronLay10/VisorEngine/internal/rules"
	"github.com/AaronLay10/VisorEngine/internal/state"
)

func newCheckCmd(root *rootOptions) *cobra.Command {
	var rulesPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a rules file without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rulesPath
			if path == "" {
				path = root.cfg.Reactor.Rules
			}
			if path == "" {
				return fmt.Errorf("no rules file: pass --rules or set reactor.rules")
			}

			store := state.NewStore()
			factory := action.NewFactory(store, clock.Real{}, nil, zap.NewNop())
			set, err := rules.Load(path, factory)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			triggers := make([]string, 0, len(set.Triggers))
			for t := range set.Triggers {
				triggers = append(triggers, t)
			}
			sort.Strings(triggers)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok\n", path)
			fmt.Fprintf(out, "  rules:    %d\n", len(set.Rules))
			fmt.Fprintf(out, "  interval: %s\n", set.Interval)
			for _, t := range triggers {
				fmt.Fprintf(out, "  trigger:  %s (cooldown %s)\n", t, set.Triggers[t])
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&rulesPath, "rules", "r", "", "rules file (defaults to reactor.rules)")
	return cmd
}
