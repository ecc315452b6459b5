package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"murmur/internal/deps"
)

func newDoctorCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check external binaries and configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			failures := 0
			for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
				if status.Available {
					fmt.Fprintf(out, "ok   %s (%s)\n", status.Name, status.Command)
					continue
				}
				failures++
				fmt.Fprintf(out, "fail %s: %s\n", status.Name, status.Detail)
			}
			if failures > 0 {
				return fmt.Errorf("%d dependency check(s) failed", failures)
			}
			fmt.Fprintln(out, "All checks passed.")
			return nil
		},
	}
}
