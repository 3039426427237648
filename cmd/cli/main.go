package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"hypoguard/internal/config"
)

// cliState is shared by every subcommand once the root has loaded config.
type cliState struct {
	cfg    *config.Config
	output string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	state := &cliState{}

	rootCmd := &cobra.Command{
		Use:   "hypoguard",
		Short: "Offline multiple-testing corrections, sequential boundaries and session risk checks",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env file is fine; the environment still applies
			_ = godotenv.Load()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if _, err := parseOutput(state.output); err != nil {
				return err
			}
			state.cfg = cfg
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&state.output, "output", "o", string(outputTable), "Output format: table|json|yaml")

	rootCmd.AddCommand(
		newCorrectCmd(state),
		newBoundariesCmd(state),
		newRiskCmd(state),
		newReportCmd(state),
	)
	return rootCmd
}
