package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	workDir    string
	verbose    bool
	jsonOutput bool
)

// StatusError signals a non-default exit code for an otherwise successful
// command: 2 means changes pending or drift detected.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return e.Message
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gantry",
		Short: "Gantry - Local container stack reconciler",
		Long: `Gantry reconciles a local machine's container stack against a declared
desired state.

It resolves pack and asset-bundle dependency closures, diffs desired against
discovered actual state into a plan, renders service descriptors into a
deterministic compose artifact, and classifies drift between the artifact
and what is actually running.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&workDir, "dir", "d", ".", "working directory holding catalog, extensions, and state")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newRenderCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newExplainCommand())
	rootCmd.AddCommand(newDriftCommand())

	return rootCmd
}
