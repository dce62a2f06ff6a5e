package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opengantry/gantry/pkg/engine"
)

func newGraphCommand() *cobra.Command {
	var dotFile string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Export the typed resource graph",
		Long: `Build the typed resource graph over the catalog and desired state and
export its nodes and edges, optionally as a DOT document for rendering.`,
		Example: `  # Print the graph document
  gantry graph --json

  # Write a DOT file
  gantry graph --dot graph.dot`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(workDir)
			if err != nil {
				return err
			}
			defer func() { _ = env.Telemetry.Shutdown(cmd.Context()) }()

			graph := engine.NewGraphBuilder(env.Catalog, env.Desired).Build()

			if dotFile != "" {
				if err := os.WriteFile(dotFile, []byte(graph.ToDOT()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s (%d nodes, %d edges)\n", dotFile, len(graph.Nodes), len(graph.Edges))
				return nil
			}

			if jsonOutput {
				document, err := json.MarshalIndent(graph, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(document))
				return nil
			}
			fmt.Print(graph.ToDOT())
			return nil
		},
	}

	cmd.Flags().StringVar(&dotFile, "dot", "", "write a DOT document to this file")

	return cmd
}
