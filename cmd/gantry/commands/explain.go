package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opengantry/gantry/pkg/engine"
)

func newExplainCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explain <type:name>",
		Short: "Explain why a resource is required",
		Long: `Answer "why is this resource required?" by finding the shortest
requirement chain from the resource back to the desired state.

A resource with no chain is unreferenced by the desired state; that is
informational, not an error.`,
		Example: `  gantry explain service:qdrant
  gantry explain pack:core_services
  gantry explain model:sd15`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typeName, name, ok := strings.Cut(args[0], ":")
			if !ok || typeName == "" || name == "" {
				return fmt.Errorf("argument must be type:name, got %q", args[0])
			}
			nodeType := engine.NodeType(typeName)
			if err := nodeType.Validate(); err != nil {
				return err
			}

			env, err := loadEnvironment(workDir)
			if err != nil {
				return err
			}
			defer func() { _ = env.Telemetry.Shutdown(cmd.Context()) }()

			graph := engine.NewGraphBuilder(env.Catalog, env.Desired).Build()
			explanation, rerr := graph.Explain(nodeType, name)
			if rerr != nil {
				return rerr
			}

			if jsonOutput {
				document, err := json.MarshalIndent(explanation, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(document))
				return nil
			}
			fmt.Println(explanation.Render())
			return nil
		},
	}

	return cmd
}
