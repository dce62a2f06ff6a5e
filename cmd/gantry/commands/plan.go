package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/opengantry/gantry/pkg/engine"
	"github.com/opengantry/gantry/pkg/telemetry"
)

func newPlanCommand() *cobra.Command {
	var (
		outFile  string
		useCache bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute the plan from desired to actual state",
		Long: `Compute the diff between the desired state document and the discovered
actual state: packs and extensions to enable or disable, and asset bundles
to install. Each change carries its requirement chain as a root cause.

The plan is cached under a content hash over catalog, desired state, and
the discovered actual state; a cached plan is only reused while that hash
is unchanged.`,
		Example: `  # Compute and print the plan
  gantry plan

  # Write the plan document and reuse a cached plan when state is unchanged
  gantry plan --out plan.json --cache`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(workDir)
			if err != nil {
				return err
			}
			logger := env.Telemetry.Logger.NewComponentLogger("plan")
			ctx := cmd.Context()
			defer func() { _ = env.Telemetry.Shutdown(ctx) }()

			ctx, span := env.Telemetry.Tracer.StartPlanSpan(ctx, env.StateHash)
			defer span.End()

			store, err := openStore(ctx, workDir)
			if err != nil {
				return err
			}
			defer store.Close()

			var plan *engine.Plan
			if useCache {
				if cached, err := store.GetPlanByStateHash(ctx, env.StateHash); err == nil {
					logger.WithPlanID(cached.ID).Debug("Reusing cached plan")
					plan = cached
				}
			}
			if plan == nil {
				started := time.Now()
				plan, err = engine.NewPlanner(env.Catalog).Plan(env.Desired, env.Actual, env.StateHash)
				if err != nil {
					env.Telemetry.Metrics.RecordPlanComputed("error", time.Since(started))
					telemetry.RecordError(span, err)
					return err
				}
				outcome := "changes"
				if plan.IsNoop() {
					outcome = "noop"
				}
				env.Telemetry.Metrics.RecordPlanComputed(outcome, time.Since(started))
				if err := store.SavePlan(ctx, plan); err != nil {
					return err
				}
			}

			if outFile != "" {
				document, err := json.MarshalIndent(plan, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(outFile, document, 0o644); err != nil {
					return err
				}
			}

			if jsonOutput {
				document, err := json.MarshalIndent(plan, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(document))
			} else {
				fmt.Print(engine.RenderSummary(plan))
			}
			for _, warning := range plan.Warnings {
				logger.Warn(warning)
			}
			telemetry.RecordSuccess(span)

			if plan.IsNoop() {
				return nil
			}
			return &StatusError{Code: 2, Message: "changes pending"}
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the plan document to this file")
	cmd.Flags().BoolVar(&useCache, "cache", false, "reuse the cached plan when catalog and desired state are unchanged")

	return cmd
}
