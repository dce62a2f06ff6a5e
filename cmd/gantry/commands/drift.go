package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opengantry/gantry/pkg/engine"
	"github.com/opengantry/gantry/pkg/runtime"
	"github.com/opengantry/gantry/pkg/stores"
	"github.com/opengantry/gantry/pkg/telemetry"
)

func newDriftCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Detect and reconcile drift against the running stack",
		Long: `Compare the desired service set and its recorded content hashes against
the containers actually running, and optionally apply corrective actions.`,
	}

	cmd.AddCommand(newDriftDetectCommand())
	cmd.AddCommand(newDriftReconcileCommand())

	return cmd
}

func newDriftDetectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Classify every desired and running service",
		Long: `Classify each service as missing, stopped, hash-drifted, extra, or in
sync. When the runtime query fails every status is reported unknown rather
than assumed.

Exit code 0 means clean, 2 means drift was detected.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := loadEnvironment(workDir)
			if err != nil {
				return err
			}
			logger := env.Telemetry.Logger.NewComponentLogger("drift")
			defer func() { _ = env.Telemetry.Shutdown(ctx) }()

			report, rt, err := detectDrift(ctx, env, workDir)
			if rt != nil {
				defer rt.Close()
			}
			if err != nil {
				env.Telemetry.Metrics.RecordDriftDetection("unknown")
				return err
			}
			for _, item := range report.Items {
				env.Telemetry.Metrics.RecordDriftClassification(string(item.Class))
			}

			if jsonOutput {
				document, merr := json.MarshalIndent(report, "", "  ")
				if merr != nil {
					return merr
				}
				fmt.Println(string(document))
			} else {
				printDriftReport(report)
			}

			if report.Clean() {
				env.Telemetry.Metrics.RecordDriftDetection("clean")
				logger.Info("No drift detected")
				return nil
			}
			env.Telemetry.Metrics.RecordDriftDetection("dirty")
			return &StatusError{Code: 2, Message: "drift detected"}
		},
	}

	return cmd
}

func newDriftReconcileCommand() *cobra.Command {
	var (
		apply         bool
		removeOrphans bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Apply corrective actions for detected drift",
		Long: `Compute corrective actions (create missing, restart stopped, recreate
hash-drifted, optionally remove extra) and apply them.

Without --apply the actions are only reported. Actions are independent; a
failure in one does not roll back the others.`,
		Example: `  # Report the corrective actions without executing them
  gantry drift reconcile

  # Execute, removing services no longer desired
  gantry drift reconcile --apply --remove-orphans`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := loadEnvironment(workDir)
			if err != nil {
				return err
			}
			logger := env.Telemetry.Logger.NewComponentLogger("drift")
			defer func() { _ = env.Telemetry.Shutdown(ctx) }()

			report, rt, err := detectDrift(ctx, env, workDir)
			if rt != nil {
				defer rt.Close()
			}
			if err != nil {
				return err
			}

			// The desired-state toggle applies unless overridden on the
			// command line.
			if !cmd.Flags().Changed("remove-orphans") {
				removeOrphans = env.Desired.Runtime.RemoveOrphans
			}
			actions := engine.CorrectiveActions(report, removeOrphans)
			if len(actions) == 0 {
				logger.Info("Nothing to reconcile")
				return nil
			}

			mode := engine.ModePlan
			if apply {
				mode = engine.ModeApply
			}
			results := engine.NewReconciler(env.Catalog, rt).Apply(ctx, actions, mode)

			failed := 0
			for _, result := range results {
				outcome := "ok"
				if result.Error != "" {
					outcome = "error"
					failed++
					logger.WithService(result.Action.Service).
						WithField("action", result.Action.Type).
						Errorf("Corrective action failed: %s", result.Error)
				}
				env.Telemetry.Metrics.RecordCorrectiveAction(string(result.Action.Type), outcome)
			}

			if jsonOutput {
				document, merr := json.MarshalIndent(results, "", "  ")
				if merr != nil {
					return merr
				}
				fmt.Println(string(document))
			} else {
				for _, result := range results {
					status := "planned"
					if result.Applied {
						status = "applied"
					}
					if result.Error != "" {
						status = "failed: " + result.Error
					}
					fmt.Printf("  %-8s %-24s %s\n", result.Action.Type, result.Action.Service, status)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d corrective actions failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "execute the corrective actions instead of only reporting them")
	cmd.Flags().BoolVar(&removeOrphans, "remove-orphans", false, "remove services that are no longer desired")

	return cmd
}

// detectDrift runs one detection pass: desired hashes from the latest
// fingerprint, running set from the Docker daemon, classification with
// explanation chains, report persisted. The returned runtime is non-nil once
// the client was created, on failure paths included; the caller closes it.
func detectDrift(ctx context.Context, env *environment, dir string) (*engine.DriftReport, *runtime.DockerRuntime, error) {
	store, err := openStore(ctx, dir)
	if err != nil {
		return nil, nil, err
	}
	defer store.Close()

	fingerprint, err := store.LatestFingerprint(ctx)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, nil, fmt.Errorf("no assembly fingerprint recorded; run 'gantry render' first")
		}
		return nil, nil, err
	}

	rt, err := runtime.NewDockerRuntime(env.Telemetry.Logger)
	if err != nil {
		return nil, nil, err
	}

	ctx, span := env.Telemetry.Tracer.StartDriftSpan(ctx, len(fingerprint.ServiceHashes))
	defer span.End()

	report, detectErr := engine.NewReconciler(env.Catalog, rt).Detect(ctx, fingerprint.ServiceHashes)
	if report != nil {
		graph := engine.NewGraphBuilder(env.Catalog, env.Desired).Build()
		engine.AttachExplanations(report, graph)
		if err := store.SaveDriftReport(ctx, report); err != nil {
			return nil, rt, err
		}
	}
	if detectErr != nil {
		telemetry.RecordError(span, detectErr)
		return report, rt, detectErr
	}
	telemetry.RecordSuccess(span)
	return report, rt, nil
}

func printDriftReport(report *engine.DriftReport) {
	if report.QueryFailed {
		fmt.Println("Runtime query failed; all statuses unknown.")
	}
	for _, item := range report.Items {
		fmt.Printf("  %-24s %s", item.Service, item.Class)
		if item.Class == engine.DriftHashDrifted {
			fmt.Printf("  (%s -> %s)", shortHash(item.ActualHash), shortHash(item.DesiredHash))
		}
		if item.Explanation != "" {
			fmt.Printf("  [%s]", item.Explanation)
		}
		fmt.Println()
	}
	fmt.Printf("Summary: %d in sync, %d missing, %d stopped, %d drifted, %d extra\n",
		report.Summary[engine.DriftInSync],
		report.Summary[engine.DriftMissing],
		report.Summary[engine.DriftStopped],
		report.Summary[engine.DriftHashDrifted],
		report.Summary[engine.DriftExtra])
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
