package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/opengantry/gantry/pkg/compose"
	"github.com/opengantry/gantry/pkg/engine"
	"github.com/opengantry/gantry/pkg/telemetry"
)

func newRenderCommand() *cobra.Command {
	var (
		outFile         string
		fingerprintFile string
		subset          bool
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Assemble the compose artifact",
		Long: `Render the service registry into canonical blocks and merge them with
selected extension fragments into the final compose artifact.

Output is byte-identical for identical inputs. The fingerprint document
records the artifact hash, per-service content hashes, and which fragments
were selected and why.`,
		Example: `  # Full render of the whole registry
  gantry render

  # Render only the services required by the desired state
  gantry render --subset`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(workDir)
			if err != nil {
				return err
			}
			logger := env.Telemetry.Logger.NewComponentLogger("render")
			ctx := cmd.Context()
			defer func() { _ = env.Telemetry.Shutdown(ctx) }()

			ctx, span := env.Telemetry.Tracer.StartAssembleSpan(ctx, subset)
			defer span.End()

			resolver := engine.NewResolver(env.Catalog)
			packs, err := resolver.ResolvePacks(env.Desired.PacksEnabled)
			if err != nil {
				return err
			}
			closure, err := resolver.ServiceClosure(packs)
			if err != nil {
				return err
			}

			started := time.Now()
			result, err := compose.NewAssembler(env.Catalog).Assemble(compose.Input{
				Closure:           closure,
				ExtensionsEnabled: env.Desired.ExtensionsEnabled,
				Subset:            subset,
			})
			if err != nil {
				telemetry.RecordError(span, err)
				return err
			}
			mode := "full"
			if subset {
				mode = "subset"
			}
			env.Telemetry.Metrics.RecordAssembly(mode, time.Since(started))
			telemetry.RecordSuccess(span)

			if outFile == "" {
				outFile = composePath(workDir)
			}
			if fingerprintFile == "" {
				fingerprintFile = fingerprintPath(workDir)
			}
			if err := os.WriteFile(outFile, result.Artifact, 0o644); err != nil {
				return err
			}
			document, err := json.MarshalIndent(result.Fingerprint, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(fingerprintFile, document, 0o644); err != nil {
				return err
			}

			store, err := openStore(ctx, workDir)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.SaveFingerprint(ctx, result.Fingerprint); err != nil {
				return err
			}

			for _, warning := range result.Warnings {
				logger.Warn(warning)
			}
			logger.WithField("artifact_hash", result.Fingerprint.ArtifactHash).
				WithField("services", len(result.Fingerprint.ServiceHashes)).
				WithField("fragments", len(result.Fingerprint.Fragments)).
				Info("Compose artifact assembled")
			fmt.Printf("Wrote %s (%d services, %d fragments)\n",
				outFile, len(result.Fingerprint.ServiceHashes), len(result.Fingerprint.Fragments))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "compose artifact output path")
	cmd.Flags().StringVar(&fingerprintFile, "fingerprint", "", "fingerprint document output path")
	cmd.Flags().BoolVar(&subset, "subset", false, "render only services required by the desired state")

	return cmd
}
