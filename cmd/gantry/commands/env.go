package commands

import (
	"context"
	"os"
	"path/filepath"

	"github.com/opengantry/gantry/pkg/catalog"
	"github.com/opengantry/gantry/pkg/engine"
	"github.com/opengantry/gantry/pkg/state"
	"github.com/opengantry/gantry/pkg/stores"
	"github.com/opengantry/gantry/pkg/telemetry"
)

// environment is the shared working context of one command invocation:
// loaded catalog, parsed desired state, discovered actual state, and the
// content hash keying the plan cache.
type environment struct {
	Catalog   *engine.Catalog
	Desired   *engine.DesiredState
	Actual    *engine.ActualState
	StateHash string
	Telemetry *telemetry.Telemetry
}

// Layout of the working directory.
func catalogDir(dir string) string     { return filepath.Join(dir, "catalog") }
func extensionsDir(dir string) string  { return filepath.Join(dir, "extensions") }
func desiredPath(dir string) string    { return filepath.Join(dir, state.DesiredStateFile) }
func flagsPath(dir string) string      { return filepath.Join(dir, "state", "packs.env") }
func manifestsDir(dir string) string   { return filepath.Join(dir, "state", "manifests") }
func databasePath(dir string) string   { return filepath.Join(dir, "state", "gantry.db") }
func composePath(dir string) string    { return filepath.Join(dir, "compose.yaml") }
func fingerprintPath(dir string) string { return filepath.Join(dir, "fingerprint.json") }

// loadEnvironment reads every input of a reconciliation pass from dir.
func loadEnvironment(dir string) (*environment, error) {
	tel, err := newTelemetry()
	if err != nil {
		return nil, err
	}

	cat, err := catalog.NewLoader().Load(catalogDir(dir), extensionsDir(dir))
	if err != nil {
		return nil, err
	}
	desired, err := state.LoadDesired(desiredPath(dir))
	if err != nil {
		return nil, err
	}
	actual, err := state.Discover(state.Paths{
		FlagsFile:     flagsPath(dir),
		ExtensionsDir: extensionsDir(dir),
		ManifestsDir:  manifestsDir(dir),
	})
	if err != nil {
		return nil, err
	}
	stateHash, err := state.StateHash(cat, desired, actual)
	if err != nil {
		return nil, err
	}

	return &environment{
		Catalog:   cat,
		Desired:   desired,
		Actual:    actual,
		StateHash: stateHash,
		Telemetry: tel,
	}, nil
}

func newTelemetry() (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Logging.Format = "json"
	}
	return telemetry.NewTelemetry(cfg)
}

// openStore opens the plan store under dir, migrated and ready.
func openStore(ctx context.Context, dir string) (*stores.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(databasePath(dir)), 0o755); err != nil {
		return nil, err
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: databasePath(dir)})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
