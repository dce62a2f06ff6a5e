package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opengantry/gantry/pkg/catalog"
	"github.com/opengantry/gantry/pkg/engine"
)

func TestParseDesired(t *testing.T) {
	doc := `
packs_enabled: [rag_stack, core_services, rag_stack]
extensions_enabled: [langflow]
asset_bundles:
  - name: sd_base
    only: [sd15]
    strict: true
  - name: sd_extras
    rag: true
runtime:
  compose_regen: true
  remove_orphans: true
options:
  mirror: https://mirror.example.com
`
	desired, err := ParseDesired("desired_state.yaml", []byte(doc))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	// Duplicates collapse, output sorted.
	if len(desired.PacksEnabled) != 2 || desired.PacksEnabled[0] != "core_services" {
		t.Errorf("packs not normalized: %v", desired.PacksEnabled)
	}
	if len(desired.AssetBundles) != 2 {
		t.Fatalf("bundles not decoded: %+v", desired.AssetBundles)
	}
	sel := desired.AssetBundles[0]
	if sel.Name != "sd_base" || sel.Strict == nil || !*sel.Strict || len(sel.Only) != 1 {
		t.Errorf("bundle selection options lost: %+v", sel)
	}
	if !desired.Runtime.ComposeRegen || !desired.Runtime.RemoveOrphans || desired.Runtime.ComposeUp {
		t.Errorf("runtime flags wrong: %+v", desired.Runtime)
	}
	if desired.Options.Mirror != "https://mirror.example.com" {
		t.Errorf("options lost: %+v", desired.Options)
	}
}

func TestParseDesiredRejectsBadShape(t *testing.T) {
	cases := map[string]string{
		"wrong type":       "packs_enabled: yes\n",
		"unnamed bundle":   "asset_bundles:\n  - only: [x]\n",
		"duplicate bundle": "asset_bundles:\n  - name: sd_base\n  - name: sd_base\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseDesired("desired_state.yaml", []byte(doc)); err == nil {
				t.Error("expected validation failure")
			}
		})
	}
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	paths := Paths{
		FlagsFile:     filepath.Join(root, "packs.env"),
		ExtensionsDir: filepath.Join(root, "extensions"),
		ManifestsDir:  filepath.Join(root, "manifests"),
	}

	flags := `# managed by the apply driver
export GANTRY_PACK_CORE_SERVICES=true
GANTRY_PACK_RAG_STACK="1"
GANTRY_PACK_EVAL_STACK=false
UNRELATED=true
`
	if err := os.WriteFile(paths.FlagsFile, []byte(flags), 0o644); err != nil {
		t.Fatal(err)
	}

	for name, enabled := range map[string]bool{"langflow": true, "dashy": false} {
		if err := os.MkdirAll(filepath.Join(paths.ExtensionsDir, name), 0o755); err != nil {
			t.Fatal(err)
		}
		if enabled {
			marker := filepath.Join(paths.ExtensionsDir, name, catalog.MarkerFile)
			if err := os.WriteFile(marker, nil, 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}

	if err := os.MkdirAll(paths.ManifestsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	manifests := map[string]string{
		"sd_base.yaml":   "models: [sd15]\n",
		"sd_extras.yaml": "models: []\nworkflows: []\n", // empty: not installed
		"broken.yaml":    ": : :\n",                     // unparsable: not installed
	}
	for name, content := range manifests {
		if err := os.WriteFile(filepath.Join(paths.ManifestsDir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	actual, err := Discover(paths)
	if err != nil {
		t.Fatalf("discovery failed: %v", err)
	}

	if len(actual.PacksEnabled) != 2 || actual.PacksEnabled[0] != "core_services" || actual.PacksEnabled[1] != "rag_stack" {
		t.Errorf("packs: %v", actual.PacksEnabled)
	}
	if len(actual.ExtensionsEnabled) != 1 || actual.ExtensionsEnabled[0] != "langflow" {
		t.Errorf("extensions: %v", actual.ExtensionsEnabled)
	}
	if len(actual.BundlesInstalled) != 1 || actual.BundlesInstalled[0] != "sd_base" {
		t.Errorf("bundles: %v", actual.BundlesInstalled)
	}
	if actual.CollectedAt.IsZero() {
		t.Error("CollectedAt not set")
	}
}

func TestDiscoverToleratesMissingInputs(t *testing.T) {
	root := t.TempDir()
	actual, err := Discover(Paths{
		FlagsFile:     filepath.Join(root, "absent.env"),
		ExtensionsDir: filepath.Join(root, "absent"),
		ManifestsDir:  filepath.Join(root, "absent2"),
	})
	if err != nil {
		t.Fatalf("missing inputs must not fail discovery: %v", err)
	}
	if len(actual.PacksEnabled)+len(actual.ExtensionsEnabled)+len(actual.BundlesInstalled) != 0 {
		t.Errorf("expected empty actual state: %+v", actual)
	}
}

func TestStateHashStability(t *testing.T) {
	cat := &engine.Catalog{
		Packs:    map[string]engine.Pack{"core_services": {Name: "core_services"}},
		Services: map[string]engine.ServiceDescriptor{"qdrant": {Name: "qdrant", Tier: engine.TierCore, Image: "qdrant/qdrant:v1.9.0"}},
	}
	desired := &engine.DesiredState{PacksEnabled: []string{"core_services"}}
	actual := &engine.ActualState{}

	h1, err := StateHash(cat, desired, actual)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := StateHash(cat, desired, actual)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Error("hash must be stable for identical inputs")
	}

	desired.PacksEnabled = append(desired.PacksEnabled, "rag_stack")
	h3, err := StateHash(cat, desired, actual)
	if err != nil {
		t.Fatal(err)
	}
	if h3 == h1 {
		t.Error("hash must change when desired state changes")
	}
}

// The plan a hash keys is a function of the actual state too: a pack enabled
// behind the operator's back must invalidate a cached plan, while a fresh
// discovery timestamp alone must not.
func TestStateHashTracksActualState(t *testing.T) {
	cat := &engine.Catalog{
		Packs: map[string]engine.Pack{"core_services": {Name: "core_services"}},
	}
	desired := &engine.DesiredState{PacksEnabled: []string{"core_services"}}

	empty, err := StateHash(cat, desired, &engine.ActualState{})
	if err != nil {
		t.Fatal(err)
	}
	converged, err := StateHash(cat, desired, &engine.ActualState{
		PacksEnabled: []string{"core_services"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if empty == converged {
		t.Error("hash must change when the actual state changes")
	}

	later, err := StateHash(cat, desired, &engine.ActualState{
		PacksEnabled: []string{"core_services"},
		CollectedAt:  time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if later != converged {
		t.Error("discovery timestamp must not feed the hash")
	}
}
