package compose

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opengantry/gantry/pkg/engine"
)

func qdrantDescriptor() engine.ServiceDescriptor {
	return engine.ServiceDescriptor{
		Name:  "qdrant",
		Tier:  engine.TierCore,
		Image: "qdrant/qdrant:v1.9.0",
		Ports: []string{"6333:6333"},
		Environment: map[string]string{
			"QDRANT__LOG_LEVEL": "INFO",
			"A_FIRST":           "1",
		},
		Volumes: []string{"qdrant_data:/qdrant/storage"},
		Restart: "unless-stopped",
	}
}

func TestRenderDeterminism(t *testing.T) {
	svc := qdrantDescriptor()
	first, err := Render(svc)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := Render(svc)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first.Block, again.Block) {
			t.Fatalf("render %d differs:\n%s\nvs\n%s", i, first.Block, again.Block)
		}
		if first.Hash != again.Hash {
			t.Fatalf("hash differs: %s vs %s", first.Hash, again.Hash)
		}
	}
}

func TestRenderFieldOrderAndLabels(t *testing.T) {
	block, err := Render(qdrantDescriptor())
	if err != nil {
		t.Fatal(err)
	}
	text := string(block.Block)

	for _, pair := range [][2]string{
		{"image:", "ports:"},
		{"ports:", "environment:"},
		{"environment:", "volumes:"},
		{"volumes:", "restart:"},
		{"restart:", "labels:"},
		// environment keys sorted
		{"A_FIRST:", "QDRANT__LOG_LEVEL:"},
	} {
		if strings.Index(text, pair[0]) >= strings.Index(text, pair[1]) {
			t.Errorf("%s must precede %s in:\n%s", pair[0], pair[1], text)
		}
	}
	if !strings.Contains(text, LabelService+": qdrant") {
		t.Errorf("missing service label:\n%s", text)
	}
	if !strings.Contains(text, LabelHash+": "+block.Hash) {
		t.Errorf("block must embed its own hash:\n%s", text)
	}
}

// The hash is computed before the hash label exists, so it depends only on
// the descriptor fields. A port change must change it.
func TestRenderHashTracksDescriptor(t *testing.T) {
	base, err := Render(qdrantDescriptor())
	if err != nil {
		t.Fatal(err)
	}

	changed := qdrantDescriptor()
	changed.Ports = []string{"6334:6333"}
	moved, err := Render(changed)
	if err != nil {
		t.Fatal(err)
	}
	if base.Hash == moved.Hash {
		t.Error("port change must change the content hash")
	}

	same, err := Render(qdrantDescriptor())
	if err != nil {
		t.Fatal(err)
	}
	if base.Hash != same.Hash {
		t.Error("identical descriptors must share a hash")
	}
}

func assemblyCatalog(t *testing.T) *engine.Catalog {
	t.Helper()
	dir := t.TempDir()
	fragment := `
services:
  langflow:
    image: langflowai/langflow:1.0
    environment:
      LANGFLOW_PORT: "7860"
`
	extDir := filepath.Join(dir, "langflow")
	if err := os.MkdirAll(extDir, 0o755); err != nil {
		t.Fatal(err)
	}
	fragmentPath := filepath.Join(extDir, "compose.yaml")
	if err := os.WriteFile(fragmentPath, []byte(fragment), 0o644); err != nil {
		t.Fatal(err)
	}

	return &engine.Catalog{
		Packs: map[string]engine.Pack{"core_services": {Name: "core_services"}},
		Extensions: map[string]engine.Extension{
			"langflow": {Name: "langflow", Dir: extDir, FragmentPath: fragmentPath, Services: []string{"langflow"}},
		},
		Services: map[string]engine.ServiceDescriptor{
			"qdrant": qdrantDescriptor(),
			"redis":  {Name: "redis", Tier: engine.TierCore, Image: "redis:7-alpine"},
			"grafana": {
				Name: "grafana", Tier: engine.TierOps,
				Image: "grafana/grafana:10.4.0", Profiles: []string{"observability"},
			},
		},
		PackServices: map[string][]string{"core_services": {"qdrant", "redis"}},
	}
}

func TestAssembleDeterminism(t *testing.T) {
	cat := assemblyCatalog(t)
	in := Input{Closure: []string{"qdrant", "redis"}, Subset: false}

	first, err := NewAssembler(cat).Assemble(in)
	if err != nil {
		t.Fatal(err)
	}
	second, err := NewAssembler(cat).Assemble(in)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first.Artifact, second.Artifact) {
		t.Fatalf("artifacts differ:\n%s\nvs\n%s", first.Artifact, second.Artifact)
	}
	if first.Fingerprint.ArtifactHash != second.Fingerprint.ArtifactHash {
		t.Error("artifact hash must be stable")
	}
	// Timestamp and id live in the fingerprint, never the artifact.
	if strings.Contains(string(first.Artifact), first.Fingerprint.GeneratedAt) {
		t.Error("artifact must not embed the generation timestamp")
	}
}

// The langflow extension is not enabled, but its fragment declares a service
// present in the closure, so the fragment is pulled in transitively.
func TestAssembleTransitiveFragmentSelection(t *testing.T) {
	cat := assemblyCatalog(t)
	result, err := NewAssembler(cat).Assemble(Input{
		Closure: []string{"qdrant", "langflow"},
		Subset:  true,
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Fingerprint.Fragments) != 1 {
		t.Fatalf("expected one fragment selection, got %+v", result.Fingerprint.Fragments)
	}
	sel := result.Fingerprint.Fragments[0]
	if sel.Extension != "langflow" || !strings.Contains(sel.Reason, "langflow") {
		t.Errorf("unexpected selection rationale: %+v", sel)
	}
	if !strings.Contains(string(result.Artifact), "langflow:") {
		t.Errorf("fragment body missing from artifact:\n%s", result.Artifact)
	}
	if !strings.Contains(string(result.Artifact), "LANGFLOW_PORT") {
		t.Errorf("fragment content not merged verbatim:\n%s", result.Artifact)
	}
}

func TestAssembleEnabledExtensionSelection(t *testing.T) {
	cat := assemblyCatalog(t)
	result, err := NewAssembler(cat).Assemble(Input{
		Closure:           []string{"qdrant"},
		ExtensionsEnabled: []string{"langflow"},
		Subset:            true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Fingerprint.Fragments) != 1 || result.Fingerprint.Fragments[0].Reason != "extension enabled" {
		t.Errorf("expected enabled-extension rationale: %+v", result.Fingerprint.Fragments)
	}
}

func TestAssembleSubsetMode(t *testing.T) {
	cat := assemblyCatalog(t)
	result, err := NewAssembler(cat).Assemble(Input{Closure: []string{"redis"}, Subset: true})
	if err != nil {
		t.Fatal(err)
	}
	text := string(result.Artifact)
	if !strings.Contains(text, "redis:") || strings.Contains(text, "qdrant:") {
		t.Errorf("subset mode must render only the closure:\n%s", text)
	}
	if _, ok := result.Fingerprint.ServiceHashes["redis"]; !ok {
		t.Errorf("fingerprint missing service hash: %+v", result.Fingerprint.ServiceHashes)
	}
}

func TestAssembleTierOrdering(t *testing.T) {
	cat := assemblyCatalog(t)
	result, err := NewAssembler(cat).Assemble(Input{Subset: false})
	if err != nil {
		t.Fatal(err)
	}
	text := string(result.Artifact)
	// Core services come before ops services regardless of name order.
	if strings.Index(text, "qdrant:") >= strings.Index(text, "grafana:") {
		t.Errorf("core tier must precede ops tier:\n%s", text)
	}
}

func TestAssembleUnknownClosureMember(t *testing.T) {
	cat := assemblyCatalog(t)
	_, err := NewAssembler(cat).Assemble(Input{Closure: []string{"qdrant", "ghost"}, Subset: true})
	if err == nil {
		t.Fatal("expected unknown-service failure")
	}
	if !strings.Contains(err.Error(), "ghost") {
		t.Errorf("error must name the unknown service: %v", err)
	}
}

// Two selected fragments declaring the same service must not both reach the
// artifact; the first extension in sorted order wins and the loser is
// surfaced as a warning.
func TestAssembleFragmentVsFragmentCollision(t *testing.T) {
	cat := assemblyCatalog(t)
	dir := t.TempDir()
	for _, ext := range []string{"alpha", "beta"} {
		extDir := filepath.Join(dir, ext)
		if err := os.MkdirAll(extDir, 0o755); err != nil {
			t.Fatal(err)
		}
		fragment := "services:\n  shared:\n    image: example/" + ext + ":1\n"
		fragmentPath := filepath.Join(extDir, "compose.yaml")
		if err := os.WriteFile(fragmentPath, []byte(fragment), 0o644); err != nil {
			t.Fatal(err)
		}
		cat.Extensions[ext] = engine.Extension{
			Name: ext, Dir: extDir, FragmentPath: fragmentPath, Services: []string{"shared"},
		}
	}

	result, err := NewAssembler(cat).Assemble(Input{
		Closure:           []string{"qdrant"},
		ExtensionsEnabled: []string{"alpha", "beta"},
		Subset:            true,
	})
	if err != nil {
		t.Fatal(err)
	}

	if got := strings.Count(string(result.Artifact), "shared:"); got != 1 {
		t.Fatalf("service key emitted %d times:\n%s", got, result.Artifact)
	}
	// Sorted extension order: alpha's definition survives.
	if !strings.Contains(string(result.Artifact), "example/alpha:1") {
		t.Errorf("first fragment in sorted order must win:\n%s", result.Artifact)
	}
	if len(result.Warnings) != 1 ||
		!strings.Contains(result.Warnings[0], "beta") ||
		!strings.Contains(result.Warnings[0], `"alpha" kept`) {
		t.Errorf("expected fragment collision warning, got %v", result.Warnings)
	}
}

func TestAssembleFragmentCollision(t *testing.T) {
	cat := assemblyCatalog(t)
	// Register a service that also appears in the fragment.
	cat.Services["langflow"] = engine.ServiceDescriptor{
		Name: "langflow", Tier: engine.TierOps, Image: "langflowai/langflow:1.1",
	}

	result, err := NewAssembler(cat).Assemble(Input{
		Closure: []string{"langflow"},
		Subset:  true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "redefines") {
		t.Errorf("expected collision warning, got %v", result.Warnings)
	}
	// The registry image wins.
	if !strings.Contains(string(result.Artifact), "langflowai/langflow:1.1") {
		t.Errorf("registry definition must win on collision:\n%s", result.Artifact)
	}
}
