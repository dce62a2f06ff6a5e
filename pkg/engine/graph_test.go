package engine

import (
	"strings"
	"testing"
)

func TestNodeIDStable(t *testing.T) {
	a := NodeID(NodeTypeService, "qdrant", "service_registry")
	b := NodeID(NodeTypeService, "qdrant", "service_registry")
	if a != b {
		t.Errorf("node identity must be a pure function of (type, name, source): %s != %s", a, b)
	}
	if a == NodeID(NodeTypePack, "qdrant", "service_registry") {
		t.Error("different types must produce different identities")
	}
	if a == NodeID(NodeTypeService, "qdrant", "other_source") {
		t.Error("different sources must produce different identities")
	}
}

func TestGraphExplainProvidesChain(t *testing.T) {
	desired := &DesiredState{PacksEnabled: []string{"core_services"}}
	g := NewGraphBuilder(testCatalog(), desired).Build()

	expl, rerr := g.Explain(NodeTypeService, "qdrant")
	if rerr != nil {
		t.Fatalf("Explain failed: %v", rerr)
	}
	if !expl.Referenced {
		t.Fatal("qdrant should be referenced through core_services")
	}
	if want := "service:qdrant <-provides- pack:core_services <-wants- state"; expl.Render() != want {
		t.Errorf("chain = %q, want %q", expl.Render(), want)
	}
}

func TestGraphExplainTransitiveDependency(t *testing.T) {
	desired := &DesiredState{PacksEnabled: []string{"eval_stack"}}
	g := NewGraphBuilder(testCatalog(), desired).Build()

	expl, rerr := g.Explain(NodeTypePack, "core_services")
	if rerr != nil {
		t.Fatalf("Explain failed: %v", rerr)
	}
	if !expl.Referenced {
		t.Fatal("core_services should be referenced through eval_stack")
	}
	// eval_stack needs core_services directly, so the shortest path has
	// three hops, not the longer path through rag_stack.
	if len(expl.Hops) != 3 {
		t.Errorf("expected shortest path of 3 hops, got %d (%s)", len(expl.Hops), expl.Render())
	}
}

func TestGraphExplainUnreferenced(t *testing.T) {
	desired := &DesiredState{}
	g := NewGraphBuilder(testCatalog(), desired).Build()

	expl, rerr := g.Explain(NodeTypeService, "qdrant")
	if rerr != nil {
		t.Fatalf("Explain failed: %v", rerr)
	}
	if expl.Referenced {
		t.Error("nothing is desired, so qdrant must be unreferenced")
	}
	if !strings.Contains(expl.Render(), "not referenced") {
		t.Errorf("render = %q", expl.Render())
	}
}

func TestGraphExplainUnknownNode(t *testing.T) {
	g := NewGraphBuilder(testCatalog(), &DesiredState{}).Build()
	if _, rerr := g.Explain(NodeTypeService, "ghost"); rerr == nil || rerr.Code != ErrCodeUnknownResource {
		t.Errorf("expected UNKNOWN_RESOURCE, got %v", rerr)
	}
}

func TestGraphDeterministicExplanations(t *testing.T) {
	desired := &DesiredState{
		PacksEnabled:      []string{"eval_stack", "rag_stack", "core_services"},
		ExtensionsEnabled: []string{"langflow"},
		AssetBundles:      []BundleSelection{{Name: "sd_extras"}},
	}

	var first string
	for i := 0; i < 5; i++ {
		g := NewGraphBuilder(testCatalog(), desired).Build()
		expl, rerr := g.Explain(NodeTypePack, "core_services")
		if rerr != nil {
			t.Fatalf("Explain failed: %v", rerr)
		}
		if i == 0 {
			first = expl.Render()
			continue
		}
		if expl.Render() != first {
			t.Fatalf("explanation changed between builds: %q vs %q", first, expl.Render())
		}
	}
}

func TestGraphBundleContainsEdges(t *testing.T) {
	desired := &DesiredState{AssetBundles: []BundleSelection{{Name: "sd_base"}}}
	g := NewGraphBuilder(testCatalog(), desired).Build()

	expl, rerr := g.Explain(NodeTypeModel, "sd15")
	if rerr != nil {
		t.Fatalf("Explain failed: %v", rerr)
	}
	if !expl.Referenced {
		t.Fatal("sd15 should be referenced through its bundle")
	}
	if want := "model:sd15 <-contains- asset_bundle:sd_base <-wants- state"; expl.Render() != want {
		t.Errorf("chain = %q, want %q", expl.Render(), want)
	}
}

func TestGraphToDOT(t *testing.T) {
	g := NewGraphBuilder(testCatalog(), &DesiredState{PacksEnabled: []string{"core_services"}}).Build()
	dot := g.ToDOT()
	if !strings.Contains(dot, "digraph ResourceGraph") {
		t.Error("missing digraph header")
	}
	if !strings.Contains(dot, "service:qdrant") {
		t.Error("missing service node label")
	}
	if !strings.Contains(dot, "wants") {
		t.Error("missing wants edge label")
	}
}
