package engine

import (
	"reflect"
	"testing"
)

func testCatalog() *Catalog {
	return &Catalog{
		Packs: map[string]Pack{
			"core_services":  {Name: "core_services", Description: "Vector DB, cache, relational DB"},
			"agent_builders": {Name: "agent_builders", Description: "Agent building UIs"},
			"rag_stack":      {Name: "rag_stack", Depends: []string{"core_services"}},
			"eval_stack":     {Name: "eval_stack", Depends: []string{"rag_stack", "core_services"}},
		},
		Extensions: map[string]Extension{
			"langflow": {Name: "langflow", Dir: "/ext/langflow", FragmentPath: "/ext/langflow/compose.yaml", Services: []string{"langflow"}},
			"dashy":    {Name: "dashy", Dir: "/ext/dashy"},
		},
		AssetBundles: map[string]AssetBundle{
			"sd_base": {
				Name:         "sd_base",
				DependsPacks: []string{"core_services"},
				Models:       []Model{{Name: "sd15", URL: "https://models.example/sd15.safetensors", Dir: "checkpoints"}},
			},
			"sd_extras": {
				Name:          "sd_extras",
				DependsAssets: []string{"sd_base"},
				Workflows:     []Workflow{{Name: "upscale", URL: "https://flows.example/upscale.json"}},
			},
		},
		Services: map[string]ServiceDescriptor{
			"qdrant":   {Name: "qdrant", Tier: TierCore, Image: "qdrant/qdrant:v1.9", Ports: []string{"6333:6333"}},
			"redis":    {Name: "redis", Tier: TierCore, Image: "redis:7-alpine"},
			"postgres": {Name: "postgres", Tier: TierCore, Image: "postgres:16"},
			"langflow": {Name: "langflow", Tier: TierOps, Image: "langflowai/langflow:latest", DependsOn: []string{"postgres"}},
		},
		PackServices: map[string][]string{
			"core_services":  {"qdrant", "redis", "postgres"},
			"agent_builders": {"langflow"},
		},
	}
}

func TestResolvePacksClosureCompleteness(t *testing.T) {
	r := NewResolver(testCatalog())

	closure, err := r.ResolvePacks([]string{"eval_stack"})
	if err != nil {
		t.Fatalf("ResolvePacks failed: %v", err)
	}

	want := []string{"core_services", "eval_stack", "rag_stack"}
	if !reflect.DeepEqual(closure.Members, want) {
		t.Errorf("closure members = %v, want %v", closure.Members, want)
	}

	// core_services is pulled in by both eval_stack and rag_stack.
	if got := closure.RequiredBy["core_services"]; !reflect.DeepEqual(got, []string{"eval_stack", "rag_stack"}) {
		t.Errorf("required-by for core_services = %v", got)
	}
	if _, ok := closure.RequiredBy["eval_stack"]; ok {
		t.Error("directly wanted member must not carry a requirement entry")
	}
}

func TestResolvePacksNoDuplicates(t *testing.T) {
	r := NewResolver(testCatalog())

	closure, err := r.ResolvePacks([]string{"eval_stack", "rag_stack", "core_services"})
	if err != nil {
		t.Fatalf("ResolvePacks failed: %v", err)
	}

	seen := make(map[string]int)
	for _, m := range closure.Members {
		seen[m]++
	}
	for name, n := range seen {
		if n != 1 {
			t.Errorf("member %s appears %d times", name, n)
		}
	}
}

func TestResolvePacksCycleSafety(t *testing.T) {
	cat := testCatalog()
	cat.Packs["a"] = Pack{Name: "a", Depends: []string{"b"}}
	cat.Packs["b"] = Pack{Name: "b", Depends: []string{"a"}}
	r := NewResolver(cat)

	closure, err := r.ResolvePacks([]string{"a"})
	if err != nil {
		t.Fatalf("cycle must not be fatal: %v", err)
	}

	want := []string{"a", "b"}
	if !reflect.DeepEqual(closure.Members, want) {
		t.Errorf("closure members = %v, want %v", closure.Members, want)
	}
	if len(closure.Warnings) == 0 {
		t.Error("declared cycle must surface a warning")
	}
}

func TestResolvePacksUnknownCollected(t *testing.T) {
	cat := testCatalog()
	cat.Packs["broken"] = Pack{Name: "broken", Depends: []string{"ghost_one", "ghost_two"}}
	r := NewResolver(cat)

	_, err := r.ResolvePacks([]string{"broken"})
	if err == nil {
		t.Fatal("expected unknown-resource errors")
	}
	list, ok := err.(*ErrorList)
	if !ok {
		t.Fatalf("expected *ErrorList, got %T", err)
	}
	if len(list.Errors()) != 2 {
		t.Fatalf("expected both unknown deps collected, got %d: %v", len(list.Errors()), err)
	}
	for _, e := range list.Errors() {
		if e.Code != ErrCodeUnknownResource {
			t.Errorf("unexpected code %s", e.Code)
		}
	}
}

func TestResolveBundles(t *testing.T) {
	r := NewResolver(testCatalog())

	bc, err := r.ResolveBundles([]string{"sd_extras"})
	if err != nil {
		t.Fatalf("ResolveBundles failed: %v", err)
	}

	if want := []string{"sd_base", "sd_extras"}; !reflect.DeepEqual(bc.Bundles.Members, want) {
		t.Errorf("bundle closure = %v, want %v", bc.Bundles.Members, want)
	}
	if got := bc.Bundles.RequiredBy["sd_base"]; !reflect.DeepEqual(got, []string{"sd_extras"}) {
		t.Errorf("required-by for sd_base = %v", got)
	}
	// sd_base declares depends_packs: core_services.
	if !bc.Packs.Contains("core_services") {
		t.Errorf("pack closure %v missing core_services", bc.Packs.Members)
	}
}

func TestServiceClosure(t *testing.T) {
	r := NewResolver(testCatalog())

	packs, err := r.ResolvePacks([]string{"core_services"})
	if err != nil {
		t.Fatalf("ResolvePacks failed: %v", err)
	}
	services, err := r.ServiceClosure(packs)
	if err != nil {
		t.Fatalf("ServiceClosure failed: %v", err)
	}
	if want := []string{"postgres", "qdrant", "redis"}; !reflect.DeepEqual(services, want) {
		t.Errorf("service closure = %v, want %v", services, want)
	}
}
