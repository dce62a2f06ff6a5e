package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type mockRuntime struct {
	running  []RunningService
	listErr  error
	failures map[string]error // service name -> forced action error
	calls    []string
}

func (m *mockRuntime) ListManaged(_ context.Context) ([]RunningService, error) {
	return m.running, m.listErr
}

func (m *mockRuntime) CreateService(_ context.Context, svc ServiceDescriptor, _ string) error {
	m.calls = append(m.calls, "create "+svc.Name)
	return m.failures[svc.Name]
}

func (m *mockRuntime) RestartService(_ context.Context, name string) error {
	m.calls = append(m.calls, "restart "+name)
	return m.failures[name]
}

func (m *mockRuntime) RecreateService(_ context.Context, svc ServiceDescriptor, _ string) error {
	m.calls = append(m.calls, "recreate "+svc.Name)
	return m.failures[svc.Name]
}

func (m *mockRuntime) RemoveService(_ context.Context, name string) error {
	m.calls = append(m.calls, "remove "+name)
	return m.failures[name]
}

func TestClassifyDriftPartition(t *testing.T) {
	desired := map[string]string{
		"qdrant":   "hash-q",
		"redis":    "hash-r",
		"postgres": "hash-p",
		"langflow": "hash-l",
	}
	running := []RunningService{
		{Name: "qdrant", Running: true, Hash: "hash-old"}, // hash drift
		{Name: "redis", Running: false, Hash: "hash-r"},   // stopped
		{Name: "postgres", Running: true, Hash: "hash-p"}, // in sync
		{Name: "legacy_redis", Running: true, Hash: "x"},  // extra
		// langflow missing
	}

	report := ClassifyDrift(desired, running)

	want := map[string]DriftClass{
		"qdrant":       DriftHashDrifted,
		"redis":        DriftStopped,
		"postgres":     DriftInSync,
		"legacy_redis": DriftExtra,
		"langflow":     DriftMissing,
	}
	if len(report.Items) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(report.Items))
	}
	seen := make(map[string]int)
	for _, item := range report.Items {
		seen[item.Service]++
		if item.Class != want[item.Service] {
			t.Errorf("%s classified %s, want %s", item.Service, item.Class, want[item.Service])
		}
	}
	// Exactly one bucket per service.
	for name, n := range seen {
		if n != 1 {
			t.Errorf("%s appears %d times", name, n)
		}
	}
	if report.Clean() {
		t.Error("report with drift must not be clean")
	}
}

func TestClassifyDriftClean(t *testing.T) {
	desired := map[string]string{"qdrant": "h"}
	running := []RunningService{{Name: "qdrant", Running: true, Hash: "h"}}
	report := ClassifyDrift(desired, running)
	if !report.Clean() {
		t.Errorf("expected clean report, got %+v", report.Summary)
	}
}

// A ServiceDescriptor port change yields a new hash; a running container
// still carrying the old hash must be reported hash-drifted.
func TestClassifyDriftPortChangeScenario(t *testing.T) {
	report := ClassifyDrift(
		map[string]string{"qdrant": "hash-6334"},
		[]RunningService{{Name: "qdrant", Running: true, Hash: "hash-6333"}},
	)
	if len(report.Items) != 1 || report.Items[0].Class != DriftHashDrifted {
		t.Fatalf("expected hash_drifted, got %+v", report.Items)
	}
	if report.Items[0].DesiredHash != "hash-6334" || report.Items[0].ActualHash != "hash-6333" {
		t.Errorf("hashes not recorded: %+v", report.Items[0])
	}
}

func TestCorrectiveActionsRemoveOrphansGate(t *testing.T) {
	report := ClassifyDrift(
		map[string]string{"qdrant": "h"},
		[]RunningService{
			{Name: "qdrant", Running: true, Hash: "h"},
			{Name: "legacy_redis", Running: true, Hash: "x"},
		},
	)

	if actions := CorrectiveActions(report, false); len(actions) != 0 {
		t.Errorf("extra service must not be removed without remove_orphans: %v", actions)
	}
	actions := CorrectiveActions(report, true)
	if len(actions) != 1 || actions[0].Type != ActionRemove || actions[0].Service != "legacy_redis" {
		t.Errorf("expected single remove action, got %v", actions)
	}
}

func TestCorrectiveActionsPerClass(t *testing.T) {
	report := ClassifyDrift(
		map[string]string{"qdrant": "hq", "redis": "hr", "postgres": "hp"},
		[]RunningService{
			{Name: "redis", Running: false, Hash: "hr"},
			{Name: "postgres", Running: true, Hash: "old"},
		},
	)

	actions := CorrectiveActions(report, false)
	got := make(map[string]ActionType)
	for _, a := range actions {
		got[a.Service] = a.Type
	}
	if got["qdrant"] != ActionCreate {
		t.Errorf("missing service: got %s", got["qdrant"])
	}
	if got["redis"] != ActionRestart {
		t.Errorf("stopped service: got %s", got["redis"])
	}
	if got["postgres"] != ActionRecreate {
		t.Errorf("hash-drifted service: got %s", got["postgres"])
	}
}

func TestDetectQueryFailureDegradesToUnknown(t *testing.T) {
	rt := &mockRuntime{listErr: fmt.Errorf("daemon unreachable")}
	rec := NewReconciler(testCatalog(), rt)

	report, err := rec.Detect(context.Background(), map[string]string{"qdrant": "h", "redis": "h"})
	if err == nil {
		t.Fatal("expected DriftQueryFailed error")
	}
	var rerr *ReconcileError
	if !errors.As(err, &rerr) || rerr.Code != ErrCodeDriftQueryFailed {
		t.Fatalf("expected DRIFT_QUERY_FAILED, got %v", err)
	}
	if !report.QueryFailed {
		t.Error("report must be marked query-failed")
	}
	for _, item := range report.Items {
		if item.Class != DriftUnknown {
			t.Errorf("%s classified %s, want unknown", item.Service, item.Class)
		}
	}
	if CorrectiveActions(report, true) != nil {
		t.Error("unknown items must never produce actions")
	}
}

func TestApplyNonTransactional(t *testing.T) {
	rt := &mockRuntime{failures: map[string]error{"postgres": fmt.Errorf("image pull failed")}}
	rec := NewReconciler(testCatalog(), rt)

	actions := []Action{
		{Type: ActionCreate, Service: "postgres", Hash: "hp"},
		{Type: ActionCreate, Service: "qdrant", Hash: "hq"},
		{Type: ActionRestart, Service: "redis"},
	}
	results := rec.Apply(context.Background(), actions, ModeApply)

	if len(results) != 3 {
		t.Fatalf("expected all actions attempted, got %d results", len(results))
	}
	if results[0].Error == "" {
		t.Error("postgres failure must be recorded")
	}
	// Later actions still proceed despite the earlier failure.
	if results[1].Error != "" || results[2].Error != "" {
		t.Errorf("independent actions must not be affected: %+v", results)
	}
	if len(rt.calls) != 3 {
		t.Errorf("expected 3 runtime calls, got %v", rt.calls)
	}
}

func TestApplyPlanModeHasNoSideEffects(t *testing.T) {
	rt := &mockRuntime{}
	rec := NewReconciler(testCatalog(), rt)

	results := rec.Apply(context.Background(), []Action{{Type: ActionCreate, Service: "qdrant"}}, ModePlan)
	if len(rt.calls) != 0 {
		t.Errorf("plan mode must not touch the runtime: %v", rt.calls)
	}
	if results[0].Applied {
		t.Error("plan mode result must not be marked applied")
	}
}

func TestAttachExplanations(t *testing.T) {
	g := NewGraphBuilder(testCatalog(), &DesiredState{PacksEnabled: []string{"core_services"}}).Build()
	report := ClassifyDrift(map[string]string{"qdrant": "h"}, nil)
	AttachExplanations(report, g)
	if report.Items[0].Explanation == "" {
		t.Error("expected explanation chain on drift item")
	}
}
