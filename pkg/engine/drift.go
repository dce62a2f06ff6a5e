package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ClassifyDrift partitions the union of the desired and running service sets
// into exactly one bucket per service: missing, stopped, hash_drifted, extra,
// or in_sync. desired maps service name to the content hash recorded at
// assembly time; running is the set reported by the container runtime.
func ClassifyDrift(desired map[string]string, running []RunningService) *DriftReport {
	report := &DriftReport{
		ID:          uuid.New().String(),
		GeneratedAt: time.Now().UTC(),
		Summary:     make(map[DriftClass]int),
	}

	present := make(map[string]RunningService, len(running))
	for _, rs := range running {
		present[rs.Name] = rs
	}

	universe := make(map[string]bool, len(desired)+len(present))
	for name := range desired {
		universe[name] = true
	}
	for name := range present {
		universe[name] = true
	}

	for _, name := range sortedKeys(universe) {
		item := DriftItem{Service: name}
		wantHash, isDesired := desired[name]
		rs, isPresent := present[name]

		switch {
		case isDesired && !isPresent:
			item.Class = DriftMissing
			item.DesiredHash = wantHash
		case !isDesired:
			item.Class = DriftExtra
			item.ActualHash = rs.Hash
		case !rs.Running:
			item.Class = DriftStopped
			item.DesiredHash = wantHash
			item.ActualHash = rs.Hash
		case rs.Hash != wantHash:
			item.Class = DriftHashDrifted
			item.DesiredHash = wantHash
			item.ActualHash = rs.Hash
		default:
			item.Class = DriftInSync
			item.DesiredHash = wantHash
			item.ActualHash = rs.Hash
		}

		report.Items = append(report.Items, item)
		report.Summary[item.Class]++
	}

	return report
}

// UnknownDriftReport is the degraded report used when the runtime query
// failed: every desired service is classified unknown and nothing is assumed.
func UnknownDriftReport(desired map[string]string) *DriftReport {
	report := &DriftReport{
		ID:          uuid.New().String(),
		GeneratedAt: time.Now().UTC(),
		QueryFailed: true,
		Summary:     make(map[DriftClass]int),
	}
	for _, name := range sortedKeys(desired) {
		report.Items = append(report.Items, DriftItem{
			Service:     name,
			Class:       DriftUnknown,
			DesiredHash: desired[name],
		})
		report.Summary[DriftUnknown]++
	}
	return report
}

// AttachExplanations fills each item's requirement chain from the graph,
// where one exists.
func AttachExplanations(report *DriftReport, graph *ResourceGraph) {
	for i := range report.Items {
		expl, rerr := graph.Explain(NodeTypeService, report.Items[i].Service)
		if rerr != nil {
			continue
		}
		report.Items[i].Explanation = expl.Render()
	}
}

// CorrectiveActions computes the minimal action set for a report. Extra
// services produce a remove action only when removeOrphans is set. Items in
// the unknown class never produce actions.
func CorrectiveActions(report *DriftReport, removeOrphans bool) []Action {
	var actions []Action
	for _, item := range report.Items {
		switch item.Class {
		case DriftMissing:
			actions = append(actions, Action{Type: ActionCreate, Service: item.Service, Hash: item.DesiredHash})
		case DriftStopped:
			actions = append(actions, Action{Type: ActionRestart, Service: item.Service})
		case DriftHashDrifted:
			actions = append(actions, Action{Type: ActionRecreate, Service: item.Service, Hash: item.DesiredHash})
		case DriftExtra:
			if removeOrphans {
				actions = append(actions, Action{Type: ActionRemove, Service: item.Service})
			}
		}
	}
	sort.Slice(actions, func(i, j int) bool {
		if actions[i].Service != actions[j].Service {
			return actions[i].Service < actions[j].Service
		}
		return actions[i].Type < actions[j].Type
	})
	return actions
}

// Reconciler detects drift against the container runtime and applies
// corrective actions.
type Reconciler struct {
	catalog *Catalog
	runtime Runtime
}

// NewReconciler creates a reconciler over the given catalog and runtime.
func NewReconciler(catalog *Catalog, runtime Runtime) *Reconciler {
	return &Reconciler{catalog: catalog, runtime: runtime}
}

// Detect queries the runtime and classifies the drift of every service in
// the union of desired and running sets. A failed runtime query degrades to
// an all-unknown report and a DriftQueryFailed error.
func (r *Reconciler) Detect(ctx context.Context, desired map[string]string) (*DriftReport, error) {
	running, err := r.runtime.ListManaged(ctx)
	if err != nil {
		return UnknownDriftReport(desired), NewTransientError("container runtime query failed", err).
			WithCode(ErrCodeDriftQueryFailed)
	}
	return ClassifyDrift(desired, running), nil
}

// Apply executes the corrective actions. Actions are independent and
// idempotent: a failure in one is recorded and the rest still proceed, and
// nothing is rolled back. In ModePlan the actions are reported, not executed.
func (r *Reconciler) Apply(ctx context.Context, actions []Action, mode Mode) []ActionResult {
	results := make([]ActionResult, 0, len(actions))
	for _, action := range actions {
		result := ActionResult{Action: action}
		if mode != ModeApply {
			results = append(results, result)
			continue
		}
		result.Applied = true
		if err := r.apply(ctx, action); err != nil {
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	return results
}

func (r *Reconciler) apply(ctx context.Context, action Action) error {
	switch action.Type {
	case ActionCreate, ActionRecreate:
		svc, rerr := r.catalog.Service(action.Service)
		if rerr != nil {
			return rerr
		}
		if action.Type == ActionCreate {
			return r.runtime.CreateService(ctx, svc, action.Hash)
		}
		return r.runtime.RecreateService(ctx, svc, action.Hash)
	case ActionRestart:
		return r.runtime.RestartService(ctx, action.Service)
	case ActionRemove:
		return r.runtime.RemoveService(ctx, action.Service)
	default:
		return fmt.Errorf("invalid action type: %s", action.Type)
	}
}
