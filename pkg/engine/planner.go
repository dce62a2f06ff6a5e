package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Planner computes the diff between desired and actual state. It holds no
// mutable state; every Plan call starts from the inputs alone.
type Planner struct {
	catalog  *Catalog
	resolver *Resolver
}

// NewPlanner creates a planner over the given catalog.
func NewPlanner(catalog *Catalog) *Planner {
	return &Planner{
		catalog:  catalog,
		resolver: NewResolver(catalog),
	}
}

// Plan computes the enable/disable sets for each resource kind.
//
// Packs and extensions are plain set differences. An asset bundle is queued
// for install only when it is directly desired and its actual-state manifest
// is empty or absent; bundle dependency closures are not expanded into the
// install list, since bundle dependencies are pack activations and those are
// satisfied by enabling the required packs. Runtime flags and options pass
// through unchanged.
func (p *Planner) Plan(desired *DesiredState, actual *ActualState, stateHash string) (*Plan, error) {
	if desired == nil {
		return nil, NewPermanentError("desired state is nil", nil).WithCode(ErrCodeValidation)
	}
	if actual == nil {
		return nil, NewPermanentError("actual state is nil", nil).WithCode(ErrCodeValidation)
	}

	var problems ErrorList
	p.validateNames(desired, &problems)

	plan := &Plan{
		ID:         uuid.New().String(),
		CreatedAt:  time.Now().UTC(),
		StateHash:  stateHash,
		Runtime:    desired.Runtime,
		Options:    desired.Options,
		RootCauses: make(map[string]string),
	}

	plan.PacksEnable = setDifference(desired.PacksEnabled, actual.PacksEnabled)
	plan.PacksDisable = setDifference(actual.PacksEnabled, desired.PacksEnabled)
	plan.ExtensionsEnable = setDifference(desired.ExtensionsEnabled, actual.ExtensionsEnabled)
	plan.ExtensionsDisable = setDifference(actual.ExtensionsEnabled, desired.ExtensionsEnabled)

	installed := make(map[string]bool, len(actual.BundlesInstalled))
	for _, b := range actual.BundlesInstalled {
		installed[b] = true
	}
	for _, sel := range desired.AssetBundles {
		if !installed[sel.Name] {
			plan.AssetsInstall = append(plan.AssetsInstall, sel.Name)
		}
	}
	sort.Strings(plan.AssetsInstall)

	// Surface dependency-cycle warnings from the desired closure and fold
	// the resolver's hard errors (unknown transitive dependencies) into the
	// collected problems. Unknown directly desired names are already flagged
	// by validateNames and are not reported twice.
	closure, rerr := p.resolver.ResolvePacks(desired.PacksEnabled)
	plan.Warnings = append(plan.Warnings, closure.Warnings...)
	mergeResolverErrors(&problems, rerr, desired.PacksEnabled)

	p.attachRootCauses(plan, desired)

	plan.Summary = PlanSummary{
		PacksEnable:       len(plan.PacksEnable),
		PacksDisable:      len(plan.PacksDisable),
		ExtensionsEnable:  len(plan.ExtensionsEnable),
		ExtensionsDisable: len(plan.ExtensionsDisable),
		AssetsInstall:     len(plan.AssetsInstall),
	}

	if err := problems.Err(); err != nil {
		return nil, err
	}
	for _, w := range problems.Warnings() {
		plan.Warnings = append(plan.Warnings, w.Message)
	}
	return plan, nil
}

// mergeResolverErrors appends the resolver's non-warning errors to problems.
// Warnings already travel on the closure, and unknown names the desired state
// references directly are skipped since validateNames collected them.
func mergeResolverErrors(problems *ErrorList, err error, direct []string) {
	if err == nil {
		return
	}
	directSet := make(map[string]bool, len(direct))
	for _, name := range direct {
		directSet[name] = true
	}

	var entries []*ReconcileError
	var list *ErrorList
	if asErrorList(err, &list) {
		entries = list.Errors()
	} else if rerr, ok := err.(*ReconcileError); ok {
		entries = []*ReconcileError{rerr}
	} else {
		problems.Append(NewPermanentError("pack resolution failed", err).WithCode(ErrCodeInternal))
		return
	}
	for _, e := range entries {
		if e.Class == ErrorClassWarning {
			continue
		}
		if e.Code == ErrCodeUnknownResource && e.ResourceType == string(NodeTypePack) && directSet[e.ResourceName] {
			continue
		}
		problems.Append(e)
	}
}

// validateNames checks every desired name against its catalog, collecting
// unknown references so the operator sees the full list in one pass.
func (p *Planner) validateNames(desired *DesiredState, problems *ErrorList) {
	for _, name := range desired.PacksEnabled {
		if _, rerr := p.catalog.Pack(name); rerr != nil {
			problems.Append(rerr)
		}
	}
	for _, name := range desired.ExtensionsEnabled {
		if _, rerr := p.catalog.Extension(name); rerr != nil {
			problems.Append(rerr)
		}
	}
	for _, sel := range desired.AssetBundles {
		if _, rerr := p.catalog.AssetBundle(sel.Name); rerr != nil {
			problems.Append(rerr)
		}
	}
}

// attachRootCauses computes an explanation chain for every changed resource.
// Disable causes are simply "no longer desired"; enable causes come from the
// resource graph.
func (p *Planner) attachRootCauses(plan *Plan, desired *DesiredState) {
	graph := NewGraphBuilder(p.catalog, desired).Build()

	explain := func(t NodeType, name string) string {
		expl, rerr := graph.Explain(t, name)
		if rerr != nil {
			return ""
		}
		return expl.Render()
	}

	for _, name := range plan.PacksEnable {
		plan.RootCauses["pack:"+name] = explain(NodeTypePack, name)
	}
	for _, name := range plan.ExtensionsEnable {
		plan.RootCauses["extension:"+name] = explain(NodeTypeExtension, name)
	}
	for _, name := range plan.AssetsInstall {
		plan.RootCauses["asset_bundle:"+name] = explain(NodeTypeAssetBundle, name)
	}
	for _, name := range plan.PacksDisable {
		plan.RootCauses["pack:"+name] = "pack:" + name + " is enabled but no longer desired"
	}
	for _, name := range plan.ExtensionsDisable {
		plan.RootCauses["extension:"+name] = "extension:" + name + " is enabled but no longer desired"
	}
}

// RenderSummary renders the human-readable plan summary, one line per change
// with its root cause.
func RenderSummary(plan *Plan) string {
	var sb strings.Builder
	if plan.IsNoop() {
		sb.WriteString("No changes. Desired state matches actual state.\n")
	} else {
		writeChanges := func(verb, kind string, names []string) {
			for _, name := range names {
				fmt.Fprintf(&sb, "  %s %s %s", verb, kind, name)
				if cause := plan.RootCauses[kind+":"+name]; cause != "" {
					fmt.Fprintf(&sb, "  (%s)", cause)
				}
				sb.WriteString("\n")
			}
		}
		sb.WriteString("Planned changes:\n")
		writeChanges("enable", "pack", plan.PacksEnable)
		writeChanges("disable", "pack", plan.PacksDisable)
		writeChanges("enable", "extension", plan.ExtensionsEnable)
		writeChanges("disable", "extension", plan.ExtensionsDisable)
		writeChanges("install", "asset_bundle", plan.AssetsInstall)
	}
	for _, w := range plan.Warnings {
		fmt.Fprintf(&sb, "warning: %s\n", w)
	}
	return sb.String()
}

// setDifference returns a\b as a sorted slice.
func setDifference(a, b []string) []string {
	exclude := make(map[string]bool, len(b))
	for _, s := range b {
		exclude[s] = true
	}
	var out []string
	for _, s := range a {
		if !exclude[s] {
			out = append(out, s)
		}
	}
	return dedupeSorted(out)
}
