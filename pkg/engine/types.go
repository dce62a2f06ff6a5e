package engine

import (
	"sort"
	"time"
)

// Pack represents an optional capability bundle. Packs are defined statically
// in the catalog and never mutated at runtime.
type Pack struct {
	// Name is the unique pack name.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Description is the human-readable pack description.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Depends lists the names of packs this pack requires.
	Depends []string `json:"depends,omitempty" yaml:"depends,omitempty"`
}

// Extension represents a pluggable unit that may ship its own compose
// fragment. Extensions are discovered by scanning the extensions directory.
type Extension struct {
	// Name is the extension name, taken from its directory name.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Dir is the absolute path of the extension directory.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`

	// FragmentPath is the path of the compose fragment file, empty when the
	// extension ships none.
	FragmentPath string `json:"fragment_path,omitempty" yaml:"fragment_path,omitempty"`

	// Services lists the service names the fragment declares. Used for
	// transitive fragment selection during assembly.
	Services []string `json:"services,omitempty" yaml:"services,omitempty"`
}

// HasFragment returns true if the extension ships a compose fragment.
func (e Extension) HasFragment() bool {
	return e.FragmentPath != ""
}

// Model represents a leaf downloadable model artifact. It is owned by exactly
// one asset bundle and immutable once declared.
type Model struct {
	// Name is the artifact name.
	Name string `json:"name" yaml:"name" validate:"required"`

	// URL is the source download URL.
	URL string `json:"url" yaml:"url" validate:"required,url"`

	// Checksum is the expected content checksum.
	Checksum string `json:"checksum,omitempty" yaml:"checksum,omitempty"`

	// Dir is the destination subdirectory relative to the models root.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// Workflow represents a leaf downloadable workflow artifact.
type Workflow struct {
	// Name is the artifact name.
	Name string `json:"name" yaml:"name" validate:"required"`

	// URL is the source download URL.
	URL string `json:"url" yaml:"url" validate:"required,url"`

	// Checksum is the expected content checksum.
	Checksum string `json:"checksum,omitempty" yaml:"checksum,omitempty"`

	// Dir is the destination subdirectory relative to the workflows root.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// AssetBundle represents a named collection of downloadable artifacts with
// possible pack and bundle dependencies.
type AssetBundle struct {
	// Name is the unique bundle name.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Description is the human-readable bundle description.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// DependsPacks lists pack names this bundle requires to be enabled.
	DependsPacks []string `json:"depends_packs,omitempty" yaml:"depends_packs,omitempty"`

	// DependsAssets lists other bundle names this bundle requires.
	DependsAssets []string `json:"depends_assets,omitempty" yaml:"depends_assets,omitempty"`

	// Models are the model artifacts contained in this bundle.
	Models []Model `json:"models,omitempty" yaml:"models,omitempty" validate:"dive"`

	// Workflows are the workflow artifacts contained in this bundle.
	Workflows []Workflow `json:"workflows,omitempty" yaml:"workflows,omitempty" validate:"dive"`
}

// ServiceDescriptor describes one runtime service in the registry. It is
// declared statically and rendered (never mutated) into a canonical block.
type ServiceDescriptor struct {
	// Name is the unique service name.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Tier is the service tier (core or ops).
	Tier Tier `json:"tier" yaml:"tier" validate:"required,oneof=core ops"`

	// Profiles are the compose profile tags attached to the service.
	Profiles []string `json:"profiles,omitempty" yaml:"profiles,omitempty"`

	// Image is the container image reference.
	Image string `json:"image" yaml:"image" validate:"required"`

	// Ports are the port mappings in "host:container" form.
	Ports []string `json:"ports,omitempty" yaml:"ports,omitempty"`

	// Environment is the environment variable map.
	Environment map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`

	// Volumes are the volume mappings.
	Volumes []string `json:"volumes,omitempty" yaml:"volumes,omitempty"`

	// DependsOn lists service names that must start before this one.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// Restart is the restart policy (e.g. "unless-stopped").
	Restart string `json:"restart,omitempty" yaml:"restart,omitempty"`
}

// Catalog holds the static registries: packs, extensions, asset bundles,
// service descriptors, and the pack-to-service mapping. It is immutable after
// load; all iteration happens in sorted-name order so downstream output is
// reproducible.
type Catalog struct {
	// Packs maps pack name to its definition.
	Packs map[string]Pack `json:"packs"`

	// Extensions maps extension name to its discovered definition.
	Extensions map[string]Extension `json:"extensions"`

	// AssetBundles maps bundle name to its definition.
	AssetBundles map[string]AssetBundle `json:"asset_bundles"`

	// Services maps service name to its descriptor.
	Services map[string]ServiceDescriptor `json:"services"`

	// PackServices maps pack name to the service names it provides.
	PackServices map[string][]string `json:"pack_services"`
}

// Pack returns the named pack, or an UnknownResource error.
func (c *Catalog) Pack(name string) (Pack, *ReconcileError) {
	p, ok := c.Packs[name]
	if !ok {
		return Pack{}, NewUnknownResource(string(NodeTypePack), name)
	}
	return p, nil
}

// Extension returns the named extension, or an UnknownResource error.
func (c *Catalog) Extension(name string) (Extension, *ReconcileError) {
	e, ok := c.Extensions[name]
	if !ok {
		return Extension{}, NewUnknownResource(string(NodeTypeExtension), name)
	}
	return e, nil
}

// AssetBundle returns the named bundle, or an UnknownResource error.
func (c *Catalog) AssetBundle(name string) (AssetBundle, *ReconcileError) {
	b, ok := c.AssetBundles[name]
	if !ok {
		return AssetBundle{}, NewUnknownResource(string(NodeTypeAssetBundle), name)
	}
	return b, nil
}

// Service returns the named service descriptor, or an UnknownResource error.
func (c *Catalog) Service(name string) (ServiceDescriptor, *ReconcileError) {
	s, ok := c.Services[name]
	if !ok {
		return ServiceDescriptor{}, NewUnknownResource(string(NodeTypeService), name)
	}
	return s, nil
}

// PackNames returns all pack names in sorted order.
func (c *Catalog) PackNames() []string { return sortedKeys(c.Packs) }

// ExtensionNames returns all extension names in sorted order.
func (c *Catalog) ExtensionNames() []string { return sortedKeys(c.Extensions) }

// AssetBundleNames returns all bundle names in sorted order.
func (c *Catalog) AssetBundleNames() []string { return sortedKeys(c.AssetBundles) }

// ServiceNames returns all service names in sorted order.
func (c *Catalog) ServiceNames() []string { return sortedKeys(c.Services) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BundleSelection is a desired asset bundle with its per-bundle install
// options, passed through to the asset installer unchanged.
type BundleSelection struct {
	// Name is the bundle name.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Only restricts installation to a subset of artifacts.
	Only []string `json:"only,omitempty" yaml:"only,omitempty"`

	// Strict enables strict URL-allowlist behavior for this bundle.
	Strict *bool `json:"strict,omitempty" yaml:"strict,omitempty"`

	// RAG marks the bundle for retrieval-augmented-generation indexing.
	RAG bool `json:"rag,omitempty" yaml:"rag,omitempty"`
}

// RuntimeFlags are the desired-state runtime toggles, passed through to the
// plan unchanged.
type RuntimeFlags struct {
	// ComposeRegen requests regeneration of the compose artifact.
	ComposeRegen bool `json:"compose_regen" yaml:"compose_regen"`

	// ComposeUp requests bringing the stack up after generation.
	ComposeUp bool `json:"compose_up" yaml:"compose_up"`

	// RemoveOrphans gates removal of extra (undesired) services.
	RemoveOrphans bool `json:"remove_orphans" yaml:"remove_orphans"`
}

// Options are the desired-state global options.
type Options struct {
	// Mirror is the preferred download mirror.
	Mirror string `json:"mirror,omitempty" yaml:"mirror,omitempty"`

	// StrictURLAllowlistDefault is the default strict-allowlist behavior for
	// bundles that do not set their own.
	StrictURLAllowlistDefault bool `json:"strict_url_allowlist_default" yaml:"strict_url_allowlist_default"`
}

// DesiredState is the operator's target configuration. It is persisted and
// edited externally; the core only reads it.
type DesiredState struct {
	// PacksEnabled lists the packs that should be active.
	PacksEnabled []string `json:"packs_enabled" yaml:"packs_enabled"`

	// ExtensionsEnabled lists the extensions that should be active.
	ExtensionsEnabled []string `json:"extensions_enabled" yaml:"extensions_enabled"`

	// AssetBundles lists the desired bundles with per-bundle options.
	AssetBundles []BundleSelection `json:"asset_bundles" yaml:"asset_bundles" validate:"dive"`

	// Runtime holds the runtime toggles.
	Runtime RuntimeFlags `json:"runtime" yaml:"runtime"`

	// Options holds the global options.
	Options Options `json:"options" yaml:"options"`
}

// BundleNames returns the desired bundle names in declaration order.
func (d *DesiredState) BundleNames() []string {
	names := make([]string, 0, len(d.AssetBundles))
	for _, b := range d.AssetBundles {
		names = append(names, b.Name)
	}
	return names
}

// ActualState is the machine-discovered current configuration. It is an
// immutable value object produced by a single discovery function and
// recomputed on every planning run; the core never persists it.
type ActualState struct {
	// PacksEnabled lists packs currently enabled on the machine.
	PacksEnabled []string `json:"packs_enabled"`

	// ExtensionsEnabled lists extensions whose enabled marker is present.
	ExtensionsEnabled []string `json:"extensions_enabled"`

	// BundlesInstalled lists bundles with a non-empty install manifest.
	BundlesInstalled []string `json:"bundles_installed"`

	// CollectedAt is when discovery ran.
	CollectedAt time.Time `json:"collected_at"`
}

// Plan is the computed diff between desired and actual state for all
// resource kinds. Plans are serializable; a stale plan must be regenerated,
// never trusted blindly.
type Plan struct {
	// ID is the unique plan identifier.
	ID string `json:"id"`

	// CreatedAt is when the plan was computed.
	CreatedAt time.Time `json:"created_at"`

	// StateHash is a content hash over catalog, desired state, and the
	// discovered actual state, used as the cache key for this plan.
	StateHash string `json:"state_hash"`

	// PacksEnable lists packs to enable (desired minus actual).
	PacksEnable []string `json:"packs_enable"`

	// PacksDisable lists packs to disable (actual minus desired).
	PacksDisable []string `json:"packs_disable"`

	// ExtensionsEnable lists extensions to enable.
	ExtensionsEnable []string `json:"extensions_enable"`

	// ExtensionsDisable lists extensions to disable.
	ExtensionsDisable []string `json:"extensions_disable"`

	// AssetsInstall lists bundles queued for install: directly desired with
	// an empty or absent manifest. Bundle dependency closures are not
	// auto-expanded into this list; dependency packs are enabled instead.
	AssetsInstall []string `json:"assets_install"`

	// Runtime carries the desired runtime toggles, unchanged.
	Runtime RuntimeFlags `json:"runtime"`

	// Options carries the desired global options, unchanged.
	Options Options `json:"options"`

	// RootCauses maps a changed resource key ("pack:name") to the rendered
	// explanation chain that justifies the change.
	RootCauses map[string]string `json:"root_causes,omitempty"`

	// Warnings are non-fatal configuration smells surfaced while planning.
	Warnings []string `json:"warnings,omitempty"`

	// Summary provides per-kind change counts.
	Summary PlanSummary `json:"summary"`
}

// PlanSummary provides statistics about a plan.
type PlanSummary struct {
	// PacksEnable is the number of packs to enable.
	PacksEnable int `json:"packs_enable"`

	// PacksDisable is the number of packs to disable.
	PacksDisable int `json:"packs_disable"`

	// ExtensionsEnable is the number of extensions to enable.
	ExtensionsEnable int `json:"extensions_enable"`

	// ExtensionsDisable is the number of extensions to disable.
	ExtensionsDisable int `json:"extensions_disable"`

	// AssetsInstall is the number of bundles queued for install.
	AssetsInstall int `json:"assets_install"`
}

// IsNoop returns true when all four diff lists are empty. Apply must treat a
// no-op plan as success without side effects unless forced.
func (p *Plan) IsNoop() bool {
	return len(p.PacksEnable) == 0 && len(p.PacksDisable) == 0 &&
		len(p.ExtensionsEnable) == 0 && len(p.ExtensionsDisable) == 0 &&
		len(p.AssetsInstall) == 0
}

// Closure is the transitive dependency closure over a starting set, plus the
// reverse-requirement map used for explanations.
type Closure struct {
	// Members is the sorted transitive closure, including the wanted set.
	Members []string `json:"members"`

	// RequiredBy maps each resolved-but-not-directly-wanted member to the
	// sorted set of requesters that pulled it in.
	RequiredBy map[string][]string `json:"required_by,omitempty"`

	// Warnings lists detected dependency cycles. Cycles terminate safely but
	// are a configuration smell worth surfacing.
	Warnings []string `json:"warnings,omitempty"`
}

// Contains returns true if name is a member of the closure.
func (c *Closure) Contains(name string) bool {
	for _, m := range c.Members {
		if m == name {
			return true
		}
	}
	return false
}

// RunningService is one managed service as reported by the container runtime.
type RunningService struct {
	// Name is the service name, from the management label.
	Name string `json:"name"`

	// Running is true when the service is in a running state.
	Running bool `json:"running"`

	// Hash is the content-hash label the service was created with.
	Hash string `json:"hash,omitempty"`
}

// DriftItem is the classification of one service.
type DriftItem struct {
	// Service is the service name.
	Service string `json:"service"`

	// Class is the drift bucket the service falls into.
	Class DriftClass `json:"class"`

	// DesiredHash is the content hash recorded at assembly time, if desired.
	DesiredHash string `json:"desired_hash,omitempty"`

	// ActualHash is the content hash the running service carries, if present.
	ActualHash string `json:"actual_hash,omitempty"`

	// Explanation is the requirement chain for the service, when available.
	Explanation string `json:"explanation,omitempty"`
}

// DriftReport is the full drift classification for one reconciliation pass.
type DriftReport struct {
	// ID is the unique report identifier.
	ID string `json:"id"`

	// GeneratedAt is when the report was produced.
	GeneratedAt time.Time `json:"generated_at"`

	// Items are the per-service classifications, sorted by service name.
	Items []DriftItem `json:"items"`

	// QueryFailed is true when the runtime query did not return a usable
	// running set; every item is then classified unknown.
	QueryFailed bool `json:"query_failed,omitempty"`

	// Summary counts items per drift class.
	Summary map[DriftClass]int `json:"summary"`
}

// Clean returns true when nothing needs a corrective action.
func (r *DriftReport) Clean() bool {
	if r.QueryFailed {
		return false
	}
	for _, it := range r.Items {
		if it.Class.NeedsAction() {
			return false
		}
	}
	return true
}

// Action is one corrective step against the container runtime. Actions are
// independent and idempotent; a failure in one does not roll back others.
type Action struct {
	// Type is the corrective action type.
	Type ActionType `json:"type"`

	// Service is the target service name.
	Service string `json:"service"`

	// Hash is the desired content hash for create/recreate actions.
	Hash string `json:"hash,omitempty"`
}

// ActionResult records the outcome of one corrective action.
type ActionResult struct {
	// Action is the action that was attempted.
	Action Action `json:"action"`

	// Applied is true when the action was executed (ModeApply) rather than
	// only reported (ModePlan).
	Applied bool `json:"applied"`

	// Error is the failure message, empty on success.
	Error string `json:"error,omitempty"`
}
