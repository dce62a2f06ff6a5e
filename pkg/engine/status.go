package engine

import (
	"encoding/json"
	"fmt"
)

// Mode selects between computing changes and applying them. It is always an
// explicit value passed through function signatures, never read from ambient
// process state.
type Mode string

const (
	// ModePlan computes and reports changes without side effects.
	ModePlan Mode = "plan"

	// ModeApply computes changes and applies corrective actions.
	ModeApply Mode = "apply"
)

// Validate checks if the mode is valid.
func (m Mode) Validate() error {
	switch m {
	case ModePlan, ModeApply:
		return nil
	default:
		return fmt.Errorf("invalid mode: %s", m)
	}
}

// NodeType represents the type of an entity in the resource graph.
type NodeType string

const (
	// NodeTypeState is the synthetic root representing the desired state.
	NodeTypeState NodeType = "state"

	// NodeTypePack is an optional capability bundle.
	NodeTypePack NodeType = "pack"

	// NodeTypeExtension is a pluggable unit with an optional compose fragment.
	NodeTypeExtension NodeType = "extension"

	// NodeTypeAssetBundle is a named collection of downloadable artifacts.
	NodeTypeAssetBundle NodeType = "asset_bundle"

	// NodeTypeModel is a leaf downloadable model artifact.
	NodeTypeModel NodeType = "model"

	// NodeTypeWorkflow is a leaf downloadable workflow artifact.
	NodeTypeWorkflow NodeType = "workflow"

	// NodeTypeService is a runtime service from the registry.
	NodeTypeService NodeType = "service"

	// NodeTypeProfile is a compose profile tag.
	NodeTypeProfile NodeType = "profile"
)

// Validate checks if the node type is valid.
func (t NodeType) Validate() error {
	switch t {
	case NodeTypeState, NodeTypePack, NodeTypeExtension, NodeTypeAssetBundle,
		NodeTypeModel, NodeTypeWorkflow, NodeTypeService, NodeTypeProfile:
		return nil
	default:
		return fmt.Errorf("invalid node type: %s", t)
	}
}

// Relation represents a typed edge between two graph nodes.
type Relation string

const (
	// RelationWants connects the state root to every desired resource.
	RelationWants Relation = "wants"

	// RelationNeeds connects a resource to a pack dependency.
	RelationNeeds Relation = "needs"

	// RelationDepends connects an asset bundle to another asset bundle.
	RelationDepends Relation = "depends"

	// RelationProvides connects a pack to a service it maps to.
	RelationProvides Relation = "provides"

	// RelationMapsTo connects an extension to a service its fragment declares.
	RelationMapsTo Relation = "maps_to"

	// RelationUsesProfile connects a service to a profile tag.
	RelationUsesProfile Relation = "uses_profile"

	// RelationContains connects an asset bundle to its model/workflow leaves.
	RelationContains Relation = "contains"
)

// Validate checks if the relation is valid.
func (r Relation) Validate() error {
	switch r {
	case RelationWants, RelationNeeds, RelationDepends, RelationProvides,
		RelationMapsTo, RelationUsesProfile, RelationContains:
		return nil
	default:
		return fmt.Errorf("invalid relation: %s", r)
	}
}

// DriftClass represents the mutually exclusive drift bucket of a service.
type DriftClass string

const (
	// DriftMissing indicates the service is desired but not present at all.
	DriftMissing DriftClass = "missing"

	// DriftStopped indicates the service is present but not running.
	DriftStopped DriftClass = "stopped"

	// DriftHashDrifted indicates the service is running with a content hash
	// that differs from the desired hash.
	DriftHashDrifted DriftClass = "hash_drifted"

	// DriftExtra indicates the service is present but not in the desired set.
	DriftExtra DriftClass = "extra"

	// DriftInSync indicates the service matches the desired configuration.
	DriftInSync DriftClass = "in_sync"

	// DriftUnknown indicates the runtime query failed and no classification
	// could be made. Nothing is assumed in this state.
	DriftUnknown DriftClass = "unknown"
)

// NeedsAction returns true if the class requires a corrective action.
func (c DriftClass) NeedsAction() bool {
	return c == DriftMissing || c == DriftStopped || c == DriftHashDrifted || c == DriftExtra
}

// Validate checks if the drift class is valid.
func (c DriftClass) Validate() error {
	switch c {
	case DriftMissing, DriftStopped, DriftHashDrifted, DriftExtra, DriftInSync, DriftUnknown:
		return nil
	default:
		return fmt.Errorf("invalid drift class: %s", c)
	}
}

// ActionType represents a corrective action against the container runtime.
type ActionType string

const (
	// ActionCreate creates a missing service.
	ActionCreate ActionType = "create"

	// ActionRestart restarts a stopped service.
	ActionRestart ActionType = "restart"

	// ActionRecreate force-recreates a hash-drifted service.
	ActionRecreate ActionType = "recreate"

	// ActionRemove removes an extra service. Gated by the remove-orphans flag.
	ActionRemove ActionType = "remove"
)

// IsDestructive returns true if the action destroys a running service.
func (a ActionType) IsDestructive() bool {
	return a == ActionRecreate || a == ActionRemove
}

// Validate checks if the action type is valid.
func (a ActionType) Validate() error {
	switch a {
	case ActionCreate, ActionRestart, ActionRecreate, ActionRemove:
		return nil
	default:
		return fmt.Errorf("invalid action type: %s", a)
	}
}

// Tier splits the service registry into the always-on core set and the
// operational tooling set.
type Tier string

const (
	// TierCore marks services that belong to the base stack.
	TierCore Tier = "core"

	// TierOps marks operational/auxiliary services.
	TierOps Tier = "ops"
)

// Validate checks if the tier is valid.
func (t Tier) Validate() error {
	switch t {
	case TierCore, TierOps:
		return nil
	default:
		return fmt.Errorf("invalid tier: %s", t)
	}
}

// UnmarshalJSON implements validation-on-decode for drift classes.
func (c *DriftClass) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*c = DriftClass(s)
	return c.Validate()
}

// UnmarshalJSON implements validation-on-decode for action types.
func (a *ActionType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*a = ActionType(s)
	return a.Validate()
}
