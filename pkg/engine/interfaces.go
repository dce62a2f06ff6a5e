package engine

import "context"

// Runtime is the boundary to the container runtime. The core only ever
// issues single synchronous calls through it; retry and backoff, if any,
// belong to the implementation, not here.
type Runtime interface {
	// ListManaged returns the currently running resource set: every managed
	// service with its name, running state, and the content-hash label it
	// was created with. A failed query must return an error; the caller
	// degrades drift classification to unknown rather than assuming a
	// default.
	ListManaged(ctx context.Context) ([]RunningService, error)

	// CreateService creates a missing service from its descriptor, attaching
	// the content hash as a management label.
	CreateService(ctx context.Context, svc ServiceDescriptor, hash string) error

	// RestartService restarts a stopped service.
	RestartService(ctx context.Context, name string) error

	// RecreateService force-recreates a hash-drifted service.
	RecreateService(ctx context.Context, svc ServiceDescriptor, hash string) error

	// RemoveService removes an extra service.
	RemoveService(ctx context.Context, name string) error
}

// PlanStore persists plans, fingerprints, and drift reports across
// invocations. Cached entries are keyed by a content hash over catalog plus
// desired state, never by timestamp.
type PlanStore interface {
	// SavePlan persists a computed plan.
	SavePlan(ctx context.Context, plan *Plan) error

	// GetPlanByStateHash returns the cached plan for a state hash, or a
	// not-found error.
	GetPlanByStateHash(ctx context.Context, stateHash string) (*Plan, error)

	// SaveFingerprint records the assembly fingerprint and the per-service
	// desired hashes it was generated with.
	SaveFingerprint(ctx context.Context, fp *Fingerprint) error

	// LatestFingerprint returns the most recently recorded fingerprint.
	LatestFingerprint(ctx context.Context) (*Fingerprint, error)

	// SaveDriftReport persists a drift report.
	SaveDriftReport(ctx context.Context, report *DriftReport) error
}

// Fingerprint records one assembly: when it was generated, the content hash
// of the final artifact, the per-service desired hashes, and the selection
// rationale for the chosen fragments.
type Fingerprint struct {
	// ID is the unique fingerprint identifier.
	ID string `json:"id"`

	// GeneratedAt is when the artifact was assembled.
	GeneratedAt string `json:"generated_at"`

	// ArtifactHash is the sha256 of the final merged artifact.
	ArtifactHash string `json:"artifact_hash"`

	// ServiceHashes maps service name to its rendered content hash.
	ServiceHashes map[string]string `json:"service_hashes"`

	// Fragments records which extension fragments were selected and why.
	Fragments []FragmentSelection `json:"fragments,omitempty"`
}

// FragmentSelection records one fragment choice and its rationale.
type FragmentSelection struct {
	// Extension is the owning extension name.
	Extension string `json:"extension"`

	// Reason is why the fragment was selected: "extension enabled" or the
	// overlapping service names that pulled it in transitively.
	Reason string `json:"reason"`
}
