// Package engine implements Gantry's reconciliation core: dependency-closure
// resolution over packs, extensions, and asset bundles; desired-vs-actual
// diffing (planning); a typed resource graph used to explain requirement
// chains; and drift classification against the container runtime.
//
// The core is a sequence of pure, synchronous transformations over in-memory
// data:
//
//	Catalog -> Resolver -> Planner -> { GraphBuilder, compose assembly } -> Reconciler
//
// All state is either immutable (the Catalog), externally persisted (the
// DesiredState document, on-disk markers and manifests), or freshly computed
// per call (ActualState, Plan, ResourceGraph). The only blocking operations
// are at the boundary: reading catalog files and querying the container
// runtime through the Runtime interface.
//
// Known limitation: there is no safety across concurrent invocations by
// independent processes. Two simultaneous planners can compute conflicting
// plans against the same ActualState snapshot. Callers that need hardening
// should hold an external advisory lock around discover -> plan -> apply.
//
// Errors are classified ReconcileError values carrying the offending
// resource's type and name and, where available, the explanation chain that
// made the resource relevant. Per-resource problems are collected into an
// ErrorList and reported together; catalog-level structural errors abort the
// whole run.
package engine
