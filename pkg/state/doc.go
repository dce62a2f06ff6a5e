// Package state reads the two inputs of a reconciliation pass: the desired
// state document maintained by the operator, and the actual state discovered
// from the machine (exported pack flags, extension markers, asset-bundle
// install manifests).
//
// Actual state is recomputed on every run and never persisted here. Both
// sides are value objects; the core treats them as read-only.
package state
