// Package stores persists plans, assembly fingerprints, and drift reports in
// a local SQLite database. Cached plans are keyed by a content hash over
// catalog, desired state, and discovered actual state; a plan whose hash no
// longer matches is stale and must be regenerated, never trusted blindly.
package stores
