// Package runtime implements the container-runtime boundary against the
// local Docker daemon. It only touches containers carrying the management
// label; everything else on the daemon is invisible to Gantry.
//
// Every call is a single synchronous request with context propagation.
// Retry and backoff belong to the caller, not here.
package runtime
