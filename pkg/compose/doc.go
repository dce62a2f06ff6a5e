// Package compose renders service descriptors into canonical blocks and
// assembles them, together with selected extension fragments, into the final
// compose artifact.
//
// Rendering is a pure function: the same descriptor always yields the same
// block and sha256 content hash. Assembly is byte-identical for identical
// inputs; the generation timestamp lives only in the fingerprint, never in
// the artifact. Drift detection depends on both properties.
package compose
