// Package catalog loads Gantry's static registries from disk: pack
// definitions, the service registry, asset-bundle definitions, the
// pack-to-service mapping table, and extensions discovered by scanning the
// extensions directory.
//
// Documents are decoded exactly once into the typed entities in pkg/engine,
// validated structurally (validator tags plus CUE schemas), and
// cross-checked so every declared reference names a real entry. A shape
// mismatch is fatal at load time; unknown references are collected and
// reported together.
package catalog
