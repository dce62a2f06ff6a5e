package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/opengantry/gantry/pkg/engine"
)

// StateHash computes the cache key for a planning run: a sha256 over the
// catalog, the desired-state content, and the discovered actual state. A plan
// is a function of all three, so an external change to the machine (a pack
// toggled, a bundle installed) invalidates the cached plan. JSON map keys
// marshal in sorted order, so the hash is stable across runs for identical
// inputs. Timestamps never feed the hash: CollectedAt is excluded so repeated
// discovery of an unchanged machine keys the same entry.
func StateHash(cat *engine.Catalog, desired *engine.DesiredState, actual *engine.ActualState) (string, error) {
	var snapshot struct {
		Packs      []string `json:"packs"`
		Extensions []string `json:"extensions"`
		Bundles    []string `json:"bundles"`
	}
	if actual != nil {
		snapshot.Packs = actual.PacksEnabled
		snapshot.Extensions = actual.ExtensionsEnabled
		snapshot.Bundles = actual.BundlesInstalled
	}

	h := sha256.New()
	for _, part := range []any{cat, desired, snapshot} {
		data, err := json.Marshal(part)
		if err != nil {
			return "", engine.NewPermanentError("cannot hash state content", err).
				WithCode(engine.ErrCodeInternal)
		}
		fmt.Fprintf(h, "%d:", len(data))
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
