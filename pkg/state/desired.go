package state

import (
	"fmt"
	"os"
	"sort"

	cueyaml "cuelang.org/go/encoding/yaml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/opengantry/gantry/pkg/catalog"
	"github.com/opengantry/gantry/pkg/engine"
)

// DesiredStateFile is the default desired-state document name.
const DesiredStateFile = "desired_state.yaml"

// LoadDesired reads and validates the desired-state document at path.
// The document is schema-checked before decoding; list entries are
// deduplicated and sorted so downstream diffs are order-independent.
func LoadDesired(path string) (*engine.DesiredState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewPermanentError("cannot read desired state document", err).
			WithCode(engine.ErrCodeValidation)
	}
	return ParseDesired(path, data)
}

// ParseDesired validates and decodes a desired-state document. The path is
// used for error positions only.
func ParseDesired(path string, data []byte) (*engine.DesiredState, error) {
	schemas := catalog.NewSchemaRegistry()

	file, err := cueyaml.Extract(path, data)
	if err != nil {
		return nil, engine.NewPermanentError("desired state document is not valid YAML", err).
			WithCode(engine.ErrCodeValidation)
	}
	doc := schemas.Context().BuildFile(file)
	if err := doc.Err(); err != nil {
		return nil, engine.NewPermanentError("desired state document could not be evaluated", err).
			WithCode(engine.ErrCodeValidation)
	}
	if err := schemas.Validate("desired_state", doc); err != nil {
		return nil, engine.NewPermanentError("desired state document fails schema validation", err).
			WithCode(engine.ErrCodeValidation)
	}

	var desired engine.DesiredState
	if err := yaml.Unmarshal(data, &desired); err != nil {
		return nil, engine.NewPermanentError("desired state document fails structural decoding", err).
			WithCode(engine.ErrCodeValidation)
	}
	if err := validator.New().Struct(&desired); err != nil {
		return nil, engine.NewPermanentError("desired state document failed validation", err).
			WithCode(engine.ErrCodeValidation)
	}

	desired.PacksEnabled = normalizeNames(desired.PacksEnabled)
	desired.ExtensionsEnabled = normalizeNames(desired.ExtensionsEnabled)
	if err := checkBundleUniqueness(desired.AssetBundles); err != nil {
		return nil, err
	}
	return &desired, nil
}

// normalizeNames sorts and deduplicates a name list.
func normalizeNames(names []string) []string {
	if len(names) == 0 {
		return names
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// checkBundleUniqueness rejects the same bundle selected twice, since the
// two selections could carry conflicting install options.
func checkBundleUniqueness(selections []engine.BundleSelection) error {
	seen := make(map[string]bool, len(selections))
	for _, sel := range selections {
		if seen[sel.Name] {
			return engine.NewPermanentError(
				fmt.Sprintf("asset bundle %q is selected more than once", sel.Name), nil).
				WithCode(engine.ErrCodeValidation).
				WithResource(string(engine.NodeTypeAssetBundle), sel.Name)
		}
		seen[sel.Name] = true
	}
	return nil
}
