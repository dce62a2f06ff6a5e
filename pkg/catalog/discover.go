package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/opengantry/gantry/pkg/engine"
)

// Per-extension file names.
const (
	// FragmentFile is the compose fragment an extension may ship.
	FragmentFile = "compose.yaml"

	// MarkerFile marks an extension as enabled. The marker is actual state,
	// written and removed by the apply driver; discovery here only records
	// the extension's existence and fragment.
	MarkerFile = "enabled"
)

// fragmentDoc is the minimal shape read from a fragment: the declared
// service names. The fragment body itself is merged verbatim at assembly
// time, never re-parsed for structure beyond this.
type fragmentDoc struct {
	Services map[string]yaml.Node `yaml:"services"`
}

// DiscoverExtensions scans dir for extension directories. Each subdirectory
// is one extension; a compose.yaml inside it is its fragment. A missing
// extensions directory yields an empty result, not an error.
func DiscoverExtensions(dir string) ([]engine.Extension, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, engine.NewPermanentError("cannot scan extensions directory", err).
			WithCode(engine.ErrCodeCatalogMalformed)
	}

	var extensions []engine.Extension
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		ext := engine.Extension{
			Name: entry.Name(),
			Dir:  filepath.Join(dir, entry.Name()),
		}
		fragment := filepath.Join(ext.Dir, FragmentFile)
		if _, err := os.Stat(fragment); err == nil {
			ext.FragmentPath = fragment
			services, err := fragmentServices(fragment)
			if err != nil {
				return nil, err
			}
			ext.Services = services
		}
		extensions = append(extensions, ext)
	}

	sort.Slice(extensions, func(i, j int) bool { return extensions[i].Name < extensions[j].Name })
	return extensions, nil
}

// fragmentServices returns the service names a fragment declares, sorted.
func fragmentServices(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("cannot read extension fragment %s", path), err).
			WithCode(engine.ErrCodeCatalogMalformed)
	}
	var doc fragmentDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("extension fragment %s is not valid YAML", path), err).
			WithCode(engine.ErrCodeCatalogMalformed)
	}
	names := make([]string, 0, len(doc.Services))
	for name := range doc.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
