package state

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opengantry/gantry/pkg/catalog"
	"github.com/opengantry/gantry/pkg/engine"
)

// PackFlagPrefix prefixes the exported flag variable for one pack. The pack
// name is upper-cased with the flag convention, so pack "rag_stack" is
// enabled by GANTRY_PACK_RAG_STACK=true.
const PackFlagPrefix = "GANTRY_PACK_"

// Paths locates the on-disk inputs of actual-state discovery. They are
// written by external collaborators (apply driver, asset installer); this
// package only reads them.
type Paths struct {
	// FlagsFile is the exported enabled-pack flags file.
	FlagsFile string

	// ExtensionsDir is the extensions directory scanned for enabled markers.
	ExtensionsDir string

	// ManifestsDir holds per-bundle install manifests (<bundle>.yaml).
	ManifestsDir string
}

// Discover reads the machine's current configuration. Discovery tolerates
// missing inputs: an absent flags file, extensions directory, or manifests
// directory just yields empty lists.
func Discover(paths Paths) (*engine.ActualState, error) {
	packs, err := enabledPacks(paths.FlagsFile)
	if err != nil {
		return nil, err
	}
	extensions, err := enabledExtensions(paths.ExtensionsDir)
	if err != nil {
		return nil, err
	}
	bundles, err := installedBundles(paths.ManifestsDir)
	if err != nil {
		return nil, err
	}
	return &engine.ActualState{
		PacksEnabled:      packs,
		ExtensionsEnabled: extensions,
		BundlesInstalled:  bundles,
		CollectedAt:       time.Now().UTC(),
	}, nil
}

// enabledPacks parses the exported-flags file. The file is shell-style
// KEY=VALUE lines; only GANTRY_PACK_* keys with a truthy value count.
func enabledPacks(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, engine.NewPermanentError("cannot read pack flags file", err)
	}
	defer f.Close()

	var packs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimPrefix(line, "export ")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || !strings.HasPrefix(key, PackFlagPrefix) {
			continue
		}
		if !truthy(strings.Trim(value, `"'`)) {
			continue
		}
		packs = append(packs, strings.ToLower(strings.TrimPrefix(key, PackFlagPrefix)))
	}
	if err := scanner.Err(); err != nil {
		return nil, engine.NewPermanentError("cannot read pack flags file", err)
	}
	sort.Strings(packs)
	return packs, nil
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// enabledExtensions lists extension directories carrying the enabled marker.
func enabledExtensions(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, engine.NewPermanentError("cannot scan extensions directory", err)
	}
	var enabled []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		marker := filepath.Join(dir, entry.Name(), catalog.MarkerFile)
		if _, err := os.Stat(marker); err == nil {
			enabled = append(enabled, entry.Name())
		}
	}
	sort.Strings(enabled)
	return enabled, nil
}

// installManifest is the shape written by the asset installer. A bundle is
// installed only when its manifest lists at least one artifact.
type installManifest struct {
	Models    []string `yaml:"models"`
	Workflows []string `yaml:"workflows"`
}

// installedBundles lists bundles with a non-empty install manifest. Empty or
// unparsable manifests count as not installed; planning will queue the bundle
// again rather than trust a partial install.
func installedBundles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, engine.NewPermanentError("cannot scan install manifests directory", err)
	}
	var installed []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("cannot read install manifest %s", name), err)
		}
		var manifest installManifest
		if err := yaml.Unmarshal(bytes.TrimSpace(data), &manifest); err != nil {
			continue
		}
		if len(manifest.Models) == 0 && len(manifest.Workflows) == 0 {
			continue
		}
		installed = append(installed, strings.TrimSuffix(name, ".yaml"))
	}
	sort.Strings(installed)
	return installed, nil
}
