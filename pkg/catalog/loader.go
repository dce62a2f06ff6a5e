package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	cueyaml "cuelang.org/go/encoding/yaml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/opengantry/gantry/pkg/engine"
)

// Catalog document file names, resolved relative to the catalog directory.
const (
	PacksFile        = "packs.yaml"
	ServicesFile     = "services.yaml"
	AssetBundlesFile = "asset_bundles.yaml"
	PackServicesFile = "pack_services.yaml"
)

// Loader reads and validates the catalog documents.
type Loader struct {
	schemas  *SchemaRegistry
	validate *validator.Validate
}

// NewLoader creates a catalog loader.
func NewLoader() *Loader {
	return &Loader{
		schemas:  NewSchemaRegistry(),
		validate: validator.New(),
	}
}

type packsDoc struct {
	Packs map[string]engine.Pack `yaml:"packs"`
}

type servicesDoc struct {
	Services map[string]engine.ServiceDescriptor `yaml:"services"`
}

type assetBundlesDoc struct {
	AssetBundles map[string]engine.AssetBundle `yaml:"asset_bundles"`
}

type packServicesDoc struct {
	PackServices map[string][]string `yaml:"pack_services"`
}

// Load reads the four catalog documents from dir, discovers extensions under
// extensionsDir, validates everything, and returns the immutable catalog.
// Structural errors are fatal; unknown cross-references are collected and
// returned together.
func (l *Loader) Load(dir, extensionsDir string) (*engine.Catalog, error) {
	cat := &engine.Catalog{
		Packs:        make(map[string]engine.Pack),
		Extensions:   make(map[string]engine.Extension),
		AssetBundles: make(map[string]engine.AssetBundle),
		Services:     make(map[string]engine.ServiceDescriptor),
		PackServices: make(map[string][]string),
	}

	var packs packsDoc
	if err := l.loadDoc(filepath.Join(dir, PacksFile), "packs", &packs); err != nil {
		return nil, err
	}
	for name, p := range packs.Packs {
		p.Name = name
		cat.Packs[name] = p
	}

	var services servicesDoc
	if err := l.loadDoc(filepath.Join(dir, ServicesFile), "services", &services); err != nil {
		return nil, err
	}
	for name, s := range services.Services {
		s.Name = name
		if err := l.validate.Struct(s); err != nil {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("service %q failed validation", name), err).
				WithCode(engine.ErrCodeCatalogMalformed).
				WithResource(string(engine.NodeTypeService), name)
		}
		cat.Services[name] = s
	}

	var bundles assetBundlesDoc
	if err := l.loadDoc(filepath.Join(dir, AssetBundlesFile), "asset_bundles", &bundles); err != nil {
		return nil, err
	}
	for name, b := range bundles.AssetBundles {
		b.Name = name
		if err := l.validate.Struct(b); err != nil {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("asset bundle %q failed validation", name), err).
				WithCode(engine.ErrCodeCatalogMalformed).
				WithResource(string(engine.NodeTypeAssetBundle), name)
		}
		cat.AssetBundles[name] = b
	}

	var mapping packServicesDoc
	if err := l.loadDoc(filepath.Join(dir, PackServicesFile), "pack_services", &mapping); err != nil {
		return nil, err
	}
	cat.PackServices = mapping.PackServices
	if cat.PackServices == nil {
		cat.PackServices = make(map[string][]string)
	}

	extensions, err := DiscoverExtensions(extensionsDir)
	if err != nil {
		return nil, err
	}
	for _, ext := range extensions {
		cat.Extensions[ext.Name] = ext
	}

	if err := Verify(cat); err != nil {
		return nil, err
	}
	return cat, nil
}

// loadDoc reads one YAML document, validates it against its CUE schema, and
// decodes it into out.
func (l *Loader) loadDoc(path, schema string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.NewPermanentError(
			fmt.Sprintf("cannot read catalog document %s", filepath.Base(path)), err).
			WithCode(engine.ErrCodeCatalogMalformed)
	}

	file, err := cueyaml.Extract(path, data)
	if err != nil {
		return engine.NewPermanentError(
			fmt.Sprintf("catalog document %s is not valid YAML", filepath.Base(path)), err).
			WithCode(engine.ErrCodeCatalogMalformed)
	}
	doc := l.schemas.Context().BuildFile(file)
	if err := doc.Err(); err != nil {
		return engine.NewPermanentError(
			fmt.Sprintf("catalog document %s could not be evaluated", filepath.Base(path)), err).
			WithCode(engine.ErrCodeCatalogMalformed)
	}
	if err := l.schemas.Validate(schema, doc); err != nil {
		return engine.NewPermanentError(
			fmt.Sprintf("catalog document %s fails schema validation", filepath.Base(path)), err).
			WithCode(engine.ErrCodeCatalogMalformed)
	}

	if err := yaml.Unmarshal(data, out); err != nil {
		return engine.NewPermanentError(
			fmt.Sprintf("catalog document %s fails structural decoding", filepath.Base(path)), err).
			WithCode(engine.ErrCodeCatalogMalformed)
	}
	return nil
}

// Verify cross-checks every declared reference against its registry and
// collects the full list of unknown names.
func Verify(cat *engine.Catalog) error {
	var problems engine.ErrorList

	for _, name := range cat.PackNames() {
		for _, dep := range cat.Packs[name].Depends {
			if _, ok := cat.Packs[dep]; !ok {
				problems.Append(engine.NewUnknownResource(string(engine.NodeTypePack), dep).
					WithChain(fmt.Sprintf("pack:%s <-needs- pack:%s", dep, name)))
			}
		}
	}
	for _, name := range cat.AssetBundleNames() {
		b := cat.AssetBundles[name]
		for _, dep := range b.DependsPacks {
			if _, ok := cat.Packs[dep]; !ok {
				problems.Append(engine.NewUnknownResource(string(engine.NodeTypePack), dep).
					WithChain(fmt.Sprintf("pack:%s <-needs- asset_bundle:%s", dep, name)))
			}
		}
		for _, dep := range b.DependsAssets {
			if _, ok := cat.AssetBundles[dep]; !ok {
				problems.Append(engine.NewUnknownResource(string(engine.NodeTypeAssetBundle), dep).
					WithChain(fmt.Sprintf("asset_bundle:%s <-depends- asset_bundle:%s", dep, name)))
			}
		}
	}
	for pack, services := range cat.PackServices {
		if _, ok := cat.Packs[pack]; !ok {
			problems.Append(engine.NewUnknownResource(string(engine.NodeTypePack), pack).
				WithChain(fmt.Sprintf("pack:%s referenced by pack_services mapping", pack)))
		}
		for _, svc := range services {
			if _, ok := cat.Services[svc]; !ok {
				problems.Append(engine.NewUnknownResource(string(engine.NodeTypeService), svc).
					WithChain(fmt.Sprintf("service:%s <-provides- pack:%s", svc, pack)))
			}
		}
	}

	return problems.Err()
}
