package catalog

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages the CUE schemas used to validate catalog documents
// before decoding. Schemas are compiled once at construction.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a schema registry with the built-in catalog
// schemas registered.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.mustRegister("packs", builtinPackSchema)
	sr.mustRegister("services", builtinServiceSchema)
	sr.mustRegister("asset_bundles", builtinAssetBundleSchema)
	sr.mustRegister("pack_services", builtinPackServiceSchema)
	sr.mustRegister("desired_state", builtinDesiredStateSchema)
	return sr
}

// Register compiles and registers a CUE schema under the given name.
func (sr *SchemaRegistry) Register(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	sr.schemas[name] = val
	return nil
}

func (sr *SchemaRegistry) mustRegister(name, schema string) {
	if err := sr.Register(name, schema); err != nil {
		panic(err)
	}
}

// Context returns the CUE context schemas were compiled in. Documents must
// be built in the same context to be unified against them.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// Validate unifies a document value against the named schema and reports the
// first structural mismatch.
func (sr *SchemaRegistry) Validate(name string, doc cue.Value) error {
	sr.mu.RLock()
	schema, ok := sr.schemas[name]
	sr.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no schema registered for %s", name)
	}
	unified := schema.Unify(doc)
	if err := unified.Err(); err != nil {
		return err
	}
	return unified.Validate(cue.Final())
}

const builtinPackSchema = `
packs: [string]: {
	description?: string
	depends?: [...string]
}
`

const builtinServiceSchema = `
services: [string]: {
	tier:      "core" | "ops"
	image:     string & !=""
	profiles?: [...string]
	ports?: [...string]
	environment?: [string]: string
	volumes?: [...string]
	depends_on?: [...string]
	restart?: string
}
`

const builtinAssetBundleSchema = `
#Artifact: {
	name:      string & !=""
	url:       string & !=""
	checksum?: string
	dir?:      string
}

asset_bundles: [string]: {
	description?: string
	depends_packs?: [...string]
	depends_assets?: [...string]
	models?: [...#Artifact]
	workflows?: [...#Artifact]
}
`

const builtinPackServiceSchema = `
pack_services: [string]: [...string]
`

const builtinDesiredStateSchema = `
packs_enabled?: [...string]
extensions_enabled?: [...string]
asset_bundles?: [...{
	name: string & !=""
	only?: [...string]
	strict?: bool
	rag?:    bool
}]
runtime?: {
	compose_regen?:  bool
	compose_up?:     bool
	remove_orphans?: bool
}
options?: {
	mirror?:                       string
	strict_url_allowlist_default?: bool
}
`
