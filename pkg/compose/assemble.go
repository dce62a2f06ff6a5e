package compose

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/opengantry/gantry/pkg/engine"
)

// Input selects what one assembly covers.
type Input struct {
	// Closure is the resolved service-name closure from planning.
	Closure []string

	// ExtensionsEnabled lists the desired extensions.
	ExtensionsEnabled []string

	// Subset restricts rendering to closure members. When false every
	// registry service is rendered.
	Subset bool
}

// Result is one assembled compose artifact with its fingerprint.
type Result struct {
	// Artifact is the final merged compose document.
	Artifact []byte

	// Blocks are the rendered registry services, keyed by name.
	Blocks map[string]*RenderedServiceBlock

	// Fingerprint records the artifact hash, per-service hashes, and the
	// fragment selection rationale.
	Fingerprint *engine.Fingerprint

	// Warnings lists non-fatal merge issues, such as a fragment service
	// shadowed by a registry service of the same name.
	Warnings []string
}

// Assembler merges rendered registry services and selected extension
// fragments into the final compose document.
type Assembler struct {
	catalog *engine.Catalog
}

// NewAssembler creates an assembler over the catalog.
func NewAssembler(cat *engine.Catalog) *Assembler {
	return &Assembler{catalog: cat}
}

// Assemble renders the selected services, picks fragments, and merges
// everything deterministically. Per-service failures are collected; a usable
// artifact is only produced when every selected service rendered.
func (a *Assembler) Assemble(in Input) (*Result, error) {
	var problems engine.ErrorList

	names := a.selectServices(in, &problems)
	blocks := make(map[string]*RenderedServiceBlock, len(names))
	var core, ops []*RenderedServiceBlock
	for _, name := range names {
		svc, rerr := a.catalog.Service(name)
		if rerr != nil {
			problems.Append(rerr)
			continue
		}
		block, err := Render(svc)
		if err != nil {
			problems.Append(asReconcileError(err))
			continue
		}
		blocks[name] = block
		switch block.Tier {
		case engine.TierOps:
			ops = append(ops, block)
		default:
			core = append(core, block)
		}
	}
	if err := problems.Err(); err != nil {
		return nil, err
	}

	fragments, selections, err := a.selectFragments(in)
	if err != nil {
		return nil, err
	}

	result := &Result{Blocks: blocks}
	artifact, err := mergeArtifact(core, ops, fragments, blocks, result)
	if err != nil {
		return nil, err
	}
	result.Artifact = artifact

	sum := sha256.Sum256(artifact)
	hashes := make(map[string]string, len(blocks))
	for name, block := range blocks {
		hashes[name] = block.Hash
	}
	result.Fingerprint = &engine.Fingerprint{
		ID:            uuid.New().String(),
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
		ArtifactHash:  hex.EncodeToString(sum[:]),
		ServiceHashes: hashes,
		Fragments:     selections,
	}
	return result, nil
}

// selectServices returns the sorted service names to render.
func (a *Assembler) selectServices(in Input, problems *engine.ErrorList) []string {
	if !in.Subset {
		return a.catalog.ServiceNames()
	}
	names := make([]string, 0, len(in.Closure))
	for _, name := range in.Closure {
		if _, ok := a.catalog.Services[name]; !ok {
			problems.Append(engine.NewUnknownResource(string(engine.NodeTypeService), name))
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// fragmentBody is one parsed fragment: its declared services in declaration
// order, carried as raw nodes so the fragment content merges verbatim.
type fragmentBody struct {
	extension string
	services  []fragmentService
}

type fragmentService struct {
	name string
	node *yaml.Node
}

// selectFragments picks fragments owned by an enabled extension or declaring
// a service in the closure, in sorted extension order.
func (a *Assembler) selectFragments(in Input) ([]fragmentBody, []engine.FragmentSelection, error) {
	enabled := make(map[string]bool, len(in.ExtensionsEnabled))
	for _, name := range in.ExtensionsEnabled {
		enabled[name] = true
	}
	closure := make(map[string]bool, len(in.Closure))
	for _, name := range in.Closure {
		closure[name] = true
	}

	var bodies []fragmentBody
	var selections []engine.FragmentSelection
	for _, name := range a.catalog.ExtensionNames() {
		ext := a.catalog.Extensions[name]
		if !ext.HasFragment() {
			continue
		}
		reason := ""
		switch {
		case enabled[name]:
			reason = "extension enabled"
		default:
			var overlap []string
			for _, svc := range ext.Services {
				if closure[svc] {
					overlap = append(overlap, svc)
				}
			}
			if len(overlap) > 0 {
				reason = "declares " + strings.Join(overlap, ", ") + " required by the closure"
			}
		}
		if reason == "" {
			continue
		}

		body, err := parseFragment(ext)
		if err != nil {
			return nil, nil, err
		}
		bodies = append(bodies, body)
		selections = append(selections, engine.FragmentSelection{Extension: name, Reason: reason})
	}
	return bodies, selections, nil
}

// parseFragment reads a fragment and splits its services mapping into named
// raw nodes, preserving the fragment's own ordering and content.
func parseFragment(ext engine.Extension) (fragmentBody, error) {
	data, err := os.ReadFile(ext.FragmentPath)
	if err != nil {
		return fragmentBody{}, engine.NewPermanentError(
			fmt.Sprintf("cannot read fragment of extension %q", ext.Name), err).
			WithCode(engine.ErrCodeCatalogMalformed).
			WithResource(string(engine.NodeTypeExtension), ext.Name)
	}
	var doc struct {
		Services map[string]yaml.Node `yaml:"services"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fragmentBody{}, engine.NewPermanentError(
			fmt.Sprintf("fragment of extension %q is not valid YAML", ext.Name), err).
			WithCode(engine.ErrCodeCatalogMalformed).
			WithResource(string(engine.NodeTypeExtension), ext.Name)
	}

	body := fragmentBody{extension: ext.Name}
	for _, name := range sortedFragmentKeys(doc.Services) {
		node := doc.Services[name]
		body.services = append(body.services, fragmentService{name: name, node: &node})
	}
	return body, nil
}

func sortedFragmentKeys(m map[string]yaml.Node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// mergeArtifact writes the final document: core blocks, then ops blocks,
// then fragment services, each group in sorted-name order. A fragment
// service whose name collides with a registry service or with an already
// merged fragment service is skipped; the earlier definition wins, so the
// services mapping never carries a duplicate key.
func mergeArtifact(core, ops []*RenderedServiceBlock, fragments []fragmentBody, blocks map[string]*RenderedServiceBlock, result *Result) ([]byte, error) {
	var sb strings.Builder
	sb.WriteString("services:\n")

	sortBlocks(core)
	sortBlocks(ops)
	for _, block := range append(append([]*RenderedServiceBlock{}, core...), ops...) {
		sb.WriteString("  " + block.Name + ":\n")
		sb.WriteString(indent(block.Block, 4))
	}

	merged := make(map[string]string)
	for _, frag := range fragments {
		for _, svc := range frag.services {
			if _, taken := blocks[svc.name]; taken {
				result.Warnings = append(result.Warnings, fmt.Sprintf(
					"fragment of extension %q redefines service %q; registry definition kept",
					frag.extension, svc.name))
				continue
			}
			if owner, taken := merged[svc.name]; taken {
				result.Warnings = append(result.Warnings, fmt.Sprintf(
					"fragment of extension %q redefines service %q; definition from extension %q kept",
					frag.extension, svc.name, owner))
				continue
			}
			merged[svc.name] = frag.extension
			body, err := marshalNode(svc.node)
			if err != nil {
				return nil, engine.NewPermanentError(
					fmt.Sprintf("cannot merge fragment service %q", svc.name), err).
					WithCode(engine.ErrCodeInternal)
			}
			sb.WriteString("  " + svc.name + ":\n")
			sb.WriteString(indent(body, 4))
		}
	}
	return []byte(sb.String()), nil
}

func sortBlocks(blocks []*RenderedServiceBlock) {
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Name < blocks[j].Name })
}

func marshalNode(node *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func indent(body []byte, spaces int) string {
	pad := strings.Repeat(" ", spaces)
	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = pad + line
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

func asReconcileError(err error) *engine.ReconcileError {
	if rerr, ok := err.(*engine.ReconcileError); ok {
		return rerr
	}
	return engine.NewPermanentError(err.Error(), err)
}
