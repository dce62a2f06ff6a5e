package compose

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/opengantry/gantry/pkg/engine"
)

// Management labels attached to every rendered service. The runtime layer
// filters containers by LabelManaged and reads the other two back during
// drift detection.
const (
	LabelManaged = "gantry.managed"
	LabelService = "gantry.service"
	LabelHash    = "gantry.hash"
)

// RenderedServiceBlock is the canonical rendition of one service descriptor.
type RenderedServiceBlock struct {
	// Name is the service name.
	Name string `json:"name"`

	// Tier is the descriptor's tier, used to split the assembly.
	Tier engine.Tier `json:"tier"`

	// Hash is the sha256 content hash, computed before the hash label is
	// appended so the hash never depends on itself.
	Hash string `json:"hash"`

	// Block is the final YAML body including the hash label.
	Block []byte `json:"-"`
}

// blockDoc fixes the field order of a rendered block. Map-typed fields
// marshal with sorted keys, so the whole block is order-stable.
type blockDoc struct {
	Profiles    []string          `yaml:"profiles,omitempty"`
	Image       string            `yaml:"image"`
	Ports       []string          `yaml:"ports,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	Volumes     []string          `yaml:"volumes,omitempty"`
	DependsOn   []string          `yaml:"depends_on,omitempty"`
	Restart     string            `yaml:"restart,omitempty"`
	Labels      map[string]string `yaml:"labels"`
}

// Render converts a descriptor into its canonical block. The render runs
// twice and the outputs are compared byte for byte; a mismatch means the
// rendition depends on something outside the descriptor and is rejected.
func Render(svc engine.ServiceDescriptor) (*RenderedServiceBlock, error) {
	first, hash, err := renderOnce(svc)
	if err != nil {
		return nil, err
	}
	second, hash2, err := renderOnce(svc)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(first, second) || hash != hash2 {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("service %q rendered differently on repeated render", svc.Name), nil).
			WithCode(engine.ErrCodeRenderNonDeterministic).
			WithResource(string(engine.NodeTypeService), svc.Name)
	}
	return &RenderedServiceBlock{Name: svc.Name, Tier: svc.Tier, Hash: hash, Block: first}, nil
}

func renderOnce(svc engine.ServiceDescriptor) ([]byte, string, error) {
	doc := blockDoc{
		Profiles:    svc.Profiles,
		Image:       svc.Image,
		Ports:       svc.Ports,
		Environment: svc.Environment,
		Volumes:     svc.Volumes,
		DependsOn:   svc.DependsOn,
		Restart:     svc.Restart,
		Labels: map[string]string{
			LabelManaged: "true",
			LabelService: svc.Name,
		},
	}

	// Hash the block before the hash label exists.
	prehash, err := marshalBlock(doc)
	if err != nil {
		return nil, "", renderError(svc.Name, err)
	}
	sum := sha256.Sum256(prehash)
	hash := hex.EncodeToString(sum[:])

	doc.Labels[LabelHash] = hash
	block, err := marshalBlock(doc)
	if err != nil {
		return nil, "", renderError(svc.Name, err)
	}
	return block, hash, nil
}

func marshalBlock(doc blockDoc) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderError(name string, err error) error {
	return engine.NewPermanentError(fmt.Sprintf("cannot render service %q", name), err).
		WithCode(engine.ErrCodeInternal).
		WithResource(string(engine.NodeTypeService), name)
}
