package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Node is one typed entity in the resource graph. Its identity is a pure
// function of (type, name, source), so it is identical across runs and the
// graph can be diffed and audited.
type Node struct {
	// ID is the stable node identity.
	ID string `json:"id"`

	// Type is the node type.
	Type NodeType `json:"type"`

	// Name is the entity name.
	Name string `json:"name"`

	// Source names the registry or document the entity came from.
	Source string `json:"source,omitempty"`

	// Meta holds optional descriptive metadata.
	Meta map[string]string `json:"meta,omitempty"`
}

// Key returns the human-readable "type:name" form used in explanations.
func (n *Node) Key() string {
	return fmt.Sprintf("%s:%s", n.Type, n.Name)
}

// Edge is a typed relation between two nodes, referenced by node ID.
type Edge struct {
	// From is the source node ID.
	From string `json:"from"`

	// To is the target node ID.
	To string `json:"to"`

	// Relation is the edge relation.
	Relation Relation `json:"relation"`
}

// NodeID computes the stable identity for (type, name, source).
func NodeID(t NodeType, name, source string) string {
	sum := sha256.Sum256([]byte(string(t) + "|" + name + "|" + source))
	return hex.EncodeToString(sum[:])[:16]
}

// ResourceGraph is the unified node/edge model used to explain why any
// resource is present or required. It is rebuilt on each invocation from the
// catalog and desired state.
type ResourceGraph struct {
	// Nodes maps node ID to node.
	Nodes map[string]*Node `json:"nodes"`

	// Edges lists all edges.
	Edges []Edge `json:"edges"`

	// Root is the ID of the synthetic state node.
	Root string `json:"root"`

	// preds maps a node ID to its incoming edges, kept in deterministic
	// order for reproducible explanations.
	preds map[string][]Edge
}

// pred ordering follows catalog sorted-name iteration, so BFS tie-breaks are
// reproducible across runs.

// GraphBuilder materializes the catalog and desired state into a graph.
type GraphBuilder struct {
	catalog *Catalog
	desired *DesiredState
}

// NewGraphBuilder creates a graph builder.
func NewGraphBuilder(catalog *Catalog, desired *DesiredState) *GraphBuilder {
	return &GraphBuilder{catalog: catalog, desired: desired}
}

// Build constructs the graph: one node per catalog entity plus the synthetic
// state root, and the typed edges between them. Catalog entries are iterated
// in sorted-name order.
func (b *GraphBuilder) Build() *ResourceGraph {
	g := &ResourceGraph{
		Nodes: make(map[string]*Node),
		preds: make(map[string][]Edge),
	}

	g.Root = g.addNode(NodeTypeState, "desired", "state")

	profileIDs := make(map[string]string)

	for _, name := range b.catalog.PackNames() {
		pack := b.catalog.Packs[name]
		id := g.addNode(NodeTypePack, name, "pack_registry")
		if pack.Description != "" {
			g.Nodes[id].Meta = map[string]string{"description": pack.Description}
		}
	}
	for _, name := range b.catalog.ExtensionNames() {
		g.addNode(NodeTypeExtension, name, "extensions_dir")
	}
	for _, name := range b.catalog.AssetBundleNames() {
		g.addNode(NodeTypeAssetBundle, name, "asset_registry")
	}
	for _, name := range b.catalog.ServiceNames() {
		svc := b.catalog.Services[name]
		id := g.addNode(NodeTypeService, name, "service_registry")
		g.Nodes[id].Meta = map[string]string{"tier": string(svc.Tier)}
		for _, profile := range svc.Profiles {
			if _, ok := profileIDs[profile]; !ok {
				profileIDs[profile] = g.addNode(NodeTypeProfile, profile, "service_registry")
			}
		}
	}

	// state --wants--> every member of the desired state.
	for _, name := range sortedCopy(b.desired.PacksEnabled) {
		g.addEdgeIfPresent(g.Root, NodeTypePack, name, RelationWants)
	}
	for _, name := range sortedCopy(b.desired.ExtensionsEnabled) {
		g.addEdgeIfPresent(g.Root, NodeTypeExtension, name, RelationWants)
	}
	for _, name := range sortedCopy(b.desired.BundleNames()) {
		g.addEdgeIfPresent(g.Root, NodeTypeAssetBundle, name, RelationWants)
	}

	// Dependency and registry edges.
	for _, name := range b.catalog.PackNames() {
		pack := b.catalog.Packs[name]
		from := NodeID(NodeTypePack, name, "pack_registry")
		for _, dep := range sortedCopy(pack.Depends) {
			g.addEdgeIfPresent(from, NodeTypePack, dep, RelationNeeds)
		}
		for _, svc := range sortedCopy(b.catalog.PackServices[name]) {
			g.addEdgeIfPresent(from, NodeTypeService, svc, RelationProvides)
		}
	}
	for _, name := range b.catalog.ExtensionNames() {
		ext := b.catalog.Extensions[name]
		from := NodeID(NodeTypeExtension, name, "extensions_dir")
		for _, svc := range sortedCopy(ext.Services) {
			if g.has(NodeTypeService, svc, "service_registry") {
				g.addEdgeIfPresent(from, NodeTypeService, svc, RelationMapsTo)
			}
		}
	}
	for _, name := range b.catalog.AssetBundleNames() {
		bundle := b.catalog.AssetBundles[name]
		from := NodeID(NodeTypeAssetBundle, name, "asset_registry")
		for _, dep := range sortedCopy(bundle.DependsPacks) {
			g.addEdgeIfPresent(from, NodeTypePack, dep, RelationNeeds)
		}
		for _, dep := range sortedCopy(bundle.DependsAssets) {
			g.addEdgeIfPresent(from, NodeTypeAssetBundle, dep, RelationDepends)
		}
		for _, m := range bundle.Models {
			to := g.addNode(NodeTypeModel, m.Name, "asset_registry:"+name)
			g.addEdge(from, to, RelationContains)
		}
		for _, w := range bundle.Workflows {
			to := g.addNode(NodeTypeWorkflow, w.Name, "asset_registry:"+name)
			g.addEdge(from, to, RelationContains)
		}
	}
	for _, name := range b.catalog.ServiceNames() {
		svc := b.catalog.Services[name]
		from := NodeID(NodeTypeService, name, "service_registry")
		for _, profile := range sortedCopy(svc.Profiles) {
			g.addEdge(from, profileIDs[profile], RelationUsesProfile)
		}
	}

	return g
}

func (g *ResourceGraph) addNode(t NodeType, name, source string) string {
	id := NodeID(t, name, source)
	if _, ok := g.Nodes[id]; !ok {
		g.Nodes[id] = &Node{ID: id, Type: t, Name: name, Source: source}
	}
	return id
}

func (g *ResourceGraph) has(t NodeType, name, source string) bool {
	_, ok := g.Nodes[NodeID(t, name, source)]
	return ok
}

func (g *ResourceGraph) addEdge(from, to string, rel Relation) {
	e := Edge{From: from, To: to, Relation: rel}
	g.Edges = append(g.Edges, e)
	g.preds[to] = append(g.preds[to], e)
}

// addEdgeIfPresent resolves the target by (type, name) across the known
// sources and adds the edge when the node exists. A missing target is left to
// the planner's validation pass; the graph stays silent about it.
func (g *ResourceGraph) addEdgeIfPresent(from string, t NodeType, name string, rel Relation) {
	to := NodeID(t, name, sourceFor(t))
	if _, ok := g.Nodes[to]; !ok {
		return
	}
	g.addEdge(from, to, rel)
}

func sourceFor(t NodeType) string {
	switch t {
	case NodeTypePack:
		return "pack_registry"
	case NodeTypeExtension:
		return "extensions_dir"
	case NodeTypeAssetBundle:
		return "asset_registry"
	case NodeTypeService:
		return "service_registry"
	default:
		return string(t)
	}
}

// Lookup finds a node by type and name. Models and workflows carry their
// owning bundle in the source, so those fall back to a scan in sorted ID
// order.
func (g *ResourceGraph) Lookup(t NodeType, name string) (*Node, bool) {
	if n, ok := g.Nodes[NodeID(t, name, sourceFor(t))]; ok {
		return n, true
	}
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if n := g.Nodes[id]; n.Type == t && n.Name == name {
			return n, true
		}
	}
	return nil, false
}

// Hop is one step in an explanation chain.
type Hop struct {
	// Node is the "type:name" key of the node at this hop.
	Node string `json:"node"`

	// Relation is the label of the edge that was followed to reach the
	// previous hop. Empty for the starting node.
	Relation Relation `json:"relation,omitempty"`
}

// Explanation answers "why is node N required?" as the shortest chain from N
// back to the state root.
type Explanation struct {
	// Target is the "type:name" key of the explained node.
	Target string `json:"target"`

	// Referenced is false when no path to the state root exists; the node is
	// then unreferenced by the desired state (informational, not an error).
	Referenced bool `json:"referenced"`

	// Hops is the chain from the target up to the state root.
	Hops []Hop `json:"hops,omitempty"`
}

// Render formats the chain as "service:qdrant <-provides- pack:core <-wants- state".
func (e *Explanation) Render() string {
	if !e.Referenced {
		return fmt.Sprintf("%s is not referenced by the desired state", e.Target)
	}
	var sb strings.Builder
	for i, hop := range e.Hops {
		if i > 0 {
			fmt.Fprintf(&sb, " <-%s- ", hop.Relation)
		}
		if hop.Node == "state:desired" {
			sb.WriteString("state")
		} else {
			sb.WriteString(hop.Node)
		}
	}
	return sb.String()
}

// Explain performs a breadth-first search over the reverse adjacency starting
// from the node, looking for the shortest path to the state root. Among
// equal-length paths the first discovered wins; predecessor lists are built
// in sorted catalog order, so the result is deterministic.
func (g *ResourceGraph) Explain(t NodeType, name string) (*Explanation, *ReconcileError) {
	start, ok := g.Lookup(t, name)
	if !ok {
		return nil, NewUnknownResource(string(t), name)
	}
	expl := &Explanation{Target: start.Key()}

	parent := make(map[string]visitLink)
	seen := map[string]bool{start.ID: true}
	queue := []string{start.ID}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == g.Root {
			expl.Referenced = true
			expl.Hops = g.pathTo(start.ID, id, parent)
			return expl, nil
		}
		for _, e := range g.preds[id] {
			if seen[e.From] {
				continue
			}
			seen[e.From] = true
			parent[e.From] = visitLink{id: id, via: e.Relation}
			queue = append(queue, e.From)
		}
	}
	return expl, nil
}

// pathTo reconstructs the hop chain from start down to reached (the root),
// walking the BFS parent pointers backwards.
func (g *ResourceGraph) pathTo(start, reached string, parent map[string]visitLink) []Hop {
	// Collect the chain root -> ... -> start, then emit start-first with the
	// relation that connects each hop to the one before it.
	var rev []visitStep
	cur := reached
	for cur != start {
		p := parent[cur]
		rev = append(rev, visitStep{id: cur, via: p.via})
		cur = p.id
	}
	hops := []Hop{{Node: g.Nodes[start].Key()}}
	for i := len(rev) - 1; i >= 0; i-- {
		hops = append(hops, Hop{Node: g.Nodes[rev[i].id].Key(), Relation: rev[i].via})
	}
	return hops
}

// visitLink records, for a node discovered during reverse BFS, the node it
// was reached from and the edge relation that was followed.
type visitLink struct {
	id  string
	via Relation
}

type visitStep struct {
	id  string
	via Relation
}

// ToDOT generates a Graphviz representation of the graph.
func (g *ResourceGraph) ToDOT() string {
	var sb strings.Builder
	sb.WriteString("digraph ResourceGraph {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n")

	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		n := g.Nodes[id]
		sb.WriteString(fmt.Sprintf("  %q [label=%q];\n", id, n.Key()))
	}
	for _, e := range g.Edges {
		sb.WriteString(fmt.Sprintf("  %q -> %q [label=%q];\n", e.From, e.To, e.Relation))
	}
	sb.WriteString("}\n")
	return sb.String()
}
