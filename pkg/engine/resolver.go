package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Resolver computes transitive dependency closures over the catalog's
// pack->pack, bundle->pack, and bundle->bundle edges.
type Resolver struct {
	catalog *Catalog
}

// NewResolver creates a resolver over the given catalog.
func NewResolver(catalog *Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// ResolvePacks computes the transitive closure of the wanted pack set.
// Traversal is depth-first over the declared depends edges with a visited set
// keyed by pack name, so a declared cycle terminates and is surfaced as a
// warning. Unknown references are collected rather than failing the first.
func (r *Resolver) ResolvePacks(wanted []string) (*Closure, error) {
	closure := &Closure{RequiredBy: make(map[string][]string)}
	visited := make(map[string]bool)
	onPath := make(map[string]bool)
	var problems ErrorList

	directlyWanted := make(map[string]bool, len(wanted))
	for _, name := range wanted {
		directlyWanted[name] = true
	}

	var walk func(name, requester string)
	walk = func(name, requester string) {
		if requester != "" {
			closure.RequiredBy[name] = append(closure.RequiredBy[name], requester)
		}
		if onPath[name] {
			warn := fmt.Sprintf("dependency cycle: pack %s is required by %s which it (transitively) depends on", name, requester)
			closure.Warnings = append(closure.Warnings, warn)
			problems.Append(NewWarning(warn, nil).
				WithCode(ErrCodeCycleDetected).
				WithResource(string(NodeTypePack), name))
			return
		}
		if visited[name] {
			return
		}
		pack, rerr := r.catalog.Pack(name)
		if rerr != nil {
			if requester != "" {
				rerr = rerr.WithChain(fmt.Sprintf("pack:%s <-needs- pack:%s", name, requester))
			}
			problems.Append(rerr)
			return
		}
		visited[name] = true
		onPath[name] = true
		closure.Members = append(closure.Members, name)
		for _, dep := range pack.Depends {
			walk(dep, name)
		}
		onPath[name] = false
	}

	for _, name := range sortedCopy(wanted) {
		walk(name, "")
	}

	normalizeClosure(closure, directlyWanted)
	return closure, problems.Err()
}

// BundleClosure is the result of resolving asset bundles: the bundle closure
// itself plus the pack closure its members require.
type BundleClosure struct {
	// Bundles is the transitive bundle closure.
	Bundles *Closure `json:"bundles"`

	// Packs is the pack closure pulled in through depends_packs edges.
	Packs *Closure `json:"packs"`
}

// ResolveBundles computes the transitive closure of the wanted bundle set,
// recursing into depends_assets for bundles and collecting depends_packs for
// a pack resolution pass.
func (r *Resolver) ResolveBundles(wanted []string) (*BundleClosure, error) {
	closure := &Closure{RequiredBy: make(map[string][]string)}
	visited := make(map[string]bool)
	onPath := make(map[string]bool)
	var problems ErrorList

	directlyWanted := make(map[string]bool, len(wanted))
	for _, name := range wanted {
		directlyWanted[name] = true
	}

	packWants := make(map[string][]string) // pack -> requesting bundles

	var walk func(name, requester string)
	walk = func(name, requester string) {
		if requester != "" {
			closure.RequiredBy[name] = append(closure.RequiredBy[name], requester)
		}
		if onPath[name] {
			warn := fmt.Sprintf("dependency cycle: asset bundle %s is required by %s which it (transitively) depends on", name, requester)
			closure.Warnings = append(closure.Warnings, warn)
			problems.Append(NewWarning(warn, nil).
				WithCode(ErrCodeCycleDetected).
				WithResource(string(NodeTypeAssetBundle), name))
			return
		}
		if visited[name] {
			return
		}
		bundle, rerr := r.catalog.AssetBundle(name)
		if rerr != nil {
			if requester != "" {
				rerr = rerr.WithChain(fmt.Sprintf("asset_bundle:%s <-depends- asset_bundle:%s", name, requester))
			}
			problems.Append(rerr)
			return
		}
		visited[name] = true
		onPath[name] = true
		closure.Members = append(closure.Members, name)
		for _, pack := range bundle.DependsPacks {
			packWants[pack] = append(packWants[pack], name)
		}
		for _, dep := range bundle.DependsAssets {
			walk(dep, name)
		}
		onPath[name] = false
	}

	for _, name := range sortedCopy(wanted) {
		walk(name, "")
	}

	normalizeClosure(closure, directlyWanted)

	packs, err := r.ResolvePacks(sortedKeys(packWants))
	if err != nil {
		var list *ErrorList
		if asErrorList(err, &list) {
			for _, e := range list.Errors() {
				problems.Append(e)
			}
		} else {
			problems.Append(NewPermanentError("pack resolution failed", err).WithCode(ErrCodeInternal))
		}
	}
	// The bundles that declared depends_packs are the requesters of the
	// directly wanted packs.
	for pack, requesters := range packWants {
		if packs.Contains(pack) {
			merged := append(packs.RequiredBy[pack], requesters...)
			packs.RequiredBy[pack] = dedupeSorted(merged)
		}
	}

	return &BundleClosure{Bundles: closure, Packs: packs}, problems.Err()
}

// ServiceClosure maps a resolved pack closure to the set of service names
// those packs provide, in sorted order.
func (r *Resolver) ServiceClosure(packs *Closure) ([]string, error) {
	var problems ErrorList
	set := make(map[string]bool)
	for _, pack := range packs.Members {
		for _, svc := range r.catalog.PackServices[pack] {
			if _, rerr := r.catalog.Service(svc); rerr != nil {
				problems.Append(rerr.WithChain(fmt.Sprintf("service:%s <-provides- pack:%s", svc, pack)))
				continue
			}
			set[svc] = true
		}
	}
	return sortedKeys(set), problems.Err()
}

// normalizeClosure sorts members, and sorts and dedupes the requester lists.
// Directly wanted members and names that never resolved carry no requirement
// entry.
func normalizeClosure(c *Closure, directlyWanted map[string]bool) {
	sort.Strings(c.Members)
	for name, requesters := range c.RequiredBy {
		if directlyWanted[name] || !c.Contains(name) {
			delete(c.RequiredBy, name)
			continue
		}
		c.RequiredBy[name] = dedupeSorted(requesters)
	}
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

func dedupeSorted(in []string) []string {
	sort.Strings(in)
	out := in[:0]
	for i, s := range in {
		if i == 0 || s != in[i-1] {
			out = append(out, s)
		}
	}
	return out
}

func asErrorList(err error, target **ErrorList) bool {
	if err == nil {
		return false
	}
	l, ok := err.(*ErrorList)
	if ok {
		*target = l
	}
	return ok
}

// FormatRequesters renders a requirement entry for human-readable output.
func FormatRequesters(name string, requesters []string) string {
	return fmt.Sprintf("%s (required by %s)", name, strings.Join(requesters, ", "))
}
