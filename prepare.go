package mcon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// PreparedBuild is the plan for one build: the reachable nodes in
// execution order, their dependency edges, and the staleness
// classification of every entry.
type PreparedBuild struct {
	// Ordered holds every reachable node, dependencies first. A node
	// appears strictly after all of its dependencies.
	Ordered []Node

	// Edges maps each node to its effective dependencies.
	Edges map[Node][]Node

	// Outdated are the entries whose stored signature no longer
	// matches the observed one (or whose output is missing).
	Outdated map[Entry]bool

	// ToBuild is the closure of Outdated over the propagation rules;
	// the scheduler runs the builder of every node in it.
	ToBuild map[Node]bool

	// Changed are the ancestor entries whose observed metadata
	// differs from the stored signature. Diagnostics only.
	Changed map[Entry]bool

	// EntryDeps maps each node to its ancestor entries: every entry
	// reachable through the effective-dependency relation.
	EntryDeps map[Node][]Entry

	// Targets are the resolved target nodes in argument order.
	Targets []Node
}

// ForceAll marks every ordered node to build, regardless of
// staleness.
func (p *PreparedBuild) ForceAll() {
	p.ToBuild = make(map[Node]bool, len(p.Ordered))
	for _, n := range p.Ordered {
		p.ToBuild[n] = true
	}
}

// PrepareBuild resolves targets, builds the dependency graph and
// classifies every entry against the metadata store. The returned
// plan is what Build executes.
func (ex *Execution) PrepareBuild(targets interface{}) (*PreparedBuild, error) {
	targetNodes, err := ex.resolveTargets(targets)
	if err != nil {
		return nil, err
	}

	all, edges := traverseGraph(targetNodes)

	ordered, err := sortDAG(all, edges)
	if err != nil {
		return nil, err
	}

	entryDeps := ancestorEntries(all, edges)

	// Observe filesystem metadata for every entry up front; the
	// staleness comparisons below reuse the same observation. The
	// scheduler's signature commit observes the filesystem afresh.
	meta := make(map[Entry]json.RawMessage)
	for _, n := range all {
		e, ok := n.(Entry)
		if !ok {
			continue
		}
		if e.Builder() == nil && !e.Exists() {
			return nil, xerrors.Errorf("%s required but not present on filesystem: %w", nodeDisplay(e), ErrMissingInput)
		}
		m, err := e.Metadata()
		if err != nil {
			return nil, err
		}
		meta[e] = m
	}

	outdated := make(map[Entry]bool)
	changed := make(map[Entry]bool)
	for _, n := range all {
		e, ok := n.(Entry)
		if !ok || e.Builder() == nil {
			continue
		}
		if !e.Exists() {
			outdated[e] = true
			continue
		}
		newSig, err := signature(meta, entryDeps[e])
		if err != nil {
			return nil, err
		}
		oldSig, err := ex.store.Get(e.Path())
		if err != nil {
			return nil, err
		}
		if oldSig == nil {
			// Never committed: the last build either did not run this
			// entry or did not complete it.
			outdated[e] = true
			continue
		}
		if !bytes.Equal(oldSig, newSig) {
			outdated[e] = true
			for _, path := range changedKeys(oldSig, newSig) {
				if dep, ok := ex.entryAt(path); ok {
					changed[dep] = true
				}
			}
		}
	}

	// Builders are not assumed pure: once any input rebuilds, every
	// transitive dependent rebuilds too.
	toBuild := make(map[Node]bool, len(outdated))
	for e := range outdated {
		toBuild[e] = true
	}
	for _, n := range ordered {
		if toBuild[n] {
			continue
		}
		for _, dep := range edges[n] {
			if toBuild[dep] {
				toBuild[n] = true
				break
			}
		}
	}

	// A non-entry dependency's contents are only defined once its
	// builder has run, so a node that rebuilds drags its non-entry
	// dependencies into the plan. Builder-less ones are zero work for
	// the scheduler but keep the walk going: a FileSet wrapping
	// another FileSet still reaches the producing builder. Walked in
	// reverse order so chains of non-entry nodes propagate.
	for i := len(ordered) - 1; i >= 0; i-- {
		n := ordered[i]
		if !toBuild[n] {
			continue
		}
		for _, dep := range edges[n] {
			if _, isEntry := dep.(Entry); !isEntry {
				toBuild[dep] = true
			}
		}
	}

	return &PreparedBuild{
		Ordered:   ordered,
		Edges:     edges,
		Outdated:  outdated,
		ToBuild:   toBuild,
		Changed:   changed,
		EntryDeps: entryDeps,
		Targets:   targetNodes,
	}, nil
}

// effectiveDeps returns a node's effective dependency set: its
// explicit depends, its builder's depends, and the explicit depends of
// its sibling outputs. Self references are skipped and each dependency
// is reported once.
func effectiveDeps(n Node) []Node {
	var deps []Node
	seen := make(map[Node]bool)
	add := func(d Node) {
		if d == n || seen[d] {
			return
		}
		seen[d] = true
		deps = append(deps, d)
	}
	for _, d := range n.DependsOn() {
		add(d)
	}
	if b := n.Builder(); b != nil {
		for _, d := range b.Depends() {
			add(d)
		}
		for _, sib := range b.Builds() {
			if sib == n {
				continue
			}
			for _, d := range sib.DependsOn() {
				add(d)
			}
		}
	}
	return deps
}

// traverseGraph walks depth-first from the targets along effective
// dependencies and returns the reachable nodes and the edge map.
func traverseGraph(targets []Node) ([]Node, map[Node][]Node) {
	var all []Node
	edges := make(map[Node][]Node)
	seen := make(map[Node]bool)

	toVisit := append([]Node(nil), targets...)
	for len(toVisit) > 0 {
		n := toVisit[len(toVisit)-1]
		toVisit = toVisit[:len(toVisit)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		all = append(all, n)

		deps := effectiveDeps(n)
		edges[n] = deps
		for _, dep := range deps {
			if !seen[dep] {
				toVisit = append(toVisit, dep)
			}
		}
	}
	return all, edges
}

// sortDAG returns the nodes in execution order, dependencies first.
// Edges point from dependent to dependency, so the topological sort of
// that graph is reversed. A cycle fails with the residual edges.
func sortDAG(all []Node, edges map[Node][]Node) ([]Node, error) {
	g := simple.NewDirectedGraph()
	for _, n := range all {
		g.AddNode(n)
	}
	for n, deps := range edges {
		for _, dep := range deps {
			g.SetEdge(g.NewEdge(n, dep))
		}
	}

	sorted, err := topo.Sort(g)
	if err != nil {
		uo, ok := err.(topo.Unorderable)
		if !ok {
			return nil, err
		}
		return nil, cycleError(uo, edges)
	}

	ordered := make([]Node, len(sorted))
	for i, gn := range sorted {
		ordered[len(sorted)-1-i] = gn.(Node)
	}
	return ordered, nil
}

// cycleError renders the residual edges of the cyclic components.
func cycleError(uo topo.Unorderable, edges map[Node][]Node) error {
	var lines []string
	for _, component := range uo {
		inComponent := make(map[graph.Node]bool, len(component))
		for _, gn := range component {
			inComponent[gn] = true
		}
		for _, gn := range component {
			n := gn.(Node)
			for _, dep := range edges[n] {
				if inComponent[dep] {
					lines = append(lines, fmt.Sprintf("%s → %s", nodeDisplay(n), nodeDisplay(dep)))
				}
			}
		}
	}
	sort.Strings(lines)
	return fmt.Errorf("%w:\n%s", ErrCycle, strings.Join(lines, "\n"))
}

// ancestorEntries computes, for every node, the set of entries
// reachable through the effective-dependency relation, traversing
// through non-entry nodes.
func ancestorEntries(all []Node, edges map[Node][]Node) map[Node][]Entry {
	result := make(map[Node][]Entry, len(all))
	for _, n := range all {
		var entries []Entry
		seen := make(map[Node]bool)
		toVisit := append([]Node(nil), edges[n]...)
		for len(toVisit) > 0 {
			v := toVisit[len(toVisit)-1]
			toVisit = toVisit[:len(toVisit)-1]
			if seen[v] {
				continue
			}
			seen[v] = true
			if e, ok := v.(Entry); ok {
				entries = append(entries, e)
			}
			toVisit = append(toVisit, edges[v]...)
		}
		result[n] = entries
	}
	return result
}

// signature serializes the observed metadata of the given ancestor
// entries, keyed by path. encoding/json writes map keys in sorted
// order, so equal signatures are byte-equal.
func signature(meta map[Entry]json.RawMessage, deps []Entry) ([]byte, error) {
	doc := make(map[string]json.RawMessage, len(deps))
	for _, e := range deps {
		m, ok := meta[e]
		if !ok {
			var err error
			if m, err = e.Metadata(); err != nil {
				return nil, err
			}
			meta[e] = m
		}
		doc[e.Path()] = m
	}
	return json.Marshal(doc)
}

// changedKeys returns the paths whose metadata differs between two
// signature documents.
func changedKeys(oldSig, newSig []byte) []string {
	var oldDoc, newDoc map[string]json.RawMessage
	if json.Unmarshal(oldSig, &oldDoc) != nil || json.Unmarshal(newSig, &newDoc) != nil {
		return nil
	}
	var keys []string
	for k, v := range newDoc {
		if old, ok := oldDoc[k]; !ok || !bytes.Equal(old, v) {
			keys = append(keys, k)
		}
	}
	for k := range oldDoc {
		if _, ok := newDoc[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
