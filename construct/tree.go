package construct

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/mcon-build/mcon"
)

// PrintTree writes the dependency tree of the prepared build's
// targets: one block per target, entries marked O (out of date),
// B (to build) and C (changed), directories before files with a
// secondary sort by path. Subtrees already printed are elided.
// unicode selects box-drawing glyphs over plain ASCII.
func PrintTree(w io.Writer, p *mcon.PreparedBuild, unicode bool) {
	vert, tee, corner := "|  ", "+-", "`-"
	if unicode {
		vert, tee, corner = "│  ", "├─", "└─"
	}

	// Project the graph onto entries: a non-entry child is replaced by
	// its own children. Ordered is dependencies-first, so every child's
	// projection is complete before its dependents are visited.
	edges := make(map[mcon.Node][]mcon.Node, len(p.Edges))
	for n, deps := range p.Edges {
		edges[n] = append([]mcon.Node(nil), deps...)
	}
	for _, n := range p.Ordered {
		var projected []mcon.Node
		for _, child := range edges[n] {
			if _, ok := child.(mcon.Entry); ok {
				projected = append(projected, child)
			} else {
				projected = append(projected, edges[child]...)
			}
		}
		edges[n] = projected
	}

	fmt.Fprintln(w, "O = out of date")
	fmt.Fprintln(w, "B = to build")
	fmt.Fprintln(w, "C = changed")

	type frame struct {
		node  mcon.Node
		depth int
		last  bool
	}
	var stack []frame
	for i := len(p.Targets) - 1; i >= 0; i-- {
		stack = append(stack, frame{node: p.Targets[i]})
	}

	seen := make(map[mcon.Node]bool)
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		entry, ok := f.node.(mcon.Entry)
		if !ok {
			continue
		}

		if f.depth == 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s %s %s ",
			mark(p.Outdated[entry], "O"),
			mark(p.ToBuild[f.node], "B"),
			mark(p.Changed[entry], "C"))
		if f.depth == 0 {
			fmt.Fprintf(w, "%v\n", f.node)
		} else {
			branch := tee
			if f.last {
				branch = corner
			}
			fmt.Fprintf(w, "%s%s%v\n", strings.Repeat(vert, f.depth-1), branch, f.node)
		}

		if seen[f.node] {
			if len(edges[f.node]) > 0 {
				fmt.Fprintf(w, "      %s%s(child nodes shown above)\n", strings.Repeat(vert, f.depth), corner)
			}
			continue
		}
		seen[f.node] = true

		children := dedupe(edges[f.node])
		sort.SliceStable(children, func(i, j int) bool {
			vi, vj := variantRank(children[i]), variantRank(children[j])
			if vi != vj {
				return vi < vj
			}
			return entryPath(children[i]) < entryPath(children[j])
		})
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{
				node:  children[i],
				depth: f.depth + 1,
				last:  i == len(children)-1,
			})
		}
	}
}

func mark(set bool, glyph string) string {
	if set {
		return glyph
	}
	return " "
}

func dedupe(nodes []mcon.Node) []mcon.Node {
	var out []mcon.Node
	seen := make(map[mcon.Node]bool, len(nodes))
	for _, n := range nodes {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func variantRank(n mcon.Node) int {
	if _, ok := n.(*mcon.Dir); ok {
		return 0
	}
	return 1
}

func entryPath(n mcon.Node) string {
	if e, ok := n.(mcon.Entry); ok {
		return e.Path()
	}
	return ""
}
