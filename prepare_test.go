package mcon

import (
	"os"
	"testing"
)

// chain builds a three-stage pipeline src → mid → out and returns the
// nodes. src is written to disk as a pre-existing input.
func chain(t *testing.T, env *Environment) (src, mid, out *File) {
	t.Helper()
	writeFile(t, env.Root+"/src.txt", "source")

	var err error
	if src, err = env.File("src.txt"); err != nil {
		t.Fatal(err)
	}
	if mid, err = env.File("mid.txt"); err != nil {
		t.Fatal(err)
	}
	if out, err = env.File("out.txt"); err != nil {
		t.Fatal(err)
	}

	bm := newTestBuilder(env)
	if err := bm.RegisterTarget(mid); err != nil {
		t.Fatal(err)
	}
	if _, err := bm.DependsFile(src); err != nil {
		t.Fatal(err)
	}
	bm.buildFn = func() error { return copyContents(src, mid) }

	bo := newTestBuilder(env)
	if err := bo.RegisterTarget(out); err != nil {
		t.Fatal(err)
	}
	if _, err := bo.DependsFile(mid); err != nil {
		t.Fatal(err)
	}
	bo.buildFn = func() error { return copyContents(mid, out) }
	return src, mid, out
}

func copyContents(from, to *File) error {
	data, err := os.ReadFile(from.Path())
	if err != nil {
		return err
	}
	return os.WriteFile(to.Path(), data, 0644)
}

func TestTopologicalOrder(t *testing.T) {
	ex, env := testExecution(t)
	src, mid, out := chain(t, env)

	prepared, err := ex.PrepareBuild(out)
	if err != nil {
		t.Fatal(err)
	}

	pos := make(map[Node]int, len(prepared.Ordered))
	for i, n := range prepared.Ordered {
		pos[n] = i
	}
	for _, n := range []Node{src, mid, out} {
		if _, ok := pos[n]; !ok {
			t.Fatalf("%v not reachable from target", n)
		}
	}
	// A node appears strictly after all its dependencies.
	for n, deps := range prepared.Edges {
		for _, dep := range deps {
			if pos[dep] >= pos[n] {
				t.Errorf("%v ordered at %d, before its dependency %v at %d",
					n, pos[n], dep, pos[dep])
			}
		}
	}
}

func TestAncestorEntries(t *testing.T) {
	ex, env := testExecution(t)
	src, mid, out := chain(t, env)

	prepared, err := ex.PrepareBuild(out)
	if err != nil {
		t.Fatal(err)
	}

	got := make(map[Entry]bool)
	for _, e := range prepared.EntryDeps[out] {
		got[e] = true
	}
	if !got[mid] || !got[src] {
		t.Errorf("ancestor entries of out = %v, want both mid and src", prepared.EntryDeps[out])
	}
}

func TestSiblingDependencies(t *testing.T) {
	ex, env := testExecution(t)

	writeFile(t, env.Root+"/shared.txt", "x")
	shared, err := env.File("shared.txt")
	if err != nil {
		t.Fatal(err)
	}

	one, err := env.File("one.txt")
	if err != nil {
		t.Fatal(err)
	}
	two, err := env.File("two.txt")
	if err != nil {
		t.Fatal(err)
	}
	b := newTestBuilder(env)
	if err := b.RegisterTarget(one); err != nil {
		t.Fatal(err)
	}
	if err := b.RegisterTarget(two); err != nil {
		t.Fatal(err)
	}
	// Only one sibling declares the dependency explicitly.
	two.AddDepend(shared)

	prepared, err := ex.PrepareBuild(one)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, dep := range prepared.Edges[one] {
		if dep == shared {
			found = true
		}
	}
	if !found {
		t.Errorf("sibling's dependency missing from effective dependency set: %v", prepared.Edges[one])
	}
}

func TestDownwardPropagation(t *testing.T) {
	ex, env := testExecution(t)
	src, mid, out := chain(t, env)
	_ = src

	if err := ex.BuildTargets(out, BuildOptions{}); err != nil {
		t.Fatal(err)
	}

	// Invalidate only the middle artifact: mid is scheduled because it
	// is missing, and its dependent out must be scheduled with it.
	if err := os.Remove(mid.Path()); err != nil {
		t.Fatal(err)
	}

	prepared, err := ex.PrepareBuild(out)
	if err != nil {
		t.Fatal(err)
	}
	if !prepared.ToBuild[mid] {
		t.Errorf("removed mid not scheduled")
	}
	if !prepared.ToBuild[out] {
		t.Errorf("dependent of a scheduled node not scheduled")
	}
}
