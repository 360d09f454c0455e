package mcon

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/xerrors"
)

// diamond assembles two independent first-stage builders feeding a
// third, so the parallel scheduler has concurrency to exploit.
func diamond(t *testing.T, env *Environment) (builders []*testBuilder, final *File) {
	t.Helper()
	writeFile(t, filepath.Join(env.Root, "s1.txt"), "left")
	writeFile(t, filepath.Join(env.Root, "s2.txt"), "right")

	o1, err := env.File("o1.txt")
	if err != nil {
		t.Fatal(err)
	}
	o2, err := env.File("o2.txt")
	if err != nil {
		t.Fatal(err)
	}
	final, err = env.File("final.txt")
	if err != nil {
		t.Fatal(err)
	}

	b1 := newTestBuilder(env)
	if err := b1.RegisterTarget(o1); err != nil {
		t.Fatal(err)
	}
	s1, err := b1.DependsFile("s1.txt")
	if err != nil {
		t.Fatal(err)
	}
	b1.buildFn = func() error { return copyContents(s1, o1) }

	b2 := newTestBuilder(env)
	if err := b2.RegisterTarget(o2); err != nil {
		t.Fatal(err)
	}
	s2, err := b2.DependsFile("s2.txt")
	if err != nil {
		t.Fatal(err)
	}
	b2.buildFn = func() error { return copyContents(s2, o2) }

	b3 := newTestBuilder(env)
	if err := b3.RegisterTarget(final); err != nil {
		t.Fatal(err)
	}
	if _, err := b3.DependsFile(o1); err != nil {
		t.Fatal(err)
	}
	if _, err := b3.DependsFile(o2); err != nil {
		t.Fatal(err)
	}
	b3.buildFn = func() error {
		left, err := os.ReadFile(o1.Path())
		if err != nil {
			return err
		}
		right, err := os.ReadFile(o2.Path())
		if err != nil {
			return err
		}
		return os.WriteFile(final.Path(), append(append(left, ' '), right...), 0644)
	}
	return []*testBuilder{b1, b2, b3}, final
}

func TestParallelMatchesSequential(t *testing.T) {
	run := func(t *testing.T, jobs int) (string, []int32) {
		ex, env := testExecution(t)
		builders, final := diamond(t, env)
		if err := ex.BuildTargets(final, BuildOptions{Jobs: jobs}); err != nil {
			t.Fatal(err)
		}
		var calls []int32
		for _, b := range builders {
			calls = append(calls, b.calls)
		}
		return readFile(t, final.Path()), calls
	}

	seqOut, seqCalls := run(t, 1)
	parOut, parCalls := run(t, 4)

	if seqOut != parOut {
		t.Errorf("outputs differ: sequential %q, parallel %q", seqOut, parOut)
	}
	if diff := cmp.Diff(seqCalls, parCalls); diff != "" {
		t.Errorf("invocation counts differ (-sequential +parallel):\n%s", diff)
	}
	if want := "left right"; seqOut != want {
		t.Errorf("final output = %q, want %q", seqOut, want)
	}
}

func TestParallelFreshness(t *testing.T) {
	ex, env := testExecution(t)
	_, final := diamond(t, env)

	if err := ex.BuildTargets(final, BuildOptions{Jobs: 4}); err != nil {
		t.Fatal(err)
	}
	prepared, err := ex.PrepareBuild(final)
	if err != nil {
		t.Fatal(err)
	}
	if len(prepared.ToBuild) != 0 {
		t.Errorf("to-build after a parallel build: %d nodes, want 0", len(prepared.ToBuild))
	}
}

// fileSetScenario wires a producer emitting a FileSet populated at
// build time into a consumer concatenating the discovered files.
func fileSetScenario(t *testing.T, env *Environment) (x, y *testBuilder, out *File) {
	t.Helper()

	fs := NewFileSet(env)
	x = newTestBuilder(env)
	if err := x.RegisterTarget(fs); err != nil {
		t.Fatal(err)
	}
	x.buildFn = func() error {
		for _, name := range []string{"gen/a.txt", "gen/b.txt"} {
			f, err := env.File(name)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(f.Path()), 0755); err != nil {
				return err
			}
			if err := os.WriteFile(f.Path(), []byte(filepath.Base(name)), 0644); err != nil {
				return err
			}
			if err := fs.Add(f); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	out, err = env.File("combined.txt")
	if err != nil {
		t.Fatal(err)
	}
	y = newTestBuilder(env)
	if err := y.RegisterTarget(out); err != nil {
		t.Fatal(err)
	}
	y.AddDepend(fs)
	y.buildFn = func() error {
		files, err := fs.Files()
		if err != nil {
			return err
		}
		var parts []string
		for _, f := range files {
			data, err := os.ReadFile(f.Path())
			if err != nil {
				return err
			}
			parts = append(parts, string(data))
		}
		sort.Strings(parts)
		return os.WriteFile(out.Path(), []byte(strings.Join(parts, "+")), 0644)
	}
	return x, y, out
}

func TestFileSetDynamicOutput(t *testing.T) {
	for _, jobs := range []int{1, 4} {
		ex, env := testExecution(t)
		x, y, out := fileSetScenario(t, env)

		if err := ex.BuildTargets(out, BuildOptions{Jobs: jobs}); err != nil {
			t.Fatalf("jobs=%d: %v", jobs, err)
		}
		if x.calls != 1 || y.calls != 1 {
			t.Errorf("jobs=%d: producer ran %d times, consumer %d, want 1 and 1", jobs, x.calls, y.calls)
		}
		if got, want := readFile(t, out.Path()), "a.txt+b.txt"; got != want {
			t.Errorf("jobs=%d: consumer observed %q, want %q", jobs, got, want)
		}
	}
}

func TestBuilderFailureAborts(t *testing.T) {
	ex, env := testExecution(t)

	f, err := env.File("boom.txt")
	if err != nil {
		t.Fatal(err)
	}
	b := newTestBuilder(env)
	if err := b.RegisterTarget(f); err != nil {
		t.Fatal(err)
	}
	b.buildFn = func() error { return xerrors.New("compiler exploded") }

	err = ex.BuildTargets(b, BuildOptions{})
	if err == nil || !strings.Contains(err.Error(), "compiler exploded") {
		t.Errorf("builder failure not propagated: %v", err)
	}

	// Metadata is only committed on success: the next run still wants
	// to build the entry.
	prepared, err := ex.PrepareBuild(b)
	if err != nil {
		t.Fatal(err)
	}
	if !prepared.ToBuild[f] {
		t.Errorf("failed entry not scheduled on the next run")
	}
}

func TestParallelFailureAborts(t *testing.T) {
	ex, env := testExecution(t)
	builders, final := diamond(t, env)
	builders[0].buildFn = func() error { return xerrors.New("left stage failed") }

	err := ex.BuildTargets(final, BuildOptions{Jobs: 4})
	if err == nil || !strings.Contains(err.Error(), "left stage failed") {
		t.Errorf("parallel failure not propagated: %v", err)
	}
	if builders[2].calls != 0 {
		t.Errorf("dependent builder ran despite failed dependency")
	}
}
