package construct

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mcon-build/mcon"
)

type writerBuilder struct {
	mcon.Core
	out *mcon.File
}

func (b *writerBuilder) Build() error {
	return os.WriteFile(b.out.Path(), []byte("x"), 0644)
}

func TestPrintTree(t *testing.T) {
	ex, err := mcon.NewExecution(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer ex.Close()
	env := mcon.NewEnvironment(ex)

	if err := os.WriteFile(filepath.Join(ex.Root, "src.txt"), []byte("s"), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := env.File("out.txt")
	if err != nil {
		t.Fatal(err)
	}
	b := &writerBuilder{out: out}
	b.Core = mcon.NewCore(env, b)
	if err := b.RegisterTarget(out); err != nil {
		t.Fatal(err)
	}
	if _, err := b.DependsFile("src.txt"); err != nil {
		t.Fatal(err)
	}

	prepared, err := ex.PrepareBuild(out)
	if err != nil {
		t.Fatal(err)
	}

	var buf strings.Builder
	PrintTree(&buf, prepared, false)

	want := strings.Join([]string{
		"O = out of date",
		"B = to build",
		"C = changed",
		"",
		"O B   out.txt",
		"      `-src.txt",
		"",
	}, "\n")
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("tree output mismatch (-want +got):\n%s", diff)
	}
}

func TestPrintTreeElidesRepeatedSubtrees(t *testing.T) {
	ex, err := mcon.NewExecution(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer ex.Close()
	env := mcon.NewEnvironment(ex)

	if err := os.WriteFile(filepath.Join(ex.Root, "src.txt"), []byte("s"), 0644); err != nil {
		t.Fatal(err)
	}

	mid, err := env.File("mid.txt")
	if err != nil {
		t.Fatal(err)
	}
	bm := &writerBuilder{out: mid}
	bm.Core = mcon.NewCore(env, bm)
	if err := bm.RegisterTarget(mid); err != nil {
		t.Fatal(err)
	}
	if _, err := bm.DependsFile("src.txt"); err != nil {
		t.Fatal(err)
	}

	// Two consumers of the same subtree: the second occurrence is
	// elided.
	var outs []*mcon.File
	for _, name := range []string{"one.txt", "two.txt"} {
		out, err := env.File(name)
		if err != nil {
			t.Fatal(err)
		}
		b := &writerBuilder{out: out}
		b.Core = mcon.NewCore(env, b)
		if err := b.RegisterTarget(out); err != nil {
			t.Fatal(err)
		}
		if _, err := b.DependsFile(mid); err != nil {
			t.Fatal(err)
		}
		outs = append(outs, out)
	}

	prepared, err := ex.PrepareBuild([]mcon.Node{outs[0], outs[1]})
	if err != nil {
		t.Fatal(err)
	}

	var buf strings.Builder
	PrintTree(&buf, prepared, false)
	got := buf.String()
	if !strings.Contains(got, "(child nodes shown above)") {
		t.Errorf("repeated subtree not elided:\n%s", got)
	}
	if n := strings.Count(got, "`-src.txt"); n != 1 {
		t.Errorf("src.txt printed %d times, want 1:\n%s", n, got)
	}
}
