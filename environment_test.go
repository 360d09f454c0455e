package mcon

import (
	"path/filepath"
	"testing"
)

func TestRelPath(t *testing.T) {
	_, env := testExecution(t)

	for _, tt := range []struct {
		src  string
		want string
	}{
		{"foo/bar/baz.txt", filepath.Join("foo", "bar", "baz.txt")},
		{"build/bdir/foo/bar/baz.txt", filepath.Join("foo", "bar", "baz.txt")},
		{filepath.Join(env.Root, "a.c"), "a.c"},
	} {
		got, err := env.RelPath(tt.src)
		if err != nil {
			t.Fatalf("RelPath(%q): %v", tt.src, err)
		}
		if got != tt.want {
			t.Errorf("RelPath(%q) = %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestRelPathOutsideRoot(t *testing.T) {
	_, env := testExecution(t)

	if _, err := env.RelPath("/somewhere/else.txt"); err == nil {
		t.Errorf("RelPath outside the root succeeded")
	}
}

func TestBuildPath(t *testing.T) {
	_, env := testExecution(t)

	got, err := env.BuildPath("src/foo/bar.c", "obj", ".o")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(env.BuildRoot, "obj", "src", "foo", "bar.o")
	if got != want {
		t.Errorf("BuildPath = %q, want %q", got, want)
	}

	// Composes: a derived path keeps the original source-relative
	// suffix when derived again into another bucket.
	got2, err := env.BuildPath(got, "lib", ".so")
	if err != nil {
		t.Fatal(err)
	}
	want2 := filepath.Join(env.BuildRoot, "lib", "src", "foo", "bar.so")
	if got2 != want2 {
		t.Errorf("BuildPath composition = %q, want %q", got2, want2)
	}
}

func TestBuildPathStripExtension(t *testing.T) {
	_, env := testExecution(t)

	got, err := env.BuildPath("tool/main.go", "bin", "")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(env.BuildRoot, "bin", "tool", "main")
	if got != want {
		t.Errorf("BuildPath with empty extension = %q, want %q", got, want)
	}
}
