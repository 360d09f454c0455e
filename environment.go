package mcon

import (
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"
)

// Environment controls the context in which builders live: the root
// directory against which relative paths resolve, and the build root
// where derived files are placed. Multiple environments can share one
// Execution; entries are interned per execution regardless of which
// environment created them.
type Environment struct {
	execution *Execution

	// Root is the absolute directory relative paths resolve against.
	Root string

	// BuildRoot is the absolute directory holding derived files, laid
	// out as BuildRoot/<bucket>/<source-relative path>.
	BuildRoot string
}

// NewEnvironment returns an environment rooted at the execution root,
// with BuildRoot defaulting to Root/build.
func NewEnvironment(ex *Execution) *Environment {
	return &Environment{
		execution: ex,
		Root:      ex.Root,
		BuildRoot: filepath.Join(ex.Root, "build"),
	}
}

// Execution returns the execution this environment belongs to.
func (env *Environment) Execution() *Execution { return env.execution }

// abs resolves path against the environment root and cleans it.
func (env *Environment) abs(path string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(env.Root, path)
	}
	return filepath.Clean(path)
}

// File returns the interned File for path. Repeated calls with the
// same path return the same instance.
func (env *Environment) File(path string) (*File, error) {
	return env.execution.internFile(env, env.abs(path))
}

// Dir returns the interned Dir for path with the default glob pattern.
func (env *Environment) Dir(path string) (*Dir, error) {
	return env.DirGlob(path, "**/*")
}

// DirGlob returns the interned Dir for path with the given glob
// pattern. If the path is already interned as a Dir, that instance is
// returned and the pattern argument is ignored.
func (env *Environment) DirGlob(path, glob string) (*Dir, error) {
	return env.execution.internDir(env, env.abs(path), glob)
}

// RelPath returns the path to src relative to either the environment
// root or src's build bucket. If src lies beneath an immediate
// subdirectory of BuildRoot, the result is relative to that
// subdirectory, so derived paths preserve the original
// project-relative structure across successive build directories.
func (env *Environment) RelPath(src string) (string, error) {
	abs := env.abs(src)

	if rel, err := filepath.Rel(env.BuildRoot, abs); err == nil && rel != "." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != ".." {
		// Strip the bucket: the first component under the build root.
		if i := strings.IndexByte(rel, filepath.Separator); i >= 0 {
			return rel[i+1:], nil
		}
		// src is a bucket directory itself; it maps to the bucket root.
		return ".", nil
	}

	rel, err := filepath.Rel(env.Root, abs)
	if err != nil || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", xerrors.Errorf("path %s is outside the environment root %s", abs, env.Root)
	}
	return rel, nil
}

// BuildPath returns BuildRoot/buildDir/RelPath(src), the place for a
// file in bucket buildDir derived from src. An optional newExt
// replaces the extension of the result; an empty string strips it.
// The derivation composes: feeding a BuildPath result back in with a
// different bucket preserves the original source-relative suffix.
func (env *Environment) BuildPath(src, buildDir string, newExt ...string) (string, error) {
	rel, err := env.RelPath(src)
	if err != nil {
		return "", err
	}
	dir := buildDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(env.BuildRoot, dir)
	}
	full := filepath.Join(dir, rel)
	if len(newExt) > 0 {
		full = strings.TrimSuffix(full, filepath.Ext(full)) + newExt[0]
	}
	return full, nil
}
