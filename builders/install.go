package builders

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mcon-build/mcon"
	"golang.org/x/xerrors"
)

// Copy copies a single source file to a target path.
type Copy struct {
	mcon.Core
	out    *mcon.File
	source *mcon.File
}

// NewCopy declares a copy of source to target. Both accept a path
// string, a *File, or a SourceLike producing a File.
func NewCopy(env *mcon.Environment, target, source interface{}) (*Copy, error) {
	b := &Copy{}
	b.Core = mcon.NewCore(env, b)
	out, err := mcon.AsFile(env, target)
	if err != nil {
		return nil, err
	}
	if err := b.RegisterTarget(out); err != nil {
		return nil, err
	}
	src, err := b.DependsFile(source)
	if err != nil {
		return nil, err
	}
	b.out, b.source = out, src
	return b, nil
}

// Target returns the copied file, so a Copy can stand in for it.
func (b *Copy) Target() mcon.Node { return b.out }

// File returns the output file node.
func (b *Copy) File() *mcon.File { return b.out }

func (b *Copy) Build() error {
	return copyFile(b.source.Path(), b.out.Path())
}

// InstallFiles installs many files into a destination directory,
// preserving each source's directory structure relative to a given
// root. The output is a FileSet populated at build time.
type InstallFiles struct {
	mcon.Core
	dest       *mcon.Dir
	out        *mcon.FileSet
	sources    *mcon.FileSet
	relativeTo string
	prefix     string
}

// NewInstallFiles declares an installation of sources into destDir.
// Source paths are preserved relative to relativeTo (the environment
// root if empty); prefix is prepended inside the destination.
func NewInstallFiles(env *mcon.Environment, destDir, sources interface{}, relativeTo, prefix string) (*InstallFiles, error) {
	b := &InstallFiles{prefix: prefix}
	b.Core = mcon.NewCore(env, b)
	dest, err := mcon.AsDir(env, destDir)
	if err != nil {
		return nil, err
	}
	b.dest = dest
	b.out = mcon.NewFileSet(env)
	if err := b.RegisterTarget(b.out); err != nil {
		return nil, err
	}
	if b.sources, err = b.DependsFiles(sources); err != nil {
		return nil, err
	}
	if relativeTo == "" {
		relativeTo = "."
	}
	if !filepath.IsAbs(relativeTo) {
		relativeTo = filepath.Join(env.Root, relativeTo)
	}
	b.relativeTo = filepath.Clean(relativeTo)
	return b, nil
}

func (b *InstallFiles) String() string {
	return fmt.Sprintf("InstallFiles(%s)", filepath.Join(b.dest.Path(), b.prefix))
}

// Target returns the installed FileSet.
func (b *InstallFiles) Target() mcon.Node { return b.out }

// FileSet returns the output set; its contents are defined once the
// builder has run.
func (b *InstallFiles) FileSet() *mcon.FileSet { return b.out }

func (b *InstallFiles) Build() error {
	files, err := b.sources.Files()
	if err != nil {
		return err
	}
	env := b.Env()
	for _, f := range files {
		rel, err := filepath.Rel(b.relativeTo, f.Path())
		if err != nil || strings.HasPrefix(rel, "..") {
			return xerrors.Errorf("%s is outside %s", f.Path(), b.relativeTo)
		}
		final := filepath.Join(b.dest.Path(), b.prefix, rel)
		if err := copyFile(f.Path(), final); err != nil {
			return err
		}
		installed, err := env.File(final)
		if err != nil {
			return err
		}
		if err := b.out.Add(installed); err != nil {
			return err
		}
	}
	return nil
}
