package builders

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/klauspost/pgzip"
	"github.com/mcon-build/mcon"
)

// Tarball assembles its sources into a gzip-compressed tar archive.
// Member names are the sources' Environment.RelPath: relative to their
// build bucket for files under BuildRoot, otherwise relative to the
// environment root; files outside the root use their base name.
type Tarball struct {
	mcon.Core
	out     *mcon.File
	sources *mcon.FileSet
}

// NewTarball declares a tar.gz of sources at target.
func NewTarball(env *mcon.Environment, target, sources interface{}) (*Tarball, error) {
	b := &Tarball{}
	b.Core = mcon.NewCore(env, b)
	out, err := mcon.AsFile(env, target)
	if err != nil {
		return nil, err
	}
	if err := b.RegisterTarget(out); err != nil {
		return nil, err
	}
	if b.sources, err = b.DependsFiles(sources); err != nil {
		return nil, err
	}
	b.out = out
	return b, nil
}

// Target returns the archive file.
func (b *Tarball) Target() mcon.Node { return b.out }

// File returns the output file node.
func (b *Tarball) File() *mcon.File { return b.out }

func (b *Tarball) Build() error {
	files, err := b.sources.Files()
	if err != nil {
		return err
	}

	f, err := renameio.TempFile("", b.out.Path())
	if err != nil {
		return err
	}
	defer f.Cleanup()

	zw := pgzip.NewWriter(f)
	tw := tar.NewWriter(zw)
	env := b.Env()
	for _, file := range files {
		name, err := env.RelPath(file.Path())
		if err != nil {
			// Fall back to the basename for files outside the root.
			name = filepath.Base(file.Path())
		}
		st, err := os.Stat(file.Path())
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(st, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(name)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		in, err := os.Open(file.Path())
		if err != nil {
			return err
		}
		if _, err := io.Copy(tw, in); err != nil {
			in.Close()
			return err
		}
		if err := in.Close(); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return f.CloseAtomicallyReplace()
}
