package mcon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar"
	"golang.org/x/xerrors"
)

// Node is a vertex in the dependency graph: a File, Dir or FileSet.
//
// The ID method makes nodes usable directly as gonum graph nodes; ids
// are assigned by the owning Execution and are unique within it.
type Node interface {
	ID() int64

	// Env returns the environment the node was created through.
	Env() *Environment

	// Builder returns the builder producing this node, or nil for a
	// leaf (pre-existing input).
	Builder() Builder

	// DependsOn returns the node's explicit dependencies. For a
	// FileSet this includes its current source nodes.
	DependsOn() []Node

	// AddDepend declares an additional explicit dependency.
	AddDepend(dep Node)

	core() *nodeCore
}

// Entry is a node with a canonical filesystem path: a File or a Dir.
// The path is the entry's key into the metadata store.
type Entry interface {
	Node

	// Path returns the absolute, cleaned filesystem path.
	Path() string

	// Metadata returns the entry's observed filesystem metadata as a
	// JSON document, or JSON null if the path does not exist.
	Metadata() (json.RawMessage, error)

	// Exists reports whether the path is present on the filesystem.
	Exists() bool

	// Derive returns the same-variant entry at
	// env.BuildPath(entry, buildDir, newExt...).
	Derive(buildDir string, newExt ...string) (Entry, error)

	// remove deletes the entry from the filesystem. Called by the
	// scheduler before the entry's builder runs.
	remove() error

	// prepare is called right before the entry's builder runs. It
	// ensures the parent directory exists.
	prepare() error
}

// SourceLike is anything that stands in for the node it produces. A
// builder wrapper exposing its output node this way can be passed
// wherever that node would be accepted, so pipelines compose without
// threading nodes by hand. Resolution uses the Node that Target
// returns as-is; it is not unwrapped further, even if it also
// implements SourceLike.
type SourceLike interface {
	Target() Node
}

type nodeCore struct {
	env     *Environment
	id      int64
	builder Builder
	depends []Node
}

func (n *nodeCore) ID() int64         { return n.id }
func (n *nodeCore) Env() *Environment { return n.env }
func (n *nodeCore) Builder() Builder  { return n.builder }
func (n *nodeCore) core() *nodeCore   { return n }

func (n *nodeCore) DependsOn() []Node {
	return append([]Node(nil), n.depends...)
}

func (n *nodeCore) AddDepend(dep Node) {
	n.depends = append(n.depends, dep)
}

// setBuilder attaches the producing builder. The assignment is
// monotonic: re-attaching the same builder is a no-op, a different
// builder is an error.
func (n *nodeCore) setBuilder(display string, b Builder) error {
	if n.builder != nil && n.builder != b {
		return xerrors.Errorf("%s is already built by %s: %w", display, BuilderString(n.builder), ErrDoubleBuilder)
	}
	n.builder = b
	return nil
}

// fileMetadata is the observed metadata of a regular file.
type fileMetadata struct {
	MtimeNs int64  `json:"mtime"`
	Mode    uint32 `json:"mode"`
	Size    int64  `json:"size"`
}

// dirMetadata is the observed metadata of a directory: its own mode
// plus the file metadata of every child matching the glob.
type dirMetadata struct {
	Mode  uint32                  `json:"mode"`
	Files map[string]fileMetadata `json:"files"`
}

var nullMetadata = json.RawMessage("null")

// File is an entry identified by a single filesystem path.
type File struct {
	nodeCore
	path string
}

func (f *File) Path() string { return f.path }

func (f *File) String() string { return displayPath(f.env, f.path) }

func (f *File) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

func (f *File) Metadata() (json.RawMessage, error) {
	st, err := os.Stat(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nullMetadata, nil
		}
		return nil, err
	}
	return json.Marshal(statMetadata(st))
}

func (f *File) Derive(buildDir string, newExt ...string) (Entry, error) {
	p, err := f.env.BuildPath(f.path, buildDir, newExt...)
	if err != nil {
		return nil, err
	}
	derived, err := f.env.File(p)
	if err != nil {
		return nil, err
	}
	return derived, nil
}

func (f *File) remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (f *File) prepare() error {
	return os.MkdirAll(filepath.Dir(f.path), 0755)
}

// Dir is an entry identified by a directory path plus a glob pattern
// selecting the regular files beneath it.
type Dir struct {
	nodeCore
	path string
	glob string
}

func (d *Dir) Path() string { return d.path }

func (d *Dir) String() string { return displayPath(d.env, d.path) }

// Glob returns the pattern selecting this directory's files.
func (d *Dir) Glob() string { return d.glob }

func (d *Dir) Exists() bool {
	st, err := os.Stat(d.path)
	return err == nil && st.IsDir()
}

// Files lists the regular files beneath the directory matching the
// glob pattern, sorted by path. A missing directory lists as empty.
func (d *Dir) Files() ([]*File, error) {
	if _, err := os.Stat(d.path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []*File
	err := filepath.Walk(d.path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(d.path, path)
		if err != nil {
			return err
		}
		ok, err := doublestar.Match(d.glob, filepath.ToSlash(rel))
		if err != nil {
			return xerrors.Errorf("glob %q: %w", d.glob, err)
		}
		if !ok {
			return nil
		}
		f, err := d.env.File(path)
		if err != nil {
			return err
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	return files, nil
}

func (d *Dir) Metadata() (json.RawMessage, error) {
	st, err := os.Stat(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nullMetadata, nil
		}
		return nil, err
	}
	files, err := d.Files()
	if err != nil {
		return nil, err
	}
	md := dirMetadata{
		Mode:  uint32(st.Mode()),
		Files: make(map[string]fileMetadata, len(files)),
	}
	for _, f := range files {
		fst, err := os.Stat(f.path)
		if err != nil {
			return nil, err
		}
		md.Files[f.path] = statMetadata(fst)
	}
	return json.Marshal(md)
}

func (d *Dir) Derive(buildDir string, newExt ...string) (Entry, error) {
	p, err := d.env.BuildPath(d.path, buildDir, newExt...)
	if err != nil {
		return nil, err
	}
	derived, err := d.env.DirGlob(p, d.glob)
	if err != nil {
		return nil, err
	}
	return derived, nil
}

func (d *Dir) remove() error {
	return os.RemoveAll(d.path)
}

func (d *Dir) prepare() error {
	return os.MkdirAll(filepath.Dir(d.path), 0755)
}

// FileSet is a logical node with no filesystem path. It holds an
// ordered list of source nodes and flattens to File leaves on
// iteration. A builder producing a FileSet populates it during its
// Build call, so contents may grow while the build phase runs.
type FileSet struct {
	nodeCore
	sources []Node
}

// NewFileSet returns an empty FileSet owned by env's execution.
func NewFileSet(env *Environment) *FileSet {
	fs := &FileSet{}
	fs.env = env
	fs.id = env.execution.nextID()
	return fs
}

func (fs *FileSet) String() string { return "FileSet" }

// DependsOn returns the explicit dependencies plus the current source
// nodes, so ancestor traversal reaches the member entries.
func (fs *FileSet) DependsOn() []Node {
	deps := append([]Node(nil), fs.depends...)
	return append(deps, fs.sources...)
}

// Add resolves src to one or more nodes and appends them to the set.
// Accepted inputs: *File, *Dir, *FileSet, SourceLike, a path string,
// or a (possibly nested) slice of the above.
func (fs *FileSet) Add(src interface{}) error {
	nodes, err := resolveFileSetLike(fs.env, src)
	if err != nil {
		return err
	}
	fs.sources = append(fs.sources, nodes...)
	return nil
}

// Files flattens the set to its File leaves, deduplicated by path,
// preserving first-seen order.
func (fs *FileSet) Files() ([]*File, error) {
	var out []*File
	seenPath := make(map[string]bool)
	seenSet := make(map[*FileSet]bool)

	var flatten func(n Node) error
	flatten = func(n Node) error {
		switch v := n.(type) {
		case *File:
			if !seenPath[v.path] {
				seenPath[v.path] = true
				out = append(out, v)
			}
			return nil
		case *Dir:
			files, err := v.Files()
			if err != nil {
				return err
			}
			for _, f := range files {
				if !seenPath[f.path] {
					seenPath[f.path] = true
					out = append(out, f)
				}
			}
			return nil
		case *FileSet:
			if seenSet[v] {
				return nil
			}
			seenSet[v] = true
			for _, s := range v.sources {
				if err := flatten(s); err != nil {
					return err
				}
			}
			return nil
		default:
			return xerrors.Errorf("%T in file set: %w", n, ErrUnknownSource)
		}
	}
	if err := flatten(fs); err != nil {
		return nil, err
	}
	return out, nil
}

func statMetadata(st os.FileInfo) fileMetadata {
	return fileMetadata{
		MtimeNs: st.ModTime().UnixNano(),
		Mode:    uint32(st.Mode()),
		Size:    st.Size(),
	}
}

// displayPath renders an absolute path relative to the environment
// root when it lies beneath it.
func displayPath(env *Environment, path string) string {
	if rel, err := filepath.Rel(env.Root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

// nodeDisplay renders a node for log and error messages.
func nodeDisplay(n Node) string {
	switch v := n.(type) {
	case *File:
		return v.String()
	case *Dir:
		return v.String()
	case *FileSet:
		return v.String()
	default:
		if e, ok := n.(Entry); ok {
			return displayPath(n.Env(), e.Path())
		}
		return "node"
	}
}
