package mcon

import (
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/mcon-build/mcon/internal/metastore"
	"golang.org/x/xerrors"
)

// metadataFilename is the metadata store file kept under the
// execution root.
const metadataFilename = ".mcon.db"

// Execution is the top-level container for one build process. It owns
// the entry interning table, the alias map, the metadata store and an
// environment-variables table builders can read configuration from.
//
// Graph construction through an Execution is single-threaded; only
// Build runs builders on worker goroutines.
type Execution struct {
	// Root is the absolute directory the execution operates in.
	// Relative target paths resolve against it and the metadata store
	// lives beneath it.
	Root string

	// Log receives build progress. Defaults to stderr.
	Log *log.Logger

	store   *metastore.Store
	aliases map[string][]Node
	vars    map[string]string
	idSeq   int64

	// entriesMu guards entries: builders may intern files lazily while
	// the parallel scheduler is running (a Dir listing its children
	// during a metadata commit, an install builder registering the
	// files it produced).
	entriesMu sync.Mutex
	entries   map[string]Entry
}

// NewExecution returns an execution rooted at root and opens its
// metadata store. Callers must Close it.
func NewExecution(root string) (*Execution, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	store, err := metastore.Open(filepath.Join(abs, metadataFilename))
	if err != nil {
		return nil, err
	}
	return &Execution{
		Root:    abs,
		Log:     log.New(os.Stderr, "", log.LstdFlags),
		store:   store,
		entries: make(map[string]Entry),
		aliases: make(map[string][]Node),
		vars:    make(map[string]string),
	}, nil
}

// Close releases the metadata store.
func (ex *Execution) Close() error {
	return ex.store.Close()
}

// Setenv stores a configuration value builders can read without
// ambient globals.
func (ex *Execution) Setenv(key, value string) {
	ex.vars[key] = value
}

// Getenv returns the configuration value for key, or "".
func (ex *Execution) Getenv(key string) string {
	return ex.vars[key]
}

func (ex *Execution) nextID() int64 {
	return atomic.AddInt64(&ex.idSeq, 1)
}

func (ex *Execution) logf(format string, args ...interface{}) {
	if ex.Log != nil {
		ex.Log.Printf(format, args...)
	}
}

// internFile returns the entry interned at path, creating a File if
// none exists yet.
func (ex *Execution) internFile(env *Environment, path string) (*File, error) {
	ex.entriesMu.Lock()
	defer ex.entriesMu.Unlock()
	if e, ok := ex.entries[path]; ok {
		f, ok := e.(*File)
		if !ok {
			return nil, xerrors.Errorf("%s is a %T, not a file: %w", path, e, ErrTypeMismatch)
		}
		return f, nil
	}
	f := &File{path: path}
	f.env = env
	f.id = ex.nextID()
	ex.entries[path] = f
	return f, nil
}

// internDir returns the entry interned at path, creating a Dir with
// the given glob if none exists yet.
func (ex *Execution) internDir(env *Environment, path, glob string) (*Dir, error) {
	ex.entriesMu.Lock()
	defer ex.entriesMu.Unlock()
	if e, ok := ex.entries[path]; ok {
		d, ok := e.(*Dir)
		if !ok {
			return nil, xerrors.Errorf("%s is a %T, not a directory: %w", path, e, ErrTypeMismatch)
		}
		return d, nil
	}
	d := &Dir{path: path, glob: glob}
	d.env = env
	d.id = ex.nextID()
	ex.entries[path] = d
	return d, nil
}

// entryAt returns the interned entry for an absolute path, if any.
func (ex *Execution) entryAt(path string) (Entry, bool) {
	ex.entriesMu.Lock()
	defer ex.entriesMu.Unlock()
	e, ok := ex.entries[path]
	return e, ok
}

// RegisterAlias binds name to the nodes targets resolves to. Target
// strings naming an existing alias are expanded at registration time.
func (ex *Execution) RegisterAlias(name string, targets interface{}) error {
	nodes, err := ex.resolveTargets(targets)
	if err != nil {
		return err
	}
	ex.aliases[name] = nodes
	return nil
}

// resolveTargets resolves a target argument to nodes. Accepted inputs:
// a Node, a SourceLike, a string (interpreted first as an alias, then
// as a path relative to the execution root), or a (possibly nested)
// slice of the above.
func (ex *Execution) resolveTargets(args interface{}) ([]Node, error) {
	switch v := unwrapSource(args).(type) {
	case Node:
		return []Node{v}, nil
	case string:
		if nodes, ok := ex.aliases[v]; ok {
			return append([]Node(nil), nodes...), nil
		}
		path := v
		if !filepath.IsAbs(path) {
			path = filepath.Join(ex.Root, path)
		}
		e, ok := ex.entryAt(filepath.Clean(path))
		if !ok {
			return nil, xerrors.Errorf("%q is neither an alias nor a known path: %w", v, ErrMissingTarget)
		}
		return []Node{e}, nil
	}

	rv := reflect.ValueOf(args)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		var nodes []Node
		for i := 0; i < rv.Len(); i++ {
			sub, err := ex.resolveTargets(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, sub...)
		}
		return nodes, nil
	}
	return nil, xerrors.Errorf("%T as build target: %w", args, ErrUnknownSource)
}

// A process-wide current execution exists solely so construct programs
// can build environments and register aliases without passing the
// Execution explicitly. The construct front end sets it around the
// setup function and clears it afterwards.
var (
	currentMu        sync.Mutex
	currentExecution *Execution
)

// SetCurrent installs ex as the process-wide current execution. Pass
// nil to clear it.
func SetCurrent(ex *Execution) {
	currentMu.Lock()
	defer currentMu.Unlock()
	currentExecution = ex
}

// Current returns the process-wide current execution, or an error if
// none is set.
func Current() (*Execution, error) {
	currentMu.Lock()
	defer currentMu.Unlock()
	if currentExecution == nil {
		return nil, xerrors.New("no current execution")
	}
	return currentExecution, nil
}

// RegisterAlias registers an alias with the current execution.
func RegisterAlias(name string, targets interface{}) error {
	ex, err := Current()
	if err != nil {
		return err
	}
	return ex.RegisterAlias(name, targets)
}
