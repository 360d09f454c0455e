// Package mcon is an incremental build engine: user code constructs a
// directed acyclic graph of file-producing operations, and the engine
// decides which operations to re-run so that all requested output files
// reflect their current inputs.
//
// The graph consists of File, Dir and FileSet nodes, produced by
// Builder implementations. An Execution owns the graph, an on-disk
// metadata store with the dependency signatures observed by the last
// build, and the scheduler which runs builders in dependency order,
// sequentially or on a worker pool.
package mcon

import "errors"

// Error kinds. All of them abort the current build invocation; callers
// can distinguish them with errors.Is.
var (
	// ErrTypeMismatch: a path was interned as one entry variant and
	// requested as another.
	ErrTypeMismatch = errors.New("entry type mismatch")

	// ErrDoubleBuilder: a node was registered as the target of a second
	// builder.
	ErrDoubleBuilder = errors.New("node already has a builder")

	// ErrUnknownSource: an argument could not be resolved to a node.
	ErrUnknownSource = errors.New("cannot resolve source to a node")

	// ErrMissingInput: a builder-less entry is required but not present
	// on the filesystem.
	ErrMissingInput = errors.New("required input missing")

	// ErrMissingTarget: a target name is neither an alias nor a known
	// path.
	ErrMissingTarget = errors.New("unknown target")

	// ErrCycle: the dependency graph is not acyclic.
	ErrCycle = errors.New("dependency graph has cycles")

	// ErrMissingOutput: a builder returned without materializing one of
	// its declared outputs.
	ErrMissingOutput = errors.New("builder did not produce output")

	// ErrInternal: the parallel scheduler's ready-set invariant was
	// violated. This can only happen from a bug in dependency
	// propagation.
	ErrInternal = errors.New("internal scheduler inconsistency")
)
