package mcon

import (
	"fmt"
	"strings"
)

// Builder is a unit of work: it declares the nodes it depends on and
// the nodes it produces, and materializes the latter in Build. Both
// lists must be fully populated before the build starts so the
// scheduler can plan without executing anything.
//
// Implementations embed Core, which carries the two lists and the
// declaration helpers.
type Builder interface {
	// Depends returns the nodes whose presence and freshness are
	// prerequisites for this builder.
	Depends() []Node

	// Builds returns the nodes this builder produces.
	Builds() []Node

	// Build materializes every entry in Builds on the filesystem and
	// populates any FileSet outputs.
	Build() error
}

// Core is the embeddable implementation of the declaration side of
// Builder. It owns the depends and builds lists; the embedding type
// supplies Build.
type Core struct {
	env     *Environment
	owner   Builder
	depends []Node
	builds  []Node
}

// NewCore returns a Core bound to env. owner is the embedding builder
// itself; it is what gets attached to registered target nodes.
func NewCore(env *Environment, owner Builder) Core {
	return Core{env: env, owner: owner}
}

// Env returns the environment the builder was created in.
func (c *Core) Env() *Environment { return c.env }

func (c *Core) Depends() []Node { return append([]Node(nil), c.depends...) }

func (c *Core) Builds() []Node { return append([]Node(nil), c.builds...) }

// RegisterTarget associates node as one of this builder's outputs.
// It fails if the node is already produced by a different builder.
func (c *Core) RegisterTarget(node Node) error {
	if err := node.core().setBuilder(nodeDisplay(node), c.owner); err != nil {
		return err
	}
	c.builds = append(c.builds, node)
	return nil
}

// AddDepend appends an already-resolved node to the depends list.
func (c *Core) AddDepend(node Node) {
	c.depends = append(c.depends, node)
}

// DependsFile resolves src to a File, records it as a dependency and
// returns it. src may be a *File, a path string, or a SourceLike
// producing a File.
func (c *Core) DependsFile(src interface{}) (*File, error) {
	f, err := AsFile(c.env, src)
	if err != nil {
		return nil, err
	}
	c.depends = append(c.depends, f)
	return f, nil
}

// DependsFiles resolves src to a FileSet, records it as a dependency
// and returns it. src may be a *File, *Dir, *FileSet, SourceLike,
// path string, or a (possibly nested) slice of the above.
func (c *Core) DependsFiles(src interface{}) (*FileSet, error) {
	fs := NewFileSet(c.env)
	if err := fs.Add(src); err != nil {
		return nil, err
	}
	c.depends = append(c.depends, fs)
	return fs, nil
}

// DependsDir resolves src to a Dir, records it as a dependency and
// returns it. src may be a *Dir, a path string, or a SourceLike
// producing a Dir.
func (c *Core) DependsDir(src interface{}) (*Dir, error) {
	d, err := AsDir(c.env, src)
	if err != nil {
		return nil, err
	}
	c.depends = append(c.depends, d)
	return d, nil
}

// BuilderString renders a builder for logs and error messages. A
// builder implementing fmt.Stringer chooses its own display form;
// otherwise the type name and output paths are shown.
func BuilderString(b Builder) string {
	if s, ok := b.(fmt.Stringer); ok {
		return s.String()
	}
	name := fmt.Sprintf("%T", b)
	name = strings.TrimPrefix(name, "*")
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	outs := make([]string, 0, len(b.Builds()))
	for _, n := range b.Builds() {
		outs = append(outs, nodeDisplay(n))
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(outs, " "))
}
