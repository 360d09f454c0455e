package mcon

import (
	"reflect"

	"golang.org/x/xerrors"
)

// unwrapSource follows Target chains until the value is no longer a
// SourceLike. Nodes are returned as-is (a FileSet is not unwrapped
// even if it were to implement SourceLike).
func unwrapSource(v interface{}) interface{} {
	for {
		if _, ok := v.(Node); ok {
			return v
		}
		sl, ok := v.(SourceLike)
		if !ok {
			return v
		}
		v = sl.Target()
	}
}

// AsFile resolves src to a File: a *File is returned as-is, a string
// is interned through env, and a SourceLike is unwrapped and must
// yield a File.
func AsFile(env *Environment, src interface{}) (*File, error) {
	switch v := unwrapSource(src).(type) {
	case *File:
		return v, nil
	case string:
		return env.File(v)
	default:
		return nil, xerrors.Errorf("%T where a file is required: %w", src, ErrUnknownSource)
	}
}

// AsDir resolves src to a Dir, analogously to AsFile.
func AsDir(env *Environment, src interface{}) (*Dir, error) {
	switch v := unwrapSource(src).(type) {
	case *Dir:
		return v, nil
	case string:
		return env.Dir(v)
	default:
		return nil, xerrors.Errorf("%T where a directory is required: %w", src, ErrUnknownSource)
	}
}

// resolveFileSetLike resolves the permissive FileSet member type: a
// node, a SourceLike, a path string, or a (possibly nested) slice of
// the above.
func resolveFileSetLike(env *Environment, src interface{}) ([]Node, error) {
	switch v := unwrapSource(src).(type) {
	case *File:
		return []Node{v}, nil
	case *Dir:
		return []Node{v}, nil
	case *FileSet:
		return []Node{v}, nil
	case string:
		f, err := env.File(v)
		if err != nil {
			return nil, err
		}
		return []Node{f}, nil
	}

	rv := reflect.ValueOf(src)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		var nodes []Node
		for i := 0; i < rv.Len(); i++ {
			sub, err := resolveFileSetLike(env, rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, sub...)
		}
		return nodes, nil
	}
	return nil, xerrors.Errorf("%T in a file list: %w", src, ErrUnknownSource)
}
