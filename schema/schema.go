// Package schema is declaration sugar for wiring a whole tree of
// collections against one Database in a single call, so callers with many
// nested collections don't hand-write a NewCollection call per leaf. It is
// a thin collaborator over package kvdex — it adds no storage behavior of
// its own.
package schema

import (
	"strings"

	"github.com/kvdex-go/kvdex"
	"github.com/kvdex-go/kvdex/kv"
	"github.com/kvdex-go/kvdex/model"
)

// Node is one position in a schema tree: either a leaf declared with
// Collection, or an inner node declared with Group.
type Node interface {
	build(db *kvdex.Database, path []string, out map[string]any)
}

type leaf struct {
	new func(db *kvdex.Database, path []string) any
}

func (l leaf) build(db *kvdex.Database, path []string, out map[string]any) {
	out[strings.Join(path, ".")] = l.new(db, path)
}

// Collection declares a leaf: a single *kvdex.Collection[T] rooted at this
// node's position in the tree. The base key path is the dotted sequence of
// Group names leading to this leaf, so the tree shape is the key layout.
func Collection[T any](m model.Model[T], opts ...kvdex.CollectionOption[T]) Node {
	return leaf{new: func(db *kvdex.Database, path []string) any {
		return kvdex.NewCollection[T](db, path, m, opts...)
	}}
}

type group map[string]Node

func (g group) build(db *kvdex.Database, path []string, out map[string]any) {
	for name, child := range g {
		childPath := append(append([]string{}, path...), name)
		child.build(db, childPath, out)
	}
}

// Group declares an inner node: a named collection of child nodes, each
// contributing its own dotted-path key(s) under name.
func Group(children map[string]Node) Node {
	return group(children)
}

// Build walks root depth-first against a fresh Database over backend,
// returning the database plus every declared collection keyed by its
// dotted path (e.g. "users.profiles"). Callers type-assert each entry back
// to its concrete *kvdex.Collection[T] — schema intentionally stops short
// of code generation, per the spec's "sugar, not core."
func Build(backend kv.KV, root Node, opts ...kvdex.DatabaseOption) (*kvdex.Database, map[string]any) {
	db := kvdex.NewDatabase(backend, opts...)
	out := make(map[string]any)
	root.build(db, nil, out)
	return db, out
}
