// Package graph builds and freezes the entity graph: one node per declared
// entity, one undirected "references" edge from each callable to every
// type, enum or built-in reachable from its arguments or return value.
//
// The graph is an arena of nodes keyed by index. It is built once from the
// full entity set and read-only afterwards, so rendering distinct entities
// may share it without synchronization. It also owns the compiler-global
// settings consulted during rendering: the default schema, the module
// pathname, and the identity of the internal placeholder type.
package graph

import (
	"errors"
	"fmt"
	"slices"

	"github.com/pgink/pgink/entity"
	"github.com/pgink/pgink/pgsys"
)

// ErrUnresolvedTypeReference reports a type reference that no node in the
// frozen graph satisfies. Rendering requires a concrete node for schema
// qualification, so this is surfaced at build time rather than skipped.
var ErrUnresolvedTypeReference = errors.New("unresolved type reference")

// IsUnresolvedTypeReference returns true if err is or wraps
// ErrUnresolvedTypeReference.
func IsUnresolvedTypeReference(err error) bool {
	return errors.Is(err, ErrUnresolvedTypeReference)
}

// Kind enumerates node kinds.
type Kind int

const (
	KindFunction Kind = iota
	KindType
	KindEnum
	KindBuiltin
	KindTrigger
)

// Node is one entity in the arena. Exactly one payload field is set,
// matching Kind.
type Node struct {
	Kind     Kind
	Function *entity.Function
	Type     *entity.Type
	Enum     *entity.Enum
	// Builtin is the source-level name a built-in is matched by.
	Builtin string
	Trigger *entity.Trigger
}

// Set is the full collection of declared entities handed to Build.
type Set struct {
	Functions []*entity.Function
	Types     []*entity.Type
	Enums     []*entity.Enum
	Triggers  []*entity.Trigger
	// Builtins are the source-level names of referenced built-in types.
	Builtins []string
}

// Options are the compiler-global settings frozen into the graph.
type Options struct {
	// DefaultSchema is the namespace that needs no qualifying prefix.
	DefaultSchema string
	// ModulePathname is the shared-object path emitted in AS clauses.
	ModulePathname string
	// InternalTypeID identifies the untyped internal-only placeholder.
	// Defaults to pgsys.InternalTypeID.
	InternalTypeID string
}

// Graph is the frozen entity graph.
type Graph struct {
	nodes []Node
	adj   [][]int
	funcs map[*entity.Function]int
	opts  Options
}

// Build inserts one node per entity and resolves every reference of every
// callable to an edge. It fails with ErrUnresolvedTypeReference when a
// reference has no node; the error carries the callable identity and
// source location.
func Build(set Set, opts Options) (*Graph, error) {
	if opts.InternalTypeID == "" {
		opts.InternalTypeID = pgsys.InternalTypeID
	}
	g := &Graph{
		funcs: make(map[*entity.Function]int),
		opts:  opts,
	}

	for _, t := range set.Types {
		g.nodes = append(g.nodes, Node{Kind: KindType, Type: t})
	}
	for _, e := range set.Enums {
		g.nodes = append(g.nodes, Node{Kind: KindEnum, Enum: e})
	}
	builtins := slices.Clone(set.Builtins)
	slices.Sort(builtins)
	builtins = slices.Compact(builtins)
	for _, b := range builtins {
		g.nodes = append(g.nodes, Node{Kind: KindBuiltin, Builtin: b})
	}
	for _, t := range set.Triggers {
		g.nodes = append(g.nodes, Node{Kind: KindTrigger, Trigger: t})
	}
	// Two declarations with an equal signature key are the same callable;
	// the first wins and later duplicates get no node.
	seen := make(map[string]bool, len(set.Functions))
	fns := make([]*entity.Function, 0, len(set.Functions))
	for _, f := range set.Functions {
		sig := f.Signature()
		if seen[sig] {
			continue
		}
		seen[sig] = true
		fns = append(fns, f)
		g.funcs[f] = len(g.nodes)
		g.nodes = append(g.nodes, Node{Kind: KindFunction, Function: f})
	}
	g.adj = make([][]int, len(g.nodes))

	for _, f := range fns {
		self := g.funcs[f]
		for _, ref := range functionRefs(f) {
			target, ok := g.resolve(ref)
			if !ok {
				return nil, fmt.Errorf("%w: %s (%s) references %s", ErrUnresolvedTypeReference,
					f.Identifier(), f.Location(), refString(ref))
			}
			g.connect(self, target)
		}
	}
	return g, nil
}

// functionRefs collects every type reference reachable from the callable's
// arguments and realized return value.
func functionRefs(f *entity.Function) []entity.TypeRef {
	var refs []entity.TypeRef
	add := func(ref entity.TypeRef) {
		// A pinned realized value can carry an empty reference; the
		// renderer reports the disagreement, not the graph.
		if ref.ID != "" || ref.Name != "" {
			refs = append(refs, ref)
		}
	}
	for _, arg := range f.Arguments {
		add(arg.Type)
	}
	if f.Retval != nil {
		if f.Retval.Variant == entity.ReturnTable {
			for _, col := range f.Retval.Columns {
				add(col.Type)
			}
		} else {
			add(f.Retval.Type)
		}
	}
	return refs
}

// resolve maps a reference onto a node, trying kinds in fixed priority
// order: exact type identity, then enum identity, then built-in name.
func (g *Graph) resolve(ref entity.TypeRef) (int, bool) {
	for i, n := range g.nodes {
		if n.Kind == KindType && n.Type.ID == ref.ID && ref.ID != "" {
			return i, true
		}
	}
	for i, n := range g.nodes {
		if n.Kind == KindEnum && n.Enum.ID == ref.ID && ref.ID != "" {
			return i, true
		}
	}
	for i, n := range g.nodes {
		if n.Kind == KindBuiltin && n.Builtin == ref.Name && ref.Name != "" {
			return i, true
		}
	}
	return 0, false
}

func (g *Graph) connect(a, b int) {
	if !slices.Contains(g.adj[a], b) {
		g.adj[a] = append(g.adj[a], b)
	}
	if !slices.Contains(g.adj[b], a) {
		g.adj[b] = append(g.adj[b], a)
	}
}

// Node returns the node at index i.
func (g *Graph) Node(i int) Node {
	return g.nodes[i]
}

// Len is the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// FunctionIndex returns the node index of a callable.
func (g *Graph) FunctionIndex(f *entity.Function) (int, bool) {
	i, ok := g.funcs[f]
	return i, ok
}

// Neighbor finds the node a callable's reference resolved to, among the
// callable's edges. This is the renderer's lookup for schema-qualifying
// argument and return types.
func (g *Graph) Neighbor(fn int, ref entity.TypeRef) (int, error) {
	for _, i := range g.adj[fn] {
		n := g.nodes[i]
		switch n.Kind {
		case KindType:
			if ref.ID != "" && n.Type.ID == ref.ID {
				return i, nil
			}
		case KindEnum:
			if ref.ID != "" && n.Enum.ID == ref.ID {
				return i, nil
			}
		case KindBuiltin:
			if ref.Name != "" && n.Builtin == ref.Name {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnresolvedTypeReference, refString(ref))
}

// DefaultSchema is the namespace that needs no qualifying prefix.
func (g *Graph) DefaultSchema() string {
	return g.opts.DefaultSchema
}

// ModulePathname is the shared-object path emitted in AS clauses.
func (g *Graph) ModulePathname() string {
	return g.opts.ModulePathname
}

// InternalTypeID identifies the internal placeholder type excluded from
// strict-null inference.
func (g *Graph) InternalTypeID() string {
	return g.opts.InternalTypeID
}

// SchemaPrefix returns the namespace qualifier to print before the node's
// name: empty when the entity lives in the default namespace, otherwise
// "<schema>.". Built-ins are always unqualified.
func (g *Graph) SchemaPrefix(i int) string {
	n := g.nodes[i]
	var schema string
	switch n.Kind {
	case KindFunction:
		schema = n.Function.Schema
	case KindType:
		schema = n.Type.Schema
	case KindEnum:
		schema = n.Enum.Schema
	case KindTrigger:
		schema = n.Trigger.Schema
	case KindBuiltin:
		return ""
	}
	if schema == "" || schema == g.opts.DefaultSchema {
		return ""
	}
	return schema + "."
}

// Ordered returns all node indices in emission order: topological over the
// references relation with dependencies first, ties broken by each node's
// sort key. The ordering is total and deterministic for a given set.
func (g *Graph) Ordered() []int {
	// Dependency direction is callable -> referenced entity.
	indegree := make([]int, len(g.nodes))
	dependents := make([][]int, len(g.nodes))
	for i, n := range g.nodes {
		if n.Kind != KindFunction {
			continue
		}
		deps := g.adj[i]
		indegree[i] = len(deps)
		for _, d := range deps {
			dependents[d] = append(dependents[d], i)
		}
	}

	ready := make([]int, 0, len(g.nodes))
	for i := range g.nodes {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	order := make([]int, 0, len(g.nodes))
	for len(ready) > 0 {
		slices.SortFunc(ready, func(a, b int) int {
			ka, kb := g.sortKey(a), g.sortKey(b)
			if ka < kb {
				return -1
			}
			if ka > kb {
				return 1
			}
			return 0
		})
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	return order
}

// sortKey is the deterministic tie-break: kind rank first, then the
// node's identity (the signature key for callables).
func (g *Graph) sortKey(i int) string {
	n := g.nodes[i]
	switch n.Kind {
	case KindType:
		return "0/" + n.Type.ID
	case KindEnum:
		return "1/" + n.Enum.ID
	case KindBuiltin:
		return "2/" + n.Builtin
	case KindTrigger:
		return "3/" + n.Trigger.FullPath
	case KindFunction:
		return "4/" + n.Function.Signature()
	}
	return "5/"
}

func refString(ref entity.TypeRef) string {
	if ref.ID != "" && ref.ID != ref.Name {
		return fmt.Sprintf("%s (id %s)", ref.Name, ref.ID)
	}
	return ref.Name
}
