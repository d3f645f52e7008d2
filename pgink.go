// Package pgink compiles declared callable units and the types they
// reference into the DDL script that registers them with PostgreSQL.
//
// The compiler is a single-pass batch transform: the full entity set is
// collected (see the manifest package), frozen into an entity graph, and
// every callable is rendered independently against that read-only graph.
// Because nothing is mutated after the freeze, rendering is an
// embarrassingly parallel map over entities; the driver fans out with an
// errgroup and joins the results in graph-dependency order with a
// deterministic signature-key tie-break, so the output is byte-stable
// across runs regardless of scheduling.
//
// Typical usage:
//
//	set, opts, err := manifest.Load("pgink.manifest.yaml")
//	c, err := pgink.New(set, pgink.Options{Graph: opts})
//	script, err := c.Render(ctx)
//
// Rendering failures are hard failures of the whole run: a declaration
// that cannot be rendered indicates drift between the declaration and the
// executed form, and partial output would register a broken extension.
package pgink

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pgink/pgink/ddl"
	"github.com/pgink/pgink/entity"
	"github.com/pgink/pgink/graph"
)

// DefaultModulePathname is emitted when the manifest does not pin the
// shared-object path; PostgreSQL substitutes the extension's library.
const DefaultModulePathname = "MODULE_PATHNAME"

// Options configure a Compiler.
type Options struct {
	// Graph carries the compiler-global settings frozen into the graph.
	Graph graph.Options
	// Logger receives per-entity debug traces. Defaults to a nop logger.
	Logger *zap.Logger
	// Parallelism bounds concurrent rendering. Defaults to GOMAXPROCS.
	Parallelism int
}

// Compiler owns a frozen entity graph and renders it to DDL. It is safe
// for concurrent use once constructed.
type Compiler struct {
	graph       *graph.Graph
	log         *zap.Logger
	parallelism int
}

// New freezes the entity set into a graph. Every type reference of every
// callable must resolve, or construction fails.
func New(set graph.Set, opts Options) (*Compiler, error) {
	if opts.Graph.ModulePathname == "" {
		opts.Graph.ModulePathname = DefaultModulePathname
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.GOMAXPROCS(0)
	}
	g, err := graph.Build(set, opts.Graph)
	if err != nil {
		return nil, fmt.Errorf("building entity graph: %w", err)
	}
	return &Compiler{
		graph:       g,
		log:         opts.Logger,
		parallelism: opts.Parallelism,
	}, nil
}

// Graph exposes the frozen graph, mainly for inspection commands.
func (c *Compiler) Graph() *graph.Graph {
	return c.graph
}

// Render produces the full DDL script: one block per callable and trigger
// in emission order, preceded by the generated-file header. Entities
// render concurrently over the shared graph; the first failure cancels
// the remaining work and is returned with the entity identity attached.
func (c *Compiler) Render(ctx context.Context) (string, error) {
	order := c.graph.Ordered()

	type job struct {
		index int
		node  graph.Node
	}
	var jobs []job
	for _, i := range order {
		n := c.graph.Node(i)
		if n.Kind == graph.KindFunction || n.Kind == graph.KindTrigger {
			jobs = append(jobs, job{index: i, node: n})
		}
	}

	blocks := make([]string, len(jobs))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(c.parallelism)
	for slot, j := range jobs {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var (
				block string
				err   error
			)
			switch j.node.Kind {
			case graph.KindFunction:
				block, err = ddl.Function(c.graph, j.node.Function)
				c.log.Debug("rendered function",
					zap.String("function", j.node.Function.Identifier()),
					zap.Error(err))
			case graph.KindTrigger:
				block, err = ddl.Trigger(c.graph, j.node.Trigger, j.index)
				c.log.Debug("rendered trigger",
					zap.String("trigger", j.node.Trigger.Identifier()),
					zap.Error(err))
			}
			if err != nil {
				return err
			}
			blocks[slot] = block
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(header)
	for _, block := range blocks {
		b.WriteByte('\n')
		b.WriteString(block)
	}
	return b.String(), nil
}

// Functions returns the callables in the frozen graph, in emission order.
func (c *Compiler) Functions() []*entity.Function {
	var fns []*entity.Function
	for _, i := range c.graph.Ordered() {
		if n := c.graph.Node(i); n.Kind == graph.KindFunction {
			fns = append(fns, n.Function)
		}
	}
	return fns
}

// Triggers returns the trigger registrations, in emission order.
func (c *Compiler) Triggers() []*entity.Trigger {
	var ts []*entity.Trigger
	for _, i := range c.graph.Ordered() {
		if n := c.graph.Node(i); n.Kind == graph.KindTrigger {
			ts = append(ts, n.Trigger)
		}
	}
	return ts
}

const header = `-- Generated by pgink. DO NOT EDIT.
-- This script registers the extension's callables with PostgreSQL.
`
