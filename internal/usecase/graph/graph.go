// Package graph runs a conversation turn through a compiled state machine of
// named nodes: a router entry node followed by one agent node.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel/trace"

	"omni-agent/internal/domain"
	"omni-agent/internal/infra/tracer"
)

// End is the terminal marker used as an edge target.
const End = "__end__"

// DefaultStepBudget bounds node executions per turn.
const DefaultStepBudget = 4

// NodeFunc executes one node, mutating the turn state.
type NodeFunc func(ctx context.Context, st *domain.ConversationState) error

// RouteFunc selects the next node after a node with conditional edges.
type RouteFunc func(st *domain.ConversationState) string

type conditional struct {
	route   RouteFunc
	targets []string
}

// Builder assembles a graph. Errors are reported by Compile.
type Builder struct {
	nodes map[string]NodeFunc
	order []string
	entry string
	edges map[string]string
	conds map[string]conditional
	errs  []error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		nodes: make(map[string]NodeFunc),
		edges: make(map[string]string),
		conds: make(map[string]conditional),
	}
}

// AddNode registers a node. Names must be unique and not End.
func (b *Builder) AddNode(name string, fn NodeFunc) *Builder {
	switch {
	case name == "" || name == End:
		b.errs = append(b.errs, fmt.Errorf("invalid node name %q", name))
	case fn == nil:
		b.errs = append(b.errs, fmt.Errorf("node %q has no function", name))
	default:
		if _, dup := b.nodes[name]; dup {
			b.errs = append(b.errs, fmt.Errorf("node %q: %w", name, domain.ErrDuplicate))
			return b
		}
		b.nodes[name] = fn
		b.order = append(b.order, name)
	}
	return b
}

// SetEntry sets the initial node.
func (b *Builder) SetEntry(name string) *Builder {
	b.entry = name
	return b
}

// AddEdge adds an unconditional edge from -> to.
func (b *Builder) AddEdge(from, to string) *Builder {
	if b.hasOutgoing(from) {
		b.errs = append(b.errs, fmt.Errorf("node %q already has an outgoing edge", from))
		return b
	}
	b.edges[from] = to
	return b
}

// AddConditionalEdges lets route pick the successor of from among targets.
func (b *Builder) AddConditionalEdges(from string, route RouteFunc, targets []string) *Builder {
	if b.hasOutgoing(from) {
		b.errs = append(b.errs, fmt.Errorf("node %q already has an outgoing edge", from))
		return b
	}
	if route == nil || len(targets) == 0 {
		b.errs = append(b.errs, fmt.Errorf("node %q: conditional edge needs a route and targets", from))
		return b
	}
	b.conds[from] = conditional{route: route, targets: slices.Clone(targets)}
	return b
}

func (b *Builder) hasOutgoing(name string) bool {
	_, e := b.edges[name]
	_, c := b.conds[name]
	return e || c
}

func (b *Builder) successors(name string) []string {
	if to, ok := b.edges[name]; ok {
		return []string{to}
	}
	return b.conds[name].targets
}

// Compile validates the wiring. Any failure wraps domain.ErrGraphCompile.
func (b *Builder) Compile(opts Options) (*Graph, error) {
	errs := slices.Clone(b.errs)
	if b.entry == "" {
		errs = append(errs, errors.New("entry node not set"))
	} else if _, ok := b.nodes[b.entry]; !ok {
		errs = append(errs, fmt.Errorf("entry node %q not defined", b.entry))
	}
	for from := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("edge from unknown node %q", from))
		}
	}
	for from := range b.conds {
		if _, ok := b.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("edge from unknown node %q", from))
		}
	}
	for _, name := range b.order {
		if !b.hasOutgoing(name) {
			errs = append(errs, fmt.Errorf("node %q has no outgoing edge", name))
			continue
		}
		for _, to := range b.successors(name) {
			if to == name {
				errs = append(errs, fmt.Errorf("node %q routes to itself", name))
				continue
			}
			if _, ok := b.nodes[to]; !ok && to != End {
				errs = append(errs, fmt.Errorf("node %q: edge to unknown node %q", name, to))
			}
		}
	}
	if len(errs) == 0 {
		if cycle := b.findCycle(); cycle != "" {
			errs = append(errs, fmt.Errorf("cycle through node %q", cycle))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrGraphCompile, errors.Join(errs...))
	}

	if opts.StepBudget <= 0 {
		opts.StepBudget = DefaultStepBudget
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	g := &Graph{
		nodes:  make(map[string]NodeFunc, len(b.nodes)),
		edges:  make(map[string]string, len(b.edges)),
		conds:  make(map[string]conditional, len(b.conds)),
		entry:  b.entry,
		budget: opts.StepBudget,
		logger: opts.Logger,
	}
	for k, v := range b.nodes {
		g.nodes[k] = v
	}
	for k, v := range b.edges {
		g.edges[k] = v
	}
	for k, v := range b.conds {
		g.conds[k] = v
	}
	return g, nil
}

// findCycle runs a depth-first search and returns a node on a cycle, if any.
func (b *Builder) findCycle() string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(b.nodes))
	var visit func(n string) string
	visit = func(n string) string {
		color[n] = grey
		for _, to := range b.successors(n) {
			if to == End {
				continue
			}
			switch color[to] {
			case grey:
				return to
			case white:
				if c := visit(to); c != "" {
					return c
				}
			}
		}
		color[n] = black
		return ""
	}
	for _, n := range b.order {
		if color[n] == white {
			if c := visit(n); c != "" {
				return c
			}
		}
	}
	return ""
}

// Options configures a compiled graph.
type Options struct {
	StepBudget int
	Logger     *slog.Logger
}

// Graph is an immutable compiled state machine, safe for concurrent Invoke
// calls with distinct states.
type Graph struct {
	nodes  map[string]NodeFunc
	edges  map[string]string
	conds  map[string]conditional
	entry  string
	budget int
	logger *slog.Logger
}

// Nodes returns the node names in sorted order.
func (g *Graph) Nodes() []string {
	out := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Has reports whether a node named name exists.
func (g *Graph) Has(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// Invoke runs st from the entry node to End. Node failures never escape as
// panics; they end the turn with an error text in st.Output and st.Err set.
// The returned error is the step budget error, if the budget ran out.
func (g *Graph) Invoke(ctx context.Context, st *domain.ConversationState) error {
	ctx, span := tracer.StartSpan(ctx, "graph.invoke")
	defer func() { tracer.End(span, st.Err) }()

	current := g.entry
	for current != End {
		if st.Steps >= g.budget {
			err := fmt.Errorf("%w: %d steps at node %q", domain.ErrStepBudget, st.Steps, current)
			g.logger.Warn("graph step budget exhausted", "node", current, "steps", st.Steps)
			st.Err = err
			if st.Output == "" {
				st.Output = errorText(err)
			}
			return err
		}
		st.Steps++
		st.Path = append(st.Path, current)

		if err := g.runNode(ctx, current, st); err != nil {
			g.logger.Error("graph node failed", "node", current, "error", err)
			st.Err = err
			st.Output = errorText(err)
			return nil
		}
		current = g.next(current, st)
	}
	return nil
}

func (g *Graph) next(from string, st *domain.ConversationState) string {
	if to, ok := g.edges[from]; ok {
		return to
	}
	c := g.conds[from]
	to := c.route(st)
	if !slices.Contains(c.targets, to) {
		g.logger.Warn("route outside declared targets, ending turn", "from", from, "to", to)
		return End
	}
	return to
}

func (g *Graph) runNode(ctx context.Context, name string, st *domain.ConversationState) (err error) {
	ctx, span := tracer.StartSpan(ctx, "graph.node."+name,
		trace.WithAttributes(tracer.StringAttr("node", name)),
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node %s panicked: %v", name, r)
		}
		tracer.End(span, err)
	}()
	return g.nodes[name](ctx, st)
}

func errorText(err error) string {
	return "I encountered an error: " + domain.SanitizeError(err)
}
