package graph

import (
	"context"

	"github.com/Milix-M/DeepReSearch/internal/state"
	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

// Sentinel node names. Start marks the entry edge source; End terminates a
// walk without executing a step.
const (
	Start = "start"
	End   = "end"
)

// RunConfig is the run-scoped configuration handed to every step invocation.
type RunConfig struct {
	// ThreadID identifies the logical run.
	ThreadID string

	// Resume maps pause id to the decision value injected by a resume
	// command. A suspended step consumes its entry on re-execution; on a
	// first run the map is empty.
	Resume map[string]any

	// Emit publishes one sanitized progress event from inside a step (tool
	// call boundaries, model turns). Nil-safe for tests.
	Emit func(name string, payload map[string]any)
}

// ResumeValue returns the injected decision for a pause id, if any.
func (c RunConfig) ResumeValue(pauseID string) (any, bool) {
	v, ok := c.Resume[pauseID]
	return v, ok
}

// EmitEvent publishes an event when an emitter is wired.
func (c RunConfig) EmitEvent(name string, payload map[string]any) {
	if c.Emit != nil {
		c.Emit(name, payload)
	}
}

// StepFunc is one named unit of work: it consumes the current state and
// returns a patch, a pause request, or nothing. Steps never mutate state
// directly.
type StepFunc func(ctx context.Context, st *state.WorkflowState, cfg RunConfig) (StepResult, error)

// RouterFunc decides the next node after a conditional branch point.
type RouterFunc func(st *state.WorkflowState) string

// Graph is the directed step graph. Build it with AddStep/AddEdge/AddRouter,
// then Compile before handing it to the engine; Compile rejects dangling
// edges and unreachable steps.
type Graph struct {
	steps    map[string]StepFunc
	edges    map[string]string
	routers  map[string]RouterFunc
	targets  map[string][]string
	entry    string
	compiled bool
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		steps:   make(map[string]StepFunc),
		edges:   make(map[string]string),
		routers: make(map[string]RouterFunc),
		targets: make(map[string][]string),
	}
}

// AddStep registers a named step.
func (g *Graph) AddStep(name string, fn StepFunc) error {
	if name == "" || name == Start || name == End {
		return schema.NewErrorf(schema.ErrCodeInternal, "invalid step name %q", name)
	}
	if fn == nil {
		return schema.NewErrorf(schema.ErrCodeInternal, "step %q has no function", name)
	}
	if _, exists := g.steps[name]; exists {
		return schema.NewErrorf(schema.ErrCodeInternal, "duplicate step %q", name)
	}
	g.steps[name] = fn
	return nil
}

// AddEdge wires an unconditional transition. An edge from Start sets the
// entry point; an edge to End terminates the walk.
func (g *Graph) AddEdge(from, to string) error {
	if from == End {
		return schema.NewError(schema.ErrCodeInternal, "no edges may leave the end sentinel")
	}
	if to == Start {
		return schema.NewError(schema.ErrCodeInternal, "no edges may enter the start sentinel")
	}
	if from == Start {
		if g.entry != "" {
			return schema.NewError(schema.ErrCodeInternal, "entry edge already set")
		}
		g.entry = to
		return nil
	}
	if g.hasOutgoing(from) {
		return schema.NewErrorf(schema.ErrCodeInternal, "step %q already has an outgoing transition", from)
	}
	g.edges[from] = to
	return nil
}

// AddRouter wires a conditional branch point. The router must return one of
// the declared targets; the declaration lets Compile check reachability.
func (g *Graph) AddRouter(from string, router RouterFunc, targets ...string) error {
	if router == nil {
		return schema.NewErrorf(schema.ErrCodeInternal, "router for %q is nil", from)
	}
	if len(targets) == 0 {
		return schema.NewErrorf(schema.ErrCodeInternal, "router for %q declares no targets", from)
	}
	if g.hasOutgoing(from) {
		return schema.NewErrorf(schema.ErrCodeInternal, "step %q already has an outgoing transition", from)
	}
	g.routers[from] = router
	g.targets[from] = targets
	return nil
}

func (g *Graph) hasOutgoing(from string) bool {
	if _, ok := g.edges[from]; ok {
		return true
	}
	_, ok := g.routers[from]
	return ok
}

// Compile validates the graph: an entry must be set, every transition target
// must exist (or be End), every step must be reachable from the entry, and
// every step must have a way out.
func (g *Graph) Compile() error {
	if g.entry == "" {
		return schema.NewError(schema.ErrCodeInternal, "graph has no entry edge from start")
	}
	if _, ok := g.steps[g.entry]; !ok {
		return schema.NewErrorf(schema.ErrCodeInternal, "entry step %q is not registered", g.entry)
	}

	for from, to := range g.edges {
		if err := g.checkEndpoint(from, to); err != nil {
			return err
		}
	}
	for from, targets := range g.targets {
		for _, to := range targets {
			if err := g.checkEndpoint(from, to); err != nil {
				return err
			}
		}
	}

	for name := range g.steps {
		if !g.hasOutgoing(name) {
			return schema.NewErrorf(schema.ErrCodeInternal, "step %q has no outgoing transition", name)
		}
	}

	reachable := map[string]bool{}
	frontier := []string{g.entry}
	for len(frontier) > 0 {
		node := frontier[0]
		frontier = frontier[1:]
		if node == End || reachable[node] {
			continue
		}
		reachable[node] = true
		if to, ok := g.edges[node]; ok {
			frontier = append(frontier, to)
		}
		frontier = append(frontier, g.targets[node]...)
	}
	for name := range g.steps {
		if !reachable[name] {
			return schema.NewErrorf(schema.ErrCodeInternal, "step %q is unreachable from the entry", name)
		}
	}

	g.compiled = true
	return nil
}

func (g *Graph) checkEndpoint(from, to string) error {
	if _, ok := g.steps[from]; !ok {
		return schema.NewErrorf(schema.ErrCodeInternal, "transition leaves unregistered step %q", from)
	}
	if to == End {
		return nil
	}
	if _, ok := g.steps[to]; !ok {
		return schema.NewErrorf(schema.ErrCodeInternal, "transition from %q targets unregistered step %q", from, to)
	}
	return nil
}

// Compiled reports whether Compile has succeeded.
func (g *Graph) Compiled() bool { return g.compiled }

// Entry returns the first step after the start sentinel.
func (g *Graph) Entry() string { return g.entry }

// Step looks up a registered step function.
func (g *Graph) Step(name string) (StepFunc, error) {
	fn, ok := g.steps[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeInternal, "unknown step %q", name)
	}
	return fn, nil
}

// Next resolves the node following name for the given state. Conditional
// branch points consult their router; a router answer outside its declared
// targets is a wiring bug and fails.
func (g *Graph) Next(name string, st *state.WorkflowState) (string, error) {
	if to, ok := g.edges[name]; ok {
		return to, nil
	}
	router, ok := g.routers[name]
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeInternal, "step %q has no outgoing transition", name)
	}
	to := router(st)
	for _, t := range g.targets[name] {
		if t == to {
			return to, nil
		}
	}
	return "", schema.NewErrorf(schema.ErrCodeInternal, "router for %q returned undeclared target %q", name, to)
}
