// Package graph is a small typed state-graph runtime. Nodes transform a state
// value S, static and conditional edges pick the next node, and execution
// stops at END or when the step limit is exceeded.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// END is a special constant used to represent the end node in the graph.
const END = "END"

// DefaultStepLimit bounds graphs compiled without an explicit limit.
const DefaultStepLimit = 25

var (
	// ErrEntryPointNotSet is returned when the entry point of the graph is not set.
	ErrEntryPointNotSet = errors.New("entry point not set")

	// ErrNodeNotFound is returned when a node is not found in the graph.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoOutgoingEdge is returned when no outgoing edge is found for a node.
	ErrNoOutgoingEdge = errors.New("no outgoing edge found for node")

	// ErrStepLimit is returned when a run executes more nodes than allowed.
	ErrStepLimit = errors.New("graph step limit exceeded")
)

// Edge represents an edge in the graph.
type Edge struct {
	From string
	To   string
}

// TypedNode represents a typed node in the graph.
type TypedNode[S any] struct {
	Name        string
	Description string
	Function    func(ctx context.Context, state S) (S, error)
}

// NodeListener observes node executions. It is called after every node with
// the node's error (nil on success) and wall-clock duration.
type NodeListener func(ctx context.Context, node string, err error, elapsed time.Duration)

// StateGraph represents a state-based graph over a state type S.
//
//	g := graph.NewStateGraph[MyState]()
//	g.AddNode("load", "Load files", load)
//	g.AddEdge("load", graph.END)
//	g.SetEntryPoint("load")
type StateGraph[S any] struct {
	nodes            map[string]TypedNode[S]
	edges            []Edge
	conditionalEdges map[string]func(ctx context.Context, state S) string
	entryPoint       string
	stepLimit        int
	listeners        []NodeListener
}

// NewStateGraph creates a new instance of StateGraph.
func NewStateGraph[S any]() *StateGraph[S] {
	return &StateGraph[S]{
		nodes:            make(map[string]TypedNode[S]),
		conditionalEdges: make(map[string]func(ctx context.Context, state S) string),
		stepLimit:        DefaultStepLimit,
	}
}

// AddNode adds a new node with the given name, description and function.
func (g *StateGraph[S]) AddNode(name string, description string, fn func(ctx context.Context, state S) (S, error)) {
	g.nodes[name] = TypedNode[S]{
		Name:        name,
		Description: description,
		Function:    fn,
	}
}

// AddEdge adds a static edge between the "from" and "to" nodes.
func (g *StateGraph[S]) AddEdge(from, to string) {
	g.edges = append(g.edges, Edge{From: from, To: to})
}

// AddConditionalEdge adds an edge whose target is computed from the state
// after "from" has run. A conditional edge takes precedence over static ones.
func (g *StateGraph[S]) AddConditionalEdge(from string, condition func(ctx context.Context, state S) string) {
	g.conditionalEdges[from] = condition
}

// SetEntryPoint sets the entry point node name for the state graph.
func (g *StateGraph[S]) SetEntryPoint(name string) {
	g.entryPoint = name
}

// SetStepLimit sets the maximum number of node executions per run.
// Values below 1 restore DefaultStepLimit.
func (g *StateGraph[S]) SetStepLimit(limit int) {
	if limit < 1 {
		limit = DefaultStepLimit
	}
	g.stepLimit = limit
}

// AddListener registers a NodeListener.
func (g *StateGraph[S]) AddListener(l NodeListener) {
	g.listeners = append(g.listeners, l)
}

// Compile validates the graph and returns a StateRunnable.
func (g *StateGraph[S]) Compile() (*StateRunnable[S], error) {
	if g.entryPoint == "" {
		return nil, ErrEntryPointNotSet
	}
	if _, ok := g.nodes[g.entryPoint]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, g.entryPoint)
	}
	for _, e := range g.edges {
		if _, ok := g.nodes[e.From]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, e.From)
		}
		if _, ok := g.nodes[e.To]; !ok && e.To != END {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, e.To)
		}
	}
	return &StateRunnable[S]{graph: g}, nil
}
