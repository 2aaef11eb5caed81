package flow

import (
	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"

	"github.com/askiada/pipedriver/internal/store"
)

type nodeKind int

const (
	inputNode nodeKind = iota
	stepNode
	outputNode
)

func inputVertex(name string) string  { return "input " + name }
func stepVertex(name string) string   { return "step " + name }
func outputVertex(name string) string { return "output " + name }

// stepGraph connects inputs to steps and outputs. Every step and output reads
// from exactly one node, so the graph is a forest rooted at the inputs.
type stepGraph struct {
	g         graph.Graph[string, string]
	order     []string
	kinds     map[string]nodeKind
	names     map[string]string
	parents   map[string]string
	consumers map[string]int
}

func newStepGraph(def *definition) (*stepGraph, error) {
	sg := &stepGraph{
		g:         graph.NewWithStore(graph.StringHash, store.NewMemoryStore[string, string](), graph.Directed(), graph.PreventCycles()),
		kinds:     map[string]nodeKind{},
		names:     map[string]string{},
		parents:   map[string]string{},
		consumers: map[string]int{},
	}

	for _, in := range def.inputs {
		if err := sg.addVertex(inputVertex(in.Name), in.Name, inputNode); err != nil {
			return nil, err
		}
	}

	for _, st := range def.steps {
		if err := sg.addVertex(stepVertex(st.name), st.name, stepNode); err != nil {
			return nil, err
		}
	}

	for _, out := range def.outputs {
		if err := sg.addVertex(outputVertex(out.Name), out.Name, outputNode); err != nil {
			return nil, err
		}
	}

	for _, st := range def.steps {
		if err := sg.connect(def, st.source, stepVertex(st.name)); err != nil {
			return nil, err
		}
	}

	for _, out := range def.outputs {
		if err := sg.connect(def, out.from, outputVertex(out.Name)); err != nil {
			return nil, err
		}
	}

	order, err := graph.StableTopologicalSort(sg.g, func(a, b string) bool { return a < b })
	if err != nil {
		return nil, errors.Wrap(err, "unable to order steps")
	}

	sg.order = order

	return sg, nil
}

func (sg *stepGraph) addVertex(vertex, name string, kind nodeKind) error {
	err := sg.g.AddVertex(vertex)
	if err != nil {
		return errors.Wrapf(err, "unable to add %s", vertex)
	}

	sg.kinds[vertex] = kind
	sg.names[vertex] = name

	return nil
}

// connect links the node called source to child. A step name wins over an
// input name, though names are unique across both.
func (sg *stepGraph) connect(def *definition, source, child string) error {
	var parent string

	switch {
	case def.step(source) != nil:
		parent = stepVertex(source)
	case def.input(source) != nil:
		parent = inputVertex(source)
	default:
		return staticError("XS0022", "%s reads from unknown port %q", child, source)
	}

	err := sg.g.AddEdge(parent, child)
	if errors.Is(err, graph.ErrEdgeCreatesCycle) {
		return staticError("XS0001", "%s reading from %s creates a loop", child, parent)
	}

	if err != nil {
		return errors.Wrapf(err, "unable to connect %s to %s", parent, child)
	}

	sg.parents[child] = parent
	sg.consumers[parent]++

	return nil
}
