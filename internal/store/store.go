// Package store is a graph.Store for the stage graphs of a flow run. It is
// safe for concurrent use and lets callers update vertex attributes in place.
package store

import (
	"slices"
	"sync"

	"github.com/dominikbraun/graph"
)

// Store is a graph.Store whose vertex properties can be updated.
type Store[K comparable, T any] interface {
	graph.Store[K, T]
	UpdateVertex(k K, options ...func(*graph.VertexProperties)) error
}

// node is a vertex with its outgoing edges and the sources pointing at it.
type node[K comparable, T any] struct {
	value   T
	props   graph.VertexProperties
	out     map[K]graph.Edge[K]
	sources map[K]struct{}
}

// MemoryStore keeps every vertex in a node. Vertices are listed in insertion
// order.
type MemoryStore[K comparable, T any] struct {
	mu    sync.RWMutex
	order []K
	nodes map[K]*node[K, T]
}

// NewMemoryStore creates an empty store.
func NewMemoryStore[K comparable, T any]() *MemoryStore[K, T] {
	return &MemoryStore[K, T]{nodes: make(map[K]*node[K, T])}
}

func (s *MemoryStore[K, T]) AddVertex(k K, t T, p graph.VertexProperties) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[k]; ok {
		return graph.ErrVertexAlreadyExists
	}

	p.Attributes = copyAttributes(p.Attributes)
	s.nodes[k] = &node[K, T]{
		value:   t,
		props:   p,
		out:     make(map[K]graph.Edge[K]),
		sources: make(map[K]struct{}),
	}
	s.order = append(s.order, k)

	return nil
}

func (s *MemoryStore[K, T]) ListVertices() ([]K, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.order), nil
}

func (s *MemoryStore[K, T]) VertexCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.nodes), nil
}

// Vertex returns a copy of the properties of k.
func (s *MemoryStore[K, T]) Vertex(k K) (T, graph.VertexProperties, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[k]
	if !ok {
		var zero T

		return zero, graph.VertexProperties{}, graph.ErrVertexNotFound
	}

	p := n.props
	p.Attributes = copyAttributes(p.Attributes)

	return n.value, p, nil
}

// UpdateVertex applies options to the stored properties of k.
func (s *MemoryStore[K, T]) UpdateVertex(k K, options ...func(*graph.VertexProperties)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[k]
	if !ok {
		return graph.ErrVertexNotFound
	}

	for _, opt := range options {
		opt(&n.props)
	}

	return nil
}

func (s *MemoryStore[K, T]) RemoveVertex(k K) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[k]
	if !ok {
		return graph.ErrVertexNotFound
	}

	if len(n.out) > 0 || len(n.sources) > 0 {
		return graph.ErrVertexHasEdges
	}

	delete(s.nodes, k)
	s.order = slices.DeleteFunc(s.order, func(v K) bool { return v == k })

	return nil
}

func (s *MemoryStore[K, T]) AddEdge(source, target K, edge graph.Edge[K]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, to, err := s.ends(source, target)
	if err != nil {
		return err
	}

	from.out[target] = edge
	to.sources[source] = struct{}{}

	return nil
}

func (s *MemoryStore[K, T]) UpdateEdge(source, target K, edge graph.Edge[K]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, ok := s.nodes[source]
	if !ok {
		return graph.ErrEdgeNotFound
	}

	if _, ok := from.out[target]; !ok {
		return graph.ErrEdgeNotFound
	}

	from.out[target] = edge

	return nil
}

func (s *MemoryStore[K, T]) RemoveEdge(source, target K) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if from, ok := s.nodes[source]; ok {
		delete(from.out, target)
	}

	if to, ok := s.nodes[target]; ok {
		delete(to.sources, source)
	}

	return nil
}

func (s *MemoryStore[K, T]) Edge(source, target K) (graph.Edge[K], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if from, ok := s.nodes[source]; ok {
		if edge, ok := from.out[target]; ok {
			return edge, nil
		}
	}

	return graph.Edge[K]{}, graph.ErrEdgeNotFound
}

// ListEdges returns the edges grouped by source, sources in insertion order.
func (s *MemoryStore[K, T]) ListEdges() ([]graph.Edge[K], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var edges []graph.Edge[K]

	for _, k := range s.order {
		for _, edge := range s.nodes[k].out {
			edges = append(edges, edge)
		}
	}

	return edges, nil
}

func (s *MemoryStore[K, T]) ends(source, target K) (*node[K, T], *node[K, T], error) {
	from, ok := s.nodes[source]
	if !ok {
		return nil, nil, graph.ErrVertexNotFound
	}

	to, ok := s.nodes[target]
	if !ok {
		return nil, nil, graph.ErrVertexNotFound
	}

	return from, to, nil
}

func copyAttributes(attrs map[string]string) map[string]string {
	c := make(map[string]string, len(attrs))
	for key, value := range attrs {
		c[key] = value
	}

	return c
}

var _ Store[string, string] = (*MemoryStore[string, string])(nil)
