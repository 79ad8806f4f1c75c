package graph

import (
	"context"
	"iter"
	"sync"

	"go.uber.org/zap"

	"digital-self/pkg/errors"
	"digital-self/pkg/logger"
)

// MemoryStore is a mutex-guarded adjacency-map graph. It is the default
// backend when Neo4j is not configured, and the canonical store for tests.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]Node
	out   map[string]map[EdgeType][]string
	in    map[string]map[EdgeType][]string

	logger *zap.Logger
}

// NewMemoryStore creates an empty in-memory graph store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:  make(map[string]Node),
		out:    make(map[string]map[EdgeType][]string),
		in:     make(map[string]map[EdgeType][]string),
		logger: logger.Get(),
	}
}

func cloneAttrs(attrs map[string]string) map[string]string {
	if attrs == nil {
		return nil
	}
	c := make(map[string]string, len(attrs))
	for k, v := range attrs {
		c[k] = v
	}
	return c
}

func cloneNode(n Node) Node {
	n.Attrs = cloneAttrs(n.Attrs)
	return n
}

// AddNode upserts a node.
func (s *MemoryStore) AddNode(ctx context.Context, n Node) error {
	if n.ID == "" {
		return errors.NewValidation("node id", "must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes[n.ID] = cloneNode(n)
	return nil
}

// AddEdge creates a directed edge between two existing nodes.
func (s *MemoryStore) AddEdge(ctx context.Context, fromID, toID string, t EdgeType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[fromID]; !ok {
		return errors.NewNodeNotFound(fromID)
	}
	if _, ok := s.nodes[toID]; !ok {
		return errors.NewNodeNotFound(toID)
	}

	if containsID(s.out[fromID][t], toID) {
		return nil
	}

	if s.out[fromID] == nil {
		s.out[fromID] = make(map[EdgeType][]string)
	}
	if s.in[toID] == nil {
		s.in[toID] = make(map[EdgeType][]string)
	}
	s.out[fromID][t] = append(s.out[fromID][t], toID)
	s.in[toID][t] = append(s.in[toID][t], fromID)
	return nil
}

// Node returns a copy of the node by id.
func (s *MemoryStore) Node(ctx context.Context, id string) (Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return Node{}, errors.NewNodeNotFound(id)
	}
	return cloneNode(n), nil
}

// SetAttr updates one attribute of an existing node.
func (s *MemoryStore) SetAttr(ctx context.Context, id, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return errors.NewNodeNotFound(id)
	}
	if n.Attrs == nil {
		n.Attrs = make(map[string]string)
	}
	n.Attrs[key] = value
	s.nodes[id] = n
	return nil
}

// Neighbors returns a restartable sequence over the nodes directly connected
// to id in either direction. The id set is snapshotted at call time; node
// content is read lazily at iteration time.
func (s *MemoryStore) Neighbors(ctx context.Context, id string, t EdgeType) (iter.Seq[Node], error) {
	s.mu.RLock()
	if _, ok := s.nodes[id]; !ok {
		s.mu.RUnlock()
		return nil, errors.NewNodeNotFound(id)
	}

	ids := make([]string, 0, len(s.out[id][t])+len(s.in[id][t]))
	ids = append(ids, s.out[id][t]...)
	for _, nid := range s.in[id][t] {
		if !containsID(ids, nid) {
			ids = append(ids, nid)
		}
	}
	s.mu.RUnlock()

	return func(yield func(Node) bool) {
		for _, nid := range ids {
			s.mu.RLock()
			n, ok := s.nodes[nid]
			s.mu.RUnlock()
			if !ok {
				continue
			}
			if !yield(cloneNode(n)) {
				return
			}
		}
	}, nil
}

// RemoveNode deletes a node and its edges. Sources of inbound FACT edges are
// detached by clearing their related-entity attribute, never deleted.
func (s *MemoryStore) RemoveNode(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[id]; !ok {
		return nil
	}
	s.removeNodeLocked(id)
	return nil
}

func (s *MemoryStore) removeNodeLocked(id string) {
	// Detach inbound edges
	for t, srcs := range s.in[id] {
		for _, src := range srcs {
			s.out[src][t] = removeID(s.out[src][t], id)
			if t == EdgeFact {
				if n, ok := s.nodes[src]; ok && n.Attrs[AttrRelatedEntity] == id {
					n.Attrs[AttrRelatedEntity] = ""
					s.nodes[src] = n
				}
			}
		}
	}
	// Drop outbound edges from targets' inbound lists
	for t, dsts := range s.out[id] {
		for _, dst := range dsts {
			s.in[dst][t] = removeID(s.in[dst][t], id)
		}
	}

	delete(s.in, id)
	delete(s.out, id)
	delete(s.nodes, id)
}

// RemoveUser deletes every node owned by the user.
func (s *MemoryStore) RemoveUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, n := range s.nodes {
		if n.UserID == userID {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		s.removeNodeLocked(id)
	}

	if len(ids) > 0 {
		s.logger.Info("Graph nodes removed",
			zap.String("user_id", userID),
			zap.Int("count", len(ids)),
		)
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
