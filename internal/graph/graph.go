package graph

import (
	"context"
	"iter"
)

// NodeType classifies a graph node
type NodeType string

const (
	NodeFact   NodeType = "fact"
	NodeEntity NodeType = "entity"
)

// EdgeType classifies a directed relationship
type EdgeType string

// EdgeFact links a fact to the entity it is about: Fact --FACT--> Entity.
const EdgeFact EdgeType = "FACT"

// Well-known node attribute keys.
const (
	AttrText          = "text"
	AttrFactType      = "fact_type"
	AttrProvenance    = "provenance"
	AttrRelatedEntity = "related_entity_id"
	AttrEmbedding     = "embedding" // JSON-encoded vector, kept for re-indexing
	AttrCreatedAt     = "created_at"
	AttrName          = "name"
)

// Node is a typed graph node. IDs are caller-minted so the same identifier
// can key all three stores for a given fact or entity.
type Node struct {
	ID     string            `json:"id"`
	Type   NodeType          `json:"type"`
	UserID string            `json:"user_id"`
	Attrs  map[string]string `json:"attrs,omitempty"`
}

// Store is the canonical source for deterministic relationship queries.
// It never consults vector similarity.
type Store interface {
	// AddNode upserts a node. The node id must be unique across types.
	AddNode(ctx context.Context, n Node) error

	// AddEdge creates a directed, typed edge. Both endpoints must exist.
	// Re-adding an existing edge is a no-op.
	AddEdge(ctx context.Context, fromID, toID string, t EdgeType) error

	// Node returns a single node by id.
	Node(ctx context.Context, id string) (Node, error)

	// SetAttr updates one attribute of an existing node.
	SetAttr(ctx context.Context, id, key, value string) error

	// Neighbors produces a lazy, finite, restartable sequence of the nodes
	// directly connected to id by edges of the given type, in either
	// direction.
	Neighbors(ctx context.Context, id string, t EdgeType) (iter.Seq[Node], error)

	// RemoveNode deletes the node and its edges. Facts pointing at a removed
	// entity are detached, not deleted: their related-entity attribute is
	// cleared. Removing an absent node is a no-op.
	RemoveNode(ctx context.Context, id string) error

	// RemoveUser deletes every node owned by the user. Idempotent.
	RemoveUser(ctx context.Context, userID string) error

	// Close releases store resources.
	Close() error
}
