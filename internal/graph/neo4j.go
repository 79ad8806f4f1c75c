package graph

import (
	"context"
	"fmt"
	"iter"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"digital-self/pkg/errors"
	"digital-self/pkg/logger"
)

// Neo4jStore persists the relationship graph in Neo4j. Nodes carry a single
// :Mem label; the engine-level node type and all attributes are plain
// properties, so the Cypher surface stays small.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewNeo4jStore connects to Neo4j and verifies connectivity.
func NewNeo4jStore(ctx context.Context, uri, user, password string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, errors.NewGraphConnectionFailed(uri, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, errors.NewGraphConnectionFailed(uri, err)
	}
	return &Neo4jStore{
		driver: driver,
		logger: logger.Get(),
	}, nil
}

// Close closes the Neo4j driver connection.
func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}

// AddNode upserts a node.
func (s *Neo4jStore) AddNode(ctx context.Context, n Node) error {
	if n.ID == "" {
		return errors.NewValidation("node id", "must not be empty")
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MERGE (m:Mem {id: $id})
		SET m.user_id = $userID,
		    m.node_type = $nodeType,
		    m += $attrs
	`

	attrs := make(map[string]any, len(n.Attrs))
	for k, v := range n.Attrs {
		attrs[k] = v
	}

	_, err := session.Run(ctx, query, map[string]any{
		"id":       n.ID,
		"userID":   n.UserID,
		"nodeType": string(n.Type),
		"attrs":    attrs,
	})
	if err != nil {
		return errors.NewGraphQueryFailed("add node", err)
	}
	return nil
}

// AddEdge creates a directed, typed edge between two existing nodes.
func (s *Neo4jStore) AddEdge(ctx context.Context, fromID, toID string, t EdgeType) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	// Relationship types cannot be parameterized in Cypher
	query := fmt.Sprintf(`
		MATCH (a:Mem {id: $fromID})
		MATCH (b:Mem {id: $toID})
		MERGE (a)-[r:%s]->(b)
		ON CREATE SET r.created_at = datetime()
		RETURN r
	`, t)

	result, err := session.Run(ctx, query, map[string]any{
		"fromID": fromID,
		"toID":   toID,
	})
	if err != nil {
		return errors.NewGraphQueryFailed("add edge", err)
	}
	if !result.Next(ctx) {
		return errors.NewNodeNotFound(fromID)
	}
	return nil
}

// Node returns a single node by id.
func (s *Neo4jStore) Node(ctx context.Context, id string) (Node, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (m:Mem {id: $id})
		RETURN properties(m) as props
	`

	result, err := session.Run(ctx, query, map[string]any{"id": id})
	if err != nil {
		return Node{}, errors.NewGraphQueryFailed("get node", err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return Node{}, errors.NewGraphQueryFailed("get node", err)
		}
		return Node{}, errors.NewNodeNotFound(id)
	}

	props, _ := result.Record().Get("props")
	propsMap, ok := props.(map[string]any)
	if !ok {
		return Node{}, errors.NewGraphQueryFailed("get node", fmt.Errorf("unexpected properties shape"))
	}
	return nodeFromProps(propsMap), nil
}

// SetAttr updates one attribute of an existing node.
func (s *Neo4jStore) SetAttr(ctx context.Context, id, key, value string) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	// Property names cannot be parameterized, so pass a one-entry map
	query := `
		MATCH (m:Mem {id: $id})
		SET m += $props
		RETURN m.id as id
	`

	result, err := session.Run(ctx, query, map[string]any{
		"id":    id,
		"props": map[string]any{key: value},
	})
	if err != nil {
		return errors.NewGraphQueryFailed("set attr", err)
	}
	if !result.Next(ctx) {
		return errors.NewNodeNotFound(id)
	}
	return nil
}

// Neighbors returns the nodes directly connected to id in either direction.
// The result set is fetched eagerly per iteration start, which keeps the
// sequence restartable without holding a session open.
func (s *Neo4jStore) Neighbors(ctx context.Context, id string, t EdgeType) (iter.Seq[Node], error) {
	nodes, err := s.fetchNeighbors(ctx, id, t)
	if err != nil {
		return nil, err
	}

	return func(yield func(Node) bool) {
		for _, n := range nodes {
			if !yield(n) {
				return
			}
		}
	}, nil
}

func (s *Neo4jStore) fetchNeighbors(ctx context.Context, id string, t EdgeType) ([]Node, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := fmt.Sprintf(`
		MATCH (m:Mem {id: $id})
		OPTIONAL MATCH (m)-[:%s]-(n:Mem)
		RETURN m.id as id, collect(properties(n)) as neighbors
	`, t)

	result, err := session.Run(ctx, query, map[string]any{"id": id})
	if err != nil {
		return nil, errors.NewGraphQueryFailed("neighbors", err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, errors.NewGraphQueryFailed("neighbors", err)
		}
		return nil, errors.NewNodeNotFound(id)
	}

	record := result.Record()
	raw, _ := record.Get("neighbors")
	list, ok := raw.([]any)
	if !ok {
		return nil, nil
	}

	nodes := make([]Node, 0, len(list))
	for _, item := range list {
		props, ok := item.(map[string]any)
		if !ok || props == nil {
			continue
		}
		nodes = append(nodes, nodeFromProps(props))
	}
	return nodes, nil
}

// RemoveNode deletes a node and its edges, detaching inbound fact edges by
// clearing the related-entity property on their sources.
func (s *Neo4jStore) RemoveNode(ctx context.Context, id string) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	detach := fmt.Sprintf(`
		MATCH (src:Mem)-[:%s]->(m:Mem {id: $id})
		WHERE src.related_entity_id = $id
		SET src.related_entity_id = ""
	`, EdgeFact)
	if _, err := session.Run(ctx, detach, map[string]any{"id": id}); err != nil {
		return errors.NewGraphQueryFailed("detach facts", err)
	}

	query := `
		MATCH (m:Mem {id: $id})
		DETACH DELETE m
	`
	if _, err := session.Run(ctx, query, map[string]any{"id": id}); err != nil {
		return errors.NewGraphQueryFailed("remove node", err)
	}

	s.logger.Debug("Graph node removed", zap.String("node_id", id))
	return nil
}

// RemoveUser deletes every node owned by the user.
func (s *Neo4jStore) RemoveUser(ctx context.Context, userID string) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MATCH (m:Mem {user_id: $userID})
		DETACH DELETE m
	`
	if _, err := session.Run(ctx, query, map[string]any{"userID": userID}); err != nil {
		return errors.NewGraphQueryFailed("remove user", err)
	}

	s.logger.Info("Graph nodes removed", zap.String("user_id", userID))
	return nil
}

func nodeFromProps(props map[string]any) Node {
	n := Node{Attrs: make(map[string]string)}
	for k, v := range props {
		str, ok := v.(string)
		if !ok {
			continue
		}
		switch k {
		case "id":
			n.ID = str
		case "user_id":
			n.UserID = str
		case "node_type":
			n.Type = NodeType(str)
		default:
			n.Attrs[k] = str
		}
	}
	return n
}
