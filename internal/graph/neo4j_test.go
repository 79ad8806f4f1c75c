package graph

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digital-self/pkg/errors"
)

// newNeo4jTestStore connects to the Neo4j instance named by NEO4J_URI,
// skipping the test when integration infrastructure is absent.
func newNeo4jTestStore(t *testing.T) *Neo4jStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	uri := os.Getenv("NEO4J_URI")
	if uri == "" {
		t.Skip("NEO4J_URI not set")
	}

	s, err := NewNeo4jStore(context.Background(), uri, os.Getenv("NEO4J_USER"), os.Getenv("NEO4J_PASSWORD"))
	if err != nil {
		t.Skipf("Neo4j unreachable: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNeo4j_NodeRoundTrip(t *testing.T) {
	s := newNeo4jTestStore(t)
	ctx := context.Background()
	userID := "it-" + uuid.New().String()
	t.Cleanup(func() { _ = s.RemoveUser(ctx, userID) })

	id := uuid.New().String()
	require.NoError(t, s.AddNode(ctx, Node{
		ID: id, Type: NodeFact, UserID: userID,
		Attrs: map[string]string{
			AttrText:       "integration fact",
			AttrProvenance: "EXPLICIT",
		},
	}))

	n, err := s.Node(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, n.ID)
	assert.Equal(t, NodeFact, n.Type)
	assert.Equal(t, userID, n.UserID)
	assert.Equal(t, "integration fact", n.Attrs[AttrText])

	require.NoError(t, s.SetAttr(ctx, id, AttrProvenance, "OBSERVED"))
	n, err = s.Node(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "OBSERVED", n.Attrs[AttrProvenance])

	_, err = s.Node(ctx, "missing-"+uuid.New().String())
	assert.True(t, errors.IsErrorType(err, errors.ErrorTypeNotFound))
}

func TestNeo4j_EdgesAndNeighbors(t *testing.T) {
	s := newNeo4jTestStore(t)
	ctx := context.Background()
	userID := "it-" + uuid.New().String()
	t.Cleanup(func() { _ = s.RemoveUser(ctx, userID) })

	entityID := uuid.New().String()
	factID := uuid.New().String()
	require.NoError(t, s.AddNode(ctx, Node{ID: entityID, Type: NodeEntity, UserID: userID}))
	require.NoError(t, s.AddNode(ctx, Node{
		ID: factID, Type: NodeFact, UserID: userID,
		Attrs: map[string]string{AttrRelatedEntity: entityID},
	}))
	require.NoError(t, s.AddEdge(ctx, factID, entityID, EdgeFact))

	// Traversal works from either endpoint
	seq, err := s.Neighbors(ctx, entityID, EdgeFact)
	require.NoError(t, err)
	assert.Equal(t, []string{factID}, collectIDs(seq))

	seq, err = s.Neighbors(ctx, factID, EdgeFact)
	require.NoError(t, err)
	assert.Equal(t, []string{entityID}, collectIDs(seq))

	// Removing the entity detaches the fact and clears its reference
	require.NoError(t, s.RemoveNode(ctx, entityID))
	n, err := s.Node(ctx, factID)
	require.NoError(t, err)
	assert.Empty(t, n.Attrs[AttrRelatedEntity])
}

func TestNeo4j_RemoveUser(t *testing.T) {
	s := newNeo4jTestStore(t)
	ctx := context.Background()
	userID := "it-" + uuid.New().String()

	id := uuid.New().String()
	require.NoError(t, s.AddNode(ctx, Node{ID: id, Type: NodeFact, UserID: userID}))

	require.NoError(t, s.RemoveUser(ctx, userID))
	_, err := s.Node(ctx, id)
	assert.True(t, errors.IsErrorType(err, errors.ErrorTypeNotFound))

	// Idempotent
	require.NoError(t, s.RemoveUser(ctx, userID))
}
