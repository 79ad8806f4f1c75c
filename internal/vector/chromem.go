package vector

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"digital-self/pkg/logger"
)

// Collection metadata keys.
const (
	metaFactType   = "fact_type"
	metaProvenance = "provenance"
	metaUserID     = "user_id"
)

// ChromemIndex wraps chromem-go, a pure Go embedded vector database.
// Each user gets a dedicated collection, so cross-user leakage is impossible
// by construction rather than by filtering.
type ChromemIndex struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewChromemIndex creates an in-process similarity index.
func NewChromemIndex() *ChromemIndex {
	return &ChromemIndex{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		logger:      logger.Get(),
	}
}

func collectionName(userID string) string {
	return "user_" + userID
}

// getOrCreateCollection returns the collection for a user, creating it on
// first write.
func (s *ChromemIndex) getOrCreateCollection(userID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[userID]
	s.mu.RUnlock()

	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := s.collections[userID]; exists {
		return col, nil
	}

	// Embeddings are provided by the caller, so no embedding func; default
	// cosine similarity.
	col, err := s.db.CreateCollection(collectionName(userID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	s.collections[userID] = col
	return col, nil
}

// getCollection returns the collection for a user without creating one.
func (s *ChromemIndex) getCollection(userID string) *chromem.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collections[userID]
}

// Index inserts a vector with its metadata tags.
func (s *ChromemIndex) Index(ctx context.Context, factID string, embedding []float32, meta Metadata) error {
	col, err := s.getOrCreateCollection(meta.UserID)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        factID,
		Content:   meta.Text,
		Embedding: embedding,
		Metadata: map[string]string{
			metaUserID:     meta.UserID,
			metaFactType:   meta.FactType,
			metaProvenance: meta.Provenance,
		},
	}

	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}

	s.logger.Debug("Vector indexed",
		zap.String("fact_id", factID),
		zap.String("user_id", meta.UserID),
	)
	return nil
}

// Query returns up to k nearest vectors for the user, closest first.
func (s *ChromemIndex) Query(ctx context.Context, userID string, embedding []float32, k int) ([]Result, error) {
	col := s.getCollection(userID)
	if col == nil {
		return nil, nil
	}

	// chromem rejects nResults larger than the collection, so clamp. Fewer
	// results than requested is not an error per the index contract.
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}
	if k < 1 {
		return nil, nil
	}

	raw, err := col.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	results := make([]Result, 0, len(raw))
	for _, r := range raw {
		results = append(results, Result{
			FactID:   r.ID,
			Distance: 1 - float64(r.Similarity),
			Metadata: Metadata{
				UserID:     r.Metadata[metaUserID],
				FactType:   r.Metadata[metaFactType],
				Provenance: r.Metadata[metaProvenance],
				Text:       r.Content,
			},
		})
	}
	return results, nil
}

// Delete removes a single vector. Absent ids are a no-op.
func (s *ChromemIndex) Delete(ctx context.Context, userID, factID string) error {
	col := s.getCollection(userID)
	if col == nil {
		return nil
	}

	if err := col.Delete(ctx, nil, nil, factID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// DropUser removes the user's whole collection. Idempotent.
func (s *ChromemIndex) DropUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.collections[userID]; !exists {
		return nil
	}

	if err := s.db.DeleteCollection(collectionName(userID)); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	delete(s.collections, userID)

	s.logger.Info("Vector collection dropped", zap.String("user_id", userID))
	return nil
}
