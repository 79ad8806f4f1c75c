// Package engine composes the similarity index, the relationship graph and
// the entity registry into the personal-context memory engine. It is the only
// surface external collaborators call: storeFact, registerEntity, recall and
// eraseUser, with multi-store writes kept atomic from the caller's
// perspective by ordered writes and compensating deletes.
package engine

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"digital-self/internal/embed"
	"digital-self/internal/graph"
	"digital-self/internal/registry"
	"digital-self/internal/state"
	"digital-self/internal/vector"
	"digital-self/pkg/errors"
	"digital-self/pkg/logger"
)

// Options tunes the engine.
type Options struct {
	// WriteRetries bounds retries of transient store failures before the
	// coordinator compensates and surfaces a write failure.
	WriteRetries int
	// VectorTimeout is the budget for the similarity query during recall.
	// Exceeding it degrades the result instead of blocking the turn.
	VectorTimeout time.Duration
	// MaxFactLength caps fact and query text, in runes.
	MaxFactLength int
	// MaxNameLength caps entity names, in runes.
	MaxNameLength int
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		WriteRetries:  2,
		VectorTimeout: 500 * time.Millisecond,
		MaxFactLength: 8192,
		MaxNameLength: 256,
	}
}

// Engine is the personal-context memory engine.
type Engine struct {
	index    vector.Index
	graph    graph.Store
	registry *registry.Registry
	embedder embed.Embedder
	locks    *userLocks
	opts     Options
	logger   *zap.Logger
}

// New creates an engine over the three stores and an embedding provider.
func New(index vector.Index, graphStore graph.Store, reg *registry.Registry, embedder embed.Embedder, opts Options) *Engine {
	if opts.WriteRetries < 0 {
		opts.WriteRetries = 0
	}
	if opts.VectorTimeout <= 0 {
		opts.VectorTimeout = DefaultOptions().VectorTimeout
	}
	if opts.MaxFactLength <= 0 {
		opts.MaxFactLength = DefaultOptions().MaxFactLength
	}
	if opts.MaxNameLength <= 0 {
		opts.MaxNameLength = DefaultOptions().MaxNameLength
	}
	return &Engine{
		index:    index,
		graph:    graphStore,
		registry: reg,
		embedder: embedder,
		locks:    newUserLocks(),
		opts:     opts,
		logger:   logger.Get(),
	}
}

// Registry exposes read-only resolution for callers that disambiguate
// entities themselves. Resolution never takes the per-user write lock.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// StoreFact validates, embeds and writes a fact across the three stores in a
// fixed order: similarity index, graph node, then the entity edge. Any
// failure after a completed step triggers compensating deletes, so a partial
// write is never observable by recall.
func (e *Engine) StoreFact(ctx context.Context, userID, text string, factType state.FactType, provenance state.Provenance, relatedEntityID string) (string, error) {
	if userID == "" {
		return "", errors.NewValidation("user id", "must not be empty")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.NewValidation("text", "must not be empty")
	}
	if utf8.RuneCountInString(text) > e.opts.MaxFactLength {
		return "", errors.NewValidation("text", "exceeds maximum length")
	}
	if !factType.IsValid() {
		return "", errors.NewValidation("fact type", "unknown value")
	}
	if !provenance.IsValid() {
		return "", errors.NewValidation("provenance", "unknown value")
	}

	// The embedding call is a pure external function; keep it outside the
	// per-user critical section.
	embedding, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return "", errors.NewWriteFailed("storeFact", "embed", err)
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	if relatedEntityID != "" {
		if _, err := e.registry.Get(ctx, userID, relatedEntityID); err != nil {
			return "", err
		}
	}

	factID := uuid.New().String()
	createdAt := time.Now().UTC()

	// Step 1: similarity index
	meta := vector.Metadata{
		UserID:     userID,
		FactType:   string(factType),
		Provenance: string(provenance),
		Text:       text,
	}
	if err := e.withRetry(ctx, func() error {
		return e.index.Index(ctx, factID, embedding, meta)
	}); err != nil {
		return "", errors.NewWriteFailed("storeFact", "index", err)
	}

	// Step 2: graph node
	embeddingJSON, _ := json.Marshal(embedding)
	node := graph.Node{
		ID:     factID,
		Type:   graph.NodeFact,
		UserID: userID,
		Attrs: map[string]string{
			graph.AttrText:          text,
			graph.AttrFactType:      string(factType),
			graph.AttrProvenance:    string(provenance),
			graph.AttrRelatedEntity: relatedEntityID,
			graph.AttrEmbedding:     string(embeddingJSON),
			graph.AttrCreatedAt:     createdAt.Format(time.RFC3339Nano),
		},
	}
	if err := e.withRetry(ctx, func() error {
		return e.graph.AddNode(ctx, node)
	}); err != nil {
		e.compensate(ctx, "storeFact", func() error {
			return e.index.Delete(ctx, userID, factID)
		})
		return "", errors.NewWriteFailed("storeFact", "graph node", err)
	}

	// Step 3: entity edge
	if relatedEntityID != "" {
		if err := e.withRetry(ctx, func() error {
			return e.graph.AddEdge(ctx, factID, relatedEntityID, graph.EdgeFact)
		}); err != nil {
			e.compensate(ctx, "storeFact", func() error {
				return e.graph.RemoveNode(ctx, factID)
			})
			e.compensate(ctx, "storeFact", func() error {
				return e.index.Delete(ctx, userID, factID)
			})
			return "", errors.NewWriteFailed("storeFact", "graph edge", err)
		}
	}

	e.logger.Info("Fact stored",
		zap.String("user_id", userID),
		zap.String("fact_id", factID),
		zap.String("fact_type", string(factType)),
		zap.String("provenance", string(provenance)),
	)
	return factID, nil
}

// RegisterEntity resolves the name first and either merges into the existing
// entity or mints a new one, mirroring it as a graph node. Idempotent:
// registering the same name twice yields one entity.
func (e *Engine) RegisterEntity(ctx context.Context, userID, name string, entityType state.EntityType, data map[string]string, provenance state.Provenance) (string, error) {
	if userID == "" {
		return "", errors.NewValidation("user id", "must not be empty")
	}
	if utf8.RuneCountInString(name) > e.opts.MaxNameLength {
		return "", errors.NewValidation("name", "exceeds maximum length")
	}
	if entityType == "" {
		return "", errors.NewValidation("entity type", "must not be empty")
	}
	if !provenance.IsValid() {
		return "", errors.NewValidation("provenance", "unknown value")
	}
	if registry.NormalizeName(name) == "" {
		return "", errors.NewValidation("name", "must not be empty")
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	res, err := e.registry.Resolve(ctx, userID, name)
	if err != nil {
		return "", err
	}

	// Existing entity: merge in place, no graph change needed
	if res.ExactMatch != nil {
		return e.registry.Register(ctx, userID, name, entityType, data, provenance, false)
	}

	canonicalID, err := e.registry.Register(ctx, userID, name, entityType, data, provenance, false)
	if err != nil {
		return "", err
	}

	node := graph.Node{
		ID:     canonicalID,
		Type:   graph.NodeEntity,
		UserID: userID,
		Attrs: map[string]string{
			graph.AttrName: strings.TrimSpace(name),
		},
	}
	if err := e.withRetry(ctx, func() error {
		return e.graph.AddNode(ctx, node)
	}); err != nil {
		e.compensate(ctx, "registerEntity", func() error {
			return e.registry.Remove(ctx, userID, canonicalID)
		})
		return "", errors.NewWriteFailed("registerEntity", "graph node", err)
	}

	return canonicalID, nil
}

// ConfirmFact promotes an observed fact to explicit provenance, the only
// in-place mutation a fact supports. Confirming a fact that is already
// explicit, or that the user typed during onboarding, is a no-op.
func (e *Engine) ConfirmFact(ctx context.Context, userID, factID string) error {
	if userID == "" {
		return errors.NewValidation("user id", "must not be empty")
	}
	if factID == "" {
		return errors.NewValidation("fact id", "must not be empty")
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	node, err := e.graph.Node(ctx, factID)
	if err != nil {
		return errors.NewFactNotFound(userID, factID)
	}
	if node.Type != graph.NodeFact || node.UserID != userID {
		return errors.NewFactNotFound(userID, factID)
	}
	if state.Provenance(node.Attrs[graph.AttrProvenance]) != state.ProvenanceObserved {
		return nil
	}

	var embedding []float32
	if err := json.Unmarshal([]byte(node.Attrs[graph.AttrEmbedding]), &embedding); err != nil {
		return errors.NewWriteFailed("confirmFact", "decode embedding", err)
	}

	// Re-index with promoted provenance, then flip the graph attribute.
	oldMeta := vector.Metadata{
		UserID:     userID,
		FactType:   node.Attrs[graph.AttrFactType],
		Provenance: string(state.ProvenanceObserved),
		Text:       node.Attrs[graph.AttrText],
	}
	newMeta := oldMeta
	newMeta.Provenance = string(state.ProvenanceExplicit)

	if err := e.index.Delete(ctx, userID, factID); err != nil {
		return errors.NewWriteFailed("confirmFact", "index delete", err)
	}
	if err := e.index.Index(ctx, factID, embedding, newMeta); err != nil {
		e.compensate(ctx, "confirmFact", func() error {
			return e.index.Index(ctx, factID, embedding, oldMeta)
		})
		return errors.NewWriteFailed("confirmFact", "index", err)
	}
	if err := e.graph.SetAttr(ctx, factID, graph.AttrProvenance, string(state.ProvenanceExplicit)); err != nil {
		e.compensate(ctx, "confirmFact", func() error {
			if err := e.index.Delete(ctx, userID, factID); err != nil {
				return err
			}
			return e.index.Index(ctx, factID, embedding, oldMeta)
		})
		return errors.NewWriteFailed("confirmFact", "graph attr", err)
	}

	e.logger.Info("Fact confirmed",
		zap.String("user_id", userID),
		zap.String("fact_id", factID),
	)
	return nil
}

// CorrectEntity applies a confirmed correction to an entity's data fields,
// overriding stored values. The canonical id never changes.
func (e *Engine) CorrectEntity(ctx context.Context, userID, canonicalID string, data map[string]string) error {
	if userID == "" {
		return errors.NewValidation("user id", "must not be empty")
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	return e.registry.AddData(ctx, userID, canonicalID, data)
}

// EraseUser removes everything the engine knows about a user across all
// three stores. Erasing an already-erased user succeeds with no effect.
func (e *Engine) EraseUser(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.NewValidation("user id", "must not be empty")
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	if err := e.withRetry(ctx, func() error {
		return e.index.DropUser(ctx, userID)
	}); err != nil {
		return errors.NewWriteFailed("eraseUser", "index", err)
	}
	if err := e.withRetry(ctx, func() error {
		return e.graph.RemoveUser(ctx, userID)
	}); err != nil {
		return errors.NewWriteFailed("eraseUser", "graph", err)
	}
	if err := e.registry.RemoveUser(ctx, userID); err != nil {
		return errors.NewWriteFailed("eraseUser", "registry", err)
	}

	e.logger.Info("User erased", zap.String("user_id", userID))
	return nil
}

// withRetry retries transient store failures a bounded number of times.
// Validation never reaches here; not-found and context errors fail fast.
func (e *Engine) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt <= e.opts.WriteRetries; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if errors.IsErrorType(err, errors.ErrorTypeNotFound) || errors.IsErrorType(err, errors.ErrorTypeValidation) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

// compensate runs a rollback step, logging rather than failing when the
// rollback itself errors: the surfaced write failure already tells the caller
// nothing is usable.
func (e *Engine) compensate(ctx context.Context, operation string, op func() error) {
	if err := op(); err != nil {
		e.logger.Error("Compensation step failed",
			zap.String("operation", operation),
			zap.Error(err),
		)
	}
}
