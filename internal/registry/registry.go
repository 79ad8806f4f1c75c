package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"digital-self/internal/state"
	"digital-self/pkg/errors"
	"digital-self/pkg/logger"
)

// Resolution is the result of resolving a raw name. ExactMatch is set only
// when exactly one entity's human refs contain the normalized name. When a
// fuzzy pass surfaces plausible entities, they come back as Candidates and
// the caller must disambiguate; the registry never silently guesses.
type Resolution struct {
	ExactMatch *state.Entity  `json:"exact_match,omitempty"`
	Candidates []state.Entity `json:"candidates,omitempty"`
}

// Registry is the canonical-identity lookup, keyed by normalized human
// references and partitioned by user. Internal state is mutex-guarded; write
// ordering across stores is the coordinator's job, but the registry itself is
// safe under concurrent use, so racing registrations of the same name resolve
// to a single survivor.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]map[string]*state.Entity // userID -> canonicalID -> entity
	refs     map[string]map[string]string        // userID -> normalized ref -> canonicalID

	logger *zap.Logger
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entities: make(map[string]map[string]*state.Entity),
		refs:     make(map[string]map[string]string),
		logger:   logger.Get(),
	}
}

// Resolve maps a raw human reference to an entity. Zero matches yields an
// empty resolution (the caller may create a new entity); several plausible
// matches yield candidates with no exact match.
func (r *Registry) Resolve(ctx context.Context, userID, rawName string) (Resolution, error) {
	normalized := NormalizeName(rawName)
	if normalized == "" {
		return Resolution{}, errors.NewValidation("name", "must not be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked(userID, normalized), nil
}

// ResolveStrict is the throwing variant for callers that require a
// non-ambiguous resolution.
func (r *Registry) ResolveStrict(ctx context.Context, userID, rawName string) (Resolution, error) {
	res, err := r.Resolve(ctx, userID, rawName)
	if err != nil {
		return Resolution{}, err
	}
	if len(res.Candidates) > 1 {
		ids := make([]string, 0, len(res.Candidates))
		for _, c := range res.Candidates {
			ids = append(ids, c.CanonicalID)
		}
		return Resolution{}, errors.NewAmbiguousMatch(userID, rawName, ids)
	}
	return res, nil
}

func (r *Registry) resolveLocked(userID, normalized string) Resolution {
	if canonicalID, ok := r.refs[userID][normalized]; ok {
		if ent, ok := r.entities[userID][canonicalID]; ok {
			copied := copyEntity(ent)
			return Resolution{ExactMatch: &copied}
		}
	}

	var candidates []state.Entity
	for _, ent := range r.entities[userID] {
		for _, ref := range ent.HumanRefs {
			if plausibleMatch(normalized, ref) {
				candidates = append(candidates, copyEntity(ent))
				break
			}
		}
	}

	// Deterministic candidate order for callers and tests
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CanonicalID < candidates[j].CanonicalID
	})
	return Resolution{Candidates: candidates}
}

// Register resolves first and either merges into the exact match or mints a
// new entity. Calling it twice with identical arguments produces one entity.
// With override set, incoming non-empty fields replace existing values;
// otherwise existing non-empty fields win.
func (r *Registry) Register(ctx context.Context, userID, name string, entityType state.EntityType, data map[string]string, provenance state.Provenance, override bool) (string, error) {
	normalized := NormalizeName(name)
	if normalized == "" {
		return "", errors.NewValidation("name", "must not be empty")
	}

	display := strings.TrimSpace(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if canonicalID, ok := r.refs[userID][normalized]; ok {
		ent := r.entities[userID][canonicalID]
		r.mergeLocked(ent, display, normalized, data, override)
		return canonicalID, nil
	}

	ent := &state.Entity{
		CanonicalID: uuid.New().String(),
		UserID:      userID,
		Type:        entityType,
		HumanRefs:   []string{normalized},
		Aliases:     []string{display},
		Data:        copyData(data),
		Provenance:  provenance,
		UpdatedAt:   time.Now().UTC(),
	}

	if r.entities[userID] == nil {
		r.entities[userID] = make(map[string]*state.Entity)
		r.refs[userID] = make(map[string]string)
	}
	r.entities[userID][ent.CanonicalID] = ent
	r.refs[userID][normalized] = ent.CanonicalID

	r.logger.Info("Entity registered",
		zap.String("user_id", userID),
		zap.String("canonical_id", ent.CanonicalID),
		zap.String("entity_type", string(entityType)),
	)
	return ent.CanonicalID, nil
}

func (r *Registry) mergeLocked(ent *state.Entity, display, normalized string, data map[string]string, override bool) {
	if ent.Data == nil && len(data) > 0 {
		ent.Data = make(map[string]string)
	}
	for k, v := range data {
		if v == "" {
			continue // never overwrite with null
		}
		if _, exists := ent.Data[k]; exists && ent.Data[k] != "" && !override {
			continue
		}
		ent.Data[k] = v
	}

	if !ent.HasRef(normalized) {
		ent.HumanRefs = append(ent.HumanRefs, normalized)
		r.refs[ent.UserID][normalized] = ent.CanonicalID
	}
	if display != "" && !containsString(ent.Aliases, display) {
		ent.Aliases = append(ent.Aliases, display)
	}
	ent.UpdatedAt = time.Now().UTC()
}

// AddData applies a confirmed correction to an existing entity, overriding
// stored fields. The canonical id never changes.
func (r *Registry) AddData(ctx context.Context, userID, canonicalID string, data map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, ok := r.entities[userID][canonicalID]
	if !ok {
		return errors.NewEntityNotFound(userID, canonicalID)
	}
	if ent.Data == nil {
		ent.Data = make(map[string]string)
	}
	for k, v := range data {
		if v == "" {
			continue
		}
		ent.Data[k] = v
	}
	ent.UpdatedAt = time.Now().UTC()
	return nil
}

// Get returns an entity by canonical id.
func (r *Registry) Get(ctx context.Context, userID, canonicalID string) (state.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ent, ok := r.entities[userID][canonicalID]
	if !ok {
		return state.Entity{}, errors.NewEntityNotFound(userID, canonicalID)
	}
	return copyEntity(ent), nil
}

// Remove deletes an entity and its reference index entries. Removing an
// absent entity is a no-op.
func (r *Registry) Remove(ctx context.Context, userID, canonicalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, ok := r.entities[userID][canonicalID]
	if !ok {
		return nil
	}
	for _, ref := range ent.HumanRefs {
		delete(r.refs[userID], ref)
	}
	delete(r.entities[userID], canonicalID)
	return nil
}

// RemoveUser deletes every entity belonging to the user. Idempotent.
func (r *Registry) RemoveUser(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entities, userID)
	delete(r.refs, userID)
	return nil
}

func copyEntity(ent *state.Entity) state.Entity {
	copied := *ent
	copied.HumanRefs = append([]string(nil), ent.HumanRefs...)
	copied.Aliases = append([]string(nil), ent.Aliases...)
	copied.Data = copyData(ent.Data)
	return copied
}

func copyData(data map[string]string) map[string]string {
	if data == nil {
		return nil
	}
	c := make(map[string]string, len(data))
	for k, v := range data {
		c[k] = v
	}
	return c
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
