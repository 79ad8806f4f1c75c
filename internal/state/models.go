package state

import "time"

// ============================================================================
// Personal-Context Model Types
// ============================================================================

// FactType classifies a stored fact
type FactType string

const (
	FactTypeIdentity   FactType = "IDENTITY"
	FactTypePreference FactType = "PREFERENCE"
	FactTypeFact       FactType = "FACT"
	FactTypeRoutine    FactType = "ROUTINE"
	FactTypePattern    FactType = "PATTERN"
	FactTypeContext    FactType = "CONTEXT"
)

// IsValid returns true if the fact type is recognized
func (t FactType) IsValid() bool {
	switch t {
	case FactTypeIdentity, FactTypePreference, FactTypeFact,
		FactTypeRoutine, FactTypePattern, FactTypeContext:
		return true
	}
	return false
}

// Provenance is the trust/origin tag on a fact or entity
type Provenance string

const (
	// ProvenanceOnboarding marks data the user typed during setup
	ProvenanceOnboarding Provenance = "ONBOARDING"
	// ProvenanceExplicit marks data the user confirmed in conversation
	ProvenanceExplicit Provenance = "EXPLICIT"
	// ProvenanceObserved marks data the system inferred
	ProvenanceObserved Provenance = "OBSERVED"
)

// IsValid returns true if the provenance value is recognized
func (p Provenance) IsValid() bool {
	switch p {
	case ProvenanceOnboarding, ProvenanceExplicit, ProvenanceObserved:
		return true
	}
	return false
}

// EntityType classifies a canonical referent. Currently only PERSON is used,
// but the type is open.
type EntityType string

const (
	EntityTypePerson EntityType = "PERSON"
)

// Fact is a unit of knowledge about a user. Immutable once created, except
// for provenance promotion (OBSERVED to EXPLICIT on confirmation) and erase.
type Fact struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Text            string     `json:"text"`
	Type            FactType   `json:"fact_type"`
	Provenance      Provenance `json:"provenance"`
	Embedding       []float32  `json:"embedding,omitempty"`
	RelatedEntityID string     `json:"related_entity_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Entity is a canonical referent that facts and mentions resolve to.
// Entities are merged, never duplicated: a registration whose normalized
// name matches an existing HumanRefs entry updates that entity in place.
type Entity struct {
	CanonicalID string            `json:"canonical_id"`
	UserID      string            `json:"user_id"`
	Type        EntityType        `json:"entity_type"`
	HumanRefs   []string          `json:"human_refs"` // lowercase-normalized, unique per user
	Aliases     []string          `json:"aliases"`    // display strings, registration order
	Data        map[string]string `json:"data,omitempty"`
	Provenance  Provenance        `json:"provenance"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// HasRef reports whether the entity carries the given normalized reference
func (e *Entity) HasRef(normalized string) bool {
	for _, ref := range e.HumanRefs {
		if ref == normalized {
			return true
		}
	}
	return false
}

// Snippet is a single ranked recall result. Provenance and type are carried
// so the caller can apply its own confidence policy.
type Snippet struct {
	Text       string     `json:"text"`
	FactType   FactType   `json:"fact_type"`
	Provenance Provenance `json:"provenance"`
	Score      float64    `json:"score"` // lower is better
	NodeID     string     `json:"node_id"`
}

// RecallResult is an ordered set of snippets. Degraded is set when the
// similarity index was unreachable and ranking fell back to graph/registry
// signals only.
type RecallResult struct {
	Snippets []Snippet `json:"snippets"`
	Degraded bool      `json:"degraded"`
}
