package engine

import (
	"context"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"digital-self/internal/graph"
	"digital-self/internal/state"
	"digital-self/internal/vector"
	"digital-self/pkg/errors"
)

// Provenance weights adjust vector distance for ranking. Onboarding and
// explicitly confirmed facts outrank observed inferences at equal distance.
var provenanceWeights = map[state.Provenance]float64{
	state.ProvenanceOnboarding: 0.80,
	state.ProvenanceExplicit:   0.85,
	state.ProvenanceObserved:   1.15,
}

// graphHitBaseDistance stands in for a vector distance on facts reached only
// through the graph. Entity-linked facts for a verbatim-named entity must
// rank near the top even when the embedding missed them.
const graphHitBaseDistance = 0.50

func provenanceWeight(p state.Provenance) float64 {
	if w, ok := provenanceWeights[p]; ok {
		return w
	}
	return 1.0
}

// candidate is a merged recall hit keyed by fact id.
type candidate struct {
	factID     string
	text       string
	factType   state.FactType
	provenance state.Provenance
	distance   float64
}

// Recall returns the facts most relevant to the query, ranked ascending by
// provenance-adjusted distance. Vector search and verbatim entity lookup run
// concurrently; if the similarity index misses its budget the result is
// flagged degraded and ranking falls back to graph/registry signals only.
// Recall is a pure read: it never takes the per-user write lock.
func (e *Engine) Recall(ctx context.Context, userID, queryText string, limit int) (state.RecallResult, error) {
	if userID == "" {
		return state.RecallResult{}, errors.NewValidation("user id", "must not be empty")
	}
	queryText = strings.TrimSpace(queryText)
	if queryText == "" {
		return state.RecallResult{}, errors.NewValidation("query", "must not be empty")
	}
	if utf8.RuneCountInString(queryText) > e.opts.MaxFactLength {
		return state.RecallResult{}, errors.NewValidation("query", "exceeds maximum length")
	}
	if limit < 1 {
		return state.RecallResult{}, errors.NewValidation("limit", "must be positive")
	}

	var (
		vecResults []vector.Result
		graphHits  []graph.Node
		degraded   bool
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		results, ok := e.vectorCandidates(gctx, userID, queryText, 2*limit)
		vecResults = results
		degraded = !ok
		return nil
	})

	g.Go(func() error {
		graphHits = e.entityLinkedFacts(gctx, userID, queryText)
		return nil
	})

	// Both branches degrade internally rather than erroring
	_ = g.Wait()

	merged := mergeCandidates(vecResults, graphHits)

	snippets := make([]state.Snippet, 0, len(merged))
	for _, c := range merged {
		snippets = append(snippets, state.Snippet{
			Text:       c.text,
			FactType:   c.factType,
			Provenance: c.provenance,
			Score:      c.distance * provenanceWeight(c.provenance),
			NodeID:     c.factID,
		})
	}

	sortSnippets(snippets)
	if len(snippets) > limit {
		snippets = snippets[:limit]
	}

	e.logger.Debug("Recall served",
		zap.String("user_id", userID),
		zap.Int("snippets", len(snippets)),
		zap.Bool("degraded", degraded),
	)
	return state.RecallResult{Snippets: snippets, Degraded: degraded}, nil
}

// vectorCandidates embeds the query and asks the similarity index for the
// nearest facts, under the vector budget. The second return value is false
// when the index path had to be skipped.
func (e *Engine) vectorCandidates(ctx context.Context, userID, queryText string, k int) ([]vector.Result, bool) {
	embedding, err := e.embedder.Embed(ctx, queryText)
	if err != nil {
		e.logger.Warn("Query embedding failed, degrading recall",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil, false
	}

	vctx, cancel := context.WithTimeout(ctx, e.opts.VectorTimeout)
	defer cancel()

	results, err := e.index.Query(vctx, userID, embedding, k)
	if err != nil {
		e.logger.Warn("Similarity index unavailable, degrading recall",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil, false
	}
	return results, true
}

// entityLinkedFacts resolves capitalized token spans of the query against the
// registry and pulls each exactly-resolved entity's linked facts from the
// graph. These are included regardless of vector distance: embeddings can
// miss short relational facts that are maximally relevant when the entity is
// named verbatim. Ambiguous resolutions are skipped, never guessed.
func (e *Engine) entityLinkedFacts(ctx context.Context, userID, queryText string) []graph.Node {
	var hits []graph.Node
	for _, span := range capitalizedSpans(queryText) {
		res, err := e.registry.Resolve(ctx, userID, span)
		if err != nil || res.ExactMatch == nil {
			continue
		}

		seq, err := e.graph.Neighbors(ctx, res.ExactMatch.CanonicalID, graph.EdgeFact)
		if err != nil {
			continue
		}
		for node := range seq {
			if node.Type != graph.NodeFact || node.UserID != userID {
				continue
			}
			hits = append(hits, node)
		}
	}
	return hits
}

func mergeCandidates(vecResults []vector.Result, graphHits []graph.Node) []candidate {
	byID := make(map[string]*candidate)
	var order []string

	for _, r := range vecResults {
		if _, ok := byID[r.FactID]; ok {
			continue
		}
		byID[r.FactID] = &candidate{
			factID:     r.FactID,
			text:       r.Metadata.Text,
			factType:   state.FactType(r.Metadata.FactType),
			provenance: state.Provenance(r.Metadata.Provenance),
			distance:   r.Distance,
		}
		order = append(order, r.FactID)
	}

	for _, n := range graphHits {
		if existing, ok := byID[n.ID]; ok {
			// A fact found both ways keeps its better distance
			if graphHitBaseDistance < existing.distance {
				existing.distance = graphHitBaseDistance
			}
			continue
		}
		byID[n.ID] = &candidate{
			factID:     n.ID,
			text:       n.Attrs[graph.AttrText],
			factType:   state.FactType(n.Attrs[graph.AttrFactType]),
			provenance: state.Provenance(n.Attrs[graph.AttrProvenance]),
			distance:   graphHitBaseDistance,
		}
		order = append(order, n.ID)
	}

	merged := make([]candidate, 0, len(order))
	for _, id := range order {
		merged = append(merged, *byID[id])
	}
	return merged
}

// sortSnippets orders by ascending score, breaking ties on node id so equal
// scores still produce a deterministic result.
func sortSnippets(snippets []state.Snippet) {
	sort.Slice(snippets, func(i, j int) bool {
		if snippets[i].Score != snippets[j].Score {
			return snippets[i].Score < snippets[j].Score
		}
		return snippets[i].NodeID < snippets[j].NodeID
	})
}

// capitalizedSpans extracts maximal runs of capitalized tokens from the
// query, the spans most likely to name an entity ("lunch with John Smith"
// yields "John Smith").
func capitalizedSpans(text string) []string {
	var spans []string
	var current []string

	flush := func() {
		if len(current) > 0 {
			span := strings.Join(current, " ")
			if !containsString(spans, span) {
				spans = append(spans, span)
			}
			current = nil
		}
	}

	for _, word := range strings.Fields(text) {
		token := strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if token == "" {
			flush()
			continue
		}
		first, _ := utf8.DecodeRuneInString(token)
		if unicode.IsUpper(first) {
			current = append(current, token)
		} else {
			flush()
		}
	}
	flush()
	return spans
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
