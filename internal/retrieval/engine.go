// Package retrieval scores stored chunks against a query embedding and
// returns the best-supported matches.
package retrieval

import (
	"context"
	"errors"
	"math"
	"sort"

	"askdocs/pkg/domain"
	"askdocs/pkg/store"
)

const (
	// DefaultCandidateCap bounds how many embedded chunks one retrieval scans.
	DefaultCandidateCap = 2000
	// DefaultScoreThreshold is the minimum cosine similarity for a match to
	// count as evidence. The threshold is a relevance gate, not a domain
	// constant; tune it per corpus through WithScoreThreshold.
	DefaultScoreThreshold = 0.35
	// minPool is the pre-verification pool size; retrieval always scores at
	// least this many top candidates so verification has slack to drop some.
	minPool = 20
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrForbidden        = errors.New("document not accessible")
)

// Match is one retrieved chunk with its similarity score and the owning
// document's title.
type Match struct {
	DocumentID string
	Title      string
	Page       int
	Content    string
	Score      float64
}

// Engine retrieves evidence chunks for a query vector.
type Engine struct {
	store        store.Store
	threshold    float64
	candidateCap int
}

// Option customizes an Engine.
type Option func(*Engine)

// WithScoreThreshold overrides the minimum similarity a match must reach.
func WithScoreThreshold(threshold float64) Option {
	return func(e *Engine) {
		if threshold > 0 {
			e.threshold = threshold
		}
	}
}

// WithCandidateCap overrides how many chunks one retrieval fetches for scoring.
func WithCandidateCap(limit int) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.candidateCap = limit
		}
	}
}

func NewEngine(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:        st,
		threshold:    DefaultScoreThreshold,
		candidateCap: DefaultCandidateCap,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Retrieve returns up to k matches above the score threshold, best first.
// An empty documentID searches the whole corpus visible to the viewer; a
// non-empty one restricts the search to that document and fails when the
// document is missing or not visible. Zero matches is a valid result.
func (e *Engine) Retrieve(ctx context.Context, viewer domain.User, documentID string, queryVec []float32, k int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 || len(queryVec) == 0 {
		return nil, nil
	}
	if documentID != "" {
		doc, found, err := e.store.GetDocument(documentID)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrDocumentNotFound
		}
		if !doc.VisibleTo(viewer.ID) {
			return nil, ErrForbidden
		}
	}

	candidates, err := e.store.ListCandidateChunks(viewer.ID, documentID, e.candidateCap)
	if err != nil {
		return nil, err
	}

	scored := make([]Match, 0, len(candidates))
	for _, chunk := range candidates {
		score := Cosine(queryVec, chunk.Embedding)
		if score < e.threshold {
			continue
		}
		scored = append(scored, Match{
			DocumentID: chunk.DocumentID,
			Page:       chunk.Page,
			Content:    chunk.Content,
			Score:      score,
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	pool := k
	if pool < minPool {
		pool = minPool
	}
	if len(scored) > pool {
		scored = scored[:pool]
	}

	verified, err := e.verify(scored)
	if err != nil {
		return nil, err
	}
	if len(verified) > k {
		verified = verified[:k]
	}
	return verified, nil
}

// verify drops matches whose page falls outside the owning document's page
// range and fills in document titles. Stale chunks can outlive a shrinking
// rebuild; they must never be cited.
func (e *Engine) verify(matches []Match) ([]Match, error) {
	docs := make(map[string]domain.Document)
	out := make([]Match, 0, len(matches))
	for _, match := range matches {
		doc, ok := docs[match.DocumentID]
		if !ok {
			loaded, found, err := e.store.GetDocument(match.DocumentID)
			if err != nil {
				return nil, err
			}
			if !found {
				continue
			}
			doc = loaded
			docs[match.DocumentID] = doc
		}
		if match.Page < 1 || match.Page > doc.PageCount {
			continue
		}
		match.Title = doc.Title
		out = append(out, match)
	}
	return out, nil
}

// Cosine returns the cosine similarity of two vectors. Mismatched lengths
// or a near-zero norm yield 0 rather than NaN.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	const eps = 1e-9
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom < eps {
		return 0
	}
	return dot / denom
}
