package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"askdocs/pkg/domain"
	"askdocs/pkg/store"
)

func TestCosine(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{1, 0}); math.Abs(got-1) > 1e-6 {
		t.Fatalf("self similarity = %f, want 1", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); math.Abs(got) > 1e-6 {
		t.Fatalf("orthogonal similarity = %f, want 0", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{-1, 0}); math.Abs(got+1) > 1e-6 {
		t.Fatalf("opposite similarity = %f, want -1", got)
	}
	a, b := []float32{0.3, 0.9, 0.2}, []float32{0.7, 0.1, 0.5}
	if ab, ba := Cosine(a, b), Cosine(b, a); math.Abs(ab-ba) > 1e-9 {
		t.Fatalf("cosine not symmetric: %f vs %f", ab, ba)
	}
	if got := Cosine([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Fatalf("zero vector similarity = %f, want 0", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Fatalf("mismatched lengths similarity = %f, want 0", got)
	}
}

func seedIndexedDoc(t *testing.T, st *store.MemoryStore, id, owner string, vis domain.Visibility, pageCount int, chunks []domain.Chunk) {
	t.Helper()
	now := time.Now().UTC()
	if err := st.SaveDocument(domain.Document{
		ID: id, OwnerID: owner, Title: "title " + id,
		Visibility: vis, Status: domain.StatusIndexed,
		PageCount: pageCount, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("save document: %v", err)
	}
	if err := st.ReplaceChunks(id, chunks); err != nil {
		t.Fatalf("replace chunks: %v", err)
	}
}

func TestRetrieveRanksAboveThreshold(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Now().UTC()
	seedIndexedDoc(t, st, "doc", "alice", domain.VisibilityPrivate, 3, []domain.Chunk{
		{ID: "c1", Page: 1, Content: "close match", Embedding: []float32{1, 0}, CreatedAt: now},
		{ID: "c2", Page: 2, Content: "weak match", Embedding: []float32{0.3, 0.954}, CreatedAt: now},
		{ID: "c3", Page: 3, Content: "off topic", Embedding: []float32{0, 1}, CreatedAt: now},
	})
	engine := NewEngine(st)

	matches, err := engine.Retrieve(context.Background(), domain.User{ID: "alice"}, "", []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match above threshold, got %d: %v", len(matches), matches)
	}
	if matches[0].Page != 1 || matches[0].Title != "title doc" {
		t.Fatalf("unexpected match: %+v", matches[0])
	}
	if matches[0].Score < 0.99 {
		t.Fatalf("unexpected score: %f", matches[0].Score)
	}
}

func TestRetrieveThresholdIsConfigurable(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Now().UTC()
	// Similarity to the query is ~0.30, below the default gate.
	seedIndexedDoc(t, st, "doc", "alice", domain.VisibilityPrivate, 1, []domain.Chunk{
		{ID: "c1", Page: 1, Content: "borderline", Embedding: []float32{0.3, 0.954}, CreatedAt: now},
	})
	ctx := context.Background()
	viewer := domain.User{ID: "alice"}

	matches, err := NewEngine(st).Retrieve(ctx, viewer, "", []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("default threshold must reject the borderline chunk, got %v", matches)
	}

	matches, err = NewEngine(st, WithScoreThreshold(0.25)).Retrieve(ctx, viewer, "", []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("lowered threshold must admit the borderline chunk, got %v", matches)
	}

	matches, err = NewEngine(st, WithScoreThreshold(0.99)).Retrieve(ctx, viewer, "", []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("raised threshold must reject the borderline chunk, got %v", matches)
	}
}

func TestRetrieveCandidateCapIsConfigurable(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Now().UTC()
	var chunks []domain.Chunk
	for page := 1; page <= 10; page++ {
		chunks = append(chunks, domain.Chunk{
			ID: fmt.Sprintf("c%d", page), Page: page,
			Content: "text", Embedding: []float32{1, 0}, CreatedAt: now,
		})
	}
	seedIndexedDoc(t, st, "doc", "alice", domain.VisibilityPublic, 10, chunks)
	engine := NewEngine(st, WithCandidateCap(4))

	matches, err := engine.Retrieve(context.Background(), domain.User{ID: "alice"}, "", []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(matches) != 4 {
		t.Fatalf("candidate cap must bound the scan, got %d matches", len(matches))
	}
}

func TestRetrieveZeroMatchesIsNotAnError(t *testing.T) {
	st := store.NewMemoryStore()
	engine := NewEngine(st)
	matches, err := engine.Retrieve(context.Background(), domain.User{ID: "alice"}, "", []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no matches, got %d", len(matches))
	}
}

func TestRetrieveScopeAccess(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Now().UTC()
	seedIndexedDoc(t, st, "private-doc", "alice", domain.VisibilityPrivate, 1, []domain.Chunk{
		{ID: "c1", Page: 1, Content: "secret", Embedding: []float32{1, 0}, CreatedAt: now},
	})
	engine := NewEngine(st)
	ctx := context.Background()

	if _, err := engine.Retrieve(ctx, domain.User{ID: "bob"}, "private-doc", []float32{1, 0}, 5); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for stranger, got: %v", err)
	}
	if _, err := engine.Retrieve(ctx, domain.User{}, "private-doc", []float32{1, 0}, 5); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for anonymous, got: %v", err)
	}
	if _, err := engine.Retrieve(ctx, domain.User{ID: "alice"}, "missing", []float32{1, 0}, 5); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got: %v", err)
	}
	matches, err := engine.Retrieve(ctx, domain.User{ID: "alice"}, "private-doc", []float32{1, 0}, 5)
	if err != nil || len(matches) != 1 {
		t.Fatalf("owner retrieval failed: matches=%d err=%v", len(matches), err)
	}
}

func TestRetrieveScopeRestrictsToDocument(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Now().UTC()
	seedIndexedDoc(t, st, "a", "alice", domain.VisibilityPublic, 1, []domain.Chunk{
		{ID: "a1", Page: 1, Content: "from a", Embedding: []float32{1, 0}, CreatedAt: now},
	})
	seedIndexedDoc(t, st, "b", "alice", domain.VisibilityPublic, 1, []domain.Chunk{
		{ID: "b1", Page: 1, Content: "from b", Embedding: []float32{1, 0}, CreatedAt: now},
	})
	engine := NewEngine(st)

	matches, err := engine.Retrieve(context.Background(), domain.User{ID: "alice"}, "a", []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	for _, match := range matches {
		if match.DocumentID != "a" {
			t.Fatalf("scoped retrieval leaked document %s", match.DocumentID)
		}
	}
}

func TestRetrieveDropsOutOfRangePages(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Now().UTC()
	// Page 5 outlived a rebuild that shrank the document to 2 pages.
	seedIndexedDoc(t, st, "doc", "alice", domain.VisibilityPrivate, 2, []domain.Chunk{
		{ID: "c1", Page: 1, Content: "current", Embedding: []float32{1, 0}, CreatedAt: now},
		{ID: "c5", Page: 5, Content: "stale", Embedding: []float32{1, 0}, CreatedAt: now},
	})
	engine := NewEngine(st)

	matches, err := engine.Retrieve(context.Background(), domain.User{ID: "alice"}, "", []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(matches) != 1 || matches[0].Page != 1 {
		t.Fatalf("expected only the in-range page, got %v", matches)
	}
}

func TestRetrieveHonorsK(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Now().UTC()
	var chunks []domain.Chunk
	for page := 1; page <= 30; page++ {
		chunks = append(chunks, domain.Chunk{
			ID: fmt.Sprintf("c%d", page), Page: page,
			Content: "text", Embedding: []float32{1, 0}, CreatedAt: now,
		})
	}
	seedIndexedDoc(t, st, "doc", "alice", domain.VisibilityPublic, 30, chunks)
	engine := NewEngine(st)

	matches, err := engine.Retrieve(context.Background(), domain.User{ID: "alice"}, "", []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected k=3 matches, got %d", len(matches))
	}
}
