package store

import (
	"fmt"
	"testing"
	"time"

	"askdocs/pkg/domain"
)

func seedDoc(t *testing.T, s *MemoryStore, id, ownerID string, vis domain.Visibility, status domain.DocStatus, createdAt time.Time) {
	t.Helper()
	if err := s.SaveDocument(domain.Document{
		ID:         id,
		OwnerID:    ownerID,
		Title:      "doc " + id,
		Visibility: vis,
		Status:     status,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}); err != nil {
		t.Fatalf("save document: %v", err)
	}
}

func TestMemoryStoreListDocumentsVisibility(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	seedDoc(t, s, "d1", "alice", domain.VisibilityPrivate, domain.StatusIndexed, base)
	seedDoc(t, s, "d2", "alice", domain.VisibilityPublic, domain.StatusIndexed, base.Add(time.Hour))
	seedDoc(t, s, "d3", "bob", domain.VisibilityPrivate, domain.StatusIndexed, base.Add(2*time.Hour))

	docs, total, err := s.ListDocuments("alice", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(docs) != 2 {
		t.Fatalf("expected 2 visible docs for alice, got total=%d len=%d", total, len(docs))
	}
	if docs[0].ID != "d2" || docs[1].ID != "d1" {
		t.Fatalf("expected newest-first ordering, got %s, %s", docs[0].ID, docs[1].ID)
	}

	docs, total, err = s.ListDocuments("", 10, 0)
	if err != nil {
		t.Fatalf("list anonymous: %v", err)
	}
	if total != 1 || docs[0].ID != "d2" {
		t.Fatalf("anonymous viewer must only see public docs, got total=%d", total)
	}
}

func TestMemoryStoreListDocumentsPagination(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		seedDoc(t, s, id, "owner", domain.VisibilityPublic, domain.StatusIndexed, base.Add(time.Duration(i)*time.Minute))
	}

	first, total, err := s.ListDocuments("owner", 2, 0)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	second, _, err := s.ListDocuments("owner", 2, 2)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if total != 5 || len(first) != 2 || len(second) != 2 {
		t.Fatalf("unexpected page sizes: total=%d first=%d second=%d", total, len(first), len(second))
	}
	seen := map[string]bool{}
	for _, doc := range append(first, second...) {
		if seen[doc.ID] {
			t.Fatalf("document %s appears on both pages", doc.ID)
		}
		seen[doc.ID] = true
	}

	tail, _, err := s.ListDocuments("owner", 10, 4)
	if err != nil {
		t.Fatalf("tail page: %v", err)
	}
	if len(tail) != 1 {
		t.Fatalf("expected 1 doc on the last page, got %d", len(tail))
	}

	past, _, err := s.ListDocuments("owner", 10, 99)
	if err != nil {
		t.Fatalf("offset past end: %v", err)
	}
	if len(past) != 0 {
		t.Fatalf("expected empty page past the end, got %d", len(past))
	}
}

func TestMemoryStoreChunksAndEmbeddings(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	seedDoc(t, s, "doc", "alice", domain.VisibilityPrivate, domain.StatusIndexed, now)
	chunks := []domain.Chunk{
		{ID: "c1", Page: 1, Content: "page one", CreatedAt: now},
		{ID: "c2", Page: 2, Content: "page two", CreatedAt: now},
	}
	if err := s.ReplaceChunks("doc", chunks); err != nil {
		t.Fatalf("replace chunks: %v", err)
	}
	if err := s.SetChunkEmbedding("doc", 2, []float32{0.5, 0.5}); err != nil {
		t.Fatalf("set embedding: %v", err)
	}
	if err := s.SetChunkEmbedding("doc", 99, []float32{1}); err == nil {
		t.Fatal("expected error for unknown page")
	}

	candidates, err := s.ListCandidateChunks("alice", "", 100)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != "c2" {
		t.Fatalf("expected only the embedded chunk, got %v", candidates)
	}

	candidates, err = s.ListCandidateChunks("bob", "", 100)
	if err != nil {
		t.Fatalf("candidates for stranger: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("private doc must not yield candidates for strangers, got %d", len(candidates))
	}
}

func TestMemoryStoreCandidatesExcludePendingDocs(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	seedDoc(t, s, "doc", "alice", domain.VisibilityPublic, domain.StatusPending, now)
	if err := s.ReplaceChunks("doc", []domain.Chunk{
		{ID: "c1", Page: 1, Content: "text", Embedding: []float32{1, 0}, CreatedAt: now},
	}); err != nil {
		t.Fatalf("replace chunks: %v", err)
	}
	candidates, err := s.ListCandidateChunks("alice", "", 100)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("pending docs must not surface candidates, got %d", len(candidates))
	}
}

func TestMemoryStoreCandidateCap(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	seedDoc(t, s, "doc", "alice", domain.VisibilityPublic, domain.StatusIndexed, now)
	var chunks []domain.Chunk
	for page := 1; page <= 10; page++ {
		chunks = append(chunks, domain.Chunk{
			ID: fmt.Sprintf("c%d", page), Page: page, Content: "text",
			Embedding: []float32{1, 0}, CreatedAt: now,
		})
	}
	if err := s.ReplaceChunks("doc", chunks); err != nil {
		t.Fatalf("replace chunks: %v", err)
	}
	candidates, err := s.ListCandidateChunks("alice", "", 3)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(candidates) != 3 {
		t.Fatalf("expected cap of 3, got %d", len(candidates))
	}
}

func TestMemoryStoreIndexMeta(t *testing.T) {
	s := NewMemoryStore()
	if _, ok, err := s.GetIndexMeta(); err != nil || ok {
		t.Fatalf("expected no meta initially, ok=%v err=%v", ok, err)
	}
	now := time.Now().UTC()
	if err := s.SaveIndexMeta(domain.IndexMeta{LastRebuild: &now, TotalDocs: 2, TotalChunks: 7, UpdatedAt: now}); err != nil {
		t.Fatalf("save meta: %v", err)
	}
	meta, ok, err := s.GetIndexMeta()
	if err != nil || !ok {
		t.Fatalf("get meta: ok=%v err=%v", ok, err)
	}
	if meta.TotalDocs != 2 || meta.TotalChunks != 7 {
		t.Fatalf("unexpected meta: %+v", meta)
	}
}

func TestMemoryStoreSetDocumentStatus(t *testing.T) {
	s := NewMemoryStore()
	seedDoc(t, s, "doc", "alice", domain.VisibilityPrivate, domain.StatusPending, time.Now().UTC())
	if err := s.SetDocumentStatus("doc", domain.StatusFailed, "extraction failed"); err != nil {
		t.Fatalf("set status: %v", err)
	}
	doc, ok, err := s.GetDocument("doc")
	if err != nil || !ok {
		t.Fatalf("get document: ok=%v err=%v", ok, err)
	}
	if doc.Status != domain.StatusFailed || doc.ErrorMessage != "extraction failed" {
		t.Fatalf("unexpected document: %+v", doc)
	}
	counts, err := s.CountDocumentsByStatus()
	if err != nil {
		t.Fatalf("count by status: %v", err)
	}
	if counts[domain.StatusFailed] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}
