package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"askdocs/pkg/domain"
)

// MemoryStore is an in-memory Store used by tests and local development.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]domain.Document
	chunks map[string][]domain.Chunk
	meta   *domain.IndexMeta
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[string]domain.Document),
		chunks: make(map[string][]domain.Chunk),
	}
}

func (s *MemoryStore) SaveDocument(d domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[d.ID] = d
	return nil
}

func (s *MemoryStore) GetDocument(id string) (domain.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	return doc, ok, nil
}

func (s *MemoryStore) ListDocuments(viewerID string, limit, offset int) ([]domain.Document, int, error) {
	if limit <= 0 {
		return []domain.Document{}, 0, nil
	}
	if offset < 0 {
		offset = 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	visible := make([]domain.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		if doc.VisibleTo(viewerID) {
			visible = append(visible, doc)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		if !visible[i].CreatedAt.Equal(visible[j].CreatedAt) {
			return visible[i].CreatedAt.After(visible[j].CreatedAt)
		}
		return visible[i].ID < visible[j].ID
	})
	total := len(visible)
	if offset >= total {
		return []domain.Document{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := make([]domain.Document, end-offset)
	copy(page, visible[offset:end])
	return page, total, nil
}

func (s *MemoryStore) ListAllDocuments() ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]domain.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs, nil
}

func (s *MemoryStore) SetDocumentStatus(id string, status domain.DocStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("document %s not found", id)
	}
	doc.Status = status
	doc.ErrorMessage = errMsg
	doc.UpdatedAt = time.Now().UTC()
	s.docs[id] = doc
	return nil
}

func (s *MemoryStore) CountDocumentsByStatus() (map[domain.DocStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[domain.DocStatus]int)
	for _, doc := range s.docs {
		counts[doc.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) ReplaceChunks(documentID string, chunks []domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]domain.Chunk, len(chunks))
	copy(copied, chunks)
	for i := range copied {
		copied[i].DocumentID = documentID
	}
	sort.Slice(copied, func(i, j int) bool { return copied[i].Page < copied[j].Page })
	s.chunks[documentID] = copied
	return nil
}

func (s *MemoryStore) ListChunksByDocument(documentID string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunks := make([]domain.Chunk, len(s.chunks[documentID]))
	copy(chunks, s.chunks[documentID])
	return chunks, nil
}

func (s *MemoryStore) SetChunkEmbedding(documentID string, page int, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chunks := s.chunks[documentID]
	for i := range chunks {
		if chunks[i].Page == page {
			vec := make([]float32, len(embedding))
			copy(vec, embedding)
			chunks[i].Embedding = vec
			return nil
		}
	}
	return fmt.Errorf("chunk %s/%d not found", documentID, page)
}

func (s *MemoryStore) ListCandidateChunks(viewerID, documentID string, limit int) ([]domain.Chunk, error) {
	if limit <= 0 {
		return []domain.Chunk{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	docIDs := make([]string, 0, len(s.chunks))
	for id := range s.chunks {
		docIDs = append(docIDs, id)
	}
	sort.Strings(docIDs)
	var out []domain.Chunk
	for _, id := range docIDs {
		if documentID != "" && id != documentID {
			continue
		}
		doc, ok := s.docs[id]
		if !ok || doc.Status != domain.StatusIndexed || !doc.VisibleTo(viewerID) {
			continue
		}
		for _, chunk := range s.chunks[id] {
			if len(chunk.Embedding) == 0 {
				continue
			}
			out = append(out, chunk)
			if len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) CountChunks() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, chunks := range s.chunks {
		total += len(chunks)
	}
	return total, nil
}

func (s *MemoryStore) GetIndexMeta() (domain.IndexMeta, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.meta == nil {
		return domain.IndexMeta{}, false, nil
	}
	return *s.meta, true, nil
}

func (s *MemoryStore) SaveIndexMeta(meta domain.IndexMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = &meta
	return nil
}
