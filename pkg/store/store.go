// Package store persists documents, chunks, and index metadata.
package store

import (
	"askdocs/pkg/domain"
)

// Store defines persistence operations for documents, chunks, and index
// metadata. Lookup methods report absence with the bool result rather than
// an error.
type Store interface {
	// documents
	SaveDocument(domain.Document) error
	GetDocument(id string) (domain.Document, bool, error)
	// ListDocuments returns documents visible to the viewer (their own plus
	// public ones) ordered newest first, along with the total visible count.
	ListDocuments(viewerID string, limit, offset int) ([]domain.Document, int, error)
	ListAllDocuments() ([]domain.Document, error)
	SetDocumentStatus(id string, status domain.DocStatus, errMsg string) error
	CountDocumentsByStatus() (map[domain.DocStatus]int, error)

	// chunks
	ReplaceChunks(documentID string, chunks []domain.Chunk) error
	ListChunksByDocument(documentID string) ([]domain.Chunk, error)
	SetChunkEmbedding(documentID string, page int, embedding []float32) error
	// ListCandidateChunks returns embedded chunks from indexed documents
	// visible to the viewer. An empty documentID widens the scope to the
	// whole visible corpus. The result is capped at limit.
	ListCandidateChunks(viewerID, documentID string, limit int) ([]domain.Chunk, error)
	CountChunks() (int, error)

	// index metadata
	GetIndexMeta() (domain.IndexMeta, bool, error)
	SaveIndexMeta(domain.IndexMeta) error
}
