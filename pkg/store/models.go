package store

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type DocumentModel struct {
	ID               string `gorm:"primaryKey"`
	OwnerID          string `gorm:"not null;index"`
	Title            string `gorm:"not null"`
	OriginalFilename string `gorm:"not null"`
	Visibility       string `gorm:"not null;index"`
	Status           string `gorm:"not null;index"`
	ErrorMessage     string
	PageCount        int `gorm:"not null"`
	StorageKey       string
	StorageURL       string
	SizeBytes        int64     `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null;index"`
	UpdatedAt        time.Time `gorm:"not null"`
}

type ChunkModel struct {
	ID         string           `gorm:"primaryKey"`
	DocumentID string           `gorm:"not null;uniqueIndex:idx_chunk_doc_page"`
	Page       int              `gorm:"not null;uniqueIndex:idx_chunk_doc_page"`
	Content    string           `gorm:"type:text;not null"`
	Metadata   datatypes.JSON   `gorm:"type:jsonb"`
	Embedding  *pgvector.Vector `gorm:"type:vector(768)"`
	CreatedAt  time.Time        `gorm:"not null;index"`
}

// IndexMetaModel is a single-row table keyed by a fixed ID.
type IndexMetaModel struct {
	ID          int `gorm:"primaryKey"`
	LastRebuild *time.Time
	LastError   string
	TotalDocs   int       `gorm:"not null"`
	TotalChunks int       `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}
