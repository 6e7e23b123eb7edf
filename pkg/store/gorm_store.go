package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"askdocs/pkg/domain"
)

const migrateLockID int64 = 48214821

const (
	defaultEmbeddingDim      = 768
	canonicalEmbeddingDimEnv = "ASKDOCS_EMBEDDING_DIM"
)

const indexMetaRowID = 1

type GormStoreOptions struct {
	EmbeddingDim int
}

type GormStoreOption func(*GormStoreOptions)

// WithEmbeddingDim sets the canonical embedding dimension used by storage.
func WithEmbeddingDim(dim int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.EmbeddingDim = dim
	}
}

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db           *gorm.DB
	embeddingDim int
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	embeddingDim, err := resolveEmbeddingDim(opts.EmbeddingDim)
	if err != nil {
		return nil, err
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("create pgvector extension: %w", err)
		}
		if err := tx.AutoMigrate(&DocumentModel{}, &ChunkModel{}, &IndexMetaModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(fmt.Sprintf(`
			DO $$
			BEGIN
			IF EXISTS (
				SELECT 1 FROM information_schema.columns
				WHERE table_name = 'chunk_models' AND column_name = 'embedding'
			) THEN
				ALTER TABLE chunk_models ALTER COLUMN embedding TYPE vector(%d);
			END IF;
			END $$;
		`, embeddingDim)).Error; err != nil {
			return fmt.Errorf("alter chunk embedding type: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM chunk_models c
				WHERE NOT EXISTS (SELECT 1 FROM document_models d WHERE d.id = c.document_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'chunk_models'
					AND constraint_name = 'chunk_models_document_id_fkey'
				) THEN
					ALTER TABLE chunk_models
					ADD CONSTRAINT chunk_models_document_id_fkey
					FOREIGN KEY (document_id) REFERENCES document_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure document foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, embeddingDim: embeddingDim}, nil
}

func resolveEmbeddingDim(configValue int) (int, error) {
	if configValue > 0 {
		return configValue, nil
	}
	raw := strings.TrimSpace(os.Getenv(canonicalEmbeddingDimEnv))
	if raw == "" {
		return defaultEmbeddingDim, nil
	}
	dim, err := strconv.Atoi(raw)
	if err != nil || dim <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", canonicalEmbeddingDimEnv, raw)
	}
	return dim, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveDocument stores or updates a document.
func (s *GormStore) SaveDocument(d domain.Document) error {
	model := documentToModel(d)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner_id", "title", "original_filename", "visibility", "status", "error_message", "page_count", "storage_key", "storage_url", "size_bytes", "updated_at"}),
	}).Create(&model).Error
}

// GetDocument retrieves a document.
func (s *GormStore) GetDocument(id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocuments returns documents visible to the viewer, newest first.
func (s *GormStore) ListDocuments(viewerID string, limit, offset int) ([]domain.Document, int, error) {
	if limit <= 0 {
		return []domain.Document{}, 0, nil
	}
	if offset < 0 {
		offset = 0
	}
	scope := s.db.Model(&DocumentModel{}).Where(s.visibleClause(viewerID))
	var total int64
	if err := scope.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []DocumentModel
	if err := s.db.Where(s.visibleClause(viewerID)).
		Order("created_at DESC").
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}
	docs := make([]domain.Document, 0, len(models))
	for _, m := range models {
		docs = append(docs, documentFromModel(m))
	}
	return docs, int(total), nil
}

// ListAllDocuments returns every document ordered by created_at.
func (s *GormStore) ListAllDocuments() ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(models))
	for _, m := range models {
		docs = append(docs, documentFromModel(m))
	}
	return docs, nil
}

// SetDocumentStatus updates document status/error.
func (s *GormStore) SetDocumentStatus(id string, status domain.DocStatus, errMsg string) error {
	return s.db.Model(&DocumentModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(status),
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// CountDocumentsByStatus returns document counts grouped by status.
func (s *GormStore) CountDocumentsByStatus() (map[domain.DocStatus]int, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := s.db.Model(&DocumentModel{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[domain.DocStatus]int, len(rows))
	for _, row := range rows {
		counts[domain.DocStatus(row.Status)] = int(row.Count)
	}
	return counts, nil
}

// ReplaceChunks replaces all chunks for a document.
func (s *GormStore) ReplaceChunks(documentID string, chunks []domain.Chunk) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ChunkModel{}, "document_id = ?", documentID).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		models := make([]ChunkModel, 0, len(chunks))
		for _, chunk := range chunks {
			model := chunkToModel(chunk)
			model.DocumentID = documentID
			models = append(models, model)
		}
		return tx.CreateInBatches(&models, 200).Error
	})
}

// ListChunksByDocument returns chunks for a document in page order.
func (s *GormStore) ListChunksByDocument(documentID string) ([]domain.Chunk, error) {
	var models []ChunkModel
	if err := s.db.Where("document_id = ?", documentID).Order("page ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	chunks := make([]domain.Chunk, 0, len(models))
	for _, model := range models {
		chunks = append(chunks, chunkFromModel(model))
	}
	return chunks, nil
}

// SetChunkEmbedding updates the embedding vector for a chunk keyed by
// document and page.
func (s *GormStore) SetChunkEmbedding(documentID string, page int, embedding []float32) error {
	if err := s.validateEmbeddingDim(embedding); err != nil {
		return err
	}
	return s.db.Model(&ChunkModel{}).
		Where("document_id = ? AND page = ?", documentID, page).
		Update("embedding", pgvector.NewVector(embedding)).Error
}

// ListCandidateChunks returns embedded chunks from indexed documents visible
// to the viewer, capped at limit.
func (s *GormStore) ListCandidateChunks(viewerID, documentID string, limit int) ([]domain.Chunk, error) {
	if limit <= 0 {
		return []domain.Chunk{}, nil
	}
	query := s.db.Model(&ChunkModel{}).
		Joins("JOIN document_models ON document_models.id = chunk_models.document_id").
		Where("document_models.status = ?", string(domain.StatusIndexed)).
		Where(s.visibleClause(viewerID)).
		Where("chunk_models.embedding IS NOT NULL")
	if documentID != "" {
		query = query.Where("chunk_models.document_id = ?", documentID)
	}
	var models []ChunkModel
	if err := query.
		Order("chunk_models.created_at ASC").
		Order("chunk_models.page ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	chunks := make([]domain.Chunk, 0, len(models))
	for _, model := range models {
		chunks = append(chunks, chunkFromModel(model))
	}
	return chunks, nil
}

// CountChunks returns the total number of stored chunks.
func (s *GormStore) CountChunks() (int, error) {
	var count int64
	if err := s.db.Model(&ChunkModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// GetIndexMeta returns the single index metadata row.
func (s *GormStore) GetIndexMeta() (domain.IndexMeta, bool, error) {
	var model IndexMetaModel
	if err := s.db.First(&model, "id = ?", indexMetaRowID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.IndexMeta{}, false, nil
		}
		return domain.IndexMeta{}, false, err
	}
	return indexMetaFromModel(model), true, nil
}

// SaveIndexMeta upserts the single index metadata row.
func (s *GormStore) SaveIndexMeta(meta domain.IndexMeta) error {
	model := indexMetaToModel(meta)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_rebuild", "last_error", "total_docs", "total_chunks", "updated_at"}),
	}).Create(&model).Error
}

func (s *GormStore) visibleClause(viewerID string) *gorm.DB {
	if strings.TrimSpace(viewerID) == "" {
		return s.db.Where("document_models.visibility = ?", string(domain.VisibilityPublic))
	}
	return s.db.Where("document_models.visibility = ? OR document_models.owner_id = ?", string(domain.VisibilityPublic), viewerID)
}

func (s *GormStore) validateEmbeddingDim(embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}
	if s.embeddingDim > 0 && len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), s.embeddingDim)
	}
	return nil
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:               d.ID,
		OwnerID:          d.OwnerID,
		Title:            d.Title,
		OriginalFilename: d.OriginalFilename,
		Visibility:       string(d.Visibility),
		Status:           string(d.Status),
		ErrorMessage:     d.ErrorMessage,
		PageCount:        d.PageCount,
		StorageKey:       d.StorageKey,
		StorageURL:       d.StorageURL,
		SizeBytes:        d.SizeBytes,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:               m.ID,
		OwnerID:          m.OwnerID,
		Title:            m.Title,
		OriginalFilename: m.OriginalFilename,
		Visibility:       domain.Visibility(m.Visibility),
		Status:           domain.DocStatus(m.Status),
		ErrorMessage:     m.ErrorMessage,
		PageCount:        m.PageCount,
		StorageKey:       m.StorageKey,
		StorageURL:       m.StorageURL,
		SizeBytes:        m.SizeBytes,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func chunkToModel(chunk domain.Chunk) ChunkModel {
	model := ChunkModel{
		ID:         chunk.ID,
		DocumentID: chunk.DocumentID,
		Page:       chunk.Page,
		Content:    chunk.Content,
		CreatedAt:  chunk.CreatedAt,
	}
	if len(chunk.Metadata) > 0 {
		model.Metadata, _ = json.Marshal(chunk.Metadata)
	}
	if len(chunk.Embedding) > 0 {
		vec := pgvector.NewVector(chunk.Embedding)
		model.Embedding = &vec
	}
	return model
}

func chunkFromModel(model ChunkModel) domain.Chunk {
	var meta map[string]string
	if len(model.Metadata) > 0 {
		_ = json.Unmarshal(model.Metadata, &meta)
	}
	chunk := domain.Chunk{
		ID:         model.ID,
		DocumentID: model.DocumentID,
		Page:       model.Page,
		Content:    model.Content,
		Metadata:   meta,
		CreatedAt:  model.CreatedAt,
	}
	if model.Embedding != nil {
		chunk.Embedding = model.Embedding.Slice()
	}
	return chunk
}

func indexMetaToModel(meta domain.IndexMeta) IndexMetaModel {
	return IndexMetaModel{
		ID:          indexMetaRowID,
		LastRebuild: meta.LastRebuild,
		LastError:   meta.LastError,
		TotalDocs:   meta.TotalDocs,
		TotalChunks: meta.TotalChunks,
		UpdatedAt:   meta.UpdatedAt,
	}
}

func indexMetaFromModel(m IndexMetaModel) domain.IndexMeta {
	return domain.IndexMeta{
		LastRebuild: m.LastRebuild,
		LastError:   m.LastError,
		TotalDocs:   m.TotalDocs,
		TotalChunks: m.TotalChunks,
		UpdatedAt:   m.UpdatedAt,
	}
}
