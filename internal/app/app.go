// Package app orchestrates the document Q&A pipelines: upload and indexing,
// question answering, listing, stats, and index rebuilds.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"askdocs/internal/extract"
	"askdocs/internal/qcache"
	"askdocs/internal/retrieval"
	"askdocs/internal/util"
	"askdocs/pkg/ai"
	"askdocs/pkg/domain"
	"askdocs/pkg/queue"
	"askdocs/pkg/storage"
	"askdocs/pkg/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100

	defaultAskK = 5
	maxAskK     = 20

	snippetLimit = 500

	presignExpiry = 15 * time.Minute
)

// noEvidenceAnswer is returned without invoking the model when retrieval
// finds nothing above the score threshold.
const noEvidenceAnswer = "I could not find anything in the indexed documents that answers this question."

// RebuildEnqueuer hands rebuild jobs to the background queue.
type RebuildEnqueuer interface {
	Enqueue(ctx context.Context, requestedBy string) (queue.JobStatus, error)
}

// Config carries the collaborators an App needs.
type Config struct {
	Store            store.Store
	Objects          storage.ObjectStore
	Embedder         ai.Embedder
	Generator        ai.TextGenerator
	Cache            *qcache.AnswerCache
	Queue            RebuildEnqueuer
	MaxUploadBytes   int64
	EmbedConcurrency int
	ScoreThreshold   float64
	CandidateCap     int
}

// App is the orchestration core behind the HTTP handlers.
type App struct {
	store            store.Store
	objects          storage.ObjectStore
	embedder         ai.Embedder
	generator        ai.TextGenerator
	cache            *qcache.AnswerCache
	queue            RebuildEnqueuer
	engine           *retrieval.Engine
	maxUploadBytes   int64
	embedConcurrency int

	rebuildActive atomic.Bool
}

// New wires an App. Store and Embedder are required; the rest degrade to
// reduced functionality (no cache, no presigned URLs, no queued rebuilds).
func New(cfg Config) *App {
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	concurrency := cfg.EmbedConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	var engineOpts []retrieval.Option
	if cfg.ScoreThreshold > 0 {
		engineOpts = append(engineOpts, retrieval.WithScoreThreshold(cfg.ScoreThreshold))
	}
	if cfg.CandidateCap > 0 {
		engineOpts = append(engineOpts, retrieval.WithCandidateCap(cfg.CandidateCap))
	}
	return &App{
		store:            cfg.Store,
		objects:          cfg.Objects,
		embedder:         cfg.Embedder,
		generator:        cfg.Generator,
		cache:            cfg.Cache,
		queue:            cfg.Queue,
		engine:           retrieval.NewEngine(cfg.Store, engineOpts...),
		maxUploadBytes:   maxUpload,
		embedConcurrency: concurrency,
	}
}

// UploadInput is one file upload request.
type UploadInput struct {
	Filename    string
	Title       string
	Visibility  domain.Visibility
	ContentType string
	Data        []byte
}

// UploadDocument runs the ingest pipeline: validate, extract, store, embed,
// index. The caller must already be authenticated.
func (a *App) UploadDocument(ctx context.Context, viewer domain.User, input UploadInput) (domain.Document, error) {
	log := util.LoggerFromContext(ctx)

	filename := strings.TrimSpace(input.Filename)
	if filename == "" || len(input.Data) == 0 {
		return domain.Document{}, fmt.Errorf("%w: file is required", ErrInvalidInput)
	}
	if int64(len(input.Data)) > a.maxUploadBytes {
		return domain.Document{}, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidInput, a.maxUploadBytes)
	}
	visibility := input.Visibility
	if visibility == "" {
		visibility = domain.VisibilityPrivate
	}
	if visibility != domain.VisibilityPrivate && visibility != domain.VisibilityPublic {
		return domain.Document{}, fmt.Errorf("%w: unknown visibility %q", ErrInvalidInput, input.Visibility)
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = strings.TrimSuffix(filename, filepath.Ext(filename))
	}

	ext := filepath.Ext(filename)
	segments, err := extract.Extract(ext, input.Data)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupportedFormat) {
			return domain.Document{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
		}
		return domain.Document{}, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	now := time.Now().UTC()
	doc := domain.Document{
		ID:               uuid.NewString(),
		OwnerID:          viewer.ID,
		Title:            title,
		OriginalFilename: filename,
		Visibility:       visibility,
		Status:           domain.StatusPending,
		SizeBytes:        int64(len(input.Data)),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if len(segments) == 0 {
		doc.Status = domain.StatusFailed
		doc.ErrorMessage = "no extractable text"
		if err := a.store.SaveDocument(doc); err != nil {
			return domain.Document{}, fmt.Errorf("save document: %w", err)
		}
		return doc, fmt.Errorf("%w: no extractable text", ErrExtractionFailed)
	}
	doc.PageCount = len(segments)

	if a.objects != nil {
		key := fmt.Sprintf("docs/%s/%s%s", viewer.ID, doc.ID, strings.ToLower(ext))
		if err := a.objects.Put(ctx, key, bytes.NewReader(input.Data), doc.SizeBytes, input.ContentType); err != nil {
			log.Warn("object store put failed", "documentId", doc.ID, "error", err)
		} else {
			doc.StorageKey = key
		}
	}

	if err := a.store.SaveDocument(doc); err != nil {
		return domain.Document{}, fmt.Errorf("save document: %w", err)
	}

	chunks := make([]domain.Chunk, len(segments))
	for i, segment := range segments {
		chunks[i] = domain.Chunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Page:       i + 1,
			Content:    segment,
			Metadata: map[string]string{
				"sourceFile": filename,
				"format":     strings.TrimPrefix(strings.ToLower(ext), "."),
			},
			CreatedAt: now,
		}
	}

	embedded := a.embedChunks(ctx, chunks)
	if err := a.store.ReplaceChunks(doc.ID, chunks); err != nil {
		return domain.Document{}, fmt.Errorf("save chunks: %w", err)
	}
	if embedded == 0 {
		// Chunks are kept; a later rebuild can finish the index.
		log.Error("all segments failed to embed", "documentId", doc.ID, "segments", len(segments))
		return doc, fmt.Errorf("%w: no segment could be embedded", ErrEmbeddingFailed)
	}

	if err := a.store.SetDocumentStatus(doc.ID, domain.StatusIndexed, ""); err != nil {
		return domain.Document{}, fmt.Errorf("mark indexed: %w", err)
	}
	doc.Status = domain.StatusIndexed
	doc.UpdatedAt = time.Now().UTC()
	log.Info("document indexed",
		"documentId", doc.ID,
		"pages", doc.PageCount,
		"embedded", embedded,
	)
	return doc, nil
}

// embedChunks fills embeddings in place with bounded concurrency and returns
// how many chunks embedded successfully. Failed chunks keep empty vectors.
func (a *App) embedChunks(ctx context.Context, chunks []domain.Chunk) int {
	var embedded atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.embedConcurrency)
	for i := range chunks {
		i := i
		g.Go(func() error {
			vec, err := a.embedder.EmbedText(gctx, chunks[i].Content)
			if err != nil {
				util.LoggerFromContext(ctx).Warn("segment embedding failed",
					"documentId", chunks[i].DocumentID,
					"page", chunks[i].Page,
					"error", err,
				)
				return nil
			}
			chunks[i].Embedding = vec
			embedded.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(embedded.Load())
}

// GetDocument returns one document the viewer may read, with a fresh
// presigned download URL when object storage is configured.
func (a *App) GetDocument(ctx context.Context, viewer domain.User, id string) (domain.Document, error) {
	doc, found, err := a.store.GetDocument(id)
	if err != nil {
		return domain.Document{}, fmt.Errorf("get document: %w", err)
	}
	if !found {
		return domain.Document{}, ErrDocumentNotFound
	}
	if !doc.VisibleTo(viewer.ID) {
		return domain.Document{}, ErrForbidden
	}
	if a.objects != nil && doc.StorageKey != "" {
		if url, err := a.objects.PresignGet(ctx, doc.StorageKey, presignExpiry); err == nil {
			doc.StorageURL = url
		}
	}
	return doc, nil
}

// ListDocuments returns a page of documents visible to the viewer. The
// returned nextOffset is nil when the page reaches the end of the list.
func (a *App) ListDocuments(ctx context.Context, viewer domain.User, limit, offset int) ([]domain.Document, int, *int, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	docs, total, err := a.store.ListDocuments(viewer.ID, limit, offset)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("list documents: %w", err)
	}
	var nextOffset *int
	if offset+len(docs) < total {
		next := offset + len(docs)
		nextOffset = &next
	}
	return docs, total, nextOffset, nil
}

// AskInput is one question.
type AskInput struct {
	Question   string
	DocumentID string
	K          int
}

// AskResult carries the answer, whether it came from the cache, and how
// many chunks survived retrieval.
type AskResult struct {
	Answer        domain.Answer
	Cached        bool
	VectorResults int
}

// Ask answers a question over the viewer's visible corpus, or over one
// document when DocumentID is set.
func (a *App) Ask(ctx context.Context, viewer domain.User, input AskInput) (AskResult, error) {
	log := util.LoggerFromContext(ctx)

	question := strings.TrimSpace(input.Question)
	if question == "" {
		return AskResult{}, fmt.Errorf("%w: question is required", ErrInvalidInput)
	}
	k := input.K
	if k <= 0 {
		k = defaultAskK
	}
	if k > maxAskK {
		k = maxAskK
	}

	cacheKey := qcache.Key{UserID: viewer.ID, DocumentID: input.DocumentID, Question: question, K: k}
	if a.cache != nil {
		if answer, hit, err := a.cache.Get(ctx, cacheKey); err == nil && hit {
			return AskResult{Answer: answer, Cached: true, VectorResults: len(answer.Sources)}, nil
		}
	}

	queryVec, err := a.embedder.EmbedText(ctx, question)
	if err != nil {
		return AskResult{}, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	matches, err := a.engine.Retrieve(ctx, viewer, input.DocumentID, queryVec, k)
	if err != nil {
		switch {
		case errors.Is(err, retrieval.ErrDocumentNotFound):
			return AskResult{}, ErrDocumentNotFound
		case errors.Is(err, retrieval.ErrForbidden):
			return AskResult{}, ErrForbidden
		default:
			return AskResult{}, fmt.Errorf("retrieve: %w", err)
		}
	}

	var answer domain.Answer
	if len(matches) == 0 {
		answer = domain.Answer{Text: noEvidenceAnswer, Sources: []domain.Source{}}
	} else {
		answer, err = a.compose(ctx, question, matches)
		if err != nil {
			return AskResult{}, err
		}
	}

	if a.cache != nil {
		if err := a.cache.Set(ctx, cacheKey, answer); err != nil {
			log.Warn("answer cache write failed", "error", err)
		}
	}
	return AskResult{Answer: answer, VectorResults: len(matches)}, nil
}

const composeSystemPrompt = `You answer questions strictly from the numbered evidence excerpts provided.
Cite every claim with the bracketed number of its excerpt, like [1] or [2].
If the evidence does not contain the answer, say you do not know.
When multiple excerpts support an answer, synthesize them and cite each one.`

// compose builds the grounding prompt from the matches and asks the model.
func (a *App) compose(ctx context.Context, question string, matches []retrieval.Match) (domain.Answer, error) {
	var sb strings.Builder
	sources := make([]domain.Source, 0, len(matches))
	fmt.Fprintf(&sb, "Question: %s\n\nEvidence:\n", question)
	for i, match := range matches {
		snippet := truncateRunes(match.Content, snippetLimit)
		fmt.Fprintf(&sb, "[%d] %s, page %d: %s\n", i+1, match.Title, match.Page, snippet)
		sources = append(sources, domain.Source{
			DocumentID: match.DocumentID,
			Title:      match.Title,
			Page:       match.Page,
			Score:      match.Score,
			Snippet:    snippet,
		})
	}

	text, err := a.generator.GenerateText(ctx, composeSystemPrompt, sb.String())
	if err != nil {
		return domain.Answer{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Answer{}, fmt.Errorf("%w: model returned no text", ErrGenerationFailed)
	}
	return domain.Answer{
		Text:       text,
		Confidence: matches[0].Score,
		Sources:    sources,
	}, nil
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

// Stats summarizes the corpus for the admin endpoint.
type Stats struct {
	Documents   map[domain.DocStatus]int `json:"documents"`
	TotalChunks int                      `json:"totalChunks"`
	Index       domain.IndexMeta         `json:"index"`
}

// GetStats returns document counts by status, the chunk total, and the last
// rebuild record.
func (a *App) GetStats(ctx context.Context) (Stats, error) {
	counts, err := a.store.CountDocumentsByStatus()
	if err != nil {
		return Stats{}, fmt.Errorf("count documents: %w", err)
	}
	chunks, err := a.store.CountChunks()
	if err != nil {
		return Stats{}, fmt.Errorf("count chunks: %w", err)
	}
	meta, _, err := a.store.GetIndexMeta()
	if err != nil {
		return Stats{}, fmt.Errorf("get index meta: %w", err)
	}
	return Stats{Documents: counts, TotalChunks: chunks, Index: meta}, nil
}
