package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"askdocs/internal/util"
	"askdocs/pkg/domain"
	"askdocs/pkg/queue"
)

// TriggerRebuild enqueues a full re-embedding of the indexed corpus and
// returns immediately with the queued job.
func (a *App) TriggerRebuild(ctx context.Context, viewer domain.User) (queue.JobStatus, error) {
	if a.queue == nil {
		return queue.JobStatus{}, fmt.Errorf("rebuild queue not configured")
	}
	if a.rebuildActive.Load() {
		return queue.JobStatus{}, ErrRebuildInProgress
	}
	job, err := a.queue.Enqueue(ctx, viewer.ID)
	if err != nil {
		return queue.JobStatus{}, fmt.Errorf("enqueue rebuild: %w", err)
	}
	util.LoggerFromContext(ctx).Info("rebuild queued", "jobId", job.ID, "requestedBy", viewer.ID)
	return job, nil
}

// RunRebuild is the queue handler: it re-embeds the stored chunk text of
// every indexed document. Chunks are not re-extracted. Only one rebuild may
// run at a time; an overlapping run is rejected.
func (a *App) RunRebuild(ctx context.Context, job queue.JobStatus) error {
	if !a.rebuildActive.CompareAndSwap(false, true) {
		return ErrRebuildInProgress
	}
	defer a.rebuildActive.Store(false)

	log := util.LoggerFromContext(ctx)
	started := time.Now().UTC()
	log.Info("rebuild started", "jobId", job.ID)

	docs, err := a.store.ListAllDocuments()
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	var rebuilt, failures int
	var failureNotes []string
	for _, doc := range docs {
		if doc.Status != domain.StatusIndexed {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		docFailures, err := a.rebuildDocument(ctx, doc)
		if err != nil {
			failures++
			failureNotes = append(failureNotes, fmt.Sprintf("%s: %v", doc.ID, err))
			log.Warn("document rebuild failed", "documentId", doc.ID, "error", err)
			continue
		}
		if docFailures > 0 {
			failures += docFailures
			failureNotes = append(failureNotes, fmt.Sprintf("%s: %d chunks failed to embed", doc.ID, docFailures))
		}
		rebuilt++
	}

	totalChunks, err := a.store.CountChunks()
	if err != nil {
		return fmt.Errorf("count chunks: %w", err)
	}
	finished := time.Now().UTC()
	meta := domain.IndexMeta{
		LastRebuild: &finished,
		LastError:   strings.Join(failureNotes, "; "),
		TotalDocs:   rebuilt,
		TotalChunks: totalChunks,
		UpdatedAt:   finished,
	}
	if err := a.store.SaveIndexMeta(meta); err != nil {
		return fmt.Errorf("save index meta: %w", err)
	}
	log.Info("rebuild finished",
		"jobId", job.ID,
		"documents", rebuilt,
		"chunkFailures", failures,
		"elapsed", finished.Sub(started).String(),
	)
	return nil
}

// rebuildDocument re-embeds one document's chunks and reports how many
// chunks failed. Per-chunk failures do not stop the document.
func (a *App) rebuildDocument(ctx context.Context, doc domain.Document) (int, error) {
	chunks, err := a.store.ListChunksByDocument(doc.ID)
	if err != nil {
		return 0, fmt.Errorf("list chunks: %w", err)
	}
	var failed int
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.embedConcurrency)
	results := make([][]float32, len(chunks))
	for i := range chunks {
		i := i
		g.Go(func() error {
			vec, err := a.embedder.EmbedText(gctx, chunks[i].Content)
			if err != nil {
				return nil
			}
			results[i] = vec
			return nil
		})
	}
	_ = g.Wait()
	for i, chunk := range chunks {
		if len(results[i]) == 0 {
			failed++
			continue
		}
		if err := a.store.SetChunkEmbedding(doc.ID, chunk.Page, results[i]); err != nil {
			failed++
		}
	}
	return failed, nil
}
