// Package server exposes the HTTP API.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"askdocs/internal/app"
	"askdocs/internal/ratelimit"
	"askdocs/internal/util"
	"askdocs/pkg/domain"
)

// Machine-readable error codes carried in the error envelope.
const (
	codeInvalidInput      = "INVALID_INPUT"
	codeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	codeExtractionFailed  = "EXTRACTION_FAILED"
	codeUnauthorized      = "UNAUTHORIZED"
	codeForbidden         = "FORBIDDEN"
	codeNotFound          = "NOT_FOUND"
	codeRateLimited       = "RATE_LIMITED"
	codeRebuildInProgress = "REBUILD_IN_PROGRESS"
	codeEmbeddingFailed   = "EMBEDDING_FAILED"
	codeGenerationFailed  = "GENERATION_FAILED"
	codeInternal          = "INTERNAL"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	VerifyUser(token string) (domain.User, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	TokenVerifier  TokenVerifier
	AskLimiter     *ratelimit.FixedWindowLimiter
	UploadLimiter  *ratelimit.FixedWindowLimiter
	MaxUploadBytes int64
}

// Server exposes HTTP endpoints for the document Q&A service.
type Server struct {
	app            *app.App
	tokenVerifier  TokenVerifier
	mux            *http.ServeMux
	askLimiter     *ratelimit.FixedWindowLimiter
	uploadLimiter  *ratelimit.FixedWindowLimiter
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	s := &Server{
		app:            cfg.App,
		tokenVerifier:  cfg.TokenVerifier,
		mux:            http.NewServeMux(),
		askLimiter:     cfg.AskLimiter,
		uploadLimiter:  cfg.UploadLimiter,
		maxUploadBytes: maxUpload,
	}
	s.routes()
	return s
}

// Router returns the configured handler with ambient middleware applied.
func (s *Server) Router() http.Handler {
	var handler http.Handler = s.mux
	handler = util.WithSecurityHeaders(util.WithCORS(handler))
	handler = util.WithRequestLog("askdocs", handler)
	return util.WithRequestID(handler)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	s.mux.Handle("/api/docs", s.optionalAuth(s.handleDocs))
	s.mux.Handle("/api/docs/", s.optionalAuth(s.handleDocByID))
	s.mux.Handle("/api/ask", s.optionalAuth(s.handleAsk))

	s.mux.Handle("/api/admin/stats", s.adminOnly(s.handleAdminStats))
	s.mux.Handle("/api/admin/rebuild", s.adminOnly(s.handleAdminRebuild))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(http.ResponseWriter, *http.Request, domain.User)

// optionalAuth resolves the caller when a valid token is present and treats
// everything else as anonymous.
func (s *Server) optionalAuth(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := s.authorize(r)
		next(w, r, user)
	})
}

// requireAuth rejects requests without a valid token.
func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request, user domain.User) bool {
	if user.IsAnonymous() {
		s.audit(r, "auth", "denied")
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "authentication required")
		return false
	}
	return true
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			s.audit(r, "admin_access", "denied")
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "authentication required")
			return
		}
		if user.Role != domain.RoleAdmin {
			s.audit(r, "admin_access", "forbidden", "userId", user.ID)
			writeError(w, http.StatusForbidden, codeForbidden, "admin role required")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	user, err := s.tokenVerifier.VerifyUser(token)
	if err != nil {
		s.audit(r, "token_verify", "failed", "error", err.Error())
		return domain.User{}, false
	}
	return user, true
}

func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r, user)
	case http.MethodGet:
		s.handleListDocs(w, r, user)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	if !s.requireAuth(w, r, user) {
		return
	}
	if !s.allowRate(w, r, s.uploadLimiter, user) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "file is required (field: file)")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "could not read file")
		return
	}

	doc, err := s.app.UploadDocument(r.Context(), user, app.UploadInput{
		Filename:    header.Filename,
		Title:       r.FormValue("title"),
		Visibility:  domain.Visibility(strings.TrimSpace(r.FormValue("visibility"))),
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{
		DocumentID: doc.ID,
		PagesCount: doc.PageCount,
		Document:   doc,
	})
}

func (s *Server) handleListDocs(w http.ResponseWriter, r *http.Request, user domain.User) {
	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)
	docs, total, nextOffset, err := s.app.ListDocuments(r.Context(), user, limit, offset)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listDocsResponse{
		Items:      docs,
		Total:      total,
		NextOffset: nextOffset,
	})
}

func (s *Server) handleDocByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/docs/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, codeNotFound, "document not found")
		return
	}
	doc, err := s.app.GetDocument(r.Context(), user, id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.askLimiter, user) {
		return
	}
	var req askRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "invalid JSON body")
		return
	}
	started := time.Now()
	res, err := s.app.Ask(r.Context(), user, app.AskInput{
		Question:   req.Query,
		DocumentID: req.DocID,
		K:          req.K,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, askResponse{
		Query:   strings.TrimSpace(req.Query),
		DocID:   req.DocID,
		Cached:  res.Cached,
		Answers: []domain.Answer{res.Answer},
		Meta: askMeta{
			VectorResults: res.VectorResults,
			ElapsedMS:     time.Since(started).Milliseconds(),
		},
	})
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.app.GetStats(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponseFrom(stats))
}

func (s *Server) handleAdminRebuild(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	job, err := s.app.TriggerRebuild(r.Context(), user)
	if err != nil {
		writeAppError(w, err)
		return
	}
	s.audit(r, "rebuild_trigger", "success", "userId", user.ID, "jobId", job.ID)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": fmt.Sprintf("rebuild queued (job %s)", job.ID),
	})
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, user domain.User) bool {
	if limiter == nil {
		return true
	}
	key := user.ID
	if key == "" {
		key = util.ClientIP(r)
	}
	if limiter.Allow(r.URL.Path + "|" + key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many requests")
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

type askRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
	DocID string `json:"docId,omitempty"`
}

type askMeta struct {
	VectorResults int   `json:"vector_results"`
	ElapsedMS     int64 `json:"elapsed_ms"`
}

type askResponse struct {
	Query   string          `json:"query"`
	DocID   string          `json:"docId"`
	Cached  bool            `json:"cached"`
	Answers []domain.Answer `json:"answers"`
	Meta    askMeta         `json:"meta"`
}

type uploadResponse struct {
	DocumentID string          `json:"documentId"`
	PagesCount int             `json:"pagesCount"`
	Document   domain.Document `json:"document"`
}

type listDocsResponse struct {
	Items      []domain.Document `json:"items"`
	Total      int               `json:"total"`
	NextOffset *int              `json:"next_offset"`
}

type statsResponse struct {
	TotalDocs   int        `json:"total_docs"`
	IndexedDocs int        `json:"indexed_docs"`
	PendingDocs int        `json:"pending_docs"`
	FailedDocs  int        `json:"failed_docs"`
	TotalChunks int        `json:"total_chunks"`
	LastRebuild *time.Time `json:"last_rebuild"`
	LastError   *string    `json:"last_error"`
}

func statsResponseFrom(stats app.Stats) statsResponse {
	out := statsResponse{
		IndexedDocs: stats.Documents[domain.StatusIndexed],
		PendingDocs: stats.Documents[domain.StatusPending],
		FailedDocs:  stats.Documents[domain.StatusFailed],
		TotalChunks: stats.TotalChunks,
		LastRebuild: stats.Index.LastRebuild,
	}
	for _, count := range stats.Documents {
		out.TotalDocs += count
	}
	if stats.Index.LastError != "" {
		lastErr := stats.Index.LastError
		out.LastError = &lastErr
	}
	return out
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, codeInvalidInput, "method not allowed")
}

// writeAppError maps app sentinel errors to the HTTP error envelope.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, codeInvalidInput, err.Error())
	case errors.Is(err, app.ErrUnsupportedFormat):
		writeError(w, http.StatusBadRequest, codeUnsupportedFormat, err.Error())
	case errors.Is(err, app.ErrExtractionFailed):
		writeError(w, http.StatusBadRequest, codeExtractionFailed, err.Error())
	case errors.Is(err, app.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, codeForbidden, err.Error())
	case errors.Is(err, app.ErrRebuildInProgress):
		writeError(w, http.StatusConflict, codeRebuildInProgress, err.Error())
	case errors.Is(err, app.ErrEmbeddingFailed):
		writeError(w, http.StatusBadGateway, codeEmbeddingFailed, err.Error())
	case errors.Is(err, app.ErrGenerationFailed):
		writeError(w, http.StatusBadGateway, codeGenerationFailed, err.Error())
	default:
		slog.Error("internal error", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "detail": detail},
	})
}
