package app

import "errors"

// Sentinel errors the server layer maps to HTTP error codes.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrExtractionFailed  = errors.New("text extraction failed")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrForbidden         = errors.New("access denied")
	ErrEmbeddingFailed   = errors.New("embedding provider failed")
	ErrGenerationFailed  = errors.New("answer generation failed")
	ErrRebuildInProgress = errors.New("rebuild already in progress")
)
