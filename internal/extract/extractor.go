// Package extract converts uploaded file bytes into ordered, page-like text
// segments. Extraction is a pure transform: no I/O besides reading the input.
package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// DefaultChunkSize is the fallback segment size (in runes) for formats
// without natural page breaks.
const DefaultChunkSize = 2000

// ErrUnsupportedFormat rejects extensions outside the pdf/docx/txt whitelist.
// Unknown formats are never sniffed or reinterpreted.
var ErrUnsupportedFormat = errors.New("unsupported file format")

const pageBreak = "\f"

// Extract returns the non-empty trimmed text segments of the file.
// Empty input yields zero segments and no error; the caller decides whether
// that is an indexing failure.
func Extract(ext string, data []byte) ([]string, error) {
	switch normalizeExt(ext) {
	case "pdf":
		return extractPDF(data)
	case "docx":
		return extractDOCX(data)
	case "txt":
		return paginate(string(data)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

func extractPDF(data []byte) ([]string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	totalPages := reader.NumPage()
	var segments []string
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip unreadable pages instead of failing the document.
			continue
		}
		if text = normalizeText(text); text != "" {
			segments = append(segments, text)
		}
	}
	if len(segments) == 0 {
		return nil, nil
	}
	return segments, nil
}

func extractDOCX(data []byte) ([]string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("read docx: %w", err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read docx: %w", err)
		}
		return paginate(documentXMLText(content)), nil
	}
	return nil, fmt.Errorf("open docx: missing word/document.xml")
}

// paginate splits text on explicit page-break markers; when that yields no
// segments it falls back to fixed-size chunking so any non-empty input
// produces at least one segment.
func paginate(text string) []string {
	var segments []string
	for _, page := range strings.Split(text, pageBreak) {
		if page = normalizeText(page); page != "" {
			segments = append(segments, page)
		}
	}
	if len(segments) > 1 {
		return segments
	}
	return chunkText(normalizeText(strings.ReplaceAll(text, pageBreak, " ")), DefaultChunkSize)
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

func chunkText(text string, size int) []string {
	if size <= 0 {
		return nil
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	var chunks []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		if part := strings.TrimSpace(string(runes[start:end])); part != "" {
			chunks = append(chunks, part)
		}
	}
	return chunks
}
