package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestExtractTxtSplitsOnPageBreaks(t *testing.T) {
	data := []byte("first page\fsecond page\f\fthird page")
	segments, err := Extract(".txt", data)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := []string{"first page", "second page", "third page"}
	if len(segments) != len(want) {
		t.Fatalf("expected %d segments, got %d: %v", len(want), len(segments), segments)
	}
	for i := range want {
		if segments[i] != want[i] {
			t.Fatalf("segment %d = %q, want %q", i, segments[i], want[i])
		}
	}
}

func TestExtractTxtFallsBackToFixedChunks(t *testing.T) {
	data := []byte(strings.Repeat("a", DefaultChunkSize) + strings.Repeat("b", 10))
	segments, err := Extract("txt", data)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 chunked segments, got %d", len(segments))
	}
	for _, seg := range segments {
		if strings.TrimSpace(seg) == "" {
			t.Fatal("segments must be non-empty after trim")
		}
	}
}

func TestExtractEmptyInputYieldsZeroSegments(t *testing.T) {
	for _, input := range []string{"", "   \n\t  ", "\f\f"} {
		segments, err := Extract("txt", []byte(input))
		if err != nil {
			t.Fatalf("extract %q: %v", input, err)
		}
		if len(segments) != 0 {
			t.Fatalf("expected zero segments for %q, got %v", input, segments)
		}
	}
}

func TestExtractUnsupportedExtension(t *testing.T) {
	for _, ext := range []string{".epub", "md", "", ".exe"} {
		if _, err := Extract(ext, []byte("content")); !errors.Is(err, ErrUnsupportedFormat) {
			t.Fatalf("expected ErrUnsupportedFormat for %q, got: %v", ext, err)
		}
	}
}

func TestExtractExtensionCaseInsensitive(t *testing.T) {
	segments, err := Extract(".TXT", []byte("hello"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(segments) != 1 || segments[0] != "hello" {
		t.Fatalf("unexpected segments: %v", segments)
	}
}

func TestExtractInvalidPDFFails(t *testing.T) {
	if _, err := Extract(".pdf", []byte("definitely not a pdf")); err == nil {
		t.Fatal("expected error for invalid pdf bytes")
	}
}

func TestExtractDOCXPageBreaks(t *testing.T) {
	const documentXML = `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Intro paragraph</w:t></w:r></w:p>
    <w:p><w:r><w:br w:type="page"/><w:t>Chapter two</w:t></w:r></w:p>
  </w:body>
</w:document>`
	segments, err := Extract("docx", buildDocx(t, documentXML))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d: %v", len(segments), segments)
	}
	if segments[0] != "Intro paragraph" || segments[1] != "Chapter two" {
		t.Fatalf("unexpected segments: %v", segments)
	}
}

func TestExtractDOCXWithoutBreaksYieldsOneSegment(t *testing.T) {
	const documentXML = `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body><w:p><w:r><w:t>Only paragraph</w:t></w:r></w:p></w:body>
</w:document>`
	segments, err := Extract("docx", buildDocx(t, documentXML))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(segments) != 1 || segments[0] != "Only paragraph" {
		t.Fatalf("unexpected segments: %v", segments)
	}
}

func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := f.Write([]byte(documentXML)); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}
