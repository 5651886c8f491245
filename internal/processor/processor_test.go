package processor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docdex/internal/errdef"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// ---------- document id ----------

func TestDocumentIDShape(t *testing.T) {
	id := DocumentID("/test/ml.txt")
	if len(id) != 16 {
		t.Fatalf("id length = %d, want 16", len(id))
	}
	for _, r := range id {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Fatalf("id %q contains non-hex rune %q", id, r)
		}
	}
}

func TestDocumentIDStable(t *testing.T) {
	if DocumentID("/a/b.md") != DocumentID("/a/b.md") {
		t.Fatal("same URI produced different ids")
	}
	if DocumentID("/a/b.md") == DocumentID("/a/c.md") {
		t.Fatal("different URIs produced the same id")
	}
}

// ---------- chunker ----------

func TestChunkWordsSingleWindow(t *testing.T) {
	chunks := chunkWords("one two three", 10, 2)
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if chunks[0] != "one two three" {
		t.Fatalf("chunk = %q", chunks[0])
	}
}

func TestChunkWordsOverlap(t *testing.T) {
	words := make([]string, 25)
	for i := range words {
		words[i] = string(rune('a' + i))
	}
	chunks := chunkWords(strings.Join(words, " "), 10, 3)

	// Step is 7: windows start at 0, 7, 14, 21.
	if len(chunks) != 4 {
		t.Fatalf("chunks = %d, want 4", len(chunks))
	}
	first := strings.Fields(chunks[0])
	second := strings.Fields(chunks[1])
	if len(first) != 10 {
		t.Fatalf("first window = %d words, want 10", len(first))
	}
	// Last 3 of window 1 == first 3 of window 2.
	for i := 0; i < 3; i++ {
		if first[7+i] != second[i] {
			t.Fatalf("overlap mismatch at %d: %q vs %q", i, first[7+i], second[i])
		}
	}
}

func TestChunkWordsEmpty(t *testing.T) {
	if got := chunkWords("   \n\t ", 10, 2); got != nil {
		t.Fatalf("whitespace-only text produced %d chunks", len(got))
	}
}

func TestChunkWordsCollapsesWhitespace(t *testing.T) {
	chunks := chunkWords("a   b\n\nc\td", 10, 0)
	if len(chunks) != 1 || chunks[0] != "a b c d" {
		t.Fatalf("chunks = %v", chunks)
	}
}

// ---------- processing ----------

func TestProcessFileText(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "note.txt", "Machine learning is a subset of artificial intelligence.")

	p := New(nil)
	doc, err := p.ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if doc.DocumentID != DocumentID(path) {
		t.Errorf("document id = %q, want uri hash", doc.DocumentID)
	}
	if doc.SourceURI != path {
		t.Errorf("source uri = %q, want %q", doc.SourceURI, path)
	}
	if len(doc.Chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(doc.Chunks))
	}
	if doc.Metadata["type"] != "text" || doc.Metadata["file_type"] != "txt" {
		t.Errorf("metadata = %v", doc.Metadata)
	}
}

func TestProcessFileMarkdownType(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "readme.md", "# Title\n\nSome body text here.")

	p := New(nil)
	doc, err := p.ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if doc.Metadata["type"] != "markdown" {
		t.Errorf("type = %v, want markdown", doc.Metadata["type"])
	}
}

func TestProcessFileAsUsesDisplayURI(t *testing.T) {
	dir := t.TempDir()
	tmp := writeFile(t, dir, "upload-12345.txt", "uploaded content body")

	p := New(nil)
	doc, err := p.ProcessFileAs(context.Background(), tmp, "/test/ml.txt")
	if err != nil {
		t.Fatalf("ProcessFileAs: %v", err)
	}
	if doc.DocumentID != DocumentID("/test/ml.txt") {
		t.Errorf("document id derived from temp path, want display name hash")
	}
	if doc.SourceURI != "/test/ml.txt" {
		t.Errorf("source uri = %q", doc.SourceURI)
	}
}

func TestProcessFileUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "binary.exe", "MZ....")

	p := New(nil)
	_, err := p.ProcessFile(context.Background(), path)
	if !errdef.IsCode(err, errdef.CodeUnsupportedFmt) {
		t.Fatalf("error = %v, want UNSUPPORTED_FORMAT", err)
	}
}

func TestProcessFileEmpty(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "empty.txt", "")

	p := New(nil)
	_, err := p.ProcessFile(context.Background(), path)
	if !errdef.IsCode(err, errdef.CodeProcessingFailed) {
		t.Fatalf("error = %v, want DOCUMENT_PROCESSING_FAILED", err)
	}
}

func TestProcessTextChunksLongContent(t *testing.T) {
	words := make([]string, 700)
	for i := range words {
		words[i] = "word"
	}

	p := New(nil)
	doc, err := p.ProcessText(strings.Join(words, " "), "/docs/long.txt")
	if err != nil {
		t.Fatalf("ProcessText: %v", err)
	}
	if len(doc.Chunks) < 2 {
		t.Fatalf("chunks = %d, want at least 2 for 700 words", len(doc.Chunks))
	}
	if doc.Metadata["word_count"] != 700 {
		t.Errorf("word_count = %v, want 700", doc.Metadata["word_count"])
	}
}

func TestSupported(t *testing.T) {
	p := New(nil)
	cases := []struct {
		path string
		want bool
	}{
		{"/a/doc.txt", true},
		{"/a/doc.md", true},
		{"/a/DOC.MD", true},
		{"/a/doc.pdf", true},
		{"/a/doc.markdown", true},
		{"/a/app.log", true},
		{"/a/image.png", false},
		{"/a/archive.zip", false},
		{"/a/noext", false},
	}
	for _, tc := range cases {
		if got := p.Supported(tc.path); got != tc.want {
			t.Errorf("Supported(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestExtractTextInvalidUTF8(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mixed.txt")
	if err := os.WriteFile(path, []byte{'o', 'k', 0xff, 0xfe, 'e', 'n', 'd'}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	text, err := extractText(path)
	if err != nil {
		t.Fatalf("extractText: %v", err)
	}
	if !strings.HasPrefix(text, "ok") || !strings.HasSuffix(text, "end") {
		t.Fatalf("text = %q", text)
	}
}

func TestExtractPDFMissingFile(t *testing.T) {
	_, err := extractPDF(context.Background(), "/does/not/exist.pdf")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errdef.IsCode(err, errdef.CodeProcessingFailed) {
		t.Fatalf("error = %v, want DOCUMENT_PROCESSING_FAILED", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("cause lost: %v", err)
	}
}
