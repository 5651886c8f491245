// Package processor turns source files into ordered chunk texts.
//
// A processed document carries a stable 16-hex document ID derived from its
// source URI, extraction metadata, and the chunk texts in order. Extraction
// format follows the file extension; unsupported extensions are skipped by
// scans rather than failed.
package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"docdex/internal/errdef"
	"docdex/internal/logging"
)

// ProcessedDocument is the extraction result handed to the indexer.
type ProcessedDocument struct {
	DocumentID string
	SourceURI  string
	Metadata   map[string]any
	Chunks     []string
}

// DocumentID derives the stable document identifier from a source URI:
// the first 16 hex characters of its SHA-256. Uploads pass the display name,
// never the temp path, so re-uploading the same name dedups.
func DocumentID(sourceURI string) string {
	sum := sha256.Sum256([]byte(sourceURI))
	return hex.EncodeToString(sum[:])[:16]
}

// Chunk window defaults, in words. A window comfortably under typical
// embedding model token limits, with enough overlap that sentences split
// across a boundary still match on either side.
const (
	defaultChunkWords   = 300
	defaultOverlapWords = 50
)

// Processor extracts and chunks documents.
type Processor struct {
	chunkWords   int
	overlapWords int
	logger       *slog.Logger
}

// New builds a processor with default chunking parameters.
func New(logger *slog.Logger) *Processor {
	return &Processor{
		chunkWords:   defaultChunkWords,
		overlapWords: defaultOverlapWords,
		logger:       logging.Default(logger).With("component", "processor"),
	}
}

// Supported reports whether scans should attempt this path. Unsupported
// files count as skipped, not failed.
func (p *Processor) Supported(path string) bool {
	_, ok := formatFor(path)
	return ok
}

// ProcessFile extracts and chunks a file, attributing it to its own path.
func (p *Processor) ProcessFile(ctx context.Context, path string) (*ProcessedDocument, error) {
	return p.ProcessFileAs(ctx, path, path)
}

// ProcessFileAs extracts from path but attributes the document to sourceURI.
// The upload flow reads a temp file while identity and metadata derive from
// the caller-visible name.
func (p *Processor) ProcessFileAs(ctx context.Context, path, sourceURI string) (*ProcessedDocument, error) {
	format, ok := formatFor(sourceURI)
	if !ok {
		return nil, errdef.Newf(errdef.CodeUnsupportedFmt,
			"unsupported document format %q", strings.ToLower(filepath.Ext(sourceURI)))
	}

	var (
		text string
		err  error
	)
	switch format {
	case formatPDF:
		text, err = extractPDF(ctx, path)
	default:
		text, err = extractText(path)
	}
	if err != nil {
		return nil, err
	}

	return p.build(text, sourceURI, format)
}

// ProcessText chunks already-extracted content, attributed to sourceURI.
func (p *Processor) ProcessText(content, sourceURI string) (*ProcessedDocument, error) {
	format, ok := formatFor(sourceURI)
	if !ok {
		format = formatText
	}
	return p.build(content, sourceURI, format)
}

func (p *Processor) build(text, sourceURI string, format string) (*ProcessedDocument, error) {
	chunks := chunkWords(text, p.chunkWords, p.overlapWords)
	if len(chunks) == 0 {
		return nil, errdef.Wrap(errdef.CodeProcessingFailed,
			"document processing failed", fmt.Errorf("no text extracted from %s", sourceURI))
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(sourceURI)), ".")
	doc := &ProcessedDocument{
		DocumentID: DocumentID(sourceURI),
		SourceURI:  sourceURI,
		Metadata: map[string]any{
			"type":       format,
			"file_type":  ext,
			"word_count": len(strings.Fields(text)),
		},
		Chunks: chunks,
	}
	return doc, nil
}
