package index

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"docdex/internal/errdef"
)

// Upload carries a streamed document body and its caller-visible identity.
type Upload struct {
	// Filename is the original name from the multipart form.
	Filename string
	// CustomSourceURI overrides the stored source URI when set. Document
	// identity hashes the display name, so repeat uploads of the same name
	// dedup like repeat scans of the same path.
	CustomSourceURI string
	Content         io.Reader
	CustomMetadata  map[string]any
	ForceReindex    bool
}

// IndexUpload streams the body to a temp file, processes it under the display
// name, and runs the pipeline. The temp file is always removed.
func (s *Service) IndexUpload(ctx context.Context, up Upload) (*Result, error) {
	display := up.CustomSourceURI
	if display == "" {
		display = up.Filename
	}
	if display == "" {
		return nil, errdef.New(errdef.CodeProcessingFailed, "upload has no filename")
	}

	// Keep the display extension on the temp file so humans inspecting a
	// crashed box can tell what it was. Format detection uses the display
	// name regardless.
	tmp, err := os.CreateTemp("", "docdex-upload-*"+filepath.Ext(display))
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeProcessingFailed, "create temp file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, up.Content); err != nil {
		tmp.Close()
		return nil, errdef.Wrap(errdef.CodeProcessingFailed, "write upload body", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, errdef.Wrap(errdef.CodeProcessingFailed, "close temp file", err)
	}

	doc, err := s.processor.ProcessFileAs(ctx, tmpPath, display)
	if err != nil {
		if errdef.IsCode(err, errdef.CodeEncryptedPDF) {
			s.encrypted.record(display, err)
		}
		return nil, err
	}

	meta := up.CustomMetadata
	if up.CustomSourceURI != "" {
		meta = make(map[string]any, len(up.CustomMetadata)+1)
		for k, v := range up.CustomMetadata {
			meta[k] = v
		}
		meta["custom_source_uri"] = up.CustomSourceURI
	}

	return s.indexProcessed(ctx, doc, Request{
		SourceURI:      display,
		ForceReindex:   up.ForceReindex,
		CustomMetadata: meta,
	})
}

// IndexText runs the pipeline on raw text without touching disk. Used by the
// CLI and tests.
func (s *Service) IndexText(ctx context.Context, content, sourceURI string, force bool) (*Result, error) {
	if sourceURI == "" {
		return nil, errdef.New(errdef.CodeProcessingFailed, "source uri required")
	}
	doc, err := s.processor.ProcessText(content, sourceURI)
	if err != nil {
		return nil, err
	}
	return s.indexProcessed(ctx, doc, Request{SourceURI: sourceURI, ForceReindex: force})
}
