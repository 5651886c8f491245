package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"docdex/internal/errdef"
)

// Extraction formats. Recorded in metadata under the reserved "type" key.
const (
	formatText     = "text"
	formatMarkdown = "markdown"
	formatPDF      = "pdf"
)

// textExtensions are read verbatim as UTF-8 text.
var textExtensions = map[string]string{
	".txt":      formatText,
	".text":     formatText,
	".log":      formatText,
	".csv":      formatText,
	".rst":      formatText,
	".md":       formatMarkdown,
	".markdown": formatMarkdown,
}

// formatFor maps a path to its extraction format by extension.
func formatFor(path string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".pdf" {
		return formatPDF, true
	}
	if format, ok := textExtensions[ext]; ok {
		return format, true
	}
	return "", false
}

// extractText reads the whole file, replacing invalid UTF-8 so downstream
// JSON encoding never chokes on a stray byte.
func extractText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errdef.Wrap(errdef.CodeProcessingFailed, "read document", err)
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

// extractPDF pulls plain text from every page. A password-protected file is
// the distinguished encrypted-PDF error class so scans can report it without
// failing the whole run.
func extractPDF(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errdef.Wrap(errdef.CodeProcessingFailed, "open pdf", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", errdef.Wrap(errdef.CodeProcessingFailed, "stat pdf", err)
	}

	reader, err := pdf.NewReader(f, st.Size())
	if err != nil {
		if isEncryptedPDF(err) {
			return "", errdef.Wrap(errdef.CodeEncryptedPDF, "PDF is encrypted", err)
		}
		return "", errdef.Wrap(errdef.CodeProcessingFailed, "parse pdf", err)
	}

	var parts []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single broken page does not void the document.
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}

	if len(parts) == 0 {
		return "", errdef.Wrap(errdef.CodeProcessingFailed,
			"document processing failed", fmt.Errorf("no extractable text in %s", path))
	}
	return strings.Join(parts, "\n\n"), nil
}

// isEncryptedPDF recognizes the reader's password failure. The library
// reports a sentinel for it, but older tags used a bare message, so the
// string check stays as a fallback.
func isEncryptedPDF(err error) bool {
	if errors.Is(err, pdf.ErrInvalidPassword) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "encrypted")
}
