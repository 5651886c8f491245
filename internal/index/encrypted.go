package index

import (
	"sync"
	"time"
)

// encryptedRingCap bounds the in-memory record of encrypted PDFs. The list
// is diagnostic, not durable: it resets on restart and old entries fall off.
const encryptedRingCap = 256

// EncryptedFile is one rejected password-protected document.
type EncryptedFile struct {
	SourceURI  string    `json:"source_uri"`
	Error      string    `json:"error"`
	RecordedAt time.Time `json:"recorded_at"`
}

type encryptedRing struct {
	mu      sync.Mutex
	entries []EncryptedFile
	next    int
	full    bool
}

func newEncryptedRing(capacity int) *encryptedRing {
	return &encryptedRing{entries: make([]EncryptedFile, capacity)}
}

func (r *encryptedRing) record(sourceURI string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = EncryptedFile{
		SourceURI:  sourceURI,
		Error:      err.Error(),
		RecordedAt: time.Now(),
	}
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.full = true
	}
}

// list returns entries newest first.
func (r *encryptedRing) list() []EncryptedFile {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.entries)
	}
	out := make([]EncryptedFile, 0, size)
	for i := 1; i <= size; i++ {
		idx := (r.next - i + len(r.entries)) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out
}

// EncryptedFiles lists recently rejected encrypted PDFs, newest first.
func (s *Service) EncryptedFiles() []EncryptedFile {
	return s.encrypted.list()
}
