package store

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sha1n/vaultgrep/internal/domain"
	"github.com/sha1n/vaultgrep/internal/engine"
)

var _ engine.DocumentStore = (*MemoryStore)(nil)

// MemoryStore keeps documents in memory. It backs tests and the "memory" vault backend.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]memoryDocument
	now  func() time.Time
}

type memoryDocument struct {
	content string
	modTime time.Time
}

// NewMemoryStore creates a store holding a copy of files, keyed by document id.
func NewMemoryStore(files map[string]string) *MemoryStore {
	s := &MemoryStore{docs: make(map[string]memoryDocument, len(files)), now: time.Now}
	modTime := s.now()
	for id, content := range files {
		s.docs[id] = memoryDocument{content: content, modTime: modTime}
	}
	return s
}

// Put creates or overwrites a document. Every Put advances the document's
// modification time, even when the clock has not moved.
func (s *MemoryStore) Put(id, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	modTime := s.now()
	if prev, ok := s.docs[id]; ok && !modTime.After(prev.modTime) {
		modTime = prev.modTime.Add(time.Nanosecond)
	}
	s.docs[id] = memoryDocument{content: content, modTime: modTime}
}

// Delete removes a document. Missing ids are ignored.
func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
}

// Get returns the content of a document.
func (s *MemoryStore) Get(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	return d.content, ok
}

// ListDocuments returns every document ordered by id.
func (s *MemoryStore) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]domain.Document, 0, len(s.docs))
	for id, d := range s.docs {
		docs = append(docs, newDocument(id, int64(len(d.content)), d.modTime))
	}
	slices.SortFunc(docs, func(a, b domain.Document) int {
		return strings.Compare(a.ID, b.ID)
	})
	return docs, nil
}

func (s *MemoryStore) ReadContent(ctx context.Context, doc domain.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	content, ok := s.Get(doc.ID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrDocumentNotFound, doc.ID)
	}
	return content, nil
}

func (s *MemoryStore) WriteContent(ctx context.Context, doc domain.Document, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.Put(doc.ID, content)
	return nil
}

func (s *MemoryStore) StatSize(_ context.Context, doc domain.Document) (int64, error) {
	content, ok := s.Get(doc.ID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrDocumentNotFound, doc.ID)
	}
	return int64(len(content)), nil
}

// newDocument builds document metadata from a slash-separated id.
func newDocument(id string, size int64, modTime time.Time) domain.Document {
	return domain.Document{
		ID:        id,
		Name:      path.Base(id),
		Extension: engine.ExtensionOf(id),
		Size:      size,
		ModTime:   modTime,
	}
}
