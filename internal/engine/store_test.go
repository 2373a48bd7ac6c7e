package engine

import (
	"context"
	"errors"
	"path"
	"slices"
	"sync"

	"github.com/sha1n/vaultgrep/internal/domain"
)

var errNotFound = errors.New("not found")

// fakeStore is an in-memory DocumentStore with failure and blocking hooks.
type fakeStore struct {
	mu       sync.Mutex
	docs     map[string]string
	readErr  map[string]error
	writeErr map[string]error
	writes   []string
	onRead   func(ctx context.Context, id string) error
}

func newFakeStore(files map[string]string) *fakeStore {
	docs := make(map[string]string, len(files))
	for k, v := range files {
		docs[k] = v
	}
	return &fakeStore{
		docs:     docs,
		readErr:  map[string]error{},
		writeErr: map[string]error{},
	}
}

func (s *fakeStore) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]domain.Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Document{
			ID:        id,
			Name:      path.Base(id),
			Extension: ExtensionOf(id),
			Size:      int64(len(s.docs[id])),
		})
	}
	return out, nil
}

func (s *fakeStore) ReadContent(ctx context.Context, doc domain.Document) (string, error) {
	if s.onRead != nil {
		if err := s.onRead(ctx, doc.ID); err != nil {
			return "", err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readErr[doc.ID]; err != nil {
		return "", err
	}
	content, ok := s.docs[doc.ID]
	if !ok {
		return "", errNotFound
	}
	return content, nil
}

func (s *fakeStore) WriteContent(_ context.Context, doc domain.Document, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr[doc.ID]; err != nil {
		return err
	}
	s.docs[doc.ID] = content
	s.writes = append(s.writes, doc.ID)
	return nil
}

func (s *fakeStore) StatSize(_ context.Context, doc domain.Document) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.docs[doc.ID]
	if !ok {
		return 0, errNotFound
	}
	return int64(len(content)), nil
}

func (s *fakeStore) content(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id]
}

func (s *fakeStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func (s *fakeStore) documents() []domain.Document {
	docs, _ := s.ListDocuments(context.Background())
	return docs
}
