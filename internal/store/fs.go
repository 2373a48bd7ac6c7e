package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sha1n/vaultgrep/internal/domain"
	"github.com/sha1n/vaultgrep/internal/engine"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

var _ engine.DocumentStore = (*FSStore)(nil)

const fileScheme = "file"

// FSStore serves documents from a directory tree. The root may be a local path
// or any URL afs understands (file://, mem://, s3://, gs://).
type FSStore struct {
	root   string
	fs     afs.Service
	logger *slog.Logger
}

// NewFSStore creates a store rooted at root. Local paths are made absolute.
func NewFSStore(root string, logger *slog.Logger) (*FSStore, error) {
	if root == "" {
		return nil, fmt.Errorf("vault root is required")
	}
	if url.Scheme(root, "") == "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve vault root: %w", err)
		}
		root = fileScheme + "://" + filepath.ToSlash(abs)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FSStore{
		root:   strings.TrimSuffix(root, "/"),
		fs:     afs.New(),
		logger: logger,
	}, nil
}

// Root returns the root URL.
func (s *FSStore) Root() string {
	return s.root
}

// LocalRoot returns the root as a local directory, or "" for remote roots.
func (s *FSStore) LocalRoot() string {
	if url.Scheme(s.root, "") != fileScheme {
		return ""
	}
	return filepath.FromSlash(url.Path(s.root))
}

func (s *FSStore) documentURL(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return url.Join(s.root, id), nil
}

// ListDocuments walks the tree and returns every file ordered by id. Version
// control directories are never descended into.
func (s *FSStore) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	var docs []domain.Document
	err := s.fs.Walk(ctx, s.root, func(ctx context.Context, baseURL, parent string, info os.FileInfo, _ io.Reader) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if info == nil || info.IsDir() {
			return true, nil
		}
		id := path.Join(strings.Trim(parent, "/"), info.Name())
		if id == ".git" || strings.HasPrefix(id, ".git/") || strings.Contains(id, "/.git/") {
			return true, nil
		}
		docs = append(docs, newDocument(id, info.Size(), info.ModTime()))
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.root, err)
	}

	slices.SortFunc(docs, func(a, b domain.Document) int {
		return strings.Compare(a.ID, b.ID)
	})
	s.logger.Debug("Listed documents", "root", s.root, "count", len(docs))
	return docs, nil
}

func (s *FSStore) ReadContent(ctx context.Context, doc domain.Document) (string, error) {
	u, err := s.documentURL(doc.ID)
	if err != nil {
		return "", err
	}
	data, err := s.fs.DownloadWithURL(ctx, u)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", doc.ID, err)
	}
	if IsBinary(data) {
		return "", fmt.Errorf("%w: %s", ErrBinaryDocument, doc.ID)
	}
	return string(data), nil
}

func (s *FSStore) WriteContent(ctx context.Context, doc domain.Document, content string) error {
	u, err := s.documentURL(doc.ID)
	if err != nil {
		return err
	}
	if err := s.fs.Upload(ctx, u, file.DefaultFileOsMode, strings.NewReader(content)); err != nil {
		return fmt.Errorf("failed to write %s: %w", doc.ID, err)
	}
	return nil
}

func (s *FSStore) StatSize(ctx context.Context, doc domain.Document) (int64, error) {
	u, err := s.documentURL(doc.ID)
	if err != nil {
		return 0, err
	}
	obj, err := s.fs.Object(ctx, u)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrDocumentNotFound, doc.ID, err)
	}
	if obj.IsDir() {
		return 0, fmt.Errorf("%w: %s is a directory", ErrDocumentNotFound, doc.ID)
	}
	return obj.Size(), nil
}
