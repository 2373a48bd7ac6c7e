package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/sha1n/vaultgrep/internal/domain"
	"github.com/sha1n/vaultgrep/internal/engine"
)

const (
	// IndexDirName is the name of the content cache directory inside the index dir.
	IndexDirName = "content.bleve"

	// MaxBatchSize is the maximum number of documents per batch
	MaxBatchSize = 100

	// MaxBatchBytes is the maximum bytes per batch (10MB)
	MaxBatchBytes = 10 * 1024 * 1024

	docFieldSize    = "size"
	docFieldModTime = "mod_time"
)

var (
	_ engine.DocumentStore = (*IndexStore)(nil)
	_ engine.FreshReader   = (*IndexStore)(nil)
)

// cachedDocument is the record stored in the content cache.
type cachedDocument struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Extension string `json:"extension"`
	Size      int64  `json:"size"`
	ModTime   string `json:"mod_time"` // UnixNano as text
	Content   string `json:"content"`
}

// IndexStore caches document content in a Bleve index in front of a backing
// store. Listing and sizing always go to the backing store. Reads are served
// from the cache only when the listed size and modification time both match
// the cached record; writes go to the backing store and evict the record.
type IndexStore struct {
	backing engine.DocumentStore
	index   bleve.Index
	logger  *slog.Logger
}

// CreateIndexMapping creates the Bleve index mapping for cached documents.
func CreateIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	// Content is stored for retrieval only; regex scanning happens in the engine.
	contentField := bleve.NewTextFieldMapping()
	contentField.Index = false
	contentField.Store = true
	docMapping.AddFieldMappingsAt(domain.DocFieldContent, contentField)

	nameField := bleve.NewTextFieldMapping()
	nameField.Analyzer = keyword.Name
	nameField.Store = true
	docMapping.AddFieldMappingsAt(domain.DocFieldName, nameField)

	extField := bleve.NewTextFieldMapping()
	extField.Analyzer = keyword.Name
	extField.Store = true
	docMapping.AddFieldMappingsAt(domain.DocFieldExtension, extField)

	sizeField := bleve.NewNumericFieldMapping()
	sizeField.Store = true
	docMapping.AddFieldMappingsAt(docFieldSize, sizeField)

	modTimeField := bleve.NewTextFieldMapping()
	modTimeField.Index = false
	modTimeField.Store = true
	docMapping.AddFieldMappingsAt(docFieldModTime, modTimeField)

	idField := bleve.NewTextFieldMapping()
	idField.Index = false
	idField.Store = true
	docMapping.AddFieldMappingsAt(domain.DocFieldID, idField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = keyword.Name
	return indexMapping
}

// OpenIndexStore opens or creates the cache under indexDir. An empty indexDir
// keeps the cache in memory for the lifetime of the process.
func OpenIndexStore(backing engine.DocumentStore, indexDir string, logger *slog.Logger) (*IndexStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var index bleve.Index
	var err error
	if indexDir == "" {
		index, err = bleve.NewMemOnly(CreateIndexMapping())
	} else {
		index, err = openOrCreate(filepath.Join(indexDir, IndexDirName))
	}
	if err != nil {
		return nil, err
	}

	return &IndexStore{backing: backing, index: index, logger: logger}, nil
}

func openOrCreate(indexPath string) (bleve.Index, error) {
	index, err := bleve.Open(indexPath)
	if err == nil {
		return index, nil
	}

	if err := os.MkdirAll(filepath.Dir(indexPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	index, err = bleve.New(indexPath, CreateIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	return index, nil
}

// Sync loads every backing document into the cache and drops cached entries
// for documents that no longer exist. Returns the number of documents cached.
func (s *IndexStore) Sync(ctx context.Context) (int, error) {
	docs, err := s.backing.ListDocuments(ctx)
	if err != nil {
		return 0, err
	}

	live := make(map[string]struct{}, len(docs))
	batch := s.index.NewBatch()
	batchSize := 0
	batchBytes := 0
	total := 0

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		live[doc.ID] = struct{}{}

		content, err := s.backing.ReadContent(ctx, doc)
		if err != nil {
			// Skip on read error; the document is served from the backing store.
			s.logger.Debug("Skipping document during sync", "document", doc.ID, "error", err)
			batch.Delete(doc.ID)
			continue
		}

		if err := batch.Index(doc.ID, newCachedDocument(doc, content)); err != nil {
			continue
		}
		batchSize++
		batchBytes += len(content)

		if batchSize >= MaxBatchSize || batchBytes >= MaxBatchBytes {
			if err := s.index.Batch(batch); err != nil {
				return total, fmt.Errorf("batch index failed: %w", err)
			}
			total += batchSize
			batch = s.index.NewBatch()
			batchSize = 0
			batchBytes = 0
		}
	}

	stale, err := s.cachedIDs()
	if err != nil {
		return total, err
	}
	for _, id := range stale {
		if _, ok := live[id]; !ok {
			batch.Delete(id)
		}
	}

	if err := s.index.Batch(batch); err != nil {
		return total, fmt.Errorf("final batch index failed: %w", err)
	}
	total += batchSize

	s.logger.Info("Content cache synced", "documents", total)
	return total, nil
}

// cachedIDs returns the id of every cached document.
func (s *IndexStore) cachedIDs() ([]string, error) {
	count, err := s.index.DocCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(count), 0, false)
	res, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate cache: %w", err)
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Invalidate drops cached content for ids.
func (s *IndexStore) Invalidate(ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	batch := s.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return s.index.Batch(batch)
}

// Count returns the number of cached documents.
func (s *IndexStore) Count() (uint64, error) {
	return s.index.DocCount()
}

// Close closes the index.
func (s *IndexStore) Close() error {
	return s.index.Close()
}

func (s *IndexStore) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	return s.backing.ListDocuments(ctx)
}

func (s *IndexStore) StatSize(ctx context.Context, doc domain.Document) (int64, error) {
	return s.backing.StatSize(ctx, doc)
}

// ReadContent serves cached content when it is fresh for doc, otherwise
// reads through to the backing store and refreshes the cache. A document
// without a modification time is always read through.
func (s *IndexStore) ReadContent(ctx context.Context, doc domain.Document) (string, error) {
	if cached, ok := s.lookup(doc.ID); ok && cached.freshFor(doc) {
		return cached.Content, nil
	}
	return s.ReadFresh(ctx, doc)
}

// ReadFresh reads doc from the backing store, bypassing the cache, and
// refreshes the cached record.
func (s *IndexStore) ReadFresh(ctx context.Context, doc domain.Document) (string, error) {
	content, err := s.backing.ReadContent(ctx, doc)
	if err != nil {
		return "", err
	}
	if err := s.index.Index(doc.ID, newCachedDocument(doc, content)); err != nil {
		s.logger.Warn("Failed to cache document", "document", doc.ID, "error", err)
	}
	return content, nil
}

// WriteContent writes to the backing store and evicts the cached record.
func (s *IndexStore) WriteContent(ctx context.Context, doc domain.Document, content string) error {
	if err := s.backing.WriteContent(ctx, doc, content); err != nil {
		return err
	}
	if err := s.index.Delete(doc.ID); err != nil {
		s.logger.Warn("Failed to evict cached document", "document", doc.ID, "error", err)
	}
	return nil
}

func (s *IndexStore) lookup(id string) (cachedDocument, bool) {
	req := bleve.NewSearchRequest(bleve.NewDocIDQuery([]string{id}))
	req.Fields = []string{domain.DocFieldContent, docFieldSize, docFieldModTime}
	res, err := s.index.Search(req)
	if err != nil || len(res.Hits) == 0 {
		return cachedDocument{}, false
	}

	fields := res.Hits[0].Fields
	content, ok := fields[domain.DocFieldContent].(string)
	if !ok {
		return cachedDocument{}, false
	}
	size, ok := fields[docFieldSize].(float64)
	if !ok {
		return cachedDocument{}, false
	}
	modTime, _ := fields[docFieldModTime].(string)
	return cachedDocument{ID: id, Content: content, Size: int64(size), ModTime: modTime}, true
}

// freshFor reports whether the record still reflects doc as listed.
func (c cachedDocument) freshFor(doc domain.Document) bool {
	if doc.ModTime.IsZero() || c.ModTime == "" {
		return false
	}
	if doc.SizeKnown() && c.Size != doc.Size {
		return false
	}
	return c.ModTime == formatModTime(doc)
}

func formatModTime(doc domain.Document) string {
	if doc.ModTime.IsZero() {
		return ""
	}
	return strconv.FormatInt(doc.ModTime.UnixNano(), 10)
}

func newCachedDocument(doc domain.Document, content string) cachedDocument {
	return cachedDocument{
		ID:        doc.ID,
		Name:      doc.Name,
		Extension: doc.Extension,
		Size:      int64(len(content)),
		ModTime:   formatModTime(doc),
		Content:   content,
	}
}
