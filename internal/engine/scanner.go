package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/sha1n/vaultgrep/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultSearchBatchSize is the number of documents scanned concurrently.
	DefaultSearchBatchSize = 10

	// DefaultMaxResultsPerFile caps matches collected from one document.
	DefaultMaxResultsPerFile = 50

	// DefaultMaxTotalResults caps matches collected across a run.
	DefaultMaxTotalResults = 1000

	// DefaultMaxFileSize is the largest document scanned, in bytes.
	DefaultMaxFileSize int64 = 10 * 1024 * 1024
)

// ErrDocumentTooLarge is reported for documents above the size ceiling.
var ErrDocumentTooLarge = errors.New("document too large")

// DocumentStore is the external source of documents. Reads may be concurrent.
type DocumentStore interface {
	ListDocuments(ctx context.Context) ([]domain.Document, error)
	ReadContent(ctx context.Context, doc domain.Document) (string, error)
	WriteContent(ctx context.Context, doc domain.Document, content string) error
	StatSize(ctx context.Context, doc domain.Document) (int64, error)
}

// FreshReader is implemented by stores that cache content. ReadFresh bypasses
// the cache and is used before any write.
type FreshReader interface {
	ReadFresh(ctx context.Context, doc domain.Document) (string, error)
}

// ProgressFunc receives progress updates. It may be called many times per run.
type ProgressFunc func(domain.Progress)

// ResultFunc receives per-document results as soon as their batch completes.
type ResultFunc func(domain.SearchResult)

// ScanConfig bounds a batch run.
type ScanConfig struct {
	BatchSize         int
	MaxResultsPerFile int
	MaxTotalResults   int
	MaxFileSize       int64
	ContextLines      int
}

// SearchReport is the aggregate outcome of a batch run.
type SearchReport struct {
	Pattern          string                `json:"pattern"`
	Flags            string                `json:"flags"`
	Results          []domain.SearchResult `json:"results"`
	TotalMatches     int                   `json:"total_matches"`
	DocumentsScanned int                   `json:"documents_scanned"`
	DocumentsTotal   int                   `json:"documents_total"`
	Truncated        bool                  `json:"truncated"`
	Elapsed          time.Duration         `json:"elapsed"`
}

// BatchScanner runs a pattern over many documents in sequential batches,
// scanning the documents of each batch concurrently.
type BatchScanner struct {
	store  DocumentStore
	cfg    ScanConfig
	logger *slog.Logger
}

// NewBatchScanner creates a scanner over store.
func NewBatchScanner(store DocumentStore, cfg ScanConfig, logger *slog.Logger) *BatchScanner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSearchBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchScanner{store: store, cfg: cfg, logger: logger}
}

// Run scans docs and returns the aggregate. Documents with no matches are
// omitted; documents that fail carry an error instead. On cancellation or
// timeout the partial aggregate is returned along with the token error.
func (s *BatchScanner) Run(token *Token, docs []domain.Document, p *CompiledPattern, onProgress ProgressFunc, onResult ResultFunc) (*SearchReport, error) {
	start := time.Now()
	ordered := SortBySize(docs)

	report := &SearchReport{
		Pattern:        p.Source,
		Flags:          p.Flags.String(),
		Results:        make([]domain.SearchResult, 0),
		DocumentsTotal: len(ordered),
	}
	budget := NewBudget(s.maxTotal())

	var runErr error
	for batchStart := 0; batchStart < len(ordered); batchStart += s.cfg.BatchSize {
		if err := token.Err(); err != nil {
			runErr = err
			break
		}
		if budget.Exhausted() {
			report.Truncated = true
			break
		}

		batch := ordered[batchStart:min(batchStart+s.cfg.BatchSize, len(ordered))]
		results := s.scanBatch(token, batch, p, budget)

		for _, r := range results {
			if r == nil {
				continue
			}
			report.TotalMatches += r.TotalMatches
			report.Results = append(report.Results, *r)
			if onResult != nil {
				onResult(*r)
			}
		}
		report.DocumentsScanned += len(batch)

		if onProgress != nil {
			onProgress(domain.Progress{
				Current:     report.DocumentsScanned,
				Total:       len(ordered),
				CurrentName: batch[len(batch)-1].Name,
			})
		}
	}

	if runErr == nil {
		runErr = token.Err()
	}
	if budget.Exhausted() && report.DocumentsScanned < report.DocumentsTotal {
		report.Truncated = true
	}
	report.Elapsed = time.Since(start)

	if runErr != nil {
		s.logger.Info("Search stopped", "pattern", p.Source, "reason", runErr, "scanned", report.DocumentsScanned)
		return report, runErr
	}

	if onProgress != nil {
		onProgress(domain.Progress{
			Current:   report.DocumentsScanned,
			Total:     len(ordered),
			Completed: true,
		})
	}
	return report, nil
}

// scanBatch scans one batch concurrently. A nil entry means the document had
// no matches or was skipped.
func (s *BatchScanner) scanBatch(token *Token, batch []domain.Document, p *CompiledPattern, budget *Budget) []*domain.SearchResult {
	results := make([]*domain.SearchResult, len(batch))

	var g errgroup.Group
	g.SetLimit(s.cfg.BatchSize)
	for i, doc := range batch {
		g.Go(func() error {
			if token.IsCancelled() || budget.Exhausted() {
				return nil
			}
			r := s.ScanDocument(token, doc, p, budget)
			if r.Failed() || r.TotalMatches > 0 {
				results[i] = &r
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ScanDocument reads and scans a single document. Failures are reported in
// the result rather than returned.
func (s *BatchScanner) ScanDocument(token *Token, doc domain.Document, p *CompiledPattern, budget *Budget) domain.SearchResult {
	start := time.Now()
	result := domain.SearchResult{DocumentID: doc.ID, Matches: []domain.Match{}}

	fail := func(err error) domain.SearchResult {
		result.Matches = []domain.Match{}
		result.TotalMatches = 0
		result.Error = err.Error()
		result.Elapsed = time.Since(start)
		return result
	}

	maxSize := s.maxFileSize()
	if doc.SizeKnown() && doc.Size > maxSize {
		return fail(fmt.Errorf("%w: %d bytes exceeds %d", ErrDocumentTooLarge, doc.Size, maxSize))
	}

	content, err := s.store.ReadContent(token.Context(), doc)
	if err != nil {
		if token.IsCancelled() {
			result.Elapsed = time.Since(start)
			return result
		}
		s.logger.Warn("Failed to read document", "document", doc.ID, "error", err)
		return fail(fmt.Errorf("read failed: %w", err))
	}
	if int64(len(content)) > maxSize {
		return fail(fmt.Errorf("%w: %d bytes exceeds %d", ErrDocumentTooLarge, len(content), maxSize))
	}

	matches, _ := Scan(doc.ID, content, p, ScanOptions{
		MaxMatches:   s.maxPerFile(),
		ContextLines: s.cfg.ContextLines,
		Budget:       budget,
	}, token)
	if matches == nil {
		matches = []domain.Match{}
	}

	result.Matches = matches
	result.TotalMatches = len(matches)
	result.Elapsed = time.Since(start)
	return result
}

func (s *BatchScanner) maxPerFile() int {
	if s.cfg.MaxResultsPerFile <= 0 {
		return DefaultMaxResultsPerFile
	}
	return s.cfg.MaxResultsPerFile
}

func (s *BatchScanner) maxTotal() int {
	if s.cfg.MaxTotalResults <= 0 {
		return DefaultMaxTotalResults
	}
	return s.cfg.MaxTotalResults
}

func (s *BatchScanner) maxFileSize() int64 {
	if s.cfg.MaxFileSize <= 0 {
		return DefaultMaxFileSize
	}
	return s.cfg.MaxFileSize
}

// SortBySize returns docs ordered by ascending size. Documents of unknown
// size keep their relative order after all sized documents.
func SortBySize(docs []domain.Document) []domain.Document {
	out := slices.Clone(docs)
	slices.SortStableFunc(out, func(a, b domain.Document) int {
		switch {
		case a.SizeKnown() && b.SizeKnown():
			return cmp.Compare(a.Size, b.Size)
		case a.SizeKnown():
			return -1
		case b.SizeKnown():
			return 1
		default:
			return 0
		}
	})
	return out
}
