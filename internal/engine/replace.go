package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sha1n/vaultgrep/internal/domain"
)

// DefaultReplaceBatchSize is the number of documents per progress report during replace.
const DefaultReplaceBatchSize = 5

// ReplaceCommitter rewrites documents one at a time. Batches only group
// progress reports; there is never more than one write in flight.
type ReplaceCommitter struct {
	store       DocumentStore
	batchSize   int
	maxFileSize int64
	logger      *slog.Logger
}

// NewReplaceCommitter creates a committer over store.
func NewReplaceCommitter(store DocumentStore, batchSize int, maxFileSize int64, logger *slog.Logger) *ReplaceCommitter {
	if batchSize <= 0 {
		batchSize = DefaultReplaceBatchSize
	}
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReplaceCommitter{
		store:       store,
		batchSize:   batchSize,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// ReplaceOne applies the replacement to a single document. A document with no
// matches is left untouched, and content is only written when it changed.
func (c *ReplaceCommitter) ReplaceOne(token *Token, doc domain.Document, p *CompiledPattern, replacement string) domain.ReplaceResult {
	result := domain.ReplaceResult{DocumentID: doc.ID}

	if doc.SizeKnown() && doc.Size > c.maxFileSize {
		result.Error = fmt.Sprintf("%s: %d bytes exceeds %d", ErrDocumentTooLarge, doc.Size, c.maxFileSize)
		return result
	}

	ctx := token.Context()
	original, err := c.read(ctx, doc)
	if err != nil {
		if token.IsCancelled() {
			return result
		}
		result.Error = fmt.Sprintf("read failed: %v", err)
		return result
	}
	if int64(len(original)) > c.maxFileSize {
		result.Error = fmt.Sprintf("%s: %d bytes exceeds %d", ErrDocumentTooLarge, len(original), c.maxFileSize)
		return result
	}
	result.OriginalContent = original
	result.NewContent = original

	count := CountMatches(original, p)
	if count == 0 {
		return result
	}

	updated := Substitute(original, p, replacement)
	result.NewContent = updated
	if updated != original {
		if err := c.store.WriteContent(ctx, doc, updated); err != nil {
			c.logger.Warn("Failed to write document", "document", doc.ID, "error", err)
			result.NewContent = original
			result.Error = fmt.Sprintf("write failed: %v", err)
			return result
		}
		result.Modified = true
	}
	result.ReplacedCount = count
	return result
}

func (c *ReplaceCommitter) read(ctx context.Context, doc domain.Document) (string, error) {
	if fr, ok := c.store.(FreshReader); ok {
		return fr.ReadFresh(ctx, doc)
	}
	return c.store.ReadContent(ctx, doc)
}

// ReplaceAll applies the replacement to docs in order. Per-document failures
// are collected and do not stop the run. On cancellation or timeout the
// documents already committed stay committed and the partial aggregate is
// returned along with the token error.
func (c *ReplaceCommitter) ReplaceAll(token *Token, docs []domain.Document, p *CompiledPattern, replacement string, onProgress ProgressFunc) (*domain.VaultReplaceResult, error) {
	start := time.Now()
	agg := &domain.VaultReplaceResult{Results: make([]domain.ReplaceResult, 0)}

	var runErr error
	processed := 0
batches:
	for batchStart := 0; batchStart < len(docs); batchStart += c.batchSize {
		batch := docs[batchStart:min(batchStart+c.batchSize, len(docs))]
		for _, doc := range batch {
			if err := token.Err(); err != nil {
				runErr = err
				break batches
			}

			r := c.ReplaceOne(token, doc, p, replacement)
			processed++
			switch {
			case r.Error != "":
				agg.Errors = append(agg.Errors, fmt.Sprintf("%s: %s", doc.ID, r.Error))
				agg.Results = append(agg.Results, r)
			case r.ReplacedCount > 0:
				agg.TotalReplacements += r.ReplacedCount
				if r.Modified {
					agg.FilesModified++
				}
				agg.Results = append(agg.Results, r)
			}
		}

		if onProgress != nil {
			onProgress(domain.Progress{
				Current:     processed,
				Total:       len(docs),
				CurrentName: batch[len(batch)-1].Name,
			})
		}
	}

	if runErr == nil {
		runErr = token.Err()
	}
	agg.Elapsed = time.Since(start)
	if runErr != nil {
		c.logger.Info("Replace stopped", "pattern", p.Source, "reason", runErr, "processed", processed)
		return agg, runErr
	}

	if onProgress != nil {
		onProgress(domain.Progress{Current: processed, Total: len(docs), Completed: true})
	}
	return agg, nil
}

// Substitute returns content with p replaced by replacement, evaluated the
// same way Scan evaluates p: per line unless p needs the whole text. Without
// the global flag only the first match of each evaluated span is replaced.
// Replacement templates use Go syntax ($1, ${name}); "$&" and "$<name>" are
// accepted as aliases.
func Substitute(content string, p *CompiledPattern, replacement string) string {
	template := normalizeTemplate(replacement)
	if p.WholeText {
		return substituteSpan(content, p, template)
	}
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = substituteSpan(line, p, template)
	}
	return strings.Join(lines, "\n")
}

func substituteSpan(span string, p *CompiledPattern, template string) string {
	if p.Flags.Global {
		return p.re.ReplaceAllString(span, template)
	}
	loc := p.re.FindStringSubmatchIndex(span)
	if loc == nil {
		return span
	}
	expanded := p.re.ExpandString(nil, template, span, loc)
	return span[:loc[0]] + string(expanded) + span[loc[1]:]
}

// normalizeTemplate rewrites "$&" to "${0}" and "$<name>" to "${name}".
func normalizeTemplate(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		if s[i] != '$' || i+1 >= len(s) {
			sb.WriteByte(s[i])
			continue
		}
		switch next := s[i+1]; {
		case next == '$':
			sb.WriteString("$$")
			i++
		case next == '&':
			sb.WriteString("${0}")
			i++
		case next == '<':
			end := strings.IndexByte(s[i+2:], '>')
			if end < 0 {
				sb.WriteByte('$')
				continue
			}
			sb.WriteString("${" + s[i+2:i+2+end] + "}")
			i += end + 2
		default:
			sb.WriteByte('$')
		}
	}
	return sb.String()
}
