package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/sha1n/vaultgrep/internal/domain"
)

// DefaultTimeout bounds a single search or replace operation.
const DefaultTimeout = 30 * time.Second

var (
	// ErrBusy is returned when the state machine refuses to start an operation.
	ErrBusy = errors.New("another operation is in progress")

	// ErrLibraryDisabled is returned by library operations when the library is turned off.
	ErrLibraryDisabled = errors.New("pattern library is disabled")
)

// Config is the read-only configuration snapshot applied to each operation.
type Config struct {
	CaseSensitive     bool
	Multiline         bool
	MaxResultsPerFile int
	MaxTotalResults   int
	Extensions        []string
	IncludeHidden     bool
	ExcludePatterns   []string
	MaxFileSize       int64
	Timeout           time.Duration
	SearchBatchSize   int
	ReplaceBatchSize  int
	ContextLines      int
	ConfirmReplace    bool
	HistoryEnabled    bool
	LibraryEnabled    bool
	DefaultPattern    string
	ResetDelay        time.Duration
	Policy            PatternPolicy
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		MaxResultsPerFile: DefaultMaxResultsPerFile,
		MaxTotalResults:   DefaultMaxTotalResults,
		Extensions:        DefaultExtensions,
		ExcludePatterns:   DefaultExcludePatterns,
		MaxFileSize:       DefaultMaxFileSize,
		Timeout:           DefaultTimeout,
		SearchBatchSize:   DefaultSearchBatchSize,
		ReplaceBatchSize:  DefaultReplaceBatchSize,
		ContextLines:      DefaultContextLines,
		ConfirmReplace:    true,
		HistoryEnabled:    true,
		LibraryEnabled:    true,
		ResetDelay:        DefaultResetDelay,
		Policy:            DefaultPolicy(),
	}
}

// Flags builds the default flag string: "i" unless case sensitive, "m" when
// multiline, and always "g".
func (c Config) Flags() string {
	flags := ""
	if !c.CaseSensitive {
		flags += "i"
	}
	if c.Multiline {
		flags += "m"
	}
	return flags + "g"
}

func (c Config) filterConfig() FilterConfig {
	return FilterConfig{
		Extensions:      c.Extensions,
		IncludeHidden:   c.IncludeHidden,
		MaxFileSize:     c.MaxFileSize,
		ExcludePatterns: c.ExcludePatterns,
	}
}

func (c Config) scanConfig() ScanConfig {
	return ScanConfig{
		BatchSize:         c.SearchBatchSize,
		MaxResultsPerFile: c.MaxResultsPerFile,
		MaxTotalResults:   c.MaxTotalResults,
		MaxFileSize:       c.MaxFileSize,
		ContextLines:      c.ContextLines,
	}
}

// Snapshot is the long-lived state handed to and from the persistence layer.
type Snapshot struct {
	History []string                    `json:"history"`
	Library []domain.PatternLibraryItem `json:"library"`
}

// SearchRequest describes a vault-wide search. Empty Flags use Config.Flags.
type SearchRequest struct {
	Pattern     string
	Flags       string
	OnProgress  ProgressFunc
	OnResult    ResultFunc
	SkipHistory bool
}

// ReplaceRequest describes a vault-wide replace. Empty Flags use Config.Flags.
type ReplaceRequest struct {
	Pattern     string
	Replacement string
	Flags       string
	OnProgress  ProgressFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

type operation struct {
	token *Token
	done  chan struct{}
}

// Engine runs at most one search or replace at a time over a document store.
// Starting an operation cancels the one in flight.
type Engine struct {
	store   DocumentStore
	logger  *slog.Logger
	state   *StateMachine
	history *SearchHistory
	library *PatternLibrary

	cfgMu sync.RWMutex
	cfg   Config

	opMu    sync.Mutex
	current *operation
}

// New creates an engine over store, seeded from snap.
func New(store DocumentStore, cfg Config, snap Snapshot, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.state = NewStateMachine(cfg.ResetDelay, e.logger)
	e.history = NewSearchHistory(DefaultHistoryCapacity, snap.History)
	e.library = NewPatternLibrary(cfg.Policy, snap.Library)
	return e
}

// Config returns the current configuration.
func (e *Engine) Config() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// SetConfig replaces the configuration used by subsequent operations.
func (e *Engine) SetConfig(cfg Config) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	e.cfg = cfg
}

// State returns the operation state.
func (e *Engine) State() OperationState {
	return e.state.State()
}

// StateMachine exposes the state machine for observers.
func (e *Engine) StateMachine() *StateMachine {
	return e.state
}

// History returns the search history store.
func (e *Engine) History() *SearchHistory {
	return e.history
}

// Library returns the pattern library store.
func (e *Engine) Library() *PatternLibrary {
	return e.library
}

// DefaultFlags returns the flags applied when a request omits them.
func (e *Engine) DefaultFlags() string {
	return e.Config().Flags()
}

// RequiresConfirmation reports whether a vault-wide replace must be confirmed by the caller.
func (e *Engine) RequiresConfirmation() bool {
	return e.Config().ConfirmReplace
}

// Snapshot returns the current history and library for persistence.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		History: e.history.List(),
		Library: e.library.Items(),
	}
}

// UseLibraryItem returns a library item and records its use.
func (e *Engine) UseLibraryItem(id string) (domain.PatternLibraryItem, error) {
	if !e.Config().LibraryEnabled {
		return domain.PatternLibraryItem{}, ErrLibraryDisabled
	}
	return e.library.IncrementUsage(id)
}

// Validate checks a pattern against the configured policy without running it.
func (e *Engine) Validate(pattern, flags string) (*CompiledPattern, error) {
	cfg := e.Config()
	if flags == "" {
		flags = cfg.Flags()
	}
	return cfg.Policy.Validate(pattern, flags)
}

// Search runs a pattern over every eligible document. Validation failures are
// returned before the state changes. On cancellation or timeout the partial
// report is returned with ErrCancelled or ErrTimeout.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*SearchReport, error) {
	cfg := e.Config()
	p, err := e.Validate(req.Pattern, req.Flags)
	if err != nil {
		return nil, err
	}

	op, err := e.begin(ctx, StateSearching, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	docs, err := e.eligibleDocuments(op.token, cfg)
	if err != nil {
		e.finish(op, err)
		return nil, err
	}

	e.logger.Debug("Search started", "pattern", p.Source, "flags", p.Flags.String(), "documents", len(docs))
	report, err := NewBatchScanner(e.store, cfg.scanConfig(), e.logger).Run(op.token, docs, p, req.OnProgress, req.OnResult)
	e.finish(op, err)
	if err != nil {
		return report, err
	}

	if cfg.HistoryEnabled && !req.SkipHistory {
		e.history.Add(p.Source)
	}
	e.logger.Info("Search complete",
		"pattern", p.Source,
		"documents", report.DocumentsScanned,
		"matches", report.TotalMatches,
		"elapsed", report.Elapsed)
	return report, nil
}

// SearchDocument scans a single document by id, bypassing the document filter.
func (e *Engine) SearchDocument(ctx context.Context, docID, pattern, flags string) (*domain.SearchResult, error) {
	cfg := e.Config()
	p, err := e.Validate(pattern, flags)
	if err != nil {
		return nil, err
	}

	op, err := e.begin(ctx, StateSearching, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	scanner := NewBatchScanner(e.store, cfg.scanConfig(), e.logger)
	var result domain.SearchResult
	doc, err := e.lookup(op.token, docID)
	if err != nil {
		result = domain.SearchResult{DocumentID: docID, Matches: []domain.Match{}, Error: err.Error()}
	} else {
		result = scanner.ScanDocument(op.token, doc, p, NewBudget(scanner.maxTotal()))
	}

	err = op.token.Err()
	e.finish(op, err)
	if err != nil {
		return &result, err
	}
	if cfg.HistoryEnabled {
		e.history.Add(p.Source)
	}
	return &result, nil
}

// Replace applies a replacement to every eligible document, one document at a time.
func (e *Engine) Replace(ctx context.Context, req ReplaceRequest) (*domain.VaultReplaceResult, error) {
	cfg := e.Config()
	p, err := e.Validate(req.Pattern, req.Flags)
	if err != nil {
		return nil, err
	}

	op, err := e.begin(ctx, StateReplacing, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	docs, err := e.eligibleDocuments(op.token, cfg)
	if err != nil {
		e.finish(op, err)
		return nil, err
	}

	committer := NewReplaceCommitter(e.store, cfg.ReplaceBatchSize, cfg.MaxFileSize, e.logger)
	result, err := committer.ReplaceAll(op.token, docs, p, req.Replacement, req.OnProgress)
	e.finish(op, err)
	if err != nil {
		return result, err
	}

	e.logger.Info("Replace complete",
		"pattern", p.Source,
		"replacements", result.TotalReplacements,
		"files_modified", result.FilesModified,
		"errors", len(result.Errors))
	return result, nil
}

// ReplaceDocument applies a replacement to a single document by id.
func (e *Engine) ReplaceDocument(ctx context.Context, docID, pattern, replacement, flags string) (*domain.ReplaceResult, error) {
	cfg := e.Config()
	p, err := e.Validate(pattern, flags)
	if err != nil {
		return nil, err
	}

	op, err := e.begin(ctx, StateReplacing, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	var result domain.ReplaceResult
	doc, err := e.lookup(op.token, docID)
	if err != nil {
		result = domain.ReplaceResult{DocumentID: docID, Error: err.Error()}
	} else {
		committer := NewReplaceCommitter(e.store, cfg.ReplaceBatchSize, cfg.MaxFileSize, e.logger)
		result = committer.ReplaceOne(op.token, doc, p, replacement)
	}

	err = op.token.Err()
	e.finish(op, err)
	return &result, err
}

// Cancel cancels the operation in flight. It reports whether there was one.
func (e *Engine) Cancel() bool {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if e.current == nil {
		return false
	}
	e.current.token.Cancel()
	return true
}

// Close cancels any operation in flight, waits for it and stops background timers.
func (e *Engine) Close() {
	e.opMu.Lock()
	op := e.current
	e.opMu.Unlock()
	if op != nil {
		op.token.Cancel()
		<-op.done
	}
	e.state.Stop()
}

// begin cancels and waits for any operation in flight, then moves the state
// machine to target and arms a new token.
func (e *Engine) begin(ctx context.Context, target OperationState, timeout time.Duration) (*operation, error) {
	e.opMu.Lock()
	for e.current != nil {
		prev := e.current
		prev.token.Cancel()
		e.opMu.Unlock()
		<-prev.done
		e.opMu.Lock()
	}
	defer e.opMu.Unlock()

	if st := e.state.State(); st == StateCancelled || st == StateError {
		_ = e.state.Reset()
	}
	if err := e.state.Transition(target); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusy, err)
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	op := &operation{token: NewToken(ctx), done: make(chan struct{})}
	op.token.Start(timeout)
	e.current = op
	return op, nil
}

// finish records the outcome in the state machine and releases the operation.
func (e *Engine) finish(op *operation, err error) {
	op.token.Finish()

	var to OperationState
	switch {
	case err == nil:
		to = StateIdle
	case errors.Is(err, ErrCancelled):
		to = StateCancelled
	default:
		to = StateError
	}
	if terr := e.state.Transition(to); terr != nil {
		e.logger.Error("Failed to record operation outcome", "error", terr)
	}

	e.opMu.Lock()
	if e.current == op {
		e.current = nil
	}
	e.opMu.Unlock()
	close(op.done)
}

func (e *Engine) eligibleDocuments(token *Token, cfg Config) ([]domain.Document, error) {
	docs, err := e.store.ListDocuments(token.Context())
	if err != nil {
		if terr := token.Err(); terr != nil {
			return nil, terr
		}
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return NewDocumentFilter(cfg.filterConfig()).Apply(docs), nil
}

func (e *Engine) lookup(token *Token, docID string) (domain.Document, error) {
	size, err := e.store.StatSize(token.Context(), domain.Document{ID: docID})
	if err != nil {
		return domain.Document{}, fmt.Errorf("document not found: %w", err)
	}
	return domain.Document{
		ID:        docID,
		Name:      path.Base(docID),
		Extension: ExtensionOf(docID),
		Size:      size,
	}, nil
}
