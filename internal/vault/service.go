package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sha1n/vaultgrep/internal/config"
	"github.com/sha1n/vaultgrep/internal/engine"
	"github.com/sha1n/vaultgrep/internal/store"
)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithStore replaces the configured backend with docs.
func WithStore(docs engine.DocumentStore) Option {
	return func(s *Service) {
		s.store = docs
	}
}

// Service owns the document store, the engine and the persisted state.
type Service struct {
	settings  *config.Settings
	logger    *slog.Logger
	store     engine.DocumentStore
	index     *store.IndexStore
	localRoot string
	watcher   *store.Watcher
	engine    *engine.Engine
	lock      *StateLock

	saveMu sync.Mutex
	mu     sync.Mutex
	ready  bool
	closed bool
}

// NewService builds the store backend named by settings and an engine seeded
// from the state file.
func NewService(settings *config.Settings, opts ...Option) (*Service, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings cannot be nil")
	}

	s := &Service{settings: settings, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		if err := s.openStore(); err != nil {
			return nil, err
		}
	}

	snap := engine.Snapshot{}
	if path := settings.Vault.StateFile; path != "" {
		s.lock = NewStateLock(path)
		state, err := LoadStateFile(path)
		if err != nil {
			s.logger.Warn("Ignoring unreadable state file", "path", path, "error", err)
		} else {
			snap = state.Snapshot()
		}
	}

	s.engine = engine.New(s.store, EngineConfig(settings.Search), snap, engine.WithLogger(s.logger))
	return s, nil
}

func (s *Service) openStore() error {
	v := s.settings.Vault
	if v.Backend == config.BackendMemory {
		s.store = store.NewMemoryStore(nil)
		return nil
	}

	fsStore, err := store.NewFSStore(v.Root, s.logger)
	if err != nil {
		return err
	}
	s.localRoot = fsStore.LocalRoot()
	s.store = fsStore

	if v.Backend == config.BackendIndex {
		index, err := store.OpenIndexStore(fsStore, v.IndexDir, s.logger)
		if err != nil {
			return fmt.Errorf("failed to open content index: %w", err)
		}
		s.index = index
		s.store = index
	}
	return nil
}

// EngineConfig maps search settings onto the engine configuration.
func EngineConfig(s config.SearchSettings) engine.Config {
	return engine.Config{
		CaseSensitive:     s.CaseSensitive,
		Multiline:         s.Multiline,
		MaxResultsPerFile: s.MaxResultsPerFile,
		MaxTotalResults:   s.MaxTotalResults,
		Extensions:        s.FileExtensions,
		IncludeHidden:     s.IncludeHidden,
		ExcludePatterns:   s.ExcludePatterns,
		MaxFileSize:       s.MaxFileSize,
		Timeout:           s.Timeout,
		SearchBatchSize:   s.SearchBatchSize,
		ReplaceBatchSize:  s.ReplaceBatchSize,
		ContextLines:      s.ContextLines,
		ConfirmReplace:    s.ConfirmReplace,
		HistoryEnabled:    s.HistoryEnabled,
		LibraryEnabled:    s.LibraryEnabled,
		DefaultPattern:    s.DefaultPattern,
		ResetDelay:        s.ResetDelay,
		Policy: engine.PatternPolicy{
			MaxLength:     s.MaxPatternLength,
			MaxComplexity: s.MaxComplexity,
		},
	}
}

// Initialize warms the content index and starts the change watcher.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	if s.index != nil {
		n, err := s.index.Sync(ctx)
		if err != nil {
			return fmt.Errorf("failed to sync content index: %w", err)
		}
		s.logger.Info("Content index synced", "documents", n)
	}

	if s.settings.Vault.Watch {
		if s.localRoot == "" {
			s.logger.Warn("Watch ignored, vault root is not local", "root", s.settings.Vault.Root, "error", store.ErrNotLocal)
		} else {
			w, err := store.NewWatcher(s.localRoot, store.DefaultWatchDebounce, s.onChange, s.logger)
			if err != nil {
				return err
			}
			if err := w.Start(); err != nil {
				_ = w.Close()
				return err
			}
			s.watcher = w
		}
	}

	s.ready = true
	return nil
}

func (s *Service) onChange(ids []string) {
	s.logger.Debug("Vault documents changed", "count", len(ids))
	if s.index == nil {
		return
	}
	if err := s.index.Invalidate(ids...); err != nil {
		s.logger.Warn("Failed to invalidate cached documents", "error", err)
	}
}

// Engine returns the search and replace engine.
func (s *Service) Engine() *engine.Engine {
	return s.engine
}

// Store returns the active document store.
func (s *Service) Store() engine.DocumentStore {
	return s.store
}

// Settings returns the settings the service was built from.
func (s *Service) Settings() *config.Settings {
	return s.settings
}

// IsReady reports whether Initialize completed.
func (s *Service) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Save persists the history and library. It is a no-op without a state file.
func (s *Service) Save(ctx context.Context) error {
	path := s.settings.Vault.StateFile
	if path == "" {
		return nil
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	state := NewStateFile(s.engine.Snapshot())
	err := s.lock.WithLock(ctx, DefaultLockTimeout, func() error {
		return state.Save(path)
	})
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// Close stops the engine and the watcher, saves state and closes the index.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.engine.Close()

	var errs []error
	if s.watcher != nil {
		errs = append(errs, s.watcher.Close())
	}
	errs = append(errs, s.Save(context.Background()))
	if s.index != nil {
		errs = append(errs, s.index.Close())
	}
	return errors.Join(errs...)
}
