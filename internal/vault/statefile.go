package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sha1n/vaultgrep/internal/domain"
	"github.com/sha1n/vaultgrep/internal/engine"
)

// StateVersion is the current state file schema version
const StateVersion = 1

// ErrUnsupportedState is returned for state files written by a newer version.
var ErrUnsupportedState = errors.New("unsupported state file version")

// StateFile is the persisted search history and pattern library.
type StateFile struct {
	Version int                         `json:"version"`
	SavedAt time.Time                   `json:"saved_at"`
	History []string                    `json:"history"`
	Library []domain.PatternLibraryItem `json:"library"`
}

// NewStateFile creates a state file from an engine snapshot.
func NewStateFile(snap engine.Snapshot) *StateFile {
	f := &StateFile{
		Version: StateVersion,
		History: snap.History,
		Library: snap.Library,
	}
	if f.History == nil {
		f.History = []string{}
	}
	if f.Library == nil {
		f.Library = []domain.PatternLibraryItem{}
	}
	return f
}

// LoadStateFile reads the state from disk. A missing file yields empty state.
func LoadStateFile(path string) (*StateFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewStateFile(engine.Snapshot{}), nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var f StateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if f.Version > StateVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedState, f.Version)
	}
	f.Version = StateVersion
	return &f, nil
}

// Snapshot converts the state to the engine's seed form.
func (f *StateFile) Snapshot() engine.Snapshot {
	return engine.Snapshot{History: f.History, Library: f.Library}
}

// Save writes the state to path via a temp file and rename, so readers
// never observe a partial write.
func (f *StateFile) Save(path string) error {
	f.SavedAt = time.Now().UTC()
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create state temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write state temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close state temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}
