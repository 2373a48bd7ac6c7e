package domain

import "time"

// Document is a unit of text content addressable by a slash-separated path.
// Documents are owned by a store; the engine only holds them for the duration of an operation.
type Document struct {
	// ID is the path relative to the store root.
	// Example: "notes/daily/2024-01-02.md"
	ID string `json:"id"`

	// Name is the base file name.
	Name string `json:"name"`

	// Extension is the file extension without the leading dot.
	Extension string `json:"extension"`

	// Size is the content size in bytes, or UnknownSize.
	Size int64 `json:"size"`

	// ModTime is the last modification time reported by the store. The zero
	// value means the store did not report one.
	ModTime time.Time `json:"mod_time"`
}

// UnknownSize marks a document whose size has not been determined.
const UnknownSize int64 = -1

// SizeKnown reports whether the document size is available without reading it.
func (d Document) SizeKnown() bool {
	return d.Size >= 0
}

// Match is one located occurrence of a pattern within a document.
type Match struct {
	ID         string   `json:"id"`
	DocumentID string   `json:"document_id"`
	Line       int      `json:"line"`   // 1-based
	Column     int      `json:"column"` // 1-based, counted in runes
	Text       string   `json:"text"`
	LineText   string   `json:"line_text"`
	Context    []string `json:"context"`
}

// SearchResult holds the matches found in a single document.
// A result with Error set never carries matches.
type SearchResult struct {
	DocumentID   string        `json:"document_id"`
	Matches      []Match       `json:"matches"`
	TotalMatches int           `json:"total_matches"`
	Elapsed      time.Duration `json:"elapsed"`
	Error        string        `json:"error,omitempty"`
}

// Failed reports whether the document could not be scanned.
func (r SearchResult) Failed() bool {
	return r.Error != ""
}

// ReplaceResult describes a replacement applied to a single document.
type ReplaceResult struct {
	DocumentID      string `json:"document_id"`
	ReplacedCount   int    `json:"replaced_count"`
	OriginalContent string `json:"-"`
	NewContent      string `json:"-"`
	Modified        bool   `json:"modified"`
	Error           string `json:"error,omitempty"`
}

// VaultReplaceResult aggregates replacements across many documents.
type VaultReplaceResult struct {
	TotalReplacements int             `json:"total_replacements"`
	FilesModified     int             `json:"files_modified"`
	Results           []ReplaceResult `json:"results"`
	Errors            []string        `json:"errors,omitempty"`
	Elapsed           time.Duration   `json:"elapsed"`
}

// Progress reports how far an operation has advanced.
type Progress struct {
	Current     int    `json:"current"`
	Total       int    `json:"total"`
	CurrentName string `json:"current_name"`
	Completed   bool   `json:"completed"`
}

// PatternLibraryItem is a reusable named pattern.
type PatternLibraryItem struct {
	ID          string    `json:"id" yaml:"id" toml:"id"`
	Name        string    `json:"name" yaml:"name" toml:"name"`
	Pattern     string    `json:"pattern" yaml:"pattern" toml:"pattern"`
	Flags       string    `json:"flags" yaml:"flags" toml:"flags"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Category    string    `json:"category" yaml:"category" toml:"category"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at" toml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at" toml:"updated_at"`
	UsageCount  int       `json:"usage_count" yaml:"usage_count" toml:"usage_count"`
}

// Bleve field name constants for the document content cache.
const (
	DocFieldID        = "id"
	DocFieldName      = "name"
	DocFieldExtension = "extension"
	DocFieldContent   = "content"
)
