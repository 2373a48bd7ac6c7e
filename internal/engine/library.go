package engine

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hbollon/go-edlib"
	"github.com/pelletier/go-toml/v2"
	"github.com/sha1n/vaultgrep/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultCategory is assigned to items saved without a category.
	DefaultCategory = "General"

	// libraryVersion is the schema version written by Export.
	libraryVersion = 1

	// minFindSimilarity is the lowest name similarity Find reports.
	minFindSimilarity = 0.4
)

var (
	ErrDuplicateID     = errors.New("pattern library item already exists")
	ErrItemNotFound    = errors.New("pattern library item not found")
	ErrInvalidItem     = errors.New("invalid pattern library item")
	ErrMalformedImport = errors.New("malformed pattern library payload")
	ErrUnknownFormat   = errors.New("unknown library format")
)

// Format is a serialization format for library export and import.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// ParseFormat resolves a format name; the empty string means JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, s)
	}
}

// libraryFile is the serialized form of the library.
type libraryFile struct {
	Version int                         `json:"version" yaml:"version" toml:"version"`
	Items   []domain.PatternLibraryItem `json:"items" yaml:"items" toml:"items"`
}

// ImportReport summarizes a successful import.
type ImportReport struct {
	Added   []string `json:"added"`
	Skipped []string `json:"skipped"`
}

// PatternLibrary stores reusable named patterns. Failed mutations leave it unchanged.
type PatternLibrary struct {
	mu     sync.RWMutex
	items  map[string]domain.PatternLibraryItem
	order  []string
	policy PatternPolicy
	now    func() time.Time
}

// NewPatternLibrary creates a library seeded with initial items. Seed items
// with an empty or repeated id are skipped.
func NewPatternLibrary(policy PatternPolicy, initial []domain.PatternLibraryItem) *PatternLibrary {
	l := &PatternLibrary{
		items:  make(map[string]domain.PatternLibraryItem, len(initial)),
		policy: policy,
		now:    time.Now,
	}
	for _, it := range initial {
		if it.ID == "" {
			continue
		}
		if _, ok := l.items[it.ID]; ok {
			continue
		}
		l.items[it.ID] = it
		l.order = append(l.order, it.ID)
	}
	return l
}

func (l *PatternLibrary) validate(it domain.PatternLibraryItem) error {
	if strings.TrimSpace(it.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidItem)
	}
	if _, err := l.policy.Validate(it.Pattern, it.Flags); err != nil {
		return err
	}
	return nil
}

// Add validates and stores a new item. An empty id is replaced with a fresh UUID.
func (l *PatternLibrary) Add(it domain.PatternLibraryItem) (domain.PatternLibraryItem, error) {
	if err := l.validate(it); err != nil {
		return domain.PatternLibraryItem{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if _, ok := l.items[it.ID]; ok {
		return domain.PatternLibraryItem{}, fmt.Errorf("%w: %s", ErrDuplicateID, it.ID)
	}
	if it.Category == "" {
		it.Category = DefaultCategory
	}
	now := l.now()
	it.CreatedAt = now
	it.UpdatedAt = now
	it.UsageCount = 0

	l.items[it.ID] = it
	l.order = append(l.order, it.ID)
	return it, nil
}

// Update replaces the editable fields of an existing item. The id, creation
// time and usage count are preserved.
func (l *PatternLibrary) Update(id string, changes domain.PatternLibraryItem) (domain.PatternLibraryItem, error) {
	if err := l.validate(changes); err != nil {
		return domain.PatternLibraryItem{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	existing, ok := l.items[id]
	if !ok {
		return domain.PatternLibraryItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	existing.Name = changes.Name
	existing.Pattern = changes.Pattern
	existing.Flags = changes.Flags
	existing.Description = changes.Description
	existing.Category = cmp.Or(changes.Category, existing.Category, DefaultCategory)
	existing.UpdatedAt = l.now()

	l.items[id] = existing
	return existing, nil
}

// Remove deletes an item.
func (l *PatternLibrary) Remove(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.items[id]; !ok {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	delete(l.items, id)
	if i := slices.Index(l.order, id); i >= 0 {
		l.order = slices.Delete(l.order, i, i+1)
	}
	return nil
}

// Get returns an item by id.
func (l *PatternLibrary) Get(id string) (domain.PatternLibraryItem, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	it, ok := l.items[id]
	return it, ok
}

// IncrementUsage records one application of the item's pattern.
func (l *PatternLibrary) IncrementUsage(id string) (domain.PatternLibraryItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	it, ok := l.items[id]
	if !ok {
		return domain.PatternLibraryItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	it.UsageCount++
	l.items[id] = it
	return it, nil
}

// Items returns every item in insertion order.
func (l *PatternLibrary) Items() []domain.PatternLibraryItem {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.PatternLibraryItem, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.items[id])
	}
	return out
}

// Len returns the number of items.
func (l *PatternLibrary) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// ListByCategory groups items by category, most used first within each group.
func (l *PatternLibrary) ListByCategory() map[string][]domain.PatternLibraryItem {
	groups := make(map[string][]domain.PatternLibraryItem)
	for _, it := range l.Items() {
		groups[it.Category] = append(groups[it.Category], it)
	}
	for _, items := range groups {
		slices.SortStableFunc(items, func(a, b domain.PatternLibraryItem) int {
			return cmp.Or(
				cmp.Compare(b.UsageCount, a.UsageCount),
				strings.Compare(a.Name, b.Name),
			)
		})
	}
	return groups
}

// Categories returns the category names in lexical order.
func (l *PatternLibrary) Categories() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, it := range l.items {
		if _, ok := seen[it.Category]; ok {
			continue
		}
		seen[it.Category] = struct{}{}
		out = append(out, it.Category)
	}
	slices.Sort(out)
	return out
}

// Find returns up to limit items whose name resembles query, best first.
func (l *PatternLibrary) Find(query string, limit int) []domain.PatternLibraryItem {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	type scored struct {
		item  domain.PatternLibraryItem
		score float32
	}
	var hits []scored
	for _, it := range l.Items() {
		name := strings.ToLower(it.Name)
		score, err := edlib.StringsSimilarity(query, name, edlib.Levenshtein)
		if err != nil {
			continue
		}
		if strings.Contains(name, query) || strings.Contains(strings.ToLower(it.Description), query) {
			score = max(score, 1)
		}
		if score >= minFindSimilarity {
			hits = append(hits, scored{item: it, score: score})
		}
	}
	slices.SortStableFunc(hits, func(a, b scored) int {
		return cmp.Or(
			cmp.Compare(b.score, a.score),
			cmp.Compare(b.item.UsageCount, a.item.UsageCount),
		)
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]domain.PatternLibraryItem, len(hits))
	for i, h := range hits {
		out[i] = h.item
	}
	return out
}

// Export serializes every item.
func (l *PatternLibrary) Export(format Format) ([]byte, error) {
	doc := libraryFile{Version: libraryVersion, Items: l.Items()}
	switch format {
	case FormatJSON, "":
		return json.MarshalIndent(doc, "", "  ")
	case FormatYAML:
		return yaml.Marshal(doc)
	case FormatTOML:
		return toml.Marshal(doc)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

// Import merges items from data. Every item is validated first and any
// failure rejects the whole payload. Items whose id already exists, in the
// library or earlier in the payload, are skipped rather than overwritten.
func (l *PatternLibrary) Import(data []byte, format Format) (*ImportReport, error) {
	items, err := decodeLibrary(data, format)
	if err != nil {
		return nil, err
	}

	for i := range items {
		if err := l.validate(items[i]); err != nil {
			return nil, fmt.Errorf("item %d (%s): %w", i, items[i].Name, err)
		}
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	report := &ImportReport{Added: []string{}, Skipped: []string{}}
	now := l.now()
	for _, it := range items {
		if _, ok := l.items[it.ID]; ok {
			report.Skipped = append(report.Skipped, it.ID)
			continue
		}
		if it.Category == "" {
			it.Category = DefaultCategory
		}
		if it.CreatedAt.IsZero() {
			it.CreatedAt = now
		}
		if it.UpdatedAt.IsZero() {
			it.UpdatedAt = it.CreatedAt
		}
		l.items[it.ID] = it
		l.order = append(l.order, it.ID)
		report.Added = append(report.Added, it.ID)
	}
	return report, nil
}

func decodeLibrary(data []byte, format Format) ([]domain.PatternLibraryItem, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedImport)
	}

	var doc libraryFile
	var err error
	switch format {
	case FormatJSON, "":
		trimmed := bytes.TrimSpace(data)
		if trimmed[0] == '[' {
			err = json.Unmarshal(trimmed, &doc.Items)
		} else {
			err = json.Unmarshal(trimmed, &doc)
		}
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	case FormatTOML:
		err = toml.Unmarshal(data, &doc)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedImport, err)
	}
	return doc.Items, nil
}
