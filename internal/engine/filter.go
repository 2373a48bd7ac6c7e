package engine

import (
	"path"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sha1n/vaultgrep/internal/domain"
)

// DefaultExtensions are the document types searched when none are configured.
var DefaultExtensions = []string{"md", "txt", "json", "js", "ts", "css", "html"}

// DefaultExcludePatterns skip version control metadata, dependency trees and trash folders.
var DefaultExcludePatterns = []string{
	".git/**",
	"node_modules/**",
	".trash/**",
}

// FilterConfig selects eligible documents.
type FilterConfig struct {
	Extensions      []string
	IncludeHidden   bool
	MaxFileSize     int64
	ExcludePatterns []string
}

// DocumentFilter determines which documents an operation may touch.
type DocumentFilter struct {
	extensions    map[string]struct{}
	includeHidden bool
	maxFileSize   int64
	excludes      []excludeMatcher
}

type excludeMatcher func(docPath string) bool

// NewDocumentFilter compiles a filter. An empty extension list admits every extension.
func NewDocumentFilter(cfg FilterConfig) *DocumentFilter {
	f := &DocumentFilter{
		includeHidden: cfg.IncludeHidden,
		maxFileSize:   cfg.MaxFileSize,
	}
	if len(cfg.Extensions) > 0 {
		f.extensions = make(map[string]struct{}, len(cfg.Extensions))
		for _, ext := range cfg.Extensions {
			f.extensions[normalizeExtension(ext)] = struct{}{}
		}
	}
	for _, p := range cfg.ExcludePatterns {
		if p = strings.TrimSpace(p); p != "" {
			f.excludes = append(f.excludes, compileExclude(p))
		}
	}
	return f
}

// Filter returns the documents eligible under cfg. It is pure.
func Filter(docs []domain.Document, cfg FilterConfig) []domain.Document {
	return NewDocumentFilter(cfg).Apply(docs)
}

// Apply returns the eligible documents in their original order.
func (f *DocumentFilter) Apply(docs []domain.Document) []domain.Document {
	out := make([]domain.Document, 0, len(docs))
	for _, d := range docs {
		if f.Eligible(d) {
			out = append(out, d)
		}
	}
	return out
}

// Eligible reports whether a single document passes every rule.
func (f *DocumentFilter) Eligible(d domain.Document) bool {
	if f.extensions != nil {
		if _, ok := f.extensions[normalizeExtension(d.Extension)]; !ok {
			return false
		}
	}

	name := d.Name
	if name == "" {
		name = path.Base(d.ID)
	}
	if !f.includeHidden && strings.HasPrefix(name, ".") {
		return false
	}

	if f.maxFileSize > 0 && d.SizeKnown() && d.Size > f.maxFileSize {
		return false
	}

	return !f.ShouldExclude(d.ID)
}

// ShouldExclude returns true if the path matches any exclusion pattern.
func (f *DocumentFilter) ShouldExclude(docPath string) bool {
	for _, m := range f.excludes {
		if m(docPath) {
			return true
		}
	}
	return false
}

// compileExclude builds a matcher for one exclusion pattern. The pattern is
// tried as a regular expression first; if it does not compile it is treated
// as a glob, and failing that as a plain substring.
func compileExclude(pattern string) excludeMatcher {
	if re, err := regexp.Compile(pattern); err == nil {
		return re.MatchString
	}

	if strings.ContainsAny(pattern, "*?[{") && doublestar.ValidatePattern(pattern) {
		return func(docPath string) bool {
			if ok, _ := doublestar.Match(pattern, docPath); ok {
				return true
			}
			// Directory globs also match nested occurrences, e.g. "a/node_modules/x".
			if strings.HasSuffix(pattern, "/**") {
				if ok, _ := doublestar.Match("**/"+pattern, docPath); ok {
					return true
				}
			}
			ok, _ := doublestar.Match(pattern, path.Base(docPath))
			return ok
		}
	}

	return func(docPath string) bool {
		return strings.Contains(docPath, pattern)
	}
}

// normalizeExtension lowercases an extension and strips a leading dot.
func normalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// ExtensionOf returns the file extension of a path without the leading dot.
func ExtensionOf(p string) string {
	return strings.TrimPrefix(path.Ext(p), ".")
}
