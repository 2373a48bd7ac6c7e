// Package store provides the document stores searched by the engine: an
// in-memory map, a file tree reached through afs, and a bleve-backed content
// cache layered over either.
package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDocumentNotFound is returned when a document id does not resolve.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrInvalidDocumentID is returned for ids that escape the store root.
	ErrInvalidDocumentID = errors.New("invalid document id")

	// ErrBinaryDocument is returned when a document's content is not text.
	ErrBinaryDocument = errors.New("binary document")

	// ErrNotLocal is returned when watching is requested for a remote vault.
	ErrNotLocal = errors.New("vault root is not a local directory")
)

// IsBinary checks if the content appears to be binary by looking for null bytes
// in the first 512 bytes.
func IsBinary(content []byte) bool {
	checkLen := min(len(content), 512)
	for i := range checkLen {
		if content[i] == 0 {
			return true
		}
	}
	return false
}

// ValidateID rejects empty, absolute and parent-relative document ids.
func ValidateID(id string) error {
	if id == "" || strings.HasPrefix(id, "/") || strings.Contains(id, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidDocumentID, id)
	}
	for seg := range strings.SplitSeq(id, "/") {
		if seg == ".." || seg == "." || seg == "" {
			return fmt.Errorf("%w: %q", ErrInvalidDocumentID, id)
		}
	}
	return nil
}
