package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sha1n/vaultgrep/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func newTestFSStore(t *testing.T, files map[string]string) (*FSStore, string) {
	t.Helper()
	root := t.TempDir()
	writeFiles(t, root, files)
	s, err := NewFSStore(root, nil)
	require.NoError(t, err)
	return s, root
}

func TestFSStore_ListDocuments(t *testing.T) {
	s, _ := newTestFSStore(t, map[string]string{
		"a.md":             "alpha",
		"notes/daily/b.md": "beta!",
		".git/HEAD":        "ref: refs/heads/main",
		".git/refs/x":      "x",
	})

	docs, err := s.ListDocuments(context.Background())
	require.NoError(t, err)

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	assert.Equal(t, []string{"a.md", "notes/daily/b.md"}, ids)
	assert.Equal(t, "b.md", docs[1].Name)
	assert.Equal(t, "md", docs[1].Extension)
	assert.EqualValues(t, 5, docs[1].Size)
	assert.False(t, docs[1].ModTime.IsZero())
}

func TestFSStore_ReadWriteStat(t *testing.T) {
	ctx := context.Background()
	s, root := newTestFSStore(t, map[string]string{"notes/a.md": "foo bar"})
	doc := domain.Document{ID: "notes/a.md"}

	content, err := s.ReadContent(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, "foo bar", content)

	require.NoError(t, s.WriteContent(ctx, doc, "qux bar!"))
	data, err := os.ReadFile(filepath.Join(root, "notes", "a.md"))
	require.NoError(t, err)
	assert.Equal(t, "qux bar!", string(data))

	size, err := s.StatSize(ctx, doc)
	require.NoError(t, err)
	assert.EqualValues(t, 8, size)
}

func TestFSStore_Errors(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestFSStore(t, map[string]string{"bin.md": "a\x00b", "dir/x.md": "x"})

	_, err := s.ReadContent(ctx, domain.Document{ID: "bin.md"})
	assert.ErrorIs(t, err, ErrBinaryDocument)

	_, err = s.ReadContent(ctx, domain.Document{ID: "../outside.md"})
	assert.ErrorIs(t, err, ErrInvalidDocumentID)

	err = s.WriteContent(ctx, domain.Document{ID: "/abs.md"}, "x")
	assert.ErrorIs(t, err, ErrInvalidDocumentID)

	_, err = s.StatSize(ctx, domain.Document{ID: "missing.md"})
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestFSStore_Roots(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSStore(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.ToSlash(dir), s.Root())
	assert.Equal(t, dir, s.LocalRoot())

	_, err = NewFSStore("", nil)
	assert.Error(t, err)
}
