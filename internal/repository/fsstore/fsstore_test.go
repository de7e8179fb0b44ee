package fsstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corterra/askd/internal/repository"
)

func TestStore_PutGetDelete(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	tenant, doc := uuid.New(), uuid.New()

	require.NoError(t, s.Put(ctx, tenant, doc, "manual.pdf", []byte("raw bytes")))

	got, err := s.Get(ctx, tenant, doc, "manual.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("raw bytes"), got)

	// Overwrite replaces the content.
	require.NoError(t, s.Put(ctx, tenant, doc, "manual.pdf", []byte("v2")))
	got, err = s.Get(ctx, tenant, doc, "manual.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	require.NoError(t, s.Delete(ctx, tenant, doc, "manual.pdf"))
	_, err = s.Get(ctx, tenant, doc, "manual.pdf")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	// Deleting an absent object is idempotent.
	require.NoError(t, s.Delete(ctx, tenant, doc, "manual.pdf"))
}

func TestStore_ObjectsAreTenantScoped(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)
	ctx := context.Background()
	t1, t2, doc := uuid.New(), uuid.New(), uuid.New()

	require.NoError(t, s.Put(ctx, t1, doc, "a.txt", []byte("tenant one")))

	_, err = s.Get(ctx, t2, doc, "a.txt")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	// The layout keeps tenants in separate directory trees.
	_, err = os.Stat(filepath.Join(root, t1.String(), doc.String(), "a.txt"))
	assert.NoError(t, err)
}

func TestStore_RejectsPathTraversal(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	tenant, doc := uuid.New(), uuid.New()

	for _, name := range []string{"", "../escape.txt", "dir/inner.txt", "a..b/../c"} {
		assert.Error(t, s.Put(ctx, tenant, doc, name, []byte("x")), "filename %q", name)
	}

	// No stray tmp files are left behind on success.
	require.NoError(t, s.Put(ctx, tenant, doc, "ok.txt", []byte("x")))
	entries, err := os.ReadDir(filepath.Join(s.root, tenant.String(), doc.String()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ok.txt", entries[0].Name())
}
