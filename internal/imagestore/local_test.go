package imagestore_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardscan/internal/imagestore"
	"cardscan/internal/services"
)

func TestLocalPutOpenDelete(t *testing.T) {
	root := t.TempDir()
	store, err := imagestore.NewLocal(root, 0, 1<<20)
	require.NoError(t, err)

	ctx := context.Background()
	n, err := store.Put(ctx, "scan-1/img-1.jpg", strings.NewReader("jpeg-bytes"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, int64(len("jpeg-bytes")), n)

	rc, err := store.Open(ctx, "scan-1/img-1.jpg")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	entries, err := os.ReadDir(filepath.Join(root, "scan-1"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not linger after a successful put")

	require.NoError(t, store.Delete(ctx, "scan-1/img-1.jpg"))
	_, err = os.Stat(filepath.Join(root, "scan-1"))
	assert.True(t, os.IsNotExist(err), "empty scan directory should be removed")

	require.NoError(t, store.Delete(ctx, "scan-1/img-1.jpg"), "deleting twice is not an error")
}

func TestLocalOpenMissingIsNotFound(t *testing.T) {
	store, err := imagestore.NewLocal(t.TempDir(), 0, 0)
	require.NoError(t, err)

	_, err = store.Open(context.Background(), "nope/missing.png")
	require.ErrorIs(t, err, services.ErrNotFound)
}

func TestLocalRejectsOversizedAndEmptyImages(t *testing.T) {
	root := t.TempDir()
	store, err := imagestore.NewLocal(root, 0, 1<<20)
	require.NoError(t, err)

	big := strings.NewReader(strings.Repeat("x", (1<<20)+1))
	_, err = store.Put(context.Background(), "scan/big.jpg", big, "image/jpeg")
	require.ErrorIs(t, err, services.ErrValidation)

	_, err = store.Put(context.Background(), "scan/empty.jpg", strings.NewReader(""), "image/jpeg")
	require.ErrorIs(t, err, services.ErrValidation)

	entries, err := os.ReadDir(filepath.Join(root, "scan"))
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected uploads must leave nothing behind")
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	store, err := imagestore.NewLocal(t.TempDir(), 0, 0)
	require.NoError(t, err)

	for _, key := range []string{"../outside.jpg", "/etc/passwd", ""} {
		_, err := store.Put(context.Background(), key, strings.NewReader("x"), "")
		require.ErrorIs(t, err, services.ErrValidation, "key %q", key)
	}
}

func TestLocalRefusesWhenDiskNearlyFull(t *testing.T) {
	root := t.TempDir()
	free, err := imagestore.FreeBytes(root)
	require.NoError(t, err)

	// Demand more headroom than the filesystem has.
	store, err := imagestore.NewLocal(root, int(free>>20)+1024, 0)
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "scan/a.jpg", strings.NewReader("x"), "image/jpeg")
	require.ErrorIs(t, err, services.ErrStorage)
	assert.True(t, services.Retryable(err))
}
