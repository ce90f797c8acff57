package local

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/medlens/internal/audiostore"
)

func TestLocalAudioStoreSaveAndOpen(t *testing.T) {
	store, err := NewLocalAudioStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	audio := []byte("ID3 fake mp3 data")

	key, err := store.Save(ctx, "en", bytes.NewReader(audio))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "en_"))
	assert.True(t, strings.HasSuffix(key, ".mp3"))

	reader, err := store.Open(ctx, key)
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, audio, data)
}

func TestLocalAudioStoreSaveUniqueKeys(t *testing.T) {
	store, err := NewLocalAudioStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	first, err := store.Save(ctx, "ta", bytes.NewReader([]byte("a")))
	require.NoError(t, err)
	second, err := store.Save(ctx, "ta", bytes.NewReader([]byte("b")))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestLocalAudioStoreDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalAudioStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	key, err := store.Save(ctx, "en", bytes.NewReader([]byte("test data")))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, key))

	_, err = os.Stat(filepath.Join(dir, key))
	assert.True(t, os.IsNotExist(err))

	_, err = store.Open(ctx, key)
	assert.ErrorIs(t, err, audiostore.ErrNotFound)
}

func TestLocalAudioStoreDeleteNotFound(t *testing.T) {
	store, err := NewLocalAudioStore(t.TempDir())
	require.NoError(t, err)

	err = store.Delete(context.Background(), "missing.mp3")
	assert.ErrorIs(t, err, audiostore.ErrNotFound)
}

func TestLocalAudioStorePathTraversal(t *testing.T) {
	store, err := NewLocalAudioStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Open(ctx, "../../etc/passwd")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, audiostore.ErrNotFound)

	err = store.Delete(ctx, "../outside.mp3")
	assert.Error(t, err)
}

func TestSanitizePrefix(t *testing.T) {
	assert.Equal(t, "en", sanitizePrefix("en"))
	assert.Equal(t, "a_b_c", sanitizePrefix("a/b.c"))
	assert.Equal(t, "speech", sanitizePrefix(""))
}
