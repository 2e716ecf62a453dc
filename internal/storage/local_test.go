package storage

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
)

func setupTestProvider(t *testing.T) (*LocalProvider, string) {
	t.Helper()
	dir := t.TempDir()
	provider, err := NewLocalProvider(dir)
	require.NoError(t, err)
	return provider, dir
}

func TestLocalProvider_PutObject(t *testing.T) {
	provider, baseDir := setupTestProvider(t)

	content := []byte("hash\nabc\n")
	err := provider.PutObject(context.Background(), UploadBucket, InputKey("task1"), bytes.NewReader(content))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(baseDir, UploadBucket, "task1.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, data)

	// Overwrites replace the object.
	err = provider.PutObject(context.Background(), UploadBucket, InputKey("task1"), strings.NewReader("new"))
	require.NoError(t, err)

	data, err = os.ReadFile(filepath.Join(baseDir, UploadBucket, "task1.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestLocalProvider_CreateBuckets(t *testing.T) {
	provider, baseDir := setupTestProvider(t)

	require.NoError(t, CreateBuckets(context.Background(), provider))
	require.NoError(t, CreateBuckets(context.Background(), provider))

	for _, bucket := range Buckets {
		info, err := os.Stat(filepath.Join(baseDir, bucket))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestLocalProvider_ObjectExists(t *testing.T) {
	provider, _ := setupTestProvider(t)
	ctx := context.Background()

	exists, err := provider.ObjectExists(ctx, ResultBucket, ResultKey("task1"))
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, provider.PutObject(ctx, ResultBucket, ResultKey("task1"), strings.NewReader("1:2:3")))

	exists, err = provider.ObjectExists(ctx, ResultBucket, ResultKey("task1"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLocalProvider_GetObjectStream(t *testing.T) {
	provider, _ := setupTestProvider(t)
	ctx := context.Background()

	_, err := provider.GetObjectStream(ctx, ResultBucket, "missing.csv")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	require.NoError(t, provider.PutObject(ctx, ResultBucket, "found.csv", strings.NewReader("a:b:c\n")))

	stream, err := provider.GetObjectStream(ctx, ResultBucket, "found.csv")
	require.NoError(t, err)
	defer stream.Close()

	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "a:b:c\n", string(data))
}

func TestLocalProvider_DownloadObject(t *testing.T) {
	provider, _ := setupTestProvider(t)
	ctx := context.Background()

	require.NoError(t, provider.PutObject(ctx, UploadBucket, "input.txt", strings.NewReader("abc")))

	dest := filepath.Join(t.TempDir(), "nested", "dir", "input.txt")
	require.NoError(t, provider.DownloadObject(ctx, UploadBucket, "input.txt", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	err = provider.DownloadObject(ctx, UploadBucket, "missing.txt", dest)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalProvider_RejectsEscapingKeys(t *testing.T) {
	provider, _ := setupTestProvider(t)
	ctx := context.Background()

	for _, key := range []string{"../escape.txt", "../../etc/passwd", ""} {
		err := provider.PutObject(ctx, UploadBucket, key, strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrInvalidKey, key)

		_, err = provider.ObjectExists(ctx, UploadBucket, key)
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

func TestLocalProvider_ListObjects(t *testing.T) {
	provider, _ := setupTestProvider(t)
	ctx := context.Background()

	objects, err := provider.ListObjects(ctx, LogBucket, "")
	require.NoError(t, err)
	assert.Empty(t, objects)

	require.NoError(t, provider.PutObject(ctx, LogBucket, "a.log", strings.NewReader("12")))
	require.NoError(t, provider.PutObject(ctx, LogBucket, "b.log", strings.NewReader("1234")))

	objects, err = provider.ListObjects(ctx, LogBucket, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []Object{{Name: "a.log", Size: 2}, {Name: "b.log", Size: 4}}, objects)

	objects, err = provider.ListObjects(ctx, LogBucket, "b")
	require.NoError(t, err)
	assert.Equal(t, []Object{{Name: "b.log", Size: 4}}, objects)
}
