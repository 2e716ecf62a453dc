package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileCounts(t *testing.T) {
	assert.Equal(t, Reconciliation{ShowCount: 3, FileCount: 5, Cracked: 5, Total: 10}, reconcileCounts(3, 5, 10))
	assert.Equal(t, Reconciliation{ShowCount: 7, FileCount: 2, Cracked: 7, Total: 10}, reconcileCounts(7, 2, 10))
	assert.Equal(t, 4, reconcileCounts(9, 12, 4).Cracked)
	assert.Equal(t, 0, reconcileCounts(0, 0, 4).Cracked)
	assert.Equal(t, 6, reconcileCounts(3, 5, 11).Remaining())
}

func TestCountNonEmptyLines(t *testing.T) {
	assert.Equal(t, 0, countNonEmptyLines(nil))
	assert.Equal(t, 2, countNonEmptyLines([]byte("a\n\n  \nb")))
	assert.Equal(t, 3, countNonEmptyLines([]byte("a\r\nb\r\nc\r\n")))
}

func TestReconciler(t *testing.T) {
	launcher, err := NewLauncher(writeScript(t, fakeHashcat))
	require.NoError(t, err)

	dir := t.TempDir()
	hashFile := filepath.Join(dir, "hashes.txt")
	require.NoError(t, os.WriteFile(hashFile, []byte("h1:s\nh2:s\nh3:s\nh4:s\nh5:s\nh6:s\n"), 0644))

	outFile := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(outFile, []byte("h1:s:1\nh2:s:2\nh3:s:3\nh4:s:4\nh5:s:5\n"), 0644))

	rec, err := NewReconciler(launcher, 0).Reconcile(context.Background(), hashFile, filepath.Join(dir, "pot"), outFile, 6)
	require.NoError(t, err)
	assert.Equal(t, Reconciliation{ShowCount: 3, FileCount: 5, Cracked: 5, Total: 6}, rec)

	rec, err = NewReconciler(launcher, 0).Reconcile(context.Background(), hashFile, filepath.Join(dir, "pot"), filepath.Join(dir, "missing.csv"), 6)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Cracked)
}

func TestReconcilerCancelled(t *testing.T) {
	launcher, err := NewLauncher(writeScript(t, fakeHashcat))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = NewReconciler(launcher, DefaultTimings().ShowDelay).Reconcile(ctx, "h", "p", "o", 1)
	assert.ErrorIs(t, err, context.Canceled)
}
