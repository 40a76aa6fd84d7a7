package blobstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDir_WriteRead(t *testing.T) {
	d, err := OpenDir(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)

	require.NoError(t, d.Write("acct", []byte("v1")))
	got, err := d.Read("acct")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	require.NoError(t, d.Write("acct", []byte("v2")))
	got, err = d.Read("acct")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	info, err := os.Stat(filepath.Join(d.Root(), "acct"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(fileMode), info.Mode().Perm())
}

func TestDir_ReadMissing(t *testing.T) {
	d, err := OpenDir(t.TempDir())
	require.NoError(t, err)

	_, err = d.Read("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDir_Remove(t *testing.T) {
	d, err := OpenDir(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, d.Write("acct", []byte("x")))
	require.NoError(t, d.Remove("acct"))
	_, err = d.Read("acct")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, d.Remove("acct"), "removing a missing blob is not an error")
}

func TestDir_NoTempFilesLeftBehind(t *testing.T) {
	d, err := OpenDir(t.TempDir())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Write("acct", []byte{byte(i)}))
	}

	entries, err := os.ReadDir(d.Root())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "acct", entries[0].Name())
}

func TestOpenDir_SweepsStaleTempFiles(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, ".acct"+tempMarker+"123")
	require.NoError(t, os.WriteFile(stale, []byte("partial"), fileMode))
	require.NoError(t, os.WriteFile(filepath.Join(root, "acct"), []byte("whole"), fileMode))

	d, err := OpenDir(root)
	require.NoError(t, err)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale temp file should be removed")

	got, err := d.Read("acct")
	require.NoError(t, err)
	assert.Equal(t, []byte("whole"), got)
}

func TestDir_InvalidNames(t *testing.T) {
	d, err := OpenDir(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", ".", "..", "a/b", `a\b`, "x" + tempMarker + "1"} {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, d.Write(name, []byte("x")))
			_, err := d.Read(name)
			assert.Error(t, err)
			assert.NotErrorIs(t, err, ErrNotFound)
			assert.Error(t, d.Remove(name))
		})
	}
}
