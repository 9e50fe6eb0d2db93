package archive

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readZip(t *testing.T, b *Bundle) map[string]string {
	t.Helper()
	data, err := b.Bytes()
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), b.Size)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	out := map[string]string{}
	var order []string
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		out[f.Name] = string(body)
		order = append(order, f.Name)
	}
	require.Equal(t, b.Entries, order, "zip order must follow write order")
	return out
}

func TestWriter_FileBacked(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, w.WriteEntry("doc_001.png", []byte("one")))
	require.NoError(t, w.WriteEntry("doc_002.png", []byte("two")))
	require.NoError(t, w.WriteEntry("other_001.png", []byte("three")))
	assert.Equal(t, 3, w.Len())

	b, err := w.Finalize()
	require.NoError(t, err)

	files := readZip(t, b)
	assert.Equal(t, map[string]string{
		"doc_001.png":   "one",
		"doc_002.png":   "two",
		"other_001.png": "three",
	}, files)

	require.NoError(t, b.Close())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "bundle close removes the spill file")
}

func TestWriter_Memory(t *testing.T) {
	w := OpenMemory()
	require.NoError(t, w.WriteEntry("a.png", bytes.Repeat([]byte("x"), 4096)))

	b, err := w.Finalize()
	require.NoError(t, err)
	defer b.Close()

	files := readZip(t, b)
	assert.Len(t, files["a.png"], 4096)
	assert.Less(t, b.Size, int64(4096), "entries are compressed")
}

func TestWriter_Rules(t *testing.T) {
	t.Run("duplicate names rejected", func(t *testing.T) {
		w := OpenMemory()
		require.NoError(t, w.WriteEntry("x.png", nil))
		assert.ErrorIs(t, w.WriteEntry("x.png", nil), ErrDuplicateEntry)
	})

	t.Run("empty name rejected", func(t *testing.T) {
		assert.ErrorIs(t, OpenMemory().WriteEntry("", nil), ErrEmptyName)
	})

	t.Run("finalize only once", func(t *testing.T) {
		w := OpenMemory()
		_, err := w.Finalize()
		require.NoError(t, err)
		_, err = w.Finalize()
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, w.WriteEntry("late.png", nil), ErrClosed)
		assert.NoError(t, w.Discard(), "discard after finalize is a no-op")
	})
}

func TestWriter_Discard(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, w.WriteEntry("doc_001.png", []byte("partial")))

	require.NoError(t, w.Discard())
	assert.NoError(t, w.Discard())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = w.Finalize()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen_MissingDir(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestObjectKey(t *testing.T) {
	at := time.Date(2026, 3, 4, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "archives/2026-03-04/job-1/converted_images.zip", ObjectKey("job-1", at))
}
