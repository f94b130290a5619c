package image

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

// writeTestArchive builds a minimal gzip-compressed tar containing the
// given files (path -> content) and writes it to destPath.
func writeTestArchive(t *testing.T, destPath string, files map[string]string) {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for name, content := range files {
		hdr := &tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(destPath, buf.Bytes(), 0o644))
}

func TestStore_ImportAndList(t *testing.T) {
	root := t.TempDir()
	store := NewStore(filepath.Join(root, "images"))

	srcArchive := filepath.Join(root, "src.tar.gz")
	writeTestArchive(t, srcArchive, map[string]string{"a": "hello\n"})

	img, err := store.Import("myimage", srcArchive)
	require.NoError(t, err)
	require.Equal(t, "myimage", img.Name())

	entries, err := store.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NoError(t, entries[0].Err)
	require.Equal(t, "myimage", entries[0].Image.Name())
}

func TestStore_ListSurfacesInvalidEntry(t *testing.T) {
	root := t.TempDir()
	store := NewStore(filepath.Join(root, "images"))

	require.NoError(t, os.MkdirAll(filepath.Join(store.Path(), "broken"), 0o755))

	entries, err := store.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Nil(t, entries[0].Image)
	require.ErrorIs(t, entries[0].Err, ErrInvalidImage)
}

func TestStore_GetMissingReturnsNil(t *testing.T) {
	store := NewStore(t.TempDir())
	require.Nil(t, store.Get("nope"))
}

func TestStore_CopyAndRemove(t *testing.T) {
	root := t.TempDir()
	store := NewStore(filepath.Join(root, "images"))

	srcArchive := filepath.Join(root, "src.tar.gz")
	writeTestArchive(t, srcArchive, map[string]string{"a": "hi\n"})

	img, err := store.Import("base", srcArchive)
	require.NoError(t, err)

	copied, err := store.Copy("derived", img)
	require.NoError(t, err)
	require.Equal(t, "derived", copied.Name())
	require.NotNil(t, store.Get("derived"))

	require.NoError(t, store.Remove(copied))
	require.Nil(t, store.Get("derived"))
	require.NotNil(t, store.Get("base"))
}

func TestImage_ExtractTo(t *testing.T) {
	root := t.TempDir()
	store := NewStore(filepath.Join(root, "images"))

	srcArchive := filepath.Join(root, "src.tar.gz")
	writeTestArchive(t, srcArchive, map[string]string{
		"a":       "hello\n",
		"dir/b":   "nested\n",
	})

	img, err := store.Import("myimage", srcArchive)
	require.NoError(t, err)

	destDir := filepath.Join(root, "extracted")
	extracted, err := img.ExtractTo(destDir)
	require.NoError(t, err)
	require.Equal(t, destDir, extracted.Path())

	contentA, err := os.ReadFile(filepath.Join(destDir, "a"))
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(contentA))

	contentB, err := os.ReadFile(filepath.Join(destDir, "dir", "b"))
	require.NoError(t, err)
	require.Equal(t, "nested\n", string(contentB))
}

func TestExtractedStore_Get(t *testing.T) {
	root := t.TempDir()
	extractedStore := NewExtractedStore(root)
	require.Nil(t, extractedStore.Get("nope"))

	require.NoError(t, os.MkdirAll(filepath.Join(root, "present"), 0o755))
	present := extractedStore.Get("present")
	require.NotNil(t, present)
	require.Equal(t, "present", present.Name())
}
