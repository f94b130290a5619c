package image

import (
	"os"
	"path/filepath"
)

// ExtractedImage is a handle over a jocker image already unpacked to a
// directory, suitable as the lowerdir of an overlay mount.
type ExtractedImage struct {
	path string
}

func newExtractedImage(path string) *ExtractedImage {
	return &ExtractedImage{path: path}
}

// Name returns the extracted image's name, derived from its directory.
func (e *ExtractedImage) Name() string {
	return filepath.Base(e.path)
}

// Path returns the path to the extracted image's directory.
func (e *ExtractedImage) Path() string {
	return e.path
}

// ExtractedStore is a pure lookup layer over the extracted-image cache.
// It exposes no creation primitive: extraction is performed by
// Image.ExtractTo, targeting this store's root.
type ExtractedStore struct {
	root string
}

// NewExtractedStore creates an ExtractedStore rooted at root.
func NewExtractedStore(root string) *ExtractedStore {
	return &ExtractedStore{root: root}
}

// Path returns the path to the store's root directory.
func (s *ExtractedStore) Path() string {
	return s.root
}

// Get returns a handle over name iff its directory exists.
func (s *ExtractedStore) Get(name string) *ExtractedImage {
	path := filepath.Join(s.root, name)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return newExtractedImage(path)
}

// PathFor returns the directory name would be extracted to, whether or
// not it currently exists. Image.ExtractTo targets this path.
func (s *ExtractedStore) PathFor(name string) string {
	return filepath.Join(s.root, name)
}
