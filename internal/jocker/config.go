// Package jocker wires together the three on-disk stores (images,
// extracted images, containers) that every other package in this module
// operates against.
package jocker

import (
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"

	"github.com/doom/jocker/internal/jocker/container"
	"github.com/doom/jocker/internal/jocker/image"
)

// DefaultBaseDirName is the directory created under the user's home
// directory when no base directory is supplied explicitly.
const DefaultBaseDirName = ".jocker"

// Config resolves the three store roots rooted at a single base
// directory.
type Config struct {
	containerStorePath  string
	extractedImagesPath string
	imageStorePath      string
}

// New creates a Config rooted at baseDir. It does not create any
// directories; stores create their own roots lazily on first write.
func New(baseDir string) *Config {
	return &Config{
		containerStorePath:  filepath.Join(baseDir, "containers"),
		extractedImagesPath: filepath.Join(baseDir, "extracted_images"),
		imageStorePath:      filepath.Join(baseDir, "images"),
	}
}

// NewFromHomeDir creates a Config rooted at "~/.jocker".
func NewFromHomeDir() (*Config, error) {
	home, err := homedir.Dir()
	if err != nil {
		return nil, errors.Wrap(err, "unable to resolve home directory")
	}
	return New(filepath.Join(home, DefaultBaseDirName)), nil
}

// ImageStore returns a handle over the image store.
func (c *Config) ImageStore() *image.Store {
	return image.NewStore(c.imageStorePath)
}

// ExtractedImageStore returns a handle over the extracted-image cache.
func (c *Config) ExtractedImageStore() *image.ExtractedStore {
	return image.NewExtractedStore(c.extractedImagesPath)
}

// ContainerStore returns a handle over the container store.
func (c *Config) ContainerStore() *container.Store {
	return container.NewStore(c.containerStorePath)
}
