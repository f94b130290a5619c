// Package image implements the ImageStore and ExtractedImageStore
// components: a persistent directory of compressed image archives, and
// a cache of their unpacked trees.
package image

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"

	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Sentinel errors for the image package, wrapped with context at each
// call site so the user-visible message renders as a colon chain.
var (
	ErrInvalidImage          = errors.New("invalid image")
	ErrUnpack                = errors.New("unable to unpack image")
	ErrCannotCreateDirectory = errors.New("unable to create directory")
	ErrCannotImportTarball   = errors.New("unable to import tarball")
	ErrCannotRemoveImage     = errors.New("unable to remove image")
	ErrNotFound              = errors.New("no such image")
)

// archiveFileName is the single file every image directory contains.
const archiveFileName = "image.tar.gz"

// Image is a handle over a jocker image stored at a given path. It does
// not cache the parsed archive; every operation re-opens it from disk.
type Image struct {
	path string
}

func newImage(path string) *Image {
	return &Image{path: path}
}

// Name returns the image's name, derived from the directory's base name.
func (i *Image) Name() string {
	return filepath.Base(i.path)
}

// Path returns the path to the image's directory.
func (i *Image) Path() string {
	return i.path
}

func (i *Image) archivePath() string {
	return filepath.Join(i.path, archiveFileName)
}

// ExtractTo unpacks the image's archive into destPath and returns a
// handle over the resulting ExtractedImage. The archive is opened as a
// go-containerregistry tarball layer so that decompression runs through
// a verified, digested path rather than a bare gzip.Reader.
func (i *Image) ExtractTo(destPath string) (*ExtractedImage, error) {
	archivePath := i.archivePath()
	if _, err := os.Stat(archivePath); err != nil {
		return nil, errors.Wrap(ErrInvalidImage, err.Error())
	}

	layer, err := tarball.LayerFromFile(archivePath)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidImage, err.Error())
	}

	if diffID, err := layer.DiffID(); err == nil {
		log.WithFields(log.Fields{"image": i.Name(), "diff_id": diffID.String()}).
			Debug("extracting image")
	}

	rc, err := layer.Uncompressed()
	if err != nil {
		return nil, errors.Wrap(ErrUnpack, err.Error())
	}
	defer rc.Close()

	if err := os.MkdirAll(destPath, 0o755); err != nil {
		return nil, errors.Wrap(ErrUnpack, err.Error())
	}

	if err := untar(rc, destPath); err != nil {
		return nil, errors.Wrap(ErrUnpack, err.Error())
	}

	return newExtractedImage(destPath), nil
}

// untar streams a tar reader onto the filesystem rooted at dest,
// handling the entry types a container rootfs actually contains:
// regular files, directories, symlinks and hardlinks.
func untar(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(dest, hdr.Name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		case tar.TypeSymlink:
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeLink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Link(filepath.Join(dest, hdr.Linkname), target); err != nil {
				return err
			}
		}
	}
}

// Store is a handle over a directory storing jocker images.
type Store struct {
	root string
}

// NewStore creates a Store rooted at root.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Path returns the path to the store's root directory.
func (s *Store) Path() string {
	return s.root
}

// Import creates <root>/<name>/ and copies sourcePath into it as
// image.tar.gz.
func (s *Store) Import(name, sourcePath string) (*Image, error) {
	imagePath := filepath.Join(s.root, name)
	if err := os.MkdirAll(imagePath, 0o755); err != nil {
		return nil, errors.Wrap(ErrCannotCreateDirectory, err.Error())
	}

	if err := copyFile(sourcePath, filepath.Join(imagePath, archiveFileName)); err != nil {
		return nil, errors.Wrap(ErrCannotImportTarball, err.Error())
	}

	return newImage(imagePath), nil
}

// Copy duplicates image under a new name, equivalent to
// Import(newName, image.archivePath()).
func (s *Store) Copy(newName string, img *Image) (*Image, error) {
	return s.Import(newName, img.archivePath())
}

// Get returns a handle over name iff its directory exists. It does not
// validate the archive.
func (s *Store) Get(name string) *Image {
	path := filepath.Join(s.root, name)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return newImage(path)
}

// ListEntry pairs a loaded Image with any error encountered validating
// it, mirroring container.Store.List's per-entry fallible iteration.
type ListEntry struct {
	Image *Image
	Err   error
}

// List enumerates the images in the store. Each entry is validated
// independently; an image directory missing its archive does not abort
// the listing, it surfaces as that entry's Err.
func (s *Store) List() ([]ListEntry, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	result := make([]ListEntry, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		img := newImage(filepath.Join(s.root, e.Name()))
		if _, statErr := os.Stat(img.archivePath()); statErr != nil {
			result = append(result, ListEntry{Err: errors.Wrap(ErrInvalidImage, statErr.Error())})
			continue
		}
		result = append(result, ListEntry{Image: img})
	}
	return result, nil
}

// Remove recursively deletes img's directory.
func (s *Store) Remove(img *Image) error {
	if err := os.RemoveAll(img.Path()); err != nil {
		return errors.Wrap(ErrCannotRemoveImage, err.Error())
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// NewGzipWriter is the shared write-side compressor used by callers that
// build a fresh image.tar.gz from scratch (ContainerRuntime.ExportAsImage).
// Exported so the container package can stream a tar archive through it.
func NewGzipWriter(w io.Writer) *gzip.Writer {
	return gzip.NewWriter(w)
}
