package container

import (
	"archive/tar"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/doom/jocker/internal/jocker/image"
)

// archiveRootfs walks rootfsPath recursively and writes a gzip-compressed
// tar archive of it to destArchivePath. Symlinks are not followed; only
// regular files, directories and symlinks are included, with paths
// relative to rootfsPath.
func archiveRootfs(rootfsPath, destArchivePath string) error {
	out, err := os.Create(destArchivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := image.NewGzipWriter(out)
	defer gz.Close()

	tw := tar.NewWriter(gz)
	defer tw.Close()

	return filepath.WalkDir(rootfsPath, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(rootfsPath, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		isRegular := info.Mode().IsRegular()
		isDir := info.Mode().IsDir()
		isSymlink := info.Mode()&os.ModeSymlink != 0

		if !isRegular && !isDir && !isSymlink {
			return nil
		}

		var link string
		if isSymlink {
			link, err = os.Readlink(path)
			if err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if isDir {
			hdr.Name += "/"
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if isRegular {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			_, err = io.Copy(tw, f)
			f.Close()
			if err != nil {
				return err
			}
		}

		return nil
	})
}
