// Package container implements the ContainerStore and Container
// components: container directory lifecycle and the namespace/cgroup
// isolation machinery processes run under. The portable pieces
// (configuration, store bookkeeping) live in this file; the Linux-only
// namespace/mount/pivot_root machinery lives in runtime_linux.go, gated
// behind a linux build tag since it calls syscalls with no portable
// equivalent.
package container

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/doom/jocker/internal/jocker/image"
)

// Sentinel errors, wrapped with context at each call site.
var (
	ErrInvalidConfigurationFile    = errors.New("invalid configuration file")
	ErrInvalidCommand              = errors.New("invalid command")
	ErrInvalidContainerDirectory   = errors.New("invalid container directory")
	ErrCannotOpenConfigurationFile = errors.New("cannot open the configuration file")
	ErrCannotSaveConfigurationFile = errors.New("cannot save the configuration file")
	ErrCreationFailed              = errors.New("cannot create the container")
	ErrInitializationFailed        = errors.New("cannot initialize the container")
	ErrExportFailed                = errors.New("cannot export the container as an image")
	ErrArchiveFailed               = errors.New("cannot archive the container")
	ErrContainerExecutionFailed    = errors.New("container execution failed")
	ErrContainerSetupFailed        = errors.New("unable to setup the container")
	ErrContainerExitedAbnormally   = errors.New("the container exited abnormally")
	ErrNotFound                    = errors.New("no such container")
	ErrAlreadyExists               = errors.New("container already exists with a different configuration")
)

// ExitError reports that the containerized command exited with a
// non-zero, non-sentinel status code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return "command exited with error code: " + strconv.Itoa(e.Code)
}

// Config is the on-disk, JSON-serialized configuration of a container:
// {"name": "...", "image_name": "..."}. Parsing is strict: unknown
// fields are rejected.
type Config struct {
	Name      string `json:"name"`
	ImageName string `json:"image_name"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(ErrCannotOpenConfigurationFile, err.Error())
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, ErrInvalidConfigurationFile
	}
	if cfg.Name == "" || cfg.ImageName == "" {
		return nil, ErrInvalidConfigurationFile
	}
	return &cfg, nil
}

func (c *Config) save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return ErrCannotSaveConfigurationFile
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(c); err != nil {
		return ErrCannotSaveConfigurationFile
	}
	return nil
}

// Container is a handle over a directory holding a container's state:
// config.json, cow_rw/, cow_workdir/, rootfs/.
type Container struct {
	config Config
	path   string
}

func fromDirectory(path string) (*Container, error) {
	cfg, err := loadConfig(filepath.Join(path, "config.json"))
	if err != nil {
		return nil, err
	}
	return &Container{config: *cfg, path: path}, nil
}

func create(path, name, imageName string) (*Container, error) {
	if existing, err := fromDirectory(path); err == nil {
		if existing.config.Name != name || existing.config.ImageName != imageName {
			return nil, ErrAlreadyExists
		}
		return existing, nil
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, errors.Wrap(ErrCreationFailed, err.Error())
	}

	cfg := Config{Name: name, ImageName: imageName}
	if err := cfg.save(filepath.Join(path, "config.json")); err != nil {
		return nil, err
	}

	return &Container{config: cfg, path: path}, nil
}

// Name returns the container's name.
func (c *Container) Name() string {
	return c.config.Name
}

// ImageName returns the name of the image this container was created from.
func (c *Container) ImageName() string {
	return c.config.ImageName
}

// Path returns the path to the container's directory.
func (c *Container) Path() string {
	return c.path
}

func (c *Container) rootfsPath() string { return filepath.Join(c.path, "rootfs") }

// Store is a handle over a directory storing jocker containers.
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

// Create creates a container with the given name and base image. If a
// container with this name already exists with the same configuration,
// that existing container is returned (idempotent create); if it exists
// with a different configuration, ErrAlreadyExists is returned.
func (s *Store) Create(name, imageName string) (*Container, error) {
	return create(filepath.Join(s.root, name), name, imageName)
}

// Get loads the container named name. It returns (nil, nil) if no such
// container directory exists, and a non-nil error if the directory
// exists but its configuration is invalid.
func (s *Store) Get(name string) (*Container, error) {
	path := filepath.Join(s.root, name)
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	return fromDirectory(path)
}

// ListEntry pairs a loaded Container with any error encountered loading
// it, mirroring the original's per-entry fallible iteration.
type ListEntry struct {
	Container *Container
	Err       error
}

// List enumerates the containers in the store. Each entry is loaded
// independently; a malformed container directory does not abort the
// listing, it surfaces as that entry's Err.
func (s *Store) List() ([]ListEntry, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(ErrInvalidContainerDirectory, err.Error())
	}

	result := make([]ListEntry, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		c, err := fromDirectory(filepath.Join(s.root, e.Name()))
		result = append(result, ListEntry{Container: c, Err: err})
	}
	return result, nil
}

// Remove recursively deletes c's directory.
func (s *Store) Remove(c *Container) error {
	return os.RemoveAll(c.Path())
}

// ResolveExtractedImage consults the extracted-image cache first,
// falling back to extracting from the image store on a cache miss. It
// has no kernel dependency and is shared by both RunCommand and
// ExportAsImage.
func ResolveExtractedImage(imgStore *image.Store, extractedStore *image.ExtractedStore, imageName string) (*image.ExtractedImage, error) {
	if cached := extractedStore.Get(imageName); cached != nil {
		return cached, nil
	}

	img := imgStore.Get(imageName)
	if img == nil {
		return nil, errors.Wrap(ErrInitializationFailed, image.ErrInvalidImage.Error())
	}

	extracted, err := img.ExtractTo(extractedStore.PathFor(imageName))
	if err != nil {
		return nil, errors.Wrap(ErrInitializationFailed, err.Error())
	}
	return extracted, nil
}
