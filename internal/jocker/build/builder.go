// Package build implements the ImageBuilder component: interpreting a
// Jockerfile as a sequence of intermediate-container runs, each
// committed to a new image that becomes the base of the next step.
package build

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/doom/jocker/internal/jocker/container"
	"github.com/doom/jocker/internal/jocker/image"
)

// Sentinel errors, wrapped with context at each call site.
var (
	ErrEmptyBuildScript           = errors.New("empty build script")
	ErrMissingFromDirective       = errors.New("missing FROM directive")
	ErrInvalidFromDirective       = errors.New("invalid FROM directive")
	ErrIntermediateContainer      = errors.New("error in intermediate container")
	ErrCannotCreateResultingImage = errors.New("unable to create the resulting image")
)

// InvalidCommandError reports an unrecognized leading token on a
// Jockerfile line.
type InvalidCommandError struct {
	Token string
}

func (e *InvalidCommandError) Error() string {
	return fmt.Sprintf("invalid command %s", e.Token)
}

// InvalidArgumentsError reports a command invoked with the wrong number
// of arguments (currently only RUN with zero arguments).
type InvalidArgumentsError struct {
	Expected, Got int
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments, expected %d, got %d", e.Expected, e.Got)
}

// step is a single parsed Jockerfile command.
type step struct {
	run string
}

func (s step) String() string {
	return "RUN " + s.run
}

// Builder interprets a Jockerfile against the three stores it is handed.
type Builder struct {
	ImageStore     *image.Store
	ExtractedStore *image.ExtractedStore
	ContainerStore *container.Store
}

// New creates a Builder over the given stores.
func New(imageStore *image.Store, extractedStore *image.ExtractedStore, containerStore *container.Store) *Builder {
	return &Builder{ImageStore: imageStore, ExtractedStore: extractedStore, ContainerStore: containerStore}
}

// Build reads a Jockerfile from r and executes it: one fresh
// intermediate container per RUN line, each committed to a new image
// that becomes the next step's base. If finalName is non-empty, the
// last intermediate image is additionally copied under that name.
func (b *Builder) Build(r io.Reader, finalName string) error {
	lines, err := readNonBlankLines(r)
	if err != nil {
		return err
	}

	if len(lines) == 0 {
		return ErrEmptyBuildScript
	}

	baseImage, err := parseFromDirective(lines[0])
	if err != nil {
		return err
	}

	for _, line := range lines[1:] {
		s, err := parseStep(line)
		if err != nil {
			return err
		}

		c, err := b.ContainerStore.Create(uuid.New().String(), baseImage)
		if err != nil {
			return errors.Wrap(ErrIntermediateContainer, err.Error())
		}

		log.Infof("Running %q...", s.String())
		if err := c.RunCommand(b.ImageStore, b.ExtractedStore, s.run); err != nil {
			return errors.Wrap(ErrIntermediateContainer, err.Error())
		}

		newImageName := uuid.New().String()
		log.Infof("Saving temporary container to image %s...", newImageName)
		if _, err := c.ExportAsImage(b.ImageStore, b.ExtractedStore, newImageName); err != nil {
			return errors.Wrap(ErrIntermediateContainer, err.Error())
		}

		baseImage = newImageName
	}

	if finalName != "" {
		img := b.ImageStore.Get(baseImage)
		if img == nil {
			return errors.Wrap(ErrCannotCreateResultingImage, "cannot find the built image")
		}
		if _, err := b.ImageStore.Copy(finalName, img); err != nil {
			return errors.Wrap(ErrCannotCreateResultingImage, err.Error())
		}
	}

	return nil
}

func readNonBlankLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func parseFromDirective(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != "FROM" {
		return "", ErrMissingFromDirective
	}
	if len(fields) != 2 {
		return "", ErrInvalidFromDirective
	}
	return fields[1], nil
}

func parseStep(line string) (step, error) {
	parts := strings.SplitN(line, " ", 2)
	token := parts[0]

	if token != "RUN" {
		return step{}, &InvalidCommandError{Token: token}
	}

	if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
		return step{}, &InvalidArgumentsError{Expected: 1, Got: 0}
	}

	return step{run: parts[1]}, nil
}
