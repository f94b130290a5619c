package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/doom/jocker/internal/jocker/build"
	"github.com/doom/jocker/internal/jocker/image"
)

func newImageCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Manage images",
	}

	cmd.AddCommand(newImageBuildCommand())
	cmd.AddCommand(newImageImportCommand())
	cmd.AddCommand(newImageLsCommand())
	cmd.AddCommand(newImageRmCommand())

	return cmd
}

func newImageBuildCommand() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "build PATH",
		Short: "Build a new image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			scriptPath := filepath.Join(args[0], "Jockerfile")
			file, err := os.Open(scriptPath)
			if err != nil {
				return errors.Wrapf(err, "cannot open build script at path %s", scriptPath)
			}
			defer file.Close()

			builder := build.New(cfg.ImageStore(), cfg.ExtractedImageStore(), cfg.ContainerStore())
			if err := builder.Build(file, name); err != nil {
				return errors.Wrap(err, "cannot build image")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "t", "", "the name to give to the resulting image")
	return cmd
}

func newImageImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import NAME PATH",
		Short: "Import an image from a tarball",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			_, err = cfg.ImageStore().Import(args[0], args[1])
			return err
		},
	}
}

func newImageLsCommand() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List existing images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			entries, err := cfg.ImageStore().List()
			if err != nil {
				return err
			}

			for _, entry := range entries {
				if entry.Err != nil {
					log.WithError(entry.Err).Warn("skipping unreadable image")
					continue
				}
				img := entry.Image
				if quiet {
					fmt.Println(img.Name())
				} else {
					fmt.Printf("%s: %s\n", img.Name(), img.Path())
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only list image names")
	return cmd
}

func newImageRmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rm IMAGE...",
		Short: "Remove existing images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store := cfg.ImageStore()

			var result *multierror.Error
			for _, name := range args {
				img := store.Get(name)
				if img == nil {
					color.Red("unable to remove %s: %s", name, image.ErrNotFound)
					result = multierror.Append(result, errors.Wrapf(image.ErrNotFound, "cannot remove image %s", name))
					continue
				}
				if err := store.Remove(img); err != nil {
					result = multierror.Append(result, errors.Wrapf(err, "cannot remove image %s", name))
					continue
				}
				color.Green("%s: removed", name)
			}
			return result.ErrorOrNil()
		},
	}
}
