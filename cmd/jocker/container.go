package main

import (
	"fmt"

	"github.com/fatih/color"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/doom/jocker/internal/jocker/container"
)

func newContainerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "container",
		Short: "Manage existing containers",
	}

	cmd.AddCommand(newContainerLsCommand())
	cmd.AddCommand(newContainerRmCommand())
	cmd.AddCommand(newContainerStartCommand())

	return cmd
}

func newContainerLsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List existing containers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			entries, err := cfg.ContainerStore().List()
			if err != nil {
				return err
			}

			for _, entry := range entries {
				if entry.Err != nil {
					log.WithError(entry.Err).Warn("skipping unreadable container")
					continue
				}
				fmt.Println(entry.Container.Name())
			}
			return nil
		},
	}
}

func newContainerRmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rm CONTAINER...",
		Short: "Remove existing containers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store := cfg.ContainerStore()

			var result *multierror.Error
			for _, name := range args {
				c, err := store.Get(name)
				if err != nil {
					color.Red("unable to remove %s: %s", name, err)
					result = multierror.Append(result, errors.Wrapf(err, "cannot remove container %s", name))
					continue
				}
				if c == nil {
					color.Red("unable to remove %s: %s", name, container.ErrNotFound)
					result = multierror.Append(result, errors.Wrapf(container.ErrNotFound, "cannot remove container %s", name))
					continue
				}
				if err := store.Remove(c); err != nil {
					result = multierror.Append(result, errors.Wrapf(err, "cannot remove container %s", name))
					continue
				}
				color.Green("%s: removed", name)
			}
			return result.ErrorOrNil()
		},
	}
}

func newContainerStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start CONTAINER COMMAND [ARG...]",
		Short: "Run a command in an existing stopped container",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			containerName := args[0]
			command := joinCommand(args[1:])

			log.Infof("Loading container with ID %s", containerName)
			store := cfg.ContainerStore()
			c, err := store.Get(containerName)
			if err != nil {
				return err
			}
			if c == nil {
				return container.ErrNotFound
			}

			log.Infof("Running container with ID %s", containerName)
			return c.RunCommand(cfg.ImageStore(), cfg.ExtractedImageStore(), command)
		},
	}
}
