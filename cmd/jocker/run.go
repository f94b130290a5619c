package main

import (
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "run [--name NAME] IMAGE COMMAND [ARG...]",
		Short: "Create and run a container",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			imageName := args[0]
			command := joinCommand(args[1:])
			containerID := sanitizeContainerName(name)

			log.Infof("Creating container with ID %s from image %s", containerID, imageName)
			store := cfg.ContainerStore()
			c, err := store.Create(containerID, imageName)
			if err != nil {
				return err
			}

			log.Infof("Running container with ID %s", containerID)
			return c.RunCommand(cfg.ImageStore(), cfg.ExtractedImageStore(), command)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "the name to use for this container")
	return cmd
}

// joinCommand rebuilds a single shell command line from the COMMAND and
// ARG... positional arguments before handing it to /bin/sh -c.
func joinCommand(parts []string) string {
	return strings.Join(parts, " ")
}

// sanitizeContainerName filters an explicit --name down to alphanumerics
// and dashes rather than rejecting it outright; an absent --name falls
// back to a random UUID.
func sanitizeContainerName(name string) string {
	if name == "" {
		return uuid.New().String()
	}

	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
