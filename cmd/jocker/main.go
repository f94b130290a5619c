// Command jocker is a minimal Linux container engine: it builds images
// from a declarative Jockerfile and runs commands inside isolated
// execution environments using namespaces, control groups, overlay
// filesystems and root pivoting.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/doom/jocker/internal/jocker"
	"github.com/doom/jocker/internal/jocker/container"
)

var baseDir string

func main() {
	// The binary re-execs itself to run inside freshly cloned
	// namespaces (see internal/jocker/container.RunCommand). That
	// invocation must be intercepted before cobra gets anywhere near
	// argv, by checking os.Args[1] for the hidden marker ahead of any
	// flag parsing.
	if len(os.Args) > 1 && os.Args[1] == container.ChildArgvMarker {
		runChild(os.Args[2:])
		return
	}

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

// runChild is argv-unpacking glue for container.RunChild; it never
// returns on success (the process image is replaced by execve).
func runChild(args []string) {
	if len(args) != 4 {
		fmt.Fprintln(os.Stderr, "error: malformed child invocation")
		os.Exit(1)
	}
	name, containerPath, imagePath, command := args[0], args[1], args[2], args[3]
	container.RunChild(name, containerPath, imagePath, command)
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "jocker",
		Short:         "A minimal Linux container engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&baseDir, "base-dir", "", "base directory for image, container and cache storage (default ~/.jocker)")
	root.PersistentFlags().Bool("verbose", false, "enable verbose diagnostic logging")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("verbose"); v {
			log.SetLevel(log.DebugLevel)
		}
	}

	root.AddCommand(newContainerCommand())
	root.AddCommand(newImageCommand())
	root.AddCommand(newRunCommand())

	return root
}

func loadConfig() (*jocker.Config, error) {
	if baseDir != "" {
		return jocker.New(baseDir), nil
	}
	return jocker.NewFromHomeDir()
}
