//go:build linux

package container

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/doom/jocker/internal/jocker/image"
)

// ChildArgvMarker is the hidden argv[1] the binary re-execs itself with
// to run inside the freshly cloned namespaces. cmd/jocker must check for
// this marker first thing in main(), before any flag parsing.
const ChildArgvMarker = "__jocker_child__"

// childSetupExitCode is reserved for child-side setup failure and
// collides with a legitimate "exit 242" user command; that collision is
// an accepted limitation.
const childSetupExitCode = 242

const cgroupRoot = "/sys/fs/cgroup"

var deviceNodes = []struct {
	name         string
	major, minor uint32
}{
	{"null", 1, 3},
	{"zero", 1, 5},
	{"random", 1, 8},
	{"urandom", 1, 9},
}

// RunCommand executes command inside the container under fresh PID, UTS
// and mount namespaces.
func (c *Container) RunCommand(imgStore *image.Store, extractedStore *image.ExtractedStore, command string) error {
	extracted, err := ResolveExtractedImage(imgStore, extractedStore, c.ImageName())
	if err != nil {
		return err
	}

	if strings.IndexByte(command, 0) != -1 {
		return ErrInvalidCommand
	}

	self, err := os.Executable()
	if err != nil {
		return errors.Wrap(ErrContainerExecutionFailed, err.Error())
	}

	cmd := exec.Command(self, ChildArgvMarker, c.Name(), c.Path(), extracted.Path(), command)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags:   syscall.CLONE_NEWPID | syscall.CLONE_NEWUTS | syscall.CLONE_NEWNS,
		Unshareflags: syscall.CLONE_NEWNS,
	}

	if err := cmd.Run(); err != nil {
		return translateExitError(err)
	}
	return nil
}

func translateExitError(err error) error {
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return errors.Wrap(ErrContainerExecutionFailed, err.Error())
	}

	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return ErrContainerExitedAbnormally
	}

	switch {
	case status.Exited() && status.ExitStatus() == childSetupExitCode:
		return ErrContainerSetupFailed
	case status.Exited():
		return &ExitError{Code: status.ExitStatus()}
	default:
		return ErrContainerExitedAbnormally
	}
}

// RunChild performs the ordered in-namespace setup chain, then execs
// `/bin/sh -c command`. It is invoked by cmd/jocker's main() immediately
// after detecting ChildArgvMarker, while
// still running as PID 1 of the freshly cloned namespaces. On any setup
// failure it prints the colon-chained cause to stderr and exits with the
// reserved sentinel; on success it never returns (the process image is
// replaced by execve).
func RunChild(name, containerPath, imagePath, command string) {
	if err := runChildSetup(name, containerPath, imagePath, command); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(childSetupExitCode)
	}
}

func runChildSetup(name, containerPath, imagePath, command string) error {
	if err := setupCgroup("cpu", name); err != nil {
		return errors.Wrap(err, "cannot setup a CPU cgroup")
	}
	if err := setupCgroup("memory", name); err != nil {
		return errors.Wrap(err, "cannot setup a memory cgroup")
	}

	if err := unix.Sethostname([]byte(name)); err != nil {
		return errors.Wrap(err, "cannot set the hostname")
	}

	if err := unix.Mount("", "/", "", unix.MS_PRIVATE|unix.MS_REC, ""); err != nil {
		return errors.Wrap(err, "cannot mount")
	}

	rootfsPath := filepath.Join(containerPath, "rootfs")
	if err := setupOverlay(containerPath, imagePath); err != nil {
		return errors.Wrap(err, "cannot setup the container's root filesystem")
	}

	if err := mountKernelFilesystems(rootfsPath); err != nil {
		return errors.Wrap(err, "cannot mount kernel-related filesystems")
	}

	if err := createDevices(rootfsPath); err != nil {
		return errors.Wrap(err, "cannot create devices")
	}

	if err := moveToNewRoot(rootfsPath); err != nil {
		return errors.Wrap(err, "cannot move to new root")
	}

	oldRoot := "/old_root"
	if err := unix.Unmount(oldRoot, unix.MNT_DETACH); err != nil {
		return errors.Wrap(err, "cannot unmount the old root")
	}
	if err := os.Remove(oldRoot); err != nil {
		return errors.Wrap(err, "cannot remove the old root")
	}

	log.WithField("container", name).Debug("pivoted root, executing command")

	argv := []string{"sh", "-c", command}
	if err := syscall.Exec("/bin/sh", argv, os.Environ()); err != nil {
		return errors.Wrap(err, "cannot execute the contained process")
	}
	return nil
}

// setupCgroup creates /sys/fs/cgroup/<controller>/jocker/<name>/
// idempotently and binds the current process to it by writing its pid
// into the group's tasks file. No resource limits are configured; the
// group exists solely to carry the process.
func setupCgroup(controller, name string) error {
	groupPath := filepath.Join(cgroupRoot, controller, "jocker", name)
	if err := os.MkdirAll(groupPath, 0o755); err != nil {
		return err
	}

	tasksFile, err := os.Create(filepath.Join(groupPath, "tasks"))
	if err != nil {
		return err
	}
	defer tasksFile.Close()

	_, err = fmt.Fprintf(tasksFile, "%d", unix.Getpid())
	return err
}

// setupOverlay mounts an overlay filesystem at <containerPath>/rootfs,
// with imagePath as lowerdir and <containerPath>/{cow_rw,cow_workdir} as
// the writable upper/work layers. Used both from inside the clone (by
// runChildSetup) and from the host namespace (by ExportAsImage).
func setupOverlay(containerPath, imagePath string) error {
	upperDir := filepath.Join(containerPath, "cow_rw")
	workDir := filepath.Join(containerPath, "cow_workdir")
	rootfsDir := filepath.Join(containerPath, "rootfs")

	for _, dir := range []string{upperDir, workDir, rootfsDir} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
	}

	options := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", imagePath, upperDir, workDir)
	return unix.Mount("overlay", rootfsDir, "overlay", unix.MS_SILENT, options)
}

// mountKernelFilesystems mounts the pseudo-filesystems the container's
// image is assumed to already have mountpoint directories for.
func mountKernelFilesystems(rootfsPath string) error {
	type pseudoMount struct {
		target string
		fstype string
		flags  uintptr
	}

	mounts := []pseudoMount{
		{"proc", "proc", unix.MS_NOATIME},
		{"sys", "sysfs", unix.MS_NOATIME},
		{"tmp", "tmpfs", unix.MS_NOSUID | unix.MS_STRICTATIME},
		{filepath.Join("dev", "pts"), "devpts", unix.MS_NOATIME},
	}

	for _, m := range mounts {
		target := filepath.Join(rootfsPath, m.target)
		if err := unix.Mount(m.fstype, target, m.fstype, m.flags, ""); err != nil {
			return errors.Wrapf(err, "cannot mount %s at %s", m.fstype, target)
		}
	}
	return nil
}

// createDevices creates the character device nodes a minimal container
// needs under <rootfs>/dev, idempotently.
func createDevices(rootfsPath string) error {
	devPath := filepath.Join(rootfsPath, "dev")
	const rwAll = 0o666

	for _, dev := range deviceNodes {
		path := filepath.Join(devPath, dev.name)
		if _, err := os.Stat(path); err == nil {
			continue
		}

		mode := uint32(unix.S_IFCHR) | rwAll
		devNum := int(unix.Mkdev(dev.major, dev.minor))
		if err := unix.Mknod(path, mode, devNum); err != nil {
			return errors.Wrapf(err, "cannot create device %s", path)
		}
		// The umask in effect at mknod time can restrict the
		// requested permissions; re-apply them explicitly.
		if err := os.Chmod(path, rwAll); err != nil {
			return errors.Wrapf(err, "cannot chmod device %s", path)
		}
	}
	return nil
}

// moveToNewRoot pivots the mount namespace's root to rootfsPath.
func moveToNewRoot(rootfsPath string) error {
	oldRoot := filepath.Join(rootfsPath, "old_root")
	if err := os.Mkdir(oldRoot, 0o755); err != nil {
		return err
	}

	if err := unix.PivotRoot(rootfsPath, oldRoot); err != nil {
		return err
	}

	return unix.Chdir("/")
}

// ExportAsImage exports the container's merged filesystem as a new image
// named name. Unlike RunCommand, this mounts the overlay directly in the
// host namespace: there is no clone involved.
func (c *Container) ExportAsImage(imgStore *image.Store, extractedStore *image.ExtractedStore, name string) (*image.Image, error) {
	extracted, err := ResolveExtractedImage(imgStore, extractedStore, c.ImageName())
	if err != nil {
		return nil, err
	}

	if err := setupOverlay(c.Path(), extracted.Path()); err != nil {
		return nil, errors.Wrap(ErrContainerSetupFailed, err.Error())
	}

	rootfsPath := c.rootfsPath()
	tempArchivePath := filepath.Join(os.TempDir(), fmt.Sprintf("jocker-export-%s.tar.gz", c.Name()))

	if err := archiveRootfs(rootfsPath, tempArchivePath); err != nil {
		_ = unix.Unmount(rootfsPath, 0)
		return nil, errors.Wrap(ErrArchiveFailed, err.Error())
	}

	if err := unix.Unmount(rootfsPath, 0); err != nil {
		return nil, errors.Wrap(ErrContainerSetupFailed, err.Error())
	}

	img, err := imgStore.Import(name, tempArchivePath)
	if err != nil {
		return nil, errors.Wrap(ErrExportFailed, err.Error())
	}

	if err := os.Remove(tempArchivePath); err != nil {
		return nil, errors.Wrap(ErrArchiveFailed, err.Error())
	}

	return img, nil
}
