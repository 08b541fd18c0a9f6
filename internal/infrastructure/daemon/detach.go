// Package daemon provides the lifecycle pieces of a background server:
// detaching from the invoking terminal, a PID file and a single-instance
// lock.
package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// EnvDetached marks a process started by Detach.
const EnvDetached = "KNND_DETACHED"

// IsDetached reports whether this process is the background child.
func IsDetached() bool {
	return os.Getenv(EnvDetached) == "1"
}

// Detach re-executes the running binary with args as the leader of a new
// session, with root as its working directory and stdio on /dev/null. It
// returns the child's PID without waiting for it. Relative paths in args are
// resolved by the child against root.
func Detach(root string, args []string) (int, error) {
	if err := os.MkdirAll(root, 0o777); err != nil {
		return 0, fmt.Errorf("create server root: %w", err)
	}

	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("locate executable: %w", err)
	}

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devnull.Close()

	cmd := exec.Command(exe, args...)
	cmd.Env = append(os.Environ(), EnvDetached+"=1")
	cmd.Dir = root
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start background process: %w", err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("release background process: %w", err)
	}
	return pid, nil
}

// Prepare finishes detachment inside the child: it clears the umask so
// files and FIFOs get exactly the modes requested, and enters root.
func Prepare(root string) error {
	unix.Umask(0)
	if err := os.MkdirAll(root, 0o777); err != nil {
		return fmt.Errorf("create server root: %w", err)
	}
	if err := os.Chdir(root); err != nil {
		return fmt.Errorf("enter server root: %w", err)
	}
	return nil
}
