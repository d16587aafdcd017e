//go:build !windows

package bootstrap

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const killGrace = 250 * time.Millisecond

// setProcessGroup starts cmd in its own process group so cancellation
// reaches the processes pip starts, not only pip itself.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killProcessGroup(cmd.Process.Pid)
	}
}

// killProcessGroup sends SIGTERM then SIGKILL to the process group of pid.
func killProcessGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	time.Sleep(killGrace)
	_ = unix.Kill(-pid, unix.SIGKILL)
	return nil
}
