//go:build !windows

package liveness

import (
	"errors"

	"golang.org/x/sys/unix"
)

// killStatus probes pid with signal 0. EPERM means the process exists but
// belongs to another user.
func killStatus(pid int) Status {
	err := unix.Kill(pid, 0)
	switch {
	case err == nil:
		return Alive
	case errors.Is(err, unix.ESRCH):
		return Dead
	case errors.Is(err, unix.EPERM):
		return Alive
	default:
		return Unknown
	}
}
