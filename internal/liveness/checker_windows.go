//go:build windows

package liveness

import (
	"errors"

	"golang.org/x/sys/windows"
)

const stillActive = 259

// handleChecker holds a process handle opened at startup. The handle pins
// the process object, so the pid cannot be recycled while it is open.
type handleChecker struct {
	pid    int
	handle windows.Handle
}

func (c *handleChecker) Probe(pid int) Status {
	if pid != c.pid || c.handle == 0 {
		return probeByID(pid)
	}
	event, err := windows.WaitForSingleObject(c.handle, 0)
	if err != nil {
		return Unknown
	}
	switch event {
	case windows.WAIT_OBJECT_0:
		return Dead
	case uint32(windows.WAIT_TIMEOUT):
		return Alive
	default:
		return Unknown
	}
}

// NewChecker opens a handle to pid; if that fails it falls back to opening
// the process by id on every probe.
func NewChecker(pid int) Checker {
	h, err := windows.OpenProcess(windows.SYNCHRONIZE|windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return &handleChecker{pid: pid}
	}
	return &handleChecker{pid: pid, handle: h}
}

func probeByID(pid int) Status {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		if errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
			return Dead
		}
		return Unknown
	}
	defer windows.CloseHandle(h)
	var exitCode uint32
	if err := windows.GetExitCodeProcess(h, &exitCode); err != nil {
		return Unknown
	}
	if exitCode == stillActive {
		return Alive
	}
	return Dead
}
