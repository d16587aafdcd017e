//go:build linux

package liveness

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// pidfdChecker holds a pidfd opened at startup. A pidfd refers to one
// specific process, so a recycled pid cannot be mistaken for the parent.
type pidfdChecker struct {
	pid int
	fd  int
}

func (c *pidfdChecker) Probe(pid int) Status {
	if pid != c.pid {
		return probeByID(pid, 0)
	}
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return Unknown
		}
		if n > 0 && fds[0].Revents&(unix.POLLIN|unix.POLLHUP) != 0 {
			return Dead
		}
		return Alive
	}
}

// statChecker is the fallback when pidfds are unavailable. It compares the
// kernel start time recorded at startup to detect pid reuse.
type statChecker struct {
	pid       int
	startTime uint64
}

func (c *statChecker) Probe(pid int) Status {
	if pid != c.pid {
		return probeByID(pid, 0)
	}
	return probeByID(pid, c.startTime)
}

// NewChecker returns the most precise checker available for pid.
func NewChecker(pid int) Checker {
	if fd, err := unix.PidfdOpen(pid, 0); err == nil {
		return &pidfdChecker{pid: pid, fd: fd}
	}
	_, start, _ := processStat(pid)
	return &statChecker{pid: pid, startTime: start}
}

func probeByID(pid int, startTime uint64) Status {
	switch killStatus(pid) {
	case Dead:
		return Dead
	case Unknown:
		return Unknown
	}
	if startTime == 0 {
		return Alive
	}
	state, current, err := processStat(pid)
	if err != nil {
		if os.IsNotExist(err) {
			return Dead
		}
		return Unknown
	}
	if state == "Z" || current != startTime {
		return Dead
	}
	return Alive
}

// processStat returns the state letter and start time (clock ticks since
// boot) from /proc/<pid>/stat.
func processStat(pid int) (string, uint64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return "", 0, err
	}
	// pid (comm) state ... ; comm may contain spaces, so skip past ") ".
	payload := string(data)
	idx := strings.LastIndex(payload, ") ")
	if idx == -1 {
		return "", 0, fmt.Errorf("invalid stat format")
	}
	fields := strings.Fields(payload[idx+2:])
	// starttime is field 22 overall, index 19 after comm.
	if len(fields) < 20 {
		return "", 0, fmt.Errorf("short stat payload")
	}
	start, err := strconv.ParseUint(fields[19], 10, 64)
	if err != nil {
		return "", 0, err
	}
	return fields[0], start, nil
}
