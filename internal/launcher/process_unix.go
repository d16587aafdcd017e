//go:build !windows

package launcher

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

var forwardedSignals = []os.Signal{unix.SIGINT, unix.SIGTERM, unix.SIGHUP}

func terminate(p *os.Process) error {
	return p.Signal(unix.SIGTERM)
}

// exitCode mirrors shell convention: 128+n for a worker killed by signal n.
func exitCode(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
