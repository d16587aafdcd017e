//go:build windows

package launcher

import "os"

// The worker shares the console and receives Ctrl+C itself.
var forwardedSignals []os.Signal

func terminate(p *os.Process) error {
	return p.Kill()
}

func exitCode(state *os.ProcessState) int {
	return state.ExitCode()
}
