//go:build windows

package bootstrap

import "os/exec"

// setProcessGroup keeps the default cancellation, which kills the installer.
// WaitDelay still bounds the wait when pip's children hold the output pipe.
func setProcessGroup(cmd *exec.Cmd) {}
