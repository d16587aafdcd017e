package bootstrap

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"dprint-plugin-yapf/internal/util"
)

// Invocation is a single installer child process. Env holds variables set
// only for that child on top of the supervisor's environment.
type Invocation struct {
	Path string
	Args []string
	Dir  string
	Env  map[string]string
}

func (inv Invocation) String() string {
	return strings.Join(append([]string{inv.Path}, inv.Args...), " ")
}

// Runner executes installer commands and returns their combined output.
type Runner interface {
	Run(ctx context.Context, inv Invocation) ([]byte, error)
}

// waitDelay bounds how long Wait keeps reading output after cancellation.
// Build backends started by pip may inherit the output pipe.
const waitDelay = 2 * time.Second

// ExecRunner runs invocations as real child processes. Cancelling ctx stops
// the installer together with every process it started.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, inv Invocation) ([]byte, error) {
	cmd := exec.CommandContext(ctx, inv.Path, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = util.MergeEnv(os.Environ(), inv.Env)
	setProcessGroup(cmd)
	cmd.WaitDelay = waitDelay
	return cmd.CombinedOutput()
}
