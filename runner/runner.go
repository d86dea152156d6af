// Package runner invokes external compiler and linter binaries.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// ErrInvocation is returned when the process could not be started or was
// killed by ctx. A process that starts and exits non-zero is not an error.
var ErrInvocation = errors.New("tool invocation failed")

// Result holds the captured output of one process run
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner runs a single external process scoped to a working directory.
// It neither creates nor removes dir.
type Runner interface {
	Run(ctx context.Context, name string, args []string, dir string) (Result, error)
}

// DefaultWaitDelay is how long Run waits for output pipes to close after
// the process is killed.
const DefaultWaitDelay = 2 * time.Second

// Exec runs binaries found on PATH
type Exec struct {
	logger    *zap.Logger
	waitDelay time.Duration
}

// NewExec creates an Exec runner
func NewExec(logger *zap.Logger) *Exec {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exec{logger: logger, waitDelay: DefaultWaitDelay}
}

// Run executes name with args in dir. Cancelling ctx kills the process and
// every child in its process group.
func (e *Exec) Run(ctx context.Context, name string, args []string, dir string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = e.waitDelay
	setProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("running tool", zap.String("tool", name), zap.Strings("args", args), zap.String("dir", dir))

	err := cmd.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case ctx.Err() != nil:
		res.ExitCode = -1
		return res, fmt.Errorf("%w: %s: %v", ErrInvocation, name, ctx.Err())
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		e.logger.Debug("tool exited non-zero", zap.String("tool", name), zap.Int("exit_code", res.ExitCode))
		return res, nil
	default:
		res.ExitCode = -1
		return res, fmt.Errorf("%w: %s: %v", ErrInvocation, name, err)
	}
}
