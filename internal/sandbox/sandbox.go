// Package sandbox runs external programs as bounded child processes.
// Scripts never run directly on the host: every spawn goes through a Sandbox.
package sandbox

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned (wrapped) when a process exceeds its wall-clock budget.
	// The process group has been killed and reaped by the time it is returned.
	ErrTimeout = errors.New("execution timed out")

	// ErrEmptyCommand is returned when a request has no program to run.
	ErrEmptyCommand = errors.New("empty command")
)

// Sandbox executes commands in a constrained environment.
type Sandbox interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// ExecutionRequest defines what to run and under what constraints.
type ExecutionRequest struct {
	// Command is the program and arguments to execute (e.g. ["python3", "/srv/app/main.py"]).
	Command []string

	// WorkingDir is the child's working directory. Empty = isolated temp dir.
	WorkingDir string

	// Env adds extra environment variables to the sanitized base set.
	Env map[string]string

	// Timeout overrides the sandbox default. Zero = use default.
	Timeout time.Duration
}

// ResourceLimits constrains the sandboxed process. Zero disables a limit.
type ResourceLimits struct {
	MaxCPUSeconds int // CPU time limit (ulimit -t).
	MaxMemoryMB   int // Virtual memory limit in MB (ulimit -v).
}

func (l ResourceLimits) enabled() bool {
	return l.MaxCPUSeconds > 0 || l.MaxMemoryMB > 0
}

// ExecutionResult captures the outcome of a process that ran to completion.
// A non-zero exit code is a result, not an error.
type ExecutionResult struct {
	Stdout          string
	Stderr          string
	ExitCode        int
	Duration        time.Duration
	StdoutTruncated bool
	StderrTruncated bool
}
