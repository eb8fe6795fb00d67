package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
	"unicode/utf8"
)

const (
	// defaultMaxOutputBytes caps stdout/stderr to prevent OOM from chatty scripts.
	defaultMaxOutputBytes = 1 << 20 // 1 MB

	defaultTimeout = 30 * time.Second

	// waitDelay bounds how long Wait blocks on pipes held open by orphaned
	// grandchildren after the process group was killed.
	waitDelay = 2 * time.Second
)

// ProcessConfig configures the process-based sandbox.
type ProcessConfig struct {
	DefaultTimeout time.Duration
	DefaultLimits  ResourceLimits
	MaxOutputBytes int
}

// ProcessSandbox executes commands as OS processes.
//
// Guarantees:
//   - Process runs in its own process group (Setpgid)
//   - Entire process group killed on timeout/cancel, then reaped
//   - No environment inheritance from parent, only a minimal safe set
//   - Optional CPU/memory limits enforced via ulimit
//   - stdout/stderr capped per stream
type ProcessSandbox struct {
	defaultTimeout time.Duration
	defaultLimits  ResourceLimits
	maxOutput      int
	logger         *slog.Logger
}

// NewProcessSandbox creates a process-based sandbox.
func NewProcessSandbox(cfg ProcessConfig, logger *slog.Logger) *ProcessSandbox {
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxOutput := cfg.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutputBytes
	}
	return &ProcessSandbox{
		defaultTimeout: timeout,
		defaultLimits:  cfg.DefaultLimits,
		maxOutput:      maxOutput,
		logger:         logger,
	}
}

// Execute runs a command and waits for it, its timeout, or ctx cancellation.
func (s *ProcessSandbox) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if len(req.Command) == 0 || req.Command[0] == "" {
		return nil, ErrEmptyCommand
	}

	// Resolve the program against the host PATH; the child gets a reduced PATH.
	program, err := exec.LookPath(req.Command[0])
	if err != nil {
		return nil, fmt.Errorf("starting %s: %w", req.Command[0], err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tmpDir, err := os.MkdirTemp("", "agentai-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("creating sandbox temp dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			s.logger.Warn("failed to remove sandbox temp dir",
				slog.String("dir", tmpDir),
				slog.String("error", rmErr.Error()),
			)
		}
	}()

	limits := s.defaultLimits
	var cmd *exec.Cmd
	if limits.enabled() {
		// sh -c 'ulimit ...; exec "$@"' _ program args...
		// The command is passed as positional parameters, never interpolated.
		shellScript := fmt.Sprintf("%s exec \"$@\"", ulimitPrefix(limits))
		args := make([]string, 0, 3+len(req.Command))
		args = append(args, "-c", shellScript, "_", program)
		args = append(args, req.Command[1:]...)
		cmd = exec.CommandContext(ctx, "/bin/sh", args...)
	} else {
		cmd = exec.CommandContext(ctx, program, req.Command[1:]...)
	}

	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	} else {
		cmd.Dir = tmpDir
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative PID = the whole process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay
	cmd.Env = s.buildEnv(tmpDir, req.Env)

	stdout := newLimitedBuffer(s.maxOutput)
	stderr := newLimitedBuffer(s.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	s.logger.Info("sandbox executing",
		slog.Any("command", req.Command),
		slog.String("dir", cmd.Dir),
		slog.Int("memory_limit_mb", limits.MaxMemoryMB),
		slog.Int("cpu_limit_sec", limits.MaxCPUSeconds),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if runErr != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			s.logger.Warn("sandbox execution timed out",
				slog.Duration("timeout", timeout),
				slog.Duration("duration", duration),
			)
			return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		case ctx.Err() != nil:
			return nil, fmt.Errorf("execution canceled: %w", ctx.Err())
		}

		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("execution failed: %w", runErr)
		}
		exitCode = exitStatus(exitErr)
	}

	s.logger.Info("sandbox execution completed",
		slog.Int("exit_code", exitCode),
		slog.Duration("duration", duration),
		slog.Int64("stdout_bytes", stdout.Written()),
		slog.Int64("stderr_bytes", stderr.Written()),
	)

	return &ExecutionResult{
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		ExitCode:        exitCode,
		Duration:        duration,
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
	}, nil
}

// exitStatus is the child's exit code, or minus the signal number when a
// signal ended it (SIGKILL from ulimit or the OOM killer reads as -9).
func exitStatus(exitErr *exec.ExitError) int {
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return exitErr.ExitCode()
}

func ulimitPrefix(l ResourceLimits) string {
	var b bytes.Buffer
	if l.MaxMemoryMB > 0 {
		fmt.Fprintf(&b, "ulimit -v %d 2>/dev/null;", l.MaxMemoryMB*1024)
	}
	if l.MaxCPUSeconds > 0 {
		fmt.Fprintf(&b, " ulimit -t %d 2>/dev/null;", l.MaxCPUSeconds)
	}
	return b.String()
}

// buildEnv constructs a minimal environment. The parent's environment is
// never inherited, so API keys loaded from .env do not reach scripts.
func (s *ProcessSandbox) buildEnv(tmpDir string, extra map[string]string) []string {
	env := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + tmpDir,
		"TMPDIR=" + tmpDir,
		"LANG=en_US.UTF-8",
		"TERM=dumb",
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// limitedBuffer keeps the first limit bytes written and discards the rest.
// Writes never fail, so a chatty child is not killed by SIGPIPE.
type limitedBuffer struct {
	limit     int
	buf       bytes.Buffer
	written   int64
	truncated bool
}

func newLimitedBuffer(limit int) *limitedBuffer {
	return &limitedBuffer{limit: limit}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.written += int64(len(p))
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

// String returns the kept bytes. When the cap split a multi-byte character,
// its leading bytes are dropped so the text stays valid UTF-8.
func (b *limitedBuffer) String() string {
	data := b.buf.Bytes()
	if b.truncated {
		data = trimPartialRune(data)
	}
	return string(data)
}

func (b *limitedBuffer) Truncated() bool { return b.truncated }
func (b *limitedBuffer) Written() int64  { return b.written }

// trimPartialRune drops an incomplete UTF-8 sequence at the end of p.
func trimPartialRune(p []byte) []byte {
	for i := 1; i <= utf8.UTFMax && i <= len(p); i++ {
		start := len(p) - i
		if utf8.RuneStart(p[start]) {
			if !utf8.FullRune(p[start:]) {
				return p[:start]
			}
			return p
		}
	}
	return p
}
