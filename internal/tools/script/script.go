// Package script implements run_python_file: executing a script that lives
// inside the working root as a sandboxed child process.
//
// Security:
//   - The script path goes through the path guard before anything is spawned
//   - Only files with the configured extension are run
//   - The child runs in its own process group with cwd = working root
//   - Wall-clock timeout kills the whole group; output is capped per stream
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Jazzman94/agentai/internal/sandbox"
	"github.com/Jazzman94/agentai/internal/tools"
)

// Name is the operation name declared to orchestrators.
const Name = "run_python_file"

const (
	defaultInterpreter   = "python3"
	defaultExtension     = ".py"
	defaultTimeout       = 30 * time.Second
	defaultMaxConcurrent = 4

	truncationNotice = "\n[... output truncated]"
)

// baseEnv keeps the interpreter from writing __pycache__ into the working
// root and flushes output as it is written, so a killed script still shows
// what it printed.
var baseEnv = map[string]string{
	"PYTHONDONTWRITEBYTECODE": "1",
	"PYTHONUNBUFFERED":        "1",
	"PYTHONIOENCODING":        "utf-8",
}

// Config configures the script runner.
type Config struct {
	Interpreter   string            // Program used to run scripts. Default "python3".
	Extension     string            // Required file suffix. Default ".py".
	Timeout       time.Duration     // Wall-clock budget per run. Default 30s.
	MaxConcurrent int               // Scripts allowed to run at once. Default 4.
	Env           map[string]string // Added to baseEnv; entries here win.
}

func (c Config) withDefaults() Config {
	if c.Interpreter == "" {
		c.Interpreter = defaultInterpreter
	}
	if c.Extension == "" {
		c.Extension = defaultExtension
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	env := make(map[string]string, len(baseEnv)+len(c.Env))
	for k, v := range baseEnv {
		env[k] = v
	}
	for k, v := range c.Env {
		env[k] = v
	}
	c.Env = env
	return c
}

// RunTool runs a script file through a sandbox.
type RunTool struct {
	config  Config
	sandbox sandbox.Sandbox
	slots   *semaphore.Weighted
	logger  *slog.Logger
}

// NewRunTool creates the run_python_file tool.
func NewRunTool(cfg Config, sbx sandbox.Sandbox, logger *slog.Logger) *RunTool {
	cfg = cfg.withDefaults()
	return &RunTool{
		config:  cfg,
		sandbox: sbx,
		slots:   semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger:  logger,
	}
}

func (t *RunTool) Name() string { return Name }
func (t *RunTool) Description() string {
	return fmt.Sprintf("Executes a Python file within the working directory and returns its output. Runs are killed after %s.", t.config.Timeout)
}
func (t *RunTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{"type": "string", "description": "The path to the Python file to execute, relative to the working directory."},
		},
		"required": []string{"file_path"},
	}
}

func (t *RunTool) Validate(params map[string]any) error {
	_, err := tools.RequireString(params, "file_path", false)
	return err
}

func (t *RunTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	root, err := tools.Root(params)
	if err != nil {
		return nil, err
	}
	rel, err := tools.RequireString(params, "file_path", false)
	if err != nil {
		return nil, err
	}
	path, err := tools.Contain(root, rel, "execute")
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, tools.NewError(tools.KindNotFound, nil, "Error: File \"%s\" not found.", rel)
	}
	if !strings.HasSuffix(rel, t.config.Extension) {
		return nil, tools.NewError(tools.KindPolicy, nil, "Error: \"%s\" is not a Python file.", rel)
	}
	if !info.Mode().IsRegular() {
		return nil, tools.NewError(tools.KindNotFound, nil, "Error: File \"%s\" not found.", rel)
	}

	if err := t.slots.Acquire(ctx, 1); err != nil {
		return nil, execError(err)
	}
	defer t.slots.Release(1)

	t.logger.InfoContext(ctx, "run_python_file executing",
		slog.String("path", path),
		slog.String("interpreter", t.config.Interpreter),
	)

	result, err := t.sandbox.Execute(ctx, sandbox.ExecutionRequest{
		Command:    []string{t.config.Interpreter, path},
		WorkingDir: root,
		Env:        t.config.Env,
		Timeout:    t.config.Timeout,
	})
	if err != nil {
		return nil, execError(err)
	}

	res := &tools.Result{
		Output:  formatOutput(result),
		Success: result.ExitCode == 0,
		Metadata: map[string]any{
			"path":             path,
			"exit_code":        result.ExitCode,
			"duration":         result.Duration.String(),
			"stdout_truncated": result.StdoutTruncated,
			"stderr_truncated": result.StderrTruncated,
		},
	}
	if !res.Success {
		res.Kind = tools.KindNonZeroExit
	}
	return res, nil
}

// execError classifies a failure to run the process to completion.
func execError(err error) error {
	switch {
	case errors.Is(err, sandbox.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return tools.NewError(tools.KindTimeout, err, "Error: executing Python file")
	case errors.Is(err, context.Canceled):
		return tools.NewError(tools.KindInternal, err, "Error: executing Python file")
	default:
		return tools.NewError(tools.KindSpawn, err, "Error: executing Python file")
	}
}

// formatOutput renders a finished process as STDOUT/STDERR sections plus the
// exit code when non-zero, or "No output produced".
func formatOutput(r *sandbox.ExecutionResult) string {
	var lines []string
	if r.Stdout != "" {
		out := r.Stdout
		if r.StdoutTruncated {
			out += truncationNotice
		}
		lines = append(lines, "STDOUT:", out)
	}
	if r.Stderr != "" {
		out := r.Stderr
		if r.StderrTruncated {
			out += truncationNotice
		}
		lines = append(lines, "STDERR:", out)
	}
	if r.ExitCode != 0 {
		lines = append(lines, fmt.Sprintf("Process exited with code %d", r.ExitCode))
	}
	if len(lines) == 0 {
		return "No output produced"
	}
	return strings.Join(lines, "\n")
}
