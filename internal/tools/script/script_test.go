package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Jazzman94/agentai/internal/sandbox"
	"github.com/Jazzman94/agentai/internal/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// skipIfNoPython skips the test if python3 is unavailable.
func skipIfNoPython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available, skipping integration test")
	}
}

func newRoot(t *testing.T) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return root
}

func writeScript(t *testing.T, root, name, body string) {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func execute(t *testing.T, tool *RunTool, root, rel string) (*tools.Result, error) {
	t.Helper()
	return tool.Execute(context.Background(), map[string]any{
		tools.RootParam: root,
		"file_path":     rel,
	})
}

// fakeSandbox returns a canned result or error and records requests.
type fakeSandbox struct {
	mu       sync.Mutex
	result   *sandbox.ExecutionResult
	err      error
	requests []sandbox.ExecutionRequest
}

func (f *fakeSandbox) Execute(_ context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.result, f.err
}

func TestFormatOutput(t *testing.T) {
	tests := []struct {
		name string
		in   sandbox.ExecutionResult
		want string
	}{
		{"nothing", sandbox.ExecutionResult{}, "No output produced"},
		{"stdout only", sandbox.ExecutionResult{Stdout: "hello\n"}, "STDOUT:\nhello\n"},
		{"stderr only", sandbox.ExecutionResult{Stderr: "warn\n"}, "STDERR:\nwarn\n"},
		{"both", sandbox.ExecutionResult{Stdout: "a\n", Stderr: "b\n"}, "STDOUT:\na\n\nSTDERR:\nb\n"},
		{"exit only", sandbox.ExecutionResult{ExitCode: 2}, "Process exited with code 2"},
		{"stderr and exit", sandbox.ExecutionResult{Stderr: "boom\n", ExitCode: 1}, "STDERR:\nboom\n\nProcess exited with code 1"},
		{"truncated stdout", sandbox.ExecutionResult{Stdout: "xxxx", StdoutTruncated: true}, "STDOUT:\nxxxx\n[... output truncated]"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := formatOutput(&tc.in); got != tc.want {
				t.Errorf("formatOutput = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRunTool_RequestShape(t *testing.T) {
	root := newRoot(t)
	writeScript(t, root, "pkg/main.py", "print('x')\n")
	sbx := &fakeSandbox{result: &sandbox.ExecutionResult{Stdout: "x\n"}}
	tool := NewRunTool(Config{Timeout: 5 * time.Second}, sbx, testLogger())

	res, err := execute(t, tool, root, "pkg/main.py")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.Kind != "" {
		t.Errorf("Success = %v, Kind = %q, want success", res.Success, res.Kind)
	}
	if len(sbx.requests) != 1 {
		t.Fatalf("sandbox called %d times, want 1", len(sbx.requests))
	}
	req := sbx.requests[0]
	want := []string{"python3", filepath.Join(root, "pkg", "main.py")}
	if strings.Join(req.Command, " ") != strings.Join(want, " ") {
		t.Errorf("Command = %q, want %q", req.Command, want)
	}
	if req.WorkingDir != root {
		t.Errorf("WorkingDir = %q, want %q", req.WorkingDir, root)
	}
	if req.Timeout != 5*time.Second {
		t.Errorf("Timeout = %s, want 5s", req.Timeout)
	}
	if req.Env["PYTHONDONTWRITEBYTECODE"] != "1" || req.Env["PYTHONUNBUFFERED"] != "1" {
		t.Errorf("Env = %v, want interpreter defaults", req.Env)
	}
}

func TestRunTool_NonZeroExitIsResult(t *testing.T) {
	root := newRoot(t)
	writeScript(t, root, "fail.py", "")
	sbx := &fakeSandbox{result: &sandbox.ExecutionResult{Stderr: "bad\n", ExitCode: 3}}

	res, err := execute(t, NewRunTool(Config{}, sbx, testLogger()), root, "fail.py")
	if err != nil {
		t.Fatalf("Execute returned error for non-zero exit: %v", err)
	}
	if res.Success {
		t.Error("Success = true, want false")
	}
	if res.Kind != tools.KindNonZeroExit {
		t.Errorf("Kind = %q, want %q", res.Kind, tools.KindNonZeroExit)
	}
	if !strings.HasSuffix(res.Output, "Process exited with code 3") {
		t.Errorf("Output = %q", res.Output)
	}
	if res.Metadata["exit_code"] != 3 {
		t.Errorf("exit_code = %v, want 3", res.Metadata["exit_code"])
	}
}

func TestRunTool_SandboxErrors(t *testing.T) {
	root := newRoot(t)
	writeScript(t, root, "main.py", "")

	tests := []struct {
		name string
		err  error
		kind tools.ErrorKind
		msg  string
	}{
		{"timeout", fmt.Errorf("%w after 30s", sandbox.ErrTimeout), tools.KindTimeout,
			"Error: executing Python file: execution timed out after 30s"},
		{"spawn", fmt.Errorf("starting python3: %w", exec.ErrNotFound), tools.KindSpawn,
			"Error: executing Python file: starting python3: executable file not found in $PATH"},
		{"canceled", fmt.Errorf("execution canceled: %w", context.Canceled), tools.KindInternal,
			"Error: executing Python file: execution canceled: context canceled"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := execute(t, NewRunTool(Config{}, &fakeSandbox{err: tc.err}, testLogger()), root, "main.py")
			if !tools.IsKind(err, tc.kind) {
				t.Fatalf("err = %v (kind %s), want kind %s", err, tools.KindOf(err), tc.kind)
			}
			if err.Error() != tc.msg {
				t.Errorf("error = %q, want %q", err.Error(), tc.msg)
			}
		})
	}
}

func TestRunTool_Rejections(t *testing.T) {
	root := newRoot(t)
	writeScript(t, root, "notes.txt", "hello")
	if err := os.MkdirAll(filepath.Join(root, "dir.py"), 0750); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		kind tools.ErrorKind
		msg  string
	}{
		{"outside", "../main.py", tools.KindContainment,
			`Error: Cannot execute "../main.py" as it is outside the permitted working directory`},
		{"missing", "nope.py", tools.KindNotFound, `Error: File "nope.py" not found.`},
		{"not python", "notes.txt", tools.KindPolicy, `Error: "notes.txt" is not a Python file.`},
		{"directory", "dir.py", tools.KindNotFound, `Error: File "dir.py" not found.`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sbx := &fakeSandbox{result: &sandbox.ExecutionResult{}}
			_, err := execute(t, NewRunTool(Config{}, sbx, testLogger()), root, tc.path)
			if !tools.IsKind(err, tc.kind) {
				t.Fatalf("err = %v (kind %s), want kind %s", err, tools.KindOf(err), tc.kind)
			}
			if err.Error() != tc.msg {
				t.Errorf("error = %q, want %q", err.Error(), tc.msg)
			}
			if len(sbx.requests) != 0 {
				t.Error("sandbox was invoked for a rejected script")
			}
		})
	}
}

// blockingSandbox tracks how many executions overlap.
type blockingSandbox struct {
	running atomic.Int32
	peak    atomic.Int32
	release chan struct{}
}

func (b *blockingSandbox) Execute(ctx context.Context, _ sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	n := b.running.Add(1)
	defer b.running.Add(-1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &sandbox.ExecutionResult{}, nil
}

func TestRunTool_ConcurrencyCap(t *testing.T) {
	root := newRoot(t)
	writeScript(t, root, "main.py", "")
	sbx := &blockingSandbox{release: make(chan struct{})}
	tool := NewRunTool(Config{MaxConcurrent: 2}, sbx, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := execute(t, tool, root, "main.py"); err != nil {
				t.Errorf("Execute: %v", err)
			}
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(sbx.release)
	wg.Wait()

	if peak := sbx.peak.Load(); peak > 2 {
		t.Errorf("peak concurrent runs = %d, want <= 2", peak)
	}
}

func TestRunTool_WaitRespectsContext(t *testing.T) {
	root := newRoot(t)
	writeScript(t, root, "main.py", "")
	sbx := &blockingSandbox{release: make(chan struct{})}
	defer close(sbx.release)
	tool := NewRunTool(Config{MaxConcurrent: 1}, sbx, testLogger())

	go func() {
		_, _ = execute(t, tool, root, "main.py")
	}()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := tool.Execute(ctx, map[string]any{tools.RootParam: root, "file_path": "main.py"})
	if !tools.IsKind(err, tools.KindTimeout) {
		t.Errorf("err = %v, want timeout while waiting for a slot", err)
	}
}

// ---- integration with the process sandbox ----

func newIntegrationTool(t *testing.T, cfg Config) *RunTool {
	t.Helper()
	skipIfNoPython(t)
	sbx := sandbox.NewProcessSandbox(sandbox.ProcessConfig{}, testLogger())
	return NewRunTool(cfg, sbx, testLogger())
}

func TestRunTool_Python(t *testing.T) {
	tool := newIntegrationTool(t, Config{})
	root := newRoot(t)
	writeScript(t, root, "main.py", "import os\nprint('hi')\nprint(os.getcwd())\n")

	res, err := execute(t, tool, root, "main.py")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if want := "STDOUT:\nhi\n" + root + "\n"; res.Output != want {
		t.Errorf("Output = %q, want %q", res.Output, want)
	}
}

func TestRunTool_PythonExitCode(t *testing.T) {
	tool := newIntegrationTool(t, Config{})
	root := newRoot(t)
	writeScript(t, root, "fail.py", "import sys\nsys.exit(2)\n")

	res, err := execute(t, tool, root, "fail.py")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != "Process exited with code 2" {
		t.Errorf("Output = %q", res.Output)
	}
	if res.Kind != tools.KindNonZeroExit {
		t.Errorf("Kind = %q", res.Kind)
	}
}

func TestRunTool_PythonKilledBySignal(t *testing.T) {
	tool := newIntegrationTool(t, Config{})
	root := newRoot(t)
	writeScript(t, root, "die.py", "import os, signal\nprint('x')\nos.kill(os.getpid(), signal.SIGKILL)\n")

	res, err := execute(t, tool, root, "die.py")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if want := "STDOUT:\nx\n\nProcess exited with code -9"; res.Output != want {
		t.Errorf("Output = %q, want %q", res.Output, want)
	}
	if res.Kind != tools.KindNonZeroExit || res.Metadata["exit_code"] != -9 {
		t.Errorf("Kind = %q, exit_code = %v", res.Kind, res.Metadata["exit_code"])
	}
}

func TestRunTool_PythonNoOutput(t *testing.T) {
	tool := newIntegrationTool(t, Config{})
	root := newRoot(t)
	writeScript(t, root, "quiet.py", "x = 1\n")

	res, err := execute(t, tool, root, "quiet.py")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != "No output produced" {
		t.Errorf("Output = %q", res.Output)
	}
}

func TestRunTool_PythonTimeout(t *testing.T) {
	tool := newIntegrationTool(t, Config{Timeout: 500 * time.Millisecond})
	root := newRoot(t)
	writeScript(t, root, "loop.py", "while True:\n    pass\n")

	start := time.Now()
	_, err := execute(t, tool, root, "loop.py")
	if !tools.IsKind(err, tools.KindTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if !errors.Is(err, sandbox.ErrTimeout) {
		t.Errorf("err does not wrap sandbox.ErrTimeout: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("timeout took %s", elapsed)
	}
}
