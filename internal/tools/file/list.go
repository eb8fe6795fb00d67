package file

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Jazzman94/agentai/internal/tools"
)

// ListTool lists the immediate children of a directory with size and type.
type ListTool struct {
	logger *slog.Logger
}

// NewListTool creates the get_files_info tool.
func NewListTool(logger *slog.Logger) *ListTool {
	return &ListTool{logger: logger}
}

func (t *ListTool) Name() string { return ListName }
func (t *ListTool) Description() string {
	return "Lists files in the specified directory along with their sizes, constrained to the working directory."
}
func (t *ListTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"directory": pathSchema("The directory to list files from, relative to the working directory. If not provided, lists files in the working directory itself."),
		},
	}
}

func (t *ListTool) Validate(params map[string]any) error {
	_, err := tools.OptionalString(params, "directory", ".")
	return err
}

func (t *ListTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	root, err := tools.Root(params)
	if err != nil {
		return nil, err
	}
	rel, err := tools.OptionalString(params, "directory", ".")
	if err != nil {
		return nil, err
	}
	path, err := tools.Contain(root, rel, "list")
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, tools.NewError(tools.KindNotFound, nil, "Error: \"%s\" is not a directory", rel)
	}

	t.logger.InfoContext(ctx, "get_files_info executing", slog.String("path", path))

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, ioError(err, "Error: listing \"%s\"", rel)
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		var size int64
		// Directory sizes are filesystem-dependent; report 0.
		if !e.IsDir() {
			if fi, err := e.Info(); err == nil {
				size = fi.Size()
			}
		}
		lines = append(lines, fmt.Sprintf("- %s: file_size=%d bytes, is_dir=%t", e.Name(), size, e.IsDir()))
	}

	output := strings.Join(lines, "\n")
	if len(lines) == 0 {
		output = fmt.Sprintf("Directory \"%s\" is empty", rel)
	}
	return &tools.Result{
		Output:  output,
		Success: true,
		Metadata: map[string]any{
			"path":  path,
			"count": len(entries),
		},
	}, nil
}
