package file

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/Jazzman94/agentai/internal/tools"
)

// WriteTool creates or overwrites a file inside the working root.
// Content is not length-bounded. Concurrent writes to one path race.
type WriteTool struct {
	logger *slog.Logger
}

// NewWriteTool creates the write_file tool.
func NewWriteTool(logger *slog.Logger) *WriteTool {
	return &WriteTool{logger: logger}
}

func (t *WriteTool) Name() string { return WriteName }
func (t *WriteTool) Description() string {
	return "Writes content to a file, constrained to the working directory. Creates missing parent directories and overwrites existing files."
}
func (t *WriteTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": pathSchema("The path to the file to write, relative to the working directory."),
			"content":   map[string]any{"type": "string", "description": "The full content to write to the file."},
		},
		"required": []string{"file_path", "content"},
	}
}

func (t *WriteTool) Validate(params map[string]any) error {
	if _, err := tools.RequireString(params, "file_path", false); err != nil {
		return err
	}
	_, err := tools.RequireString(params, "content", true)
	return err
}

func (t *WriteTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	root, err := tools.Root(params)
	if err != nil {
		return nil, err
	}
	rel, err := tools.RequireString(params, "file_path", false)
	if err != nil {
		return nil, err
	}
	content, err := tools.RequireString(params, "content", true)
	if err != nil {
		return nil, err
	}
	path, err := tools.Contain(root, rel, "write to")
	if err != nil {
		return nil, err
	}

	t.logger.InfoContext(ctx, "write_file executing",
		slog.String("path", path),
		slog.Int("content_size", len(content)),
	)

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, ioError(err, "Error: creating parent directory for \"%s\"", rel)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, ioError(err, "Error: writing \"%s\"", rel)
	}

	chars := utf8.RuneCountInString(content)
	return &tools.Result{
		Output:  fmt.Sprintf("Successfully wrote to \"%s\" (%d characters written)", rel, chars),
		Success: true,
		Metadata: map[string]any{
			"path":       path,
			"size_bytes": len(content),
			"chars":      chars,
		},
	}, nil
}
