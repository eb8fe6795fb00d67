package file

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/Jazzman94/agentai/internal/tools"
)

// ReadTool returns the first MaxChars characters of a regular file.
type ReadTool struct {
	config Config
	logger *slog.Logger
}

// NewReadTool creates the get_file_content tool.
func NewReadTool(cfg Config, logger *slog.Logger) *ReadTool {
	return &ReadTool{config: cfg, logger: logger}
}

func (t *ReadTool) Name() string { return ReadName }
func (t *ReadTool) Description() string {
	return fmt.Sprintf("Reads the content of a file, constrained to the working directory. Content beyond %d characters is truncated.", t.config.maxChars())
}
func (t *ReadTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": pathSchema("The path to the file to read, relative to the working directory."),
		},
		"required": []string{"file_path"},
	}
}

func (t *ReadTool) Validate(params map[string]any) error {
	_, err := tools.RequireString(params, "file_path", false)
	return err
}

func (t *ReadTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	root, err := tools.Root(params)
	if err != nil {
		return nil, err
	}
	rel, err := tools.RequireString(params, "file_path", false)
	if err != nil {
		return nil, err
	}
	path, err := tools.Contain(root, rel, "read")
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, tools.NewError(tools.KindNotFound, nil,
			"Error: File not found or is not a regular file: \"%s\"", rel)
	}

	t.logger.InfoContext(ctx, "get_file_content executing",
		slog.String("path", path),
		slog.Int64("size_bytes", info.Size()),
	)

	content, truncated, err := readChars(path, t.config.maxChars())
	if err != nil {
		return nil, ioError(err, "Error reading file")
	}
	if truncated {
		content += fmt.Sprintf("[...File \"%s\" truncated at %d characters]", rel, t.config.maxChars())
	}

	return &tools.Result{
		Output:  content,
		Success: true,
		Metadata: map[string]any{
			"path":       path,
			"size_bytes": info.Size(),
			"truncated":  truncated,
		},
	}, nil
}

var errInvalidUTF8 = errors.New("invalid UTF-8 text")

// readChars reads at most limit runes from path. truncated reports whether
// any content remains after them. Only limit+1 runes are ever decoded.
func readChars(path string, limit int) (content string, truncated bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var b strings.Builder
	for n := 0; n < limit; n++ {
		ch, size, err := r.ReadRune()
		if errors.Is(err, io.EOF) {
			return b.String(), false, nil
		}
		if err != nil {
			return "", false, err
		}
		if ch == utf8.RuneError && size == 1 {
			return "", false, fmt.Errorf("%w at character %d", errInvalidUTF8, n)
		}
		b.WriteRune(ch)
	}

	if _, _, err := r.ReadRune(); err != nil {
		if errors.Is(err, io.EOF) {
			return b.String(), false, nil
		}
		return "", false, err
	}
	return b.String(), true, nil
}
