// Package file implements the filesystem tools: get_files_info,
// get_file_content and write_file.
//
// Every caller-supplied path goes through the path guard before any I/O,
// relative to the working root the dispatcher injects.
package file

import (
	"log/slog"

	"github.com/Jazzman94/agentai/internal/tools"
)

// Operation names as declared to orchestrators.
const (
	ListName  = "get_files_info"
	ReadName  = "get_file_content"
	WriteName = "write_file"
)

// DefaultMaxChars is the read ceiling, in characters.
const DefaultMaxChars = 10000

// Config configures the file tools.
type Config struct {
	// MaxChars caps get_file_content output. Zero = DefaultMaxChars.
	MaxChars int
}

func (c Config) maxChars() int {
	if c.MaxChars > 0 {
		return c.MaxChars
	}
	return DefaultMaxChars
}

// New returns the three file tools sharing one config.
func New(cfg Config, logger *slog.Logger) []tools.Tool {
	return []tools.Tool{
		NewListTool(logger),
		NewReadTool(cfg, logger),
		NewWriteTool(logger),
	}
}

// ioError wraps an OS error as an io_failure, keeping the cause in the message.
func ioError(err error, format string, args ...any) error {
	return tools.NewError(tools.KindIO, err, format, args...)
}

func pathSchema(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}
