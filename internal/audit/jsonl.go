package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// JSONLRecorder writes audit entries as append-only JSONL.
// Each entry is a single JSON line followed by a newline.
// Thread-safe: multiple goroutines can record concurrently.
type JSONLRecorder struct {
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
}

// NewJSONLRecorder opens (or creates) the audit log file in append-only mode.
// File permissions are 0600 (owner read/write only).
func NewJSONLRecorder(path string, logger *slog.Logger) (*JSONLRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", path, err)
	}
	return &JSONLRecorder{
		file:   f,
		logger: logger,
	}, nil
}

// Record serializes the entry as JSON and appends it to the audit log.
// Marshal happens outside the lock; only the file write is serialized.
func (a *JSONLRecorder) Record(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}
	data = append(data, '\n')

	a.mu.Lock()
	_, writeErr := a.file.Write(data)
	a.mu.Unlock()

	if writeErr != nil {
		return fmt.Errorf("writing audit entry: %w", writeErr)
	}

	a.logger.DebugContext(ctx, "audit entry recorded",
		slog.String("operation", e.Operation),
		slog.String("caller", e.Caller),
		slog.Bool("success", e.Success),
		slog.String("call_id", e.CallID),
	)

	return nil
}

// Close closes the underlying file.
func (a *JSONLRecorder) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}
