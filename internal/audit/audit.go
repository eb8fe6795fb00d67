// Package audit records an append-only trail of dispatched calls.
//
// Two backends exist: a JSONL file (default, zero-config) and a relational
// store (SQLite or PostgreSQL through internal/storage). Both are written
// through the Recorder interface; the dispatcher never knows which one is in use.
package audit

import (
	"context"
	"time"
	"unicode/utf8"
)

// Entry is one dispatched call as seen by the audit trail.
type Entry struct {
	Timestamp  time.Time      `json:"timestamp"`
	CallID     string         `json:"call_id"`
	Caller     string         `json:"caller,omitempty"`
	Operation  string         `json:"operation"`
	Root       string         `json:"root"`
	Args       map[string]any `json:"args,omitempty"`
	Success    bool           `json:"success"`
	Kind       string         `json:"kind,omitempty"`
	Output     string         `json:"output,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

// Recorder persists audit entries. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	Close() error
}

// Store is the persistence contract implemented by the relational backends.
// Entries are never updated; old ones are removed only through Pruner.
type Store interface {
	Append(ctx context.Context, e Entry) error
	// Recent returns up to limit entries, newest first. If operation is
	// non-empty only that operation is returned.
	Recent(ctx context.Context, operation string, limit int) ([]Entry, error)
}

// Pruner removes entries older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

const (
	argPreviewChars    = 256
	outputPreviewChars = 512
)

// NewEntry builds an entry with argument values and output clipped to a
// preview length, so large file contents never land in the trail whole.
func NewEntry(callID, operation, root string, args map[string]any, success bool, kind, output string, took time.Duration) Entry {
	var clipped map[string]any
	if len(args) > 0 {
		clipped = make(map[string]any, len(args))
		for k, v := range args {
			if s, ok := v.(string); ok {
				v = clip(s, argPreviewChars)
			}
			clipped[k] = v
		}
	}
	return Entry{
		Timestamp:  time.Now().UTC(),
		CallID:     callID,
		Operation:  operation,
		Root:       root,
		Args:       clipped,
		Success:    success,
		Kind:       kind,
		Output:     clip(output, outputPreviewChars),
		DurationMS: took.Milliseconds(),
	}
}

func clip(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + "..."
		}
		n++
	}
	return s
}

type callerKey struct{}

// WithCaller returns a context carrying the authenticated caller ID.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller ID stored by WithCaller, or "".
func CallerFrom(ctx context.Context) string {
	caller, _ := ctx.Value(callerKey{}).(string)
	return caller
}

// StoreRecorder adapts a Store to the Recorder interface.
type StoreRecorder struct {
	store  Store
	closer func() error
}

// NewStoreRecorder wraps store. closer, when non-nil, is called by Close.
func NewStoreRecorder(store Store, closer func() error) *StoreRecorder {
	return &StoreRecorder{store: store, closer: closer}
}

func (r *StoreRecorder) Record(ctx context.Context, e Entry) error {
	return r.store.Append(ctx, e)
}

func (r *StoreRecorder) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

var (
	_ Recorder = (*StoreRecorder)(nil)
	_ Recorder = (*JSONLRecorder)(nil)
)
