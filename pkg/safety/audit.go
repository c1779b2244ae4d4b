package safety

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditRecorder records execution attempts, including rejected ones.
type AuditRecorder interface {
	Record(ctx context.Context, event AuditEvent) error
}

// AuditEvent is one execute-command attempt.
type AuditEvent struct {
	ID               string
	Command          string
	WorkingDirectory string
	// Result is "succeeded", "rejected", "timeout" or "process_error".
	Result   string
	Reason   string
	Duration time.Duration
	Time     time.Time
}

// NewAuditEvent stamps a fresh event with an ID and the current time.
func NewAuditEvent(command, dir string) AuditEvent {
	return AuditEvent{
		ID:               uuid.NewString(),
		Command:          command,
		WorkingDirectory: dir,
		Time:             time.Now().UTC(),
	}
}

type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, event AuditEvent) error {
	return nil
}

// LogRecorder writes audit events as structured log lines.
type LogRecorder struct {
	Logger *slog.Logger
}

func (r LogRecorder) Record(ctx context.Context, event AuditEvent) error {
	if r.Logger == nil {
		return nil
	}
	attrs := []any{
		"id", event.ID,
		"command", event.Command,
		"cwd", event.WorkingDirectory,
		"result", event.Result,
		"duration_ms", event.Duration.Milliseconds(),
	}
	if event.Reason != "" {
		attrs = append(attrs, "reason", event.Reason)
	}
	r.Logger.InfoContext(ctx, "exec_audit", attrs...)
	return nil
}

// FileRecorder appends events to a file as JSON lines.
type FileRecorder struct {
	path string
	mu   sync.Mutex
}

func NewFileRecorder(path string) (*FileRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare audit log directory: %w", err)
	}
	return &FileRecorder{path: path}, nil
}

type auditRecord struct {
	ID               string    `json:"id"`
	Time             time.Time `json:"time"`
	Command          string    `json:"command"`
	WorkingDirectory string    `json:"cwd"`
	Result           string    `json:"result"`
	Reason           string    `json:"reason,omitempty"`
	DurationMS       int64     `json:"duration_ms"`
}

func (r *FileRecorder) Record(ctx context.Context, event AuditEvent) error {
	data, err := json.Marshal(auditRecord{
		ID:               event.ID,
		Time:             event.Time,
		Command:          event.Command,
		WorkingDirectory: event.WorkingDirectory,
		Result:           event.Result,
		Reason:           event.Reason,
		DurationMS:       event.Duration.Milliseconds(),
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// MultiRecorder records to each recorder in turn.
type MultiRecorder []AuditRecorder

func (m MultiRecorder) Record(ctx context.Context, event AuditEvent) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
