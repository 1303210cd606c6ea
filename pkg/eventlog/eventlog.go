// Package eventlog appends an auditable JSONL trail of decisions, outcomes,
// and liveness transitions. One file per rotation window, one JSON object per
// line, append-only.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tradecore/pkg/config"
	"tradecore/pkg/logx"
)

// Entry is one audit line. Detail carries the logged object verbatim.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Type      string    `json:"type"`
	Detail    any       `json:"detail"`
}

// Writer appends entries to a rotating JSONL file. Safe for concurrent use.
// A Writer that fails to open its directory degrades to a no-op with a
// logged error; auditing never takes the pipeline down.
type Writer struct {
	dir      string
	rotation time.Duration
	logger   *logx.Logger

	mu       sync.Mutex
	file     *os.File
	openedAt time.Time
}

// NewWriter creates the log directory and returns a writer. On failure the
// returned writer drops entries instead of erroring on every append.
func NewWriter(cfg *config.EventLog) *Writer {
	w := &Writer{
		dir:      cfg.Dir,
		rotation: time.Duration(cfg.RotationHours) * time.Hour,
		logger:   logx.NewLogger("eventlog"),
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		w.logger.Error("audit log disabled: %v", err)
		w.dir = ""
	}
	return w
}

// Append writes one entry. Errors are logged, never returned: the audit
// trail is best-effort by contract.
func (w *Writer) Append(entryType string, detail any) {
	if w.dir == "" {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateLocked(); err != nil {
		w.logger.Error("audit rotation failed: %v", err)
		return
	}

	line, err := json.Marshal(Entry{Timestamp: time.Now().UTC(), Type: entryType, Detail: detail})
	if err != nil {
		w.logger.Error("audit entry not serializable: %v", err)
		return
	}
	if _, err := w.file.Write(append(line, '\n')); err != nil {
		w.logger.Error("audit append failed: %v", err)
	}
}

// rotateLocked opens the current window's file if needed. Caller holds mu.
func (w *Writer) rotateLocked() error {
	now := time.Now().UTC()
	if w.file != nil && now.Sub(w.openedAt) < w.rotation {
		return nil
	}
	if w.file != nil {
		_ = w.file.Close()
	}

	name := fmt.Sprintf("events-%s.jsonl", now.Format("2006-01-02T15"))
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.openedAt = now
	return nil
}

// Close flushes and closes the current file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
