// Package audit appends session lifecycle records (recovery transitions,
// health classifications, restart-recovery outcomes) to date-organized
// JSONL files for postmortem analysis.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Record is one audit entry.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	TabID     string    `json:"tab_id"`
	Kind      string    `json:"kind"`
	Detail    any       `json:"detail,omitempty"`
}

// Record kinds.
const (
	KindRecoveryActivated   = "recovery_activated"
	KindRecoveryCleared     = "recovery_cleared"
	KindHealthClassified    = "health_classified"
	KindRestartRecoveryRun  = "restart_recovery_run"
	KindAuthEventSuppressed = "auth_event_suppressed"
)

// Writer handles async appends of audit records to date-organized files.
type Writer struct {
	baseDir   string
	tabID     string
	maxSizeMB int
	writeCh   chan Record
	done      chan struct{}
	wg        sync.WaitGroup

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
}

// NewWriter creates an async audit writer rooted at baseDir.
func NewWriter(baseDir, tabID string, bufferSize, maxSizeMB int) *Writer {
	w := &Writer{
		baseDir:   baseDir,
		tabID:     tabID,
		maxSizeMB: maxSizeMB,
		writeCh:   make(chan Record, bufferSize),
		done:      make(chan struct{}),
	}
	w.wg.Add(1)
	go w.writeLoop()
	return w
}

// Append queues a record. Never blocks: a full buffer drops the record
// with a warning.
func (w *Writer) Append(kind string, detail any) error {
	rec := Record{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		TabID:     w.tabID,
		Kind:      kind,
		Detail:    detail,
	}
	select {
	case w.writeCh <- rec:
		return nil
	case <-w.done:
		return fmt.Errorf("audit writer is closed")
	default:
		slog.Warn("audit buffer full, dropping record", "kind", kind)
		return fmt.Errorf("buffer full")
	}
}

// Close shuts the writer down and flushes pending records.
func (w *Writer) Close() error {
	close(w.done)

	timeout := time.After(5 * time.Second)
	for {
		select {
		case rec := <-w.writeCh:
			w.writeRecord(rec)
		case <-timeout:
			slog.Warn("audit writer close timeout, some records may be lost")
			goto done
		default:
			goto done
		}
	}

done:
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.logger != nil {
		return w.logger.Close()
	}
	return nil
}

func (w *Writer) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case rec := <-w.writeCh:
			w.writeRecord(rec)
		case <-w.done:
			return
		}
	}
}

func (w *Writer) writeRecord(rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Error("marshal audit record", "error", err, "kind", rec.Kind)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	date := time.Now().UTC().Format("2006-01-02")
	if date != w.currentDate || w.logger == nil {
		w.rotateForDate(date)
	}
	if w.logger == nil {
		return
	}

	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("write audit record", "error", err, "kind", rec.Kind)
	}
}

func (w *Writer) rotateForDate(date string) {
	if w.logger != nil {
		w.logger.Close()
	}

	dir := filepath.Join(w.baseDir, date)
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("create audit directory", "error", err, "dir", dir)
		w.logger = nil
		return
	}

	w.logger = &lumberjack.Logger{
		Filename:   filepath.Join(dir, w.tabID+".jsonl"),
		MaxSize:    w.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
		Compress:   false,
		LocalTime:  false,
	}
	w.currentDate = date
	slog.Info("opened audit file", "file", w.logger.Filename)
}
