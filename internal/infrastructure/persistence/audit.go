package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	auditFileName    = "audit.jsonl"
	auditBufferSize  = 256
	auditWriteBuffer = 64 * 1024
	auditMaxLine     = 1024 * 1024
	defaultAuditSize = 10 * 1024 * 1024
)

// AuditRecord is one request/response pair in the audit log.
type AuditRecord struct {
	TS                time.Time `json:"ts"`
	RequestID         string    `json:"requestId"`
	SessionID         string    `json:"sessionId"`
	Provider          string    `json:"provider"`
	Model             string    `json:"model"`
	TerminationReason string    `json:"terminationReason"`
	Steps             int       `json:"steps"`
	ToolCallsExecuted int       `json:"toolCallsExecuted"`
	DurationMs        int64     `json:"durationMs"`
}

// AuditLogger appends request/response pairs as JSON lines. Records queue
// through a buffered channel to a single writer goroutine; a full queue
// drops the record rather than stalling the request path. The file rotates
// to .old once it reaches maxSize.
type AuditLogger struct {
	file    *os.File
	writer  *bufio.Writer
	path    string
	maxSize int64
	written atomic.Int64

	mu      sync.RWMutex
	closed  bool
	records chan AuditRecord
	done    chan struct{}
	dropped atomic.Int64
	logger  *zap.Logger
}

// NewAuditLogger opens (or creates) dir/audit.jsonl for appending and
// starts the writer goroutine. maxSize <= 0 selects the 10MB default.
func NewAuditLogger(dir string, maxSize int64, logger *zap.Logger) (*AuditLogger, error) {
	if dir == "" {
		return nil, fmt.Errorf("audit dir is required")
	}
	if maxSize <= 0 {
		maxSize = defaultAuditSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	path := filepath.Join(dir, auditFileName)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	a := &AuditLogger{
		file:    f,
		writer:  bufio.NewWriterSize(f, auditWriteBuffer),
		path:    path,
		maxSize: maxSize,
		records: make(chan AuditRecord, auditBufferSize),
		done:    make(chan struct{}),
		logger:  logger.Named("audit"),
	}
	if stat, err := f.Stat(); err == nil {
		a.written.Store(stat.Size())
	}

	go a.run()
	return a, nil
}

// Record queues rec for writing, stamping a missing timestamp. It never
// blocks; holding the read lock across the send keeps a concurrent Close
// from closing the channel mid-record.
func (a *AuditLogger) Record(rec AuditRecord) {
	if rec.TS.IsZero() {
		rec.TS = time.Now().UTC()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.records <- rec:
	default:
		a.dropped.Add(1)
		a.logger.Warn("audit queue full, dropping record",
			zap.String("request_id", rec.RequestID))
	}
}

// Close drains queued records, flushes, and closes the file. Idempotent.
func (a *AuditLogger) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.records)
	a.mu.Unlock()

	<-a.done
}

// Dropped reports how many records were discarded on a full queue.
func (a *AuditLogger) Dropped() int64 {
	return a.dropped.Load()
}

// Size returns the current audit file size in bytes.
func (a *AuditLogger) Size() int64 {
	return a.written.Load()
}

// Recent returns up to limit records from the end of the current file.
// Corrupt lines are skipped so a partially written tail cannot poison the
// read.
func (a *AuditLogger) Recent(limit int) ([]AuditRecord, error) {
	f, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, auditWriteBuffer), auditMaxLine)

	var records []AuditRecord
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec AuditRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		records = append(records, rec)
		if limit > 0 && len(records) > limit {
			records = records[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("scan audit log: %w", err)
	}

	return records, nil
}

// run owns the file: no other goroutine touches it until done closes.
func (a *AuditLogger) run() {
	defer close(a.done)
	for rec := range a.records {
		a.write(rec)
	}
	a.writer.Flush()
	a.file.Sync()
	a.file.Close()
}

func (a *AuditLogger) write(rec AuditRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		a.logger.Error("audit record marshal failed", zap.Error(err))
		return
	}

	n, err := a.writer.Write(append(data, '\n'))
	if err != nil {
		a.logger.Error("audit write failed", zap.Error(err))
		return
	}
	a.written.Add(int64(n))

	// Flush per record; volume is one line per request.
	a.writer.Flush()

	if a.written.Load() >= a.maxSize {
		a.rotate()
	}
}

func (a *AuditLogger) rotate() {
	a.writer.Flush()
	a.file.Close()

	oldPath := a.path + ".old"
	os.Remove(oldPath)
	os.Rename(a.path, oldPath)

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		a.logger.Error("audit rotation failed", zap.Error(err))
		return
	}

	a.file = f
	a.writer = bufio.NewWriterSize(f, auditWriteBuffer)
	a.written.Store(0)
	a.logger.Info("audit log rotated", zap.String("old_path", oldPath))
}
