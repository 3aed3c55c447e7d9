package retrieval

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// QueryLogEntry is one line of the query log. Question text is recorded as asked.
type QueryLogEntry struct {
	Timestamp     time.Time     `json:"ts"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	Query         string        `json:"query"`
	TopK          int           `json:"top_k"`
	NumResults    int           `json:"num_results"`
	Sources       []string      `json:"sources"`
	Answered      bool          `json:"answered"`
	Duration      time.Duration `json:"-"`
	LatencyMs     int64         `json:"latency_ms"`
}

// QueryLogger appends QueryLogEntry values as JSON lines. Safe for concurrent use.
type QueryLogger struct {
	mu     sync.Mutex
	enc    *json.Encoder
	file   *os.File
	logger *slog.Logger
	now    func() time.Time
}

// NewQueryLogger writes entries to w. Write failures are reported to logger.
func NewQueryLogger(w io.Writer, logger *slog.Logger) *QueryLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryLogger{enc: json.NewEncoder(w), logger: logger, now: time.Now}
}

func NewFileQueryLogger(path string, logger *slog.Logger) (*QueryLogger, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create query log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- configured path
	if err != nil {
		return nil, fmt.Errorf("open query log: %w", err)
	}
	l := NewQueryLogger(f, logger)
	l.file = f
	return l, nil
}

// Log stamps the entry and writes it. Write failures go to the injected logger and
// never reach the caller.
func (l *QueryLogger) Log(e QueryLogEntry) {
	if l == nil {
		return
	}
	e.LatencyMs = e.Duration.Milliseconds()
	if e.Sources == nil {
		e.Sources = []string{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	e.Timestamp = l.now().UTC()
	if err := l.enc.Encode(e); err != nil {
		l.logger.Warn("query log write failed", "error", err)
	}
}

func (l *QueryLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
