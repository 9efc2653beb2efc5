package billing

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	AuditQuote  = "quote"
	AuditCharge = "charge"
)

type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	OwnerID   string    `json:"owner_id"`
	ItemID    string    `json:"item_id"`
	Quote     Quote     `json:"quote"`
	Allowed   bool      `json:"allowed"`
}

// AuditLogger appends one JSON line per pricing decision. A nil
// *AuditLogger discards entries.
type AuditLogger struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewAuditLogger(w io.Writer) *AuditLogger {
	return &AuditLogger{writer: w}
}

func NewFileAuditLogger(path string) (*AuditLogger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, nil, err
	}

	f, err := os.OpenFile(filepath.Clean(path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- path is from application config, not user input
	if err != nil {
		return nil, nil, err
	}
	return NewAuditLogger(f), f, nil
}

func (l *AuditLogger) Log(entry AuditEntry) {
	if l == nil {
		return
	}
	entry.Timestamp = time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := json.NewEncoder(l.writer).Encode(entry); err != nil {
		slog.Error("failed to write usage audit entry", "error", err)
	}
}
