// Package source unifies the three message origins (push, change-triggered
// rescan, manual rescan) into one processing stream over a durable spool.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Message is one inbound (sender, text) pair.
type Message struct {
	From       string    `json:"from"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// Spool is the durable message history: one JSON file per message in a
// single directory. External producers (an SMS gateway relay, a modem
// daemon) drop files here; otpd also appends pushed messages so the history
// stays complete.
type Spool struct {
	dir    string
	logger *zap.Logger
}

// NewSpool creates the spool directory if needed.
func NewSpool(dir string, logger *zap.Logger) (*Spool, error) {
	if dir == "" {
		return nil, fmt.Errorf("source: empty spool dir")
	}
	if logger == nil {
		return nil, fmt.Errorf("source: nil logger")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("source: create spool dir: %w", err)
	}
	return &Spool{dir: dir, logger: logger}, nil
}

// Dir returns the watched directory.
func (s *Spool) Dir() string {
	return s.dir
}

// Append persists one message. The file is written under a temporary name
// and renamed into place so readers never observe a partial write.
func (s *Spool) Append(msg Message) error {
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("source: marshal message: %w", err)
	}

	name := fmt.Sprintf("%d-%s.json", msg.ReceivedAt.UnixNano(), uuid.New().String())
	tmp := filepath.Join(s.dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("source: write message: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("source: commit message: %w", err)
	}
	return nil
}

// List returns up to limit messages, newest first. The receive-time prefix
// in the file names orders the directory without opening anything, so only
// the newest limit files are ever read and parsed; rescan latency stays
// bounded no matter how large the history grows. Files that fail to parse
// are skipped with a warning; one bad file must not poison a rescan.
func (s *Spool) List(ctx context.Context, limit int) ([]Message, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("source: read spool dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	msgs := make([]Message, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("skip unreadable spool file", zap.String("file", path), zap.Error(err))
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("skip malformed spool file", zap.String("file", path), zap.Error(err))
			continue
		}
		msgs = append(msgs, msg)
	}

	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].ReceivedAt.After(msgs[j].ReceivedAt)
	})
	return msgs, nil
}
