package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileFallback is an append-only JSON-lines local sink used when the
// durable primary is unreachable. It does not support Query — the local
// fallback is a write-ahead safety net, not a queryable store; recovery
// tooling reads the file directly.
type FileFallback struct {
	mu   sync.Mutex
	path string
}

// NewFileFallback opens (creating if necessary) an append-only file under
// dir, named with a monotonic timestamp suffix so multiple fallback
// sessions within a process lifetime never clobber each other, per spec
// §4.4 ("serialized to a local append-only file path with a monotonically
// suffixed name").
func NewFileFallback(dir string) (*FileFallback, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: fallback dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("audit-fallback-%d.jsonl", time.Now().UnixNano()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: fallback open: %w", err)
	}
	f.Close()
	return &FileFallback{path: path}, nil
}

func (f *FileFallback) Commit(_ context.Context, r *Record) error {
	if r.CommittedAt.IsZero() {
		r.CommittedAt = time.Now()
	}
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("audit: fallback marshal: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("audit: fallback append: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if _, err := w.Write(line); err != nil {
		return fmt.Errorf("audit: fallback write: %w", err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return fmt.Errorf("audit: fallback write: %w", err)
	}
	return w.Flush()
}

func (f *FileFallback) Query(_ context.Context, _ Filter) (*Page, error) {
	return nil, fmt.Errorf("audit: fallback sink does not support query")
}

func (f *FileFallback) Close() error {
	return nil
}

var _ Sink = (*FileFallback)(nil)
var _ Sink = (*PostgresSink)(nil)
