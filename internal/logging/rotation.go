package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const backupStamp = "20060102T150405.000"

// RotatingWriter appends to a log file and, once it would grow past its size
// limit, renames it to <name>-<timestamp><ext> and starts a new one. Only the
// newest backups are kept. Safe for concurrent use.
type RotatingWriter struct {
	path     string
	maxBytes int64
	keep     int

	mu   sync.Mutex
	f    *os.File
	size int64
	now  func() time.Time
}

// NewRotatingWriter opens path for appending, creating its directory. Zero
// or negative limits fall back to 20 MB and 3 backups.
func NewRotatingWriter(path string, maxSizeMB, maxBackups int) (*RotatingWriter, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 20
	}
	if maxBackups <= 0 {
		maxBackups = 3
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logging: create log directory: %w", err)
	}
	rw := &RotatingWriter{
		path:     path,
		maxBytes: int64(maxSizeMB) << 20,
		keep:     maxBackups,
		now:      time.Now,
	}
	if err := rw.openLocked(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.f == nil {
		return 0, os.ErrClosed
	}
	if rw.size > 0 && rw.size+int64(len(p)) > rw.maxBytes {
		if err := rw.rotateLocked(); err != nil {
			return 0, err
		}
	}
	n, err := rw.f.Write(p)
	rw.size += int64(n)
	return n, err
}

// Reopen reopens the file by name, for use after an external rotation
// (SIGHUP).
func (rw *RotatingWriter) Reopen() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.f != nil {
		_ = rw.f.Close()
		rw.f = nil
	}
	return rw.openLocked()
}

func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.f == nil {
		return nil
	}
	err := rw.f.Close()
	rw.f = nil
	return err
}

// TeeWriter duplicates log output, typically to stderr and a RotatingWriter.
func TeeWriter(w1, w2 io.Writer) io.Writer {
	return io.MultiWriter(w1, w2)
}

func (rw *RotatingWriter) openLocked() error {
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open log file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("logging: stat log file: %w", err)
	}
	rw.f, rw.size = f, st.Size()
	return nil
}

func (rw *RotatingWriter) rotateLocked() error {
	_ = rw.f.Close()
	rw.f = nil

	ext := filepath.Ext(rw.path)
	stem := strings.TrimSuffix(rw.path, ext)
	backup := stem + "-" + rw.now().UTC().Format(backupStamp) + ext
	if err := os.Rename(rw.path, backup); err != nil {
		// Keep logging into the old file rather than losing output.
		if openErr := rw.openLocked(); openErr != nil {
			return openErr
		}
		return fmt.Errorf("logging: rotate: %w", err)
	}
	rw.prune(stem+"-*"+ext, len(stem)+1, len(ext))
	return rw.openLocked()
}

// prune removes all but the newest rw.keep backups. The timestamp format
// sorts lexically.
func (rw *RotatingWriter) prune(pattern string, prefixLen, extLen int) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	backups := matches[:0]
	for _, m := range matches {
		stamp := m[prefixLen : len(m)-extLen]
		if _, err := time.Parse(backupStamp, stamp); err == nil {
			backups = append(backups, m)
		}
	}
	if len(backups) <= rw.keep {
		return
	}
	sort.Strings(backups)
	for _, old := range backups[:len(backups)-rw.keep] {
		_ = os.Remove(old)
	}
}
