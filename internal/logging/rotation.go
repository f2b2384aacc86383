package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// RotatingWriter caps espgate.log by size. Intune re-runs requirement and
// detection rules on every check-in, so an unbounded file would grow for the
// life of the device. Backups are named espgate.log.1 (newest) to .N.
type RotatingWriter struct {
	mu    sync.Mutex
	path  string
	limit int64
	keep  int
	f     *os.File
	size  int64
}

// NewRotatingWriter opens (appending to) path, creating its directory. Zero
// or negative limits fall back to 5 MB and 2 backups.
func NewRotatingWriter(path string, maxSizeMB, maxBackups int) (*RotatingWriter, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 5
	}
	if maxBackups <= 0 {
		maxBackups = 2
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	rw := &RotatingWriter{path: path, limit: int64(maxSizeMB) << 20, keep: maxBackups}
	if err := rw.reopen(); err != nil {
		return nil, err
	}
	return rw, nil
}

// Write appends p, rotating first when p would push a non-empty file past
// the limit. A single oversized record is still written whole.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.f == nil {
		return 0, os.ErrClosed
	}
	if rw.size > 0 && rw.size+int64(len(p)) > rw.limit {
		if err := rw.rotate(); err != nil {
			return 0, fmt.Errorf("log rotation: %w", err)
		}
	}
	n, err := rw.f.Write(p)
	rw.size += int64(n)
	return n, err
}

// Close releases the file; later writes return os.ErrClosed.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.f == nil {
		return nil
	}
	f := rw.f
	rw.f = nil
	return f.Close()
}

// TeeWriter duplicates log output, typically to stderr and the log file.
func TeeWriter(w1, w2 io.Writer) io.Writer {
	return io.MultiWriter(w1, w2)
}

func (rw *RotatingWriter) reopen() error {
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	rw.f, rw.size = f, st.Size()
	return nil
}

// rotate drops the oldest backup, moves every file one slot up (the live
// file becoming .1) and reopens an empty live file.
func (rw *RotatingWriter) rotate() error {
	f := rw.f
	rw.f = nil
	if err := f.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}

	if err := os.Remove(rw.slot(rw.keep)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", rw.slot(rw.keep), err)
	}
	for i := rw.keep - 1; i >= 0; i-- {
		if err := os.Rename(rw.slot(i), rw.slot(i+1)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("move %s: %w", rw.slot(i), err)
		}
	}
	return rw.reopen()
}

// slot 0 is the live file.
func (rw *RotatingWriter) slot(i int) string {
	if i == 0 {
		return rw.path
	}
	return fmt.Sprintf("%s.%d", rw.path, i)
}
