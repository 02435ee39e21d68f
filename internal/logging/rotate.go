package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// RotatingFileWriter is an io.WriteCloser with size-based rotation. When a
// write would take the file past its limit, the file becomes <path>.1, the
// previous .1 becomes .2, and so on; backups beyond maxFiles are removed.
//
// Safe for concurrent use.
type RotatingFileWriter struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	maxFiles int
	size     int64
	file     *os.File
}

var _ io.WriteCloser = (*RotatingFileWriter)(nil)

// NewRotatingFileWriter opens path for appending, creating it and its parent
// directory as needed. maxSizeMB is clamped to at least 1 and maxFiles to at
// least 0, where 0 keeps no backups.
func NewRotatingFileWriter(path string, maxSizeMB, maxFiles int) (*RotatingFileWriter, error) {
	return newRotatingFileWriter(path, int64(max(maxSizeMB, 1))<<20, max(maxFiles, 0))
}

func newRotatingFileWriter(path string, maxBytes int64, maxFiles int) (*RotatingFileWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("logging: create %s: %w", dir, err)
		}
	}
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("logging: stat %s: %w", path, err)
	}
	return &RotatingFileWriter{
		path:     path,
		maxBytes: maxBytes,
		maxFiles: maxFiles,
		size:     info.Size(),
		file:     f,
	}, nil
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open %s: %w", path, err)
	}
	return f, nil
}

// Write rotates first when p would overflow a non-empty file, so a single
// write never spans two files.
func (w *RotatingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.size > 0 && w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("logging: rotate %s: %w", w.path, err)
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current file.
func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// rotate must be called with mu held.
func (w *RotatingFileWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	for _, n := range slices.Backward(w.backups()) {
		if n >= w.maxFiles {
			_ = os.Remove(w.backupPath(n))
		} else {
			_ = os.Rename(w.backupPath(n), w.backupPath(n+1))
		}
	}
	if w.maxFiles > 0 {
		_ = os.Rename(w.path, w.backupPath(1))
	} else {
		_ = os.Remove(w.path)
	}
	f, err := openAppend(w.path)
	if err != nil {
		w.file = nil
		return err
	}
	w.file = f
	w.size = 0
	return nil
}

func (w *RotatingFileWriter) backupPath(n int) string {
	return w.path + "." + strconv.Itoa(n)
}

// backups lists the existing backup numbers in ascending order.
func (w *RotatingFileWriter) backups() []int {
	entries, err := os.ReadDir(filepath.Dir(w.path))
	if err != nil {
		return nil
	}
	prefix := filepath.Base(w.path) + "."
	var nums []int
	for _, e := range entries {
		suffix, ok := strings.CutPrefix(e.Name(), prefix)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(suffix); err == nil && n >= 1 {
			nums = append(nums, n)
		}
	}
	slices.Sort(nums)
	return nums
}
