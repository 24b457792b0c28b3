package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig controls size-based log rotation.
type RotationConfig struct {
	// MaxSizeMB is the size at which the current file is rotated.
	MaxSizeMB int
	// MaxBackups is how many rotated files are kept.
	MaxBackups int
}

// DefaultRotationConfig keeps the daemon log bounded without losing the
// recent history an operator needs when a worker misbehaves.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxSizeMB:  10,
		MaxBackups: 3,
	}
}

// RotatingWriter is an io.Writer that rotates its file once it exceeds the
// configured size. Backups are numbered daemon.log.1, daemon.log.2, ... with
// the lowest number being the newest.
type RotatingWriter struct {
	mu     sync.Mutex
	path   string
	config RotationConfig
	file   *os.File
	size   int64
}

// NewRotatingWriter opens (or creates) the log file at path for appending.
func NewRotatingWriter(path string, config RotationConfig) (*RotatingWriter, error) {
	if config.MaxSizeMB <= 0 {
		config.MaxSizeMB = DefaultRotationConfig().MaxSizeMB
	}
	if config.MaxBackups < 0 {
		config.MaxBackups = 0
	}
	w := &RotatingWriter{path: path, config: config}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) openFile() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Write appends p to the current log file, rotating first when the write
// would push it past the size limit.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	limit := int64(w.config.MaxSizeMB) * 1024 * 1024
	if w.size > 0 && w.size+int64(len(p)) > limit {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	// Shift existing backups up one slot, dropping the oldest.
	for i := w.config.MaxBackups - 1; i >= 1; i-- {
		src := w.backupPath(i)
		if _, err := os.Stat(src); err == nil {
			os.Rename(src, w.backupPath(i+1))
		}
	}
	if w.config.MaxBackups > 0 {
		if err := os.Rename(w.path, w.backupPath(1)); err != nil {
			return err
		}
	} else {
		if err := os.Remove(w.path); err != nil {
			return err
		}
	}
	return w.openFile()
}

func (w *RotatingWriter) backupPath(n int) string {
	return fmt.Sprintf("%s.%d", w.path, n)
}

// Sync flushes the current file to disk.
func (w *RotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

// CurrentSize reports the size of the current log file.
func (w *RotatingWriter) CurrentSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// FilePath returns the path of the active log file.
func (w *RotatingWriter) FilePath() string { return w.path }

// Close closes the current log file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
