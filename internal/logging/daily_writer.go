package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const dayLayout = "2006-01-02"

// DailyFileWriter appends to <dir>/<YYYY-MM-DD>.log and moves to a new file
// when the clock crosses midnight.
type DailyFileWriter struct {
	mu    sync.Mutex
	dir   string
	clock Clock
	day   string
	file  *os.File
}

// NewDailyFileWriter creates dir if needed and opens today's file.
func NewDailyFileWriter(dir string, clock Clock) (*DailyFileWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	w := &DailyFileWriter{dir: dir, clock: clock}
	if err := w.openFor(clock.Now().Format(dayLayout)); err != nil {
		return nil, err
	}
	return w, nil
}

// Write implements io.Writer.
func (w *DailyFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if day := w.clock.Now().Format(dayLayout); day != w.day || w.file == nil {
		if err := w.openFor(day); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	if err != nil {
		return n, fmt.Errorf("write log file: %w", err)
	}
	return n, nil
}

// Path returns the file currently being written.
func (w *DailyFileWriter) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pathFor(w.day)
}

// Close closes the current file. Later writes reopen it.
func (w *DailyFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	if err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	return nil
}

func (w *DailyFileWriter) openFor(day string) error {
	file, err := os.OpenFile(w.pathFor(day), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if w.file != nil {
		_ = w.file.Close()
	}
	w.file = file
	w.day = day
	return nil
}

func (w *DailyFileWriter) pathFor(day string) string {
	return filepath.Join(w.dir, day+".log")
}

var _ io.WriteCloser = (*DailyFileWriter)(nil)
