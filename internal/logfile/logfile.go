// ABOUTME: Daily rotating append-only writer for the activity log
// ABOUTME: Renames the active file with its date at midnight and prunes old copies

package logfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

// DefaultKeep is the number of rotated files retained.
const DefaultKeep = 7

// Writer is an io.WriteCloser that rotates daily. Safe for concurrent use.
type Writer struct {
	path string
	keep int
	now  func() time.Time

	mu   sync.Mutex
	file *os.File
	day  string
}

var _ io.WriteCloser = (*Writer)(nil)

// Open opens (or creates) path for appending. keep <= 0 uses DefaultKeep.
func Open(path string, keep int) (*Writer, error) {
	return open(path, keep, time.Now)
}

func open(path string, keep int, now func() time.Time) (*Writer, error) {
	if keep <= 0 {
		keep = DefaultKeep
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	w := &Writer{path: path, keep: keep, now: now}

	// an existing file from an earlier day is rotated on open
	day := now().Format(dateLayout)
	if info, err := os.Stat(path); err == nil {
		w.day = info.ModTime().Format(dateLayout)
	} else {
		w.day = day
	}
	if w.day != day {
		if err := w.rotate(day); err != nil {
			return nil, err
		}
		return w, nil
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) openFile() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	w.file = f
	return nil
}

// Write appends p, rotating first if the day changed.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if day := w.now().Format(dateLayout); day != w.day {
		if err := w.rotate(day); err != nil {
			return 0, err
		}
	}
	return w.file.Write(p)
}

// rotate moves the active file aside under w.day and opens a fresh one.
func (w *Writer) rotate(day string) error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("closing log file: %w", err)
		}
		w.file = nil
	}
	if _, err := os.Stat(w.path); err == nil {
		if err := os.Rename(w.path, w.dated(w.day)); err != nil {
			return fmt.Errorf("rotating log file: %w", err)
		}
	}
	w.day = day
	if err := w.openFile(); err != nil {
		return err
	}
	return w.prune()
}

func (w *Writer) dated(day string) string {
	ext := filepath.Ext(w.path)
	return strings.TrimSuffix(w.path, ext) + "." + day + ext
}

// Rotated lists the dated files of this log, oldest first.
func (w *Writer) Rotated() ([]string, error) {
	ext := filepath.Ext(w.path)
	pattern := strings.TrimSuffix(w.path, ext) + ".*" + ext
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimSuffix(w.path, ext) + "."
	matches = slices.DeleteFunc(matches, func(m string) bool {
		_, err := time.Parse(dateLayout, strings.TrimSuffix(strings.TrimPrefix(m, prefix), ext))
		return err != nil
	})
	slices.Sort(matches)
	return matches, nil
}

func (w *Writer) prune() error {
	rotated, err := w.Rotated()
	if err != nil {
		return fmt.Errorf("listing rotated logs: %w", err)
	}
	for len(rotated) > w.keep {
		if err := os.Remove(rotated[0]); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing old log: %w", err)
		}
		rotated = rotated[1:]
	}
	return nil
}

// Close closes the active file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
