package aof

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Writer appends entries to the log file at a fixed path.
//
// The file and its directory are created on the first append. Each entry is
// written as one line in a single write call.
type Writer struct {
	mu        sync.Mutex
	path      string
	sync      bool
	file      *os.File
	committed int64
}

// NewWriter returns a writer for the log at path. When fsync is true every
// append is flushed to stable storage before it returns.
func NewWriter(path string, fsync bool) *Writer {
	return &Writer{path: path, sync: fsync}
}

// Path returns the location of the log file.
func (w *Writer) Path() string {
	return w.path
}

// Append writes e to the end of the log. The entry is committed only when
// Append returns nil.
func (w *Writer) Append(e Entry) error {
	line := e.Encode()
	if line == "" {
		return fmt.Errorf("aof: cannot encode entry with op %d", e.Op)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.open(); err != nil {
		return err
	}

	n, err := w.file.WriteString(line + "\n")
	if err != nil {
		return &IOError{Op: "write", Path: w.path, Err: errors.Join(err, w.rollback())}
	}

	if w.sync {
		if err := w.file.Sync(); err != nil {
			return &IOError{Op: "sync", Path: w.path, Err: errors.Join(err, w.rollback())}
		}
	}

	w.committed += int64(n)
	return nil
}

// Committed returns the size of the log prefix made of whole appended lines.
// Reading up to this offset never observes a partially written entry.
func (w *Writer) Committed() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return w.committed, nil
	}

	info, err := os.Stat(w.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, &IOError{Op: "stat", Path: w.path, Err: err}
	}
	return info.Size(), nil
}

// Close releases the file handle. A later Append reopens the path, which
// picks up a file that was replaced underneath the writer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) open() error {
	if w.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return &IOError{Op: "mkdir", Path: filepath.Dir(w.path), Err: err}
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return &IOError{Op: "open", Path: w.path, Err: err}
	}

	size, err := trimTail(f)
	if err != nil {
		f.Close()
		return &IOError{Op: "repair", Path: w.path, Err: err}
	}

	w.file = f
	w.committed = size
	return nil
}

// rollback cuts the file back to the last committed line after a failed
// append, so the rejected entry can never be replayed, and drops the handle.
// A failed truncate is returned so the caller knows rejected bytes may remain.
func (w *Writer) rollback() error {
	var err error
	if terr := w.file.Truncate(w.committed); terr != nil {
		err = &IOError{Op: "truncate", Path: w.path, Err: terr}
	}
	w.closeLocked()
	return err
}

// trimTail truncates an unterminated trailing fragment left by a crash so
// that new lines are never glued onto it. It returns the resulting size.
func trimTail(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()

	buf := make([]byte, 4096)
	end := size
	for end > 0 {
		start := max(end-int64(len(buf)), 0)
		chunk := buf[:end-start]
		if _, err := f.ReadAt(chunk, start); err != nil {
			return 0, err
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			end = start + int64(i) + 1
			break
		}
		end = start
	}

	if end == size {
		return size, nil
	}
	if err := f.Truncate(end); err != nil {
		return 0, err
	}
	return end, nil
}

func (w *Writer) closeLocked() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	if err != nil {
		return &IOError{Op: "close", Path: w.path, Err: err}
	}
	return nil
}
