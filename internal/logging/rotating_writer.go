// Package logging provides the rotating log file shared by relayd and chatctl.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultMaxBytes is the size at which a day's log file rolls over.
const DefaultMaxBytes = 64 << 20

// RotatingWriter writes to files that rotate daily and when exceeding max size.
//
// A base path of logs/relayd.log produces logs/relayd-2026-10-19.log, then
// logs/relayd-2026-10-19-2.log once MaxBytes is reached. The base path itself
// is kept as a symlink to the file currently written.
type RotatingWriter struct {
	BasePath string
	MaxBytes int64

	now func() time.Time

	mu       sync.Mutex
	curDate  string
	curIndex int
	file     *os.File
	size     int64
}

// NewRotatingWriter opens the first file for basePath. A maxBytes of zero or
// less disables size rollover. A basePath of "-" discards all output.
func NewRotatingWriter(basePath string, maxBytes int64) (io.WriteCloser, error) {
	if strings.TrimSpace(basePath) == "-" {
		return nopWriteCloser{w: io.Discard}, nil
	}
	rw := &RotatingWriter{BasePath: basePath, MaxBytes: maxBytes, now: time.Now}
	if err := rw.rotateIfNeeded(0); err != nil {
		return nil, err
	}
	return rw, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotateIfNeeded(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current file.
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

// Current returns the path of the file being written.
func (w *RotatingWriter) Current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return ""
	}
	return w.file.Name()
}

func (w *RotatingWriter) rotateIfNeeded(incoming int64) error {
	// days are UTC so rotation does not depend on the host timezone
	today := w.now().UTC().Format("2006-01-02")
	if w.file == nil || w.curDate != today {
		if w.curDate != today {
			w.curIndex = 1
		}
		w.curDate = today
		return w.openCurrent()
	}
	if w.MaxBytes > 0 && w.size > 0 && w.size+incoming > w.MaxBytes {
		w.curIndex++
		return w.openCurrent()
	}
	return nil
}

func (w *RotatingWriter) openCurrent() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	dir, name := filepath.Split(w.BasePath)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("logging: create log dir: %w", err)
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = ".log"
	}
	filename := fmt.Sprintf("%s-%s%s", base, w.curDate, ext)
	if w.curIndex > 1 {
		filename = fmt.Sprintf("%s-%s-%d%s", base, w.curDate, w.curIndex, ext)
	}
	path := filepath.Join(dir, filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open log file: %w", err)
	}
	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	w.file = f
	w.size = size
	w.updatePointer(filename)
	return nil
}

// updatePointer points BasePath at the current file. The link target is
// relative so the log directory can be moved.
func (w *RotatingWriter) updatePointer(filename string) {
	base := w.BasePath
	if info, err := os.Lstat(base); err == nil {
		if info.Mode()&os.ModeSymlink == 0 {
			// a real file from an older layout; leave it alone
			return
		}
		if dest, err := os.Readlink(base); err == nil && dest == filename {
			return
		}
		_ = os.Remove(base)
	}
	_ = os.Symlink(filename, base)
}

type nopWriteCloser struct{ w io.Writer }

func (n nopWriteCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n nopWriteCloser) Close() error                { return nil }

// Setup returns a logger with the given prefix writing to stdout and, when
// path is set, to a rotating file as well. The returned closer releases the
// file.
func Setup(path, prefix string) (*log.Logger, io.Closer, error) {
	var out io.Writer = os.Stdout
	var closer io.Closer = nopWriteCloser{w: io.Discard}
	if strings.TrimSpace(path) != "" {
		rw, err := NewRotatingWriter(path, DefaultMaxBytes)
		if err != nil {
			return nil, nil, err
		}
		out = io.MultiWriter(os.Stdout, rw)
		closer = rw
	}
	return log.New(out, prefix, log.LstdFlags|log.Lmicroseconds), closer, nil
}
