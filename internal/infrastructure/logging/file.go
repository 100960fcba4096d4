package logging

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/owm-go/owm/internal/shared"
)

// WriterHandler writes entry messages line by line to w. Debug entries are
// prefixed with their level; progress lines are written verbatim.
func WriterHandler(w io.Writer) LogHandler {
	var mu sync.Mutex
	return func(entry LogEntry) {
		mu.Lock()
		defer mu.Unlock()
		if entry.Level == shared.LogLevelInfo {
			fmt.Fprintln(w, entry.Message)
			return
		}
		fmt.Fprintf(w, "[%s] %s\n", entry.Level, entry.Message)
	}
}

// FileHandler appends entries to a progress log file.
type FileHandler struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	emit LogHandler
}

// OpenFile opens (or creates) path for appending.
func OpenFile(path string) (*FileHandler, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	buf := bufio.NewWriter(f)
	return &FileHandler{file: f, buf: buf, emit: WriterHandler(buf)}, nil
}

// Handle is a LogHandler; every line is flushed so the file can be tailed.
func (h *FileHandler) Handle(entry LogEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return
	}
	h.emit(entry)
	_ = h.buf.Flush()
}

// Close flushes and closes the file.
func (h *FileHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return nil
	}
	if err := h.buf.Flush(); err != nil {
		h.file.Close()
		h.file = nil
		return err
	}
	err := h.file.Close()
	h.file = nil
	return err
}
