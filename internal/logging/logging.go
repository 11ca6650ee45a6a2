// Package logging configures commonlog for the plugin process.
package logging

import (
	"bytes"
	"fmt"
	stdlog "log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

// Configure sets the verbosity and destination of every logger. An empty
// path logs to stderr; stdout is reserved for the RPC channel.
//
// The file is checked before it is handed to the backend, which exits the
// process when it cannot open its log file.
func Configure(verbosity int, path string) error {
	if path == "" {
		commonlog.Configure(verbosity, nil)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	_ = f.Close()

	commonlog.Configure(verbosity, &path)
	return nil
}

// RedirectStandardLog sends output of the standard library logger, which the
// RPC client writes to, through the named commonlog logger.
func RedirectStandardLog(name string) {
	logger := commonlog.GetLogger(name)
	stdlog.SetFlags(0)
	stdlog.SetOutput(NewLineWriter(func(line string) {
		logger.Noticef("%s", line)
	}))
}

// LineWriter splits written bytes into lines and emits each complete one.
type LineWriter struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	emit func(string)
}

func NewLineWriter(emit func(string)) *LineWriter {
	return &LineWriter{emit: emit}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// incomplete line stays buffered
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			w.emit(line)
		}
	}
	return len(p), nil
}
