package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// CommandLog is one audited keystore operation
type CommandLog struct {
	Timestamp  time.Time `json:"timestamp"`
	SessionID  string    `json:"session_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	Driver     string    `json:"driver"`
	Op         string    `json:"op"`
	Key        string    `json:"key,omitempty"`
	DurationUs int64     `json:"duration_us"`
	Success    bool      `json:"success"`
	Found      bool      `json:"found,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Logger writes the command audit trail. It is off until enabled.
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console io.Writer
}

var defaultLogger = &Logger{}

// Default returns the default audit logger
func Default() *Logger {
	return defaultLogger
}

// Enabled reports whether entries are being written
func (l *Logger) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// SetOutput sets the audit log file (JSON lines) and enables the logger
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	l.enabled = true
	return nil
}

// SetConsole sets a human-readable destination; nil disables it
func (l *Logger) SetConsole(w io.Writer) {
	l.mu.Lock()
	l.console = w
	l.enabled = l.console != nil || l.file != nil
	l.mu.Unlock()
}

// Log writes an audit entry
func (l *Logger) Log(entry *CommandLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	if l.console != nil {
		status := "ok"
		if !entry.Success {
			status = "err"
		}
		fmt.Fprintf(l.console, "[command] %s %s %s %s %dus\n",
			status, entry.Driver, entry.Op, entry.Key, entry.DurationUs)
		if entry.Error != "" {
			fmt.Fprintf(l.console, "[command]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the audit file and disables the logger
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	l.enabled = l.console != nil
}
