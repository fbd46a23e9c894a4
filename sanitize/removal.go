package sanitize

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// maxLoggedText bounds how much of a removed buffer is copied to the log.
const maxLoggedText = 240

// Removal describes one quarantined line or multi-line buffer.
type Removal struct {
	Source    string
	StartLine int64
	EndLine   int64
	Reason    string
	Text      string
}

// RemovalLog is an append-only plaintext log of quarantined fragments.
// A RemovalLog is owned by a single run and is not safe for concurrent use.
// A nil *RemovalLog discards entries.
type RemovalLog struct {
	w     *bufio.Writer
	c     io.Closer
	count int64
}

// NewRemovalLog writes entries to w.
func NewRemovalLog(w io.Writer) *RemovalLog {
	return &RemovalLog{w: bufio.NewWriter(w)}
}

// OpenRemovalLog opens (or creates) the log file at path for appending.
func OpenRemovalLog(path string) (*RemovalLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create removal log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open removal log: %w", err)
	}
	return &RemovalLog{w: bufio.NewWriter(f), c: f}, nil
}

// Record appends one entry: "source:start-end<TAB>reason<TAB>text".
func (l *RemovalLog) Record(r Removal) error {
	if l == nil {
		return nil
	}
	l.count++
	_, err := fmt.Fprintf(l.w, "%s:%d-%d\t%s\t%s\n", r.Source, r.StartLine, r.EndLine, r.Reason, loggable(r.Text))
	return err
}

// Count returns the number of entries recorded through this handle.
func (l *RemovalLog) Count() int64 {
	if l == nil {
		return 0
	}
	return l.count
}

// Flush writes buffered entries.
func (l *RemovalLog) Flush() error {
	if l == nil {
		return nil
	}
	return l.w.Flush()
}

// Close flushes and closes the underlying file, if any.
func (l *RemovalLog) Close() error {
	if l == nil {
		return nil
	}
	if err := l.w.Flush(); err != nil {
		return err
	}
	if l.c != nil {
		return l.c.Close()
	}
	return nil
}

// loggable truncates text and escapes line breaks so one entry stays on one line.
func loggable(text string) string {
	if len(text) > maxLoggedText {
		text = strings.ToValidUTF8(text[:maxLoggedText], "") + "..."
	}
	text = strings.ReplaceAll(text, "\\", `\\`)
	text = strings.ReplaceAll(text, "\n", `\n`)
	text = strings.ReplaceAll(text, "\r", `\r`)
	return strings.ReplaceAll(text, "\t", `\t`)
}
