// Package sanitize repairs multi-line and corrupted literal values produced by
// upstream transformers and quarantines what cannot be repaired.
package sanitize

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/c360studio/tripleforge/statement"
)

// ErrMalformed marks a line or buffer that failed every repair attempt.
var ErrMalformed = errors.New("malformed statement")

// DefaultMaxContinuationLines bounds how many lines are merged into one statement.
const DefaultMaxContinuationLines = 6

// cancelCheckInterval is how many lines are processed between context checks.
const cancelCheckInterval = 4096

// Removal reasons.
const (
	ReasonNoSubject     = "missing subject marker"
	ReasonUnrepairable  = "unrepairable statement"
	ReasonContinuation  = "continuation bound exceeded"
	ReasonInterrupted   = "interrupted by next statement"
	ReasonUnterminated  = "unterminated at end of input"
	ReasonStructuralErr = "structural check failed"
)

// Options configures a Sanitizer.
type Options struct {
	// MaxContinuationLines is the number of lines that may follow the first
	// line of a statement before the buffer is quarantined.
	MaxContinuationLines int
}

// DefaultOptions returns the default sanitizer options.
func DefaultOptions() Options {
	return Options{MaxContinuationLines: DefaultMaxContinuationLines}
}

// Stats counts what happened to the input lines.
type Stats struct {
	Lines       int64 `json:"lines"`
	Statements  int64 `json:"statements"`
	Passthrough int64 `json:"passthrough"`
	Merged      int64 `json:"merged"`
	Repaired    int64 `json:"repaired"`
	Malformed   int64 `json:"malformed"`
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Lines += other.Lines
	s.Statements += other.Statements
	s.Passthrough += other.Passthrough
	s.Merged += other.Merged
	s.Repaired += other.Repaired
	s.Malformed += other.Malformed
}

// EmitFunc receives each output line. st is nil for lines passed through
// unchanged (blank, directive and comment lines).
type EmitFunc func(line string, st *statement.Statement) error

// Sanitizer merges continuation lines and repairs literal values.
//
// A Sanitizer holds no per-input state between Process calls, so one value can
// be reused across the fragments of a run.
type Sanitizer struct {
	opts     Options
	removals *RemovalLog
	logger   *slog.Logger
}

// New creates a Sanitizer. removals may be nil to discard quarantined input.
func New(opts Options, removals *RemovalLog, logger *slog.Logger) *Sanitizer {
	if opts.MaxContinuationLines <= 0 {
		opts.MaxContinuationLines = DefaultMaxContinuationLines
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sanitizer{opts: opts, removals: removals, logger: logger}
}

// run is the per-input state machine: idle when buf is empty, accumulating
// otherwise.
type run struct {
	s      *Sanitizer
	source string
	emit   EmitFunc
	stats  Stats

	buf   []string
	start int64
	end   int64
}

// Process reads r line by line and emits repaired output. source names the
// input in the removal log.
func (s *Sanitizer) Process(ctx context.Context, r io.Reader, source string, emit EmitFunc) (Stats, error) {
	st := &run{s: s, source: source, emit: emit}
	br := bufio.NewReaderSize(r, 256*1024)

	var n int64
	for {
		line, readErr := br.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return st.stats, fmt.Errorf("read %s: %w", source, readErr)
		}
		if line == "" && readErr == io.EOF {
			break
		}
		n++
		if n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return st.stats, err
			}
		}
		line = strings.TrimRight(line, "\r\n")
		st.stats.Lines++

		if err := st.feed(line, n); err != nil {
			return st.stats, err
		}
		if readErr == io.EOF {
			break
		}
	}

	if len(st.buf) > 0 {
		if err := st.close(true); err != nil {
			return st.stats, err
		}
	}
	return st.stats, nil
}

// feed advances the state machine by one line.
func (r *run) feed(line string, n int64) error {
	if len(r.buf) == 0 {
		return r.idle(line, n)
	}

	// Outside an open literal, a new statement or a non-statement line means
	// the buffer was never terminated. Inside one, only a line that is a
	// complete statement by itself interrupts it.
	interrupted := false
	if literalOpen(strings.Join(r.buf, "\n")) {
		_, interrupted = statement.Parse(line)
	} else {
		interrupted = statement.HasSubjectMarker(line) || statement.IsBlank(line) || statement.IsHeader(line)
	}
	if interrupted {
		if err := r.quarantine(ReasonInterrupted); err != nil {
			return err
		}
		return r.idle(line, n)
	}

	r.buf = append(r.buf, line)
	r.end = n
	if len(r.buf) > r.s.opts.MaxContinuationLines+1 {
		return r.quarantine(ReasonContinuation)
	}
	return r.close(false)
}

func (r *run) idle(line string, n int64) error {
	if statement.IsBlank(line) || statement.IsHeader(line) {
		r.stats.Passthrough++
		return r.emit(line, nil)
	}
	r.start, r.end = n, n
	r.buf = append(r.buf[:0], line)
	if !statement.HasSubjectMarker(line) {
		return r.quarantine(ReasonNoSubject)
	}
	return r.close(false)
}

// close attempts to turn the buffer into a statement. When final is false a
// buffer that is not yet terminated, or whose literal is still open, is left
// to accumulate more lines.
func (r *run) close(final bool) error {
	text := strings.Join(r.buf, "\n")
	if !strings.HasSuffix(strings.TrimSpace(text), ".") {
		if final {
			return r.quarantine(ReasonUnterminated)
		}
		return nil
	}

	st, level, ok := Repair(text)
	if !ok {
		if !final && literalOpen(text) {
			return nil
		}
		return r.quarantine(ReasonUnrepairable)
	}

	if len(r.buf) > 1 {
		r.stats.Merged++
	}
	if level > LevelClean {
		r.stats.Repaired++
	}
	r.stats.Statements++
	r.buf = r.buf[:0]
	return r.emit(statement.Format(st), &st)
}

func (r *run) quarantine(reason string) error {
	text := strings.Join(r.buf, "\n")
	r.buf = r.buf[:0]
	r.stats.Malformed++
	r.s.logger.Debug("Quarantined malformed fragment",
		"source", r.source,
		"start_line", r.start,
		"end_line", r.end,
		"reason", reason)
	if err := r.s.removals.Record(Removal{
		Source:    r.source,
		StartLine: r.start,
		EndLine:   r.end,
		Reason:    reason,
		Text:      text,
	}); err != nil {
		return fmt.Errorf("record removal: %w", err)
	}
	return nil
}
