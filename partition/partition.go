// Package partition reads stage fragments and splits their statements into an
// entity partition file and a relationship partition file.
package partition

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360studio/tripleforge/sanitize"
	"github.com/c360studio/tripleforge/stage"
	"github.com/c360studio/tripleforge/statement"
)

// DefaultHeuristicThreshold is the fragment size from which the streaming
// heuristic parser is used instead of the accurate parser.
const DefaultHeuristicThreshold int64 = 32 << 20

const cancelCheckInterval = 4096

// Parse modes recorded per fragment.
const (
	ModeAccurate  = "accurate"
	ModeHeuristic = "heuristic"
	ModeSkipped   = "skipped"
)

// Options configures a Partitioner.
type Options struct {
	// HeuristicThreshold is the size in bytes at or above which a fragment
	// is parsed line by line.
	HeuristicThreshold int64

	// EntityPredicates extends the entity classification allow-list.
	EntityPredicates []string

	// DropRelationshipKinds drops kind statements that reach the
	// relationship writer.
	DropRelationshipKinds bool

	// SkipSanitize replaces the sanitizer with a plain structural check.
	SkipSanitize bool

	// Sanitizer configures the inline sanitizer.
	Sanitizer sanitize.Options
}

// DefaultOptions returns the default partitioning options.
func DefaultOptions() Options {
	return Options{
		HeuristicThreshold: DefaultHeuristicThreshold,
		Sanitizer:          sanitize.DefaultOptions(),
	}
}

// FragmentStats describes what happened to one fragment.
type FragmentStats struct {
	Path  string     `json:"path"`
	Role  stage.Role `json:"role"`
	Stage int        `json:"stage"`
	Size  int64      `json:"size"`
	Mode  string     `json:"mode"`

	// Fallback is set when the accurate parser failed and the fragment was
	// re-read heuristically.
	Fallback       bool   `json:"fallback,omitempty"`
	FallbackReason string `json:"fallback_reason,omitempty"`
	SkipReason     string `json:"skip_reason,omitempty"`

	Total         int64 `json:"total"`
	Entity        int64 `json:"entity"`
	Relationship  int64 `json:"relationship"`
	Malformed     int64 `json:"malformed"`
	DroppedKinds  int64 `json:"dropped_kinds,omitempty"`
	Repaired      int64 `json:"repaired,omitempty"`
	MergedLiteral int64 `json:"merged,omitempty"`

	Meta       *stage.Metadata `json:"meta,omitempty"`
	ChecksumOK *bool           `json:"checksum_ok,omitempty"`
}

// Totals aggregates FragmentStats over a run.
type Totals struct {
	Fragments    int   `json:"fragments"`
	Skipped      int   `json:"skipped"`
	Fallbacks    int   `json:"fallbacks"`
	Total        int64 `json:"total"`
	Entity       int64 `json:"entity"`
	Relationship int64 `json:"relationship"`
	Malformed    int64 `json:"malformed"`
	DroppedKinds int64 `json:"dropped_kinds"`
}

func (t *Totals) add(fs FragmentStats) {
	t.Fragments++
	switch {
	case fs.Mode == ModeSkipped:
		t.Skipped++
	case fs.Fallback:
		t.Fallbacks++
	}
	t.Total += fs.Total
	t.Entity += fs.Entity
	t.Relationship += fs.Relationship
	t.Malformed += fs.Malformed
	t.DroppedKinds += fs.DroppedKinds
}

// Result is the outcome of partitioning a run's fragments.
type Result struct {
	EntityPath       string          `json:"entity_path"`
	RelationshipPath string          `json:"relationship_path"`
	Headers          []string        `json:"headers,omitempty"`
	Fragments        []FragmentStats `json:"fragments"`
	Totals           Totals          `json:"totals"`
}

// Partitioner classifies the statements of stage fragments.
type Partitioner struct {
	opts       Options
	classifier *statement.Classifier
	sanitizer  *sanitize.Sanitizer
	removals   *sanitize.RemovalLog
	logger     *slog.Logger
}

// New creates a Partitioner. Quarantined input is recorded to removals, which
// may be nil.
func New(opts Options, removals *sanitize.RemovalLog, logger *slog.Logger) *Partitioner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HeuristicThreshold <= 0 {
		opts.HeuristicThreshold = DefaultHeuristicThreshold
	}
	return &Partitioner{
		opts:       opts,
		classifier: statement.NewClassifier(opts.EntityPredicates),
		sanitizer:  sanitize.New(opts.Sanitizer, removals, logger),
		removals:   removals,
		logger:     logger,
	}
}

// Run partitions frags, in order, into the files at entityOut and relOut.
// Both files are replaced. A fragment that cannot be opened is skipped.
func (p *Partitioner) Run(ctx context.Context, frags []stage.Fragment, entityOut, relOut string) (*Result, error) {
	entities, err := createWriter(entityOut)
	if err != nil {
		return nil, err
	}
	defer entities.abort()
	rels, err := createWriter(relOut)
	if err != nil {
		return nil, err
	}
	defer rels.abort()

	res := &Result{EntityPath: entityOut, RelationshipPath: relOut}
	for i, frag := range frags {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i == 0 {
			headers, err := leadingHeaders(frag.Path)
			if err != nil {
				p.logger.Warn("Failed to read fragment headers", "fragment", frag.Path, "error", err)
			}
			res.Headers = headers
			for _, h := range headers {
				if err := entities.writeLine(h); err != nil {
					return nil, err
				}
				if err := rels.writeLine(h); err != nil {
					return nil, err
				}
			}
		}

		fs, err := p.fragment(ctx, frag, entities, rels)
		if err != nil {
			return nil, err
		}
		res.Fragments = append(res.Fragments, fs)
		res.Totals.add(fs)
	}

	if err := entities.close(); err != nil {
		return nil, err
	}
	if err := rels.close(); err != nil {
		return nil, err
	}

	p.logger.Info("Partitioned stage fragments",
		"fragments", res.Totals.Fragments,
		"entity", res.Totals.Entity,
		"relationship", res.Totals.Relationship,
		"malformed", res.Totals.Malformed)
	return res, nil
}

func (p *Partitioner) fragment(ctx context.Context, frag stage.Fragment, entities, rels *writer) (FragmentStats, error) {
	fs := FragmentStats{
		Path:  frag.Path,
		Role:  frag.Role,
		Stage: frag.Stage,
		Size:  frag.Size,
		Meta:  frag.Meta,
	}
	if frag.Meta != nil {
		if ok, err := frag.Meta.Verify(frag.Path); err == nil {
			fs.ChecksumOK = &ok
			if !ok {
				p.logger.Warn("Fragment differs from fetch metadata", "fragment", frag.Path, "url", frag.Meta.URL)
			}
		}
	}

	f, err := os.Open(frag.Path)
	if err != nil {
		p.logger.Warn("Skipping unreadable fragment", "fragment", frag.Path, "error", err)
		fs.Mode = ModeSkipped
		fs.SkipReason = err.Error()
		return fs, nil
	}
	defer f.Close()

	route := func(st statement.Statement) error {
		fs.Total++
		line := statement.Format(st)
		if p.classifier.Classify(st) == statement.PartitionEntity {
			fs.Entity++
			return entities.writeLine(line)
		}
		if p.opts.DropRelationshipKinds && st.IsKind() {
			fs.DroppedKinds++
			return nil
		}
		fs.Relationship++
		return rels.writeLine(line)
	}

	if frag.Size < p.opts.HeuristicThreshold {
		stmts, err := decodeAll(ctx, f)
		if err == nil {
			fs.Mode = ModeAccurate
			for _, st := range stmts {
				if err := route(st); err != nil {
					return fs, err
				}
			}
			return fs, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fs, ctxErr
		}
		perr := &FragmentParseError{Path: frag.Path, Err: err}
		p.logger.Warn("Accurate parse failed, falling back to heuristic parser", "error", perr)
		fs.Fallback = true
		fs.FallbackReason = perr.Error()
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return fs, fmt.Errorf("rewind fragment %s: %w", frag.Path, err)
		}
	}

	fs.Mode = ModeHeuristic
	if p.opts.SkipSanitize {
		return fs, p.checkLines(ctx, f, frag, &fs, route)
	}

	stats, err := p.sanitizer.Process(ctx, f, frag.Name, func(_ string, st *statement.Statement) error {
		if st == nil {
			return nil
		}
		return route(*st)
	})
	fs.Malformed += stats.Malformed
	fs.Repaired += stats.Repaired
	fs.MergedLiteral += stats.Merged
	if err != nil {
		return fs, fmt.Errorf("sanitize %s: %w", frag.Path, err)
	}
	return fs, nil
}

// checkLines is the heuristic parser without repair: one statement per line,
// anything that fails the structural check is quarantined.
func (p *Partitioner) checkLines(ctx context.Context, r io.Reader, frag stage.Fragment, fs *FragmentStats, route func(statement.Statement) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	var n int64
	for sc.Scan() {
		n++
		if n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		line := sc.Text()
		if statement.IsBlank(line) || statement.IsHeader(line) {
			continue
		}
		st, err := sanitize.Check(line)
		if err != nil {
			fs.Malformed++
			reason := strings.TrimPrefix(err.Error(), sanitize.ErrMalformed.Error()+": ")
			if rerr := p.removals.Record(sanitize.Removal{
				Source: frag.Name, StartLine: n, EndLine: n, Reason: reason, Text: line,
			}); rerr != nil {
				return fmt.Errorf("record removal: %w", rerr)
			}
			continue
		}
		if err := route(st); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", frag.Path, err)
	}
	return nil
}

// leadingHeaders returns the directive and comment lines before the first
// statement of the file at path. Blank lines among them are skipped.
func leadingHeaders(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var headers []string
	br := bufio.NewReader(f)
	for {
		line, err := br.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		switch {
		case statement.IsHeader(trimmed):
			headers = append(headers, strings.TrimSpace(trimmed))
		case statement.IsBlank(trimmed):
		default:
			return headers, nil
		}
		if errors.Is(err, io.EOF) {
			return headers, nil
		}
		if err != nil {
			return headers, err
		}
	}
}

// writer is a buffered partition file.
type writer struct {
	path string
	f    *os.File
	w    *bufio.Writer
	done bool
}

func createWriter(path string) (*writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create partition file: %w", err)
	}
	return &writer{path: path, f: f, w: bufio.NewWriterSize(f, 1<<20)}, nil
}

func (w *writer) writeLine(line string) error {
	if _, err := w.w.WriteString(line); err != nil {
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	return nil
}

func (w *writer) close() error {
	w.done = true
	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("flush %s: %w", w.path, err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", w.path, err)
	}
	return nil
}

// abort closes the file if close was never reached.
func (w *writer) abort() {
	if !w.done {
		w.f.Close()
	}
}
