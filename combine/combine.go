// Package combine merges the entity and relationship partitions into one
// artifact, strict-parses it, and writes a simplified fallback serialization
// when the strict parse fails.
package combine

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360studio/tripleforge/sanitize"
	"github.com/c360studio/tripleforge/statement"
)

// FallbackSuffix is appended to the combined path to name the fallback file.
const FallbackSuffix = ".fallback.nt"

// ReasonUnrecoverable is the removal reason for lines the fallback drops.
const ReasonUnrecoverable = "unrecoverable in fallback serialization"

const cancelCheckInterval = 4096

// Result describes a combine step.
type Result struct {
	Path              string `json:"path"`
	Headers           int    `json:"headers"`
	EntityLines       int64  `json:"entity_lines"`
	RelationshipLines int64  `json:"relationship_lines"`
	StrictOK          bool   `json:"strict_ok"`
	ParseError        string `json:"parse_error,omitempty"`

	FallbackPath     string `json:"fallback_path,omitempty"`
	FallbackLines    int64  `json:"fallback_lines,omitempty"`
	FallbackExpanded int64  `json:"fallback_expanded,omitempty"`
	FallbackRepaired int64  `json:"fallback_repaired,omitempty"`
	FallbackDropped  int64  `json:"fallback_dropped,omitempty"`
}

// Artifact returns the path a loader should use: the fallback file when one
// was written, otherwise the combined file.
func (r *Result) Artifact() string {
	if r.FallbackPath != "" {
		return r.FallbackPath
	}
	return r.Path
}

// Combiner writes the combined artifact.
type Combiner struct {
	parser   StrictParser
	removals *sanitize.RemovalLog
	logger   *slog.Logger
}

// New creates a Combiner. A nil parser selects TurtleParser.
func New(parser StrictParser, removals *sanitize.RemovalLog, logger *slog.Logger) *Combiner {
	if parser == nil {
		parser = TurtleParser{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Combiner{parser: parser, removals: removals, logger: logger}
}

// Combine writes out from the partition files: deduplicated headers in
// first-seen order, the entity body, then the relationship body. It then
// strict-parses out and, on failure, writes the fallback file next to it.
func (c *Combiner) Combine(ctx context.Context, entityPath, relPath, out string) (*Result, error) {
	res := &Result{Path: out}
	if err := c.merge(ctx, entityPath, relPath, out, res); err != nil {
		return nil, err
	}

	perr := c.strictParse(ctx, out)
	if perr == nil {
		res.StrictOK = true
		c.logger.Info("Combined artifact parsed cleanly", "path", out,
			"entity_lines", res.EntityLines, "relationship_lines", res.RelationshipLines)
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	c.logger.Warn("Combined artifact failed strict parse, writing fallback", "error", perr)
	res.ParseError = perr.Error()
	res.FallbackPath = out + FallbackSuffix
	if err := c.fallback(ctx, out, res); err != nil {
		return nil, err
	}
	c.logger.Info("Fallback serialization written", "path", res.FallbackPath,
		"lines", res.FallbackLines, "repaired", res.FallbackRepaired, "dropped", res.FallbackDropped)
	return res, nil
}

func (c *Combiner) merge(ctx context.Context, entityPath, relPath, out string, res *Result) (err error) {
	var headers []string
	seen := make(map[string]bool)
	for _, p := range []string{entityPath, relPath} {
		err = scanLines(ctx, p, func(line string) error {
			if statement.IsHeader(line) {
				h := strings.TrimSpace(line)
				if !seen[h] {
					seen[h] = true
					headers = append(headers, h)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create combined file: %w", err)
	}
	defer closeFile(f, &err)
	w := bufio.NewWriterSize(f, 1<<20)

	for _, h := range headers {
		if _, err := w.WriteString(h + "\n"); err != nil {
			return fmt.Errorf("write combined file: %w", err)
		}
	}
	res.Headers = len(headers)

	body := func(count *int64) func(string) error {
		return func(line string) error {
			if statement.IsHeader(line) || statement.IsBlank(line) {
				return nil
			}
			*count++
			if _, err := w.WriteString(line + "\n"); err != nil {
				return fmt.Errorf("write combined file: %w", err)
			}
			return nil
		}
	}
	if err := scanLines(ctx, entityPath, body(&res.EntityLines)); err != nil {
		return err
	}
	if err := scanLines(ctx, relPath, body(&res.RelationshipLines)); err != nil {
		return err
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("write combined file: %w", err)
	}
	return nil
}

func (c *Combiner) strictParse(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &CombinedParseError{Path: path, Err: err}
	}
	defer f.Close()
	if err := c.parser.Check(ctx, f); err != nil {
		return &CombinedParseError{Path: path, Err: err}
	}
	return nil
}

// fallback rewrites the combined file in the minimal encoding: no headers,
// prefixed names expanded, every line re-formatted through the codec. Lines
// that do not parse go through the sanitizer's repair path and are dropped
// when that fails too.
func (c *Combiner) fallback(ctx context.Context, combined string, res *Result) (err error) {
	f, err := os.Create(res.FallbackPath)
	if err != nil {
		return fmt.Errorf("create fallback file: %w", err)
	}
	defer closeFile(f, &err)
	w := bufio.NewWriterSize(f, 1<<20)

	prefixes := statement.Prefixes{}
	source := filepath.Base(combined)
	var n int64
	err = scanLines(ctx, combined, func(line string) error {
		n++
		if statement.IsHeader(line) {
			prefixes.AddHeader(line)
			return nil
		}
		if statement.IsBlank(line) {
			return nil
		}

		formatted, ok := c.recover(ctx, line, prefixes, res)
		if !ok {
			res.FallbackDropped++
			if err := c.removals.Record(sanitize.Removal{
				Source: source, StartLine: n, EndLine: n, Reason: ReasonUnrecoverable, Text: line,
			}); err != nil {
				return fmt.Errorf("record removal: %w", err)
			}
			return nil
		}
		res.FallbackLines++
		if _, err := w.WriteString(formatted + "\n"); err != nil {
			return fmt.Errorf("write fallback file: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write fallback file: %w", err)
	}
	return nil
}

// recover returns the fallback encoding of line. A candidate is accepted only
// when the strict parser takes it on its own.
func (c *Combiner) recover(ctx context.Context, line string, prefixes statement.Prefixes, res *Result) (string, bool) {
	if st, ok := statement.Parse(line); ok {
		if out, ok := c.accepts(ctx, st); ok {
			return out, true
		}
	}
	candidate := line
	if expanded, ok := prefixes.ExpandLine(line); ok {
		if st, ok := statement.Parse(expanded); ok {
			if out, ok := c.accepts(ctx, st); ok {
				res.FallbackExpanded++
				return out, true
			}
		}
		candidate = expanded
	}
	if st, _, ok := sanitize.Repair(candidate); ok {
		if out, ok := c.accepts(ctx, st); ok {
			res.FallbackRepaired++
			return out, true
		}
	}
	return "", false
}

func (c *Combiner) accepts(ctx context.Context, st statement.Statement) (string, bool) {
	out := statement.Format(st)
	if err := c.parser.Check(ctx, strings.NewReader(out+"\n")); err != nil {
		c.logger.Debug("Fallback candidate rejected by strict parser", "line", out, "error", err)
		return "", false
	}
	return out, true
}

// closeFile closes f and reports the close error when nothing failed before.
func closeFile(f *os.File, err *error) {
	if cerr := f.Close(); cerr != nil && *err == nil {
		*err = fmt.Errorf("close %s: %w", f.Name(), cerr)
	}
}

// scanLines calls fn for every line of the file at path.
func scanLines(ctx context.Context, path string, fn func(string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	var n int
	for sc.Scan() {
		n++
		if n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := fn(sc.Text()); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}
