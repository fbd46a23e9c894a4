// Package grouping rewrites a statement file so that all statements about one
// subject are contiguous, with kind statements first, without loading the
// file into memory.
//
// Lines are routed to on-disk buckets by a hash of their subject token. Each
// bucket is then sorted on its own, so peak memory is one bucket rather than
// the whole file.
package grouping

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/c360studio/tripleforge/statement"
)

// Defaults for adaptive bucket sizing.
const (
	DefaultMinBuckets        = 1
	DefaultMaxBuckets        = 4096
	DefaultTargetBucketBytes = 64 << 20
)

const cancelCheckInterval = 4096

// Options configures a Grouper.
type Options struct {
	// Buckets fixes the bucket count. Zero selects it from the input size.
	Buckets int `json:"buckets"`

	MinBuckets        int   `json:"min_buckets"`
	MaxBuckets        int   `json:"max_buckets"`
	TargetBucketBytes int64 `json:"target_bucket_bytes"`

	// ScratchDir is where the per-run bucket directory is created. Empty
	// means the directory of the output file.
	ScratchDir string `json:"scratch_dir,omitempty"`
}

// DefaultOptions returns adaptive bucket sizing with the default bounds.
func DefaultOptions() Options {
	return Options{
		MinBuckets:        DefaultMinBuckets,
		MaxBuckets:        DefaultMaxBuckets,
		TargetBucketBytes: DefaultTargetBucketBytes,
	}
}

func (o Options) withDefaults() Options {
	if o.MinBuckets <= 0 {
		o.MinBuckets = DefaultMinBuckets
	}
	if o.MaxBuckets <= 0 {
		o.MaxBuckets = DefaultMaxBuckets
	}
	if o.MaxBuckets < o.MinBuckets {
		o.MaxBuckets = o.MinBuckets
	}
	if o.TargetBucketBytes <= 0 {
		o.TargetBucketBytes = DefaultTargetBucketBytes
	}
	return o
}

// Stats describes a grouping pass.
type Stats struct {
	InputBytes     int64         `json:"input_bytes"`
	Buckets        int           `json:"buckets"`
	Headers        int           `json:"headers"`
	Lines          int64         `json:"lines"`
	Subjects       int64         `json:"subjects"`
	MaxBucketBytes int64         `json:"max_bucket_bytes"`
	Duration       time.Duration `json:"duration_ns"`
}

// BucketHook observes the size of each bucket as it is loaded into memory.
type BucketHook func(bucket int, bytes int64)

// Grouper performs the bucketed grouping.
type Grouper struct {
	opts   Options
	logger *slog.Logger
	hook   BucketHook
}

// New creates a Grouper.
func New(opts Options, logger *slog.Logger) *Grouper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Grouper{opts: opts.withDefaults(), logger: logger}
}

// OnBucket installs an instrumentation hook called once per non-empty bucket.
func (g *Grouper) OnBucket(hook BucketHook) {
	g.hook = hook
}

// Group reads in and writes the grouped result to out, which may be the same
// path. The result is written to a temporary file and renamed into place, so
// out is only replaced when grouping succeeds. Scratch files are always
// removed.
func (g *Grouper) Group(ctx context.Context, in, out string) (Stats, error) {
	start := time.Now()
	var stats Stats

	info, err := os.Stat(in)
	if err != nil {
		return stats, fmt.Errorf("stat grouping input: %w", err)
	}
	stats.InputBytes = info.Size()
	stats.Buckets = BucketCount(info.Size(), g.opts)

	scratchParent := g.opts.ScratchDir
	if scratchParent == "" {
		scratchParent = filepath.Dir(out)
	}
	if err := os.MkdirAll(scratchParent, 0755); err != nil {
		return stats, ioErr("create scratch", scratchParent, err)
	}
	scratch, err := os.MkdirTemp(scratchParent, ".grouping-*")
	if err != nil {
		return stats, ioErr("create scratch", scratchParent, err)
	}
	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			g.logger.Warn("Failed to remove grouping scratch", "path", scratch, "error", rmErr)
		}
	}()

	buckets := newBucketSet(scratch, stats.Buckets)
	headers, err := g.route(ctx, in, buckets, &stats)
	if err != nil {
		return stats, err
	}
	stats.Headers = len(headers)

	if err := g.emit(ctx, out, headers, buckets, &stats); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(start)
	g.logger.Info("Grouped statements by subject",
		"input", in,
		"buckets", stats.Buckets,
		"lines", stats.Lines,
		"subjects", stats.Subjects,
		"max_bucket_bytes", stats.MaxBucketBytes,
		"duration", stats.Duration)
	return stats, nil
}

// route streams the input into buckets and returns its header lines.
func (g *Grouper) route(ctx context.Context, in string, buckets *bucketSet, stats *Stats) ([]string, error) {
	f, err := os.Open(in)
	if err != nil {
		return nil, fmt.Errorf("open grouping input: %w", err)
	}
	defer f.Close()

	var headers []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	var n int64
	for sc.Scan() {
		n++
		if n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line := sc.Text()
		if statement.IsBlank(line) {
			continue
		}
		if statement.IsHeader(line) {
			headers = append(headers, line)
			continue
		}
		stats.Lines++
		if err := buckets.add(BucketOf(statement.SubjectToken(line), len(buckets.bufs)), line); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read grouping input: %w", err)
	}
	if err := buckets.flushAll(); err != nil {
		return nil, err
	}
	return headers, nil
}

// emit writes headers and every regrouped bucket to a temporary file next to
// out and renames it into place.
func (g *Grouper) emit(ctx context.Context, out string, headers []string, buckets *bucketSet, stats *Stats) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(out), ".grouped-*")
	if err != nil {
		return ioErr("create output", out, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriterSize(tmp, 1<<20)
	for _, h := range headers {
		if _, err := w.WriteString(h + "\n"); err != nil {
			return ioErr("write output", tmpPath, err)
		}
	}

	for i := range buckets.bufs {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := buckets.read(i)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			continue
		}
		size := int64(len(data))
		if size > stats.MaxBucketBytes {
			stats.MaxBucketBytes = size
		}
		if g.hook != nil {
			g.hook(i, size)
		}

		lines := regroup(data)
		stats.Subjects += countRuns(lines)
		for _, l := range lines {
			if _, err := w.WriteString(l.text); err != nil {
				return ioErr("write output", tmpPath, err)
			}
			if err := w.WriteByte('\n'); err != nil {
				return ioErr("write output", tmpPath, err)
			}
		}
		// Bucket files are dropped as soon as they are consumed.
		os.Remove(buckets.path(i))
	}

	if err := w.Flush(); err != nil {
		return ioErr("write output", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return ioErr("close output", tmpPath, err)
	}
	if err := os.Rename(tmpPath, out); err != nil {
		return ioErr("rename output", out, err)
	}
	return nil
}

type groupLine struct {
	subject   string
	predicate string
	kind      bool
	text      string
}

// regroup sorts one bucket by (subject, predicate) and moves each subject's
// kind statements to the front of its run. Both steps are stable, so equal
// keys keep their input order.
func regroup(data []byte) []groupLine {
	raw := bytes.Split(bytes.TrimSuffix(data, []byte("\n")), []byte("\n"))
	lines := make([]groupLine, len(raw))
	for i, r := range raw {
		text := string(r)
		pred := statement.PredicateToken(text)
		lines[i] = groupLine{
			subject:   statement.SubjectToken(text),
			predicate: pred,
			kind:      statement.IsKindToken(pred),
			text:      text,
		}
	}

	sort.SliceStable(lines, func(a, b int) bool {
		if lines[a].subject != lines[b].subject {
			return lines[a].subject < lines[b].subject
		}
		return lines[a].predicate < lines[b].predicate
	})

	for start := 0; start < len(lines); {
		end := start + 1
		for end < len(lines) && lines[end].subject == lines[start].subject {
			end++
		}
		run := lines[start:end]
		sort.SliceStable(run, func(a, b int) bool {
			return run[a].kind && !run[b].kind
		})
		start = end
	}
	return lines
}

func countRuns(lines []groupLine) int64 {
	var n int64
	for i := range lines {
		if i == 0 || lines[i].subject != lines[i-1].subject {
			n++
		}
	}
	return n
}
