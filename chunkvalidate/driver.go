// Package chunkvalidate validates a grouped statement file in chunks of whole
// subject groups, so that a subject's statements always reach the validator
// together while memory stays bounded by the chunk size.
package chunkvalidate

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/c360studio/tripleforge/statement"
)

// DefaultChunkSize is the number of distinct subjects per chunk.
const DefaultChunkSize = 50000

// SummaryFileName is the aggregate written to the output directory.
const SummaryFileName = "validation_summary.json"

// Chunk statuses.
const (
	StatusPass    = "pass"
	StatusFail    = "fail"
	StatusTimeout = "timeout"
)

// Options configures a Driver.
type Options struct {
	// ChunkSize is the distinct-subject count at which a chunk is closed.
	ChunkSize int

	// OutputDir receives the temporary chunk files, failure reports and
	// the validation summary.
	OutputDir string

	// Shapes is the shapes file handed to the runner.
	Shapes string
}

// ChunkResult describes one validated chunk.
type ChunkResult struct {
	Index        int           `json:"index"`
	Subjects     int           `json:"subjects"`
	Lines        int64         `json:"lines"`
	FirstSubject string        `json:"first_subject"`
	LastSubject  string        `json:"last_subject"`
	Status       string        `json:"status"`
	ExitCode     int           `json:"exit_code"`
	Duration     time.Duration `json:"duration_ns"`
	Report       string        `json:"report,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// Summary aggregates a validation run.
type Summary struct {
	Input      string        `json:"input"`
	Shapes     string        `json:"shapes"`
	ChunkSize  int           `json:"chunk_size"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Chunks     int           `json:"chunks"`
	Passed     int           `json:"passed"`
	Failed     int           `json:"failed"`
	TimedOut   int           `json:"timed_out"`
	Conforms   bool          `json:"conforms"`
	Results    []ChunkResult `json:"results"`
}

// Driver walks a grouped file and validates it chunk by chunk.
type Driver struct {
	runner Runner
	opts   Options
	logger *slog.Logger
}

// NewDriver creates a Driver.
func NewDriver(runner Runner, opts Options, logger *slog.Logger) *Driver {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{runner: runner, opts: opts, logger: logger}
}

// chunk streams the lines of whole subject groups to its temporary file.
// Only the chunk's distinct subjects are held in memory.
type chunk struct {
	index    int
	f        *os.File
	w        *bufio.Writer
	lines    int64
	subjects map[string]struct{}
	first    string
	last     string
}

// Run validates input, which must be grouped by subject. Chunk boundaries
// fall only where a new subject begins. The summary is written to the output
// directory and returned; it conforms only when every chunk passed.
func (d *Driver) Run(ctx context.Context, input string) (*Summary, error) {
	sum := &Summary{
		Input:     input,
		Shapes:    d.opts.Shapes,
		ChunkSize: d.opts.ChunkSize,
		StartedAt: time.Now().UTC(),
	}
	if err := os.MkdirAll(d.opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create validation output directory: %w", err)
	}

	f, err := os.Open(input)
	if err != nil {
		return nil, fmt.Errorf("open validation input: %w", err)
	}
	defer f.Close()

	cur := d.newChunk(1)
	defer func() { cur.discard() }()
	flush := func() error {
		if cur.lines == 0 {
			return nil
		}
		res, err := d.validate(ctx, cur)
		if err != nil {
			return err
		}
		sum.Results = append(sum.Results, res)
		cur = d.newChunk(cur.index + 1)
		return nil
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if statement.IsBlank(line) || statement.IsHeader(line) {
			continue
		}
		subj := statement.SubjectToken(line)
		if _, seen := cur.subjects[subj]; !seen {
			if len(cur.subjects) >= d.opts.ChunkSize {
				if err := flush(); err != nil {
					return nil, err
				}
			}
			cur.subjects[subj] = struct{}{}
			if cur.first == "" {
				cur.first = subj
			}
		}
		cur.last = subj
		if err := d.appendLine(input, cur, line); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read validation input: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	sum.FinishedAt = time.Now().UTC()
	sum.Chunks = len(sum.Results)
	for _, r := range sum.Results {
		switch r.Status {
		case StatusPass:
			sum.Passed++
		case StatusTimeout:
			sum.TimedOut++
		default:
			sum.Failed++
		}
	}
	sum.Conforms = sum.Passed == sum.Chunks

	if err := d.writeSummary(sum); err != nil {
		return nil, err
	}
	d.logger.Info("Validation complete",
		"input", input,
		"chunks", sum.Chunks,
		"passed", sum.Passed,
		"failed", sum.Failed,
		"timed_out", sum.TimedOut,
		"conforms", sum.Conforms)
	return sum, nil
}

func (d *Driver) newChunk(index int) *chunk {
	return &chunk{index: index, subjects: make(map[string]struct{})}
}

// validate writes c to a temporary file, runs the validator on it and
// removes the file whatever the outcome.
func (d *Driver) validate(ctx context.Context, c *chunk) (ChunkResult, error) {
	res := ChunkResult{
		Index:        c.index,
		Subjects:     len(c.subjects),
		Lines:        c.lines,
		FirstSubject: c.first,
		LastSubject:  c.last,
	}

	path := c.f.Name()
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			d.logger.Warn("Failed to remove chunk file", "path", path, "error", rmErr)
		}
	}()
	if err := c.close(); err != nil {
		return res, err
	}

	out, runErr := d.runner.Validate(ctx, path, d.opts.Shapes)
	res.ExitCode = out.ExitCode
	res.Duration = out.Duration
	switch {
	case runErr == nil && out.Conforms:
		res.Status = StatusPass
	case errors.Is(runErr, ErrValidationTimeout):
		res.Status = StatusTimeout
	case runErr == nil, errors.Is(runErr, ErrValidationSubprocess):
		res.Status = StatusFail
	default:
		return res, fmt.Errorf("validate chunk %d: %w", c.index, runErr)
	}
	if runErr != nil {
		res.Error = runErr.Error()
	}

	if res.Status != StatusPass {
		report, err := d.writeReport(c.index, res, out)
		if err != nil {
			return res, err
		}
		res.Report = report
		d.logger.Warn("Chunk failed validation",
			"chunk", c.index,
			"status", res.Status,
			"subjects", res.Subjects,
			"report", report)
	} else {
		d.logger.Debug("Chunk passed validation", "chunk", c.index, "subjects", res.Subjects)
	}
	return res, nil
}

// appendLine writes line to c, creating the chunk file on first use.
func (d *Driver) appendLine(input string, c *chunk, line string) error {
	if c.f == nil {
		f, err := os.CreateTemp(d.opts.OutputDir, fmt.Sprintf("chunk-%05d-*.nt", c.index))
		if err != nil {
			return fmt.Errorf("create chunk file: %w", err)
		}
		c.f = f
		c.w = bufio.NewWriter(f)
		fmt.Fprintf(c.w, "# validation chunk %05d of %s\n", c.index, filepath.Base(input))
	}
	c.lines++
	if _, err := c.w.WriteString(line); err != nil {
		return fmt.Errorf("write chunk file: %w", err)
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write chunk file: %w", err)
	}
	return nil
}

func (c *chunk) close() error {
	if err := c.w.Flush(); err != nil {
		c.f.Close()
		return fmt.Errorf("write chunk file: %w", err)
	}
	if err := c.f.Close(); err != nil {
		return fmt.Errorf("close chunk file: %w", err)
	}
	return nil
}

// discard removes a chunk file that was never validated.
func (c *chunk) discard() {
	if c.f == nil || c.lines == 0 {
		return
	}
	c.f.Close()
	os.Remove(c.f.Name())
}

func (d *Driver) writeReport(index int, res ChunkResult, out Outcome) (string, error) {
	path := filepath.Join(d.opts.OutputDir, fmt.Sprintf("chunk-%05d.report.txt", index))
	var sb strings.Builder
	fmt.Fprintf(&sb, "chunk: %d\nstatus: %s\nexit_code: %d\nsubjects: %d (%s .. %s)\n",
		index, res.Status, res.ExitCode, res.Subjects, res.FirstSubject, res.LastSubject)
	if res.Error != "" {
		fmt.Fprintf(&sb, "error: %s\n", res.Error)
	}
	sb.WriteString("\n--- stdout ---\n")
	sb.WriteString(out.Stdout)
	sb.WriteString("\n--- stderr ---\n")
	sb.WriteString(out.Stderr)
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return "", fmt.Errorf("write chunk report: %w", err)
	}
	return path, nil
}

func (d *Driver) writeSummary(sum *Summary) error {
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal validation summary: %w", err)
	}
	path := filepath.Join(d.opts.OutputDir, SummaryFileName)
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write validation summary: %w", err)
	}
	return nil
}
