// Package summary holds the per-run record written at the end of a combine
// run.
package summary

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/tripleforge/combine"
	"github.com/c360studio/tripleforge/diagnostics"
	"github.com/c360studio/tripleforge/grouping"
	"github.com/c360studio/tripleforge/partition"
)

// FilePrefix starts every summary file name.
const FilePrefix = "run_summary_"

// timestampLayout is the UTC timestamp embedded in summary file names. It
// sorts lexically in time order.
const timestampLayout = "20060102T150405Z"

// Outputs lists the artifacts of a run.
type Outputs struct {
	Entity       string `json:"entity"`
	Relationship string `json:"relationship"`
	Combined     string `json:"combined,omitempty"`
	Fallback     string `json:"fallback,omitempty"`
	RemovalLog   string `json:"removal_log,omitempty"`
}

// RunSummary is the record of one combine run. Once written it is never
// rewritten; the next run writes a new file.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Outputs   Outputs                   `json:"outputs"`
	Fragments []partition.FragmentStats `json:"fragments"`
	Totals    partition.Totals          `json:"totals"`
	Removed   int64                     `json:"removed"`

	Grouping      *grouping.Stats     `json:"grouping,omitempty"`
	GroupingError string              `json:"grouping_error,omitempty"`
	Combine       *combine.Result     `json:"combine,omitempty"`
	Diagnostics   *diagnostics.Report `json:"diagnostics,omitempty"`
	Warnings      []string            `json:"warnings,omitempty"`
}

// New starts a summary with a fresh run id.
func New(startedAt time.Time) *RunSummary {
	return &RunSummary{
		RunID:     uuid.New().String(),
		StartedAt: startedAt.UTC(),
	}
}

// Warn appends a warning.
func (s *RunSummary) Warn(format string, args ...any) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

// WithDiagnostics returns a copy of s carrying report. s is not modified.
func (s RunSummary) WithDiagnostics(report diagnostics.Report) RunSummary {
	s.Diagnostics = &report
	s.Warnings = append([]string(nil), s.Warnings...)
	return s
}

// FileName returns the summary file name for a run finished at t.
func FileName(t time.Time) string {
	return FilePrefix + t.UTC().Format(timestampLayout) + ".json"
}

// Write stores the summary in dir and returns its path. FinishedAt is set
// when it is still zero. An existing file is never overwritten: if the
// timestamped name is taken, the run id is appended to it.
func (s *RunSummary) Write(dir string) (string, error) {
	if s.FinishedAt.IsZero() {
		s.FinishedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal run summary: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create summary directory: %w", err)
	}

	name := FileName(s.FinishedAt)
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, os.ErrExist) {
		path = filepath.Join(dir, strings.TrimSuffix(name, ".json")+"_"+s.RunID+".json")
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	}
	if err != nil {
		return "", fmt.Errorf("create run summary: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return "", fmt.Errorf("write run summary: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close run summary: %w", err)
	}
	return path, nil
}

// Load reads a summary file.
func Load(path string) (*RunSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run summary: %w", err)
	}
	var s RunSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse run summary: %w", err)
	}
	return &s, nil
}

// Latest returns the path of the newest summary in dir, or os.ErrNotExist.
func Latest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, FilePrefix+"*.json"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no run summary in %s: %w", dir, os.ErrNotExist)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}
