// Package diagnostics scans an output file for structural anomalies and
// entity-completeness gaps.
package diagnostics

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/c360studio/tripleforge/statement"
)

// DefaultSampleLimit bounds how many anomalies of each kind are kept in a
// report.
const DefaultSampleLimit = 50

// AnomalyLogName is the file anomalies are appended to inside the logs
// directory.
const AnomalyLogName = "structural_anomalies.log"

const cancelCheckInterval = 4096

// Anomaly kinds.
const (
	KindStructural = "structural"
	KindUntyped    = "untyped"
)

// Options configures a Reporter.
type Options struct {
	// SampleLimit bounds the samples of each anomaly kind.
	SampleLimit int

	// AnomalyLog is the file every anomaly is appended to. Empty disables it.
	AnomalyLog string
}

// Anomaly is one sampled finding.
type Anomaly struct {
	Line int64  `json:"line,omitempty"`
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Report is the result of a scan.
type Report struct {
	Path  string `json:"path"`
	Lines int64  `json:"lines"`

	StructuralCount   int64     `json:"structural_count"`
	StructuralSamples []Anomaly `json:"structural_samples,omitempty"`

	Subjects       int64     `json:"subjects"`
	UntypedCount   int64     `json:"untyped_count"`
	UntypedSamples []Anomaly `json:"untyped_samples,omitempty"`

	// MaxPending is the peak number of unresolved subjects held in memory.
	MaxPending int `json:"max_pending"`
}

// Clean reports whether the scan found nothing.
func (r Report) Clean() bool {
	return r.StructuralCount == 0 && r.UntypedCount == 0
}

// Reporter scans files.
type Reporter struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Reporter.
func New(opts Options, logger *slog.Logger) *Reporter {
	if opts.SampleLimit <= 0 {
		opts.SampleLimit = DefaultSampleLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{opts: opts, logger: logger}
}

// runState tracks the subject run currently being read.
type runState struct {
	subject    string
	hasKind    bool
	hasLiteral bool
}

// Scan reads path once.
//
// The structural scan flags non-blank, non-header lines without a subject
// marker. The completeness scan flags subjects that have a literal statement
// but no kind statement. Each subject run is resolved when it ends, so only
// subjects still missing a kind are held in memory. On grouped input that is
// exact; on ungrouped input a subject whose kind comes in an earlier run than
// its literals is reported as untyped.
func (r *Reporter) Scan(ctx context.Context, path string) (Report, error) {
	rep := Report{Path: path}

	f, err := os.Open(path)
	if err != nil {
		return rep, fmt.Errorf("open diagnostics input: %w", err)
	}
	defer f.Close()

	var anomalies *bufio.Writer
	if r.opts.AnomalyLog != "" {
		lf, err := openAppend(r.opts.AnomalyLog)
		if err != nil {
			return rep, err
		}
		defer lf.Close()
		anomalies = bufio.NewWriter(lf)
		defer anomalies.Flush()
	}
	record := func(a Anomaly) {
		if anomalies == nil {
			return
		}
		if a.Line > 0 {
			fmt.Fprintf(anomalies, "%s:%d\t%s\t%s\n", path, a.Line, a.Kind, a.Text)
		} else {
			fmt.Fprintf(anomalies, "%s\t%s\t%s\n", path, a.Kind, a.Text)
		}
	}

	pending := make(map[string]struct{})
	var cur runState
	endRun := func() {
		if cur.subject == "" {
			return
		}
		rep.Subjects++
		switch {
		case cur.hasKind:
			delete(pending, cur.subject)
		case cur.hasLiteral:
			pending[cur.subject] = struct{}{}
			if len(pending) > rep.MaxPending {
				rep.MaxPending = len(pending)
			}
		}
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		rep.Lines++
		if rep.Lines%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
		}
		line := sc.Text()
		if statement.IsBlank(line) || statement.IsHeader(line) {
			continue
		}
		if !statement.HasSubjectMarker(line) {
			a := Anomaly{Line: rep.Lines, Kind: KindStructural, Text: truncate(line)}
			rep.StructuralCount++
			if len(rep.StructuralSamples) < r.opts.SampleLimit {
				rep.StructuralSamples = append(rep.StructuralSamples, a)
			}
			record(a)
			continue
		}

		subj := statement.SubjectToken(line)
		if subj != cur.subject {
			endRun()
			cur = runState{subject: subj}
		}
		if statement.IsKindLine(line) {
			cur.hasKind = true
		} else if statement.IsLiteralLine(line) {
			cur.hasLiteral = true
		}
	}
	if err := sc.Err(); err != nil {
		return rep, fmt.Errorf("read diagnostics input: %w", err)
	}
	endRun()

	untyped := make([]string, 0, len(pending))
	for s := range pending {
		untyped = append(untyped, s)
	}
	sort.Strings(untyped)
	rep.UntypedCount = int64(len(untyped))
	for _, s := range untyped {
		a := Anomaly{Kind: KindUntyped, Text: s}
		if len(rep.UntypedSamples) < r.opts.SampleLimit {
			rep.UntypedSamples = append(rep.UntypedSamples, a)
		}
		record(a)
	}

	r.logger.Info("Diagnostics scan complete",
		"path", path,
		"lines", rep.Lines,
		"structural", rep.StructuralCount,
		"untyped", rep.UntypedCount)
	return rep, nil
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create anomaly log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open anomaly log: %w", err)
	}
	return f, nil
}

func truncate(s string) string {
	const max = 240
	if len(s) <= max {
		return s
	}
	return strings.ToValidUTF8(s[:max], "") + "..."
}
