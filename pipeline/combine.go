package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/c360studio/tripleforge/combine"
	"github.com/c360studio/tripleforge/diagnostics"
	"github.com/c360studio/tripleforge/grouping"
	"github.com/c360studio/tripleforge/partition"
	"github.com/c360studio/tripleforge/sanitize"
	"github.com/c360studio/tripleforge/stage"
	"github.com/c360studio/tripleforge/summary"
)

// Outcome is the result of one combine run.
type Outcome struct {
	Summary     *summary.RunSummary
	SummaryPath string
	// Fragments are the discovered inputs, in processing order.
	Fragments []stage.Fragment
}

// Combine runs discovery, partitioning, grouping, combining and diagnostics
// over inputs (or the configured stage slots when inputs is empty) and writes
// the run summary. Only a missing input set or an output that cannot be
// written is fatal; everything else is recorded in the summary.
func (rc *RunContext) Combine(ctx context.Context, inputs []string) (*Outcome, error) {
	cfg := rc.Config
	sum := summary.New(rc.now())
	sum.Outputs = summary.Outputs{
		Entity:       cfg.Paths.EntityOut,
		Relationship: cfg.Paths.RelationshipOut,
		RemovalLog:   rc.LogPath(RemovalLogName),
	}
	rc.Logger.Info("Starting combine run", "run_id", sum.RunID, "inputs", len(inputs))

	var found *stage.Discovery
	err := rc.timed(StepDiscover, func() error {
		var err error
		found, err = stage.Discover(inputs, rc.stageOptions(), rc.Logger)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("discover fragments: %w", err)
	}
	for _, sk := range found.Skipped {
		sum.Warn("input %s skipped: %v", sk.Input, sk.Err)
	}
	frags := found.Fragments

	removals, err := sanitize.OpenRemovalLog(sum.Outputs.RemovalLog)
	if err != nil {
		return nil, err
	}
	defer removals.Close()

	if err := rc.partition(ctx, frags, removals, sum); err != nil {
		return nil, err
	}

	if cfg.Grouping.PreserveOrder {
		rc.Logger.Info("Subject grouping skipped", "reason", "preserve_order")
	} else if err := rc.group(ctx, sum); err != nil {
		return nil, err
	}

	if cfg.Paths.CombinedOut != "" {
		if err := rc.combine(ctx, removals, sum); err != nil {
			return nil, err
		}
	}

	if err := removals.Flush(); err != nil {
		return nil, fmt.Errorf("flush removal log: %w", err)
	}
	sum.Removed = removals.Count()

	if !cfg.Diagnostics.Skip {
		var err error
		sum, err = rc.diagnose(ctx, sum)
		if err != nil {
			return nil, err
		}
	}

	sum.FinishedAt = rc.now().UTC()
	path, err := sum.Write(cfg.Paths.LogsDir)
	if err != nil {
		return nil, err
	}
	rc.Logger.Info("Run summary written", "path", path, "warnings", len(sum.Warnings))

	rc.Metrics.MarkRun(sum.FinishedAt)
	rc.writeMetrics()
	if err := rc.Notifier.RunCompleted(ctx, sum, path); err != nil {
		rc.Logger.Warn("Failed to publish run event", "error", err)
	}

	return &Outcome{Summary: sum, SummaryPath: path, Fragments: frags}, nil
}

func (rc *RunContext) partition(ctx context.Context, frags []stage.Fragment, removals *sanitize.RemovalLog, sum *summary.RunSummary) error {
	p := partition.New(rc.partitionOptions(), removals, rc.Logger)
	var res *partition.Result
	err := rc.timed(StepPartition, func() error {
		var err error
		res, err = p.Run(ctx, frags, rc.Config.Paths.EntityOut, rc.Config.Paths.RelationshipOut)
		return err
	})
	if err != nil {
		return fmt.Errorf("partition fragments: %w", err)
	}

	sum.Fragments = res.Fragments
	sum.Totals = res.Totals
	for _, fs := range res.Fragments {
		rc.Metrics.ObserveFragment(fs.Mode)
		switch {
		case fs.SkipReason != "":
			sum.Warn("fragment %s skipped: %s", fs.Path, fs.SkipReason)
		case fs.ChecksumOK != nil && !*fs.ChecksumOK:
			sum.Warn("fragment %s does not match its sidecar checksum", fs.Path)
		}
	}
	rc.Metrics.AddStatements("entity", res.Totals.Entity)
	rc.Metrics.AddStatements("relationship", res.Totals.Relationship)
	rc.Metrics.AddStatements("malformed", res.Totals.Malformed)
	rc.Metrics.AddStatements("dropped", res.Totals.DroppedKinds)
	return nil
}

// group regroups the entity file in place. A grouping failure leaves the
// ungrouped file in place and is recorded as a warning.
func (rc *RunContext) group(ctx context.Context, sum *summary.RunSummary) error {
	g := grouping.New(rc.groupingOptions(), rc.Logger)
	g.OnBucket(rc.Metrics.ObserveBucket)

	entityOut := rc.Config.Paths.EntityOut
	var stats grouping.Stats
	err := rc.timed(StepGroup, func() error {
		var err error
		stats, err = g.Group(ctx, entityOut, entityOut)
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var ioErr *grouping.IOError
		if errors.As(err, &ioErr) {
			rc.Logger.Warn("Subject grouping failed, keeping ungrouped entity file",
				"op", ioErr.Op, "path", ioErr.Path, "error", ioErr.Err)
		} else {
			rc.Logger.Warn("Subject grouping failed, keeping ungrouped entity file", "error", err)
		}
		sum.GroupingError = err.Error()
		sum.Warn("entity file left ungrouped: %v", err)
		return nil
	}

	sum.Grouping = &stats
	rc.Metrics.SetMaxBucketBytes(stats.MaxBucketBytes)
	return nil
}

func (rc *RunContext) combine(ctx context.Context, removals *sanitize.RemovalLog, sum *summary.RunSummary) error {
	c := combine.New(rc.Parser, removals, rc.Logger)
	paths := rc.Config.Paths
	var res *combine.Result
	err := rc.timed(StepCombine, func() error {
		var err error
		res, err = c.Combine(ctx, paths.EntityOut, paths.RelationshipOut, paths.CombinedOut)
		return err
	})
	if err != nil {
		return fmt.Errorf("combine partitions: %w", err)
	}

	sum.Combine = res
	sum.Outputs.Combined = res.Path
	if !res.StrictOK {
		rc.Metrics.ObserveFallback()
		sum.Outputs.Fallback = res.FallbackPath
		sum.Warn("combined artifact failed strict parse, fallback written to %s", res.FallbackPath)
	}
	return nil
}

// diagnose scans the entity file and returns a copy of sum carrying the
// report. A failed scan is recorded as a warning.
func (rc *RunContext) diagnose(ctx context.Context, sum *summary.RunSummary) (*summary.RunSummary, error) {
	r := diagnostics.New(rc.diagnosticsOptions(), rc.Logger)
	var report diagnostics.Report
	err := rc.timed(StepDiagnostics, func() error {
		var err error
		report, err = r.Scan(ctx, rc.Config.Paths.EntityOut)
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		rc.Logger.Warn("Diagnostics scan failed", "error", err)
		sum.Warn("diagnostics scan failed: %v", err)
		return sum, nil
	}

	if !report.Clean() {
		rc.Logger.Warn("Diagnostics found anomalies",
			"structural", report.StructuralCount,
			"untyped", report.UntypedCount)
	}
	merged := sum.WithDiagnostics(report)
	return &merged, nil
}
