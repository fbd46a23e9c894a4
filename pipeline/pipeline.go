// Package pipeline runs the consolidation steps in order: discovery,
// partitioning, subject grouping, combining, diagnostics and the run summary,
// plus chunked validation of a grouped entity file.
package pipeline

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/tripleforge/chunkvalidate"
	"github.com/c360studio/tripleforge/combine"
	"github.com/c360studio/tripleforge/config"
	"github.com/c360studio/tripleforge/diagnostics"
	"github.com/c360studio/tripleforge/grouping"
	"github.com/c360studio/tripleforge/metrics"
	"github.com/c360studio/tripleforge/notify"
	"github.com/c360studio/tripleforge/partition"
	"github.com/c360studio/tripleforge/sanitize"
	"github.com/c360studio/tripleforge/stage"
)

// RemovalLogName is the removal log file name inside the logs directory.
const RemovalLogName = "removed_fragments.log"

// Step names used for timing.
const (
	StepDiscover    = "discover"
	StepPartition   = "partition"
	StepGroup       = "group"
	StepCombine     = "combine"
	StepDiagnostics = "diagnostics"
	StepValidate    = "validate"
)

// RunContext carries everything a run needs: configured paths and options,
// the logger, and the collaborators. It is created at run start and holds no
// state that outlives a run other than the metrics registry.
type RunContext struct {
	Config *config.Config
	Logger *slog.Logger

	// Registry backs Metrics and is written to the logs directory after each run.
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	// Parser is the strict parser for the combined artifact. Nil selects the
	// Turtle decoder.
	Parser combine.StrictParser

	// Runner validates chunks. Nil selects a command runner built from the
	// validation config.
	Runner chunkvalidate.Runner

	// Notifier announces finished runs. Nil disables notifications.
	Notifier *notify.Notifier

	now func() time.Time
}

// NewRunContext creates a run context with a private metrics registry.
func NewRunContext(cfg *config.Config, logger *slog.Logger) (*RunContext, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	reg := prometheus.NewRegistry()
	return &RunContext{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Metrics:  metrics.New(reg),
		now:      time.Now,
	}, nil
}

// LogPath returns name inside the logs directory.
func (rc *RunContext) LogPath(name string) string {
	return filepath.Join(rc.Config.Paths.LogsDir, name)
}

func (rc *RunContext) stageOptions() stage.Options {
	d := rc.Config.Discovery
	opts := stage.DefaultOptions()
	opts.BaseDir = d.BaseDir
	if d.Slots > 0 {
		opts.Slots = d.Slots
	}
	if d.PrimaryPattern != "" {
		opts.PrimaryPattern = d.PrimaryPattern
	}
	if d.SecondaryPattern != "" {
		opts.SecondaryPattern = d.SecondaryPattern
	}
	if len(d.Extensions) > 0 {
		opts.Extensions = d.Extensions
	}
	return opts
}

func (rc *RunContext) partitionOptions() partition.Options {
	c := rc.Config
	return partition.Options{
		HeuristicThreshold:    c.Partition.HeuristicThreshold,
		EntityPredicates:      c.Partition.EntityPredicates,
		DropRelationshipKinds: c.Partition.DropRelationshipTypes,
		SkipSanitize:          c.Sanitizer.Skip,
		Sanitizer:             sanitize.Options{MaxContinuationLines: c.Sanitizer.MaxContinuationLines},
	}
}

func (rc *RunContext) groupingOptions() grouping.Options {
	g := rc.Config.Grouping
	return grouping.Options{
		Buckets:           g.Buckets,
		MinBuckets:        g.MinBuckets,
		MaxBuckets:        g.MaxBuckets,
		TargetBucketBytes: g.TargetBucketBytes,
		ScratchDir:        rc.Config.Paths.ScratchDir,
	}
}

func (rc *RunContext) diagnosticsOptions() diagnostics.Options {
	return diagnostics.Options{
		SampleLimit: rc.Config.Diagnostics.SampleLimit,
		AnomalyLog:  rc.LogPath(diagnostics.AnomalyLogName),
	}
}

func (rc *RunContext) validationRunner() chunkvalidate.Runner {
	if rc.Runner != nil {
		return rc.Runner
	}
	v := rc.Config.Validation
	return chunkvalidate.NewCommandRunner(v.Command, v.Timeout, "")
}

// writeMetrics exports the registry next to the run summaries. Failures are
// logged; the run's artifacts are already in place.
func (rc *RunContext) writeMetrics() {
	path := rc.LogPath(metrics.TextfileName)
	if err := metrics.WriteTextfile(rc.Registry, path); err != nil {
		rc.Logger.Warn("Failed to write metrics textfile", "path", path, "error", err)
	}
}

// timed runs fn and records its duration under step.
func (rc *RunContext) timed(step string, fn func() error) error {
	start := rc.now()
	err := fn()
	rc.Metrics.ObserveStep(step, rc.now().Sub(start))
	return err
}
