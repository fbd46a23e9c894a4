// Package config provides configuration loading and management for tripleforge.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete tripleforge configuration
type Config struct {
	Paths       PathsConfig       `yaml:"paths"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Sanitizer   SanitizerConfig   `yaml:"sanitizer"`
	Partition   PartitionConfig   `yaml:"partition"`
	Grouping    GroupingConfig    `yaml:"grouping"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Validation  ValidationConfig  `yaml:"validation"`
	Notify      NotifyConfig      `yaml:"notify"`
	Watch       WatchConfig       `yaml:"watch"`
}

// PathsConfig configures where artifacts and logs are written
type PathsConfig struct {
	// EntityOut is the entity partition file
	EntityOut string `yaml:"entity_out"`
	// RelationshipOut is the relationship partition file
	RelationshipOut string `yaml:"relationship_out"`
	// CombinedOut is the optional single combined artifact (empty = not written)
	CombinedOut string `yaml:"combined_out"`
	// LogsDir receives run summaries, removal and anomaly logs, and metrics
	LogsDir string `yaml:"logs_dir"`
	// ScratchDir is the parent of per-run scratch directories (empty = next to the output)
	ScratchDir string `yaml:"scratch_dir"`
}

// DiscoveryConfig configures stage fragment discovery
type DiscoveryConfig struct {
	// BaseDir anchors relative slot patterns (empty = current directory)
	BaseDir string `yaml:"base_dir"`
	// Slots is the number of numbered stage slots searched when no inputs are given
	Slots int `yaml:"slots"`
	// PrimaryPattern is globbed first for each slot; {stage} is the slot number
	PrimaryPattern string `yaml:"primary_pattern"`
	// SecondaryPattern is globbed when the primary pattern matches nothing
	SecondaryPattern string `yaml:"secondary_pattern"`
	// Extensions filters directory inputs
	Extensions []string `yaml:"extensions"`
}

// SanitizerConfig configures literal repair
type SanitizerConfig struct {
	// Skip disables continuation merging and repair
	Skip bool `yaml:"skip"`
	// MaxContinuationLines bounds how many lines are merged into one statement
	MaxContinuationLines int `yaml:"max_continuation_lines"`
}

// PartitionConfig configures the classifying parser
type PartitionConfig struct {
	// HeuristicThreshold is the fragment size in bytes at which the line parser is used
	HeuristicThreshold int64 `yaml:"heuristic_threshold"`
	// EntityPredicates are extra predicates whose statements stay with the entity
	EntityPredicates []string `yaml:"entity_predicates"`
	// DropRelationshipTypes drops kind statements reaching the relationship output
	DropRelationshipTypes bool `yaml:"drop_relationship_types"`
}

// GroupingConfig configures out-of-core subject grouping
type GroupingConfig struct {
	// PreserveOrder skips grouping
	PreserveOrder bool `yaml:"preserve_order"`
	// Buckets fixes the bucket count (0 = adaptive)
	Buckets int `yaml:"buckets"`
	// MinBuckets and MaxBuckets clamp the adaptive bucket count
	MinBuckets int `yaml:"min_buckets"`
	MaxBuckets int `yaml:"max_buckets"`
	// TargetBucketBytes is the adaptive bucket size target
	TargetBucketBytes int64 `yaml:"target_bucket_bytes"`
}

// DiagnosticsConfig configures the post-run scans
type DiagnosticsConfig struct {
	// Skip disables the scans
	Skip bool `yaml:"skip"`
	// SampleLimit bounds the sample lists kept per scan
	SampleLimit int `yaml:"sample_limit"`
}

// ValidationConfig configures the chunked validation driver
type ValidationConfig struct {
	// Command is the validator command template; {data} and {shapes} are substituted
	Command string `yaml:"command"`
	// Shapes is the shapes descriptor passed to the validator
	Shapes string `yaml:"shapes"`
	// OutputDir receives chunk files, reports and the validation summary
	OutputDir string `yaml:"output_dir"`
	// ChunkSize is the distinct-subject count per chunk
	ChunkSize int `yaml:"chunk_size"`
	// Timeout bounds each validator call
	Timeout time.Duration `yaml:"timeout"`
}

// NotifyConfig configures completion events
type NotifyConfig struct {
	// URL is the NATS server URL (empty = notifications disabled)
	URL string `yaml:"url"`
	// Subject is the subject prefix for events
	Subject string `yaml:"subject"`
	// Timeout bounds the connection attempt
	Timeout time.Duration `yaml:"timeout"`
}

// WatchConfig configures combine --watch
type WatchConfig struct {
	// Debounce is how long changes must settle before a rerun
	Debounce time.Duration `yaml:"debounce"`
	// Dirs are the directories watched (empty = the directories of discovered fragments)
	Dirs []string `yaml:"dirs"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			EntityOut:       "data/kg/entities.nt",
			RelationshipOut: "data/kg/relationships.nt",
			LogsDir:         "logs",
		},
		Discovery: DiscoveryConfig{
			Slots:            8,
			PrimaryPattern:   "data/stage{stage}/*.{nt,ttl}",
			SecondaryPattern: "data/stage{stage}_*.{nt,ttl}",
			Extensions:       []string{".nt", ".ttl"},
		},
		Sanitizer: SanitizerConfig{
			MaxContinuationLines: 6,
		},
		Partition: PartitionConfig{
			HeuristicThreshold: 32 << 20,
		},
		Grouping: GroupingConfig{
			MinBuckets:        1,
			MaxBuckets:        4096,
			TargetBucketBytes: 64 << 20,
		},
		Diagnostics: DiagnosticsConfig{
			SampleLimit: 50,
		},
		Validation: ValidationConfig{
			Command:   "pyshacl -s {shapes} -df nt {data}",
			OutputDir: "validation",
			ChunkSize: 50000,
			Timeout:   10 * time.Minute,
		},
		Notify: NotifyConfig{
			Subject: "tripleforge",
			Timeout: 5 * time.Second,
		},
		Watch: WatchConfig{
			Debounce: 2 * time.Second,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Paths.EntityOut == "" {
		return fmt.Errorf("paths.entity_out is required")
	}
	if c.Paths.RelationshipOut == "" {
		return fmt.Errorf("paths.relationship_out is required")
	}
	if c.Paths.EntityOut == c.Paths.RelationshipOut {
		return fmt.Errorf("paths.entity_out and paths.relationship_out must differ")
	}
	if c.Paths.LogsDir == "" {
		return fmt.Errorf("paths.logs_dir is required")
	}
	if c.Discovery.Slots < 1 {
		return fmt.Errorf("discovery.slots must be at least 1")
	}
	if c.Sanitizer.MaxContinuationLines < 1 {
		return fmt.Errorf("sanitizer.max_continuation_lines must be at least 1")
	}
	if c.Partition.HeuristicThreshold < 0 {
		return fmt.Errorf("partition.heuristic_threshold must not be negative")
	}
	if c.Grouping.Buckets < 0 {
		return fmt.Errorf("grouping.buckets must not be negative")
	}
	if c.Grouping.MinBuckets < 1 || c.Grouping.MaxBuckets < c.Grouping.MinBuckets {
		return fmt.Errorf("grouping bucket bounds must satisfy 1 <= min_buckets <= max_buckets")
	}
	if c.Grouping.TargetBucketBytes <= 0 {
		return fmt.Errorf("grouping.target_bucket_bytes must be positive")
	}
	if c.Validation.ChunkSize < 1 {
		return fmt.Errorf("validation.chunk_size must be at least 1")
	}
	if c.Validation.Timeout <= 0 {
		return fmt.Errorf("validation.timeout must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values).
// Boolean switches can only be turned on by a later layer.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Paths
	mergeString(&c.Paths.EntityOut, other.Paths.EntityOut)
	mergeString(&c.Paths.RelationshipOut, other.Paths.RelationshipOut)
	mergeString(&c.Paths.CombinedOut, other.Paths.CombinedOut)
	mergeString(&c.Paths.LogsDir, other.Paths.LogsDir)
	mergeString(&c.Paths.ScratchDir, other.Paths.ScratchDir)

	// Discovery
	mergeString(&c.Discovery.BaseDir, other.Discovery.BaseDir)
	if other.Discovery.Slots != 0 {
		c.Discovery.Slots = other.Discovery.Slots
	}
	mergeString(&c.Discovery.PrimaryPattern, other.Discovery.PrimaryPattern)
	mergeString(&c.Discovery.SecondaryPattern, other.Discovery.SecondaryPattern)
	if len(other.Discovery.Extensions) > 0 {
		c.Discovery.Extensions = other.Discovery.Extensions
	}

	// Sanitizer
	c.Sanitizer.Skip = c.Sanitizer.Skip || other.Sanitizer.Skip
	if other.Sanitizer.MaxContinuationLines != 0 {
		c.Sanitizer.MaxContinuationLines = other.Sanitizer.MaxContinuationLines
	}

	// Partition
	if other.Partition.HeuristicThreshold != 0 {
		c.Partition.HeuristicThreshold = other.Partition.HeuristicThreshold
	}
	if len(other.Partition.EntityPredicates) > 0 {
		c.Partition.EntityPredicates = other.Partition.EntityPredicates
	}
	c.Partition.DropRelationshipTypes = c.Partition.DropRelationshipTypes || other.Partition.DropRelationshipTypes

	// Grouping
	c.Grouping.PreserveOrder = c.Grouping.PreserveOrder || other.Grouping.PreserveOrder
	if other.Grouping.Buckets != 0 {
		c.Grouping.Buckets = other.Grouping.Buckets
	}
	if other.Grouping.MinBuckets != 0 {
		c.Grouping.MinBuckets = other.Grouping.MinBuckets
	}
	if other.Grouping.MaxBuckets != 0 {
		c.Grouping.MaxBuckets = other.Grouping.MaxBuckets
	}
	if other.Grouping.TargetBucketBytes != 0 {
		c.Grouping.TargetBucketBytes = other.Grouping.TargetBucketBytes
	}

	// Diagnostics
	c.Diagnostics.Skip = c.Diagnostics.Skip || other.Diagnostics.Skip
	if other.Diagnostics.SampleLimit != 0 {
		c.Diagnostics.SampleLimit = other.Diagnostics.SampleLimit
	}

	// Validation
	mergeString(&c.Validation.Command, other.Validation.Command)
	mergeString(&c.Validation.Shapes, other.Validation.Shapes)
	mergeString(&c.Validation.OutputDir, other.Validation.OutputDir)
	if other.Validation.ChunkSize != 0 {
		c.Validation.ChunkSize = other.Validation.ChunkSize
	}
	if other.Validation.Timeout != 0 {
		c.Validation.Timeout = other.Validation.Timeout
	}

	// Notify
	mergeString(&c.Notify.URL, other.Notify.URL)
	mergeString(&c.Notify.Subject, other.Notify.Subject)
	if other.Notify.Timeout != 0 {
		c.Notify.Timeout = other.Notify.Timeout
	}

	// Watch
	if other.Watch.Debounce != 0 {
		c.Watch.Debounce = other.Watch.Debounce
	}
	if len(other.Watch.Dirs) > 0 {
		c.Watch.Dirs = other.Watch.Dirs
	}
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
