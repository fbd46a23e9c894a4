// Package stage resolves the stage fragment files of a run and puts them in a
// deterministic processing order.
package stage

import (
	"strings"
)

// Role is the content role a fragment signals through its file name.
type Role string

// Fragment roles.
const (
	RoleEntity       Role = "entity"
	RoleRelationship Role = "relationship"
	RoleFull         Role = "full"
)

// Fragment is one stage file selected for a run.
type Fragment struct {
	// Path is the absolute file path.
	Path string `json:"path"`
	// Name is the base file name.
	Name string `json:"name"`
	// Role is derived from Name.
	Role Role `json:"role"`
	// Stage is the first number embedded in Name, or -1 when there is none.
	Stage int `json:"stage"`
	// Size is the file size in bytes at discovery time.
	Size int64 `json:"size"`
	// Meta is the fetcher's sidecar metadata, if present.
	Meta *Metadata `json:"meta,omitempty"`
}

// Options configures discovery.
type Options struct {
	// BaseDir anchors relative patterns. Empty means the working directory.
	BaseDir string

	// Extensions lists the file extensions picked up from input directories.
	Extensions []string

	// Slots is the number of numbered stage slots searched when no explicit
	// inputs are given.
	Slots int

	// PrimaryPattern and SecondaryPattern are doublestar globs in which
	// "{stage}" is replaced by the slot number. The secondary pattern is only
	// consulted when the primary one matches nothing for a slot.
	PrimaryPattern   string
	SecondaryPattern string

	// Priority is the standard-name table used to order role-marked
	// fragments. A fragment ranks at the index of the first entry its name
	// contains; names containing no entry rank last.
	Priority []string
}

// DefaultOptions returns the default discovery options.
func DefaultOptions() Options {
	return Options{
		Extensions:       []string{".nt", ".ttl"},
		Slots:            8,
		PrimaryPattern:   "data/stage{stage}/*.{nt,ttl}",
		SecondaryPattern: "data/stage{stage}_*.{nt,ttl}",
		Priority:         append(append([]string(nil), entityMarkers...), relationshipMarkers...),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if len(o.Extensions) == 0 {
		o.Extensions = d.Extensions
	}
	if o.Slots <= 0 {
		o.Slots = d.Slots
	}
	if o.PrimaryPattern == "" && o.SecondaryPattern == "" {
		o.PrimaryPattern = d.PrimaryPattern
		o.SecondaryPattern = d.SecondaryPattern
	}
	if o.Priority == nil {
		o.Priority = d.Priority
	}
	return o
}

func (o Options) hasExtension(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range o.Extensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}
