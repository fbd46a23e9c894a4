package stage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Discovery is the outcome of resolving a run's inputs.
type Discovery struct {
	Fragments []Fragment
	// Skipped holds inputs that could not be resolved and fragments that
	// could not be opened. They do not fail the run.
	Skipped []Skip
}

// Skip records an input left out of the run.
type Skip struct {
	Input string
	Err   error
}

// Discover resolves the fragments of a run and returns them in processing
// order.
//
// Explicit inputs may be files, directories (their files with a configured
// extension, non-recursive) or doublestar patterns such as "out/**/*.nt" and
// "stage{1,2}.nt". Without inputs, each numbered slot is searched with the
// primary pattern, then the secondary one. Results are deduplicated by
// absolute path. An input that cannot be resolved is skipped with a warning;
// ErrNoFragments is returned when nothing usable is found.
func Discover(inputs []string, opts Options, logger *slog.Logger) (*Discovery, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()

	base, err := filepath.Abs(opts.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}

	d := &Discovery{}
	skip := func(input string, err error) {
		logger.Warn("Skipping stage input", "input", input, "error", err)
		d.Skipped = append(d.Skipped, Skip{Input: input, Err: err})
	}

	var paths []string
	if len(inputs) > 0 {
		paths = resolveInputs(base, inputs, opts, skip)
	} else {
		paths, err = resolveSlots(base, opts, logger)
		if err != nil {
			return nil, err
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			skip(p, fmt.Errorf("stat fragment: %w", err))
			continue
		}
		name := filepath.Base(p)
		frag := Fragment{
			Path:  p,
			Name:  name,
			Role:  DetectRole(name),
			Stage: StageNumber(name),
			Size:  info.Size(),
		}
		meta, err := LoadMetadata(p)
		if err != nil {
			logger.Warn("Ignoring unreadable sidecar metadata", "fragment", p, "error", err)
		}
		frag.Meta = meta
		d.Fragments = append(d.Fragments, frag)
	}
	if len(d.Fragments) == 0 {
		return d, ErrNoFragments
	}

	Order(d.Fragments, opts.Priority)
	logger.Debug("Discovered stage fragments", "count", len(d.Fragments), "skipped", len(d.Skipped))
	return d, nil
}

func resolveInputs(base string, inputs []string, opts Options, skip func(string, error)) []string {
	var resolved []string
	seen := make(map[string]bool)
	add := func(paths []string) {
		for _, p := range paths {
			if !seen[p] {
				seen[p] = true
				resolved = append(resolved, p)
			}
		}
	}

	for _, input := range inputs {
		pattern := anchor(base, input)
		if containsGlob(input) {
			matches, err := globFiles(pattern)
			if err != nil {
				skip(input, fmt.Errorf("resolve pattern: %w", err))
				continue
			}
			add(matches)
			continue
		}

		info, err := os.Stat(pattern)
		if err != nil {
			skip(input, fmt.Errorf("resolve input: %w", err))
			continue
		}
		if !info.IsDir() {
			add([]string{pattern})
			continue
		}
		files, err := dirFiles(pattern, opts)
		if err != nil {
			skip(input, fmt.Errorf("list directory: %w", err))
			continue
		}
		add(files)
	}
	return resolved
}

func resolveSlots(base string, opts Options, logger *slog.Logger) ([]string, error) {
	var resolved []string
	seen := make(map[string]bool)

	for slot := 1; slot <= opts.Slots; slot++ {
		for _, tmpl := range []string{opts.PrimaryPattern, opts.SecondaryPattern} {
			if tmpl == "" {
				continue
			}
			pattern := anchor(base, strings.ReplaceAll(tmpl, "{stage}", strconv.Itoa(slot)))
			matches, err := globFiles(pattern)
			if err != nil {
				return nil, fmt.Errorf("resolve slot %d: %w", slot, err)
			}
			if len(matches) == 0 {
				continue
			}
			logger.Debug("Resolved stage slot", "slot", slot, "pattern", pattern, "matches", len(matches))
			for _, m := range matches {
				if !seen[m] {
					seen[m] = true
					resolved = append(resolved, m)
				}
			}
			break
		}
	}
	return resolved, nil
}

// globFiles expands a doublestar pattern to regular files.
func globFiles(pattern string) ([]string, error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob error: %w", err)
	}
	var files []string
	for _, m := range matches {
		if strings.HasSuffix(m, MetaSuffix) {
			continue
		}
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, m)
	}
	sort.Strings(files)
	return files, nil
}

func dirFiles(dir string, opts Options) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !opts.hasExtension(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// containsGlob checks if a pattern contains glob characters.
func containsGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// anchor makes a path or pattern absolute relative to base.
func anchor(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
