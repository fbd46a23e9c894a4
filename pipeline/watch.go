package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sort"

	"github.com/c360studio/tripleforge/combine"
	"github.com/c360studio/tripleforge/stage"
)

// Watch runs Combine once and then again every time a watched fragment
// changes, until ctx is cancelled. A failed rerun is logged and the watch
// continues; only the initial run's failure is returned.
func (rc *RunContext) Watch(ctx context.Context, inputs []string) error {
	out, err := rc.Combine(ctx, inputs)
	if err != nil {
		return err
	}

	dirs := rc.watchDirs(out.Fragments)
	w, err := stage.NewWatcher(dirs, rc.Config.Watch.Debounce, rc.stageOptions(), rc.Logger)
	if err != nil {
		return err
	}
	defer w.Stop()

	seed := make([]string, 0, len(out.Fragments))
	for _, f := range out.Fragments {
		seed = append(seed, f.Path)
	}
	w.Seed(seed)
	if err := w.Start(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case changed, ok := <-w.Changes():
			if !ok {
				return nil
			}
			changed = rc.dropOwnOutputs(changed)
			if len(changed) == 0 {
				continue
			}
			rc.Logger.Info("Stage fragments changed, rerunning", "files", len(changed))
			out, err := rc.Combine(ctx, inputs)
			switch {
			case err == nil:
				rc.Logger.Info("Rerun complete", "summary", out.SummaryPath)
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, stage.ErrNoFragments):
				rc.Logger.Warn("Rerun found no fragments")
			default:
				rc.Logger.Error("Rerun failed", "error", err)
			}
		}
	}
}

// watchDirs returns the configured watch directories, or the directories of
// the discovered fragments.
func (rc *RunContext) watchDirs(frags []stage.Fragment) []string {
	if len(rc.Config.Watch.Dirs) > 0 {
		return rc.Config.Watch.Dirs
	}
	seen := make(map[string]struct{})
	var dirs []string
	for _, f := range frags {
		dir := filepath.Dir(f.Path)
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

// dropOwnOutputs removes the run's own artifacts from a change batch so a
// run writing next to its inputs does not retrigger itself.
func (rc *RunContext) dropOwnOutputs(changed []string) []string {
	own := make(map[string]struct{})
	paths := rc.Config.Paths
	for _, p := range []string{paths.EntityOut, paths.RelationshipOut, paths.CombinedOut} {
		if p == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			own[abs] = struct{}{}
			own[abs+combine.FallbackSuffix] = struct{}{}
		}
	}
	kept := changed[:0]
	for _, p := range changed {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if _, ok := own[abs]; !ok {
			kept = append(kept, p)
		}
	}
	return kept
}
