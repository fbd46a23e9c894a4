package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/tripleforge/chunkvalidate"
	"github.com/c360studio/tripleforge/config"
	"github.com/c360studio/tripleforge/metrics"
	"github.com/c360studio/tripleforge/notify"
	"github.com/c360studio/tripleforge/stage"
	"github.com/c360studio/tripleforge/summary"
)

const rdfType = "<http://www.w3.org/1999/02/22-rdf-syntax-ns#type>"

func newTestContext(t *testing.T) (*RunContext, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Paths.EntityOut = filepath.Join(dir, "out", "entities.nt")
	cfg.Paths.RelationshipOut = filepath.Join(dir, "out", "relationships.nt")
	cfg.Paths.LogsDir = filepath.Join(dir, "logs")
	cfg.Discovery.BaseDir = dir
	cfg.Validation.OutputDir = filepath.Join(dir, "validation")
	cfg.Watch.Debounce = 50 * time.Millisecond

	rc, err := NewRunContext(cfg, nil)
	require.NoError(t, err)
	return rc, dir
}

func writeFile(t *testing.T, path string, lines ...string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestCombine_QuarantinesTwoTokenLine(t *testing.T) {
	rc, dir := newTestContext(t)
	pub := &recordingPublisher{}
	rc.Notifier = notify.NewNotifier(pub, "", nil)

	frag := writeFile(t, filepath.Join(dir, "data", "stage1", "stage1.nt"),
		"<urn:a> "+rdfType+" <urn:Widget> .",
		`<urn:a> <urn:name> "ok" .`,
		"<urn:a> <urn:broken>",
	)

	out, err := rc.Combine(context.Background(), []string{frag})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"<urn:a> " + rdfType + " <urn:Widget> .",
		`<urn:a> <urn:name> "ok" .`,
	}, readLines(t, rc.Config.Paths.EntityOut))
	assert.Empty(t, readLines(t, rc.Config.Paths.RelationshipOut))

	removed := readLines(t, rc.LogPath(RemovalLogName))
	require.Len(t, removed, 1)
	assert.True(t, strings.HasPrefix(removed[0], "stage1.nt:3-3\t"), removed[0])
	assert.True(t, strings.HasSuffix(removed[0], "<urn:a> <urn:broken>"), removed[0])

	sum := out.Summary
	assert.Equal(t, int64(1), sum.Totals.Malformed)
	assert.Equal(t, int64(1), sum.Removed)
	require.NotNil(t, sum.Grouping)
	require.NotNil(t, sum.Diagnostics)
	assert.True(t, sum.Diagnostics.Clean())

	loaded, err := summary.Load(out.SummaryPath)
	require.NoError(t, err)
	assert.Equal(t, sum.RunID, loaded.RunID)
	assert.Equal(t, int64(1), loaded.Totals.Malformed)

	assert.FileExists(t, rc.LogPath(metrics.TextfileName))
	assert.Equal(t, 1.0, testutil.ToFloat64(rc.Metrics.StatementsTotal.WithLabelValues("malformed")))
	assert.Equal(t, []string{"tripleforge.run.completed"}, pub.subjects)
}

func TestCombine_DropsKindsFromRelationshipFragment(t *testing.T) {
	rc, dir := newTestContext(t)
	rc.Config.Partition.DropRelationshipTypes = true
	rc.Config.Paths.CombinedOut = filepath.Join(dir, "out", "combined.ttl")

	nodes := writeFile(t, filepath.Join(dir, "in", "stage1_nodes.nt"),
		"<urn:a> "+rdfType+" <urn:Widget> .",
		`<urn:a> <urn:name> "a" .`,
	)
	rels := writeFile(t, filepath.Join(dir, "in", "stage1_rels.nt"),
		"<urn:b> "+rdfType+" <urn:Gadget> .",
		"<urn:a> <urn:uses> <urn:b> .",
	)

	out, err := rc.Combine(context.Background(), []string{rels, nodes})
	require.NoError(t, err)

	require.Len(t, out.Fragments, 2)
	assert.Equal(t, stage.RoleEntity, out.Fragments[0].Role, "entity-only fragments come first")

	entities := readLines(t, rc.Config.Paths.EntityOut)
	assert.Contains(t, entities, "<urn:b> "+rdfType+" <urn:Gadget> .")
	assert.Equal(t, []string{"<urn:a> <urn:uses> <urn:b> ."}, readLines(t, rc.Config.Paths.RelationshipOut))

	require.NotNil(t, out.Summary.Combine)
	assert.True(t, out.Summary.Combine.StrictOK)
	assert.Equal(t, rc.Config.Paths.CombinedOut, out.Summary.Outputs.Combined)
	assert.Len(t, readLines(t, rc.Config.Paths.CombinedOut), 4)
}

func TestCombine_GroupingFailureKeepsUngroupedFile(t *testing.T) {
	rc, dir := newTestContext(t)
	blocker := writeFile(t, filepath.Join(dir, "not-a-dir"), "x")
	rc.Config.Paths.ScratchDir = filepath.Join(blocker, "scratch")

	frag := writeFile(t, filepath.Join(dir, "in", "stage2.nt"),
		`<urn:b> <urn:name> "b" .`,
		`<urn:a> <urn:name> "a" .`,
		"<urn:b> "+rdfType+" <urn:Widget> .",
	)

	out, err := rc.Combine(context.Background(), []string{frag})
	require.NoError(t, err)

	assert.Nil(t, out.Summary.Grouping)
	assert.NotEmpty(t, out.Summary.GroupingError)
	assert.NotEmpty(t, out.Summary.Warnings)
	assert.Len(t, readLines(t, rc.Config.Paths.EntityOut), 3)
}

func TestCombine_PreserveOrderAndSkipDiagnostics(t *testing.T) {
	rc, dir := newTestContext(t)
	rc.Config.Grouping.PreserveOrder = true
	rc.Config.Diagnostics.Skip = true

	frag := writeFile(t, filepath.Join(dir, "in", "stage3.nt"),
		`<urn:b> <urn:name> "b" .`,
		`<urn:a> <urn:name> "a" .`,
	)

	out, err := rc.Combine(context.Background(), []string{frag})
	require.NoError(t, err)
	assert.Nil(t, out.Summary.Grouping)
	assert.Nil(t, out.Summary.Diagnostics)
	assert.Equal(t, []string{`<urn:b> <urn:name> "b" .`, `<urn:a> <urn:name> "a" .`}, readLines(t, rc.Config.Paths.EntityOut))
	assert.NoFileExists(t, rc.LogPath("structural_anomalies.log"))
}

func TestCombine_MissingInputIsWarning(t *testing.T) {
	rc, dir := newTestContext(t)
	frag := writeFile(t, filepath.Join(dir, "in", "stage1.nt"), `<urn:a> <urn:name> "ok" .`)

	out, err := rc.Combine(context.Background(), []string{frag, filepath.Join(dir, "in", "missing.nt")})
	require.NoError(t, err)

	require.Len(t, out.Fragments, 1)
	assert.Equal(t, []string{`<urn:a> <urn:name> "ok" .`}, readLines(t, rc.Config.Paths.EntityOut))
	require.NotEmpty(t, out.Summary.Warnings)
	assert.Contains(t, out.Summary.Warnings[0], "missing.nt skipped")
}

func TestCombine_NoFragmentsIsFatal(t *testing.T) {
	rc, _ := newTestContext(t)
	_, err := rc.Combine(context.Background(), nil)
	assert.ErrorIs(t, err, stage.ErrNoFragments)

	entries, _ := os.ReadDir(rc.Config.Paths.LogsDir)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), summary.FilePrefix), "no summary for a failed run")
	}
}

func TestCombine_SlotDiscovery(t *testing.T) {
	rc, dir := newTestContext(t)
	writeFile(t, filepath.Join(dir, "data", "stage1", "a.nt"), `<urn:a> <urn:name> "a" .`)
	writeFile(t, filepath.Join(dir, "data", "stage2_b.nt"), `<urn:b> <urn:name> "b" .`)

	out, err := rc.Combine(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, out.Fragments, 2)
	assert.Equal(t, int64(2), out.Summary.Totals.Entity)
}

type scriptedRunner struct {
	fail map[int]bool
	call int
}

func (r *scriptedRunner) Validate(_ context.Context, _, _ string) (chunkvalidate.Outcome, error) {
	r.call++
	if r.fail[r.call] {
		return chunkvalidate.Outcome{ExitCode: 1, Stdout: "Conforms: False"}, chunkvalidate.ErrValidationSubprocess
	}
	return chunkvalidate.Outcome{Conforms: true}, nil
}

func TestValidate_AggregatesChunks(t *testing.T) {
	rc, dir := newTestContext(t)
	rc.Config.Validation.Shapes = filepath.Join(dir, "shapes.ttl")
	rc.Config.Validation.ChunkSize = 1
	rc.Runner = &scriptedRunner{fail: map[int]bool{2: true}}
	pub := &recordingPublisher{}
	rc.Notifier = notify.NewNotifier(pub, "", nil)

	input := writeFile(t, filepath.Join(dir, "entities.nt"),
		`<urn:a> <urn:name> "a" .`,
		`<urn:b> <urn:name> "b" .`,
		`<urn:c> <urn:name> "c" .`,
	)

	sum, err := rc.Validate(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Chunks)
	assert.Equal(t, 1, sum.Failed)
	assert.False(t, sum.Conforms)
	assert.Equal(t, 2.0, testutil.ToFloat64(rc.Metrics.ChunksTotal.WithLabelValues(chunkvalidate.StatusPass)))
	assert.Equal(t, []string{"tripleforge.validation.completed"}, pub.subjects)
	assert.FileExists(t, filepath.Join(rc.Config.Validation.OutputDir, chunkvalidate.SummaryFileName))
}

func TestValidate_RequiresShapes(t *testing.T) {
	rc, dir := newTestContext(t)
	_, err := rc.Validate(context.Background(), filepath.Join(dir, "entities.nt"))
	assert.Error(t, err)
}

func TestWatch_RerunsOnChange(t *testing.T) {
	rc, dir := newTestContext(t)
	frag := writeFile(t, filepath.Join(dir, "in", "stage1.nt"), `<urn:a> <urn:name> "a" .`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rc.Watch(ctx, []string{frag}) }()

	countSummaries := func() int {
		entries, err := os.ReadDir(rc.Config.Paths.LogsDir)
		if err != nil {
			return 0
		}
		n := 0
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), summary.FilePrefix) {
				n++
			}
		}
		return n
	}

	require.Eventually(t, func() bool { return countSummaries() == 1 }, 5*time.Second, 20*time.Millisecond)
	// Give the watcher time to register before changing the fragment.
	time.Sleep(200 * time.Millisecond)
	writeFile(t, frag, `<urn:a> <urn:name> "a" .`, `<urn:b> <urn:name> "b" .`)

	require.Eventually(t, func() bool { return countSummaries() >= 2 }, 10*time.Second, 50*time.Millisecond)
	assert.Len(t, readLines(t, rc.Config.Paths.EntityOut), 2)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancellation")
	}
}

func TestDropOwnOutputs(t *testing.T) {
	rc, dir := newTestContext(t)
	rc.Config.Paths.CombinedOut = filepath.Join(dir, "out", "combined.ttl")
	in := filepath.Join(dir, "in", "stage1.nt")

	kept := rc.dropOwnOutputs([]string{
		rc.Config.Paths.EntityOut,
		in,
		rc.Config.Paths.CombinedOut + ".fallback.nt",
	})
	assert.Equal(t, []string{in}, kept)
}

func TestNewRunContext_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Paths.EntityOut = ""
	_, err := NewRunContext(cfg, nil)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, stage.ErrNoFragments))
}
