package combine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/tripleforge/sanitize"
)

// artifactParser rejects multi-line input and accepts single statements, so
// the combined file fails while each fallback line passes.
type artifactParser struct{ err error }

func (p artifactParser) Check(_ context.Context, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if strings.Count(strings.TrimSuffix(string(data), "\n"), "\n") > 0 {
		return p.err
	}
	return nil
}

func write(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
}

func read(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestCombine_StrictParseSucceeds(t *testing.T) {
	dir := t.TempDir()
	entities := filepath.Join(dir, "entities.nt")
	rels := filepath.Join(dir, "rels.nt")
	out := filepath.Join(dir, "combined.ttl")

	write(t, entities,
		"@prefix ex: <http://example.org/> .",
		"# stage 1",
		`<urn:a> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <urn:Widget> .`,
		`<urn:a> <urn:name> "A" .`,
	)
	write(t, rels,
		"@prefix ex: <http://example.org/> .",
		"@prefix other: <http://other.example/> .",
		"",
		`<urn:a> <urn:knows> <urn:b> .`,
	)

	res, err := New(nil, nil, nil).Combine(context.Background(), entities, rels, out)
	require.NoError(t, err)

	assert.True(t, res.StrictOK)
	assert.Empty(t, res.FallbackPath)
	assert.Equal(t, out, res.Artifact())
	assert.Equal(t, 3, res.Headers)
	assert.Equal(t, int64(2), res.EntityLines)
	assert.Equal(t, int64(1), res.RelationshipLines)

	assert.Equal(t, []string{
		"@prefix ex: <http://example.org/> .",
		"# stage 1",
		"@prefix other: <http://other.example/> .",
		`<urn:a> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <urn:Widget> .`,
		`<urn:a> <urn:name> "A" .`,
		`<urn:a> <urn:knows> <urn:b> .`,
	}, read(t, out))

	_, err = os.Stat(out + FallbackSuffix)
	assert.True(t, os.IsNotExist(err))
}

func TestCombine_FallbackSerialization(t *testing.T) {
	dir := t.TempDir()
	entities := filepath.Join(dir, "entities.nt")
	rels := filepath.Join(dir, "rels.nt")
	out := filepath.Join(dir, "combined.ttl")

	write(t, entities,
		"@prefix ex: <http://example.org/> .",
		"PREFIX xsd: <http://www.w3.org/2001/XMLSchema#>",
		`ex:a a ex:Widget .`,
		`ex:a ex:count "3"^^xsd:integer .`,
		`<urn:b> <urn:note> "bad \q escape" .`,
	)
	write(t, rels,
		`<urn:a> <urn:knows> <urn:b> .`,
		`total garbage`,
	)

	var logBuf bytes.Buffer
	removals := sanitize.NewRemovalLog(&logBuf)
	c := New(artifactParser{err: errors.New("unexpected token")}, removals, nil)

	res, err := c.Combine(context.Background(), entities, rels, out)
	require.NoError(t, err)
	require.NoError(t, removals.Flush())

	assert.False(t, res.StrictOK)
	assert.Contains(t, res.ParseError, "unexpected token")
	assert.Equal(t, out+FallbackSuffix, res.FallbackPath)
	assert.Equal(t, res.FallbackPath, res.Artifact())
	assert.Equal(t, int64(4), res.FallbackLines)
	assert.Equal(t, int64(2), res.FallbackExpanded)
	assert.Equal(t, int64(1), res.FallbackRepaired)
	assert.Equal(t, int64(1), res.FallbackDropped)

	assert.Equal(t, []string{
		`<http://example.org/a> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <http://example.org/Widget> .`,
		`<http://example.org/a> <http://example.org/count> "3"^^<http://www.w3.org/2001/XMLSchema#integer> .`,
		`<urn:b> <urn:note> "bad q escape" .`,
		`<urn:a> <urn:knows> <urn:b> .`,
	}, read(t, res.FallbackPath))

	assert.Contains(t, logBuf.String(), "combined.ttl:7-7\t"+ReasonUnrecoverable+"\ttotal garbage")
}

func TestCombine_TurtleParserRejectsBrokenArtifact(t *testing.T) {
	dir := t.TempDir()
	entities := filepath.Join(dir, "entities.nt")
	rels := filepath.Join(dir, "rels.nt")
	write(t, entities, `<urn:a> <urn:name> "A" .`)
	write(t, rels, `<urn:x> <urn:p> .`)

	res, err := New(TurtleParser{}, nil, nil).Combine(context.Background(), entities, rels, filepath.Join(dir, "out.ttl"))
	require.NoError(t, err)

	assert.False(t, res.StrictOK)
	assert.Equal(t, int64(1), res.FallbackLines)
	assert.Equal(t, int64(1), res.FallbackDropped)
	assert.Equal(t, []string{`<urn:a> <urn:name> "A" .`}, read(t, res.FallbackPath))
}

func TestCombine_FallbackPassesStrictParse(t *testing.T) {
	dir := t.TempDir()
	entities := filepath.Join(dir, "entities.nt")
	rels := filepath.Join(dir, "rels.nt")
	write(t, entities,
		`<urn:a\b> <urn:p> "v" .`,
		`<urn:ok> <urn:p> "w" .`,
	)
	write(t, rels, `<urn:ok> <urn:knows> <urn:other> .`)

	var logBuf bytes.Buffer
	removals := sanitize.NewRemovalLog(&logBuf)
	res, err := New(TurtleParser{}, removals, nil).Combine(context.Background(), entities, rels, filepath.Join(dir, "out.ttl"))
	require.NoError(t, err)
	require.NoError(t, removals.Flush())

	assert.False(t, res.StrictOK)
	assert.Equal(t, int64(2), res.FallbackLines)
	assert.Equal(t, int64(1), res.FallbackDropped)
	assert.Equal(t, []string{
		`<urn:ok> <urn:p> "w" .`,
		`<urn:ok> <urn:knows> <urn:other> .`,
	}, read(t, res.FallbackPath))
	assert.Contains(t, logBuf.String(), "out.ttl:1-1\t"+ReasonUnrecoverable)

	f, err := os.Open(res.FallbackPath)
	require.NoError(t, err)
	defer f.Close()
	assert.NoError(t, TurtleParser{}.Check(context.Background(), f))
}

// rejectParser fails any input containing one of its markers.
type rejectParser struct{ markers []string }

func (p rejectParser) Check(_ context.Context, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	for _, m := range p.markers {
		if strings.Contains(string(data), m) {
			return errors.New("rejected " + m)
		}
	}
	return nil
}

func TestCombine_FallbackDropsLinesStrictParserRejects(t *testing.T) {
	dir := t.TempDir()
	entities := filepath.Join(dir, "entities.nt")
	rels := filepath.Join(dir, "rels.nt")
	write(t, entities,
		`<urn:a> <urn:p> "keep" .`,
		`<urn:a> <urn:p> "refused" .`,
	)
	write(t, rels, `<urn:a> <urn:knows> <urn:b> .`)

	res, err := New(rejectParser{markers: []string{"refused"}}, nil, nil).
		Combine(context.Background(), entities, rels, filepath.Join(dir, "out.ttl"))
	require.NoError(t, err)

	assert.False(t, res.StrictOK)
	assert.Equal(t, int64(1), res.FallbackDropped)
	assert.Equal(t, []string{
		`<urn:a> <urn:p> "keep" .`,
		`<urn:a> <urn:knows> <urn:b> .`,
	}, read(t, res.FallbackPath))
}

func TestCombine_MissingPartition(t *testing.T) {
	dir := t.TempDir()
	_, err := New(nil, nil, nil).Combine(context.Background(),
		filepath.Join(dir, "missing.nt"), filepath.Join(dir, "also-missing.nt"), filepath.Join(dir, "out.ttl"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCombinedParseError(t *testing.T) {
	inner := errors.New("boom")
	err := &CombinedParseError{Path: "/tmp/combined.ttl", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "/tmp/combined.ttl")
}
