package diagnostics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rdfType = "<http://www.w3.org/1999/02/22-rdf-syntax-ns#type>"

func writeFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "combined.nt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

func TestScan_FindsAnomalies(t *testing.T) {
	path := writeFile(t,
		"@prefix ex: <http://example.org/> .",
		"<urn:a> "+rdfType+" <urn:Widget> .",
		`<urn:a> <urn:name> "A" .`,
		`<urn:b> <urn:name> "B" .`,
		`stray continuation" .`,
		"<urn:c> <urn:knows> <urn:a> .",
		"",
		`_:n1 <urn:label> "blank" .`,
	)
	logPath := filepath.Join(t.TempDir(), "logs", AnomalyLogName)

	rep, err := New(Options{AnomalyLog: logPath}, nil).Scan(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, int64(8), rep.Lines)
	assert.Equal(t, int64(1), rep.StructuralCount)
	require.Len(t, rep.StructuralSamples, 1)
	assert.Equal(t, int64(5), rep.StructuralSamples[0].Line)

	assert.Equal(t, int64(4), rep.Subjects)
	assert.Equal(t, int64(2), rep.UntypedCount)
	assert.Equal(t, []Anomaly{{Kind: KindUntyped, Text: "<urn:b>"}, {Kind: KindUntyped, Text: "_:n1"}}, rep.UntypedSamples)
	assert.False(t, rep.Clean())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	log := string(data)
	assert.Contains(t, log, path+":5\tstructural\tstray continuation\" .")
	assert.Contains(t, log, path+"\tuntyped\t<urn:b>")
}

func TestScan_SampleLimitAndPendingMemory(t *testing.T) {
	var lines []string
	for i := 0; i < 100; i++ {
		s := fmt.Sprintf("<urn:s%03d>", i)
		if i%10 != 0 {
			lines = append(lines, s+" "+rdfType+" <urn:T> .")
		}
		lines = append(lines, s+` <urn:v> "x" .`)
	}
	for i := 0; i < 5; i++ {
		lines = append(lines, "junk line")
	}
	path := writeFile(t, lines...)

	rep, err := New(Options{SampleLimit: 3}, nil).Scan(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, int64(100), rep.Subjects)
	assert.Equal(t, int64(10), rep.UntypedCount)
	assert.Len(t, rep.UntypedSamples, 3)
	assert.Equal(t, int64(5), rep.StructuralCount)
	assert.Len(t, rep.StructuralSamples, 3)
	// Typed runs are resolved as they end and never held.
	assert.Equal(t, 10, rep.MaxPending)
}

func TestScan_KindInLaterRunResolvesPending(t *testing.T) {
	path := writeFile(t,
		`<urn:a> <urn:name> "A" .`,
		`<urn:b> <urn:name> "B" .`,
		"<urn:a> "+rdfType+" <urn:Widget> .",
	)
	rep, err := New(Options{}, nil).Scan(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.UntypedCount)
	assert.Equal(t, "<urn:b>", rep.UntypedSamples[0].Text)
}

func TestScan_CleanFile(t *testing.T) {
	path := writeFile(t, "<urn:a> "+rdfType+" <urn:Widget> .", "<urn:a> <urn:knows> <urn:b> .")
	rep, err := New(Options{}, nil).Scan(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, rep.Clean())
}

func TestTruncate_KeepsValidUTF8(t *testing.T) {
	long := strings.Repeat("a", 239) + "é" + strings.Repeat("b", 10)
	got := truncate(long)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 239)+"...", got)
	assert.Equal(t, "short", truncate("short"))
}
