package statement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsHeader(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"@prefix ex: <http://example.org/> .", true},
		{"@base <http://example.org/> .", true},
		{"PREFIX ex: <http://example.org/>", true},
		{"BASE <http://example.org/>", true},
		{"# generated by stage 3", true},
		{"   # indented comment", true},
		{"", false},
		{"<urn:a> <urn:b> <urn:c> .", false},
		{"prefixed:name <urn:b> <urn:c> .", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsHeader(tt.line), tt.line)
	}
}

func TestLineTokens(t *testing.T) {
	line := `<urn:a> <urn:name> "hello world" .`
	assert.Equal(t, "<urn:a>", SubjectToken(line))
	assert.Equal(t, "<urn:name>", PredicateToken(line))
	assert.Equal(t, `"hello world"`, ObjectToken(line))
	assert.True(t, IsLiteralLine(line))
	assert.True(t, HasSubjectMarker(line))
	assert.False(t, IsKindLine(line))

	kind := `_:b0 <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <urn:Widget> .`
	assert.True(t, IsKindLine(kind))
	assert.False(t, IsLiteralLine(kind))
	assert.True(t, HasSubjectMarker(kind))

	assert.False(t, HasSubjectMarker(`continued text" .`))
}

func TestClassifier(t *testing.T) {
	c := NewClassifier([]string{"<urn:sameAs>", " urn:partOf "})

	tests := []struct {
		name string
		line string
		want Partition
	}{
		{"kind", `<urn:a> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <urn:Widget> .`, PartitionEntity},
		{"literal", `<urn:a> <urn:name> "ok" .`, PartitionEntity},
		{"allow-listed", `<urn:a> <urn:sameAs> <urn:b> .`, PartitionEntity},
		{"allow-listed bare", `<urn:a> <urn:partOf> <urn:b> .`, PartitionEntity},
		{"link", `<urn:a> <urn:knows> <urn:b> .`, PartitionRelationship},
		{"blank link", `<urn:a> <urn:knows> _:x .`, PartitionRelationship},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ok := Parse(tt.line)
			require.True(t, ok)
			first := c.Classify(s)
			assert.Equal(t, tt.want, first)
			assert.Equal(t, first, c.Classify(s), "classification must be stable")
		})
	}

	assert.Equal(t, []string{"urn:partOf", "urn:sameAs"}, c.EntityPredicates())
}

func TestPrefixes(t *testing.T) {
	p := Prefixes{}
	require.True(t, p.AddHeader("@prefix ex: <http://example.org/> ."))
	require.True(t, p.AddHeader("PREFIX xsd: <http://www.w3.org/2001/XMLSchema#>"))
	assert.False(t, p.AddHeader("# comment"))

	line, ok := p.ExpandLine(`ex:a a ex:Widget .`)
	require.True(t, ok)
	assert.Equal(t, `<http://example.org/a> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <http://example.org/Widget> .`, line)

	line, ok = p.ExpandLine(`ex:a ex:count "3"^^xsd:integer .`)
	require.True(t, ok)
	assert.Equal(t, `<http://example.org/a> <http://example.org/count> "3"^^<http://www.w3.org/2001/XMLSchema#integer> .`, line)

	_, ok = p.ExpandLine(`zz:a ex:b ex:c .`)
	assert.False(t, ok)
}
