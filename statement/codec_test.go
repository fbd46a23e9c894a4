package statement

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Statement
	}{
		{
			name: "iri object",
			line: `<urn:a> <urn:knows> <urn:b> .`,
			want: Statement{Subject: IRI("urn:a"), Predicate: IRI("urn:knows"), Object: IRI("urn:b")},
		},
		{
			name: "blank subject and object",
			line: `_:n1 <urn:p> _:n2 .`,
			want: Statement{Subject: Blank("n1"), Predicate: IRI("urn:p"), Object: Blank("n2")},
		},
		{
			name: "plain literal with spaces",
			line: `<urn:a> <urn:name> "Widget . factory" .`,
			want: Statement{Subject: IRI("urn:a"), Predicate: IRI("urn:name"), Object: Literal("Widget . factory")},
		},
		{
			name: "language tag",
			line: `<urn:a> <urn:label> "chat"@fr-CA .`,
			want: Statement{Subject: IRI("urn:a"), Predicate: IRI("urn:label"), Object: LangLiteral("chat", "fr-CA")},
		},
		{
			name: "datatype",
			line: `<urn:a> <urn:count> "42"^^<http://www.w3.org/2001/XMLSchema#integer> .`,
			want: Statement{Subject: IRI("urn:a"), Predicate: IRI("urn:count"), Object: TypedLiteral("42", "http://www.w3.org/2001/XMLSchema#integer")},
		},
		{
			name: "escapes",
			line: `<urn:a> <urn:note> "line1\nline2 \"q\" \\ é" .`,
			want: Statement{Subject: IRI("urn:a"), Predicate: IRI("urn:note"), Object: Literal("line1\nline2 \"q\" \\ é")},
		},
		{
			name: "terminator without space",
			line: `<urn:a> <urn:b> <urn:c>.`,
			want: Statement{Subject: IRI("urn:a"), Predicate: IRI("urn:b"), Object: IRI("urn:c")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.line)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	lines := []string{
		``,
		`<urn:a> <urn:b> <urn:c>`,
		`<urn:a> <urn:b> .`,
		`<urn:a> .`,
		`ex:a <urn:b> <urn:c> .`,
		`<urn:a> ex:b <urn:c> .`,
		`<urn:a> _:p <urn:c> .`,
		`<urn:a> <urn:b> "unterminated .`,
		`<urn:a> <urn:b> "bad escape \q" .`,
		`<urn:a> <urn:b> "x"@ .`,
		`<urn:a> <urn:b> "x"^^xsd:string .`,
		`<urn:a> <urn:b> "x" trailing .`,
		`<urn a> <urn:b> <urn:c> .`,
		`<urn:a\b> <urn:p> "v" .`,
		`_:n1. <urn:p> "v" .`,
		`@prefix ex: <http://example.org/> .`,
	}
	for _, line := range lines {
		_, ok := Parse(line)
		assert.False(t, ok, "expected %q to be rejected", line)
	}
}

func TestParse_DropsStringDatatype(t *testing.T) {
	got, ok := Parse(`<urn:a> <urn:name> "Alpha"^^<http://www.w3.org/2001/XMLSchema#string> .`)
	require.True(t, ok)
	assert.Equal(t, Literal("Alpha"), got.Object)
	assert.Equal(t, `<urn:a> <urn:name> "Alpha" .`, Format(got))

	lit, ok := LiteralWithSuffix("Alpha", "^^<"+XSDString+">")
	require.True(t, ok)
	assert.Equal(t, Literal("Alpha"), lit)
}

func TestFormat_EscapesLiteral(t *testing.T) {
	s := Statement{
		Subject:   IRI("urn:a"),
		Predicate: IRI("urn:note"),
		Object:    Literal("tab\there\r\nquote\" back\\slash bell\x07"),
	}
	got := Format(s)
	assert.Equal(t, `<urn:a> <urn:note> "tab\there\r\nquote\" back\\slash bell " .`, got)
	assert.NotContains(t, got, "\n")
}

func TestFormat_StripsByteWrappers(t *testing.T) {
	s := Statement{
		Subject:   IRI("urn:a"),
		Predicate: IRI("urn:note"),
		Object:    Literal(`value b'raw bytes' and b"more"`),
	}
	assert.Equal(t, `<urn:a> <urn:note> "value raw bytes and more" .`, Format(s))
}

func TestStripByteWrappers_LeavesWordsAlone(t *testing.T) {
	assert.Equal(t, "Bob's car", StripByteWrappers("Bob's car"))
	assert.Equal(t, "abc", StripByteWrappers("b'abc'"))
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []rune("acdXYZ 019.,;:-_'\"\\\n\r\téü€世")

	randomText := func() string {
		n := rng.Intn(24)
		var sb strings.Builder
		for i := 0; i < n; i++ {
			sb.WriteRune(alphabet[rng.Intn(len(alphabet))])
		}
		return sb.String()
	}
	randomIdentifier := func(allowBlank bool) Term {
		if allowBlank && rng.Intn(3) == 0 {
			return Blank("n" + string(rune('a'+rng.Intn(26))))
		}
		return IRI("http://example.org/" + string(rune('a'+rng.Intn(26))))
	}

	for i := 0; i < 500; i++ {
		var obj Term
		switch rng.Intn(4) {
		case 0:
			obj = randomIdentifier(true)
		case 1:
			obj = Literal(randomText())
		case 2:
			obj = LangLiteral(randomText(), "en")
		default:
			obj = TypedLiteral(randomText(), "http://example.org/dt")
		}
		s := Statement{Subject: randomIdentifier(true), Predicate: randomIdentifier(false), Object: obj}

		line := Format(s)
		require.NotContains(t, line, "\n")
		got, ok := Parse(line)
		require.True(t, ok, "line %q did not parse", line)
		require.Equal(t, s, got)
	}
}

func TestUnescapeLiteral(t *testing.T) {
	got, ok := UnescapeLiteral(`\U0001F600 é`)
	require.True(t, ok)
	assert.Equal(t, "😀 é", got)

	_, ok = UnescapeLiteral(`\u12`)
	assert.False(t, ok)
	_, ok = UnescapeLiteral(`\x41`)
	assert.False(t, ok)
	_, ok = UnescapeLiteral(`trailing\`)
	assert.False(t, ok)
}
