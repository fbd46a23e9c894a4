package statement

import "strings"

// Line-level helpers for the streaming stages. They inspect raw tokens only
// and never decode literals, so they are cheap enough to call per line on
// multi-gigabyte inputs.

var kindTokens = map[string]bool{
	"<" + RDFType + ">": true,
	"a":                 true,
	"rdf:type":          true,
}

// IsHeader reports whether line is a directive (@prefix, @base, PREFIX, BASE)
// or a comment.
func IsHeader(line string) bool {
	t := strings.TrimSpace(line)
	if t == "" {
		return false
	}
	if t[0] == '#' {
		return true
	}
	lower := strings.ToLower(t)
	return strings.HasPrefix(lower, "@prefix") ||
		strings.HasPrefix(lower, "@base") ||
		strings.HasPrefix(lower, "prefix ") ||
		strings.HasPrefix(lower, "base ")
}

// IsBlank reports whether line holds only whitespace.
func IsBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

// HasSubjectMarker reports whether line starts with an absolute-reference or
// anonymous-node marker.
func HasSubjectMarker(line string) bool {
	t := strings.TrimLeft(line, " \t")
	return strings.HasPrefix(t, "<") || strings.HasPrefix(t, "_:")
}

// SubjectToken returns the leading token of line.
func SubjectToken(line string) string {
	tok, _ := cutToken(line)
	return tok
}

// PredicateToken returns the second token of line.
func PredicateToken(line string) string {
	_, rest := cutToken(line)
	tok, _ := cutToken(rest)
	return tok
}

// ObjectToken returns everything after the predicate, without the terminator.
func ObjectToken(line string) string {
	_, rest := cutToken(line)
	_, rest = cutToken(rest)
	rest = strings.TrimSpace(rest)
	rest = strings.TrimSuffix(rest, ".")
	return strings.TrimSpace(rest)
}

// IsKindLine reports whether line is a type assertion.
func IsKindLine(line string) bool {
	return kindTokens[PredicateToken(line)]
}

// IsKindToken reports whether tok denotes the type predicate.
func IsKindToken(tok string) bool {
	return kindTokens[tok]
}

// IsLiteralLine reports whether the object of line is a quoted literal.
func IsLiteralLine(line string) bool {
	return strings.HasPrefix(ObjectToken(line), `"`)
}
