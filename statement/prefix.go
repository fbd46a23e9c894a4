package statement

import (
	"strings"
)

// Prefixes maps prefix labels (without the colon) to namespace IRIs.
type Prefixes map[string]string

// AddHeader records the prefix declared by a directive line. It reports false
// when line is not a prefix declaration.
//
// Both the "@prefix ex: <iri> ." and the "PREFIX ex: <iri>" forms are read.
func (p Prefixes) AddHeader(line string) bool {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) < 3 {
		return false
	}
	switch strings.ToLower(fields[0]) {
	case "@prefix", "prefix":
	default:
		return false
	}
	label, ok := strings.CutSuffix(fields[1], ":")
	if !ok {
		return false
	}
	ns := fields[2]
	if !strings.HasPrefix(ns, "<") || !strings.HasSuffix(ns, ">") {
		return false
	}
	p[label] = ns[1 : len(ns)-1]
	return true
}

// Expand rewrites a prefixed name (ex:local) or the "a" keyword into an
// absolute-reference token. Tokens that are already absolute, anonymous or
// literal are returned unchanged. The second result is false when the prefix
// is not declared.
func (p Prefixes) Expand(tok string) (string, bool) {
	switch {
	case tok == "":
		return tok, false
	case tok == "a":
		return "<" + RDFType + ">", true
	case strings.HasPrefix(tok, "<"), strings.HasPrefix(tok, "_:"), strings.HasPrefix(tok, `"`):
		return tok, true
	}
	label, local, ok := strings.Cut(tok, ":")
	if !ok {
		return tok, false
	}
	ns, ok := p[label]
	if !ok {
		return tok, false
	}
	return "<" + ns + local + ">", true
}

// ExpandLine expands prefixed names in the subject, predicate, object and
// literal datatype positions of line. The terminator is normalised to " .".
// The second result is false when any prefixed name could not be expanded.
func (p Prefixes) ExpandLine(line string) (string, bool) {
	subj, okS := p.Expand(SubjectToken(line))
	pred, okP := p.Expand(PredicateToken(line))
	obj := ObjectToken(line)
	okO := true
	if strings.HasPrefix(obj, `"`) {
		obj, okO = p.expandDatatype(obj)
	} else {
		obj, okO = p.Expand(obj)
	}
	return subj + " " + pred + " " + obj + " .", okS && okP && okO
}

// expandDatatype expands a prefixed datatype such as "1"^^xsd:integer.
func (p Prefixes) expandDatatype(obj string) (string, bool) {
	i := strings.LastIndex(obj, `"^^`)
	if i < 0 {
		return obj, true
	}
	dt := obj[i+3:]
	if strings.HasPrefix(dt, "<") {
		return obj, true
	}
	expanded, ok := p.Expand(dt)
	return obj[:i+3] + expanded, ok
}
