// Package statement models graph statements and their one-line on-disk encoding.
//
// Every stage of the pipeline exchanges statements as lines of the form
//
//	SUBJECT PREDICATE OBJECT .
//
// where subject and predicate are identifier tokens (<iri> or _:label) and the
// object is an identifier token or a quoted literal with an optional datatype
// or language tag.
package statement

// Well-known vocabulary IRIs.
const (
	RDFType   = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
	XSDString = "http://www.w3.org/2001/XMLSchema#string"
)

// TermKind identifies the variant held by a Term.
type TermKind int

// Term kinds.
const (
	KindIRI TermKind = iota + 1
	KindBlank
	KindLiteral
)

// String returns the kind name.
func (k TermKind) String() string {
	switch k {
	case KindIRI:
		return "iri"
	case KindBlank:
		return "blank"
	case KindLiteral:
		return "literal"
	default:
		return "unknown"
	}
}

// Term is one position of a statement: an absolute reference, an anonymous
// node, or a literal value.
type Term struct {
	Kind TermKind

	// Value is the IRI without angle brackets, the blank node label without
	// the "_:" marker, or the unescaped literal text.
	Value string

	// Datatype is the literal datatype IRI, if any.
	Datatype string

	// Lang is the literal language tag, if any. It takes precedence over
	// Datatype when both are set.
	Lang string
}

// IRI returns an absolute-reference term.
func IRI(v string) Term {
	return Term{Kind: KindIRI, Value: v}
}

// Blank returns an anonymous-node term.
func Blank(label string) Term {
	return Term{Kind: KindBlank, Value: label}
}

// Literal returns a plain literal term.
func Literal(v string) Term {
	return Term{Kind: KindLiteral, Value: v}
}

// TypedLiteral returns a literal tagged with a datatype IRI.
func TypedLiteral(v, datatype string) Term {
	return Term{Kind: KindLiteral, Value: v, Datatype: datatype}
}

// LangLiteral returns a literal tagged with a language.
func LangLiteral(v, lang string) Term {
	return Term{Kind: KindLiteral, Value: v, Lang: lang}
}

// IsLiteral reports whether the term is a literal.
func (t Term) IsLiteral() bool {
	return t.Kind == KindLiteral
}

// IsIdentifier reports whether the term is an IRI or blank node.
func (t Term) IsIdentifier() bool {
	return t.Kind == KindIRI || t.Kind == KindBlank
}

// String returns the term's line encoding.
func (t Term) String() string {
	return formatTerm(t)
}

// Statement is a (subject, predicate, object) graph fact.
type Statement struct {
	Subject   Term
	Predicate Term
	Object    Term
}

// IsKind reports whether the statement is a type assertion.
func (s Statement) IsKind() bool {
	return s.Predicate.Kind == KindIRI && s.Predicate.Value == RDFType
}

// String returns the statement's line encoding.
func (s Statement) String() string {
	return Format(s)
}
