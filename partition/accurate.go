package partition

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/knakk/rdf"

	"github.com/c360studio/tripleforge/statement"
)

// decodeAll parses r with the Turtle decoder, which also accepts N-Triples,
// and returns every statement. Any decode error aborts the whole fragment.
func decodeAll(ctx context.Context, r io.Reader) ([]statement.Statement, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	src, labels := relabelSource(src)
	dec := rdf.NewTripleDecoder(bytes.NewReader(src), rdf.Turtle)
	var out []statement.Statement
	for n := 1; ; n++ {
		if n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		tr, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		st, err := fromTriple(tr, labels)
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", n, err)
		}
		out = append(out, st)
	}
}

// fromTriple converts a decoded triple and checks that it survives the line
// codec.
func fromTriple(tr rdf.Triple, labels *blankLabels) (statement.Statement, error) {
	subj, err := fromTerm(tr.Subj, labels)
	if err != nil {
		return statement.Statement{}, fmt.Errorf("subject: %w", err)
	}
	pred, err := fromTerm(tr.Pred, labels)
	if err != nil {
		return statement.Statement{}, fmt.Errorf("predicate: %w", err)
	}
	obj, err := fromTerm(tr.Obj, labels)
	if err != nil {
		return statement.Statement{}, fmt.Errorf("object: %w", err)
	}
	st := statement.Statement{Subject: subj, Predicate: pred, Object: obj}
	if _, ok := statement.Parse(statement.Format(st)); !ok {
		return statement.Statement{}, fmt.Errorf("not encodable: %s", statement.Format(st))
	}
	return st, nil
}

func fromTerm(t rdf.Term, labels *blankLabels) (statement.Term, error) {
	switch v := t.(type) {
	case rdf.IRI:
		return statement.IRI(v.String()), nil
	case rdf.Blank:
		return statement.Blank(labels.resolve(strings.TrimPrefix(v.String(), "_:"))), nil
	case rdf.Literal:
		if lang := v.Lang(); lang != "" {
			return statement.LangLiteral(v.String(), lang), nil
		}
		dt := v.DataType.String()
		if dt == statement.XSDString {
			dt = ""
		}
		return statement.TypedLiteral(v.String(), dt), nil
	default:
		return statement.Term{}, fmt.Errorf("unsupported term %T", t)
	}
}
