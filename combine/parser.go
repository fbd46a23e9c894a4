package combine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/knakk/rdf"
)

// StrictParser validates a complete serialized artifact.
type StrictParser interface {
	Check(ctx context.Context, r io.Reader) error
}

// TurtleParser is the default StrictParser. It streams r through a Turtle
// decoder, which accepts both the full and the minimal line encoding.
type TurtleParser struct{}

// Check decodes every statement of r and returns the first error.
func (TurtleParser) Check(ctx context.Context, r io.Reader) error {
	dec := rdf.NewTripleDecoder(r, rdf.Turtle)
	for n := 1; ; n++ {
		if n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if _, err := dec.Decode(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("statement %d: %w", n, err)
		}
	}
}
