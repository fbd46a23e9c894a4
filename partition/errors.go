package partition

import "fmt"

// FragmentParseError reports that the accurate parser rejected a fragment.
// The fragment is then re-read with the heuristic parser.
type FragmentParseError struct {
	Path string
	Err  error
}

func (e *FragmentParseError) Error() string {
	return fmt.Sprintf("parse fragment %s: %v", e.Path, e.Err)
}

func (e *FragmentParseError) Unwrap() error {
	return e.Err
}
