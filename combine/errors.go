package combine

import "fmt"

// CombinedParseError reports that the combined artifact failed the strict
// parse. The combiner recovers from it by writing the fallback file.
type CombinedParseError struct {
	Path string
	Err  error
}

func (e *CombinedParseError) Error() string {
	return fmt.Sprintf("strict parse of %s failed: %v", e.Path, e.Err)
}

func (e *CombinedParseError) Unwrap() error {
	return e.Err
}
