package stage

import "errors"

// ErrNoFragments is returned when discovery finds no stage fragment at all.
var ErrNoFragments = errors.New("no stage fragments found")
