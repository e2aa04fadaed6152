package pipeline

import (
	"fmt"
	"strings"
)

// NoValidMoldsError is returned when none of the requested molds produced an
// envelope. It is raised before combination; no output is written.
type NoValidMoldsError struct {
	Attempted int
	// Failures maps each skipped mold path to the reason it was skipped,
	// in request order.
	Failures []MoldFailure
}

// MoldFailure records why one mold was skipped.
type MoldFailure struct {
	Path string
	Err  error
}

func (e *NoValidMoldsError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("no valid molds (attempted %d)", e.Attempted)
	}
	paths := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		paths[i] = f.Path
	}
	return fmt.Sprintf("no valid molds (attempted %d): %s", e.Attempted, strings.Join(paths, ", "))
}
