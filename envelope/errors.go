package envelope

import (
	"errors"
	"fmt"
)

// ErrNoEnvelopes is returned by Combine when called without input.
var ErrNoEnvelopes = errors.New("no envelopes to combine")

// InvalidWeightsError reports a weighted combination whose weight count
// matches neither a single shared weight nor one weight per envelope.
type InvalidWeightsError struct {
	Got  int
	Want int
}

func (e *InvalidWeightsError) Error() string {
	return fmt.Sprintf("weighted combine: got %d weights, want 1 or %d", e.Got, e.Want)
}
