package envelope

import (
	"fmt"
	"math"

	dsptime "github.com/cwbudde/algo-dsp/stats/time"
)

// RMSEnvelope computes a centered framed RMS of x and expands it back to one
// value per sample.
//
// The signal is conceptually zero-padded by frame/2 on both sides. Frame f
// covers padded samples [f*hop, f*hop+frame) and its RMS is
// sqrt(sum(x^2)/frame). Each frame value is repeated hop times; the result
// is truncated to len(x), or zero-filled if the repeated frames fall short.
func RMSEnvelope(x []float64, frame, hop int) ([]float64, error) {
	if frame <= 0 || hop <= 0 {
		return nil, fmt.Errorf("rms: frame and hop must be > 0 (frame=%d hop=%d)", frame, hop)
	}
	n := len(x)
	out := make([]float64, n)
	if n == 0 {
		return out, nil
	}

	pad := frame / 2
	padded := n + 2*pad
	numFrames := 1
	if padded > frame {
		numFrames = 1 + (padded-frame)/hop
	}

	inv := 1 / float64(frame)
	for f := range numFrames {
		first := f*hop - pad
		if first >= n {
			break
		}
		lo := max(first, 0)
		hi := min(first+frame, n)
		// Padding contributes no energy but still counts toward frame.
		r := dsptime.RMS(x[lo:hi]) * math.Sqrt(float64(hi-lo)*inv)

		start := f * hop
		if start >= n {
			break
		}
		end := min(start+hop, n)
		for i := start; i < end; i++ {
			out[i] = r
		}
	}
	return out, nil
}
