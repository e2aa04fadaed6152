package envelope

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/core"
)

const (
	geomClip     = 1e-12
	productClip  = 1e-6
	weightEps    = 1e-12
	sumLimitGain = 1.5
)

// Combine reduces equal-length envelopes sample by sample. For
// CombineWeighted, weights must hold one value per envelope or a single
// value applied to all of them; any other count yields *InvalidWeightsError.
// Unknown modes behave like CombineMax.
func Combine(envs [][]float64, mode CombineMode, weights []float64) ([]float64, error) {
	m := len(envs)
	if m == 0 {
		return nil, ErrNoEnvelopes
	}
	n := len(envs[0])
	for i, e := range envs[1:] {
		if len(e) != n {
			return nil, fmt.Errorf("envelope %d has length %d, want %d", i+1, len(e), n)
		}
	}

	out := make([]float64, n)
	switch mode {
	case CombineMean:
		for _, e := range envs {
			for i, v := range e {
				out[i] += v
			}
		}
		inv := 1 / float64(m)
		for i := range out {
			out[i] *= inv
		}

	case CombineGeomMean:
		for _, e := range envs {
			for i, v := range e {
				out[i] += math.Log(math.Max(v, geomClip))
			}
		}
		inv := 1 / float64(m)
		for i := range out {
			out[i] = math.Exp(out[i] * inv)
		}

	case CombineProduct:
		for i := range out {
			out[i] = 1
		}
		for _, e := range envs {
			for i, v := range e {
				out[i] *= math.Max(v, productClip)
			}
		}

	case CombineSumLimited:
		for i := range out {
			var sum float64
			peak := envs[0][i]
			for _, e := range envs {
				sum += e[i]
				peak = math.Max(peak, e[i])
			}
			out[i] = math.Min(sum, sumLimitGain*peak)
		}

	case CombineWeighted:
		if err := checkWeights(weights, m); err != nil {
			return nil, err
		}
		w := weights
		if len(w) == 1 && m > 1 {
			w = make([]float64, m)
			for i := range w {
				w[i] = weights[0]
			}
		}
		var wsum float64
		for k, e := range envs {
			wsum += w[k]
			for i, v := range e {
				out[i] += w[k] * v
			}
		}
		inv := 1 / (wsum + weightEps)
		for i := range out {
			out[i] *= inv
		}

	default:
		copy(out, envs[0])
		for _, e := range envs[1:] {
			for i, v := range e {
				if v > out[i] {
					out[i] = v
				}
			}
		}
	}
	return out, nil
}

// ClampFloor raises every sample below floorDB (as linear amplitude) to that
// level, in place, and returns env. There is no upper bound.
func ClampFloor(env []float64, floorDB float64) []float64 {
	floor := core.DBToLinear(floorDB)
	for i, v := range env {
		if v < floor {
			env[i] = floor
		}
	}
	return env
}
