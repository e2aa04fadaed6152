package envelope

import (
	"fmt"
	"math"

	dsptime "github.com/cwbudde/algo-dsp/stats/time"
)

// peakEpsilon keeps Normalize finite on all-zero input.
const peakEpsilon = 1e-12

// Normalize divides env by its peak (plus a tiny epsilon) into a new slice.
// An all-zero envelope stays all zero.
func Normalize(env []float64) []float64 {
	out := make([]float64, len(env))
	if len(env) == 0 {
		return out
	}
	peak := dsptime.Peak(env) + peakEpsilon
	for i, v := range env {
		out[i] = v / peak
	}
	return out
}

// TimeConstant converts milliseconds into a smoother divisor in samples,
// never less than 1.
func TimeConstant(sampleRate int, ms float64) float64 {
	return math.Max(1, math.Round(float64(sampleRate)*ms/1000))
}

// Smooth runs a one-pole follower forward with the attack constant and then
// backward with the release constant. A constant of 1 passes the signal
// through, up to rounding. env is not modified.
func Smooth(env []float64, sampleRate int, attackMs, releaseMs float64) []float64 {
	out := make([]float64, len(env))
	if len(env) == 0 {
		return out
	}
	atk := TimeConstant(sampleRate, attackMs)
	rel := TimeConstant(sampleRate, releaseMs)

	prev := env[0]
	for i, v := range env {
		prev += (v - prev) / atk
		out[i] = prev
	}

	prev = out[len(out)-1]
	for i := len(out) - 1; i >= 0; i-- {
		prev += (out[i] - prev) / rel
		out[i] = prev
	}
	return out
}

// LoopToLength tiles env end to end and cuts it to n samples. A shorter or
// equal-length env is repeated from its start; a longer one is truncated.
// An empty env yields n zeros.
func LoopToLength(env []float64, n int) []float64 {
	out := make([]float64, max(n, 0))
	if len(env) == 0 || n <= 0 {
		return out
	}
	for i := 0; i < n; i += len(env) {
		copy(out[i:], env)
	}
	return out
}

// Condition normalizes, smooths and loops a raw envelope to targetLen.
func Condition(raw []float64, cfg Config, sampleRate, targetLen int) ([]float64, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample-rate: %d", sampleRate)
	}
	if targetLen < 0 {
		return nil, fmt.Errorf("invalid target length: %d", targetLen)
	}
	env := Normalize(raw)
	env = Smooth(env, sampleRate, cfg.AttackMs, cfg.ReleaseMs)
	return LoopToLength(env, targetLen), nil
}
