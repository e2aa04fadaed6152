// Package analysis measures how closely a shaped output follows a target
// loudness contour.
package analysis

import (
	"math"

	approx "github.com/cwbudde/algo-approx"
	dsptime "github.com/cwbudde/algo-dsp/stats/time"
)

const (
	contourFrame = 1024
	contourHop   = 512
	// contourFloorDB bounds how far below its peak a contour is compared.
	contourFloorDB = -60.0
)

// Score weights of the tracking components.
const (
	WeightEnvelope    = 0.55
	WeightCorrelation = 0.30
	WeightDecay       = 0.15
)

// Metrics describes how well an output signal tracks a target contour.
type Metrics struct {
	SampleRate int `json:"sample_rate"`

	OutputFrames int `json:"output_frames"`
	TargetFrames int `json:"target_frames"`
	// ContourFrames is the number of RMS frames compared.
	ContourFrames int `json:"contour_frames"`

	EnvelopeRMSEDB    float64 `json:"envelope_rmse_db"`
	Correlation       float64 `json:"correlation"`
	OutputDecayDBPerS float64 `json:"output_decay_db_per_s"`
	TargetDecayDBPerS float64 `json:"target_decay_db_per_s"`
	DecayDiffDBPerS   float64 `json:"decay_diff_db_per_s"`

	EnvelopeNorm    float64 `json:"envelope_norm"`
	CorrelationNorm float64 `json:"correlation_norm"`
	DecayNorm       float64 `json:"decay_norm"`

	Score      float64 `json:"score"`
	Similarity float64 `json:"similarity"`
	// Dominant names the component contributing most to Score.
	Dominant string `json:"dominant,omitempty"`
}

// Tracking compares the framed RMS contours of output and target, each in dB
// relative to its own peak. target may be an audio signal or an envelope;
// only its level over time matters. Score is in [0,1], 0 meaning identical
// contours; Similarity maps it back to (0,1].
func Tracking(output, target []float64, sampleRate int) Metrics {
	m := Metrics{
		SampleRate:   sampleRate,
		OutputFrames: len(output),
		TargetFrames: len(target),
		Score:        1,
	}
	n := min(len(output), len(target))
	if sampleRate <= 0 || n < contourFrame {
		return m
	}

	outEnv := relativeDB(rmsEnvelope(output[:n], contourFrame, contourHop))
	tgtEnv := relativeDB(rmsEnvelope(target[:n], contourFrame, contourHop))
	if outEnv == nil || tgtEnv == nil {
		return m
	}
	m.ContourFrames = len(outEnv)

	diff := make([]float64, len(outEnv))
	for i := range diff {
		diff[i] = outEnv[i] - tgtEnv[i]
	}
	m.EnvelopeRMSEDB = dsptime.RMS(diff)
	m.Correlation = pearson(outEnv, tgtEnv)

	hopSec := float64(contourHop) / float64(sampleRate)
	// Contours without a measurable decay leave the slope fields at zero.
	outDecay := decaySlopeDBPerS(outEnv, hopSec)
	tgtDecay := decaySlopeDBPerS(tgtEnv, hopSec)
	if isFinite(outDecay) {
		m.OutputDecayDBPerS = outDecay
	}
	if isFinite(tgtDecay) {
		m.TargetDecayDBPerS = tgtDecay
	}
	if isFinite(outDecay) && isFinite(tgtDecay) {
		m.DecayDiffDBPerS = math.Abs(outDecay - tgtDecay)
	}

	m.EnvelopeNorm = clamp01(m.EnvelopeRMSEDB / 30.0)
	m.CorrelationNorm = clamp01((1 - m.Correlation) / 2)
	m.DecayNorm = clamp01(m.DecayDiffDBPerS / 40.0)
	contrib := map[string]float64{
		"envelope":    WeightEnvelope * m.EnvelopeNorm,
		"correlation": WeightCorrelation * m.CorrelationNorm,
		"decay":       WeightDecay * m.DecayNorm,
	}
	m.Score = clamp01(contrib["envelope"] + contrib["correlation"] + contrib["decay"])
	m.Dominant = "envelope"
	for _, k := range []string{"correlation", "decay"} {
		if contrib[k] > contrib[m.Dominant] {
			m.Dominant = k
		}
	}
	m.Similarity = clamp01(float64(approx.FastExp(float32(-4.0 * m.Score))))
	return m
}

func rmsEnvelope(x []float64, frame int, hop int) []float64 {
	if frame <= 0 || hop <= 0 || len(x) < frame {
		return nil
	}
	n := 1 + (len(x)-frame)/hop
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		start := i * hop
		out[i] = dsptime.RMS(x[start : start+frame])
	}
	return out
}

// relativeDB converts a contour to dB below its peak, floored at
// contourFloorDB. A silent contour returns nil.
func relativeDB(env []float64) []float64 {
	if len(env) == 0 {
		return nil
	}
	peak := dsptime.Peak(env)
	if peak <= 1e-12 {
		return nil
	}
	out := make([]float64, len(env))
	for i, v := range env {
		out[i] = math.Max(linToDB(v/peak), contourFloorDB)
	}
	return out
}

func pearson(a, b []float64) float64 {
	n := min(len(a), len(b))
	if n < 2 {
		return 0
	}
	var ma, mb float64
	for i := 0; i < n; i++ {
		ma += a[i]
		mb += b[i]
	}
	ma /= float64(n)
	mb /= float64(n)
	var sab, saa, sbb float64
	for i := 0; i < n; i++ {
		da := a[i] - ma
		db := b[i] - mb
		sab += da * db
		saa += da * da
		sbb += db * db
	}
	if saa <= 1e-18 || sbb <= 1e-18 {
		if saa <= 1e-18 && sbb <= 1e-18 {
			return 1
		}
		return 0
	}
	return sab / math.Sqrt(saa*sbb)
}

func linToDB(x float64) float64 {
	if x < 1e-12 {
		x = 1e-12
	}
	return 20.0 * math.Log10(x)
}

// decaySlopeDBPerS fits a line to the dB contour from its peak down to 60 dB
// below it. env is already in dB.
func decaySlopeDBPerS(env []float64, hopSec float64) float64 {
	if len(env) < 8 || hopSec <= 0 {
		return math.NaN()
	}
	peak := -math.MaxFloat64
	peakIdx := 0
	for i, db := range env {
		if db > peak {
			peak = db
			peakIdx = i
		}
	}
	start := peakIdx + 1
	if start >= len(env)-4 {
		return math.NaN()
	}

	threshold := peak - 60.0
	end := len(env)
	for i := start; i < len(env); i++ {
		if env[i] < threshold {
			end = i
			break
		}
	}
	if end-start < 6 {
		return math.NaN()
	}

	var sx, sy, sxx, sxy float64
	n := float64(end - start)
	for i := start; i < end; i++ {
		x := float64(i-start) * hopSec
		y := env[i]
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}
	den := n*sxx - sx*sx
	if math.Abs(den) < 1e-12 {
		return math.NaN()
	}
	return (n*sxy - sx*sy) / den
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
