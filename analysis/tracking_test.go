package analysis

import (
	"math"
	"testing"
)

func TestTrackingIdenticalContourHasLowScore(t *testing.T) {
	sr := 48000
	x := makeDecaySine(sr, 440.0, 1.5, 0.7)
	m := Tracking(x, x, sr)
	if m.Score > 0.01 {
		t.Fatalf("expected near-zero score for identical signals, got %f", m.Score)
	}
	if m.Similarity < 0.95 {
		t.Fatalf("expected high similarity for identical signals, got %f", m.Similarity)
	}
	if math.Abs(m.Correlation-1) > 1e-9 {
		t.Fatalf("correlation = %f, want 1", m.Correlation)
	}
}

func TestTrackingIgnoresGainAndCarrier(t *testing.T) {
	sr := 48000
	out := makeDecaySine(sr, 440.0, 1.5, 0.5)
	env := make([]float64, len(out))
	for i := range env {
		env[i] = 0.3 * math.Exp(-float64(i)/float64(sr)/0.5)
	}
	m := Tracking(out, env, sr)
	if m.EnvelopeRMSEDB > 1.5 {
		t.Fatalf("envelope rmse = %.2f dB, want small", m.EnvelopeRMSEDB)
	}
	if m.Correlation < 0.99 {
		t.Fatalf("correlation = %f, want about 1", m.Correlation)
	}
	if math.Abs(m.DecayDiffDBPerS) > 2 {
		t.Fatalf("decay diff = %.2f dB/s, want small", m.DecayDiffDBPerS)
	}
}

func TestTrackingDifferentContoursScoreHigher(t *testing.T) {
	sr := 48000
	decaying := makeDecaySine(sr, 261.63, 1.8, 0.3)
	rising := makeDecaySine(sr, 261.63, 1.8, 0.3)
	for i, j := 0, len(rising)-1; i < j; i, j = i+1, j-1 {
		rising[i], rising[j] = rising[j], rising[i]
	}
	same := Tracking(decaying, decaying, sr)
	diff := Tracking(decaying, rising, sr)
	if diff.Score < 0.25 {
		t.Fatalf("expected higher score for opposite contours, got %f", diff.Score)
	}
	if diff.Similarity >= same.Similarity {
		t.Fatalf("similarity did not drop: same %f diff %f", same.Similarity, diff.Similarity)
	}
	if diff.Correlation > 0 {
		t.Fatalf("correlation = %f, want negative", diff.Correlation)
	}
}

func TestTrackingShortOrSilentInput(t *testing.T) {
	m := Tracking(make([]float64, 100), make([]float64, 100), 48000)
	if m.Score != 1 || m.Similarity != 0 {
		t.Fatalf("short input metrics = %+v", m)
	}
	m = Tracking(make([]float64, 4096), makeDecaySine(48000, 440, 0.1, 1), 48000)
	if m.Score != 1 || m.ContourFrames != 0 {
		t.Fatalf("silent output metrics = %+v", m)
	}
}

func TestPearson(t *testing.T) {
	a := []float64{1, 2, 3, 4}
	if got := pearson(a, []float64{2, 4, 6, 8}); math.Abs(got-1) > 1e-12 {
		t.Fatalf("pearson = %f, want 1", got)
	}
	if got := pearson(a, []float64{4, 3, 2, 1}); math.Abs(got+1) > 1e-12 {
		t.Fatalf("pearson = %f, want -1", got)
	}
	if got := pearson([]float64{1, 1}, []float64{1, 1}); got != 1 {
		t.Fatalf("flat pair = %f, want 1", got)
	}
}

func makeDecaySine(sr int, freq float64, durationSec float64, decaySec float64) []float64 {
	n := int(float64(sr) * durationSec)
	if n < 1 {
		n = 1
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sr)
		env := math.Exp(-t / decaySec)
		out[i] = env * math.Sin(2*math.Pi*freq*t)
	}
	return out
}

func TestTrackingFlatContourIsJSONSafe(t *testing.T) {
	sr := 8000
	tone := make([]float64, sr)
	flat := make([]float64, sr)
	for i := range tone {
		tone[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(sr))
		flat[i] = 0.5
	}
	m := Tracking(tone, flat, sr)
	for _, v := range []float64{m.OutputDecayDBPerS, m.TargetDecayDBPerS, m.DecayDiffDBPerS, m.Score, m.Similarity} {
		if !isFinite(v) {
			t.Fatalf("non-finite metric in %+v", m)
		}
	}
}

func TestTrackingDominantComponent(t *testing.T) {
	sr := 48000
	decaying := makeDecaySine(sr, 261.63, 1.8, 0.3)
	rising := makeDecaySine(sr, 261.63, 1.8, 0.3)
	for i, j := 0, len(rising)-1; i < j; i, j = i+1, j-1 {
		rising[i], rising[j] = rising[j], rising[i]
	}
	m := Tracking(decaying, rising, sr)
	sum := WeightEnvelope*m.EnvelopeNorm + WeightCorrelation*m.CorrelationNorm + WeightDecay*m.DecayNorm
	if math.Abs(sum-m.Score) > 1e-12 {
		t.Fatalf("score %f != weighted norms %f", m.Score, sum)
	}
	switch m.Dominant {
	case "envelope", "correlation", "decay":
	default:
		t.Fatalf("dominant = %q", m.Dominant)
	}
}
