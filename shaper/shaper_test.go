package shaper

import (
	"math"
	"testing"

	"github.com/cwbudde/copy-envelope/audiofile"
)

type fixedMeter struct {
	values []float64
	calls  int
}

func (m *fixedMeter) Integrated([]float64, int) (float64, error) {
	v := m.values[m.calls]
	m.calls++
	return v, nil
}

func sine(sr int, freq, amp float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sr))
	}
	return out
}

func TestApplyScalesEveryChannel(t *testing.T) {
	dst := audiofile.NewBuffer(2, 4, 8000)
	for i := range 4 {
		dst.Channels[0][i] = 1
		dst.Channels[1][i] = -0.5
	}
	env := []float64{0, 0.5, 1, 2}
	out, err := Apply(dst, env)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for i, e := range env {
		if out.Channels[0][i] != e || out.Channels[1][i] != -0.5*e {
			t.Fatalf("frame %d = (%f, %f)", i, out.Channels[0][i], out.Channels[1][i])
		}
	}
	if dst.Channels[0][0] != 1 {
		t.Fatalf("destination was modified")
	}
}

func TestApplyRejectsLengthMismatch(t *testing.T) {
	dst := audiofile.NewBuffer(1, 4, 8000)
	if _, err := Apply(dst, []float64{1, 1}); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestRenderMixesToMono(t *testing.T) {
	dst := audiofile.NewBuffer(2, 3, 8000)
	for i := range 3 {
		dst.Channels[0][i] = 0.4
		dst.Channels[1][i] = 0.2
	}
	out, m, err := Render(dst, []float64{1, 0.5, 2}, Options{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if m.Applied {
		t.Fatalf("loudness match ran without being requested")
	}
	if out.NumChannels() != 1 || out.Frames() != 3 {
		t.Fatalf("layout = %d x %d, want 1 x 3", out.NumChannels(), out.Frames())
	}
	want := []float64{0.3, 0.15, 0.6}
	for i := range want {
		if math.Abs(out.Channels[0][i]-want[i]) > 1e-12 {
			t.Fatalf("out[%d] = %f, want %f", i, out.Channels[0][i], want[i])
		}
	}
}

func TestMatchLoudnessAppliesDifference(t *testing.T) {
	processed := audiofile.FromMono([]float64{0.1, -0.2}, 8000)
	meter := &fixedMeter{values: []float64{-14, -20}}
	m, err := MatchLoudness(meter, []float64{1, 1}, processed)
	if err != nil {
		t.Fatalf("MatchLoudness: %v", err)
	}
	if !m.Applied || m.GainDB != 6 {
		t.Fatalf("match = %+v, want +6 dB applied", m)
	}
	g := math.Pow(10, 6.0/20)
	if math.Abs(processed.Channels[0][1]-(-0.2*g)) > 1e-12 {
		t.Fatalf("sample = %f, want %f", processed.Channels[0][1], -0.2*g)
	}
}

func TestMatchLoudnessSkipsWithoutMeasurement(t *testing.T) {
	processed := audiofile.FromMono([]float64{0.1, -0.2}, 8000)
	m, err := MatchLoudness(nil, []float64{1}, processed)
	if err != nil || m.Applied {
		t.Fatalf("nil meter: %+v %v", m, err)
	}

	meter := &fixedMeter{values: []float64{math.Inf(-1), -20}}
	m, err = MatchLoudness(meter, []float64{1}, processed)
	if err != nil || m.Applied {
		t.Fatalf("silent reference: %+v %v", m, err)
	}
	if processed.Channels[0][0] != 0.1 {
		t.Fatalf("skipped match modified samples")
	}
}

func TestRenderRestoresIntegratedLoudness(t *testing.T) {
	const sr = 48000
	x := sine(sr, 1000, 0.5, sr*3)
	env := make([]float64, len(x))
	for i := range env {
		env[i] = 0.25
	}
	dst := audiofile.FromMono(x, sr)

	out, m, err := Render(dst, env, Options{MatchLoudness: true, Meter: R128Meter{}})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !m.Applied {
		t.Fatalf("expected loudness match, got %+v", m)
	}
	if math.Abs(m.GainDB-20*math.Log10(4)) > 0.1 {
		t.Fatalf("gain = %.3f dB, want about 12.04", m.GainDB)
	}
	got, err := R128Meter{}.Integrated(out.Channels[0], sr)
	if err != nil {
		t.Fatalf("Integrated: %v", err)
	}
	if math.Abs(got-m.ReferenceLUFS) > 0.1 {
		t.Fatalf("output loudness = %.2f LUFS, want %.2f", got, m.ReferenceLUFS)
	}
}
