// Package shaper imposes a combined envelope on a destination buffer and
// optionally restores the destination's integrated loudness.
package shaper

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/measure/loudness"
	"github.com/cwbudde/copy-envelope/audiofile"
)

// LoudnessMeter measures integrated loudness of a mono signal in LUFS.
// Implementations may return -Inf for signals too short or too quiet to
// gate.
type LoudnessMeter interface {
	Integrated(mono []float64, sampleRate int) (float64, error)
}

// R128Meter measures ITU-R BS.1770 / EBU R128 integrated loudness.
type R128Meter struct{}

func (R128Meter) Integrated(mono []float64, sampleRate int) (float64, error) {
	if sampleRate <= 0 {
		return 0, fmt.Errorf("invalid sample-rate: %d", sampleRate)
	}
	m := loudness.NewMeter(
		loudness.WithSampleRate(float64(sampleRate)),
		loudness.WithChannels(1),
	)
	m.StartIntegration()
	m.ProcessBlock(mono)
	return m.Integrated(), nil
}

// Apply multiplies every channel of dst by env, sample by sample, into a new
// buffer. env must have one value per frame.
func Apply(dst *audiofile.Buffer, env []float64) (*audiofile.Buffer, error) {
	if err := dst.Validate(); err != nil {
		return nil, err
	}
	if len(env) != dst.Frames() {
		return nil, fmt.Errorf("envelope length %d does not match %d frames", len(env), dst.Frames())
	}
	out := audiofile.NewBuffer(dst.NumChannels(), dst.Frames(), dst.SampleRate)
	for c, ch := range dst.Channels {
		o := out.Channels[c]
		for i, v := range ch {
			o[i] = v * env[i]
		}
	}
	return out, nil
}

// Match describes one loudness-match decision.
type Match struct {
	ReferenceLUFS float64 `json:"reference_lufs"`
	ProcessedLUFS float64 `json:"processed_lufs"`
	GainDB        float64 `json:"gain_db"`
	Applied       bool    `json:"applied"`
}

// MatchLoudness scales processed in place so its mono mix has the same
// integrated loudness as reference. The step is skipped (gain 0 dB) when
// meter is nil or either measurement is not finite; a skipped match leaves
// both measurements at zero.
func MatchLoudness(meter LoudnessMeter, reference []float64, processed *audiofile.Buffer) (Match, error) {
	var res Match
	if meter == nil {
		return res, nil
	}
	ref, err := meter.Integrated(reference, processed.SampleRate)
	if err != nil {
		return res, fmt.Errorf("measure reference loudness: %w", err)
	}
	cur, err := meter.Integrated(processed.Mono(), processed.SampleRate)
	if err != nil {
		return res, fmt.Errorf("measure processed loudness: %w", err)
	}
	if !isFinite(ref) || !isFinite(cur) {
		return res, nil
	}
	res.ReferenceLUFS = ref
	res.ProcessedLUFS = cur
	res.GainDB = ref - cur
	res.Applied = true
	processed.Scale(core.DBToLinear(res.GainDB))
	return res, nil
}

// Options controls Render.
type Options struct {
	MatchLoudness bool
	Meter         LoudnessMeter
}

// Render applies env to dst, runs the optional loudness match and mixes
// the result down to mono. The output is always a single channel even for
// multi-channel destinations.
func Render(dst *audiofile.Buffer, env []float64, opts Options) (*audiofile.Buffer, Match, error) {
	shaped, err := Apply(dst, env)
	if err != nil {
		return nil, Match{}, err
	}
	var m Match
	if opts.MatchLoudness {
		m, err = MatchLoudness(opts.Meter, dst.Mono(), shaped)
		if err != nil {
			return nil, m, err
		}
	}
	return audiofile.FromMono(shaped.Mono(), shaped.SampleRate), m, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
