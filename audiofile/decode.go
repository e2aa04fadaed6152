package audiofile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	dspresample "github.com/cwbudde/algo-dsp/dsp/resample"
	"github.com/cwbudde/wav"
	"github.com/go-audio/aiff"
)

// Load decodes path into a Buffer. When targetRate > 0 and differs from the
// file's rate, every channel is resampled to targetRate; otherwise the
// native rate is kept. Unreadable or malformed files yield *DecodeError.
func Load(path string, targetRate int) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	defer f.Close()

	buf, err := Decode(f, filepath.Ext(path))
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	if targetRate > 0 && targetRate != buf.SampleRate {
		buf, err = Resample(buf, targetRate)
		if err != nil {
			return nil, fmt.Errorf("resample %s: %w", path, err)
		}
	}
	return buf, nil
}

// Decode reads an audio stream. ext selects the container (".aif"/".aiff"
// for AIFF, anything else is treated as WAV).
func Decode(r io.ReadSeeker, ext string) (*Buffer, error) {
	switch strings.ToLower(ext) {
	case ".aif", ".aiff", ".aifc":
		return decodeAIFF(r)
	default:
		return decodeWAV(r)
	}
}

func decodeWAV(r io.ReadSeeker) (*Buffer, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, fmt.Errorf("invalid wav buffer")
	}

	numCh := buf.Format.NumChannels
	frames := len(buf.Data) / numCh
	out, err := newDecoded(numCh, frames, buf.Format.SampleRate)
	if err != nil {
		return nil, err
	}
	for i := range frames {
		for c := range numCh {
			out.Channels[c][i] = float64(buf.Data[i*numCh+c])
		}
	}
	return out, nil
}

func decodeAIFF(r io.ReadSeeker) (*Buffer, error) {
	dec := aiff.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid aiff file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, fmt.Errorf("invalid aiff buffer")
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth <= 0 {
		bitDepth = buf.SourceBitDepth
	}
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, fmt.Errorf("unsupported aiff bit depth: %d", bitDepth)
	}
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))

	numCh := buf.Format.NumChannels
	frames := len(buf.Data) / numCh
	out, err := newDecoded(numCh, frames, buf.Format.SampleRate)
	if err != nil {
		return nil, err
	}
	for i := range frames {
		for c := range numCh {
			out.Channels[c][i] = float64(buf.Data[i*numCh+c]) * scale
		}
	}
	return out, nil
}

func newDecoded(numCh, frames, sampleRate int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample-rate: %d", sampleRate)
	}
	if frames == 0 {
		return nil, fmt.Errorf("empty audio data")
	}
	return NewBuffer(numCh, frames, sampleRate), nil
}

// Resample converts every channel of buf to rate.
func Resample(buf *Buffer, rate int) (*Buffer, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("invalid target sample-rate: %d", rate)
	}
	if buf.SampleRate == rate {
		return buf, nil
	}
	out := &Buffer{
		Channels:   make([][]float64, len(buf.Channels)),
		SampleRate: rate,
	}
	frames := -1
	for c, ch := range buf.Channels {
		// Resamplers carry filter state, so each channel gets its own.
		r, err := dspresample.NewForRates(
			float64(buf.SampleRate),
			float64(rate),
			dspresample.WithQuality(dspresample.QualityBest),
		)
		if err != nil {
			return nil, err
		}
		out.Channels[c] = r.Process(ch)
		if frames < 0 || len(out.Channels[c]) < frames {
			frames = len(out.Channels[c])
		}
	}
	for c := range out.Channels {
		out.Channels[c] = out.Channels[c][:frames]
	}
	return out, nil
}
