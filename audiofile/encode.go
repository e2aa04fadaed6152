package audiofile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cwbudde/wav"
	"github.com/go-audio/audio"
)

// DefaultBitDepth is the PCM word size used when WriteOptions leaves it unset.
const DefaultBitDepth = 16

// WriteOptions controls the encoded sample format.
type WriteOptions struct {
	// BitDepth is 16 or 24. Zero selects DefaultBitDepth.
	BitDepth int
}

func (o WriteOptions) bitDepth() (int, error) {
	switch o.BitDepth {
	case 0:
		return DefaultBitDepth, nil
	case 16, 24:
		return o.BitDepth, nil
	default:
		return 0, fmt.Errorf("unsupported bit depth %d (use 16 or 24)", o.BitDepth)
	}
}

// WriteMono writes a single channel as PCM WAV.
func WriteMono(path string, samples []float64, sampleRate int, opts WriteOptions) error {
	return Write(path, FromMono(samples, sampleRate), opts)
}

// Write encodes buf as PCM WAV at path. Samples outside [-1, 1] are clipped.
// The file is staged next to path and renamed into place, so a failed write
// never leaves a partial file at path. Failures yield *WriteError.
func Write(path string, buf *Buffer, opts WriteOptions) error {
	if err := writeWAV(path, buf, opts); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}

func writeWAV(path string, buf *Buffer, opts WriteOptions) error {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".wav" {
		return fmt.Errorf("unsupported output format %q (only .wav)", ext)
	}
	if err := buf.Validate(); err != nil {
		return err
	}
	bitDepth, err := opts.bitDepth()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	numCh := buf.NumChannels()
	enc := wav.NewEncoder(tmp, buf.SampleRate, bitDepth, numCh, 1)
	pcm := &audio.Float32Buffer{
		Format: &audio.Format{
			SampleRate:  buf.SampleRate,
			NumChannels: numCh,
		},
		Data:           interleaveClipped(buf),
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(pcm); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}

func interleaveClipped(buf *Buffer) []float32 {
	numCh := buf.NumChannels()
	frames := buf.Frames()
	out := make([]float32, frames*numCh)
	for c, ch := range buf.Channels {
		for i, v := range ch {
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			out[i*numCh+c] = float32(v)
		}
	}
	return out
}
