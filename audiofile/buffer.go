// Package audiofile loads and writes audio files as channel-major float
// buffers.
package audiofile

import "fmt"

// Buffer holds channel-major samples at a single sample rate.
// All channels have the same number of frames.
type Buffer struct {
	Channels   [][]float64
	SampleRate int
}

// NewBuffer allocates a silent buffer.
func NewBuffer(numChannels, frames, sampleRate int) *Buffer {
	ch := make([][]float64, numChannels)
	for c := range ch {
		ch[c] = make([]float64, frames)
	}
	return &Buffer{Channels: ch, SampleRate: sampleRate}
}

// FromMono wraps a single channel without copying it.
func FromMono(samples []float64, sampleRate int) *Buffer {
	return &Buffer{Channels: [][]float64{samples}, SampleRate: sampleRate}
}

// NumChannels returns the channel count.
func (b *Buffer) NumChannels() int {
	return len(b.Channels)
}

// Frames returns the per-channel sample count.
func (b *Buffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the buffer length in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Validate checks the channel layout and sample rate.
func (b *Buffer) Validate() error {
	if b == nil {
		return fmt.Errorf("nil buffer")
	}
	if len(b.Channels) == 0 {
		return fmt.Errorf("buffer has no channels")
	}
	if b.SampleRate <= 0 {
		return fmt.Errorf("invalid sample-rate: %d", b.SampleRate)
	}
	n := len(b.Channels[0])
	for c, ch := range b.Channels {
		if len(ch) != n {
			return fmt.Errorf("channel %d has %d frames, want %d", c, len(ch), n)
		}
	}
	return nil
}

// Mono returns the arithmetic mean across channels. A single-channel
// buffer returns its channel slice unchanged.
func (b *Buffer) Mono() []float64 {
	switch len(b.Channels) {
	case 0:
		return nil
	case 1:
		return b.Channels[0]
	}
	frames := b.Frames()
	inv := 1.0 / float64(len(b.Channels))
	out := make([]float64, frames)
	for _, ch := range b.Channels {
		for i := 0; i < frames; i++ {
			out[i] += ch[i]
		}
	}
	for i := range out {
		out[i] *= inv
	}
	return out
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	out := &Buffer{
		Channels:   make([][]float64, len(b.Channels)),
		SampleRate: b.SampleRate,
	}
	for c, ch := range b.Channels {
		out.Channels[c] = append([]float64(nil), ch...)
	}
	return out
}

// Scale multiplies every sample in place.
func (b *Buffer) Scale(gain float64) {
	for _, ch := range b.Channels {
		for i := range ch {
			ch[i] *= gain
		}
	}
}
