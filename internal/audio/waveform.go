// Package audio holds generated waveforms and the encoding policy applied before they are
// written to disk.
package audio

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrEmptyWaveform      = errors.New("audio: waveform has no samples")
	ErrInvalidSampleRate  = errors.New("audio: sample rate must be positive")
	ErrChannelLenMismatch = errors.New("audio: channels have different lengths")
)

// Waveform is a multi-channel block of samples in [-1, 1], laid out channel-major
// ([channels][samples]).
type Waveform struct {
	SampleRate int
	Channels   [][]float64
}

// NewWaveform builds a waveform from channel-major samples.
func NewWaveform(sampleRate int, channels ...[]float64) *Waveform {
	return &Waveform{SampleRate: sampleRate, Channels: channels}
}

// NumChannels returns the channel count.
func (w *Waveform) NumChannels() int {
	return len(w.Channels)
}

// NumSamples returns the number of samples per channel.
func (w *Waveform) NumSamples() int {
	if len(w.Channels) == 0 {
		return 0
	}
	return len(w.Channels[0])
}

// DurationSeconds is sampleCount / sampleRate.
func (w *Waveform) DurationSeconds() float64 {
	if w.SampleRate <= 0 {
		return 0
	}
	return float64(w.NumSamples()) / float64(w.SampleRate)
}

// Validate checks the waveform can be encoded.
func (w *Waveform) Validate() error {
	if w == nil || w.NumChannels() == 0 || w.NumSamples() == 0 {
		return ErrEmptyWaveform
	}
	if w.SampleRate <= 0 {
		return ErrInvalidSampleRate
	}
	n := w.NumSamples()
	for i, ch := range w.Channels {
		if len(ch) != n {
			return fmt.Errorf("%w: channel %d has %d samples, want %d", ErrChannelLenMismatch, i, len(ch), n)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (w *Waveform) Clone() *Waveform {
	out := &Waveform{SampleRate: w.SampleRate, Channels: make([][]float64, len(w.Channels))}
	for i, ch := range w.Channels {
		out.Channels[i] = append([]float64(nil), ch...)
	}
	return out
}

// Apply maps fn over every sample in place.
func (w *Waveform) Apply(fn func(float64) float64) {
	for _, ch := range w.Channels {
		for i, s := range ch {
			ch[i] = fn(s)
		}
	}
}

// RMS returns the root mean square over all channels.
func (w *Waveform) RMS() float64 {
	var sum float64
	var n int
	for _, ch := range w.Channels {
		for _, s := range ch {
			sum += s * s
		}
		n += len(ch)
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}
