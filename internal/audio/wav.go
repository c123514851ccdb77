package audio

import (
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// BitDepth is the PCM sample width used for every artifact.
const BitDepth = 16

const wavFormatPCM = 1

var ErrInvalidWAV = errors.New("audio: invalid wav data")

// EncodeWAV writes w as 16-bit PCM WAV. Samples outside [-1, 1] are clamped.
func EncodeWAV(ws io.WriteSeeker, w *Waveform) error {
	if err := w.Validate(); err != nil {
		return err
	}

	chans := w.NumChannels()
	n := w.NumSamples()
	data := make([]int, n*chans)
	for i := range n {
		for c := range chans {
			data[i*chans+c] = toPCM16(w.Channels[c][i])
		}
	}

	enc := wav.NewEncoder(ws, w.SampleRate, BitDepth, chans, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: chans, SampleRate: w.SampleRate},
		Data:           data,
		SourceBitDepth: BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: finalize wav: %w", err)
	}

	return nil
}

// DecodeWAV reads a PCM WAV stream into a waveform.
func DecodeWAV(r io.ReadSeeker) (*Waveform, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrInvalidWAV
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels == 0 {
		return nil, ErrInvalidWAV
	}

	chans := buf.Format.NumChannels
	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = BitDepth
	}
	scale := math.Pow(2, float64(depth-1))

	n := len(buf.Data) / chans
	w := &Waveform{SampleRate: buf.Format.SampleRate, Channels: make([][]float64, chans)}
	for c := range chans {
		w.Channels[c] = make([]float64, n)
	}
	for i := range n {
		for c := range chans {
			w.Channels[c][i] = float64(buf.Data[i*chans+c]) / scale
		}
	}

	return w, nil
}

func toPCM16(x float64) int {
	if x > 1 {
		x = 1
	} else if x < -1 {
		x = -1
	}
	return int(math.Round(x * 32767))
}
