package audio

import (
	"math"
)

const (
	// DefaultHeadroomDB is the loudness headroom applied to every artifact.
	DefaultHeadroomDB = 16.0

	// energyFloor is the RMS below which a waveform is treated as silence and left untouched.
	energyFloor = 2e-3

	blockSeconds   = 0.4
	blockOverlap   = 0.75
	absoluteGateDB = -70.0
	relativeGateDB = -10.0
)

// Strategy is the normalization policy applied before a waveform is written.
type Strategy struct {
	// HeadroomDB is the distance in dB between 0 LUFS and the target loudness.
	HeadroomDB float64
	// Compressor soft-clips the gained signal with tanh.
	Compressor bool
}

// DefaultStrategy is loudness normalization to -16 LUFS with compression.
func DefaultStrategy() Strategy {
	return Strategy{HeadroomDB: DefaultHeadroomDB, Compressor: true}
}

// Normalize applies the strategy in place and returns the gain that was applied.
// Silent input (RMS under the energy floor) or input with no measurable loudness is left as is.
func (s Strategy) Normalize(w *Waveform) float64 {
	if w.RMS() < energyFloor {
		return 1
	}

	loudness := Loudness(w)
	if math.IsInf(loudness, 0) || math.IsNaN(loudness) {
		return 1
	}

	delta := -s.HeadroomDB - loudness
	gain := math.Pow(10, delta/20)

	w.Apply(func(x float64) float64 {
		x *= gain
		if s.Compressor {
			x = math.Tanh(x)
		}
		return x
	})

	return gain
}

// Loudness measures integrated loudness in LUFS following ITU-R BS.1770-4:
// K-weighting, 400 ms blocks with 75% overlap, absolute gate at -70 LUFS and a
// relative gate 10 LU below the ungated level. Signals shorter than one block are
// measured as a single block. Returns -Inf when everything is gated out.
func Loudness(w *Waveform) float64 {
	if w.NumSamples() == 0 || w.SampleRate <= 0 {
		return math.Inf(-1)
	}

	weighted := make([][]float64, w.NumChannels())
	for i, ch := range w.Channels {
		weighted[i] = kWeight(ch, float64(w.SampleRate))
	}

	blockLen := int(blockSeconds * float64(w.SampleRate))
	step := int(float64(blockLen) * (1 - blockOverlap))
	n := w.NumSamples()
	if blockLen > n || step == 0 {
		blockLen, step = n, n
	}

	var blocks [][]float64
	for start := 0; start+blockLen <= n; start += step {
		z := make([]float64, len(weighted))
		for c, ch := range weighted {
			var sum float64
			for _, s := range ch[start : start+blockLen] {
				sum += s * s
			}
			z[c] = sum / float64(blockLen)
		}
		blocks = append(blocks, z)
	}

	blockLoudness := func(z []float64) float64 {
		var sum float64
		for c, v := range z {
			sum += channelWeight(c) * v
		}
		return -0.691 + 10*math.Log10(sum)
	}

	gated := func(threshold float64) (float64, int) {
		var sum float64
		var count int
		for _, z := range blocks {
			if blockLoudness(z) <= threshold {
				continue
			}
			for c, v := range z {
				sum += channelWeight(c) * v
			}
			count++
		}
		return sum, count
	}

	sum, count := gated(absoluteGateDB)
	if count == 0 {
		return math.Inf(-1)
	}
	relative := -0.691 + 10*math.Log10(sum/float64(count)) + relativeGateDB

	sum, count = gated(relative)
	if count == 0 {
		return math.Inf(-1)
	}
	return -0.691 + 10*math.Log10(sum/float64(count))
}

// channelWeight is G_i: 1.0 for the first three channels, 1.41 for surrounds.
func channelWeight(c int) float64 {
	if c < 3 {
		return 1.0
	}
	return 1.41
}

// kWeight runs the two-stage K-weighting pre-filter (high shelf then high pass).
// Coefficients are derived for the given rate from the analog prototype.
func kWeight(x []float64, rate float64) []float64 {
	// stage 1: high shelf
	f0 := 1681.974450955533
	g := 3.999843853973347
	q := 0.7071752369554196
	k := math.Tan(math.Pi * f0 / rate)
	vh := math.Pow(10, g/20)
	vb := math.Pow(vh, 0.4996667741545416)
	a0 := 1 + k/q + k*k
	shelf := biquad{
		b0: (vh + vb*k/q + k*k) / a0,
		b1: 2 * (k*k - vh) / a0,
		b2: (vh - vb*k/q + k*k) / a0,
		a1: 2 * (k*k - 1) / a0,
		a2: (1 - k/q + k*k) / a0,
	}

	// stage 2: high pass
	f0 = 38.13547087602444
	q = 0.5003270373238773
	k = math.Tan(math.Pi * f0 / rate)
	a0 = 1 + k/q + k*k
	highpass := biquad{
		b0: 1,
		b1: -2,
		b2: 1,
		a1: 2 * (k*k - 1) / a0,
		a2: (1 - k/q + k*k) / a0,
	}

	return highpass.filter(shelf.filter(x))
}

type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// filter runs the direct form I difference equation.
func (f biquad) filter(x []float64) []float64 {
	y := make([]float64, len(x))
	var x1, x2, y1, y2 float64
	for i, in := range x {
		out := f.b0*in + f.b1*x1 + f.b2*x2 - f.a1*y1 - f.a2*y2
		x2, x1 = x1, in
		y2, y1 = y1, out
		y[i] = out
	}
	return y
}
