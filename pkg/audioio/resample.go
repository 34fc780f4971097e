package audioio

import "math"

// Resampler is a streaming linear resampler. It keeps its position and
// the last input sample between calls, so feeding it
// consecutive device buffers produces a continuous signal with no seam at
// buffer boundaries.
type Resampler struct {
	from, to int
	step     float64 // input samples per output sample
	pos      float64 // next output position, relative to the start of the pending input
	last     float32 // last sample of the previous buffer
	primed   bool
}

// NewResampler creates a resampler from one rate to another.
func NewResampler(fromRate, toRate int) *Resampler {
	return &Resampler{
		from: fromRate,
		to:   toRate,
		step: float64(fromRate) / float64(toRate),
	}
}

// Process resamples one buffer of mono samples.
func (r *Resampler) Process(in []float32) []float32 {
	if r.from == r.to {
		out := make([]float32, len(in))
		copy(out, in)
		return out
	}
	if len(in) == 0 {
		return nil
	}

	// Position -1 refers to r.last; the first buffer has no history, so it
	// starts at its own first sample.
	if !r.primed {
		r.last = in[0]
		r.primed = true
	}

	out := make([]float32, 0, int(float64(len(in))/r.step)+1)
	at := func(i int) float32 {
		if i < 0 {
			return r.last
		}
		return in[i]
	}

	n := float64(len(in) - 1)
	for r.pos <= n {
		idx := int(r.pos)
		if r.pos < 0 {
			idx = -1
		}
		frac := float32(r.pos - float64(idx))
		s1 := at(idx)
		s2 := s1
		if idx+1 <= len(in)-1 {
			s2 = at(idx + 1)
		}
		out = append(out, s1+frac*(s2-s1))
		r.pos += r.step
	}

	r.pos -= float64(len(in))
	r.last = in[len(in)-1]
	return out
}

// ProcessInt16 resamples one buffer of PCM16 samples. It shares position
// and history with Process, so a stream must use one or the other.
func (r *Resampler) ProcessInt16(in []int16) []int16 {
	f := make([]float32, len(in))
	for i, s := range in {
		f[i] = float32(s)
	}
	res := r.Process(f)
	out := make([]int16, len(res))
	for i, s := range res {
		out[i] = int16(math.Round(float64(s)))
	}
	return out
}

// Reset clears the resampler history.
func (r *Resampler) Reset() {
	r.pos = 0
	r.last = 0
	r.primed = false
}

// Downmix averages interleaved multi-channel samples to mono.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	mono := make([]float32, len(samples)/channels)
	for i := range mono {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += samples[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// Float32ToInt16 quantizes samples in [-1, 1] to PCM16, clipping anything
// outside that range.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		switch {
		case s >= 1:
			out[i] = 32767
		case s <= -1:
			out[i] = -32768
		default:
			out[i] = int16(s * 32767)
		}
	}
	return out
}

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// MonoToStereo duplicates mono samples to stereo.
func MonoToStereo(samples []int16) []int16 {
	stereo := make([]int16, len(samples)*2)
	for i, s := range samples {
		stereo[i*2] = s
		stereo[i*2+1] = s
	}
	return stereo
}

// CalculateRMS calculates the root mean square of samples.
// Returns a value between 0.0 and 1.0.
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}

	rms := sum / float64(len(samples))
	// Normalize to 0-1 range (32767^2 = max possible)
	return rms / (32767 * 32767)
}
