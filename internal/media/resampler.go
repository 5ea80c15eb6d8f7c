package media

// Resampler performs stateful linear-interpolation resampling of mono
// PCM16 audio between the local audio device's sample rate and the
// negotiated codec's clock rate. This is plain arithmetic over a fixed
// algorithm with no third-party library behind it (see DESIGN.md).
//
// State carries the fractional position and last input sample across
// calls so that back-to-back 20ms frames resample without clicks at
// frame boundaries.
type Resampler struct {
	inRate  int
	outRate int

	pos      float64 // fractional read position into the pending input
	lastSamp int16   // last sample of the previous input, for interpolation across calls
}

// NewResampler constructs a resampler converting between inRate and
// outRate, both in Hz.
func NewResampler(inRate, outRate int) *Resampler {
	return &Resampler{inRate: inRate, outRate: outRate}
}

// Process resamples in to the output rate, returning a newly allocated
// slice. If the rates are equal, in is returned unchanged (aliased).
func (r *Resampler) Process(in []int16) []int16 {
	if r.inRate == r.outRate || len(in) == 0 {
		return in
	}

	ratio := float64(r.inRate) / float64(r.outRate)
	outLen := int(float64(len(in)) * float64(r.outRate) / float64(r.inRate))
	out := make([]int16, outLen)

	prev := r.lastSamp
	pos := r.pos

	for i := 0; i < outLen; i++ {
		idx := int(pos)
		frac := pos - float64(idx)

		var s0, s1 int16
		if idx <= 0 {
			s0 = prev
		} else if idx-1 < len(in) {
			s0 = in[idx-1]
		} else {
			s0 = in[len(in)-1]
		}
		if idx < len(in) {
			s1 = in[idx]
		} else {
			s1 = in[len(in)-1]
		}

		out[i] = int16(float64(s0) + frac*float64(s1-s0))
		pos += ratio
	}

	r.pos = pos - float64(len(in))
	if r.pos < 0 {
		r.pos = 0
	}
	r.lastSamp = in[len(in)-1]
	return out
}
