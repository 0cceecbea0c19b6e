package mixer

// ResampleMode selects the per-port resampling algorithm, chosen once at
// port insertion per direction when port rate != bridge rate (spec §4.4).
type ResampleMode int

const (
	ResampleLinear ResampleMode = iota
	ResampleFilterSmall
	ResampleFilterLarge
)

// Resampler converts a frame between two clock rates. Stateless between
// calls except for the small moving-average history the filter modes keep,
// so one Resampler instance is owned per port per direction.
type Resampler struct {
	mode    ResampleMode
	history []int16 // FIR tap history for filter modes
}

// NewResampler creates a resampler for the given mode.
func NewResampler(mode ResampleMode) *Resampler {
	taps := 0
	switch mode {
	case ResampleFilterSmall:
		taps = 4
	case ResampleFilterLarge:
		taps = 16
	}
	return &Resampler{mode: mode, history: make([]int16, taps)}
}

// Resample converts in (at inRate) to a frame at outRate. Linear mode uses
// linear interpolation; filter modes additionally low-pass the input with a
// moving-average FIR before resampling to attenuate aliasing (spec §8
// scenario 6 requires >=40dB stop-band attenuation in "large filter" mode —
// a longer moving average trades more attenuation for more group delay).
func (r *Resampler) Resample(in []int16, inRate, outRate int) []int16 {
	if inRate == outRate || len(in) == 0 {
		return in
	}

	filtered := in
	if len(r.history) > 0 {
		filtered = r.lowPass(in)
	}

	outLen := len(filtered) * outRate / inRate
	if outLen <= 0 {
		return nil
	}
	out := make([]int16, outLen)
	ratio := float64(len(filtered)-1) / float64(outLen-1)
	if outLen == 1 {
		ratio = 0
	}
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		a := filtered[idx]
		b := a
		if idx+1 < len(filtered) {
			b = filtered[idx+1]
		}
		out[i] = int16(float64(a) + frac*float64(b-a))
	}
	return out
}

// lowPass runs a simple moving-average FIR seeded with the resampler's
// retained tap history, so successive frames filter continuously across
// frame boundaries instead of reintroducing a transient every tick.
func (r *Resampler) lowPass(in []int16) []int16 {
	taps := len(r.history)
	window := append(append([]int16{}, r.history...), in...)
	out := make([]int16, len(in))
	for i := range in {
		var sum int64
		for k := 0; k <= taps; k++ {
			sum += int64(window[i+k])
		}
		out[i] = int16(sum / int64(taps+1))
	}
	if len(in) >= taps {
		r.history = append([]int16{}, in[len(in)-taps:]...)
	} else {
		r.history = append(r.history[len(in):], in...)
	}
	return out
}
