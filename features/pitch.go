package features

// Octave jump ratios used by the doubling and halving checks.
const (
	doublingRatio = 1.8
	halvingRatio  = 0.55
)

// Clean applies the voicing threshold, the octave checks and the F0 range to
// a raw contour. Rejected frames become 0 (unvoiced). voicing may be nil.
func (p PitchParams) Clean(f0, voicing []float64) []float64 {
	out := make([]float64, len(f0))
	prev := 0.0
	for i, v := range f0 {
		if v <= 0 {
			continue
		}
		if i < len(voicing) && voicing[i] < p.VoicingThreshold {
			continue
		}
		if prev > 0 {
			if p.DoublingCheck && v > doublingRatio*prev {
				v /= 2
			}
			if p.HalvingCheck && v < halvingRatio*prev {
				v *= 2
			}
		}
		if (p.MinF0 > 0 && v < p.MinF0) || (p.MaxF0 > 0 && v > p.MaxF0) {
			continue
		}
		out[i] = v
		prev = v
	}
	return out
}
