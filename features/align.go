package features

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrLabelMismatch is returned by AlignLabels when the source and target
// label sequences differ.
var ErrLabelMismatch = errors.New("label sequences differ")

// AlignParams controls Align.
type AlignParams struct {
	Params Params

	// Neighbours is the odd number of frames averaged around each frame
	// before pairing. Values below 2 disable averaging.
	Neighbours int
}

// Align pairs the frames of a source and a target analysis of the same
// utterance. Frames are paired by index and the longer side is truncated.
// item is recorded in every mapping.
func Align(item int, src, tgt *Analysis, p AlignParams) []Mapping {
	n := min(src.NumFrames(), tgt.NumFrames())
	if n == 0 {
		return nil
	}
	sv := frameVectors(src, p.Params)
	tv := frameVectors(tgt, p.Params)
	if p.Neighbours > 1 {
		sv = smooth(sv, p.Neighbours/2)
		tv = smooth(tv, p.Neighbours/2)
	}
	out := make([]Mapping, n)
	for i := 0; i < n; i++ {
		out[i] = Mapping{
			Item:   item,
			Frame:  i,
			Label:  labelAt(src, frameTime(i, p.Params.Lsf)),
			Source: sv[i],
			Target: tv[i],
			Weight: 1,
		}
	}
	return out
}

// AlignLabels pairs a source and a target analysis label by label. For label
// i the source frames inside source label i are averaged against the target
// frames inside target label i, so differing phone timing does not shift the
// pairing. Both sides must carry the same phone sequence. Frame holds the
// label index and Duration the label's own length on each side.
func AlignLabels(item int, src, tgt *Analysis, p AlignParams) ([]Mapping, error) {
	if len(src.Labels) == 0 || len(tgt.Labels) == 0 {
		return nil, errors.New("no phonetic labels")
	}
	if len(src.Labels) != len(tgt.Labels) {
		return nil, fmt.Errorf("%w: %d source labels, %d target labels", ErrLabelMismatch, len(src.Labels), len(tgt.Labels))
	}
	if src.NumFrames() == 0 || tgt.NumFrames() == 0 {
		return nil, nil
	}
	for i := range src.Labels {
		if s, t := src.Labels[i].Phone, tgt.Labels[i].Phone; s != t {
			return nil, fmt.Errorf("%w: label %d is %q in source, %q in target", ErrLabelMismatch, i, s, t)
		}
	}
	sv := labelVectors(src, p.Params)
	tv := labelVectors(tgt, p.Params)
	out := make([]Mapping, len(sv))
	for i := range sv {
		out[i] = Mapping{Item: item, Frame: i, Label: i, Source: sv[i], Target: tv[i], Weight: 1}
	}
	return out, nil
}

// labelVectors averages the frames of a inside each of its labels. A label
// too short to contain a frame centre takes the frame nearest its middle.
func labelVectors(a *Analysis, p Params) []Vector {
	fv := frameVectors(a, p)
	groups := make([][]Vector, len(a.Labels))
	for i, v := range fv {
		l := labelAt(a, frameTime(i, p.Lsf))
		groups[l] = append(groups[l], v)
	}
	out := make([]Vector, len(a.Labels))
	for l, g := range groups {
		if len(g) == 0 {
			mid := (a.LabelStart(l) + a.Labels[l].End) / 2
			g = fv[sampleIndex(mid, p.Lsf.WindowSize, p.Lsf.SkipSize, 0, len(fv)):][:1]
		}
		out[l] = Average(g)
		out[l].Duration = a.Labels[l].End - a.LabelStart(l)
	}
	return out
}

// frameTime returns the centre of spectral frame i in seconds.
func frameTime(i int, lp LsfParams) float64 {
	return float64(i)*lp.SkipSize + lp.WindowSize/2
}

// sampleIndex maps a time to the nearest frame of a stream with the given
// window and skip sizes, clamped to [0, n).
func sampleIndex(t, win, skip float64, fallback, n int) int {
	if n == 0 {
		return -1
	}
	j := fallback
	if skip > 0 {
		j = int(math.Round((t - win/2) / skip))
	}
	return max(0, min(j, n-1))
}

func frameVectors(a *Analysis, p Params) []Vector {
	f0 := p.Pitch.Clean(a.F0, a.Voicing)
	out := make([]Vector, a.NumFrames())
	for i := range out {
		t := frameTime(i, p.Lsf)
		v := Vector{Lsf: append([]float64(nil), a.Lsfs[i]...), Duration: p.Lsf.SkipSize}
		if j := sampleIndex(t, p.Pitch.WindowSize, p.Pitch.SkipSize, i, len(f0)); j >= 0 {
			v.F0 = f0[j]
		}
		if j := sampleIndex(t, p.Energy.WindowSize, p.Energy.SkipSize, i, len(a.Energy)); j >= 0 {
			v.Energy = a.Energy[j]
		}
		if l := labelAt(a, t); l >= 0 {
			v.Duration = a.Labels[l].End - a.LabelStart(l)
		}
		out[i] = v
	}
	return out
}

// labelAt returns the index of the label covering t, the last label for
// times past the end, or -1 without labels.
func labelAt(a *Analysis, t float64) int {
	if len(a.Labels) == 0 {
		return -1
	}
	i := sort.Search(len(a.Labels), func(i int) bool { return a.Labels[i].End >= t })
	return min(i, len(a.Labels)-1)
}

// smooth replaces every vector by the average of the vectors within half
// frames on either side.
func smooth(vs []Vector, half int) []Vector {
	out := make([]Vector, len(vs))
	for i := range vs {
		lo := max(0, i-half)
		hi := min(len(vs), i+half+1)
		out[i] = Average(vs[lo:hi])
	}
	return out
}
