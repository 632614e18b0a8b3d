package outlier

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/maastricht-university/codebook-trainer/features"
)

// Bound is the accepted delta range of one channel: the fitted normal's
// mean plus or minus K standard deviations.
type Bound struct {
	Model distuv.Normal
	K     float64
}

func (b Bound) Lo() float64 { return b.Model.Mu - b.K*b.Model.Sigma }
func (b Bound) Hi() float64 { return b.Model.Mu + b.K*b.Model.Sigma }

// Contains reports whether d lies inside the bound, edges included.
func (b Bound) Contains(d float64) bool { return d >= b.Lo() && d <= b.Hi() }

// GaussianLimits holds the thresholds of one Gaussian pass. Channels without
// spread have no entry and never eliminate.
type GaussianLimits struct {
	Params GaussianParams
	Bounds map[Channel]Bound
}

// FitGaussian estimates per-channel bounds from the deltas of all mappings
// in ms.
func FitGaussian(ms []features.Mapping, p GaussianParams) GaussianLimits {
	l := GaussianLimits{Params: p, Bounds: map[Channel]Bound{}}
	for _, c := range p.Check.Enabled() {
		if n, ok := fitChannel(ms, c); ok {
			l.Bounds[c] = Bound{Model: n, K: p.Deviations.For(c)}
		}
	}
	return l
}

// Keep returns a keep-mask over ms. A mapping is dropped when it fails the
// too-similar check or its delta on any bounded channel falls outside the
// bound. Each mapping is judged on its own, so applying the same limits to
// their own output drops nothing.
func (l GaussianLimits) Keep(ms []features.Mapping) []bool {
	p := l.Params
	keep := make([]bool, len(ms))
	for i, m := range ms {
		keep[i] = true
		if p.TooSimilar && p.TooSimilarChannel.IsValid() {
			if d, ok := delta(m, p.TooSimilarChannel); ok && math.Abs(d) < p.TooSimilarThreshold {
				keep[i] = false
				continue
			}
		}
		for c, b := range l.Bounds {
			if d, ok := delta(m, c); ok && !b.Contains(d) {
				keep[i] = false
				break
			}
		}
	}
	return keep
}

// Gaussian fits the limits on ms and applies them in a single pass.
func Gaussian(ms []features.Mapping, p GaussianParams) []bool {
	return FitGaussian(ms, p).Keep(ms)
}

// fitChannel fits a normal to the deltas of channel c. ok is false when
// there is no spread to test against.
func fitChannel(ms []features.Mapping, c Channel) (distuv.Normal, bool) {
	var vals []float64
	for _, m := range ms {
		if d, ok := delta(m, c); ok {
			vals = append(vals, d)
		}
	}
	if len(vals) < 2 {
		return distuv.Normal{}, false
	}
	mean, std := stat.MeanStdDev(vals, nil)
	if math.IsNaN(std) || std <= 1e-12*(1+math.Abs(mean)) {
		return distuv.Normal{}, false
	}
	return distuv.Normal{Mu: mean, Sigma: std}, true
}
