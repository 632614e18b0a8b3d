// Package features is the boundary to the external acoustic analyser. It
// defines the per-recording analysis a trainer consumes, reads it from the
// analyser's sidecar files, caches it, and aligns source and target analyses
// into frame mappings.
package features

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// LsfParams describes the spectral envelope analysis.
type LsfParams struct {
	Order      int     `yaml:"order"`
	PreCoef    float64 `yaml:"pre_coef"`
	WindowSize float64 `yaml:"window_size"` // seconds
	SkipSize   float64 `yaml:"skip_size"`   // seconds
	WindowType string  `yaml:"window_type"`
}

// PitchParams describes the F0 analysis.
type PitchParams struct {
	WindowSize          float64 `yaml:"window_size"`
	SkipSize            float64 `yaml:"skip_size"`
	VoicingThreshold    float64 `yaml:"voicing_threshold"`
	MinF0               float64 `yaml:"min_f0"`
	MaxF0               float64 `yaml:"max_f0"`
	DoublingCheck       bool    `yaml:"doubling_check"`
	HalvingCheck        bool    `yaml:"halving_check"`
	CenterClippingRatio float64 `yaml:"center_clipping_ratio"`
}

// EnergyParams describes the short-time energy analysis.
type EnergyParams struct {
	WindowSize float64 `yaml:"window_size"`
	SkipSize   float64 `yaml:"skip_size"`
}

// Params groups all analysis parameters. It is owned by the configuration
// and passed in read-only.
type Params struct {
	Lsf    LsfParams    `yaml:"lsf"`
	Pitch  PitchParams  `yaml:"pitch"`
	Energy EnergyParams `yaml:"energy"`
}

// Fingerprint identifies p in cache keys.
func (p Params) Fingerprint() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%+v", p)))
	return hex.EncodeToString(sum[:8])
}

// Label is one phonetic segment; it spans from the previous label's End.
type Label struct {
	End   float64 `msgpack:"end"` // seconds
	Phone string  `msgpack:"phone"`
}

// Analysis is what the external analyser produces for one recording.
// Streams may run at different frame rates; see Params.
type Analysis struct {
	Lsfs    [][]float64 `msgpack:"lsfs"`
	F0      []float64   `msgpack:"f0"`
	Voicing []float64   `msgpack:"voicing,omitempty"`
	Energy  []float64   `msgpack:"energy"`
	Labels  []Label     `msgpack:"labels,omitempty"`
}

// NumFrames returns the number of spectral frames.
func (a *Analysis) NumFrames() int { return len(a.Lsfs) }

// LabelStart returns the start time of label i.
func (a *Analysis) LabelStart(i int) float64 {
	if i <= 0 {
		return 0
	}
	return a.Labels[i-1].End
}

// Validate checks that a has spectral frames and, when order is positive,
// that every frame carries order LSFs.
func (a *Analysis) Validate(order int) error {
	if a.NumFrames() == 0 {
		return errors.New("features: no spectral frames")
	}
	for i, row := range a.Lsfs {
		if order > 0 && len(row) != order {
			return fmt.Errorf("features: frame %d has %d LSFs, want %d", i, len(row), order)
		}
	}
	return nil
}

// Extractor produces the analysis of one recording.
type Extractor interface {
	Extract(ctx context.Context, path string) (*Analysis, error)
}

// Vector is one side of a mapping.
type Vector struct {
	Lsf      []float64
	F0       float64 // Hz, 0 when unvoiced
	Energy   float64
	Duration float64 // seconds
}

// Mapping pairs a source vector with a target vector.
type Mapping struct {
	Item   int // index into the source set
	Frame  int
	Label  int // source label index, -1 without labels
	Source Vector
	Target Vector
	Weight float64
}

// Average returns the mean of vs. F0 is averaged over voiced vectors only.
func Average(vs []Vector) Vector {
	if len(vs) == 0 {
		return Vector{}
	}
	var out Vector
	out.Lsf = make([]float64, len(vs[0].Lsf))
	voiced := 0
	for _, v := range vs {
		floats.Add(out.Lsf, v.Lsf)
		out.Energy += v.Energy
		out.Duration += v.Duration
		if v.F0 > 0 {
			out.F0 += v.F0
			voiced++
		}
	}
	n := float64(len(vs))
	floats.Scale(1/n, out.Lsf)
	out.Energy /= n
	out.Duration /= n
	if voiced > 0 {
		out.F0 /= float64(voiced)
	}
	return out
}
