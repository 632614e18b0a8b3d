// Package outlier removes unreliable source/target frame mappings before a
// codebook is built. Two stages run in a fixed order: a Gaussian stage that
// clips per-channel statistical outliers, then a K-means stage that removes
// mappings whose source and target sides disagree about cluster membership.
package outlier

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/maastricht-university/codebook-trainer/features"
)

// Channel names one acoustic feature stream.
type Channel string

const (
	Lsf      Channel = "lsf"
	F0       Channel = "f0"
	Energy   Channel = "energy"
	Duration Channel = "duration"
)

// Channels lists every channel in canonical order.
var Channels = []Channel{Lsf, F0, Energy, Duration}

func (c Channel) IsValid() bool {
	switch c {
	case Lsf, F0, Energy, Duration:
		return true
	}
	return false
}

// ChannelSet enables channels individually.
type ChannelSet struct {
	Lsf      bool `yaml:"lsf"`
	F0       bool `yaml:"f0"`
	Energy   bool `yaml:"energy"`
	Duration bool `yaml:"duration"`
}

// Enabled returns the enabled channels in canonical order.
func (s ChannelSet) Enabled() []Channel {
	var out []Channel
	for _, c := range Channels {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Has reports whether c is enabled.
func (s ChannelSet) Has(c Channel) bool {
	switch c {
	case Lsf:
		return s.Lsf
	case F0:
		return s.F0
	case Energy:
		return s.Energy
	case Duration:
		return s.Duration
	}
	return false
}

// Deviations holds standard deviation multipliers per channel. General
// applies to joint clustering.
type Deviations struct {
	Lsf      float64 `yaml:"lsf"`
	F0       float64 `yaml:"f0"`
	Energy   float64 `yaml:"energy"`
	Duration float64 `yaml:"duration"`
	General  float64 `yaml:"general"`
}

// For returns the multiplier of channel c.
func (d Deviations) For(c Channel) float64 {
	switch c {
	case Lsf:
		return d.Lsf
	case F0:
		return d.F0
	case Energy:
		return d.Energy
	case Duration:
		return d.Duration
	}
	return d.General
}

// ClusterCounts holds per-channel cluster counts for separate clustering.
type ClusterCounts struct {
	Lsf      int `yaml:"lsf"`
	F0       int `yaml:"f0"`
	Energy   int `yaml:"energy"`
	Duration int `yaml:"duration"`
}

// For returns the cluster count of channel c.
func (n ClusterCounts) For(c Channel) int {
	switch c {
	case Lsf:
		return n.Lsf
	case F0:
		return n.F0
	case Energy:
		return n.Energy
	case Duration:
		return n.Duration
	}
	return 0
}

// GaussianParams configures the Gaussian stage.
type GaussianParams struct {
	Active     bool       `yaml:"active"`
	Check      ChannelSet `yaml:"check"`
	Deviations Deviations `yaml:"deviations"`

	// Mappings whose source/target delta on TooSimilarChannel is below
	// TooSimilarThreshold carry no conversion information.
	TooSimilar          bool    `yaml:"eliminate_too_similar"`
	TooSimilarChannel   Channel `yaml:"too_similar_channel"`
	TooSimilarThreshold float64 `yaml:"too_similar_threshold"`
}

// Strategy selects the K-means elimination algorithm.
type Strategy string

const (
	LeastLikely            Strategy = "least-likely"
	MeanDistanceMismatch   Strategy = "mean-distance-mismatch"
	SubclusterMeanDistance Strategy = "subcluster-mean-distance"
)

func (s Strategy) IsValid() bool {
	switch s {
	case LeastLikely, MeanDistanceMismatch, SubclusterMeanDistance:
		return true
	}
	return false
}

// Metric selects the clustering distance.
type Metric string

const (
	Euclidean           Metric = "euclidean"
	NormalizedEuclidean Metric = "normalized-euclidean"
)

func (m Metric) IsValid() bool { return m == Euclidean || m == NormalizedEuclidean }

// VarianceMode selects the variance that normalizes distances.
type VarianceMode string

const (
	GlobalVariance     VarianceMode = "global"
	PerClusterVariance VarianceMode = "per-cluster"
)

func (v VarianceMode) IsValid() bool { return v == GlobalVariance || v == PerClusterVariance }

// KMeansParams configures the K-means stage.
type KMeansParams struct {
	Active   bool         `yaml:"active"`
	Strategy Strategy     `yaml:"strategy"`
	Metric   Metric       `yaml:"metric"`
	Variance VarianceMode `yaml:"variance"`

	// Separate clusters every enabled channel on its own, using Clusters
	// and the per-channel Deviations. Otherwise the enabled channels are
	// concatenated and clustered into NumClusters with Deviations.General.
	Separate    bool          `yaml:"separate_clustering"`
	NumClusters int           `yaml:"num_clusters"`
	Clusters    ClusterCounts `yaml:"clusters"`
	Check       ChannelSet    `yaml:"check"`
	Deviations  Deviations    `yaml:"deviations"`

	// EliminationLikelihood is the fraction dropped per cluster by
	// LeastLikely.
	EliminationLikelihood float64 `yaml:"elimination_likelihood"`

	NumSubClusters  int `yaml:"num_subclusters"`
	SubClusterDepth int `yaml:"subcluster_depth"`
	MaxIterations   int `yaml:"max_iterations"`
}

// delta is the per-mapping statistic of channel c tested by the Gaussian
// stage. ok is false when the channel does not apply (unvoiced F0).
func delta(m features.Mapping, c Channel) (d float64, ok bool) {
	switch c {
	case Lsf:
		return floats.Distance(m.Source.Lsf, m.Target.Lsf, 2), true
	case F0:
		if m.Source.F0 <= 0 || m.Target.F0 <= 0 {
			return 0, false
		}
		return m.Target.F0 - m.Source.F0, true
	case Energy:
		return m.Target.Energy - m.Source.Energy, true
	case Duration:
		return m.Target.Duration - m.Source.Duration, true
	}
	panic(fmt.Sprintf("outlier: unknown channel %q", c))
}

// values returns the components of v belonging to the given channels.
func values(v features.Vector, chans []Channel) []float64 {
	var out []float64
	for _, c := range chans {
		switch c {
		case Lsf:
			out = append(out, v.Lsf...)
		case F0:
			out = append(out, v.F0)
		case Energy:
			out = append(out, v.Energy)
		case Duration:
			out = append(out, v.Duration)
		}
	}
	return out
}
