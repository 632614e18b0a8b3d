package outlier

import (
	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/codebook-trainer/errs"
	"github.com/maastricht-university/codebook-trainer/features"
)

// Stage names as they appear in summaries and codebook headers.
const (
	StageGaussian = "gaussian"
	StageKMeans   = "kmeans"
)

// StageSummary records what one stage did.
type StageSummary struct {
	Stage      string `json:"stage" yaml:"stage"`
	Active     bool   `json:"active" yaml:"active"`
	Input      int    `json:"input" yaml:"input"`
	Eliminated int    `json:"eliminated" yaml:"eliminated"`
}

// Pipeline runs the Gaussian stage followed by the K-means stage.
type Pipeline struct {
	Gaussian GaussianParams
	KMeans   KMeansParams
	Seed     uint64
	Log      logrus.FieldLogger
}

// Run filters ms and returns the survivors in their original order. A stage
// that removes every remaining mapping yields an *errs.EliminationWarning;
// the run still completes with an empty result.
func (p Pipeline) Run(ms []features.Mapping) ([]features.Mapping, []StageSummary, []error) {
	var (
		summary  []StageSummary
		warnings []error
	)
	stage := func(name string, active bool, mask func([]features.Mapping) []bool) {
		s := StageSummary{Stage: name, Active: active, Input: len(ms)}
		if active && len(ms) > 0 {
			ms = apply(ms, mask(ms))
			s.Eliminated = s.Input - len(ms)
			if len(ms) == 0 {
				warnings = append(warnings, &errs.EliminationWarning{Stage: name, Input: s.Input})
			}
		}
		if p.Log != nil {
			p.Log.WithFields(logrus.Fields{
				"stage":      name,
				"active":     active,
				"input":      s.Input,
				"eliminated": s.Eliminated,
			}).Info("outlier elimination")
		}
		summary = append(summary, s)
	}

	stage(StageGaussian, p.Gaussian.Active, func(ms []features.Mapping) []bool {
		return Gaussian(ms, p.Gaussian)
	})
	stage(StageKMeans, p.KMeans.Active, func(ms []features.Mapping) []bool {
		return KMeansStage(ms, p.KMeans, p.Seed)
	})
	return ms, summary, warnings
}

func apply(ms []features.Mapping, keep []bool) []features.Mapping {
	out := make([]features.Mapping, 0, len(ms))
	for i, m := range ms {
		if keep[i] {
			out = append(out, m)
		}
	}
	return out
}
