package orchestrator

import (
	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/codebook-trainer/codebook"
	"github.com/maastricht-university/codebook-trainer/errs"
	"github.com/maastricht-university/codebook-trainer/features"
)

// collect aligns every analysed item pair and gathers the label and pitch
// data the builder and the pitch trainer need. Label modes pair items label
// by label; items whose label sequences are missing or differ are skipped.
// Items are visited in source order, so the mappings come out in source
// traversal order.
func (p *Pipeline) collect(items []analysed, res *Result) ([]features.Mapping, map[int]codebook.ItemLabels, []codebook.PitchContour) {
	var (
		ms       []features.Mapping
		labels   = make(map[int]codebook.ItemLabels, len(items))
		contours []codebook.PitchContour
	)
	ap := features.AlignParams{Params: p.cfg.Features}
	if p.cfg.Training.Mode == codebook.FrameNeighbourhood {
		ap.Neighbours = p.cfg.Training.FrameNeighbours
	}
	pitch := p.cfg.Features.Pitch
	for _, it := range items {
		var (
			aligned []features.Mapping
			err     error
		)
		if p.cfg.Training.Mode.NeedsLabels() {
			aligned, err = features.AlignLabels(it.index, it.src, it.tgt, ap)
		} else {
			aligned = features.Align(it.index, it.src, it.tgt, ap)
		}
		if err != nil {
			ierr := &errs.ItemError{Item: it.name, Err: err}
			p.log.WithField("item", it.name).Warn(ierr)
			res.ItemErrors = append(res.ItemErrors, ierr)
			continue
		}
		p.log.WithFields(logrus.Fields{
			"item":     it.name,
			"source":   it.src.NumFrames(),
			"target":   it.tgt.NumFrames(),
			"mappings": len(aligned),
		}).Debug("item aligned")
		if len(aligned) == 0 {
			continue
		}
		ms = append(ms, aligned...)
		labels[it.index] = codebook.ItemLabels{Source: it.src.Labels, Target: it.tgt.Labels}
		contours = append(contours, codebook.PitchContour{
			Name:   it.name,
			Source: pitch.Clean(it.src.F0, it.src.Voicing),
			Target: pitch.Clean(it.tgt.F0, it.tgt.Voicing),
		})
		res.Items++
	}
	return ms, labels, contours
}

func messages(list []error) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, len(list))
	for i, err := range list {
		out[i] = err.Error()
	}
	return out
}
