package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/maastricht-university/codebook-trainer/cache"
	"github.com/maastricht-university/codebook-trainer/codebook"
	cfg "github.com/maastricht-university/codebook-trainer/config"
	"github.com/maastricht-university/codebook-trainer/corpus"
	"github.com/maastricht-university/codebook-trainer/errs"
	"github.com/maastricht-university/codebook-trainer/features"
	"github.com/maastricht-university/codebook-trainer/outlier"
)

type Pipeline struct {
	cfg       *cfg.Root
	extractor features.Extractor
	log       logrus.FieldLogger
}

// NewPipeline returns a training pipeline. A nil extractor reads the
// analyser's sidecar files; a nil logger discards output.
func NewPipeline(c *cfg.Root, ex features.Extractor, log logrus.FieldLogger) *Pipeline {
	if ex == nil {
		ex = features.Sidecar{Params: c.Features}
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Pipeline{cfg: c, extractor: ex, log: log}
}

// Run trains one codebook. Configuration problems are reported before any
// recording is analysed. Recordings that cannot be used are skipped and
// listed in Result.ItemErrors.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if err := p.cfg.Validate(); err != nil {
		return nil, err
	}
	res := &Result{RunID: uuid.NewString()}
	log := p.log.WithField("run", res.RunID)

	src, err := corpus.Load(p.cfg.Corpus.SourceFolder, p.cfg.Corpus.Extension)
	if err != nil {
		return nil, err
	}
	tgt, err := corpus.Load(p.cfg.Corpus.TargetFolder, p.cfg.Corpus.Extension)
	if err != nil {
		return nil, err
	}
	pairing, err := corpus.MapIndices(src, tgt, p.cfg.Corpus.Pairing)
	if err != nil {
		return nil, err
	}
	res.Pairing = pairing
	for _, w := range pairing.Warnings {
		log.Warn(w)
	}
	if pairing.Map.Matched() == 0 {
		return nil, errs.Config("corpus", "none of %d source recordings has a target counterpart", src.Len())
	}
	log.WithFields(logrus.Fields{
		"source":  src.Len(),
		"target":  tgt.Len(),
		"matched": pairing.Map.Matched(),
	}).Info("corpus loaded")

	store, err := p.openCache()
	if err != nil {
		return nil, err
	}
	defer store.Close()
	ex := &features.Cached{
		Extractor: p.extractor,
		Store:     store,
		Params:    p.cfg.Features,
		Force:     p.cfg.Analysis.Forced,
	}
	items, err := p.analyse(ctx, ex, src, tgt, pairing.Map, res)
	if err != nil {
		return nil, err
	}
	res.CacheHits, res.CacheMisses = ex.Stats()

	ms, labels, contours := p.collect(items, res)
	if res.Items == 0 {
		return nil, errors.Join(append([]error{errs.Config("corpus", "no usable item pairs")}, res.ItemErrors...)...)
	}
	res.Mappings = len(ms)
	log.WithFields(logrus.Fields{"items": res.Items, "mappings": len(ms)}).Info("aligned")

	elim := outlier.Pipeline{
		Gaussian: p.cfg.Gaussian,
		KMeans:   p.cfg.KMeans,
		Seed:     p.cfg.Training.Seed,
		Log:      log,
	}
	kept, stages, warnings := elim.Run(ms)
	res.Stages = stages
	res.Warnings = warnings
	for _, w := range warnings {
		log.Warn(w)
	}

	cb := &codebook.Codebook{
		Header: codebook.Header{
			Mode:            p.cfg.Training.Mode,
			SourceTag:       p.cfg.Output.SourceTag,
			TargetTag:       p.cfg.Output.TargetTag,
			LsfOrder:        p.cfg.Features.Lsf.Order,
			FrameNeighbours: p.cfg.Training.FrameNeighbours,
			LabelNeighbours: p.cfg.Training.LabelNeighbours,
			NumItems:        res.Items,
			NumMappings:     len(ms),
			Seed:            p.cfg.Training.Seed,
			Params:          p.cfg.Features,
			Stages:          stages,
		},
		Entries: codebook.Build(kept, labels, codebook.BuildParams{
			Mode:            p.cfg.Training.Mode,
			LabelNeighbours: p.cfg.Training.LabelNeighbours,
		}),
	}
	res.Entries = len(cb.Entries)

	if err := p.persist(cb, codebook.TrainPitch(contours), res); err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"entries":  res.Entries,
		"codebook": res.Codebook,
	}).Info("training completed")
	return res, nil
}

func (p *Pipeline) openCache() (cache.Store, error) {
	if p.cfg.Analysis.CacheDir == "" {
		return cache.NewMemory(), nil
	}
	s, err := cache.NewBadger(cache.BadgerOptions{Dir: p.cfg.Analysis.CacheDir, Log: p.log})
	if err != nil {
		return nil, fmt.Errorf("open feature cache: %w", err)
	}
	return s, nil
}

// analyse extracts every matched item pair on a bounded worker pool. Results
// are returned in source order; failed items are recorded in res.ItemErrors.
func (p *Pipeline) analyse(ctx context.Context, ex features.Extractor, src, tgt *corpus.Set, m corpus.IndexMap, res *Result) ([]analysed, error) {
	slots := make([]*analysed, len(m))
	failures := make([]error, len(m))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.cfg.Analysis.Workers, 1))
	for i, j := range m {
		if j == corpus.Unmatched {
			continue
		}
		g.Go(func() error {
			s, t := src.Items[i], tgt.Items[j]
			sa, err := ex.Extract(gctx, s.Path)
			if err == nil {
				var ta *features.Analysis
				if ta, err = ex.Extract(gctx, t.Path); err == nil {
					slots[i] = &analysed{index: i, name: s.Name, src: sa, tgt: ta}
					return nil
				}
			}
			if cerr := gctx.Err(); cerr != nil {
				return cerr
			}
			failures[i] = &errs.ItemError{Item: s.Name, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []analysed
	for i, a := range slots {
		if failures[i] != nil {
			p.log.WithField("item", src.Items[i].Name).Warn(failures[i])
			res.ItemErrors = append(res.ItemErrors, failures[i])
			continue
		}
		if a != nil {
			src.Items[i].Analysis = a.src
			tgt.Items[m[i]].Analysis = a.tgt
			out = append(out, *a)
		}
	}
	return out, nil
}
