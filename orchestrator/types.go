package orchestrator

import (
	"github.com/maastricht-university/codebook-trainer/corpus"
	"github.com/maastricht-university/codebook-trainer/features"
	"github.com/maastricht-university/codebook-trainer/outlier"
)

// Result describes a finished training run.
type Result struct {
	RunID string

	// Artifact paths. Summary is empty when summaries are disabled.
	Codebook string
	Pitch    string
	Summary  string

	Pairing  *corpus.Pairing
	Items    int // item pairs that contributed mappings
	Mappings int // aligned mappings before elimination
	Entries  int
	Stages   []outlier.StageSummary

	// Warnings holds *errs.EliminationWarning values; ItemErrors holds
	// *errs.ItemError values for skipped recordings.
	Warnings   []error
	ItemErrors []error

	CacheHits, CacheMisses int64
}

// analysed is one item pair that made it through feature extraction.
type analysed struct {
	index    int
	name     string
	src, tgt *features.Analysis
}
