package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/maastricht-university/codebook-trainer/codebook"
	"github.com/maastricht-university/codebook-trainer/errs"
	"github.com/maastricht-university/codebook-trainer/outlier"
)

// RunSummary is written next to the codebook. It is the only artifact that
// carries a timestamp.
type RunSummary struct {
	RunID        string                 `json:"run_id"`
	GeneratedAt  time.Time              `json:"generated_at"`
	SourceFolder string                 `json:"source_folder"`
	TargetFolder string                 `json:"target_folder"`
	SourceTag    string                 `json:"source_tag"`
	TargetTag    string                 `json:"target_tag"`
	Mode         codebook.Mode          `json:"mode"`
	Codebook     string                 `json:"codebook"`
	PitchMapping string                 `json:"pitch_mapping"`
	IndexMap     []int                  `json:"index_map"`
	Items        int                    `json:"items"`
	Mappings     int                    `json:"mappings"`
	Entries      int                    `json:"entries"`
	Stages       []outlier.StageSummary `json:"stages"`
	Pairing      []string               `json:"pairing_warnings,omitempty"`
	Warnings     []string               `json:"warnings,omitempty"`
	ItemErrors   []string               `json:"item_errors,omitempty"`
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &errs.IOError{Path: path, Err: err}
	}
	f, err := os.Create(path)
	if err != nil {
		return &errs.IOError{Path: path, Err: err}
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		os.Remove(path)
		return &errs.IOError{Path: path, Err: err}
	}
	return nil
}

func (p *Pipeline) persist(cb *codebook.Codebook, pm *codebook.PitchMapping, res *Result) error {
	res.Codebook = p.cfg.CodebookPath()
	res.Pitch = p.cfg.PitchPath()
	if err := codebook.WriteFile(res.Codebook, cb); err != nil {
		return err
	}
	if err := codebook.WritePitchMappingFile(res.Pitch, pm); err != nil {
		return err
	}
	if !p.cfg.Output.Summary {
		return nil
	}

	res.Summary = p.cfg.SummaryPath()
	summary := RunSummary{
		RunID:        res.RunID,
		GeneratedAt:  time.Now().UTC(),
		SourceFolder: p.cfg.Corpus.SourceFolder,
		TargetFolder: p.cfg.Corpus.TargetFolder,
		SourceTag:    p.cfg.Output.SourceTag,
		TargetTag:    p.cfg.Output.TargetTag,
		Mode:         p.cfg.Training.Mode,
		Codebook:     res.Codebook,
		PitchMapping: res.Pitch,
		IndexMap:     res.Pairing.Map,
		Items:        res.Items,
		Mappings:     res.Mappings,
		Entries:      res.Entries,
		Stages:       res.Stages,
		Pairing:      res.Pairing.Warnings,
		Warnings:     messages(res.Warnings),
		ItemErrors:   messages(res.ItemErrors),
	}
	return writeJSON(res.Summary, summary)
}
