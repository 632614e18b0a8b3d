package orchestrator_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/codebook-trainer/codebook"
	"github.com/maastricht-university/codebook-trainer/config"
	"github.com/maastricht-university/codebook-trainer/errs"
	"github.com/maastricht-university/codebook-trainer/features"
	"github.com/maastricht-university/codebook-trainer/orchestrator"
)

type fakeExtractor struct {
	analyses map[string]*features.Analysis
	fail     map[string]error
}

func (f *fakeExtractor) Extract(_ context.Context, path string) (*features.Analysis, error) {
	if err, ok := f.fail[path]; ok {
		return nil, err
	}
	a, ok := f.analyses[path]
	if !ok {
		return nil, fmt.Errorf("no analysis for %s", path)
	}
	return a, nil
}

// analysis returns n frames of smooth two-dimensional LSFs with F0 at four
// times and energy at the spectral frame rate.
func analysis(n int, offset float64) *features.Analysis {
	a := &features.Analysis{}
	for i := 0; i < n; i++ {
		x := float64(i)
		a.Lsfs = append(a.Lsfs, []float64{0.3 + 0.01*math.Sin(x+offset), 0.9 + 0.01*math.Cos(x+offset)})
		a.Energy = append(a.Energy, 50+5*math.Sin(0.3*x+offset))
	}
	for i := 0; i < 4*n; i++ {
		a.F0 = append(a.F0, 120+10*math.Sin(0.1*float64(i)+offset))
	}
	return a
}

type corpusFixture struct {
	cfg *config.Root
	ex  *fakeExtractor
}

// fixture creates empty recordings for the given names and frame counts and
// a config with both elimination stages off.
func fixture(t *testing.T, src, tgt map[string]int) *corpusFixture {
	t.Helper()
	root := t.TempDir()
	f := &corpusFixture{
		cfg: config.Defaults(),
		ex:  &fakeExtractor{analyses: map[string]*features.Analysis{}, fail: map[string]error{}},
	}
	add := func(dir string, items map[string]int, offset float64) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		for name, n := range items {
			path := filepath.Join(dir, name+".wav")
			if err := os.WriteFile(path, nil, 0o644); err != nil {
				t.Fatal(err)
			}
			f.ex.analyses[path] = analysis(n, offset+float64(len(name)))
		}
	}
	f.cfg.Corpus.SourceFolder = filepath.Join(root, "neutral")
	f.cfg.Corpus.TargetFolder = filepath.Join(root, "angry")
	add(f.cfg.Corpus.SourceFolder, src, 0)
	add(f.cfg.Corpus.TargetFolder, tgt, 0.5)

	f.cfg.Output.Dir = filepath.Join(root, "out")
	f.cfg.Output.SourceTag, f.cfg.Output.TargetTag = "neutralF", "angryF"
	f.cfg.Features.Lsf.Order = 2
	f.cfg.Analysis.Workers = 2
	f.cfg.Gaussian.Active = false
	f.cfg.KMeans.Active = false
	return f
}

func (f *corpusFixture) run(t *testing.T) (*orchestrator.Result, error) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	return orchestrator.NewPipeline(f.cfg, f.ex, log).Run(context.Background())
}

func TestRunPerFrame(t *testing.T) {
	f := fixture(t, map[string]int{"a": 5, "b": 3}, map[string]int{"a": 4, "b": 6})
	res, err := f.run(t)
	if err != nil {
		t.Fatal(err)
	}
	if res.Entries != 7 || res.Mappings != 7 || res.Items != 2 {
		t.Errorf("result = %+v", res)
	}
	cb, err := codebook.ReadFile(res.Codebook)
	if err != nil {
		t.Fatal(err)
	}
	if len(cb.Entries) != 7 || cb.Header.NumItems != 2 || cb.Header.TargetTag != "angryF" {
		t.Errorf("header = %+v, entries = %d", cb.Header, len(cb.Entries))
	}
	if filepath.Base(res.Codebook) != "neutralF_X_angryF.wcf" {
		t.Errorf("codebook path = %s", res.Codebook)
	}
	pm, err := codebook.ReadPitchMappingFile(res.Pitch)
	if err != nil {
		t.Fatal(err)
	}
	if len(pm.Items) != 2 || pm.Source.Count == 0 {
		t.Errorf("pitch mapping = %+v", pm)
	}
	if res.CacheMisses != 4 {
		t.Errorf("cache misses = %d, want 4", res.CacheMisses)
	}
}

func TestRunSummary(t *testing.T) {
	f := fixture(t, map[string]int{"a": 5, "c": 5}, map[string]int{"a": 5})
	res, err := f.run(t)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(res.Summary)
	if err != nil {
		t.Fatal(err)
	}
	var s orchestrator.RunSummary
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatal(err)
	}
	if s.RunID != res.RunID || s.RunID == "" {
		t.Errorf("run id = %q, want %q", s.RunID, res.RunID)
	}
	if len(s.IndexMap) != 2 || s.IndexMap[0] != 0 || s.IndexMap[1] != -1 {
		t.Errorf("index map = %v", s.IndexMap)
	}
	if len(s.Pairing) != 1 || s.Entries != 5 {
		t.Errorf("summary = %+v", s)
	}
}

func TestRunEmptySourceFolder(t *testing.T) {
	f := fixture(t, map[string]int{}, map[string]int{"a": 4})
	_, err := f.run(t)
	if !errs.IsConfiguration(err) {
		t.Fatalf("err = %v, want configuration error", err)
	}
	if _, err := os.Stat(f.cfg.Output.Dir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("output dir created: %v", err)
	}
}

func TestRunNothingMatched(t *testing.T) {
	f := fixture(t, map[string]int{"a": 4}, map[string]int{"b": 4})
	if _, err := f.run(t); !errs.IsConfiguration(err) {
		t.Fatalf("err = %v, want configuration error", err)
	}
}

func TestRunInvalidConfig(t *testing.T) {
	f := fixture(t, map[string]int{"a": 4}, map[string]int{"a": 4})
	f.cfg.Training.Mode = "fuzzy"
	if _, err := f.run(t); !errs.IsConfiguration(err) {
		t.Fatalf("err = %v, want configuration error", err)
	}
}

func TestRunSkipsFailedItems(t *testing.T) {
	f := fixture(t, map[string]int{"a": 5, "b": 3}, map[string]int{"a": 4, "b": 6})
	f.ex.fail[filepath.Join(f.cfg.Corpus.TargetFolder, "b.wav")] = errors.New("corrupt")
	res, err := f.run(t)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.ItemErrors) != 1 || !errs.IsItem(res.ItemErrors[0]) {
		t.Fatalf("item errors = %v", res.ItemErrors)
	}
	if res.Entries != 4 {
		t.Errorf("entries = %d, want 4", res.Entries)
	}
}

func TestRunLabelModeSkipsUnlabelled(t *testing.T) {
	f := fixture(t, map[string]int{"a": 6, "b": 3}, map[string]int{"a": 6, "b": 3})
	lab := []features.Label{{End: 0.03, Phone: "a"}, {End: 0.07, Phone: "t"}}
	f.ex.analyses[filepath.Join(f.cfg.Corpus.SourceFolder, "a.wav")].Labels = lab
	f.ex.analyses[filepath.Join(f.cfg.Corpus.TargetFolder, "a.wav")].Labels = lab
	f.cfg.Training.Mode = codebook.PerLabel

	res, err := f.run(t)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.ItemErrors) != 1 {
		t.Fatalf("item errors = %v", res.ItemErrors)
	}
	if res.Entries != 2 {
		t.Errorf("entries = %d, want 2", res.Entries)
	}
}

func TestRunAllEliminated(t *testing.T) {
	f := fixture(t, map[string]int{"a": 8}, map[string]int{"a": 8})
	f.cfg.Gaussian.Active = true
	f.cfg.Gaussian.TooSimilar = true
	f.cfg.Gaussian.TooSimilarThreshold = 1e9

	res, err := f.run(t)
	if err != nil {
		t.Fatal(err)
	}
	var w *errs.EliminationWarning
	if len(res.Warnings) != 1 || !errors.As(res.Warnings[0], &w) || w.Stage != "gaussian" {
		t.Fatalf("warnings = %v", res.Warnings)
	}
	cb, err := codebook.ReadFile(res.Codebook)
	if err != nil {
		t.Fatal(err)
	}
	if len(cb.Entries) != 0 || cb.Header.NumMappings != 8 {
		t.Errorf("entries = %d, mappings = %d", len(cb.Entries), cb.Header.NumMappings)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	src := map[string]int{"a": 40, "b": 35, "c": 50}
	tgt := map[string]int{"a": 42, "b": 30, "c": 50}
	var outputs [][]byte
	for i := 0; i < 2; i++ {
		f := fixture(t, src, tgt)
		f.cfg.Gaussian = config.Defaults().Gaussian
		f.cfg.KMeans = config.Defaults().KMeans
		f.cfg.KMeans.NumClusters = 4
		f.cfg.Analysis.Workers = 3
		res, err := f.run(t)
		if err != nil {
			t.Fatal(err)
		}
		raw, err := os.ReadFile(res.Codebook)
		if err != nil {
			t.Fatal(err)
		}
		outputs = append(outputs, raw)
	}
	if !bytes.Equal(outputs[0], outputs[1]) {
		t.Fatal("codebooks differ between identical runs")
	}
}

func TestRunUsesDiskCache(t *testing.T) {
	f := fixture(t, map[string]int{"a": 5}, map[string]int{"a": 5})
	f.cfg.Analysis.CacheDir = filepath.Join(t.TempDir(), "cache")
	if _, err := f.run(t); err != nil {
		t.Fatal(err)
	}
	res, err := f.run(t)
	if err != nil {
		t.Fatal(err)
	}
	if res.CacheHits != 2 || res.CacheMisses != 0 {
		t.Errorf("hits = %d, misses = %d", res.CacheHits, res.CacheMisses)
	}
}

func TestRunLabelModeSkipsMismatchedLabels(t *testing.T) {
	f := fixture(t, map[string]int{"a": 6, "b": 6}, map[string]int{"a": 9, "b": 6})
	at := []features.Label{{End: 0.03, Phone: "a"}, {End: 0.07, Phone: "t"}}
	ad := []features.Label{{End: 0.03, Phone: "a"}, {End: 0.07, Phone: "d"}}
	f.ex.analyses[filepath.Join(f.cfg.Corpus.SourceFolder, "a.wav")].Labels = at
	f.ex.analyses[filepath.Join(f.cfg.Corpus.TargetFolder, "a.wav")].Labels = []features.Label{{End: 0.06, Phone: "a"}, {End: 0.1, Phone: "t"}}
	f.ex.analyses[filepath.Join(f.cfg.Corpus.SourceFolder, "b.wav")].Labels = at
	f.ex.analyses[filepath.Join(f.cfg.Corpus.TargetFolder, "b.wav")].Labels = ad
	f.cfg.Training.Mode = codebook.PerLabel

	res, err := f.run(t)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.ItemErrors) != 1 || !errors.Is(res.ItemErrors[0], features.ErrLabelMismatch) {
		t.Fatalf("item errors = %v", res.ItemErrors)
	}
	if res.Entries != 2 || res.Mappings != 2 {
		t.Errorf("entries = %d, mappings = %d, want 2 each", res.Entries, res.Mappings)
	}
}

func TestRunPerFrameIgnoresFrameNeighbours(t *testing.T) {
	f := fixture(t, map[string]int{"a": 5}, map[string]int{"a": 5})
	f.cfg.Training.FrameNeighbours = 3
	res, err := f.run(t)
	if err != nil {
		t.Fatal(err)
	}
	cb, err := codebook.ReadFile(res.Codebook)
	if err != nil {
		t.Fatal(err)
	}
	raw := f.ex.analyses[filepath.Join(f.cfg.Corpus.SourceFolder, "a.wav")].Lsfs
	for i, e := range cb.Entries {
		if math.Abs(e.Source.Lsf[0]-raw[i][0]) > 1e-12 {
			t.Fatalf("entry %d lsf = %v, want unsmoothed %v", i, e.Source.Lsf[0], raw[i][0])
		}
	}
}

func TestRunRejectsWrongLsfOrder(t *testing.T) {
	f := fixture(t, map[string]int{"a": 5, "b": 3}, map[string]int{"a": 4, "b": 6})
	b := f.ex.analyses[filepath.Join(f.cfg.Corpus.TargetFolder, "b.wav")]
	for i := range b.Lsfs {
		b.Lsfs[i] = []float64{0.2, 0.5, 0.8}
	}
	res, err := f.run(t)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.ItemErrors) != 1 || !errs.IsItem(res.ItemErrors[0]) {
		t.Fatalf("item errors = %v", res.ItemErrors)
	}
	if res.Entries != 4 {
		t.Errorf("entries = %d, want 4", res.Entries)
	}
}
