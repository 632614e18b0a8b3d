package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/maastricht-university/codebook-trainer/codebook"
	"github.com/maastricht-university/codebook-trainer/corpus"
	"github.com/maastricht-university/codebook-trainer/errs"
	"github.com/maastricht-university/codebook-trainer/features"
	"github.com/maastricht-university/codebook-trainer/outlier"
)

type Corpus struct {
	SourceFolder string             `yaml:"source_folder"`
	TargetFolder string             `yaml:"target_folder"`
	Extension    string             `yaml:"extension"`
	Pairing      corpus.PairingRule `yaml:"pairing"`
}

type Output struct {
	Dir       string `yaml:"dir"`
	SourceTag string `yaml:"source_tag"`
	TargetTag string `yaml:"target_tag"`
	Suffix    string `yaml:"suffix"`
	Codebook  string `yaml:"codebook_extension"`
	Pitch     string `yaml:"pitch_extension"`
	Summary   bool   `yaml:"summary"`
}

type Training struct {
	Mode            codebook.Mode `yaml:"mode"`
	FrameNeighbours int           `yaml:"frame_neighbours"`
	LabelNeighbours int           `yaml:"label_neighbours"`
	Seed            uint64        `yaml:"seed"`
}

type Analysis struct {
	Forced   bool   `yaml:"forced"`
	CacheDir string `yaml:"cache_dir"` // empty keeps the cache in memory
	Workers  int    `yaml:"workers"`
}

type Root struct {
	LogLevel string                 `yaml:"log_level"`
	Preset   string                 `yaml:"preset"`
	Corpus   Corpus                 `yaml:"corpus"`
	Output   Output                 `yaml:"output"`
	Training Training               `yaml:"training"`
	Analysis Analysis               `yaml:"analysis"`
	Features features.Params        `yaml:"features"`
	Gaussian outlier.GaussianParams `yaml:"gaussian"`
	KMeans   outlier.KMeansParams   `yaml:"kmeans"`
}

// Defaults returns the configuration every layer starts from.
func Defaults() *Root {
	return &Root{
		LogLevel: "info",
		Corpus: Corpus{
			Extension: ".wav",
			Pairing:   corpus.PairByBasename,
		},
		Output: Output{
			Dir:       ".",
			SourceTag: "source",
			TargetTag: "target",
			Codebook:  codebook.DefaultExtension,
			Pitch:     codebook.DefaultPitchExtension,
			Summary:   true,
		},
		Training: Training{
			Mode:            codebook.PerFrame,
			FrameNeighbours: 1,
			LabelNeighbours: 1,
			Seed:            1,
		},
		Analysis: Analysis{Workers: runtime.NumCPU()},
		Features: features.Params{
			Lsf:    features.LsfParams{Order: 20, PreCoef: 0.97, WindowSize: 0.020, SkipSize: 0.010, WindowType: "hamming"},
			Pitch:  features.PitchParams{WindowSize: 0.040, SkipSize: 0.005, VoicingThreshold: 0.30, MinF0: 40, MaxF0: 400, CenterClippingRatio: 0.3},
			Energy: features.EnergyParams{WindowSize: 0.020, SkipSize: 0.010},
		},
		Gaussian: outlier.GaussianParams{
			Active:              true,
			Check:               outlier.ChannelSet{Lsf: true, F0: true, Energy: true, Duration: true},
			Deviations:          outlier.Deviations{Lsf: 1.5, F0: 1.0, Energy: 2.0, Duration: 1.0},
			TooSimilar:          true,
			TooSimilarChannel:   outlier.Lsf,
			TooSimilarThreshold: 1e-3,
		},
		KMeans: outlier.KMeansParams{
			Active:                true,
			Strategy:              outlier.MeanDistanceMismatch,
			Metric:                outlier.NormalizedEuclidean,
			Variance:              outlier.GlobalVariance,
			NumClusters:           30,
			Clusters:              outlier.ClusterCounts{Lsf: 30, F0: 50, Energy: 5, Duration: 5},
			Check:                 outlier.ChannelSet{Lsf: true},
			Deviations:            outlier.Deviations{Lsf: 1, F0: 1, Energy: 1, Duration: 1, General: 0.1},
			EliminationLikelihood: 0.1,
			NumSubClusters:        2,
			SubClusterDepth:       1,
			MaxIterations:         100,
		},
	}
}

// Load layers defaults, the named preset, the config file and the overrides
// in v (which may be nil). With an empty path the first existing file of
// config/<CONFIG_ENV>/config.yaml and codebook.yaml is used, and if neither
// exists the defaults stand alone.
func Load(path string, v Overrides) (*Root, error) {
	if path == "" {
		path = locate()
	}
	var data []byte
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, errs.Config("config", "%v", err)
		}
	}
	return build(data, v)
}

// LoadFromReader is Load for an already opened config file.
func LoadFromReader(r io.Reader, v Overrides) (*Root, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Config("config", "%v", err)
	}
	return build(data, v)
}

func locate() string {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	guess := []string{
		filepath.Join("config", env, "config.yaml"),
		"codebook.yaml",
	}
	for _, p := range guess {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return ""
}

func build(data []byte, v Overrides) (*Root, error) {
	cfg := Defaults()

	var head struct {
		Preset string `yaml:"preset"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return nil, errs.Config("config", "parse: %v", err)
	}
	preset := head.Preset
	if v != nil && v.IsSet(KeyPreset) {
		preset = v.GetString(KeyPreset)
	}
	if preset != "" {
		if err := applyPreset(cfg, preset); err != nil {
			return nil, err
		}
	}

	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, errs.Config("config", "parse: %v", err)
		}
	}
	if v != nil {
		applyOverrides(cfg, v)
	}
	cfg.Preset = preset
	return cfg, nil
}

// Base returns the artifact base name <sourceTag>_X_<targetTag><suffix>.
func (r *Root) Base() string {
	return r.Output.SourceTag + "_X_" + r.Output.TargetTag + r.Output.Suffix
}

func (r *Root) CodebookPath() string {
	return filepath.Join(r.Output.Dir, r.Base()+r.Output.Codebook)
}

func (r *Root) PitchPath() string {
	return filepath.Join(r.Output.Dir, r.Base()+r.Output.Pitch)
}

func (r *Root) SummaryPath() string {
	return filepath.Join(r.Output.Dir, r.Base()+".json")
}

// Validate checks r and returns every problem found, joined.
func (r *Root) Validate() error {
	var list []error
	bad := func(field, format string, args ...any) {
		list = append(list, errs.Config(field, format, args...))
	}

	if _, err := logrus.ParseLevel(r.LogLevel); err != nil {
		bad("log_level", "%v", err)
	}
	if r.Corpus.SourceFolder == "" {
		bad("corpus.source_folder", "not set")
	}
	if r.Corpus.TargetFolder == "" {
		bad("corpus.target_folder", "not set")
	}
	if len(r.Corpus.Extension) < 2 || r.Corpus.Extension[0] != '.' {
		bad("corpus.extension", "want an extension like .wav, got %q", r.Corpus.Extension)
	}
	if !r.Corpus.Pairing.IsValid() {
		bad("corpus.pairing", "unknown rule %q", r.Corpus.Pairing)
	}
	if r.Output.SourceTag == "" || r.Output.TargetTag == "" {
		bad("output", "source_tag and target_tag are required")
	}
	if r.Output.Codebook == "" || r.Output.Pitch == "" || r.Output.Codebook == r.Output.Pitch {
		bad("output", "codebook and pitch extensions must be set and differ")
	}

	if !r.Training.Mode.IsValid() {
		bad("training.mode", "unknown mode %q", r.Training.Mode)
	}
	if n := r.Training.FrameNeighbours; n < 1 || n%2 == 0 {
		bad("training.frame_neighbours", "must be odd and positive, got %d", n)
	}
	if r.Training.Mode == codebook.FrameNeighbourhood && r.Training.FrameNeighbours < 3 {
		bad("training.frame_neighbours", "mode %s needs at least 3", r.Training.Mode)
	}
	if r.Training.LabelNeighbours < 0 {
		bad("training.label_neighbours", "must not be negative")
	}
	if r.Analysis.Workers < 1 {
		bad("analysis.workers", "must be positive")
	}

	f := r.Features
	if f.Lsf.Order < 1 {
		bad("features.lsf.order", "must be positive")
	}
	for _, p := range []struct {
		field string
		v     float64
	}{
		{"features.lsf.window_size", f.Lsf.WindowSize},
		{"features.lsf.skip_size", f.Lsf.SkipSize},
		{"features.pitch.window_size", f.Pitch.WindowSize},
		{"features.pitch.skip_size", f.Pitch.SkipSize},
		{"features.energy.window_size", f.Energy.WindowSize},
		{"features.energy.skip_size", f.Energy.SkipSize},
	} {
		if !(p.v > 0) {
			bad(p.field, "must be positive")
		}
	}
	if !(f.Pitch.MinF0 > 0) || f.Pitch.MaxF0 <= f.Pitch.MinF0 {
		bad("features.pitch", "need 0 < min_f0 < max_f0")
	}

	list = append(list, r.validateGaussian()...)
	list = append(list, r.validateKMeans()...)
	return errors.Join(list...)
}

func (r *Root) validateGaussian() []error {
	g := r.Gaussian
	if !g.Active {
		return nil
	}
	var list []error
	for _, c := range g.Check.Enabled() {
		if !(g.Deviations.For(c) > 0) {
			list = append(list, errs.Config("gaussian.deviations."+string(c), "must be positive"))
		}
	}
	if g.TooSimilar {
		if !g.TooSimilarChannel.IsValid() {
			list = append(list, errs.Config("gaussian.too_similar_channel", "unknown channel %q", g.TooSimilarChannel))
		}
		if g.TooSimilarThreshold < 0 {
			list = append(list, errs.Config("gaussian.too_similar_threshold", "must not be negative"))
		}
	}
	return list
}

func (r *Root) validateKMeans() []error {
	k := r.KMeans
	if !k.Active {
		return nil
	}
	var list []error
	bad := func(field, format string, args ...any) {
		list = append(list, errs.Config("kmeans."+field, format, args...))
	}
	if !k.Strategy.IsValid() {
		bad("strategy", "unknown strategy %q", k.Strategy)
	}
	if !k.Metric.IsValid() {
		bad("metric", "unknown metric %q", k.Metric)
	}
	if !k.Variance.IsValid() {
		bad("variance", "unknown variance mode %q", k.Variance)
	}
	chans := k.Check.Enabled()
	if len(chans) == 0 {
		bad("check", "no channel enabled")
	}
	if k.Separate {
		for _, c := range chans {
			if k.Clusters.For(c) < 1 {
				bad("clusters."+string(c), "must be positive")
			}
			if !(k.Deviations.For(c) > 0) {
				bad("deviations."+string(c), "must be positive")
			}
		}
	} else {
		if k.NumClusters < 1 {
			bad("num_clusters", "must be positive")
		}
		if !(k.Deviations.General > 0) {
			bad("deviations.general", "must be positive")
		}
	}
	switch k.Strategy {
	case outlier.LeastLikely:
		if !(k.EliminationLikelihood >= 0 && k.EliminationLikelihood < 1) {
			bad("elimination_likelihood", "must be in [0, 1), got %v", k.EliminationLikelihood)
		}
	case outlier.SubclusterMeanDistance:
		if k.NumSubClusters < 2 {
			bad("num_subclusters", "must be at least 2")
		}
		if k.SubClusterDepth < 1 {
			bad("subcluster_depth", "must be positive")
		}
	}
	if k.MaxIterations < 1 {
		bad("max_iterations", "must be positive")
	}
	return list
}

func (r *Root) String() string {
	out, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Sprintf("%+v", *r)
	}
	return string(out)
}
