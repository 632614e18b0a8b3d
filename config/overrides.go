package config

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/maastricht-university/codebook-trainer/codebook"
	"github.com/maastricht-university/codebook-trainer/corpus"
)

// EnvPrefix prefixes every environment override, e.g. CODEBOOK_SOURCE_FOLDER.
const EnvPrefix = "CODEBOOK"

// Override keys, shared by environment variables and command-line flags.
const (
	KeyLogLevel     = "log_level"
	KeyPreset       = "preset"
	KeySourceFolder = "source_folder"
	KeyTargetFolder = "target_folder"
	KeyExtension    = "extension"
	KeyPairing      = "pairing"
	KeyOutputDir    = "output_dir"
	KeySourceTag    = "source_tag"
	KeyTargetTag    = "target_tag"
	KeySuffix       = "suffix"
	KeyMode         = "mode"
	KeySeed         = "seed"
	KeyWorkers      = "workers"
	KeyForced       = "forced_analysis"
	KeyCacheDir     = "cache_dir"
)

// Overrides is the read side of a *viper.Viper.
type Overrides interface {
	IsSet(key string) bool
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	GetUint64(key string) uint64
}

var overrides = []struct {
	key string
	set func(*Root, Overrides, string)
}{
	{KeyLogLevel, func(r *Root, v Overrides, k string) { r.LogLevel = v.GetString(k) }},
	{KeySourceFolder, func(r *Root, v Overrides, k string) { r.Corpus.SourceFolder = v.GetString(k) }},
	{KeyTargetFolder, func(r *Root, v Overrides, k string) { r.Corpus.TargetFolder = v.GetString(k) }},
	{KeyExtension, func(r *Root, v Overrides, k string) { r.Corpus.Extension = v.GetString(k) }},
	{KeyPairing, func(r *Root, v Overrides, k string) { r.Corpus.Pairing = corpus.PairingRule(v.GetString(k)) }},
	{KeyOutputDir, func(r *Root, v Overrides, k string) { r.Output.Dir = v.GetString(k) }},
	{KeySourceTag, func(r *Root, v Overrides, k string) { r.Output.SourceTag = v.GetString(k) }},
	{KeyTargetTag, func(r *Root, v Overrides, k string) { r.Output.TargetTag = v.GetString(k) }},
	{KeySuffix, func(r *Root, v Overrides, k string) { r.Output.Suffix = v.GetString(k) }},
	{KeyMode, func(r *Root, v Overrides, k string) { r.Training.Mode = codebook.Mode(v.GetString(k)) }},
	{KeySeed, func(r *Root, v Overrides, k string) { r.Training.Seed = v.GetUint64(k) }},
	{KeyWorkers, func(r *Root, v Overrides, k string) { r.Analysis.Workers = v.GetInt(k) }},
	{KeyForced, func(r *Root, v Overrides, k string) { r.Analysis.Forced = v.GetBool(k) }},
	{KeyCacheDir, func(r *Root, v Overrides, k string) { r.Analysis.CacheDir = v.GetString(k) }},
}

func applyOverrides(r *Root, v Overrides) {
	for _, o := range overrides {
		if v.IsSet(o.key) {
			o.set(r, v, o.key)
		}
	}
}

// NewViper returns a viper instance reading CODEBOOK_* environment variables
// and, when fs is not nil, the flags of fs named after the override keys.
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	if fs == nil {
		return v, nil
	}
	keys := []string{KeyPreset}
	for _, o := range overrides {
		keys = append(keys, o.key)
	}
	for _, k := range keys {
		f := fs.Lookup(strings.ReplaceAll(k, "_", "-"))
		if f == nil {
			continue
		}
		if err := v.BindPFlag(k, f); err != nil {
			return nil, err
		}
	}
	return v, nil
}
