package config

import (
	_ "embed"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/maastricht-university/codebook-trainer/errs"
)

//go:embed presets.yaml
var presetData []byte

func presets() (map[string]yaml.Node, error) {
	var all map[string]yaml.Node
	if err := yaml.Unmarshal(presetData, &all); err != nil {
		return nil, err
	}
	return all, nil
}

// Presets lists the names of the built-in presets.
func Presets() []string {
	all, err := presets()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(all))
	for n := range all {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func applyPreset(cfg *Root, name string) error {
	all, err := presets()
	if err != nil {
		return errs.Config("preset", "embedded presets: %v", err)
	}
	node, ok := all[name]
	if !ok {
		return errs.Config("preset", "unknown preset %q (have %v)", name, Presets())
	}
	if err := node.Decode(cfg); err != nil {
		return errs.Config("preset", "%s: %v", name, err)
	}
	return nil
}
