// Package corpus discovers the recordings of one voice style and pairs the
// source and target collections of a parallel corpus.
package corpus

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maastricht-university/codebook-trainer/errs"
	"github.com/maastricht-university/codebook-trainer/features"
)

// Item is one recording. Analysis is nil until the recording has been
// analysed and is not modified afterwards.
type Item struct {
	Path     string
	Name     string // base name without extension
	Analysis *features.Analysis
}

// Set is the ordered collection of recordings of one style.
type Set struct {
	Dir   string
	Items []Item
}

// Len returns the number of items.
func (s *Set) Len() int { return len(s.Items) }

// Load lists the recordings with extension ext in dir, sorted by base name.
func Load(dir, ext string) (*Set, error) {
	if dir == "" {
		return nil, errs.Config("folder", "training folder not set")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.Config(dir, "read training folder: %v", err)
	}
	s := &Set{Dir: dir}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		s.Items = append(s.Items, Item{
			Path: filepath.Join(dir, e.Name()),
			Name: strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
		})
	}
	if len(s.Items) == 0 {
		return nil, errs.Config(dir, "no %s recordings found", ext)
	}
	sort.SliceStable(s.Items, func(i, j int) bool { return s.Items[i].Name < s.Items[j].Name })
	return s, nil
}
