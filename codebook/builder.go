package codebook

import (
	"strings"
	"unicode/utf8"

	"github.com/maastricht-university/codebook-trainer/features"
)

// ItemLabels holds the phonetic labels of one source/target item pair.
type ItemLabels struct {
	Source []features.Label
	Target []features.Label
}

// BuildParams controls Build.
type BuildParams struct {
	Mode Mode

	// LabelNeighbours is the number of labels on either side merged by
	// LabelGroup when they share a category.
	LabelNeighbours int
}

// Build aggregates ms, which must be in source traversal order (item, then
// frame), into codebook entries. labels is keyed by item index and supplies
// phone names. The label modes expect the per-label mappings of
// features.AlignLabels and skip mappings without a label.
func Build(ms []features.Mapping, labels map[int]ItemLabels, p BuildParams) []Entry {
	if len(ms) == 0 {
		return nil
	}
	switch p.Mode {
	case PerLabel:
		return perLabel(ms, labels)
	case LabelGroup:
		return labelGroups(ms, labels, p.LabelNeighbours)
	case WholeUtterance:
		return []Entry{aggregate(ms, "")}
	}
	out := make([]Entry, len(ms))
	for i, m := range ms {
		out[i] = Entry{Source: m.Source, Target: m.Target, Weight: m.Weight, Phone: phone(labels, m)}
	}
	return out
}

func phone(labels map[int]ItemLabels, m features.Mapping) string {
	l, ok := labels[m.Item]
	if !ok || m.Label < 0 || m.Label >= len(l.Source) {
		return ""
	}
	return l.Source[m.Label].Phone
}

// span is a run of mappings sharing (item, label).
type span struct {
	item, label int
	ms          []features.Mapping
}

func spans(ms []features.Mapping) []span {
	var out []span
	for _, m := range ms {
		if m.Label < 0 {
			continue
		}
		if n := len(out); n > 0 && out[n-1].item == m.Item && out[n-1].label == m.Label {
			out[n-1].ms = append(out[n-1].ms, m)
			continue
		}
		out = append(out, span{item: m.Item, label: m.Label, ms: []features.Mapping{m}})
	}
	return out
}

func perLabel(ms []features.Mapping, labels map[int]ItemLabels) []Entry {
	var out []Entry
	for _, s := range spans(ms) {
		out = append(out, aggregate(s.ms, phone(labels, s.ms[0])))
	}
	return out
}

// labelGroups emits one entry per label, averaging the label with the
// labels of the same category at most n positions away in the same item.
// Spans of one item are contiguous and ordered by label, so only the
// neighbouring spans are scanned.
func labelGroups(ms []features.Mapping, labels map[int]ItemLabels, n int) []Entry {
	all := spans(ms)
	cats := make([]string, len(all))
	for i, s := range all {
		cats[i] = Category(phone(labels, s.ms[0]))
	}
	out := make([]Entry, 0, len(all))
	for i, s := range all {
		group := append([]features.Mapping(nil), s.ms...)
		for j := i - 1; j >= 0 && all[j].item == s.item && all[j].label >= s.label-n; j-- {
			if cats[j] == cats[i] {
				group = append(group, all[j].ms...)
			}
		}
		for j := i + 1; j < len(all) && all[j].item == s.item && all[j].label <= s.label+n; j++ {
			if cats[j] == cats[i] {
				group = append(group, all[j].ms...)
			}
		}
		out = append(out, aggregate(group, phone(labels, s.ms[0])))
	}
	return out
}

func aggregate(ms []features.Mapping, phone string) Entry {
	src := make([]features.Vector, len(ms))
	tgt := make([]features.Vector, len(ms))
	w := 0.0
	for i, m := range ms {
		src[i], tgt[i] = m.Source, m.Target
		w += m.Weight
	}
	return Entry{
		Source: features.Average(src),
		Target: features.Average(tgt),
		Weight: w / float64(len(ms)),
		Phone:  phone,
	}
}

// Phone categories used by LabelGroup.
const (
	CategorySilence   = "silence"
	CategoryVowel     = "vowel"
	CategoryConsonant = "consonant"
)

var silences = map[string]bool{"": true, "_": true, "#": true, "pau": true, "sil": true, "h#": true}

// Category classifies a SAMPA-style phone symbol.
func Category(phone string) string {
	if silences[strings.ToLower(phone)] {
		return CategorySilence
	}
	r, _ := utf8.DecodeRuneInString(phone)
	if strings.ContainsRune("aeiouyAEIOUY@{}&2369QV", r) {
		return CategoryVowel
	}
	return CategoryConsonant
}
