package corpus

import (
	"fmt"
	"strings"

	"github.com/maastricht-university/codebook-trainer/errs"
)

// Unmatched marks a source item without a target counterpart.
const Unmatched = -1

// PairingRule selects how source and target recordings are paired.
type PairingRule string

const (
	PairByBasename PairingRule = "basename"
	PairByCasefold PairingRule = "casefold"
	PairByOrder    PairingRule = "order"
)

// IsValid reports whether r is a known rule.
func (r PairingRule) IsValid() bool {
	switch r {
	case PairByBasename, PairByCasefold, PairByOrder:
		return true
	}
	return false
}

// IndexMap holds, for every source item, the index of its target item or
// Unmatched.
type IndexMap []int

// Matched returns the number of paired items.
func (m IndexMap) Matched() int {
	n := 0
	for _, t := range m {
		if t != Unmatched {
			n++
		}
	}
	return n
}

// Pairing is the result of MapIndices.
type Pairing struct {
	Map      IndexMap
	Warnings []string
}

// MapIndices pairs every source item with a target item. Unmatched and
// duplicate names produce warnings; the first occurrence of a duplicated
// target name wins and duplicated source names stay unmatched.
func MapIndices(src, tgt *Set, rule PairingRule) (*Pairing, error) {
	if src == nil || src.Len() == 0 {
		return nil, errs.Config("source", "empty source set")
	}
	if tgt == nil || tgt.Len() == 0 {
		return nil, errs.Config("target", "empty target set")
	}
	if rule == "" {
		rule = PairByBasename
	}
	if !rule.IsValid() {
		return nil, errs.Config("pairing", "unknown pairing rule %q", rule)
	}

	p := &Pairing{Map: make(IndexMap, src.Len())}
	if rule == PairByOrder {
		for i := range p.Map {
			p.Map[i] = Unmatched
			if i < tgt.Len() {
				p.Map[i] = i
			} else {
				p.warnf("source %s: no target at position %d", src.Items[i].Name, i)
			}
		}
		return p, nil
	}

	key := func(name string) string {
		if rule == PairByCasefold {
			return strings.ToLower(name)
		}
		return name
	}
	targets := make(map[string]int, tgt.Len())
	for j, it := range tgt.Items {
		k := key(it.Name)
		if first, dup := targets[k]; dup {
			p.warnf("target %s duplicates %s; keeping the first", it.Path, tgt.Items[first].Path)
			continue
		}
		targets[k] = j
	}
	seen := make(map[string]int, src.Len())
	for i, it := range src.Items {
		p.Map[i] = Unmatched
		k := key(it.Name)
		if first, dup := seen[k]; dup {
			p.warnf("source %s duplicates %s; skipped", it.Path, src.Items[first].Path)
			continue
		}
		seen[k] = i
		j, ok := targets[k]
		if !ok {
			p.warnf("source %s: no matching target", it.Name)
			continue
		}
		p.Map[i] = j
	}
	return p, nil
}

func (p *Pairing) warnf(format string, args ...any) {
	p.Warnings = append(p.Warnings, fmt.Sprintf(format, args...))
}
