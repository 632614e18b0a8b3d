// Package codebook aggregates surviving frame mappings into codebook entries
// and serializes the codebook and its companion pitch mapping.
package codebook

import (
	"github.com/maastricht-university/codebook-trainer/features"
	"github.com/maastricht-university/codebook-trainer/outlier"
)

// Mode selects how mappings are aggregated into entries.
type Mode string

const (
	PerFrame           Mode = "per-frame"
	FrameNeighbourhood Mode = "frame-neighbourhood"
	PerLabel           Mode = "per-label"
	LabelGroup         Mode = "label-group"
	WholeUtterance     Mode = "whole-utterance"
)

var modeCodes = []Mode{PerFrame, FrameNeighbourhood, PerLabel, LabelGroup, WholeUtterance}

func (m Mode) IsValid() bool { return m.code() >= 0 }

// NeedsLabels reports whether m aggregates over phonetic labels.
func (m Mode) NeedsLabels() bool { return m == PerLabel || m == LabelGroup }

func (m Mode) code() int {
	for i, c := range modeCodes {
		if c == m {
			return i
		}
	}
	return -1
}

// Entry is one source/target correspondence.
type Entry struct {
	Source features.Vector
	Target features.Vector
	Weight float64
	Phone  string // empty for modes without labels
}

// Header describes how a codebook was trained.
type Header struct {
	Mode            Mode
	SourceTag       string
	TargetTag       string
	LsfOrder        int
	FrameNeighbours int
	LabelNeighbours int
	NumItems        int // matched items that contributed mappings
	NumMappings     int // aligned mappings before elimination
	Seed            uint64
	Params          features.Params
	Stages          []outlier.StageSummary
}

// Codebook is the trained result.
type Codebook struct {
	Header  Header
	Entries []Entry
}
