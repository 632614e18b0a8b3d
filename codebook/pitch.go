package codebook

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/stat"
)

// F0Stats summarises the voiced frames of a pitch contour.
type F0Stats struct {
	Count   int
	Mean    float64 // Hz
	Std     float64
	LogMean float64 // log Hz
	LogStd  float64
}

// ItemPitch holds the statistics of one source/target item pair.
type ItemPitch struct {
	Name   string
	Source F0Stats
	Target F0Stats
}

// PitchMapping is the companion artifact the converter uses to transform
// F0 from the source to the target style.
type PitchMapping struct {
	Source F0Stats
	Target F0Stats
	Items  []ItemPitch
}

// PitchContour is the cleaned F0 contour of one item pair.
type PitchContour struct {
	Name   string
	Source []float64
	Target []float64
}

// TrainPitch computes global and per-item F0 statistics. Unvoiced (zero)
// frames are ignored.
func TrainPitch(contours []PitchContour) *PitchMapping {
	pm := &PitchMapping{}
	var allSrc, allTgt []float64
	for _, c := range contours {
		pm.Items = append(pm.Items, ItemPitch{
			Name:   c.Name,
			Source: f0Stats(c.Source),
			Target: f0Stats(c.Target),
		})
		allSrc = append(allSrc, c.Source...)
		allTgt = append(allTgt, c.Target...)
	}
	pm.Source = f0Stats(allSrc)
	pm.Target = f0Stats(allTgt)
	return pm
}

func f0Stats(contour []float64) F0Stats {
	var hz, logs []float64
	for _, v := range contour {
		if v > 0 {
			hz = append(hz, v)
			logs = append(logs, math.Log(v))
		}
	}
	s := F0Stats{Count: len(hz)}
	switch len(hz) {
	case 0:
	case 1:
		s.Mean, s.LogMean = hz[0], logs[0]
	default:
		s.Mean, s.Std = stat.MeanStdDev(hz, nil)
		s.LogMean, s.LogStd = stat.MeanStdDev(logs, nil)
	}
	return s
}

// WritePitchMapping serializes pm: magic "WPMF", version u32, global source
// and target stats, item count u32, then per item name, source and target
// stats. Stats are count u32 followed by mean, std, logMean, logStd as f64.
func WritePitchMapping(w io.Writer, pm *PitchMapping) error {
	bw := bufio.NewWriter(w)
	e := &encoder{w: bw}
	e.raw(pitchMagic)
	e.put(formatVersion)
	e.f0(pm.Source)
	e.f0(pm.Target)
	e.put(uint32(len(pm.Items)))
	for _, it := range pm.Items {
		e.str(it.Name)
		e.f0(it.Source)
		e.f0(it.Target)
	}
	if e.err != nil {
		return e.err
	}
	return bw.Flush()
}

// ReadPitchMapping parses a pitch mapping written by WritePitchMapping.
func ReadPitchMapping(r io.Reader) (*PitchMapping, error) {
	d := &decoder{r: bufio.NewReader(r)}
	if err := d.magic(pitchMagic); err != nil {
		return nil, err
	}
	pm := &PitchMapping{Source: d.f0(), Target: d.f0()}
	n := d.count()
	for i := 0; i < n && d.err == nil; i++ {
		it := ItemPitch{Name: d.str()}
		it.Source = d.f0()
		it.Target = d.f0()
		pm.Items = append(pm.Items, it)
	}
	if d.err != nil {
		return nil, fmt.Errorf("pitch mapping: %w", d.err)
	}
	return pm, nil
}

// WritePitchMappingFile writes pm to path. A failed write leaves no file
// behind.
func WritePitchMappingFile(path string, pm *PitchMapping) error {
	return writeAtomic(path, func(w io.Writer) error { return WritePitchMapping(w, pm) })
}

// ReadPitchMappingFile reads the pitch mapping at path.
func ReadPitchMappingFile(path string) (*PitchMapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadPitchMapping(f)
}

func (e *encoder) f0(s F0Stats) {
	e.put(uint32(s.Count))
	e.put(s.Mean)
	e.put(s.Std)
	e.put(s.LogMean)
	e.put(s.LogStd)
}

func (d *decoder) f0() F0Stats {
	var s F0Stats
	s.Count = d.int()
	d.get(&s.Mean)
	d.get(&s.Std)
	d.get(&s.LogMean)
	d.get(&s.LogStd)
	return s
}
