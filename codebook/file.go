package codebook

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/maastricht-university/codebook-trainer/errs"
	"github.com/maastricht-university/codebook-trainer/features"
	"github.com/maastricht-university/codebook-trainer/outlier"
)

// Default artifact extensions.
const (
	DefaultExtension      = ".wcf"
	DefaultPitchExtension = ".pmf"
)

const (
	codebookMagic   = "WCBK"
	pitchMagic      = "WPMF"
	formatVersion   = uint32(1)
	maxStringLength = 1 << 16
	maxLsfOrder     = 1 << 10
)

// Write serializes cb. All numbers are little endian; strings are a uint32
// length followed by UTF-8 bytes. Layout:
//
//	magic "WCBK", version u32
//	mode u32, sourceTag, targetTag, lsfOrder u32,
//	frameNeighbours u32, labelNeighbours u32, items u32, mappings u32, seed u64
//	lsf: order u32, preCoef f64, window f64, skip f64, windowType
//	pitch: window f64, skip f64, voicing f64, minF0 f64, maxF0 f64,
//	       doubling u8, halving u8, centerClipping f64
//	energy: window f64, skip f64
//	stages u32, per stage: name, active u8, input u32, eliminated u32
//	entries u32, per entry: source vector, target vector, weight f64, phone
//	vector: lsf [lsfOrder]f64, f0 f64, energy f64, duration f64
func Write(w io.Writer, cb *Codebook) error {
	h := cb.Header
	if !h.Mode.IsValid() {
		return fmt.Errorf("codebook: invalid mode %q", h.Mode)
	}
	for i, e := range cb.Entries {
		if len(e.Source.Lsf) != h.LsfOrder || len(e.Target.Lsf) != h.LsfOrder {
			return fmt.Errorf("codebook: entry %d has LSF order %d/%d, header says %d", i, len(e.Source.Lsf), len(e.Target.Lsf), h.LsfOrder)
		}
	}
	bw := bufio.NewWriter(w)
	e := &encoder{w: bw}
	e.raw(codebookMagic)
	e.put(formatVersion)
	e.put(uint32(h.Mode.code()))
	e.str(h.SourceTag)
	e.str(h.TargetTag)
	e.put(uint32(h.LsfOrder))
	e.put(uint32(h.FrameNeighbours))
	e.put(uint32(h.LabelNeighbours))
	e.put(uint32(h.NumItems))
	e.put(uint32(h.NumMappings))
	e.put(h.Seed)
	e.params(h.Params)
	e.put(uint32(len(h.Stages)))
	for _, s := range h.Stages {
		e.str(s.Stage)
		e.put(s.Active)
		e.put(uint32(s.Input))
		e.put(uint32(s.Eliminated))
	}
	e.put(uint32(len(cb.Entries)))
	for _, en := range cb.Entries {
		e.vector(en.Source)
		e.vector(en.Target)
		e.put(en.Weight)
		e.str(en.Phone)
	}
	if e.err != nil {
		return e.err
	}
	return bw.Flush()
}

// Read parses a codebook written by Write.
func Read(r io.Reader) (*Codebook, error) {
	d := &decoder{r: bufio.NewReader(r)}
	if err := d.magic(codebookMagic); err != nil {
		return nil, err
	}
	var cb Codebook
	h := &cb.Header
	h.Mode = d.enum(modeCodes)
	h.SourceTag = d.str()
	h.TargetTag = d.str()
	h.LsfOrder = d.int()
	if d.err == nil && h.LsfOrder > maxLsfOrder {
		d.err = fmt.Errorf("LSF order %d out of range", h.LsfOrder)
	}
	h.FrameNeighbours = d.int()
	h.LabelNeighbours = d.int()
	h.NumItems = d.int()
	h.NumMappings = d.int()
	d.get(&h.Seed)
	h.Params = d.params()
	stages := d.count()
	for i := 0; i < stages && d.err == nil; i++ {
		var s outlier.StageSummary
		s.Stage = d.str()
		d.get(&s.Active)
		s.Input = d.int()
		s.Eliminated = d.int()
		h.Stages = append(h.Stages, s)
	}
	n := d.count()
	for i := 0; i < n && d.err == nil; i++ {
		var en Entry
		en.Source = d.vector(h.LsfOrder)
		en.Target = d.vector(h.LsfOrder)
		d.get(&en.Weight)
		en.Phone = d.str()
		cb.Entries = append(cb.Entries, en)
	}
	if d.err != nil {
		return nil, fmt.Errorf("codebook: %w", d.err)
	}
	return &cb, nil
}

// WriteFile writes cb to path. A failed write leaves no file behind.
func WriteFile(path string, cb *Codebook) error {
	return writeAtomic(path, func(w io.Writer) error { return Write(w, cb) })
}

// ReadFile reads the codebook at path.
func ReadFile(path string) (*Codebook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// writeAtomic writes through a temporary file in the target directory and
// renames it into place.
func writeAtomic(path string, write func(io.Writer) error) error {
	fail := func(err error) error { return &errs.IOError{Path: path, Err: err} }
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fail(err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fail(err)
	}
	defer os.Remove(tmp.Name())
	if err := write(tmp); err != nil {
		tmp.Close()
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		return fail(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fail(err)
	}
	return nil
}

type encoder struct {
	w   io.Writer
	err error
}

func (e *encoder) put(v any) {
	if e.err == nil {
		e.err = binary.Write(e.w, binary.LittleEndian, v)
	}
}

func (e *encoder) raw(s string) {
	if e.err == nil {
		_, e.err = io.WriteString(e.w, s)
	}
}

func (e *encoder) str(s string) {
	if len(s) > maxStringLength {
		e.err = fmt.Errorf("string of %d bytes exceeds limit", len(s))
		return
	}
	e.put(uint32(len(s)))
	e.raw(s)
}

func (e *encoder) vector(v features.Vector) {
	e.put(v.Lsf)
	e.put(v.F0)
	e.put(v.Energy)
	e.put(v.Duration)
}

func (e *encoder) params(p features.Params) {
	e.put(uint32(p.Lsf.Order))
	e.put(p.Lsf.PreCoef)
	e.put(p.Lsf.WindowSize)
	e.put(p.Lsf.SkipSize)
	e.str(p.Lsf.WindowType)
	e.put(p.Pitch.WindowSize)
	e.put(p.Pitch.SkipSize)
	e.put(p.Pitch.VoicingThreshold)
	e.put(p.Pitch.MinF0)
	e.put(p.Pitch.MaxF0)
	e.put(p.Pitch.DoublingCheck)
	e.put(p.Pitch.HalvingCheck)
	e.put(p.Pitch.CenterClippingRatio)
	e.put(p.Energy.WindowSize)
	e.put(p.Energy.SkipSize)
}

type decoder struct {
	r   io.Reader
	err error
}

func (d *decoder) get(v any) {
	if d.err == nil {
		d.err = binary.Read(d.r, binary.LittleEndian, v)
	}
}

func (d *decoder) magic(want string) error {
	buf := make([]byte, len(want))
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return fmt.Errorf("read magic: %w", err)
	}
	if string(buf) != want {
		return fmt.Errorf("bad magic %q, want %q", buf, want)
	}
	var v uint32
	d.get(&v)
	if d.err == nil && v != formatVersion {
		return fmt.Errorf("unsupported format version %d", v)
	}
	return d.err
}

func (d *decoder) int() int {
	var v uint32
	d.get(&v)
	return int(v)
}

// count reads an element count and rejects implausible values.
func (d *decoder) count() int {
	n := d.int()
	if d.err == nil && n > 1<<28 {
		d.err = fmt.Errorf("count %d out of range", n)
	}
	return n
}

func (d *decoder) enum(values []Mode) Mode {
	i := d.int()
	if d.err != nil {
		return ""
	}
	if i >= len(values) {
		d.err = fmt.Errorf("unknown mode code %d", i)
		return ""
	}
	return values[i]
}

func (d *decoder) str() string {
	n := d.int()
	if d.err != nil {
		return ""
	}
	if n > maxStringLength {
		d.err = errors.New("string length out of range")
		return ""
	}
	buf := make([]byte, n)
	_, d.err = io.ReadFull(d.r, buf)
	return string(buf)
}

func (d *decoder) vector(order int) features.Vector {
	v := features.Vector{Lsf: make([]float64, order)}
	d.get(v.Lsf)
	d.get(&v.F0)
	d.get(&v.Energy)
	d.get(&v.Duration)
	return v
}

func (d *decoder) params() features.Params {
	var p features.Params
	p.Lsf.Order = d.int()
	d.get(&p.Lsf.PreCoef)
	d.get(&p.Lsf.WindowSize)
	d.get(&p.Lsf.SkipSize)
	p.Lsf.WindowType = d.str()
	d.get(&p.Pitch.WindowSize)
	d.get(&p.Pitch.SkipSize)
	d.get(&p.Pitch.VoicingThreshold)
	d.get(&p.Pitch.MinF0)
	d.get(&p.Pitch.MaxF0)
	d.get(&p.Pitch.DoublingCheck)
	d.get(&p.Pitch.HalvingCheck)
	d.get(&p.Pitch.CenterClippingRatio)
	d.get(&p.Energy.WindowSize)
	d.get(&p.Energy.SkipSize)
	return p
}
