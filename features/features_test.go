package features_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/maastricht-university/codebook-trainer/cache"
	"github.com/maastricht-university/codebook-trainer/features"
)

func testParams() features.Params {
	return features.Params{
		Lsf:    features.LsfParams{Order: 1, WindowSize: 0.020, SkipSize: 0.010},
		Pitch:  features.PitchParams{WindowSize: 0.040, SkipSize: 0.005, MinF0: 40, MaxF0: 400},
		Energy: features.EnergyParams{WindowSize: 0.020, SkipSize: 0.010},
	}
}

func ramp(n int) *features.Analysis {
	a := &features.Analysis{}
	for i := 0; i < n; i++ {
		a.Lsfs = append(a.Lsfs, []float64{float64(i + 1)})
		a.Energy = append(a.Energy, float64(10*(i+1)))
	}
	for i := 0; i < 4*n; i++ {
		a.F0 = append(a.F0, 100+10*float64(i))
	}
	return a
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestAlignTruncatesToShorter(t *testing.T) {
	got := features.Align(7, ramp(5), ramp(3), features.AlignParams{Params: testParams()})
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, m := range got {
		if m.Item != 7 || m.Frame != i || m.Weight != 1 || m.Label != -1 {
			t.Errorf("mapping %d = %+v", i, m)
		}
	}
}

func TestAlignSamplesStreamsAtFrameCentre(t *testing.T) {
	got := features.Align(0, ramp(4), ramp(4), features.AlignParams{Params: testParams()})
	// Frame 3 is centred at 40ms; pitch frame round((0.04-0.02)/0.005) = 4.
	if m := got[3]; !almostEqual(m.Source.F0, 140) {
		t.Errorf("F0 = %v, want 140", m.Source.F0)
	}
	if m := got[3]; !almostEqual(m.Source.Energy, 40) {
		t.Errorf("Energy = %v, want 40", m.Source.Energy)
	}
	if m := got[0]; !almostEqual(m.Source.Duration, 0.010) {
		t.Errorf("Duration = %v, want skip size", m.Source.Duration)
	}
}

func TestAlignNeighbourAveraging(t *testing.T) {
	got := features.Align(0, ramp(4), ramp(4), features.AlignParams{Params: testParams(), Neighbours: 3})
	want := []float64{1.5, 2, 3, 3.5}
	for i, w := range want {
		if !almostEqual(got[i].Source.Lsf[0], w) {
			t.Errorf("frame %d lsf = %v, want %v", i, got[i].Source.Lsf[0], w)
		}
	}
}

func TestAlignLabels(t *testing.T) {
	src := ramp(4)
	src.Labels = []features.Label{{End: 0.025, Phone: "a"}, {End: 0.1, Phone: "t"}}
	got := features.Align(0, src, ramp(4), features.AlignParams{Params: testParams()})
	wantLabel := []int{0, 0, 1, 1}
	for i, w := range wantLabel {
		if got[i].Label != w {
			t.Errorf("frame %d label = %d, want %d", i, got[i].Label, w)
		}
	}
	if !almostEqual(got[0].Source.Duration, 0.025) || !almostEqual(got[3].Source.Duration, 0.075) {
		t.Errorf("durations = %v, %v", got[0].Source.Duration, got[3].Source.Duration)
	}
}

func TestPitchClean(t *testing.T) {
	tests := []struct {
		name    string
		p       features.PitchParams
		f0      []float64
		voicing []float64
		want    []float64
	}{
		{"range", features.PitchParams{MinF0: 50, MaxF0: 300}, []float64{30, 100, 350}, nil, []float64{0, 100, 0}},
		{"voicing", features.PitchParams{VoicingThreshold: 0.3}, []float64{100, 110}, []float64{0.1, 0.9}, []float64{0, 110}},
		{"doubling", features.PitchParams{DoublingCheck: true}, []float64{100, 210}, nil, []float64{100, 105}},
		{"halving", features.PitchParams{HalvingCheck: true}, []float64{200, 90}, nil, []float64{200, 180}},
		{"unvoiced kept", features.PitchParams{}, []float64{0, 120}, nil, []float64{0, 120}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.p.Clean(tt.f0, tt.voicing)
			for i := range tt.want {
				if !almostEqual(got[i], tt.want[i]) {
					t.Fatalf("Clean = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestReadLabels(t *testing.T) {
	in := "signal a01\nnfields 1\n#\n0.120 125 _\n0.250 125 a\n\n0.300 125 t\n"
	got, err := features.ReadLabels(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadLabels: %v", err)
	}
	if len(got) != 3 || got[1].Phone != "a" || !almostEqual(got[2].End, 0.3) {
		t.Fatalf("labels = %+v", got)
	}
	if _, err := features.ReadLabels(strings.NewReader("0.1 125\n")); err == nil {
		t.Fatal("expected error for short line")
	}
}

func writeSidecar(t *testing.T, dir, base string, a *features.Analysis) string {
	t.Helper()
	wav := filepath.Join(dir, base+".wav")
	if err := os.WriteFile(wav, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}
	raw, err := msgpack.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, base+features.FeatureExt), raw, 0o644); err != nil {
		t.Fatal(err)
	}
	return wav
}

func TestSidecarExtract(t *testing.T) {
	dir := t.TempDir()
	wav := writeSidecar(t, dir, "a01", ramp(3))
	lab := "#\n0.015 125 a\n0.040 125 b\n"
	if err := os.WriteFile(filepath.Join(dir, "a01.lab"), []byte(lab), 0o644); err != nil {
		t.Fatal(err)
	}

	s := features.Sidecar{Params: testParams()}
	a, err := s.Extract(context.Background(), wav)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if a.NumFrames() != 3 || len(a.Labels) != 2 {
		t.Fatalf("analysis = %+v", a)
	}

	p := testParams()
	p.Lsf.Order = 20
	if _, err := (features.Sidecar{Params: p}).Extract(context.Background(), wav); err == nil {
		t.Fatal("expected LSF order mismatch error")
	}
	if _, err := s.Extract(context.Background(), filepath.Join(dir, "missing.wav")); err == nil {
		t.Fatal("expected error for missing recording")
	}
}

type countingExtractor struct {
	calls atomic.Int64
}

func (c *countingExtractor) Extract(context.Context, string) (*features.Analysis, error) {
	c.calls.Add(1)
	return ramp(2), nil
}

func TestCachedReusesAndForces(t *testing.T) {
	dir := t.TempDir()
	wav := filepath.Join(dir, "a.wav")
	if err := os.WriteFile(wav, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	store := cache.NewMemory()
	inner := &countingExtractor{}

	c := &features.Cached{Extractor: inner, Store: store, Params: testParams()}
	for i := 0; i < 2; i++ {
		a, err := c.Extract(ctx, wav)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if a.NumFrames() != 2 {
			t.Fatalf("frames = %d", a.NumFrames())
		}
	}
	if n := inner.calls.Load(); n != 1 {
		t.Fatalf("extractor calls = %d, want 1", n)
	}
	if hits, misses := c.Stats(); hits != 1 || misses != 1 {
		t.Fatalf("stats = %d/%d, want 1/1", hits, misses)
	}

	forced := &features.Cached{Extractor: inner, Store: store, Params: testParams(), Force: true}
	if _, err := forced.Extract(ctx, wav); err != nil {
		t.Fatalf("forced Extract: %v", err)
	}
	if n := inner.calls.Load(); n != 2 {
		t.Fatalf("extractor calls after force = %d, want 2", n)
	}
	if store.Len() != 1 {
		t.Fatalf("store entries = %d, want overwrite in place", store.Len())
	}

	// A changed recording is a different content address.
	if err := os.WriteFile(wav, []byte("RIFF-longer"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Extract(ctx, wav); err != nil {
		t.Fatal(err)
	}
	if n := inner.calls.Load(); n != 3 {
		t.Fatalf("extractor calls after change = %d, want 3", n)
	}
}

type fixedExtractor struct{ a *features.Analysis }

func (f fixedExtractor) Extract(context.Context, string) (*features.Analysis, error) { return f.a, nil }

func TestCachedRejectsWrongOrder(t *testing.T) {
	wav := filepath.Join(t.TempDir(), "a.wav")
	if err := os.WriteFile(wav, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := testParams()
	p.Lsf.Order = 3
	store := cache.NewMemory()
	c := &features.Cached{Extractor: fixedExtractor{ramp(2)}, Store: store, Params: p}
	_, err := c.Extract(context.Background(), wav)
	if err == nil || !strings.Contains(err.Error(), "want 3") {
		t.Fatalf("err = %v, want order mismatch", err)
	}
	if store.Len() != 0 {
		t.Errorf("invalid analysis was cached")
	}
}
