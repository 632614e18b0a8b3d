package features

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Sidecar file extensions written by the external analyser.
const (
	FeatureExt = ".feat"
	LabelExt   = ".lab"
)

// Sidecar reads the analysis the external analyser stored next to each
// recording: a msgpack-encoded Analysis in <base>.feat and, optionally, an
// xwaves label file <base>.lab which takes precedence over embedded labels.
type Sidecar struct {
	Params Params
}

// SidecarPath returns the path of the sidecar with extension ext.
func SidecarPath(recording, ext string) string {
	return strings.TrimSuffix(recording, filepath.Ext(recording)) + ext
}

func (s Sidecar) Extract(ctx context.Context, path string) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("recording: %w", err)
	}
	raw, err := os.ReadFile(SidecarPath(path, FeatureExt))
	if err != nil {
		return nil, fmt.Errorf("features: %w", err)
	}
	var a Analysis
	if err := msgpack.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("features: decode: %w", err)
	}

	f, err := os.Open(SidecarPath(path, LabelExt))
	switch {
	case err == nil:
		labels, perr := ReadLabels(f)
		f.Close()
		if perr != nil {
			return nil, fmt.Errorf("labels: %w", perr)
		}
		a.Labels = labels
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("labels: %w", err)
	}

	if err := a.Validate(s.Params.Lsf.Order); err != nil {
		return nil, err
	}
	return &a, nil
}

// ReadLabels parses an xwaves label file. Lines before a lone "#" are header;
// files without a header are read from the first line. Each entry line is
// "<end time> <colour> <phone>".
func ReadLabels(r io.Reader) ([]Label, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	body := lines
	for i, l := range lines {
		if strings.TrimSpace(l) == "#" {
			body = lines[i+1:]
			break
		}
	}
	var out []Label
	for n, l := range body {
		fields := strings.Fields(l)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 3 {
			return nil, fmt.Errorf("line %d: want 3 fields, got %d", n+1, len(fields))
		}
		end, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		out = append(out, Label{End: end, Phone: fields[2]})
	}
	return out, nil
}
