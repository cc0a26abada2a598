package preflight

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tollgate/internal/assets"
	"tollgate/internal/scenes"
)

// Manifest is the YAML form of a Plan:
//
//	segments:
//	  - duration: 10
//	    content: intro narration
//	  - duration: 3.5
//	pool:
//	  key: [hero-01, hero-02]
//	  filler: [broll-01, broll-02, broll-03]
type Manifest struct {
	Segments []ManifestSegment `yaml:"segments"`
	Pool     ManifestPool      `yaml:"pool"`
}

// ManifestSegment is one timed segment. Duration is in seconds.
type ManifestSegment struct {
	Duration float64 `yaml:"duration"`
	Content  string  `yaml:"content,omitempty"`
}

// ManifestPool lists candidate asset ids per category.
type ManifestPool struct {
	Key    []string `yaml:"key"`
	Filler []string `yaml:"filler"`
}

// LoadManifest reads and parses a plan manifest. Unknown keys are rejected.
func LoadManifest(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses manifest YAML into a Plan.
func ParseManifest(data []byte) (Plan, error) {
	var manifest Manifest
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&manifest); err != nil {
		return Plan{}, fmt.Errorf("parse manifest: %w", err)
	}
	return manifest.Plan()
}

// Plan validates the manifest and converts it.
func (m Manifest) Plan() (Plan, error) {
	if len(m.Segments) == 0 {
		return Plan{}, errors.New("manifest: at least one segment required")
	}
	segments := make([]scenes.Segment, len(m.Segments))
	for i, seg := range m.Segments {
		if seg.Duration < 0 || math.IsNaN(seg.Duration) || math.IsInf(seg.Duration, 0) {
			return Plan{}, fmt.Errorf("manifest: segments[%d].duration must be a non-negative number of seconds", i)
		}
		segments[i] = scenes.Segment{
			Index:       i,
			Duration:    time.Duration(math.Round(seg.Duration * float64(time.Second))),
			ContentRef:  strings.TrimSpace(seg.Content),
			SourceIndex: i,
		}
	}
	return Plan{
		Segments: segments,
		Pool: assets.Pool{
			Key:    trimIDs(m.Pool.Key),
			Filler: trimIDs(m.Pool.Filler),
		},
	}, nil
}

func trimIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
