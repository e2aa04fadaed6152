package preset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cwbudde/copy-envelope/envelope"
)

// File is the JSON schema for envelope presets.
type File struct {
	Mode        *string   `json:"mode,omitempty"`
	Frame       *int      `json:"frame,omitempty"`
	Hop         *int      `json:"hop,omitempty"`
	AttackMs    *float64  `json:"attack_ms,omitempty"`
	ReleaseMs   *float64  `json:"release_ms,omitempty"`
	FloorDB     *float64  `json:"floor_db,omitempty"`
	CombineMode *string   `json:"combine_mode,omitempty"`
	Weights     []float64 `json:"weights,omitempty"`
	MatchLUFS   *bool     `json:"match_lufs,omitempty"`
	BPM         *float64  `json:"bpm,omitempty"`
	// Molds are default mold paths, relative to the preset file.
	Molds []string `json:"molds,omitempty"`
	// PerMold maps a mold file name to its weight for weighted combining.
	PerMold map[string]float64 `json:"per_mold,omitempty"`
}

// Preset is a resolved preset: envelope settings plus optional molds and
// per-mold weights.
type Preset struct {
	Config  envelope.Config
	Molds   []string
	PerMold map[string]float64
}

// New returns a preset holding the default envelope settings.
func New() *Preset {
	return &Preset{Config: envelope.DefaultConfig()}
}

// LoadJSON loads a preset JSON file and applies it on top of the defaults.
func LoadJSON(path string) (*Preset, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f File
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	p := New()
	if err := ApplyFile(p, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	base := filepath.Dir(path)
	for i, m := range p.Molds {
		if !filepath.IsAbs(m) {
			p.Molds[i] = filepath.Clean(filepath.Join(base, m))
		}
	}
	return p, nil
}

// ApplyFile applies a parsed preset file onto an existing preset.
func ApplyFile(dst *Preset, f *File) error {
	if dst == nil {
		return fmt.Errorf("nil destination preset")
	}
	if f == nil {
		return nil
	}
	c := &dst.Config

	if f.Mode != nil {
		c.Mode = envelope.ParseMode(*f.Mode)
	}
	if f.Frame != nil {
		if *f.Frame <= 0 {
			return fmt.Errorf("frame must be > 0")
		}
		c.Frame = *f.Frame
	}
	if f.Hop != nil {
		if *f.Hop <= 0 {
			return fmt.Errorf("hop must be > 0")
		}
		c.Hop = *f.Hop
	}
	if f.AttackMs != nil {
		if *f.AttackMs < 0 {
			return fmt.Errorf("attack_ms must be >= 0")
		}
		c.AttackMs = *f.AttackMs
	}
	if f.ReleaseMs != nil {
		if *f.ReleaseMs < 0 {
			return fmt.Errorf("release_ms must be >= 0")
		}
		c.ReleaseMs = *f.ReleaseMs
	}
	if f.FloorDB != nil {
		c.FloorDB = *f.FloorDB
	}
	if f.CombineMode != nil {
		c.Combine = envelope.ParseCombineMode(*f.CombineMode)
	}
	if len(f.Weights) > 0 {
		c.Weights = append([]float64(nil), f.Weights...)
	}
	if f.MatchLUFS != nil {
		c.MatchLoudness = *f.MatchLUFS
	}
	if f.BPM != nil {
		if *f.BPM <= 0 {
			return fmt.Errorf("bpm must be > 0")
		}
		c.BPM = *f.BPM
	}
	for _, m := range f.Molds {
		if m = strings.TrimSpace(m); m != "" {
			dst.Molds = append(dst.Molds, m)
		}
	}

	if len(f.PerMold) > 0 {
		if dst.PerMold == nil {
			dst.PerMold = make(map[string]float64, len(f.PerMold))
		}
		keys := make([]string, 0, len(f.PerMold))
		for k := range f.PerMold {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			w := f.PerMold[k]
			if strings.TrimSpace(k) == "" {
				return fmt.Errorf("per_mold has an empty key")
			}
			if w < 0 {
				return fmt.Errorf("per_mold[%q] must be >= 0", k)
			}
			dst.PerMold[k] = w
		}
	}
	return c.Validate()
}

// WeightsFor returns one weight per mold, looked up by file name in
// PerMold. Without per-mold entries the configured weights are returned
// unchanged.
func (p *Preset) WeightsFor(molds []string) ([]float64, error) {
	if len(p.PerMold) == 0 {
		return p.Config.Weights, nil
	}
	out := make([]float64, len(molds))
	for i, m := range molds {
		w, ok := p.PerMold[filepath.Base(m)]
		if !ok {
			return nil, fmt.Errorf("per_mold has no weight for %q", filepath.Base(m))
		}
		out[i] = w
	}
	return out, nil
}

// FromConfig returns a fully populated File for cfg.
func FromConfig(cfg envelope.Config) *File {
	mode := string(cfg.Mode)
	combine := string(cfg.Combine)
	return &File{
		Mode:        &mode,
		Frame:       &cfg.Frame,
		Hop:         &cfg.Hop,
		AttackMs:    &cfg.AttackMs,
		ReleaseMs:   &cfg.ReleaseMs,
		FloorDB:     &cfg.FloorDB,
		CombineMode: &combine,
		Weights:     append([]float64(nil), cfg.Weights...),
		MatchLUFS:   &cfg.MatchLoudness,
		BPM:         &cfg.BPM,
	}
}

// WriteJSON writes f as indented JSON, creating parent directories.
func WriteJSON(path string, f *File) error {
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}
