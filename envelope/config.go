// Package envelope extracts, conditions and combines amplitude envelopes.
//
// A raw envelope is produced from a mono signal by one of two detectors
// (analytic-signal magnitude or framed RMS). Conditioning peak-normalizes it,
// runs an asymmetric attack/release smoother and loops it to a target
// length. Several conditioned envelopes are merged per sample by a
// CombineMode and floored at a minimum level.
package envelope

import (
	"fmt"
	"math"
	"strings"
)

// Mode selects the envelope detector.
type Mode string

const (
	ModeHilbert Mode = "hilbert"
	ModeRMS     Mode = "rms"
)

// ParseMode maps a user string to a Mode. Anything other than "rms" selects
// the analytic detector.
func ParseMode(s string) Mode {
	if strings.ToLower(strings.TrimSpace(s)) == string(ModeRMS) {
		return ModeRMS
	}
	return ModeHilbert
}

// CombineMode is the per-sample reduction used to merge several envelopes.
type CombineMode string

const (
	CombineMax        CombineMode = "max"
	CombineMean       CombineMode = "mean"
	CombineGeomMean   CombineMode = "geom_mean"
	CombineProduct    CombineMode = "product"
	CombineSumLimited CombineMode = "sum_limited"
	CombineWeighted   CombineMode = "weighted"
)

// CombineModes lists every supported reduction.
var CombineModes = []CombineMode{
	CombineMax, CombineMean, CombineGeomMean, CombineProduct, CombineSumLimited, CombineWeighted,
}

// ParseCombineMode maps a user string to a CombineMode. Unknown or empty
// strings fall back to CombineMax.
func ParseCombineMode(s string) CombineMode {
	v := CombineMode(strings.ToLower(strings.TrimSpace(s)))
	for _, m := range CombineModes {
		if v == m {
			return m
		}
	}
	return CombineMax
}

// Config holds every envelope setting for one run.
type Config struct {
	Mode Mode
	// Frame and Hop are the RMS detector window and stride in samples.
	Frame int
	Hop   int

	AttackMs  float64
	ReleaseMs float64
	FloorDB   float64

	Combine CombineMode
	// Weights apply to CombineWeighted only, one per mold or a single
	// weight shared by all molds.
	Weights []float64

	MatchLoudness bool

	// BPM is accepted for compatibility with saved settings and is not used
	// by any processing stage.
	BPM float64
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		Mode:      ModeHilbert,
		Frame:     2048,
		Hop:       512,
		AttackMs:  1.0,
		ReleaseMs: 0.5,
		FloorDB:   -40.0,
		Combine:   CombineMax,
		BPM:       100,
	}
}

// Validate checks settings that do not depend on the mold count.
func (c Config) Validate() error {
	if c.Mode == ModeRMS {
		if c.Frame <= 0 {
			return fmt.Errorf("frame must be > 0, got %d", c.Frame)
		}
		if c.Hop <= 0 {
			return fmt.Errorf("hop must be > 0, got %d", c.Hop)
		}
	}
	if !(c.AttackMs >= 0) || math.IsInf(c.AttackMs, 0) {
		return fmt.Errorf("attack_ms must be a finite value >= 0, got %v", c.AttackMs)
	}
	if !(c.ReleaseMs >= 0) || math.IsInf(c.ReleaseMs, 0) {
		return fmt.Errorf("release_ms must be a finite value >= 0, got %v", c.ReleaseMs)
	}
	if math.IsNaN(c.FloorDB) || math.IsInf(c.FloorDB, 1) {
		return fmt.Errorf("floor_db must be a number below +Inf, got %v", c.FloorDB)
	}
	for i, w := range c.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("weights[%d] is not finite", i)
		}
	}
	return nil
}

// CheckWeights reports an *InvalidWeightsError when the weighted mode is
// selected and the weight count matches neither 1 nor numMolds.
func (c Config) CheckWeights(numMolds int) error {
	if c.Combine != CombineWeighted {
		return nil
	}
	return checkWeights(c.Weights, numMolds)
}

func checkWeights(weights []float64, m int) error {
	if len(weights) == 1 || (len(weights) == m && m > 0) {
		return nil
	}
	return &InvalidWeightsError{Got: len(weights), Want: m}
}
