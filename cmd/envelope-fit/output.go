package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cwbudde/copy-envelope/envelope"
	"github.com/cwbudde/copy-envelope/preset"
)

func writeOutputs(outputPreset, reportPath string, cfg envelope.Config, prob *problem, best []float64, rep runReport) error {
	f := preset.FromConfig(cfg)
	f.Weights = nil
	f.PerMold = prob.perMold(best)
	f.Molds = presetMoldPaths(outputPreset, prob.paths)
	if err := preset.WriteJSON(outputPreset, f); err != nil {
		return err
	}

	if reportPath == "" {
		reportPath = outputPreset + ".report.json"
	}
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(reportPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(reportPath, append(b, '\n'), 0o644)
}

// presetMoldPaths makes mold paths relative to the preset directory so the
// preset can be moved together with its molds.
func presetMoldPaths(presetPath string, paths []string) []string {
	base, err := filepath.Abs(filepath.Dir(presetPath))
	if err != nil {
		return append([]string(nil), paths...)
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			out[i] = p
			continue
		}
		rel, err := filepath.Rel(base, abs)
		if err != nil {
			out[i] = abs
			continue
		}
		out[i] = filepath.ToSlash(rel)
	}
	return out
}
