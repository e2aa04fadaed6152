package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cwbudde/copy-envelope/analysis"
	"github.com/cwbudde/copy-envelope/audiofile"
	"github.com/cwbudde/copy-envelope/internal/cliutil"
	"github.com/cwbudde/copy-envelope/pipeline"
	"github.com/cwbudde/copy-envelope/preset"
	"github.com/cwbudde/copy-envelope/shaper"
)

type skippedMold struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type runReport struct {
	RunID       string           `json:"run_id"`
	Destination string           `json:"destination"`
	Output      string           `json:"output"`
	Preset      string           `json:"preset,omitempty"`
	Genre       string           `json:"genre,omitempty"`
	SampleRate  int              `json:"sample_rate"`
	Frames      int              `json:"frames"`
	ElapsedSec  float64          `json:"elapsed_seconds"`
	Settings    *preset.File     `json:"settings"`
	Used        []string         `json:"used_molds"`
	Skipped     []skippedMold    `json:"skipped_molds,omitempty"`
	Loudness    shaper.Match     `json:"loudness"`
	Tracking    analysis.Metrics `json:"tracking"`
}

func buildReport(pl *plan, res *pipeline.Result) (*runReport, error) {
	out, err := audiofile.Load(res.Output, 0)
	if err != nil {
		return nil, err
	}
	rep := &runReport{
		RunID:       res.RunID,
		Destination: pl.Request.Destination,
		Output:      res.Output,
		Preset:      pl.Preset,
		Genre:       pl.Genre,
		SampleRate:  res.SampleRate,
		Frames:      res.Frames,
		ElapsedSec:  res.Elapsed.Seconds(),
		Settings:    preset.FromConfig(pl.Request.Config),
		Used:        res.Used,
		Loudness:    res.Loudness,
		Tracking:    analysis.Tracking(out.Mono(), res.Envelope, res.SampleRate),
	}
	for _, s := range res.Skipped {
		rep.Skipped = append(rep.Skipped, skippedMold{Path: s.Path, Error: s.Err.Error()})
	}
	return rep, nil
}

func writeReport(path string, pl *plan, res *pipeline.Result) error {
	rep, err := buildReport(pl, res)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

func printSummary(w io.Writer, res *pipeline.Result) {
	fmt.Fprintln(w, cliutil.TitleStyle.Render("Envelope copied"))
	cliutil.PrintKV(w, "Output", res.Output)
	cliutil.PrintKV(w, "Molds", fmt.Sprintf("%d used, %d skipped", len(res.Used), len(res.Skipped)))
	cliutil.PrintKV(w, "Audio", fmt.Sprintf("%d samples @ %d Hz", res.Frames, res.SampleRate))
	if res.Loudness.Applied {
		cliutil.PrintKV(w, "Loudness", fmt.Sprintf("%.2f LUFS (%+.2f dB)", res.Loudness.ReferenceLUFS, res.Loudness.GainDB))
	}
	cliutil.PrintKV(w, "Elapsed", res.Elapsed.Round(time.Millisecond).String())
	for _, s := range res.Skipped {
		fmt.Fprintf(w, "%s %s: %v\n", cliutil.WarnStyle.Render("skipped"), filepath.Base(s.Path), s.Err)
	}
}
