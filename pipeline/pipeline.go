// Package pipeline runs one envelope transfer: load a destination, extract
// and condition an envelope from every mold, combine them, shape the
// destination and write the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/cwbudde/copy-envelope/audiofile"
	"github.com/cwbudde/copy-envelope/envelope"
	"github.com/cwbudde/copy-envelope/shaper"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Progress checkpoints. Mold i of N reports
// progressLoaded + progressMoldsBand*i/N.
const (
	progressStart     = 2
	progressLoaded    = 5
	progressMoldsBand = 60
	progressCombine   = 70
	progressApplied   = 90
	progressDone      = 100
)

// Request describes one run. Mold order matters only for weighted combining.
type Request struct {
	Destination string
	Molds       []string
	Output      string
	Config      envelope.Config
}

// Result reports a successful run.
type Result struct {
	RunID  string
	Output string

	SampleRate int
	Frames     int
	// Envelope is the combined, floored envelope applied to the destination.
	Envelope []float64

	Used     []string
	Skipped  []MoldFailure
	Loudness shaper.Match
	Elapsed  time.Duration
}

// Runner executes requests. The zero value is usable: one worker, no
// loudness meter, logging discarded.
type Runner struct {
	// Workers bounds parallel mold extraction. 0 uses GOMAXPROCS.
	Workers int
	// Meter measures loudness when a request asks for loudness matching.
	// Nil skips the match.
	Meter        shaper.LoudnessMeter
	Logger       logrus.FieldLogger
	WriteOptions audiofile.WriteOptions
}

// NewRunner returns a Runner with the EBU R128 meter and the given logger.
func NewRunner(logger logrus.FieldLogger) *Runner {
	return &Runner{Meter: shaper.R128Meter{}, Logger: logger}
}

func (r *Runner) logger() logrus.FieldLogger {
	if r.Logger != nil {
		return r.Logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func (r *Runner) workers(n int) int {
	w := r.Workers
	if w == 0 {
		w = runtime.GOMAXPROCS(0)
	}
	return max(1, min(w, n))
}

// Run executes req. Mold decode failures are logged and skipped; every other
// failure aborts the run and is returned unchanged. Nothing is written at
// req.Output unless Run succeeds. ctx is checked between molds and before
// writing.
func (r *Runner) Run(ctx context.Context, req Request, sink ProgressSink) (*Result, error) {
	if sink == nil {
		sink = Discard
	}
	started := time.Now()
	runID := uuid.New().String()
	log := r.logger().WithFields(logrus.Fields{
		"run":         runID,
		"destination": req.Destination,
		"molds":       len(req.Molds),
	})
	g := &progressGuard{sink: sink}

	cfg := req.Config
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := cfg.CheckWeights(len(req.Molds)); err != nil {
		log.WithError(err).Warn("rejecting request")
		return nil, err
	}

	g.step(progressStart, "Loading destination: %s", filepath.Base(req.Destination))
	dst, err := audiofile.Load(req.Destination, 0)
	if err != nil {
		log.WithError(err).Error("destination load failed")
		return nil, err
	}
	mono := dst.Mono()
	sr := dst.SampleRate
	n := len(mono)
	g.step(progressLoaded, "Destination: %d samples @ %d Hz (%d ch)", n, sr, dst.NumChannels())
	log.WithFields(logrus.Fields{"sample_rate": sr, "frames": n, "channels": dst.NumChannels()}).Debug("destination loaded")

	envs, used, skipped, err := r.moldEnvelopes(ctx, req.Molds, cfg, sr, n, g, log)
	if err != nil {
		return nil, err
	}
	if len(envs) == 0 {
		err := &NoValidMoldsError{Attempted: len(req.Molds), Failures: skipped}
		log.WithError(err).Error("no mold envelopes")
		return nil, err
	}

	weights := cfg.Weights
	if cfg.Combine == envelope.CombineWeighted {
		weights = alignWeights(cfg.Weights, req.Molds, used)
	}
	g.step(progressCombine, "Combining %d envelope(s) with %s", len(envs), cfg.Combine)
	combined, err := envelope.Combine(envs, cfg.Combine, weights)
	if err != nil {
		return nil, err
	}
	envelope.ClampFloor(combined, cfg.FloorDB)

	out, match, err := shaper.Render(dst, combined, shaper.Options{
		MatchLoudness: cfg.MatchLoudness,
		Meter:         r.Meter,
	})
	if err != nil {
		return nil, err
	}
	g.step(progressApplied, "Envelope applied")
	if match.Applied {
		g.logf("Loudness match: %.2f LUFS -> %.2f LUFS (%+.2f dB)", match.ProcessedLUFS, match.ReferenceLUFS, match.GainDB)
	} else if cfg.MatchLoudness {
		g.logf("Loudness match skipped")
	}

	if err := ctx.Err(); err != nil {
		log.WithError(err).Warn("run cancelled before write")
		return nil, err
	}
	if err := audiofile.Write(req.Output, out, r.WriteOptions); err != nil {
		log.WithError(err).Error("write failed")
		return nil, err
	}
	g.step(progressDone, "Saved: %s", req.Output)

	res := &Result{
		RunID:      runID,
		Output:     req.Output,
		SampleRate: sr,
		Frames:     n,
		Envelope:   combined,
		Used:       used,
		Skipped:    skipped,
		Loudness:   match,
		Elapsed:    time.Since(started),
	}
	log.WithFields(logrus.Fields{
		"output":  req.Output,
		"used":    len(used),
		"skipped": len(skipped),
		"elapsed": res.Elapsed.String(),
	}).Info("run complete")
	return res, nil
}

func (req Request) validate() error {
	if req.Destination == "" {
		return errors.New("destination path is empty")
	}
	if req.Output == "" {
		return errors.New("output path is empty")
	}
	return req.Config.Validate()
}

type moldResult struct {
	env []float64
	err error
}

// moldEnvelopes extracts and conditions every mold, in parallel when the
// runner allows it, and reports them in request order.
func (r *Runner) moldEnvelopes(
	ctx context.Context,
	paths []string,
	cfg envelope.Config,
	sampleRate, frames int,
	g *progressGuard,
	log logrus.FieldLogger,
) ([][]float64, []string, []MoldFailure, error) {
	total := len(paths)
	if total == 0 {
		return nil, nil, nil, nil
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make([]chan moldResult, total)
	for i := range done {
		done[i] = make(chan moldResult, 1)
	}
	jobs := make(chan int)

	for range r.workers(total) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					done[i] <- moldResult{err: err}
					continue
				}
				env, err := MoldEnvelope(paths[i], cfg, sampleRate, frames)
				done[i] <- moldResult{env: env, err: err}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for i := range total {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	var (
		envs    [][]float64
		used    []string
		skipped []MoldFailure
	)
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			log.WithError(err).Warn("run cancelled")
			return nil, nil, nil, err
		}
		name := filepath.Base(p)
		var res moldResult
		select {
		case res = <-done[i]:
		case <-ctx.Done():
			log.WithError(ctx.Err()).Warn("run cancelled")
			return nil, nil, nil, ctx.Err()
		}
		if res.err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, nil, ctxErr
			}
			g.logf("Skipping mold %s: %v", name, res.err)
			log.WithError(res.err).WithField("mold", p).Warn("mold skipped")
			skipped = append(skipped, MoldFailure{Path: p, Err: res.err})
		} else {
			envs = append(envs, res.env)
			used = append(used, p)
			g.logf("Mold %d/%d: %s", i+1, total, name)
			log.WithField("mold", p).Debug("mold envelope ready")
		}
		g.progress(progressLoaded + progressMoldsBand*(i+1)/total)
	}
	return envs, used, skipped, nil
}

// MoldEnvelope loads path at sampleRate and returns its conditioned envelope,
// frames samples long.
func MoldEnvelope(path string, cfg envelope.Config, sampleRate, frames int) ([]float64, error) {
	buf, err := audiofile.Load(path, sampleRate)
	if err != nil {
		return nil, err
	}
	raw, err := envelope.Extract(buf.Mono(), cfg)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", path, err)
	}
	return envelope.Condition(raw, cfg, sampleRate, frames)
}

// alignWeights drops the weights of skipped molds so the remaining weights
// line up with the envelopes that were produced. A single shared weight is
// returned as is.
func alignWeights(weights []float64, requested, used []string) []float64 {
	if len(weights) != len(requested) || len(used) == len(requested) {
		return weights
	}
	out := make([]float64, 0, len(used))
	j := 0
	for i, p := range requested {
		if j < len(used) && used[j] == p {
			out = append(out, weights[i])
			j++
		}
	}
	return out
}
