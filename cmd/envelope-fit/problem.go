package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/cwbudde/copy-envelope/analysis"
	"github.com/cwbudde/copy-envelope/audiofile"
	"github.com/cwbudde/copy-envelope/envelope"
	"github.com/cwbudde/copy-envelope/pipeline"
)

// problem holds the conditioned mold envelopes and the target envelope they
// are fitted against. All envelopes share the target's rate and length.
type problem struct {
	envs       [][]float64
	paths      []string
	names      []string
	target     []float64
	sampleRate int
}

func loadProblem(target *audiofile.Buffer, paths []string, cfg envelope.Config, workers int) (*problem, []pipeline.MoldFailure, error) {
	sr := target.SampleRate
	frames := target.Frames()
	raw, err := envelope.Extract(target.Mono(), cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("target envelope: %w", err)
	}
	tgt, err := envelope.Condition(raw, cfg, sr, frames)
	if err != nil {
		return nil, nil, fmt.Errorf("target envelope: %w", err)
	}

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = minInt(workers, len(paths))
	envs := make([][]float64, len(paths))
	errs := make([]error, len(paths))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				envs[i], errs[i] = pipeline.MoldEnvelope(paths[i], cfg, sr, frames)
			}
		}()
	}
	for i := range paths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	p := &problem{target: tgt, sampleRate: sr}
	var skipped []pipeline.MoldFailure
	for i, path := range paths {
		if errs[i] != nil {
			skipped = append(skipped, pipeline.MoldFailure{Path: path, Err: errs[i]})
			continue
		}
		p.envs = append(p.envs, envs[i])
		p.paths = append(p.paths, path)
		p.names = append(p.names, filepath.Base(path))
	}
	if len(p.envs) == 0 {
		return nil, skipped, &pipeline.NoValidMoldsError{Attempted: len(paths), Failures: skipped}
	}
	if dup := duplicateName(p.names); dup != "" {
		return nil, skipped, fmt.Errorf("mold file name %q is used twice; per_mold weights are keyed by file name", dup)
	}
	return p, skipped, nil
}

func duplicateName(names []string) string {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return n
		}
		seen[n] = true
	}
	return ""
}

// weights maps a normalized optimizer position onto [0, maxWeight].
func (p *problem) weights(pos []float64, maxWeight float64) []float64 {
	w := make([]float64, len(p.envs))
	for i := range w {
		if i < len(pos) {
			w[i] = clamp(pos[i], 0, maxWeight)
		}
	}
	return w
}

func (p *problem) uniform() []float64 {
	w := make([]float64, len(p.envs))
	for i := range w {
		w[i] = 1
	}
	return w
}

func (p *problem) evaluate(w []float64) (analysis.Metrics, error) {
	if len(w) != len(p.envs) {
		return analysis.Metrics{}, errors.New("weight count does not match molds")
	}
	combined, err := envelope.Combine(p.envs, envelope.CombineWeighted, w)
	if err != nil {
		return analysis.Metrics{}, err
	}
	return analysis.Tracking(combined, p.target, p.sampleRate), nil
}

func (p *problem) perMold(w []float64) map[string]float64 {
	out := make(map[string]float64, len(p.names))
	for i, n := range p.names {
		if i < len(w) {
			out[n] = w[i]
		}
	}
	return out
}
