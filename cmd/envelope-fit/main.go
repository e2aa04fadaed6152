package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cwbudde/copy-envelope/analysis"
	"github.com/cwbudde/copy-envelope/audiofile"
	"github.com/cwbudde/copy-envelope/envelope"
	"github.com/cwbudde/copy-envelope/internal/cliutil"
	"github.com/cwbudde/copy-envelope/molds"
	"github.com/cwbudde/copy-envelope/preset"
)

type runReport struct {
	TargetPath     string             `json:"target_path"`
	PresetPath     string             `json:"preset_path,omitempty"`
	OutputPreset   string             `json:"output_preset"`
	SampleRate     int                `json:"sample_rate"`
	DurationSec    float64            `json:"elapsed_seconds"`
	Evaluations    int                `json:"evaluations"`
	MayflyVariant  string             `json:"mayfly_variant"`
	BestScore      float64            `json:"best_score"`
	BestSimilarity float64            `json:"best_similarity"`
	BestMetrics    analysis.Metrics   `json:"best_metrics"`
	BestWeights    map[string]float64 `json:"best_weights"`
}

func main() {
	targetPath := flag.String("target", "", "Clip whose loudness contour the combined molds should follow")
	moldsArg := flag.String("molds", "", "Comma-separated mold files or folders")
	presetPath := flag.String("preset", "", "Optional base preset JSON (envelope settings and molds)")
	outputPreset := flag.String("output-preset", "fitted.json", "Path to write the fitted preset JSON")
	reportPath := flag.String("report", "", "Optional report JSON path (default: <output-preset>.report.json)")
	workersArg := flag.String("workers", "auto", "Parallel mold loaders: integer >= 1 or 'auto'")
	seed := flag.Int64("seed", 1, "Random seed")
	timeBudget := flag.Float64("time-budget", 60.0, "Optimization time budget in seconds")
	maxEvals := flag.Int("max-evals", 4000, "Maximum objective evaluations")
	reportEvery := flag.Int("report-every", 100, "Print progress every N evaluations")
	maxWeight := flag.Float64("max-weight", 4.0, "Upper bound for every fitted weight")

	mayflyVariant := flag.String("mayfly-variant", "desma", "Mayfly variant: ma|desma|olce|eobbma|gsasma|mpma|aoblmoa")
	mayflyPop := flag.Int("mayfly-pop", 0, "Male and female population size per Mayfly run (0 = sized from the mold count)")
	mayflyRoundEvals := flag.Int("mayfly-round-evals", 400, "Target eval budget per Mayfly round")
	flag.Parse()

	if *targetPath == "" {
		die("target is required")
	}
	if *maxEvals < 1 {
		die("max-evals must be >= 1")
	}
	if *timeBudget <= 0 {
		die("time-budget must be > 0")
	}
	if *maxWeight <= 0 {
		die("max-weight must be > 0")
	}
	if *reportEvery < 1 {
		*reportEvery = 1
	}
	workers, err := cliutil.ParseWorkers(*workersArg)
	if err != nil {
		die("invalid workers: %v", err)
	}

	base := preset.New()
	if *presetPath != "" {
		base, err = preset.LoadJSON(*presetPath)
		if err != nil {
			die("failed to load preset: %v", err)
		}
	}
	cfg := base.Config
	cfg.Combine = envelope.CombineWeighted
	cfg.Weights = nil

	moldArgs := base.Molds
	if strings.TrimSpace(*moldsArg) != "" {
		moldArgs = splitList(*moldsArg)
	}
	moldPaths, err := molds.Collect(moldArgs)
	if err != nil {
		die("failed to collect molds: %v", err)
	}
	if len(moldPaths) == 0 {
		die("no molds given")
	}

	target, err := audiofile.Load(*targetPath, 0)
	if err != nil {
		die("failed to read target: %v", err)
	}
	prob, skipped, err := loadProblem(target, moldPaths, cfg, workers)
	if err != nil {
		die("%v", err)
	}
	for _, s := range skipped {
		fmt.Fprintf(os.Stderr, "skipping mold %s: %v\n", s.Path, s.Err)
	}
	search := weightSearch{
		variant:   strings.ToLower(*mayflyVariant),
		pop:       *mayflyPop,
		molds:     len(prob.envs),
		maxWeight: *maxWeight,
	}
	if search.pop == 0 {
		search.pop = autoPopulation(search.molds)
	}
	search.pop = maxInt(search.pop, 2)
	if *mayflyRoundEvals < search.pop*2 {
		*mayflyRoundEvals = search.pop * 2
	}
	variant := search.variant
	fmt.Printf("Fitting %d mold weight(s) against %s (%d samples @ %d Hz)\n", len(prob.names), filepath.Base(*targetPath), len(prob.target), prob.sampleRate)

	start := time.Now()
	res, err := fit(prob, search, fitLimits{
		maxEvals:    *maxEvals,
		roundEvals:  *mayflyRoundEvals,
		reportEvery: *reportEvery,
		deadline:    start.Add(time.Duration(*timeBudget * float64(time.Second))),
		seed:        *seed,
	}, runMayfly, os.Stdout)
	if err != nil {
		die("%v", err)
	}
	best, bestM, evals := res.best, res.metrics, res.evals

	elapsed := time.Since(start).Seconds()
	rep := runReport{
		TargetPath:     *targetPath,
		PresetPath:     *presetPath,
		OutputPreset:   *outputPreset,
		SampleRate:     prob.sampleRate,
		DurationSec:    elapsed,
		Evaluations:    evals,
		MayflyVariant:  variant,
		BestScore:      bestM.Score,
		BestSimilarity: bestM.Similarity,
		BestMetrics:    bestM,
		BestWeights:    prob.perMold(best),
	}
	if err := writeOutputs(*outputPreset, *reportPath, cfg, prob, best, rep); err != nil {
		die("failed to write outputs: %v", err)
	}
	fmt.Printf("Done evals=%d elapsed=%.1fs best_score=%.4f best_similarity=%.2f%% variant=%s\n", evals, elapsed, bestM.Score, bestM.Similarity*100.0, variant)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
