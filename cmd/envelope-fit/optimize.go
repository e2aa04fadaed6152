package main

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/cwbudde/copy-envelope/analysis"
	"github.com/cwbudde/mayfly"
)

// maxFailedRounds ends the search after this many consecutive rounds that
// fail without evaluating anything.
const maxFailedRounds = 3

var mayflyVariants = map[string]func() *mayfly.Config{
	"ma":      mayfly.NewDefaultConfig,
	"desma":   mayfly.NewDESMAConfig,
	"olce":    mayfly.NewOLCEConfig,
	"eobbma":  mayfly.NewEOBBMAConfig,
	"gsasma":  mayfly.NewGSASMAConfig,
	"mpma":    mayfly.NewMPMAConfig,
	"aoblmoa": mayfly.NewAOBLMOAConfig,
}

func variantNames() []string {
	names := make([]string, 0, len(mayflyVariants))
	for k := range mayflyVariants {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// weightSearch describes one mayfly run over per-mold weights. Positions are
// weights directly, bounded by [0, maxWeight].
type weightSearch struct {
	variant   string
	pop       int
	molds     int
	maxWeight float64
}

// autoPopulation sizes the swarm from the number of weights: a few
// mayflies per dimension, kept within [6, 40].
func autoPopulation(molds int) int {
	return clampInt(3*molds, 6, 40)
}

// iterations converts an evaluation budget into mayfly iterations. Each
// iteration evaluates both populations plus their offspring.
func (s weightSearch) iterations(budget int) int {
	perIter := 2*s.pop + s.offspring()
	return maxInt(1, budget/perIter)
}

// offspring is the number of children per iteration: one pair per mold
// weight, at least two.
func (s weightSearch) offspring() int {
	return 2 * maxInt(1, minInt(s.molds, s.pop/2))
}

func (s weightSearch) config(iters int) (*mayfly.Config, error) {
	newConfig, ok := mayflyVariants[s.variant]
	if !ok {
		return nil, fmt.Errorf("unsupported variant %q (want one of %v)", s.variant, variantNames())
	}
	if s.molds < 1 {
		return nil, fmt.Errorf("no weights to fit")
	}
	cfg := newConfig()
	cfg.ProblemSize = s.molds
	cfg.LowerBound = 0
	cfg.UpperBound = s.maxWeight
	cfg.MaxIterations = iters
	cfg.NPop = s.pop
	cfg.NPopF = s.pop
	cfg.NC = s.offspring()
	// A single weight has nothing to recombine; mutate more instead.
	cfg.NM = maxInt(1, s.pop/(2*s.molds))
	return cfg, nil
}

func runMayfly(cfg *mayfly.Config) (_ *mayfly.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mayfly panic: %v", r)
		}
	}()
	return mayfly.Optimize(cfg)
}

type fitLimits struct {
	maxEvals    int
	roundEvals  int
	reportEvery int
	deadline    time.Time
	seed        int64
}

type fitResult struct {
	best    []float64
	metrics analysis.Metrics
	evals   int
	rounds  int
}

// fit starts from uniform weights and runs mayfly rounds until the
// evaluation budget or the deadline is spent. The best weights seen by any
// objective call win.
func fit(prob *problem, s weightSearch, lim fitLimits, optimize func(*mayfly.Config) (*mayfly.Result, error), out io.Writer) (fitResult, error) {
	start := time.Now()
	reportEvery := maxInt(1, lim.reportEvery)
	res := fitResult{best: prob.uniform()}
	m, err := prob.evaluate(res.best)
	if err != nil {
		return res, fmt.Errorf("initial evaluation failed: %w", err)
	}
	res.metrics = m
	res.evals = 1
	fmt.Fprintf(out, "Start score=%.4f similarity=%.2f%%\n", m.Score, m.Similarity*100.0)

	improves := 0
	failed := 0
	for res.evals < lim.maxEvals && time.Now().Before(lim.deadline) {
		res.rounds++
		round := res.rounds
		budget := minInt(lim.roundEvals, lim.maxEvals-res.evals)
		roundStart := res.evals

		cfg, err := s.config(s.iterations(budget))
		if err != nil {
			return res, fmt.Errorf("invalid mayfly settings: %w", err)
		}
		cfg.Rand = rand.New(rand.NewSource(lim.seed + int64(round)*7919))
		cfg.ObjectiveFunc = func(pos []float64) float64 {
			if res.evals >= lim.maxEvals || time.Now().After(lim.deadline) {
				return res.metrics.Score + 1.0
			}
			w := prob.weights(pos, s.maxWeight)
			m, err := prob.evaluate(w)
			res.evals++
			if err != nil {
				return res.metrics.Score + 0.8
			}
			if m.Score < res.metrics.Score {
				res.best = w
				res.metrics = m
				improves++
				fmt.Fprintf(out, "Improved #%d eval=%d score=%.4f sim=%.2f%%\n", improves, res.evals, m.Score, m.Similarity*100.0)
			}
			if res.evals%reportEvery == 0 {
				fmt.Fprintf(out, "Progress round=%d eval=%d elapsed=%.1fs best=%.4f\n", round, res.evals, time.Since(start).Seconds(), res.metrics.Score)
			}
			return m.Score
		}

		if _, err := optimize(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "mayfly round %d failed: %v\n", round, err)
			if res.evals == roundStart {
				failed++
				if failed >= maxFailedRounds {
					fmt.Fprintf(os.Stderr, "stopping after %d failed rounds\n", failed)
					break
				}
			}
			continue
		}
		failed = 0
	}
	return res, nil
}
