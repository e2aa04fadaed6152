package main

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/cwbudde/copy-envelope/envelope"
	"github.com/cwbudde/copy-envelope/molds"
	"github.com/cwbudde/copy-envelope/pipeline"
	"github.com/cwbudde/copy-envelope/preset"
)

// plan is a fully resolved run: the pipeline request plus where its settings
// came from.
type plan struct {
	Request pipeline.Request
	Preset  string
	Genre   string
}

func buildPlan(cli *CLI) (*plan, error) {
	p := preset.New()
	if cli.Preset != "" {
		var err error
		p, err = preset.LoadJSON(cli.Preset)
		if err != nil {
			return nil, err
		}
	}
	cfg := p.Config
	applyFlags(&cfg, cli)

	moldArgs := cli.Molds
	if len(moldArgs) == 0 {
		moldArgs = p.Molds
	}
	if cli.Genre != "" {
		picked, err := pickGenre(cli)
		if err != nil {
			return nil, err
		}
		moldArgs = append(append([]string(nil), moldArgs...), picked...)
	}
	moldPaths, err := molds.Collect(moldArgs)
	if err != nil {
		return nil, err
	}
	if len(moldPaths) == 0 {
		return nil, errors.New("no molds given: pass mold files or folders, a preset with molds, or --genre")
	}

	if cli.Weights != "" {
		w, err := molds.ParseWeights(cli.Weights)
		if err != nil {
			return nil, err
		}
		cfg.Weights = w
	} else if len(p.PerMold) > 0 && cfg.Combine == envelope.CombineWeighted {
		w, err := p.WeightsFor(moldPaths)
		if err != nil {
			return nil, err
		}
		cfg.Weights = w
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	out := cli.Output
	if cli.AutoName {
		out = molds.AutoName(cli.Destination, moldPaths, cli.Output)
	}
	return &plan{
		Request: pipeline.Request{
			Destination: cli.Destination,
			Molds:       moldPaths,
			Output:      out,
			Config:      cfg,
		},
		Preset: cli.Preset,
		Genre:  cli.Genre,
	}, nil
}

// applyFlags layers the flags that were set on top of cfg.
func applyFlags(cfg *envelope.Config, cli *CLI) {
	if cli.Mode != nil {
		cfg.Mode = envelope.ParseMode(*cli.Mode)
	}
	if cli.Frame != nil {
		cfg.Frame = *cli.Frame
	}
	if cli.Hop != nil {
		cfg.Hop = *cli.Hop
	}
	if cli.AttackMs != nil {
		cfg.AttackMs = *cli.AttackMs
	}
	if cli.ReleaseMs != nil {
		cfg.ReleaseMs = *cli.ReleaseMs
	}
	if cli.FloorDB != nil {
		cfg.FloorDB = *cli.FloorDB
	}
	if cli.Combine != nil {
		cfg.Combine = envelope.ParseCombineMode(*cli.Combine)
	}
	if cli.MatchLUFS != nil {
		cfg.MatchLoudness = *cli.MatchLUFS
	}
	if cli.BPM != nil {
		cfg.BPM = *cli.BPM
	}
}

func pickGenre(cli *CLI) ([]string, error) {
	root := cli.Library
	if root == "" {
		root = molds.DefaultLibraryRoot()
	}
	lib := molds.Library{Root: root}
	if err := lib.EnsureDirs(); err != nil {
		return nil, err
	}
	files, err := lib.Files(cli.Genre)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("genre folder %s has no audio files", lib.Dir(cli.Genre))
	}
	seed := cli.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return molds.Pick(files, cli.Pick, rand.New(rand.NewSource(seed))), nil
}
