package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/cwbudde/copy-envelope/audiofile"
	"github.com/cwbudde/copy-envelope/envelope"
	"github.com/cwbudde/copy-envelope/internal/cliutil"
	"github.com/cwbudde/copy-envelope/pipeline"
	"github.com/sirupsen/logrus"
)

var version = "0.1.0"

// CLI defines the command-line interface. Pointer flags stay nil when
// neither the flag nor its environment variable is set, so the preset (or
// the built-in default) applies.
type CLI struct {
	Destination string   `arg:"" name:"destination" help:"Clip whose loudness is reshaped" type:"existingfile"`
	Molds       []string `arg:"" name:"molds" optional:"" help:"Mold clips or folders of clips"`

	Output   string `short:"o" default:"output.wav" env:"COPYENV_OUTPUT" help:"Output WAV path"`
	AutoName bool   `env:"COPYENV_AUTO_NAME" help:"Name the output <destination>__<molds>.wav, next to --output"`
	Preset   string `short:"p" type:"existingfile" env:"COPYENV_PRESET" help:"Preset JSON with envelope settings and default molds"`

	Mode      *string  `env:"COPYENV_MODE" help:"Detection mode: hilbert or rms (default hilbert)"`
	Frame     *int     `env:"COPYENV_FRAME" help:"RMS frame length in samples (default 2048)"`
	Hop       *int     `env:"COPYENV_HOP" help:"RMS hop in samples (default 512)"`
	AttackMs  *float64 `name:"attack-ms" env:"COPYENV_ATTACK_MS" help:"Smoothing attack in ms (default 1)"`
	ReleaseMs *float64 `name:"release-ms" env:"COPYENV_RELEASE_MS" help:"Smoothing release in ms (default 0.5)"`
	FloorDB   *float64 `name:"floor-db" env:"COPYENV_FLOOR_DB" help:"Envelope floor in dB, e.g. --floor-db=-40 (default -40)"`
	Combine   *string  `env:"COPYENV_COMBINE" help:"Combine mode: max, mean, geom_mean, product, sum_limited or weighted (default max)"`
	Weights   string   `env:"COPYENV_WEIGHTS" help:"Comma-separated weights for weighted mode, e.g. 1,0.8,1.2"`
	MatchLUFS *bool    `name:"match-lufs" env:"COPYENV_MATCH_LUFS" help:"Match the output's integrated loudness to the destination"`
	BPM       *float64 `env:"COPYENV_BPM" help:"Tempo hint stored with presets (default 100)"`

	Genre   string `env:"COPYENV_GENRE" help:"Add random molds from this genre folder of the library"`
	Library string `env:"COPYENV_LIBRARY" type:"path" help:"Genre library root (default: genres/ next to the executable)"`
	Pick    int    `default:"3" env:"COPYENV_PICK" help:"Number of molds picked from --genre"`
	Seed    int64  `env:"COPYENV_SEED" help:"Random seed for --genre picks (0 picks a new seed)"`

	Workers    string           `default:"auto" env:"COPYENV_WORKERS" help:"Parallel mold loaders: integer >= 1 or auto"`
	BitDepth   int              `default:"16" enum:"16,24" env:"COPYENV_BIT_DEPTH" help:"Output bit depth (16 or 24)"`
	Report     string           `type:"path" env:"COPYENV_REPORT" help:"Write a JSON report with envelope tracking metrics"`
	NoProgress bool             `env:"COPYENV_NO_PROGRESS" help:"Print log lines instead of a progress bar"`
	Verbose    bool             `short:"v" env:"COPYENV_VERBOSE" help:"Debug logging"`
	LogFormat  string           `default:"text" enum:"text,json" env:"COPYENV_LOG_FORMAT" help:"Log format: text or json"`
	Version    kong.VersionFlag `help:"Show version information"`
}

func main() {
	if err := cliutil.LoadDotEnv(); err != nil {
		cliutil.PrintError(err.Error())
		os.Exit(1)
	}

	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("copyenv"),
		kong.Description("Copy the loudness envelope of mold clips onto a destination clip"),
		kong.UsageOnError(),
		kong.Vars{"version": version},
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)

	logger, err := cliutil.NewLogger(os.Stderr, cli.Verbose, cli.LogFormat)
	if err != nil {
		kctx.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cli, logger); err != nil {
		cliutil.PrintError(describe(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cli *CLI, logger *logrus.Logger) error {
	plan, err := buildPlan(cli)
	if err != nil {
		return err
	}
	workers, err := cliutil.ParseWorkers(cli.Workers)
	if err != nil {
		return fmt.Errorf("invalid --workers: %w", err)
	}

	runner := pipeline.NewRunner(logger)
	runner.Workers = workers
	runner.WriteOptions = audiofile.WriteOptions{BitDepth: cli.BitDepth}

	var sink pipeline.ProgressSink = lineSink{log: logger}
	var bar *barSink
	if !cli.NoProgress {
		bar = newBarSink(os.Stderr, filepath.Base(plan.Request.Destination), logger)
		sink = bar
	}
	res, err := runner.Run(ctx, plan.Request, sink)
	if bar != nil {
		bar.Finish(err == nil)
	}
	if err != nil {
		return err
	}

	printSummary(os.Stdout, res)
	if cli.Report != "" {
		if err := writeReport(cli.Report, plan, res); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		logger.WithField("report", cli.Report).Info("report written")
	}
	return nil
}

// describe adds the offending path or parameter to errors that carry one.
func describe(err error) string {
	var iw *envelope.InvalidWeightsError
	var nv *pipeline.NoValidMoldsError
	switch {
	case errors.As(err, &iw):
		return fmt.Sprintf("%v (set --weights to one value or one per mold)", err)
	case errors.As(err, &nv):
		msg := err.Error()
		for _, f := range nv.Failures {
			msg += fmt.Sprintf("\n  %s: %v", f.Path, f.Err)
		}
		return msg
	case errors.Is(err, context.Canceled):
		return "cancelled, nothing written"
	}
	return err.Error()
}
