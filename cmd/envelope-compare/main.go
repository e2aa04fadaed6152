package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/cwbudde/copy-envelope/analysis"
	"github.com/cwbudde/copy-envelope/audiofile"
	"github.com/cwbudde/copy-envelope/envelope"
)

func main() {
	referencePath := flag.String("reference", "", "Clip whose loudness contour is the target (a mold or an unshaped clip)")
	candidatePath := flag.String("candidate", "", "Shaped clip to measure")
	sampleRate := flag.Int("sample-rate", 0, "Analysis sample rate in Hz (0: candidate rate)")
	useEnvelope := flag.Bool("envelope", false, "Compare against the reference's extracted envelope instead of its raw signal")
	mode := flag.String("mode", "hilbert", "Envelope mode with -envelope: hilbert|rms")
	jsonOut := flag.Bool("json", false, "Print metrics as JSON")
	flag.Parse()

	if *referencePath == "" || *candidatePath == "" {
		die("reference and candidate are required")
	}

	cand, err := audiofile.Load(*candidatePath, *sampleRate)
	if err != nil {
		die("failed to read candidate: %v", err)
	}
	ref, err := audiofile.Load(*referencePath, cand.SampleRate)
	if err != nil {
		die("failed to read reference: %v", err)
	}

	target := ref.Mono()
	if *useEnvelope {
		cfg := envelope.DefaultConfig()
		cfg.Mode = envelope.ParseMode(*mode)
		target, err = envelope.Extract(target, cfg)
		if err != nil {
			die("failed to extract reference envelope: %v", err)
		}
	}

	metrics := analysis.Tracking(cand.Mono(), target, cand.SampleRate)
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(metrics); err != nil {
			die("json encode failed: %v", err)
		}
		return
	}

	fmt.Printf("Candidate frames: %d\n", metrics.OutputFrames)
	fmt.Printf("Reference frames: %d\n", metrics.TargetFrames)
	fmt.Printf("Contour frames:   %d\n", metrics.ContourFrames)
	fmt.Println()
	fmt.Printf("Component        Raw          Norm   Weight  Contribution\n")
	fmt.Printf("─────────────────────────────────────────────────────────\n")
	printComp := func(name string, raw string, norm, weight float64, dominant bool) {
		contrib := norm * weight
		marker := ""
		if dominant {
			marker = " ◄"
		}
		fmt.Printf("%-16s %-12s %5.1f%%  ×%.2f   → %.4f%s\n", name, raw, norm*100, weight, contrib, marker)
	}
	printComp("Envelope RMSE", fmt.Sprintf("%.1f dB", metrics.EnvelopeRMSEDB), metrics.EnvelopeNorm, analysis.WeightEnvelope, metrics.Dominant == "envelope")
	printComp("Correlation", fmt.Sprintf("%.3f", metrics.Correlation), metrics.CorrelationNorm, analysis.WeightCorrelation, metrics.Dominant == "correlation")
	printComp("Decay diff", fmt.Sprintf("%.1f dB/s", metrics.DecayDiffDBPerS), metrics.DecayNorm, analysis.WeightDecay, metrics.Dominant == "decay")
	fmt.Printf("─────────────────────────────────────────────────────────\n")
	fmt.Printf("Score:            %.4f  (0 best, 1 worst)\n", metrics.Score)
	fmt.Printf("Similarity:       %.2f%%\n", metrics.Similarity*100.0)
	fmt.Printf("Dominant factor:  %s\n", metrics.Dominant)
	fmt.Printf("\nDecay slopes: ref=%.1f dB/s  cand=%.1f dB/s\n", metrics.TargetDecayDBPerS, metrics.OutputDecayDBPerS)
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
