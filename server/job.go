// Package server runs envelope transfers as background jobs behind an HTTP
// API. Jobs are persisted in badger and stream their progress over
// websockets.
package server

import (
	"errors"
	"time"

	"github.com/cwbudde/copy-envelope/envelope"
	"github.com/cwbudde/copy-envelope/pipeline"
	"github.com/cwbudde/copy-envelope/preset"
	"github.com/cwbudde/copy-envelope/shaper"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Finished reports whether the job will not change any more.
func (s Status) Finished() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// maxLogLines bounds the log kept on a job record.
const maxLogLines = 200

// JobRequest is the body of POST /jobs. Paths are resolved on the server.
// Settings use the preset schema; omitted fields keep their defaults and
// Settings.Molds is used when Molds is empty.
type JobRequest struct {
	Destination string       `json:"destination"`
	Molds       []string     `json:"molds,omitempty"`
	Output      string       `json:"output"`
	Settings    *preset.File `json:"settings,omitempty"`
}

// JobResult summarizes a finished run.
type JobResult struct {
	RunID      string       `json:"run_id"`
	Output     string       `json:"output"`
	SampleRate int          `json:"sample_rate"`
	Frames     int          `json:"frames"`
	Used       []string     `json:"used_molds"`
	Skipped    []string     `json:"skipped_molds,omitempty"`
	Loudness   shaper.Match `json:"loudness"`
	ElapsedSec float64      `json:"elapsed_seconds"`
}

// Job is the stored record of one submitted request.
type Job struct {
	ID        string     `json:"id"`
	Status    Status     `json:"status"`
	Request   JobRequest `json:"request"`
	Progress  int        `json:"progress"`
	Log       []string   `json:"log,omitempty"`
	Error     string     `json:"error,omitempty"`
	Result    *JobResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// pipelineRequest resolves r into a validated pipeline request.
func (r JobRequest) pipelineRequest() (pipeline.Request, error) {
	p := preset.New()
	if err := preset.ApplyFile(p, r.Settings); err != nil {
		return pipeline.Request{}, err
	}
	molds := r.Molds
	if len(molds) == 0 {
		molds = p.Molds
	}
	switch {
	case r.Destination == "":
		return pipeline.Request{}, errors.New("destination is required")
	case len(molds) == 0:
		return pipeline.Request{}, errors.New("at least one mold is required")
	case r.Output == "":
		return pipeline.Request{}, errors.New("output is required")
	}

	cfg := p.Config
	if cfg.Combine == envelope.CombineWeighted && len(cfg.Weights) == 0 && len(p.PerMold) > 0 {
		w, err := p.WeightsFor(molds)
		if err != nil {
			return pipeline.Request{}, err
		}
		cfg.Weights = w
	}
	if err := cfg.CheckWeights(len(molds)); err != nil {
		return pipeline.Request{}, err
	}
	return pipeline.Request{
		Destination: r.Destination,
		Molds:       molds,
		Output:      r.Output,
		Config:      cfg,
	}, nil
}

func (j *Job) apply(ev pipeline.Event) {
	switch ev.Kind {
	case pipeline.EventProgress:
		if ev.Percent > j.Progress {
			j.Progress = ev.Percent
		}
	case pipeline.EventLog:
		j.Log = append(j.Log, ev.Line)
		if len(j.Log) > maxLogLines {
			j.Log = j.Log[len(j.Log)-maxLogLines:]
		}
	}
	j.UpdatedAt = ev.Time
}

func newResult(res *pipeline.Result) *JobResult {
	out := &JobResult{
		RunID:      res.RunID,
		Output:     res.Output,
		SampleRate: res.SampleRate,
		Frames:     res.Frames,
		Used:       res.Used,
		Loudness:   res.Loudness,
		ElapsedSec: res.Elapsed.Seconds(),
	}
	for _, s := range res.Skipped {
		out.Skipped = append(out.Skipped, s.Path)
	}
	return out
}
