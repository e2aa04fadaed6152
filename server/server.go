package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cwbudde/copy-envelope/pipeline"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrQueueFull is returned by Submit when no more jobs can be queued.
var ErrQueueFull = errors.New("job queue is full")

// Options tunes a Server. Zero fields take the defaults below.
type Options struct {
	// Workers is the number of jobs run at the same time.
	Workers int
	// QueueSize bounds the number of jobs waiting to run.
	QueueSize int
	// EventBuffer is the per-job and per-subscriber event buffer.
	EventBuffer int
}

const (
	defaultWorkers     = 2
	defaultQueueSize   = 64
	defaultEventBuffer = 256
)

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = defaultEventBuffer
	}
	return o
}

// Server queues jobs, runs them with a pipeline.Runner and fans their
// events out to subscribers.
type Server struct {
	store  Store
	runner *pipeline.Runner
	log    logrus.FieldLogger
	opts   Options
	queue  chan string

	// mu serializes status transitions and guards subs, cancels and local.
	mu      sync.Mutex
	subs    map[string]map[chan pipeline.Event]struct{}
	cancels map[string]context.CancelFunc
	// local holds jobs submitted before Start; recovery leaves them alone.
	local   map[string]struct{}
	started bool

	wg sync.WaitGroup
}

// New returns a Server. Call Start to begin running jobs.
func New(store Store, runner *pipeline.Runner, log logrus.FieldLogger, opts Options) *Server {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	opts = opts.withDefaults()
	return &Server{
		store:   store,
		runner:  runner,
		log:     log,
		opts:    opts,
		queue:   make(chan string, opts.QueueSize),
		subs:    make(map[string]map[chan pipeline.Event]struct{}),
		cancels: make(map[string]context.CancelFunc),
		local:   make(map[string]struct{}),
	}
}

// Start marks jobs left unfinished by a previous process as failed and
// launches the workers. Jobs already submitted to this Server are kept.
// Workers stop when ctx is done; running jobs are cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.failInterrupted(); err != nil {
		return err
	}

	for range s.opts.Workers {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-s.queue:
					s.runJob(ctx, id)
				}
			}
		}()
	}
	return nil
}

func (s *Server) failInterrupted() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	jobs, err := s.store.List()
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if _, ok := s.local[job.ID]; ok || job.Status.Finished() {
			continue
		}
		job.Status = StatusFailed
		job.Error = "interrupted: server restarted"
		job.UpdatedAt = time.Now()
		if err := s.store.Put(job); err != nil {
			return err
		}
		s.closeSubscribersLocked(job.ID)
		s.log.WithField("job", job.ID).Warn("marked interrupted job as failed")
	}
	s.local = nil
	return nil
}

// Wait blocks until every worker has stopped.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Submit validates req, stores a queued job and enqueues it.
func (s *Server) Submit(req JobRequest) (*Job, error) {
	if _, err := req.pipelineRequest(); err != nil {
		return nil, err
	}
	now := time.Now()
	job := &Job{
		ID:        uuid.New().String(),
		Status:    StatusQueued,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	err := s.store.Put(job)
	if err == nil && !s.started {
		s.local[job.ID] = struct{}{}
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	select {
	case s.queue <- job.ID:
	default:
		job.Status = StatusFailed
		job.Error = ErrQueueFull.Error()
		if err := s.store.Put(job); err != nil {
			s.log.WithError(err).WithField("job", job.ID).Error("store failed")
		}
		return nil, ErrQueueFull
	}
	s.log.WithFields(logrus.Fields{"job": job.ID, "destination": req.Destination}).Info("job queued")
	return job, nil
}

// Cancel stops a queued or running job. It returns the job as stored after
// the request; cancelling a finished job is an error.
func (s *Server) Cancel(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case StatusQueued:
		job.Status = StatusCancelled
		job.UpdatedAt = time.Now()
		if err := s.store.Put(job); err != nil {
			return nil, err
		}
		s.closeSubscribersLocked(id)
	case StatusRunning:
		if cancel := s.cancels[id]; cancel != nil {
			cancel()
		}
	default:
		return nil, fmt.Errorf("job %s is already %s", id, job.Status)
	}
	s.log.WithField("job", id).Info("job cancel requested")
	return job, nil
}

// claim moves a queued job to running and registers its cancel func.
func (s *Server) claim(ctx context.Context, id string) (*Job, context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.store.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != StatusQueued {
		return nil, nil, nil
	}
	job.Status = StatusRunning
	job.UpdatedAt = time.Now()
	if err := s.store.Put(job); err != nil {
		return nil, nil, err
	}
	jctx, cancel := context.WithCancel(ctx)
	s.cancels[id] = cancel
	return job, jctx, nil
}

func (s *Server) runJob(ctx context.Context, id string) {
	log := s.log.WithField("job", id)
	job, jctx, err := s.claim(ctx, id)
	if err != nil {
		log.WithError(err).Error("claim failed")
		return
	}
	if job == nil {
		log.Debug("job no longer queued")
		s.closeSubscribers(id)
		return
	}
	defer func() {
		s.mu.Lock()
		if cancel := s.cancels[id]; cancel != nil {
			cancel()
		}
		delete(s.cancels, id)
		s.mu.Unlock()
		s.closeSubscribers(id)
	}()

	req, err := job.Request.pipelineRequest()
	if err != nil {
		s.finish(job, nil, err, log)
		return
	}

	sink := pipeline.NewChannelSink(s.opts.EventBuffer)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range sink.Events() {
			job.apply(ev)
			if ev.Kind == pipeline.EventProgress {
				if err := s.store.Put(job); err != nil {
					log.WithError(err).Warn("progress not stored")
				}
			}
			s.broadcast(id, ev)
		}
	}()

	log.Info("job started")
	res, runErr := s.runner.Run(jctx, req, sink)
	sink.Close()
	<-drained
	if n := sink.Dropped(); n > 0 {
		log.WithField("dropped", n).Warn("events dropped")
	}
	s.finish(job, res, runErr, log)
}

func (s *Server) finish(job *Job, res *pipeline.Result, err error, log logrus.FieldLogger) {
	job.UpdatedAt = time.Now()
	switch {
	case err == nil:
		job.Status = StatusDone
		job.Progress = 100
		job.Result = newResult(res)
		log.WithField("output", res.Output).Info("job done")
	case errors.Is(err, context.Canceled):
		job.Status = StatusCancelled
		log.Info("job cancelled")
	default:
		job.Status = StatusFailed
		job.Error = err.Error()
		log.WithError(err).Warn("job failed")
	}
	if err := s.store.Put(job); err != nil {
		log.WithError(err).Error("final state not stored")
	}
}

// subscribe registers a channel for the events of job id.
func (s *Server) subscribe(id string) (<-chan pipeline.Event, func()) {
	ch := make(chan pipeline.Event, s.opts.EventBuffer)
	s.mu.Lock()
	if s.subs[id] == nil {
		s.subs[id] = make(map[chan pipeline.Event]struct{})
	}
	s.subs[id][ch] = struct{}{}
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id][ch]; ok {
			delete(s.subs[id], ch)
			close(ch)
			if len(s.subs[id]) == 0 {
				delete(s.subs, id)
			}
		}
	}
}

// broadcast never blocks: a subscriber that falls behind misses events.
func (s *Server) broadcast(id string, ev pipeline.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs[id] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Server) closeSubscribers(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeSubscribersLocked(id)
}

func (s *Server) closeSubscribersLocked(id string) {
	for ch := range s.subs[id] {
		close(ch)
	}
	delete(s.subs, id)
}
