package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ProgressSink receives progress percentages (0..100, non-decreasing within
// a run) and human-readable log lines. Implementations must return quickly;
// the pipeline calls them from its own goroutine and never waits on the
// consumer otherwise.
type ProgressSink interface {
	Progress(percent int)
	Log(line string)
}

// SinkFuncs adapts two callbacks to ProgressSink. Nil callbacks are ignored.
type SinkFuncs struct {
	OnProgress func(percent int)
	OnLog      func(line string)
}

func (s SinkFuncs) Progress(percent int) {
	if s.OnProgress != nil {
		s.OnProgress(percent)
	}
}

func (s SinkFuncs) Log(line string) {
	if s.OnLog != nil {
		s.OnLog(line)
	}
}

// Discard is a ProgressSink that drops everything.
var Discard ProgressSink = SinkFuncs{}

// EventKind tags an Event.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventLog      EventKind = "log"
)

// Event is one notification delivered by ChannelSink.
type Event struct {
	Kind    EventKind `json:"kind"`
	Percent int       `json:"percent,omitempty"`
	Line    string    `json:"line,omitempty"`
	Time    time.Time `json:"time"`
}

// ChannelSink forwards notifications to a buffered channel without ever
// blocking: when the buffer is full the event is dropped and counted.
// Close must only be called once the run that uses the sink has returned.
type ChannelSink struct {
	ch      chan Event
	dropped atomic.Int64
	once    sync.Once
}

// NewChannelSink returns a sink whose channel holds up to buffer events.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Dropped reports how many events were discarded because the consumer lagged.
func (s *ChannelSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close closes the event channel.
func (s *ChannelSink) Close() {
	s.once.Do(func() { close(s.ch) })
}

func (s *ChannelSink) Progress(percent int) {
	s.send(Event{Kind: EventProgress, Percent: percent, Time: time.Now()})
}

func (s *ChannelSink) Log(line string) {
	s.send(Event{Kind: EventLog, Line: line, Time: time.Now()})
}

func (s *ChannelSink) send(ev Event) {
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}

// MultiSink fans notifications out to several sinks in order.
type MultiSink []ProgressSink

func (m MultiSink) Progress(percent int) {
	for _, s := range m {
		s.Progress(percent)
	}
}

func (m MultiSink) Log(line string) {
	for _, s := range m {
		s.Log(line)
	}
}

// progressGuard clamps progress to 0..100 and suppresses regressions.
type progressGuard struct {
	sink ProgressSink
	last int
}

func (g *progressGuard) progress(p int) {
	p = min(max(p, 0), 100)
	if p < g.last {
		return
	}
	g.last = p
	g.sink.Progress(p)
}

func (g *progressGuard) logf(format string, args ...any) {
	g.sink.Log(fmt.Sprintf(format, args...))
}

// step reports a checkpoint: a log line followed by the new percentage.
func (g *progressGuard) step(p int, format string, args ...any) {
	g.logf(format, args...)
	g.progress(p)
}
