package main

import (
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// barSink shows pipeline progress as a terminal bar. The latest log line is
// rendered next to the bar; every line also goes to the debug log.
type barSink struct {
	p    *mpb.Progress
	bar  *mpb.Bar
	last atomic.Value
	log  logrus.FieldLogger
}

func newBarSink(w io.Writer, name string, log logrus.FieldLogger) *barSink {
	s := &barSink{log: log}
	s.last.Store("")
	s.p = mpb.New(mpb.WithWidth(40), mpb.WithOutput(w))
	s.bar = s.p.AddBar(100,
		mpb.PrependDecorators(
			decor.Name(name+" ", decor.WCSyncSpaceR),
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.Any(func(decor.Statistics) string {
				return s.last.Load().(string)
			}),
		),
	)
	return s
}

func (s *barSink) Progress(percent int) {
	s.bar.SetCurrent(int64(percent))
}

func (s *barSink) Log(line string) {
	s.last.Store(line)
	s.log.Debug(line)
}

// Finish completes the bar on success or aborts it, then waits for the
// final render.
func (s *barSink) Finish(ok bool) {
	if ok {
		s.bar.SetCurrent(100)
	} else {
		s.bar.Abort(false)
	}
	s.p.Wait()
}

// lineSink logs pipeline lines at info level.
type lineSink struct {
	log logrus.FieldLogger
}

func (s lineSink) Progress(percent int) {
	s.log.WithField("percent", percent).Debug("progress")
}

func (s lineSink) Log(line string) {
	s.log.Info(line)
}
