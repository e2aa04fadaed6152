package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/copy-envelope/audiofile"
	"github.com/cwbudde/copy-envelope/pipeline"
	"github.com/cwbudde/copy-envelope/preset"
	"github.com/gorilla/websocket"
)

type fixture struct {
	dir  string
	dest string
	mold string
	srv  *Server
	http *httptest.Server
}

func writeTone(t *testing.T, path string, amp float64) {
	t.Helper()
	x := make([]float64, 8000)
	for i := range x {
		x[i] = amp * math.Sin(2*math.Pi*440*float64(i)/8000)
	}
	if err := audiofile.WriteMono(path, x, 8000, audiofile.WriteOptions{}); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{dir: dir, dest: filepath.Join(dir, "dest.wav"), mold: filepath.Join(dir, "mold.wav")}
	writeTone(t, f.dest, 0.5)
	writeTone(t, f.mold, 0.9)

	store, err := OpenStore("")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	f.srv = New(store, &pipeline.Runner{Workers: 1}, nil, opts)
	f.http = httptest.NewServer(f.srv.Handler())
	t.Cleanup(f.http.Close)
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	if err := f.srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		f.srv.Wait()
	})
}

func (f *fixture) post(t *testing.T, req JobRequest) (*http.Response, *Job) {
	t.Helper()
	body, _ := json.Marshal(req)
	resp, err := http.Post(f.http.URL+"/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /jobs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return resp, nil
	}
	var job Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	return resp, &job
}

func (f *fixture) get(t *testing.T, id string) (int, *Job) {
	t.Helper()
	resp, err := http.Get(f.http.URL + "/jobs/" + id)
	if err != nil {
		t.Fatalf("GET job: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}
	var job Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	return resp.StatusCode, &job
}

func (f *fixture) waitFinished(t *testing.T, id string) *Job {
	t.Helper()
	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		if _, job := f.get(t, id); job != nil && job.Status.Finished() {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return nil
}

func TestSubmitRunsJob(t *testing.T) {
	f := newFixture(t, Options{})
	f.start(t)
	out := filepath.Join(f.dir, "out.wav")
	resp, job := f.post(t, JobRequest{
		Destination: f.dest,
		Molds:       []string{f.mold, filepath.Join(f.dir, "missing.wav")},
		Output:      out,
	})
	if job == nil {
		t.Fatalf("POST status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Location") != "/jobs/"+job.ID {
		t.Fatalf("Location = %q", resp.Header.Get("Location"))
	}

	done := f.waitFinished(t, job.ID)
	if done.Status != StatusDone || done.Progress != 100 {
		t.Fatalf("job = %+v", done)
	}
	if done.Result == nil || done.Result.Output != out || len(done.Result.Used) != 1 || len(done.Result.Skipped) != 1 {
		t.Fatalf("result = %+v", done.Result)
	}
	if len(done.Log) == 0 {
		t.Fatalf("no log lines stored")
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("output missing: %v", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, Options{})
	combine := "weighted"
	cases := []struct {
		name string
		req  JobRequest
		want string
	}{
		{"no destination", JobRequest{Molds: []string{f.mold}, Output: "o.wav"}, "destination"},
		{"no molds", JobRequest{Destination: f.dest, Output: "o.wav"}, "mold"},
		{"no output", JobRequest{Destination: f.dest, Molds: []string{f.mold}}, "output"},
		{"weights", JobRequest{
			Destination: f.dest,
			Molds:       []string{f.mold, f.mold, f.mold},
			Output:      "o.wav",
			Settings:    &preset.File{CombineMode: &combine, Weights: []float64{1, 2}},
		}, "weights"},
	}
	for _, tc := range cases {
		resp, job := f.post(t, tc.req)
		if job != nil || resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", tc.name, resp.StatusCode)
		}
	}

	resp, err := http.Post(f.http.URL+"/jobs", "application/json", strings.NewReader(`{"destination":1}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad JSON status = %d", resp.StatusCode)
	}
}

func TestGetUnknownJob(t *testing.T) {
	f := newFixture(t, Options{})
	if status, _ := f.get(t, "nope"); status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
}

func TestQueueFull(t *testing.T) {
	f := newFixture(t, Options{QueueSize: 1})
	req := JobRequest{Destination: f.dest, Molds: []string{f.mold}, Output: filepath.Join(f.dir, "o.wav")}
	if _, job := f.post(t, req); job == nil {
		t.Fatalf("first submit rejected")
	}
	resp, job := f.post(t, req)
	if job != nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("second submit status = %d", resp.StatusCode)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	f := newFixture(t, Options{})
	out := filepath.Join(f.dir, "never.wav")
	_, job := f.post(t, JobRequest{Destination: f.dest, Molds: []string{f.mold}, Output: out})

	req, _ := http.NewRequest(http.MethodDelete, f.http.URL+"/jobs/"+job.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("DELETE status = %d", resp.StatusCode)
	}

	f.start(t)
	got := f.waitFinished(t, job.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	// Give the worker a chance to pick the id off the queue.
	time.Sleep(100 * time.Millisecond)
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("cancelled job wrote output: %v", err)
	}

	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second DELETE status = %d, want 409", resp.StatusCode)
	}
}

func TestListJobs(t *testing.T) {
	f := newFixture(t, Options{})
	for i := 0; i < 3; i++ {
		f.post(t, JobRequest{Destination: f.dest, Molds: []string{f.mold}, Output: filepath.Join(f.dir, "o.wav")})
	}
	resp, err := http.Get(f.http.URL + "/jobs?status=queued&limit=2")
	if err != nil {
		t.Fatalf("GET /jobs: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Jobs  []*Job `json:"jobs"`
		Count int    `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 || len(body.Jobs) != 2 {
		t.Fatalf("list = %+v", body)
	}
}

func TestEventsStream(t *testing.T) {
	f := newFixture(t, Options{})
	_, job := f.post(t, JobRequest{Destination: f.dest, Molds: []string{f.mold}, Output: filepath.Join(f.dir, "ws.wav")})

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/jobs/" + job.ID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(20 * time.Second))

	var first Message
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.Type != "snapshot" || first.Job == nil || first.Job.Status != StatusQueued {
		t.Fatalf("first message = %+v", first)
	}

	f.start(t)
	last := -1
	logs := 0
	for {
		var m Message
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("read: %v", err)
		}
		switch m.Type {
		case string(pipeline.EventProgress):
			if m.Event.Percent < last {
				t.Fatalf("progress went back from %d to %d", last, m.Event.Percent)
			}
			last = m.Event.Percent
		case string(pipeline.EventLog):
			logs++
		case "finished":
			if m.Job == nil || m.Job.Status != StatusDone {
				t.Fatalf("finished message = %+v", m)
			}
			if last != 100 || logs == 0 {
				t.Fatalf("last progress %d, %d log lines", last, logs)
			}
			return
		default:
			t.Fatalf("unexpected message %+v", m)
		}
	}
}

func TestEventsForFinishedJob(t *testing.T) {
	f := newFixture(t, Options{})
	f.start(t)
	_, job := f.post(t, JobRequest{Destination: f.dest, Molds: []string{f.mold}, Output: filepath.Join(f.dir, "o.wav")})
	f.waitFinished(t, job.ID)

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/jobs/" + job.ID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var types []string
	for {
		var m Message
		if err := conn.ReadJSON(&m); err != nil {
			break
		}
		types = append(types, m.Type)
	}
	if len(types) != 2 || types[0] != "snapshot" || types[1] != "finished" {
		t.Fatalf("messages = %v", types)
	}

	if _, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.http.URL, "http")+"/jobs/nope/events", nil); err == nil {
		t.Fatalf("expected dial error for unknown job")
	}
}

func TestStorePersistsAndRecovers(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	now := time.Now()
	if err := store.Put(&Job{ID: "a", Status: StatusRunning, CreatedAt: now}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(&Job{ID: "b", Status: StatusDone, CreatedAt: now.Add(time.Second)}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store, err = OpenStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	jobs, err := store.List()
	if err != nil || len(jobs) != 2 || jobs[0].ID != "a" {
		t.Fatalf("List = %v, %v", jobs, err)
	}
	if _, err := store.Get("zzz"); err != ErrJobNotFound {
		t.Fatalf("Get unknown = %v", err)
	}

	srv := New(store, &pipeline.Runner{}, nil, Options{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
	srv.Wait()
	a, _ := store.Get("a")
	b, _ := store.Get("b")
	if a.Status != StatusFailed || !strings.Contains(a.Error, "restarted") {
		t.Fatalf("interrupted job = %+v", a)
	}
	if b.Status != StatusDone {
		t.Fatalf("finished job changed: %+v", b)
	}
}

func TestJobSubmittedBeforeStartRuns(t *testing.T) {
	f := newFixture(t, Options{})
	_, job := f.post(t, JobRequest{Destination: f.dest, Molds: []string{f.mold}, Output: filepath.Join(f.dir, "early.wav")})
	f.start(t)
	done := f.waitFinished(t, job.ID)
	if done.Status != StatusDone {
		t.Fatalf("early job = %+v", done)
	}
}

func TestInterruptedJobClosesStream(t *testing.T) {
	f := newFixture(t, Options{})
	if err := f.srv.store.Put(&Job{ID: "old", Status: StatusQueued, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/jobs/old/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first Message
	if err := conn.ReadJSON(&first); err != nil || first.Type != "snapshot" {
		t.Fatalf("snapshot = %+v, %v", first, err)
	}

	f.start(t)
	var m Message
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	if m.Type != "finished" || m.Job == nil || m.Job.Status != StatusFailed {
		t.Fatalf("message = %+v", m)
	}
}

func TestRunJobClosesSubscribersOfUnqueuedJob(t *testing.T) {
	f := newFixture(t, Options{})
	if err := f.srv.store.Put(&Job{ID: "gone", Status: StatusCancelled, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	events, unsubscribe := f.srv.subscribe("gone")
	defer unsubscribe()

	f.srv.runJob(context.Background(), "gone")
	select {
	case _, ok := <-events:
		if ok {
			t.Fatalf("unexpected event on skipped job")
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber not closed")
	}
}
