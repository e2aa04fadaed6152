package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cwbudde/copy-envelope/pipeline"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is one websocket frame on /jobs/{id}/events. A stream starts
// with a "snapshot", carries "progress" and "log" events and ends with
// "finished" holding the final job record.
type Message struct {
	Type  string          `json:"type"`
	Event *pipeline.Event `json:"event,omitempty"`
	Job   *Job            `json:"job,omitempty"`
}

// Handler returns the HTTP routes of the job API.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/jobs", s.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/jobs", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", s.handleCancel).Methods(http.MethodDelete)
	r.HandleFunc("/jobs/{id}/events", s.handleEvents).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "queued": len(s.queue)})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	job, err := s.Submit(req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	w.Header().Set("Location", "/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if string(j.Status) == status {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	// Newest last; keep the most recent limit jobs.
	if len(jobs) > limit {
		jobs = jobs[len(jobs)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, err := s.Cancel(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	events, unsubscribe := s.subscribe(id)
	defer unsubscribe()

	job, err := s.store.Get(id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	send := func(m Message) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(m)
	}
	if err := send(Message{Type: "snapshot", Job: job}); err != nil {
		return
	}

	// The reader only notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if !job.Status.Finished() {
	stream:
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					break stream
				}
				if err := send(Message{Type: string(ev.Kind), Event: &ev}); err != nil {
					return
				}
			case <-gone:
				return
			}
		}
		if job, err = s.store.Get(id); err != nil {
			return
		}
	}
	if err := send(Message{Type: "finished", Job: job}); err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrJobNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.log.WithError(err).Error("store read failed")
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
