// Package mockbackend implements an in-process inference backend
// simulator speaking the same HTTP surface as a real generation service:
// asset upload, job submission, status polling, artifact download, and an
// optional websocket push-status channel.
//
// It exists for two callers: the test suites, which need deterministic
// backend behavior, and the "cardforge mockbackend" command, which lets a
// manifest be exercised end to end without GPU infrastructure.
//
// Behavior is driven by the uploaded asset's file name:
//
//   - a name containing "fail" produces a job that reaches the failed
//     state with a generation reason
//   - a name containing "flaky" makes the first submission for that asset
//     return 503; subsequent submissions behave normally
//   - a name containing "slow" multiplies the configured latency by 10
//
// Everything else succeeds after the configured latency.
package mockbackend

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Job states reported by the simulator. These mirror the states of the
// real backend protocol.
const (
	stateQueued    = "queued"
	stateRunning   = "running"
	stateSucceeded = "succeeded"
	stateFailed    = "failed"
)

// Options configures the simulator.
type Options struct {
	// Latency is the simulated generation time per job. Default: 50ms.
	Latency time.Duration

	// Artifact is the payload served from /result. Default: a minimal
	// PNG header, enough for downstream tooling to sniff the type.
	Artifact []byte
}

// minimalPNG is the 8-byte PNG signature; result payloads only need to be
// recognizable, not renderable.
var minimalPNG = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

type asset struct {
	name string
	size int64
}

type job struct {
	handle   string
	asset    *asset
	state    string
	reason   string
	artifact []byte
}

// Server is the simulator. Obtain its handler via Handler and serve it
// with net/http or httptest.
type Server struct {
	opts Options

	mu      sync.Mutex
	assets  map[string]*asset
	jobs    map[string]*job
	flaked  map[string]bool
	submits int
	uploads int

	hub *eventHub
}

// New creates a simulator with the given options.
func New(opts Options) *Server {
	if opts.Latency <= 0 {
		opts.Latency = 50 * time.Millisecond
	}
	if opts.Artifact == nil {
		opts.Artifact = minimalPNG
	}
	return &Server{
		opts:   opts,
		assets: make(map[string]*asset),
		jobs:   make(map[string]*job),
		flaked: make(map[string]bool),
		hub:    newEventHub(),
	}
}

// Handler returns the simulator's HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/upload", s.handleUpload)
	r.Post("/submit", s.handleSubmit)
	r.Get("/status/{handle}", s.handleStatus)
	r.Get("/result/{handle}", s.handleResult)
	r.Get("/events", s.hub.handleWS)

	// Ping target.
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"service": "mockbackend"})
	})
	return r
}

// Close shuts down the push-status hub.
func (s *Server) Close() {
	s.hub.close()
}

// Submits returns how many submissions the simulator has accepted or
// rejected. Useful for asserting that cancelled jobs never reached the
// backend.
func (s *Server) Submits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits
}

// Uploads returns how many uploads the simulator has received.
func (s *Server) Uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name := r.Header.Get("X-Asset-Name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing X-Asset-Name header")
		return
	}
	n, err := io.Copy(io.Discard, r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	ref := "asset-" + uuid.NewString()
	s.mu.Lock()
	s.assets[ref] = &asset{name: name, size: n}
	s.uploads++
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"assetRef": ref})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssetRef string          `json:"assetRef"`
		Template json.RawMessage `json:"template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "decode submission: "+err.Error())
		return
	}
	if req.AssetRef == "" || len(req.Template) == 0 {
		writeError(w, http.StatusBadRequest, "assetRef and template are required")
		return
	}

	s.mu.Lock()
	s.submits++
	a, ok := s.assets[req.AssetRef]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "unknown assetRef")
		return
	}
	if strings.Contains(a.name, "flaky") && !s.flaked[a.name] {
		s.flaked[a.name] = true
		s.mu.Unlock()
		writeError(w, http.StatusServiceUnavailable, "transient backend hiccup")
		return
	}

	j := &job{
		handle: "job-" + uuid.NewString(),
		asset:  a,
		state:  stateQueued,
	}
	s.jobs[j.handle] = j
	s.mu.Unlock()

	go s.advance(j)
	writeJSON(w, http.StatusOK, map[string]string{"remoteHandle": j.handle})
}

// advance walks the job through queued, running, and a terminal state,
// broadcasting a push event on each transition.
func (s *Server) advance(j *job) {
	latency := s.opts.Latency
	if strings.Contains(j.asset.name, "slow") {
		latency *= 10
	}

	time.Sleep(latency / 2)
	s.transition(j, stateRunning, "")

	time.Sleep(latency / 2)
	if strings.Contains(j.asset.name, "fail") {
		s.transition(j, stateFailed, "simulated generation failure")
		return
	}

	s.mu.Lock()
	j.artifact = s.opts.Artifact
	s.mu.Unlock()
	s.transition(j, stateSucceeded, "")
}

func (s *Server) transition(j *job, state, reason string) {
	s.mu.Lock()
	j.state = state
	j.reason = reason
	s.mu.Unlock()
	s.hub.broadcast(pushEvent{RemoteHandle: j.handle, State: state, Reason: reason})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")

	s.mu.Lock()
	j, ok := s.jobs[handle]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "unknown handle")
		return
	}
	state, reason := j.state, j.reason
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"state": state, "reason": reason})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")

	s.mu.Lock()
	j, ok := s.jobs[handle]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "unknown handle")
		return
	}
	state := j.state
	artifact := j.artifact
	s.mu.Unlock()

	if state != stateSucceeded {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s, not succeeded", state))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(artifact)
}

// pushEvent is the websocket frame broadcast on every state transition.
type pushEvent struct {
	RemoteHandle string `json:"remoteHandle"`
	State        string `json:"state"`
	Reason       string `json:"reason,omitempty"`
}

// eventHub fans state transitions out to websocket subscribers.
type eventHub struct {
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*hubConn]struct{}
	closed bool
}

type hubConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newEventHub() *eventHub {
	return &eventHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[*hubConn]struct{}),
	}
}

func (h *eventHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	hc := &hubConn{conn: conn}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.conns[hc] = struct{}{}
	h.mu.Unlock()

	// Consume control frames until the peer disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(hc)
				return
			}
		}
	}()
}

func (h *eventHub) broadcast(ev pushEvent) {
	h.mu.Lock()
	conns := make([]*hubConn, 0, len(h.conns))
	for hc := range h.conns {
		conns = append(conns, hc)
	}
	h.mu.Unlock()

	for _, hc := range conns {
		hc.mu.Lock()
		err := hc.conn.WriteJSON(ev)
		hc.mu.Unlock()
		if err != nil {
			h.drop(hc)
		}
	}
}

func (h *eventHub) drop(hc *hubConn) {
	h.mu.Lock()
	if _, ok := h.conns[hc]; ok {
		delete(h.conns, hc)
		h.mu.Unlock()
		_ = hc.conn.Close()
		return
	}
	h.mu.Unlock()
}

func (h *eventHub) close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*hubConn, 0, len(h.conns))
	for hc := range h.conns {
		conns = append(conns, hc)
	}
	h.conns = make(map[*hubConn]struct{})
	h.mu.Unlock()

	for _, hc := range conns {
		_ = hc.conn.Close()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
