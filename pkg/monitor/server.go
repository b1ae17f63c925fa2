// Package monitor provides the live observation server for the control
// room: REST endpoints for session status, QC summaries, output files and
// run history, plus a WebSocket stream of decimated samples and cycle
// summaries. The stimulation loop hands events to the server through a
// bounded channel with a drop-on-full policy; a slow or absent monitor can
// never stall a tick.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"tprf-host/pkg/bids"
	"tprf-host/pkg/config"
	"tprf-host/pkg/log"
	"tprf-host/pkg/metrics"
	"tprf-host/pkg/qc"
)

var logger = log.GetLogger("monitor")

const (
	// sampleStreamInterval decimates the 10 Hz sample stream to at most
	// 2 Hz on the wire; the TSV keeps full resolution.
	sampleStreamInterval = 0.5

	// eventQueueSize bounds the loop-to-server channel. At 2 Hz decimated
	// this is over a minute of backlog before drops begin.
	eventQueueSize = 256
)

type eventKind int

const (
	eventSample eventKind = iota
	eventCycle
	eventState
)

type event struct {
	kind    eventKind
	sample  bids.Sample
	summary qc.CycleSummary
	state   int
}

// Server is the monitor HTTP/WebSocket server. It implements the runner's
// Publisher contract; all Publish methods are non-blocking.
type Server struct {
	exp        config.Experiment
	httpServer *http.Server
	hm         *metrics.HostMetrics

	events chan event

	clients  map[string]*wsClient
	clientMu sync.RWMutex

	mu         sync.RWMutex
	state      int
	ticks      int64
	dropped    int64
	lastSample bids.Sample
	haveSample bool
	streamed   bool
	streamedAt float64
	summaries  []qc.CycleSummary

	running chan struct{}
}

// New creates a monitor server for the experiment's listen address. hm may
// be nil.
func New(exp config.Experiment, hm *metrics.HostMetrics) *Server {
	s := &Server{
		exp:     exp,
		hm:      hm,
		events:  make(chan event, eventQueueSize),
		clients: make(map[string]*wsClient),
		running: make(chan struct{}),
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/qc", s.handleQC).Methods(http.MethodGet)
	r.HandleFunc("/api/files", s.handleFiles).Methods(http.MethodGet)
	r.HandleFunc("/api/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket)

	handler := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(r)
	handler = handlers.CombinedLoggingHandler(requestLogWriter{}, handler)

	s.httpServer = &http.Server{
		Addr:         exp.Monitor.Listen,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// requestLogWriter routes the access log through the structured logger.
type requestLogWriter struct{}

func (requestLogWriter) Write(p []byte) (int, error) {
	logger.Debug(string(p))
	return len(p), nil
}

// Start runs the dispatch loop and the HTTP listener; it blocks until the
// server stops.
func (s *Server) Start() error {
	go s.dispatchLoop()
	logger.Info("monitor listening on %s", s.exp.Monitor.Listen)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the dispatch loop, closes every client, and shuts the
// HTTP server down gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.running)

	s.clientMu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.clients = make(map[string]*wsClient)
	s.clientMu.Unlock()

	return s.httpServer.Shutdown(ctx)
}

// PublishSample hands a sample to the monitor. Samples are decimated to
// the stream interval; the full record only ever lands in the TSV.
func (s *Server) PublishSample(smp bids.Sample) {
	s.mu.Lock()
	s.ticks++
	s.lastSample = smp
	s.haveSample = true
	stream := !s.streamed || smp.Onset-s.streamedAt >= sampleStreamInterval
	if stream {
		s.streamed = true
		s.streamedAt = smp.Onset
	}
	s.mu.Unlock()

	if stream {
		s.push(event{kind: eventSample, sample: smp})
	}
}

// PublishCycle hands a completed cycle's summary to the monitor.
func (s *Server) PublishCycle(summary qc.CycleSummary) {
	s.mu.Lock()
	s.summaries = append(s.summaries, summary)
	s.mu.Unlock()
	s.push(event{kind: eventCycle, summary: summary})
}

// PublishState records a runner state transition.
func (s *Server) PublishState(state int) {
	s.mu.Lock()
	s.state = state
	if state == metrics.StatePreBaseline {
		// New block: the summary list restarts with it.
		s.summaries = nil
	}
	s.mu.Unlock()
	s.push(event{kind: eventState, state: state})
}

// push enqueues without ever blocking the caller.
func (s *Server) push(ev event) {
	select {
	case s.events <- ev:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		if s.hm != nil {
			s.hm.MessagesDropped.Inc(nil)
		}
	}
}

// dispatchLoop fans queued events out to subscribed clients.
func (s *Server) dispatchLoop() {
	for {
		select {
		case ev := <-s.events:
			s.broadcast(ev)
		case <-s.running:
			return
		}
	}
}

func (s *Server) broadcast(ev event) {
	msg := s.encodeEvent(ev)
	if msg == nil {
		return
	}
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	for _, c := range s.clients {
		if c.wants(ev.kind) {
			c.send(msg)
		}
	}
}

func (s *Server) encodeEvent(ev event) []byte {
	var payload any
	switch ev.kind {
	case eventSample:
		payload = map[string]any{"method": "notify_sample", "params": sampleMessage(ev.sample)}
	case eventCycle:
		payload = map[string]any{"method": "notify_cycle", "params": cycleMessage(ev.summary)}
	case eventState:
		payload = map[string]any{"method": "notify_state", "params": map[string]int{"state": ev.state}}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logger.WithError(err).Error("event encode failed")
		return nil
	}
	return data
}

// REST handlers

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	status := map[string]any{
		"participant":    s.exp.Session.Participant,
		"session":        s.exp.Session.Session,
		"state":          s.state,
		"ticks":          s.ticks,
		"dropped_events": s.dropped,
		"clients":        s.clientCount(),
	}
	if s.haveSample {
		status["latest_sample"] = sampleMessage(s.lastSample)
	}
	s.mu.RUnlock()
	writeJSON(w, status)
}

func (s *Server) handleQC(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	out := cycleMessages(s.summaries)
	s.mu.RUnlock()
	writeJSON(w, map[string]any{"summaries": out})
}

// handleFiles lists the run artifacts in the session's func directory.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	dir := bids.RunInfo{
		Participant: s.exp.Session.Participant,
		Session:     s.exp.Session.Session,
	}.FuncDir(s.exp.Session.DataDir)

	type fileInfo struct {
		Name     string `json:"name"`
		Size     int64  `json:"size"`
		Modified string `json:"modified"`
	}
	var files []fileInfo
	entries, err := os.ReadDir(dir)
	if err == nil {
		for _, e := range entries {
			info, err := e.Info()
			if err != nil {
				continue
			}
			files = append(files, fileInfo{
				Name:     filepath.Join(dir, e.Name()),
				Size:     info.Size(),
				Modified: info.ModTime().UTC().Format(time.RFC3339),
			})
		}
	}
	writeJSON(w, map[string]any{"files": files})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	completed := bids.ScanCompletedRuns(s.exp.Session.DataDir,
		s.exp.Session.Participant, s.exp.Session.Session)
	writeJSON(w, map[string]any{"completed": completed})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

func (s *Server) clientCount() int {
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	return len(s.clients)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.WithError(err).Debug("response encode failed")
	}
}
