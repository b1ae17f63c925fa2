package monitor

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tprf-host/pkg/bids"
	"tprf-host/pkg/config"
	"tprf-host/pkg/metrics"
	"tprf-host/pkg/qc"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	exp := config.DefaultExperiment()
	exp.Session.DataDir = t.TempDir()
	exp.Session.Participant = "0001"
	return New(exp, nil)
}

func sampleAt(onset float64) bids.Sample {
	return bids.Sample{
		Onset:      onset,
		Volume:     int(onset/1.5) + 1,
		BlockLabel: "NonTGI",
		MaskName:   "P1_W",
		WarmFirst:  true,
		Delta:      1.0,
		Set:        [5]float64{31, 31, 30, 30, 30},
		Actual:     [5]float64{30.9, 31.1, 30, 30, 30},
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := testServer(t)
	s.PublishState(metrics.StateStimulating)
	s.PublishSample(sampleAt(6.0))
	s.PublishSample(sampleAt(6.1))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d", w.Code)
	}
	var status struct {
		Participant  string      `json:"participant"`
		State        int         `json:"state"`
		Ticks        int64       `json:"ticks"`
		LatestSample bids.Sample `json:"latest_sample"`
	}
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Participant != "0001" {
		t.Errorf("participant = %q", status.Participant)
	}
	if status.State != metrics.StateStimulating {
		t.Errorf("state = %d, want %d", status.State, metrics.StateStimulating)
	}
	if status.Ticks != 2 {
		t.Errorf("ticks = %d, want 2", status.Ticks)
	}
	if status.LatestSample.Onset != 6.1 {
		t.Errorf("latest onset = %v, want 6.1", status.LatestSample.Onset)
	}
}

func TestQCEndpoint(t *testing.T) {
	s := testServer(t)
	s.PublishCycle(qc.CycleSummary{CycleIndex: 0, MeanRampRate: 0.98, NSamples: 800})
	s.PublishCycle(qc.CycleSummary{CycleIndex: 1, MeanRampRate: 1.01, NSamples: 800})

	req := httptest.NewRequest(http.MethodGet, "/api/qc", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	var resp struct {
		Summaries []qc.CycleSummary `json:"summaries"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Summaries) != 2 || resp.Summaries[1].CycleIndex != 1 {
		t.Errorf("summaries = %+v", resp.Summaries)
	}

	// A new block clears the list.
	s.PublishState(metrics.StatePreBaseline)
	w = httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	resp.Summaries = nil
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Summaries) != 0 {
		t.Errorf("summaries after new block = %+v", resp.Summaries)
	}
}

// TestNaNSampleEncodes covers the simulation and failed-readback paths,
// where actual temperatures are NaN. NaN has no JSON encoding, so the
// wire form must map it to null instead of refusing the whole event.
func TestNaNSampleEncodes(t *testing.T) {
	s := testServer(t)

	smp := sampleAt(6.0)
	for i := range smp.Actual {
		smp.Actual[i] = math.NaN()
	}

	msg := s.encodeEvent(event{kind: eventSample, sample: smp})
	if msg == nil {
		t.Fatal("sample with NaN readings did not encode")
	}
	var notify struct {
		Method string    `json:"method"`
		Params sampleMsg `json:"params"`
	}
	if err := json.Unmarshal(msg, &notify); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if notify.Method != "notify_sample" {
		t.Errorf("method = %q", notify.Method)
	}
	if notify.Params.Onset != 6.0 {
		t.Errorf("onset = %v, want 6.0", notify.Params.Onset)
	}
	if !strings.Contains(string(msg), `"actual":[null,null,null,null,null]`) {
		t.Errorf("NaN readings not encoded as null: %s", msg)
	}
}

func TestNaNCycleSummaryEncodes(t *testing.T) {
	s := testServer(t)

	// A cycle with no onset has NaN latency; a simulation cycle is NaN
	// throughout.
	summary := qc.CycleSummary{
		CycleIndex:   2,
		OnsetLatency: math.NaN(),
		MeanRampRate: 0.97,
		MaxTempError: math.NaN(),
		NSamples:     800,
	}
	if msg := s.encodeEvent(event{kind: eventCycle, summary: summary}); msg == nil {
		t.Fatal("summary with NaN fields did not encode")
	}

	s.PublishCycle(summary)
	req := httptest.NewRequest(http.MethodGet, "/api/qc", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	var resp struct {
		Summaries []struct {
			CycleIndex   int      `json:"cycle_index"`
			OnsetLatency *float64 `json:"onset_latency_s"`
			MeanRampRate float64  `json:"mean_ramp_rate"`
		} `json:"summaries"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Summaries) != 1 {
		t.Fatalf("summaries = %+v", resp.Summaries)
	}
	got := resp.Summaries[0]
	if got.OnsetLatency != nil {
		t.Errorf("onset_latency_s = %v, want null", *got.OnsetLatency)
	}
	if got.MeanRampRate != 0.97 {
		t.Errorf("mean_ramp_rate = %v, want 0.97", got.MeanRampRate)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	s := testServer(t)

	info := bids.NewRunInfo("0001", "01", "02", "NonTGI", "P1_W", false)
	paths, err := info.BuildPaths(s.exp.Session.DataDir)
	if err != nil {
		t.Fatalf("BuildPaths: %v", err)
	}
	if err := bids.NewSidecar(s.exp, info).Write(paths.Sidecar); err != nil {
		t.Fatalf("sidecar: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	var resp struct {
		Completed map[string]bids.Sidecar `json:"completed"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Completed) != 1 {
		t.Fatalf("completed = %+v", resp.Completed)
	}
	if sc, ok := resp.Completed["02"]; !ok || sc.MaskName != "P1_W" {
		t.Errorf("run 02 sidecar = %+v, %v", sc, ok)
	}

	// Files endpoint sees the sidecar too.
	req = httptest.NewRequest(http.MethodGet, "/api/files", nil)
	w = httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), "_thermode_") {
		t.Errorf("files response missing sidecar: %s", w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ok") {
		t.Errorf("healthz = %d %q", w.Code, w.Body.String())
	}
}

// TestPublishNeverBlocks fills the event queue with no dispatcher running;
// the publisher must keep returning immediately and count drops.
func TestPublishNeverBlocks(t *testing.T) {
	s := testServer(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < eventQueueSize*2; i++ {
			s.PublishCycle(qc.CycleSummary{CycleIndex: i})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on a full event queue")
	}

	s.mu.RLock()
	dropped := s.dropped
	s.mu.RUnlock()
	if dropped != eventQueueSize {
		t.Errorf("dropped = %d, want %d", dropped, eventQueueSize)
	}
}

// TestSampleDecimation verifies that 10 Hz samples stream at 2 Hz.
func TestSampleDecimation(t *testing.T) {
	s := testServer(t)

	// 20 samples over 2 seconds: the first plus one per half second.
	for i := 0; i < 20; i++ {
		s.PublishSample(sampleAt(float64(i) * 0.1))
	}

	if got := len(s.events); got != 4 {
		t.Errorf("streamed events = %d, want 4", got)
	}

	// Every tick is still counted even when decimated off the wire.
	s.mu.RLock()
	ticks := s.ticks
	s.mu.RUnlock()
	if ticks != 20 {
		t.Errorf("ticks = %d, want 20", ticks)
	}
}

func TestWebSocketSubscribe(t *testing.T) {
	s := testServer(t)
	go s.dispatchLoop()
	defer close(s.running)

	ts := httptest.NewServer(s.httpServer.Handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeRequest{Method: "subscribe_qc", ID: 1}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply subscribeReply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.Result != "ok" {
		t.Errorf("reply = %+v", reply)
	}

	// Give the subscription a moment to land, then publish.
	time.Sleep(50 * time.Millisecond)
	s.PublishCycle(qc.CycleSummary{CycleIndex: 3, NSamples: 800})

	var notify struct {
		Method string          `json:"method"`
		Params qc.CycleSummary `json:"params"`
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&notify); err != nil {
		t.Fatalf("read notify: %v", err)
	}
	if notify.Method != "notify_cycle" || notify.Params.CycleIndex != 3 {
		t.Errorf("notify = %+v", notify)
	}
}
