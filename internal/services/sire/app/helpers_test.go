package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"github.com/sire-training/sire/internal/services/sire/escalation"
)

type wsTestFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type wsTestError struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
}

type wsTestLog struct {
	ActorRole    string `json:"actorRole"`
	DisplayName  string `json:"displayName"`
	Action       string `json:"action"`
	Rationale    string `json:"rationale"`
	TimestampISO string `json:"timestampIso"`
}

type stepTimer struct {
	at    time.Duration
	seq   int
	f     func()
	state int // 0 armed, 1 stopped, 2 fired
}

type stepHandle struct {
	s *stepScheduler
	t *stepTimer
}

func (h stepHandle) Stop() bool {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if h.t.state != 0 {
		return false
	}
	h.t.state = 1
	return true
}

type stepScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*stepTimer
}

func (s *stepScheduler) AfterFunc(d time.Duration, f func()) escalation.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &stepTimer{at: s.now + d, seq: s.seq, f: f}
	s.timers = append(s.timers, t)
	return stepHandle{s: s, t: t}
}

func (s *stepScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	var due []*stepTimer
	for _, t := range s.timers {
		if t.state == 0 && t.at <= s.now {
			t.state = 2
			due = append(due, t)
		}
	}
	s.mu.Unlock()
	sort.Slice(due, func(i, j int) bool {
		if due[i].at != due[j].at {
			return due[i].at < due[j].at
		}
		return due[i].seq < due[j].seq
	})
	for _, t := range due {
		t.f()
	}
}

func testConfig() Config {
	return Config{
		AllowedOrigins:  []string{"*"},
		RequireAPIKey:   false,
		RequireTicketID: false,
	}
}

func newTestGateway(t *testing.T, mutate func(*Config)) (*gateway, *httptest.Server) {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	g, err := newGateway(cfg)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	srv := httptest.NewServer(g.routes())
	t.Cleanup(func() {
		g.shutdown()
		srv.Close()
	})
	return g, srv
}

func dialWSWithServerURL(httpURL string, header http.Header) (*websocket.Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http") + "/sim"
	cfg, err := websocket.NewConfig(wsURL, httpURL)
	if err != nil {
		return nil, err
	}
	if header != nil {
		cfg.Header = header
	}
	return websocket.DialConfig(cfg)
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	return dialWSWithHeader(t, srv, nil)
}

func dialWSWithHeader(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	conn, err := dialWSWithServerURL(srv.URL, header)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, frameType string, payload any) {
	t.Helper()
	writeFrameWithID(t, conn, frameType, "", payload)
}

func writeFrameWithID(t *testing.T, conn *websocket.Conn, frameType, requestID string, payload any) {
	t.Helper()
	frame := map[string]any{"type": frameType, "payload": payload}
	if requestID != "" {
		frame["request_id"] = requestID
	}
	if err := json.NewEncoder(conn).Encode(frame); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) wsTestFrame {
	t.Helper()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var got wsTestFrame
	if err := json.NewDecoder(conn).Decode(&got); err != nil {
		t.Fatalf("decode server frame: %v", err)
	}
	return got
}

func readError(t *testing.T, conn *websocket.Conn) wsTestError {
	t.Helper()
	frame := readFrame(t, conn)
	if frame.Type != "error:occurred" {
		t.Fatalf("frame type = %q, want error:occurred (payload %s)", frame.Type, frame.Payload)
	}
	var payload wsTestError
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.CorrelationID == "" {
		t.Fatal("expected correlation id on error frame")
	}
	return payload
}

func readLog(t *testing.T, conn *websocket.Conn) wsTestLog {
	t.Helper()
	frame := readFrame(t, conn)
	if frame.Type != "event:log:broadcast" {
		t.Fatalf("frame type = %q, want event:log:broadcast (payload %s)", frame.Type, frame.Payload)
	}
	var payload wsTestLog
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		t.Fatalf("decode log payload: %v", err)
	}
	return payload
}

// barrier proves no other frame is queued ahead of a fresh round trip.
func barrier(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeFrameWithID(t, conn, "ping", "barrier", map[string]any{})
	frame := readFrame(t, conn)
	if frame.Type != "error:occurred" || frame.RequestID != "barrier" {
		t.Fatalf("unexpected frame before barrier: type=%q request_id=%q payload=%s", frame.Type, frame.RequestID, frame.Payload)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
