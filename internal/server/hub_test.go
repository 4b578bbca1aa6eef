package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/vibelab/internal/queue"
)

type wireFrame struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Seq     int64           `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wireFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f wireFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestEventStream(t *testing.T) {
	srv, sched, _ := newTestServer(t, svgClient())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	if rec := do(t, srv.Handler(), http.MethodPost, "/api/experiments", "application/yaml", experimentYAML); rec.Code != http.StatusCreated {
		t.Fatalf("load status = %d", rec.Code)
	}

	conn := dial(t, ts)
	snapshot := readFrame(t, conn)
	if snapshot.Event != "snapshot" {
		t.Fatalf("first frame = %q, want snapshot", snapshot.Event)
	}
	var state struct {
		Tasks []*queue.Task `json:"tasks"`
	}
	if err := json.Unmarshal(snapshot.Payload, &state); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(state.Tasks) != 2 {
		t.Fatalf("snapshot tasks = %d, want 2", len(state.Tasks))
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := srv.StartRun(1); err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	waitRun(t, sched)

	var (
		lastSeq   = snapshot.Seq
		completed int
		states    []string
	)
	for len(states) == 0 || states[len(states)-1] != string(queue.RunCompleted) {
		f := readFrame(t, conn)
		if f.Seq <= lastSeq {
			t.Fatalf("sequence went backwards: %d after %d", f.Seq, lastSeq)
		}
		lastSeq = f.Seq

		var e queue.Event
		if err := json.Unmarshal(f.Payload, &e); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		switch e.Type {
		case queue.EventRunState:
			states = append(states, string(e.State))
		case queue.EventTaskUpdate:
			if e.Task.Status == queue.StatusCompleted {
				completed++
			}
		}
	}
	if states[0] != string(queue.RunStarted) {
		t.Errorf("states = %v, want started first", states)
	}
	if completed != 2 {
		t.Errorf("completed updates = %d, want 2", completed)
	}
}

func TestHubCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin", nil, "", "localhost:8080", true},
		{"same host", nil, "http://localhost:8080", "localhost:8080", true},
		{"cross origin", nil, "http://evil.example", "localhost:8080", false},
		{"allow listed", []string{"http://app.example"}, "http://app.example", "localhost:8080", true},
		{"wildcard", []string{"*"}, "http://anything.example", "localhost:8080", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHub(HubConfig{AllowedOrigins: tt.allowed})
			req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := h.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHubDropsSlowClients(t *testing.T) {
	h := NewHub(HubConfig{})
	ts := httptest.NewServer(h)
	defer ts.Close()

	// The connection is never read, so its buffer fills.
	conn := dial(t, ts)
	_ = conn

	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.Clients() != 1 {
		t.Fatalf("clients = %d, want 1", h.Clients())
	}

	big := strings.Repeat("x", 1<<16)
	task := &queue.Task{ID: "t", Error: big}
	for i := 0; i < 4096 && h.Clients() > 0; i++ {
		h.Emit(context.Background(), queue.Event{Type: queue.EventTaskUpdate, Task: task})
	}
	if h.Clients() != 0 {
		t.Fatal("expected slow client to be dropped")
	}
}

func TestHubCloseRejectsNewClients(t *testing.T) {
	h := NewHub(HubConfig{})
	ts := httptest.NewServer(h)
	defer ts.Close()
	h.Close()

	conn := dial(t, ts)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to be closed")
	}
}
