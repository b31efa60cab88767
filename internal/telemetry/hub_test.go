package telemetry

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rjboer/GoScope/internal/dsp"
	"github.com/rjboer/GoScope/internal/logging"
)

func newTestHub(limit int) *Hub {
	return NewHub(limit, logging.New(logging.Debug, logging.Text, io.Discard))
}

func TestHubHistoryIsBounded(t *testing.T) {
	hub := newTestHub(3)
	for i := 1; i <= 5; i++ {
		hub.ReportCapture(Capture{Channel: 1, Samples: i})
	}
	hist := hub.History()
	if len(hist) != 3 {
		t.Fatalf("expected 3 captures, got %d", len(hist))
	}
	if hist[0].Samples != 3 || hist[2].Samples != 5 {
		t.Fatalf("expected the newest captures to be kept, got %+v", hist)
	}
	if hist[0].Timestamp.IsZero() {
		t.Fatalf("timestamp not filled in")
	}
}

func TestHandleHistory(t *testing.T) {
	hub := newTestHub(10)
	hub.ReportCapture(Capture{Channel: 2, Samples: 1200, Stats: dsp.Stats{Count: 1200, Max: 200}})

	rr := httptest.NewRecorder()
	hub.handleHistory(rr, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got []Capture
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 1 || got[0].Channel != 2 || got[0].Stats.Max != 200 {
		t.Fatalf("unexpected history %+v", got)
	}

	rr = httptest.NewRecorder()
	hub.handleHistory(rr, httptest.NewRequest(http.MethodPost, "/api/history", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestHandleConfigUpdate(t *testing.T) {
	hub := newTestHub(10)
	for i := 0; i < 6; i++ {
		hub.ReportCapture(Capture{Samples: i})
	}

	body := bytes.NewBufferString(`{"historyLimit":2}`)
	rr := httptest.NewRecorder()
	hub.handleConfig(rr, httptest.NewRequest(http.MethodPost, "/api/config", body))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := hub.ConfigSnapshot().HistoryLimit; got != 2 {
		t.Fatalf("history limit %d", got)
	}
	if len(hub.History()) != 2 {
		t.Fatalf("history not trimmed: %d", len(hub.History()))
	}

	rr = httptest.NewRecorder()
	hub.handleConfig(rr, httptest.NewRequest(http.MethodPost, "/api/config", strings.NewReader(`{"historyLimit":-4}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid limit, got %d", rr.Code)
	}
}

func TestMultiReporterSkipsNil(t *testing.T) {
	a, b := newTestHub(5), newTestHub(5)
	MultiReporter{a, nil, b}.ReportCapture(Capture{Channel: 3})
	if len(a.History()) != 1 || len(b.History()) != 1 {
		t.Fatalf("capture not fanned out")
	}
}

func TestLiveWebsocketReplaysAndStreams(t *testing.T) {
	hub := newTestHub(10)
	hub.ReportCapture(Capture{Channel: 1, Samples: 100})

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first Capture
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read replay: %v", err)
	}
	if first.Samples != 100 {
		t.Fatalf("unexpected replayed capture %+v", first)
	}

	// The subscription is registered before the replay is sent.
	hub.ReportCapture(Capture{Channel: 4, Samples: 250000, Truncated: true})
	var live Capture
	if err := conn.ReadJSON(&live); err != nil {
		t.Fatalf("read live: %v", err)
	}
	if live.Channel != 4 || !live.Truncated {
		t.Fatalf("unexpected live capture %+v", live)
	}
}

func TestHistoryFilters(t *testing.T) {
	hub := newTestHub(20)
	for i := 0; i < 6; i++ {
		hub.ReportCapture(Capture{Channel: i%2 + 1, Samples: i, Truncated: i == 4})
	}

	tests := []struct {
		query string
		want  []int
	}{
		{"", []int{0, 1, 2, 3, 4, 5}},
		{"?channel=1", []int{0, 2, 4}},
		{"?channel=1&last=2", []int{2, 4}},
		{"?truncated=true", []int{4}},
		{"?channel=2&truncated=1", []int{}},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		hub.handleHistory(rr, httptest.NewRequest(http.MethodGet, "/api/history"+tt.query, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%q: status %d", tt.query, rr.Code)
		}
		var got []Capture
		if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
			t.Fatalf("%q: decode: %v", tt.query, err)
		}
		if len(got) != len(tt.want) {
			t.Fatalf("%q: got %d captures, want %d", tt.query, len(got), len(tt.want))
		}
		for i, c := range got {
			if c.Samples != tt.want[i] {
				t.Fatalf("%q: capture %d has samples %d, want %d", tt.query, i, c.Samples, tt.want[i])
			}
		}
	}

	for _, bad := range []string{"?channel=5", "?channel=x", "?last=-1", "?truncated=maybe"} {
		rr := httptest.NewRecorder()
		hub.handleHistory(rr, httptest.NewRequest(http.MethodGet, "/api/history"+bad, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%q: expected 400, got %d", bad, rr.Code)
		}
	}
}

func TestHandleLatest(t *testing.T) {
	hub := newTestHub(10)
	hub.ReportCapture(Capture{Channel: 1, Samples: 10})
	hub.ReportCapture(Capture{Channel: 3, Samples: 30})
	hub.ReportCapture(Capture{Channel: 1, Samples: 11})

	rr := httptest.NewRecorder()
	hub.handleLatest(rr, httptest.NewRequest(http.MethodGet, "/api/latest", nil))
	var got map[int]Capture
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[1].Samples != 11 || got[3].Samples != 30 {
		t.Fatalf("unexpected latest %+v", got)
	}
}
