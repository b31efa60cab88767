package telemetry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rjboer/GoScope/internal/logging"
)

// Config represents the runtime configuration exposed by the telemetry hub.
type Config struct {
	HistoryLimit int `json:"historyLimit"`
}

const (
	minHistoryLimit = 1
	maxHistoryLimit = 10_000
)

func defaultConfig() Config {
	return Config{HistoryLimit: 500}
}

func validateConfig(cfg Config, base Config) (Config, error) {
	if base.HistoryLimit == 0 {
		base = defaultConfig()
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = base.HistoryLimit
	}
	if cfg.HistoryLimit < minHistoryLimit || cfg.HistoryLimit > maxHistoryLimit {
		return Config{}, fmt.Errorf("history limit must be between %d and %d", minHistoryLimit, maxHistoryLimit)
	}
	return cfg, nil
}

// Hub collects capture history and fans out updates to subscribers.
type Hub struct {
	mu          sync.RWMutex
	history     []Capture
	subscribers map[chan Capture]struct{}
	config      Config
	logger      logging.Logger
	upgrader    websocket.Upgrader
}

// NewHub builds a telemetry hub with the provided history limit.
func NewHub(historyLimit int, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	cfg, err := validateConfig(Config{HistoryLimit: historyLimit}, defaultConfig())
	if err != nil {
		cfg = defaultConfig()
	}
	return &Hub{
		subscribers: make(map[chan Capture]struct{}),
		config:      cfg,
		logger:      logger.With(logging.F("subsystem", "telemetry")),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ReportCapture implements Reporter.
func (h *Hub) ReportCapture(c Capture) {
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now()
	}
	h.mu.Lock()
	h.history = append(h.history, c)
	if len(h.history) > h.config.HistoryLimit {
		h.history = h.history[len(h.history)-h.config.HistoryLimit:]
	}
	for ch := range h.subscribers {
		select {
		case ch <- c:
		default:
		}
	}
	h.mu.Unlock()
}

// History returns a copy of stored captures.
func (h *Hub) History() []Capture {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Capture, len(h.history))
	copy(out, h.history)
	return out
}

// ConfigSnapshot returns the latest validated configuration.
func (h *Hub) ConfigSnapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Subscribe registers a listener for live updates.
func (h *Hub) Subscribe() (chan Capture, func()) {
	ch := make(chan Capture, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

func (h *Hub) applyConfig(cfg Config) {
	h.config = cfg
	if len(h.history) > cfg.HistoryLimit {
		h.history = h.history[len(h.history)-cfg.HistoryLimit:]
	}
}

// HistoryFilter selects captures from the history. Zero values match all.
type HistoryFilter struct {
	Channel       int
	TruncatedOnly bool
	Last          int
}

// Query returns the stored captures matching f, oldest first.
func (h *Hub) Query(f HistoryFilter) []Capture {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []Capture
	for _, c := range h.history {
		if f.Channel != 0 && c.Channel != f.Channel {
			continue
		}
		if f.TruncatedOnly && !c.Truncated {
			continue
		}
		out = append(out, c)
	}
	if f.Last > 0 && len(out) > f.Last {
		out = out[len(out)-f.Last:]
	}
	return out
}

// Latest returns the newest capture of every channel seen, keyed by channel.
func (h *Hub) Latest() map[int]Capture {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[int]Capture)
	for _, c := range h.history {
		out[c.Channel] = c
	}
	return out
}

func parseHistoryFilter(r *http.Request) (HistoryFilter, error) {
	var f HistoryFilter
	q := r.URL.Query()
	if v := q.Get("channel"); v != "" {
		ch, err := strconv.Atoi(v)
		if err != nil || ch < 1 || ch > 4 {
			return f, fmt.Errorf("channel must be 1-4, got %q", v)
		}
		f.Channel = ch
	}
	if v := q.Get("truncated"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("truncated: %w", err)
		}
		f.TruncatedOnly = b
	}
	if v := q.Get("last"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("last must be a non-negative integer, got %q", v)
		}
		f.Last = n
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Hub) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	f, err := parseHistoryFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	captures := h.Query(f)
	if captures == nil {
		captures = []Capture{}
	}
	writeJSON(w, captures)
}

func (h *Hub) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.Latest())
}

func (h *Hub) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, h.ConfigSnapshot())
	case http.MethodPost:
		var incoming Config
		if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
			http.Error(w, fmt.Sprintf("invalid config payload: %v", err), http.StatusBadRequest)
			return
		}
		cfg, err := validateConfig(incoming, h.ConfigSnapshot())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.mu.Lock()
		h.applyConfig(cfg)
		h.mu.Unlock()
		writeJSON(w, cfg)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleLive upgrades to a websocket, replays the history and then
// streams every new capture as a JSON text frame.
func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", logging.F("error", err))
		return
	}
	defer conn.Close()

	ch, cancel := h.Subscribe()
	defer cancel()

	// Reader goroutine detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, c := range h.History() {
		if err := conn.WriteJSON(c); err != nil {
			return
		}
	}
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(c); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
