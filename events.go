package energylens

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event types published by the hub.
const (
	EventDatasetLoaded    = "dataset_loaded"
	EventAnalysisComplete = "analysis_complete"
	EventAnomaly          = "anomaly"
)

// Event is one notification sent to subscribers.
type Event struct {
	Type    string    `json:"type"`
	RunID   string    `json:"run_id,omitempty"`
	Time    time.Time `json:"time"`
	Summary *Summary  `json:"summary,omitempty"`

	// Row and KWh identify an anomalous hour.
	Row      int        `json:"row,omitempty"`
	RowTime  *time.Time `json:"row_time,omitempty"`
	KWh      float64    `json:"kwh,omitempty"`
	Score    float64    `json:"score,omitempty"`
	Message  string     `json:"message,omitempty"`
	Columns  []string   `json:"columns,omitempty"`
	RowCount int        `json:"rows,omitempty"`
}

// StreamConfig configures the event hub.
type StreamConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BufferSize   int           `yaml:"buffer_size"`
	PingInterval time.Duration `yaml:"ping_interval"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultStreamConfig returns default event hub configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Enabled:      true,
		BufferSize:   256,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Subscription receives events of the selected types.
type Subscription struct {
	ID    string
	types map[string]bool
	ch    chan Event
	done  chan struct{}
	once  sync.Once
}

// C returns the event channel.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

func (s *Subscription) wants(eventType string) bool {
	return len(s.types) == 0 || s.types[eventType]
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.done) })
}

// EventHub fans analysis events out to subscribers. Slow subscribers lose
// events rather than block the publisher.
type EventHub struct {
	config StreamConfig
	mu     sync.RWMutex
	subs   map[string]*Subscription
	nextID uint64
}

// NewEventHub creates a hub.
func NewEventHub(cfg StreamConfig) *EventHub {
	def := DefaultStreamConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &EventHub{config: cfg, subs: make(map[string]*Subscription)}
}

// Subscribe registers a subscriber. No types means all events.
func (h *EventHub) Subscribe(types ...string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		ID:    fmt.Sprintf("sub-%d", h.nextID),
		types: make(map[string]bool, len(types)),
		ch:    make(chan Event, h.config.BufferSize),
		done:  make(chan struct{}),
	}
	for _, t := range types {
		sub.types[t] = true
	}
	h.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscriber. The event channel is left open so a
// concurrent Publish never sends on a closed channel.
func (h *EventHub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}

// Publish delivers e to every interested subscriber without blocking.
func (h *EventHub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !sub.wants(e.Type) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
		}
	}
}

// Count returns the number of subscribers.
func (h *EventHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Name implements ResultSink.
func (h *EventHub) Name() string { return "events" }

// Deliver implements ResultSink by publishing one event per anomalous hour
// followed by analysis_complete.
func (h *EventHub) Deliver(_ context.Context, run *Analysis) error {
	if res := run.Anomalies; res != nil {
		totals, _ := res.Table.column(TotalColumn)
		ts := res.Table.Timestamps()
		for _, i := range res.Indices() {
			e := Event{Type: EventAnomaly, RunID: run.RunID, Row: i, KWh: totals[i], Score: res.Scores[i]}
			if ts != nil {
				e.RowTime = &ts[i]
			}
			h.Publish(e)
		}
	}
	summary := run.Summary
	h.Publish(Event{Type: EventAnalysisComplete, RunID: run.RunID, Summary: &summary})
	return nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientMessage is sent by websocket clients to narrow their subscription.
type clientMessage struct {
	Type   string   `json:"type"`
	Events []string `json:"events,omitempty"`
}

// WebSocketHandler streams events to websocket clients. Clients start
// subscribed to everything and may send {"type":"subscribe","events":[...]}.
func (h *EventHub) WebSocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Debug("websocket upgrade failed", "err", err)
			return
		}
		defer func() { _ = conn.Close() }()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		var (
			mu  sync.Mutex
			sub = h.Subscribe()
		)
		defer func() {
			mu.Lock()
			h.Unsubscribe(sub.ID)
			mu.Unlock()
		}()

		resubscribe := make(chan *Subscription, 1)
		go func() {
			defer cancel()
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var msg clientMessage
				if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "subscribe" {
					continue
				}
				next := h.Subscribe(msg.Events...)
				mu.Lock()
				h.Unsubscribe(sub.ID)
				sub = next
				mu.Unlock()
				select {
				case resubscribe <- next:
				case <-ctx.Done():
					return
				}
			}
		}()

		ping := time.NewTicker(h.config.PingInterval)
		defer ping.Stop()

		mu.Lock()
		current := sub
		mu.Unlock()
		for {
			select {
			case <-ctx.Done():
				return
			case next := <-resubscribe:
				current = next
			case <-ping.C:
				deadline := time.Now().Add(h.config.WriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			case e := <-current.ch:
				_ = conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
				if err := conn.WriteJSON(e); err != nil {
					return
				}
			}
		}
	}
}
