package energylens

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestEventHubSubscribeFilter(t *testing.T) {
	hub := NewEventHub(StreamConfig{BufferSize: 4})

	all := hub.Subscribe()
	onlyComplete := hub.Subscribe(EventAnalysisComplete)
	if hub.Count() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", hub.Count())
	}

	hub.Publish(Event{Type: EventDatasetLoaded, RowCount: 3})
	hub.Publish(Event{Type: EventAnalysisComplete, RunID: "r1"})

	if len(all.C()) != 2 {
		t.Errorf("expected 2 events for the catch-all subscriber, got %d", len(all.C()))
	}
	if len(onlyComplete.C()) != 1 {
		t.Fatalf("expected 1 filtered event, got %d", len(onlyComplete.C()))
	}
	e := <-onlyComplete.C()
	if e.RunID != "r1" || e.Time.IsZero() {
		t.Errorf("unexpected event %+v", e)
	}

	hub.Unsubscribe(all.ID)
	hub.Unsubscribe(all.ID)
	if hub.Count() != 1 {
		t.Errorf("expected 1 subscriber after unsubscribe, got %d", hub.Count())
	}
}

func TestEventHubDropsForSlowSubscribers(t *testing.T) {
	hub := NewEventHub(StreamConfig{BufferSize: 2})
	sub := hub.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Publish(Event{Type: EventAnomaly, Row: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if len(sub.C()) != 2 {
		t.Errorf("expected buffer of 2 events, got %d", len(sub.C()))
	}
}

func TestEventHubDeliver(t *testing.T) {
	hub := NewEventHub(DefaultStreamConfig())
	sub := hub.Subscribe()
	run := analyzedRun(t)

	if err := hub.Deliver(context.Background(), run); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	var anomalies int
	var complete *Event
	for len(sub.C()) > 0 {
		e := <-sub.C()
		switch e.Type {
		case EventAnomaly:
			anomalies++
			if e.RowTime == nil {
				t.Error("anomaly events should carry the row time")
			}
		case EventAnalysisComplete:
			complete = &e
		}
	}
	if anomalies != len(run.AnomalyRows) {
		t.Errorf("expected %d anomaly events, got %d", len(run.AnomalyRows), anomalies)
	}
	if complete == nil || complete.Summary == nil || complete.Summary.Rows != 48 {
		t.Errorf("expected analysis_complete with summary, got %+v", complete)
	}
}

func TestEventHubWebSocket(t *testing.T) {
	hub := NewEventHub(DefaultStreamConfig())
	srv := httptest.NewServer(hub.WebSocketHandler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "subscribe", "events": []string{EventAnalysisComplete}}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != 1 || !onlyWants(hub, EventAnalysisComplete) {
		if time.Now().After(deadline) {
			t.Fatal("subscription was not narrowed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Publish(Event{Type: EventAnomaly, Row: 1})
	hub.Publish(Event{Type: EventAnalysisComplete, RunID: "ws-run"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e Event
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if e.Type != EventAnalysisComplete || e.RunID != "ws-run" {
		t.Errorf("expected analysis_complete for ws-run, got %+v", e)
	}
}

func onlyWants(h *EventHub, eventType string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if len(sub.types) != 1 || !sub.types[eventType] {
			return false
		}
	}
	return true
}
