package sse

import "testing"

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil)
	a := &Client{ID: "a", UserID: "u1", Events: make(chan Event, 1)}
	b := &Client{ID: "b", UserID: "u2", Events: make(chan Event, 1)}
	hub.Register(a)
	hub.Register(b)
	if hub.Count() != 2 {
		t.Fatalf("expected 2 clients, got %d", hub.Count())
	}

	hub.Broadcast(Event{EventType: "change", Data: `{"version":"1"}`})
	for _, c := range []*Client{a, b} {
		ev := <-c.Events
		if ev.EventType != "change" {
			t.Fatalf("client %s: unexpected event %q", c.ID, ev.EventType)
		}
	}

	// 缓冲已满时跳过，不阻塞
	hub.Broadcast(Event{EventType: "x"})
	hub.Broadcast(Event{EventType: "y"})
	if ev := <-a.Events; ev.EventType != "x" {
		t.Fatalf("expected x, got %q", ev.EventType)
	}

	hub.Unregister("a")
	if _, ok := <-a.Events; ok {
		t.Fatal("expected closed channel")
	}
	if hub.Count() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.Count())
	}
}
