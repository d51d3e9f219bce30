package status

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/unblink/camerad/bus"
)

func TestCameraFromTopic(t *testing.T) {
	cases := map[string]string{
		"status.cam1":        "cam1",
		"fault.cam1":         "cam1",
		"zone.cam1.driveway": "cam1",
		"recording.porch":    "porch",
	}
	for topic, want := range cases {
		if got := cameraFromTopic(topic); got != want {
			t.Errorf("cameraFromTopic(%q) = %q, want %q", topic, got, want)
		}
	}
}

func TestBroadcastDropsOnFullClientBuffer(t *testing.T) {
	h := NewHub()
	c := &client{id: "c1", sendChan: make(chan []byte, 1), closeChan: make(chan struct{})}
	h.register(c)

	h.Broadcast(Event{Kind: "status", Camera: "cam1", Data: "recording"})
	h.Broadcast(Event{Kind: "status", Camera: "cam1", Data: "idle"}) // buffer full, must not block

	select {
	case data := <-c.sendChan:
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if evt.Camera != "cam1" {
			t.Errorf("expected camera cam1, got %s", evt.Camera)
		}
	default:
		t.Fatal("expected the first broadcast to be queued")
	}
}

func TestAttachBroadcastsBusEvents(t *testing.T) {
	b := bus.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	h := NewHub()
	if err := h.Attach(b); err != nil {
		t.Fatalf("attach: %v", err)
	}
	c := &client{id: "c1", sendChan: make(chan []byte, 4), closeChan: make(chan struct{})}
	h.register(c)

	if err := b.Publish("status.cam1", "recording"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case data := <-c.sendChan:
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if evt.Kind != "status" || evt.Camera != "cam1" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}
