package capture

import (
	"context"
	"testing"
	"time"

	"github.com/unblink/camerad/bus"
	"github.com/unblink/camerad/frame"
)

func testCapture(name string, allowlist []string) *Capture {
	b := bus.New()
	cfg := Config{
		Name:             name,
		FrameWidth:       2,
		FrameHeight:      2,
		FrameTimeout:     60 * time.Second,
		ProbeRetryDelay:  5 * time.Millisecond,
		StderrAllowlist:  allowlist,
	}
	return New(cfg, b)
}

// TestSanityProbeAllowlistedStderrPasses covers S4: a known-transient
// stderr line does not fail the probe.
func TestSanityProbeAllowlistedStderrPasses(t *testing.T) {
	c := testCapture("cam-s4", []string{"error while decoding MB"})
	ctx := context.Background()
	err := c.sanityProbe(ctx, []string{"sh", "-c", "echo 'error while decoding MB' 1>&2"})
	if err != nil {
		t.Fatalf("expected allowlisted stderr to pass the probe, got: %v", err)
	}
}

// TestSanityProbeNonRecoverableStderrFails covers S5: an unlisted stderr
// line fails the probe.
func TestSanityProbeNonRecoverableStderrFails(t *testing.T) {
	c := testCapture("cam-s5", []string{"error while decoding MB"})
	ctx := context.Background()
	err := c.sanityProbe(ctx, []string{"sh", "-c", "echo 'Connection refused' 1>&2"})
	if err == nil {
		t.Fatal("expected non-allowlisted stderr to fail the probe")
	}
}

func TestIsAllowlisted(t *testing.T) {
	c := testCapture("cam", []string{"error while decoding MB", "N/A"})
	if !c.isAllowlisted("[h264 @ 0x123] error while decoding MB 4 5") {
		t.Error("expected substring match to allowlist")
	}
	if c.isAllowlisted("Connection refused") {
		t.Error("expected non-listed line to not match")
	}
}

// TestReadLoopPublishesFrameThenExitsOnCancel reads one correctly-sized
// raw frame from a stub reader process and confirms a clean shutdown on
// context cancellation, not a restart.
func TestReadLoopPublishesFrameThenExitsOnCancel(t *testing.T) {
	b := bus.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	queue, handle, err := b.SubscribeQueue(RawTopic("cam-read"), 4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer b.Unsubscribe(handle)

	cfg := Config{
		Name:            "cam-read",
		FrameWidth:      2,
		FrameHeight:     2,
		FrameTimeout:    60 * time.Second,
		ProbeRetryDelay: 5 * time.Millisecond,
		// 2x2 NV12 frame is 2*2*1.5 = 6 bytes.
		ReaderCommand: []string{"sh", "-c", "printf '\\000\\000\\000\\000\\000\\000'; sleep 5"},
	}
	c := New(cfg, b)

	readLoopCtx, readLoopCancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- c.readLoop(readLoopCtx) }()

	select {
	case msg := <-queue:
		raw, ok := msg.Data.(*frame.RawFrame)
		if !ok {
			t.Fatalf("expected *frame.RawFrame payload, got %T", msg.Data)
		}
		if len(raw.Data) != 6 {
			t.Fatalf("expected 6-byte frame, got %d", len(raw.Data))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a raw frame")
	}

	readLoopCancel()
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("expected clean exit on cancel, got: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("readLoop did not return after cancellation")
	}
}
