package event

import (
	"testing"
	"time"
)

// TestMotionDebounce is property 4 from the spec.
func TestMotionDebounce(t *testing.T) {
	d := NewMotionDebouncer(3)
	inputs := []bool{true, true, false, true, true, true}
	var results []bool
	for _, in := range inputs {
		results = append(results, d.Observe(in))
	}

	flipIndex := -1
	for i, r := range results {
		if r {
			flipIndex = i
			break
		}
	}
	if flipIndex != 5 {
		t.Fatalf("expected motion to flip true at index 5, got %d (results=%v)", flipIndex, results)
	}
	for i := 0; i < 5; i++ {
		if results[i] {
			t.Fatalf("motion flipped true too early at index %d", i)
		}
	}
}

func TestIdleToRecordingOnTrigger(t *testing.T) {
	var started bool
	m := NewMachine(Config{PostEventTimeout: time.Second, MotionMaxTimeout: time.Minute}, Callbacks{
		StartRecording: func(time.Time) { started = true },
	})

	base := time.Unix(1700000000, 0)
	status := m.Step(base, false, true)
	if m.State() != "RECORDING" {
		t.Fatalf("expected RECORDING, got %s", m.State())
	}
	if status != "recording" {
		t.Fatalf("expected status recording, got %s", status)
	}
	if !started {
		t.Fatal("expected StartRecording to be invoked")
	}
}

func TestTriggerDetectorGatesMotionOnly(t *testing.T) {
	var enabled []bool
	m := NewMachine(Config{PostEventTimeout: time.Second, MotionMaxTimeout: time.Minute, TriggerDetector: true}, Callbacks{
		EnableObjectDetector: func(e bool) { enabled = append(enabled, e) },
	})

	base := time.Unix(1700000000, 0)
	m.Step(base, true, false)
	if m.State() != "MOTION_ONLY" {
		t.Fatalf("expected MOTION_ONLY, got %s", m.State())
	}
	if len(enabled) != 1 || !enabled[0] {
		t.Fatalf("expected object detector enabled once, got %v", enabled)
	}

	m.Step(base.Add(time.Second), false, false)
	if m.State() != "IDLE" {
		t.Fatalf("expected IDLE after motion clears, got %s", m.State())
	}
	if len(enabled) != 2 || enabled[1] {
		t.Fatalf("expected object detector disabled on return to IDLE, got %v", enabled)
	}
}

// TestEventEndOnPostEventTimeout is half of property 5.
func TestEventEndOnPostEventTimeout(t *testing.T) {
	var stopped bool
	m := NewMachine(Config{PostEventTimeout: 5 * time.Second, MotionMaxTimeout: time.Hour}, Callbacks{
		StopRecording: func(time.Time) { stopped = true },
	})

	base := time.Unix(1700000000, 0)
	m.Step(base, false, true) // -> RECORDING
	m.Step(base.Add(6*time.Second), false, false) // no trigger, no motion -> COOLING_DOWN
	if m.State() != "COOLING_DOWN" {
		t.Fatalf("expected COOLING_DOWN, got %s", m.State())
	}
	m.Step(base.Add(12*time.Second), false, false) // cooldown elapsed -> IDLE
	if m.State() != "IDLE" {
		t.Fatalf("expected IDLE after cooldown, got %s", m.State())
	}
	if !stopped {
		t.Fatal("expected StopRecording to be invoked on seal")
	}
}

// TestMotionMaxTimeoutIdempotent is the other half of property 5: firing
// once per event, measured from the start of the motion episode.
func TestMotionMaxTimeoutIdempotent(t *testing.T) {
	var coolTransitions int
	m := NewMachine(Config{PostEventTimeout: time.Hour, MotionMaxTimeout: 10 * time.Second}, Callbacks{})

	base := time.Unix(1700000000, 0)
	m.Step(base, true, true) // -> RECORDING, motion episode starts at base

	for i := 1; i <= 30; i++ {
		now := base.Add(time.Duration(i) * time.Second)
		prev := m.State()
		status := m.Step(now, true, false)
		if prev != "COOLING_DOWN" && m.State() == "COOLING_DOWN" {
			coolTransitions++
			_ = status
		}
	}

	if coolTransitions == 0 {
		t.Fatal("expected motion_max_timeout to eventually fire")
	}
	if coolTransitions != 1 {
		t.Fatalf("expected motion_max_timeout to fire once per event, fired %d times", coolTransitions)
	}
}

func TestCoolingDownContinuesOnNewTrigger(t *testing.T) {
	var startCalls int
	m := NewMachine(Config{PostEventTimeout: 5 * time.Second, MotionMaxTimeout: time.Hour}, Callbacks{
		StartRecording: func(time.Time) { startCalls++ },
	})

	base := time.Unix(1700000000, 0)
	m.Step(base, false, true) // -> RECORDING
	m.Step(base.Add(6*time.Second), false, false) // -> COOLING_DOWN
	if m.State() != "COOLING_DOWN" {
		t.Fatalf("expected COOLING_DOWN, got %s", m.State())
	}

	m.Step(base.Add(7*time.Second), false, true) // new trigger -> RECORDING again
	if m.State() != "RECORDING" {
		t.Fatalf("expected RECORDING after re-trigger, got %s", m.State())
	}
	if startCalls != 1 {
		t.Fatalf("expected StartRecording called exactly once (continuation, not a new recording), got %d", startCalls)
	}
}
