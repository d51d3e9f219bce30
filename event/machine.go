// Package event implements the per-camera IDLE/MOTION_ONLY/RECORDING/
// COOLING_DOWN state machine described in the component design, following
// the teacher's interface-per-state pattern (see node/state.go) rather
// than a switch over an enum.
package event

import (
	"sync"
	"time"
)

// Config holds the timers and mode flags that drive transitions.
type Config struct {
	// PostEventTimeout is how long RECORDING/COOLING_DOWN waits without a
	// trigger before sealing the recording.
	PostEventTimeout time.Duration
	// MotionMaxTimeout bounds how long motion alone (no trigger) can keep
	// a recording open, measured from the start of the motion episode.
	MotionMaxTimeout time.Duration
	// TriggerDetector, when true, lets motion alone move IDLE to
	// MOTION_ONLY (enabling the object detector) rather than requiring the
	// object detector to run continuously.
	TriggerDetector bool
}

// Callbacks are invoked on the relevant transitions. All are optional.
type Callbacks struct {
	EnableObjectDetector func(enabled bool)
	StartRecording       func(now time.Time)
	StopRecording        func(now time.Time)
	PublishStatus        func(status string)
}

// State is one node of the event state machine.
type State interface {
	Name() string
	step(m *Machine, now time.Time, motion, trigger bool) State
}

// Machine is the per-camera event state machine. Zero value is not usable;
// use NewMachine.
type Machine struct {
	mu    sync.Mutex
	state State
	cfg   Config
	cb    Callbacks

	lastMotion            bool
	motionStartTime       time.Time
	lastTriggerTime       time.Time
	coolingSince          time.Time
	motionMaxTimeoutFired bool
}

// NewMachine starts a Machine in IDLE.
func NewMachine(cfg Config, cb Callbacks) *Machine {
	return &Machine{state: idleState{}, cfg: cfg, cb: cb}
}

// State returns the current state's name.
func (m *Machine) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Name()
}

// Step advances the machine by one evaluation tick and returns the
// resulting status string (recording/scanning_for_objects/
// scanning_for_motion/unknown). motion is the already-debounced motion
// signal (see MotionDebouncer); trigger is true when any current object
// has TriggersRecording set, or motion-alone-triggers is configured and
// motion is active.
func (m *Machine) Step(now time.Time, motion, trigger bool) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if motion && !m.lastMotion {
		m.motionStartTime = now
		m.motionMaxTimeoutFired = false
	}
	m.lastMotion = motion
	if trigger {
		m.lastTriggerTime = now
	}

	m.state = m.state.step(m, now, motion, trigger)

	status := m.status()
	if m.cb.PublishStatus != nil {
		m.cb.PublishStatus(status)
	}
	return status
}

func (m *Machine) status() string {
	switch m.state.Name() {
	case "RECORDING", "COOLING_DOWN":
		return "recording"
	case "MOTION_ONLY":
		return "scanning_for_objects"
	case "IDLE":
		if m.cfg.TriggerDetector {
			return "scanning_for_motion"
		}
		return "scanning_for_objects"
	default:
		return "unknown"
	}
}

func (m *Machine) enableObjectDetector(enabled bool) {
	if m.cb.EnableObjectDetector != nil {
		m.cb.EnableObjectDetector(enabled)
	}
}

func (m *Machine) startRecording(now time.Time) {
	m.enableObjectDetector(true)
	if m.cb.StartRecording != nil {
		m.cb.StartRecording(now)
	}
}

func (m *Machine) stopRecording(now time.Time) {
	if m.cb.StopRecording != nil {
		m.cb.StopRecording(now)
	}
}

type idleState struct{}

func (idleState) Name() string { return "IDLE" }

func (s idleState) step(m *Machine, now time.Time, motion, trigger bool) State {
	if trigger {
		m.startRecording(now)
		return recordingState{}
	}
	if motion && m.cfg.TriggerDetector {
		m.enableObjectDetector(true)
		return motionOnlyState{}
	}
	return s
}

type motionOnlyState struct{}

func (motionOnlyState) Name() string { return "MOTION_ONLY" }

func (s motionOnlyState) step(m *Machine, now time.Time, motion, trigger bool) State {
	if trigger {
		m.startRecording(now)
		return recordingState{}
	}
	if !motion {
		m.enableObjectDetector(false)
		return idleState{}
	}
	return s
}

type recordingState struct{}

func (recordingState) Name() string { return "RECORDING" }

func (s recordingState) step(m *Machine, now time.Time, motion, trigger bool) State {
	if trigger {
		return s
	}
	if now.Sub(m.lastTriggerTime) >= m.cfg.PostEventTimeout {
		m.coolingSince = now
		return coolingDownState{}
	}
	if motion && !m.motionMaxTimeoutFired && now.Sub(m.motionStartTime) >= m.cfg.MotionMaxTimeout {
		m.motionMaxTimeoutFired = true
		m.coolingSince = now
		return coolingDownState{}
	}
	return s
}

type coolingDownState struct{}

func (coolingDownState) Name() string { return "COOLING_DOWN" }

func (s coolingDownState) step(m *Machine, now time.Time, motion, trigger bool) State {
	if trigger {
		return recordingState{}
	}
	if now.Sub(m.coolingSince) >= m.cfg.PostEventTimeout {
		m.stopRecording(now)
		m.enableObjectDetector(false)
		return idleState{}
	}
	return s
}
