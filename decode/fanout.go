// Package decode implements the Decode Fan-out: one sampling clock per
// attached detector that thins the raw frame stream down to each
// detector's own target fps.
package decode

import (
	"log"
	"math"
	"os"
	"sync"

	"github.com/unblink/camerad/bus"
	"github.com/unblink/camerad/frame"
)

// DetectorConfig describes one detector attached to a camera for sampling
// purposes.
type DetectorConfig struct {
	Name        string
	DetectorFPS float64
	ScanEnabled bool
}

type samplingState struct {
	frameInterval int
	scanEnabled   bool
	counter       int
}

// Fanout owns the per-detector sampling clocks for one camera.
type Fanout struct {
	mu         sync.Mutex
	bus        *bus.Bus
	streamFPS  float64
	detectors  map[string]*samplingState
	logger     *log.Logger
}

// NewFanout builds a Fanout for a stream running at streamFPS, with one
// sampling clock per entry in detectors.
func NewFanout(b *bus.Bus, streamFPS float64, detectors []DetectorConfig) *Fanout {
	f := &Fanout{
		bus:       b,
		streamFPS: streamFPS,
		detectors: make(map[string]*samplingState, len(detectors)),
		logger:    log.New(os.Stdout, "[decode] ", log.LstdFlags),
	}
	for _, d := range detectors {
		interval, exceeds := frameInterval(streamFPS, d.DetectorFPS)
		f.detectors[d.Name] = &samplingState{
			frameInterval: interval,
			scanEnabled:   d.ScanEnabled,
		}
		if exceeds {
			f.logger.Printf("detector %s requests %.1f fps, exceeding stream fps %.1f; clamping to stream fps", d.Name, d.DetectorFPS, streamFPS)
		}
	}
	return f
}

// frameInterval computes round(stream_fps / detector_fps). When the
// detector's target fps exceeds the stream's, it reports interval 1
// (clamp to stream fps) and exceeds=true so the caller can warn once.
func frameInterval(streamFPS, detectorFPS float64) (interval int, exceeds bool) {
	if detectorFPS <= 0 {
		return 1, false
	}
	if detectorFPS > streamFPS {
		return 1, true
	}
	raw := streamFPS / detectorFPS
	interval = int(math.Round(raw))
	if interval < 1 {
		return 1, true
	}
	return interval, false
}

// SetScanEnabled flips scanning for one detector on/off, mirroring the
// Event state machine's object-detector gating.
func (f *Fanout) SetScanEnabled(detector string, enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.detectors[detector]; ok {
		s.scanEnabled = enabled
	}
}

// OnRawFrame is called once per decoded raw frame from Capture. For every
// detector whose sampling clock ticks on this frame, a scan request is
// published to that detector's "decode.<name>" topic.
func (f *Fanout) OnRawFrame(raw *frame.RawFrame) {
	f.mu.Lock()
	defer f.mu.Unlock()

	anyEnabled := false
	for _, s := range f.detectors {
		if s.scanEnabled {
			anyEnabled = true
			break
		}
	}
	if !anyEnabled {
		return
	}

	for name, s := range f.detectors {
		if !s.scanEnabled {
			continue
		}
		s.counter++
		if s.counter%s.frameInterval != 0 {
			continue
		}
		if err := f.bus.Publish("decode."+name, raw); err != nil {
			f.logger.Printf("publishing scan request for %s: %v", name, err)
		}
	}
}
