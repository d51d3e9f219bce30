// Package pipeline is the per-camera composition root: it wires the data
// bus, Capture, the Decode Fan-out, Frame Worker and Detector Runner
// goroutines, Filter/Zone evaluation, the Event state machine, the
// Recorder and the Segment Store into one running camera, following the
// construction order relay.NewRelay uses to wire its own subsystems.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/unblink/camerad/bus"
	"github.com/unblink/camerad/capture"
	"github.com/unblink/camerad/decode"
	"github.com/unblink/camerad/detector"
	"github.com/unblink/camerad/event"
	"github.com/unblink/camerad/filter"
	"github.com/unblink/camerad/frame"
	"github.com/unblink/camerad/recorder"
	"github.com/unblink/camerad/segment"
	"github.com/unblink/camerad/zone"
)

// DetectorConfig attaches one concrete Detector to a camera.
type DetectorConfig struct {
	Name     string
	FPS      float64
	Device   string // detector.Locks key; shared device name serialises across cameras
	Detector detector.Detector

	// Motion marks this detector as the one whose DetectedObjects feed the
	// debounced motion signal rather than the object-trigger evaluation.
	// Exactly one detector per camera should set this.
	Motion bool

	// ScanEnabledDefault is the fan-out's initial scan state. Motion
	// detectors are normally always on; object detectors are normally
	// gated by the Event state machine's EnableObjectDetector callback.
	ScanEnabledDefault bool
}

// ZoneConfig describes one named polygon zone.
type ZoneConfig struct {
	Name        string
	Coordinates []zone.Point
	Labels      []filter.Label
}

// Config is everything needed to run one camera end to end.
type Config struct {
	Name string

	StreamFPS                int
	StreamWidth, StreamHeight int

	Capture   capture.Config
	Detectors []DetectorConfig
	Zones     []ZoneConfig
	// CameraLabels filters every detected object camera-wide, independent
	// of zone membership; Zones additionally filter and restrict to their
	// own polygon, and the two passes' relevant objects are merged.
	CameraLabels []filter.Label

	Event    event.Config
	Recorder recorder.Config

	SegmentsDir            string
	SegmentExt             string
	SegmentNominalDuration time.Duration
	SegmentCachePath       string
	Lookback               time.Duration

	MotionDebounceFrames int
	// MotionAloneTriggersRecording lets sustained motion, with no object
	// ever confirming a trigger, start a recording on its own.
	MotionAloneTriggersRecording bool

	// ProbeDevice is the hardware device key segment duration probing
	// serialises behind, matching whichever detector device this camera's
	// ffprobe calls would otherwise contend with. Empty is the shared
	// default device.
	ProbeDevice string

	// Locks is the process-wide detection lock registry, shared across
	// every camera in the daemon so cameras on the same hardware device
	// serialise against each other.
	Locks *detector.Locks
}

type processedResult struct {
	detector string
	motion   bool
	frame    *frame.DecodedFrame
	objects  []frame.DetectedObject
}

// Camera runs one camera's full pipeline: Capture feeds the Decode
// Fan-out, which feeds per-detector Frame Workers and Detector Runners,
// whose results drive Filter/Zone evaluation, the Event state machine and
// the Recorder.
type Camera struct {
	cfg    Config
	bus    *bus.Bus
	store  *segment.Store
	cap    *capture.Capture
	fanout *decode.Fanout
	filter *filter.Filter
	zones  []*zone.Zone
	mach   *event.Machine
	rec    *recorder.Recorder
	motion *event.MotionDebouncer
	logger *log.Logger

	requireMotion map[string]bool

	mu          sync.Mutex
	lastMotion  bool
	lastObjects []frame.DetectedObject
	lastFrame   *frame.DecodedFrame
	triggerKind string
}

// New builds a Camera, wiring every component but not yet running them.
func New(cfg Config) *Camera {
	b := bus.New()
	probeLock := cfg.Locks.For(cfg.ProbeDevice)
	store := segment.NewStore(cfg.SegmentsDir, cfg.SegmentExt, cfg.SegmentNominalDuration, probeLock, cfg.SegmentCachePath)

	cam := &Camera{
		cfg:           cfg,
		bus:           b,
		store:         store,
		filter:        filter.New(cfg.StreamWidth, cfg.StreamHeight, cfg.CameraLabels),
		motion:        event.NewMotionDebouncer(cfg.MotionDebounceFrames),
		logger:        log.New(os.Stdout, fmt.Sprintf("[pipeline:%s] ", cfg.Name), log.LstdFlags),
		requireMotion: requireMotionLabels(cfg),
	}

	cam.cap = capture.New(cfg.Capture, b)

	fanoutDetectors := make([]decode.DetectorConfig, len(cfg.Detectors))
	for i, d := range cfg.Detectors {
		fanoutDetectors[i] = decode.DetectorConfig{Name: d.Name, DetectorFPS: d.FPS, ScanEnabled: d.ScanEnabledDefault}
	}
	cam.fanout = decode.NewFanout(b, float64(cfg.StreamFPS), fanoutDetectors)

	for _, zc := range cfg.Zones {
		z := zone.New(zc.Name, zc.Coordinates, cfg.StreamWidth, cfg.StreamHeight, zc.Labels)
		zoneName := zc.Name
		z.OnChange = func(name string, objects []frame.DetectedObject) {
			b.Publish("zone."+cfg.Name+"."+zoneName, objects)
		}
		cam.zones = append(cam.zones, z)
	}

	cam.rec = recorder.New(cfg.Recorder, cfg.Name, store)

	cam.mach = event.NewMachine(cfg.Event, event.Callbacks{
		EnableObjectDetector: cam.setObjectDetectorsEnabled,
		StartRecording:       cam.startRecording,
		StopRecording:        cam.stopRecording,
		PublishStatus:        func(status string) { b.Publish("status."+cfg.Name, status) },
	})

	return cam
}

func requireMotionLabels(cfg Config) map[string]bool {
	m := make(map[string]bool)
	for _, l := range cfg.CameraLabels {
		if l.RequireMotion {
			m[l.Name] = true
		}
	}
	for _, z := range cfg.Zones {
		for _, l := range z.Labels {
			if l.RequireMotion {
				m[l.Name] = true
			}
		}
	}
	return m
}

// Run blocks until ctx is cancelled, running the bus dispatch loop, every
// Frame Worker and Detector Runner, the cleanup scheduler and Capture
// itself.
func (c *Camera) Run(ctx context.Context) {
	go c.bus.Run(ctx)

	rawQueue, rawHandle, err := c.bus.SubscribeQueue(capture.RawTopic(c.cfg.Name), 8)
	if err != nil {
		c.logger.Printf("subscribing to raw frames: %v", err)
		return
	}
	defer c.bus.Unsubscribe(rawHandle)
	go c.fanoutLoop(ctx, rawQueue)

	processed := make(chan processedResult, 16)
	var workers sync.WaitGroup
	for _, d := range c.cfg.Detectors {
		workers.Add(1)
		go func(d DetectorConfig) {
			defer workers.Done()
			c.frameWorker(ctx, d, processed)
		}(d)
	}
	go func() {
		workers.Wait()
		close(processed)
	}()
	go c.processedLoop(ctx, processed)

	go c.cleanupLoop(ctx)

	c.cap.Run(ctx)
}

func (c *Camera) fanoutLoop(ctx context.Context, queue <-chan bus.Message) {
	for {
		select {
		case msg := <-queue:
			raw, ok := msg.Data.(*frame.RawFrame)
			if !ok {
				continue
			}
			c.fanout.OnRawFrame(raw)
		case <-ctx.Done():
			return
		}
	}
}

// frameWorker decodes NV12 raw frames into RGB, resizes them for one
// detector's model input and hands the result to Detect, running behind
// that detector's device lock. A decode fault is the reader's problem,
// not the worker's: it forces Capture to restart rather than retrying the
// bad buffer here.
func (c *Camera) frameWorker(ctx context.Context, d DetectorConfig, out chan<- processedResult) {
	queue, handle, err := c.bus.SubscribeQueue("decode."+d.Name, 5)
	if err != nil {
		c.logger.Printf("subscribing detector %s: %v", d.Name, err)
		return
	}
	defer c.bus.Unsubscribe(handle)

	lock := c.cfg.Locks.For(d.Device)

	for {
		select {
		case msg := <-queue:
			raw, ok := msg.Data.(*frame.RawFrame)
			if !ok {
				continue
			}
			c.runOneFrame(ctx, d, lock, raw, out)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Camera) runOneFrame(ctx context.Context, d DetectorConfig, lock *detector.Lock, raw *frame.RawFrame, out chan<- processedResult) {
	decoded, err := frame.DecodeNV12(raw)
	if err != nil {
		c.logger.Printf("decode_error from detector %s: %v; forcing reader restart", d.Name, err)
		c.cap.ForceRestart()
		return
	}

	view, err := frame.Resize(decoded.RGB, decoded.Width, decoded.Height, d.Detector.ModelWidth(), d.Detector.ModelHeight())
	if err != nil {
		c.logger.Printf("resizing for detector %s: %v", d.Name, err)
		return
	}
	decoded.Views[d.Name] = view

	scan := &frame.FrameToScan{
		Frame:        decoded,
		DetectorName: d.Name,
		StreamW:      raw.Width,
		StreamH:      raw.Height,
		CaptureTime:  raw.CaptureWall,
	}
	d.Detector.Preprocess(scan)

	objects := c.detect(ctx, d, lock, scan)
	select {
	case out <- processedResult{detector: d.Name, motion: d.Motion, frame: decoded, objects: objects}:
	case <-ctx.Done():
	}
}

// detect calls a Detector's Detect under its device lock. Any error,
// including a recovered panic, is logged and treated as an empty result;
// a single bad frame never kills the runner.
func (c *Camera) detect(ctx context.Context, d DetectorConfig, lock *detector.Lock, scan *frame.FrameToScan) (objects []frame.DetectedObject) {
	lock.Acquire()
	defer lock.Release()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("detector %s panicked: %v (treated as empty result)", d.Name, r)
			objects = nil
		}
	}()

	result, err := d.Detector.Detect(ctx, scan)
	if err != nil {
		c.logger.Printf("detector %s: %v (treated as empty result)", d.Name, err)
		return nil
	}
	return result
}

func (c *Camera) processedLoop(ctx context.Context, in <-chan processedResult) {
	for {
		select {
		case result, ok := <-in:
			if !ok {
				return
			}
			c.onProcessed(result)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Camera) onProcessed(result processedResult) {
	if result.motion {
		c.onMotionResult(result)
		return
	}
	c.onObjectResult(result)
}

func (c *Camera) onMotionResult(result processedResult) {
	motion := c.motion.Observe(len(result.objects) > 0)

	c.mu.Lock()
	c.lastMotion = motion
	c.lastFrame = result.frame
	c.mu.Unlock()

	c.evaluate()
}

func (c *Camera) onObjectResult(result processedResult) {
	relevant := c.evaluateZonesAndFilter(result.objects)

	c.mu.Lock()
	c.lastObjects = relevant
	c.lastFrame = result.frame
	c.mu.Unlock()

	c.evaluate()
}

// objectKey identifies a detected object across the camera-wide and
// per-zone filter passes, using the fields neither pass mutates.
type objectKey struct {
	label          string
	confidence     float64
	x1, y1, x2, y2 float64
}

func keyOf(obj frame.DetectedObject) objectKey {
	return objectKey{obj.Label, obj.Confidence, obj.RelX1, obj.RelY1, obj.RelX2, obj.RelY2}
}

// evaluateZonesAndFilter runs the camera-wide filter over every object,
// independent of zone membership, then additionally runs each zone's own
// filter, merging the two passes into one relevant set. This mirrors the
// original system's filter_fov + filter_zones: both run over the full
// object list and feed the same trigger evaluation, so a camera-wide
// label match still triggers a recording even when no zone is
// configured to catch it.
func (c *Camera) evaluateZonesAndFilter(objects []frame.DetectedObject) []frame.DetectedObject {
	seen := make(map[objectKey]bool)
	var relevant []frame.DetectedObject

	for _, obj := range objects {
		filtered := c.filter.Apply(obj)
		if !filtered.Relevant {
			continue
		}
		relevant = append(relevant, filtered)
		seen[keyOf(filtered)] = true
	}

	for _, z := range c.zones {
		for _, obj := range z.FilterZone(c.cfg.StreamWidth, c.cfg.StreamHeight, objects) {
			k := keyOf(obj)
			if seen[k] {
				continue
			}
			seen[k] = true
			relevant = append(relevant, obj)
		}
	}

	return relevant
}

// evaluate computes the current trigger signal from the last-seen motion
// and object state and steps the Event state machine.
func (c *Camera) evaluate() {
	c.mu.Lock()
	motion := c.lastMotion
	objects := c.lastObjects
	c.mu.Unlock()

	trigger := false
	kind := ""
	for _, obj := range objects {
		if !obj.TriggersRecording {
			continue
		}
		if c.requireMotion[obj.Label] && !motion {
			continue
		}
		trigger = true
		kind = "object"
		break
	}
	if !trigger && motion && c.cfg.MotionAloneTriggersRecording {
		trigger = true
		kind = "motion"
	}

	if kind != "" {
		c.mu.Lock()
		c.triggerKind = kind
		c.mu.Unlock()
	}

	c.mach.Step(time.Now(), motion, trigger)
}

// setObjectDetectorsEnabled gates every non-motion detector's fan-out
// scanning, invoked by the Event state machine on its MOTION_ONLY/RECORDING
// transitions. The motion detector itself always keeps scanning.
func (c *Camera) setObjectDetectorsEnabled(enabled bool) {
	for _, d := range c.cfg.Detectors {
		if d.Motion {
			continue
		}
		c.fanout.SetScanEnabled(d.Name, enabled)
	}
}

func (c *Camera) startRecording(now time.Time) {
	c.mu.Lock()
	decoded := c.lastFrame
	objects := c.lastObjects
	kind := c.triggerKind
	c.mu.Unlock()

	if kind == "" {
		kind = "manual"
	}
	if decoded != nil {
		c.rec.Start(now, kind, decoded.RGB, decoded.Width, decoded.Height, objects)
		return
	}
	c.rec.Start(now, kind, nil, c.cfg.StreamWidth, c.cfg.StreamHeight, objects)
}

func (c *Camera) stopRecording(now time.Time) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		rec, err := c.rec.Stop(ctx, now)
		if err != nil {
			c.logger.Printf("recording assembly failed: %v", err)
			return
		}
		c.bus.Publish("recording."+c.cfg.Name, rec)
	}()
}

// cleanupLoop purges expired segments on the nominal segment cadence,
// suspended for the duration of an active recording.
func (c *Camera) cleanupLoop(ctx context.Context) {
	interval := c.cfg.SegmentNominalDuration
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			segments, err := c.store.List(ctx)
			if err != nil {
				c.logger.Printf("listing segments for cleanup: %v", err)
				continue
			}
			maxAge := segment.MaxAge(c.cfg.Lookback, c.cfg.SegmentNominalDuration)
			c.store.Purge(segments, maxAge, time.Now(), c.rec.IsActive())
		case <-ctx.Done():
			return
		}
	}
}

// Bus returns the camera's own Data Bus, so the status feed and audit
// store can subscribe to its status/recording/zone/fault topics without
// pipeline needing to know either of those packages exists.
func (c *Camera) Bus() *bus.Bus { return c.bus }

// Status returns the Event state machine's current state name.
func (c *Camera) Status() string { return c.mach.State() }

// Faulted reports whether Capture's primary reader has latched FAULTED.
func (c *Camera) Faulted() bool { return c.cap.Faulted() }

// SetObjectDetectorEnabled is a manual override of the fan-out's scan
// gating, exposed to the control surface independent of the Event state
// machine's own automatic gating.
func (c *Camera) SetObjectDetectorEnabled(enabled bool) {
	c.setObjectDetectorsEnabled(enabled)
}

// ForceRecording steps the Event state machine with a synthetic trigger,
// starting (or extending) a recording exactly as an object trigger would,
// for the control surface's manual-recording action.
func (c *Camera) ForceRecording(now time.Time) {
	c.mu.Lock()
	motion := c.lastMotion
	c.triggerKind = "manual"
	c.mu.Unlock()

	c.mach.Step(now, motion, true)
}
