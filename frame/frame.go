// Package frame defines the frame data model (RawFrame, DecodedFrame,
// FrameToScan, DetectedObject, MotionContours) and the pure conversions
// between them: NV12 decode, resize/letterbox, and coordinate round-trips.
package frame

import (
	"fmt"
	"time"
)

// DecodeFault is returned when a raw buffer's size does not match the
// width/height it claims to carry.
type DecodeFault struct {
	Width, Height, Got, Want int
}

func (e *DecodeFault) Error() string {
	return fmt.Sprintf("frame: decode fault: %dx%d wants %d bytes, got %d", e.Width, e.Height, e.Want, e.Got)
}

// RawFrame is the NV12-layout byte buffer emitted by Capture. Consumers
// must not mutate Data; it is shared by reference across subscriber queues.
type RawFrame struct {
	Data             []byte
	Width, Height    int
	CaptureMonotonic time.Duration
	CaptureWall      time.Time
}

// NewRawFrame validates that data is exactly width*height*1.5 bytes (NV12)
// before wrapping it.
func NewRawFrame(data []byte, width, height int, mono time.Duration, wall time.Time) (*RawFrame, error) {
	want := width * height * 3 / 2
	if len(data) != want {
		return nil, &DecodeFault{Width: width, Height: height, Got: len(data), Want: want}
	}
	return &RawFrame{Data: data, Width: width, Height: height, CaptureMonotonic: mono, CaptureWall: wall}, nil
}

// LetterboxGeom records how a frame was padded to fit a square model input,
// so bounding boxes produced in model space can be mapped back.
type LetterboxGeom struct {
	ScaledW, ScaledH int
	OffsetX, OffsetY int
	OrigW, OrigH     int
}

// View is one detector's resized view of a DecodedFrame.
type View struct {
	Data          []byte
	Width, Height int
	Letterbox     *LetterboxGeom // nil when not letterboxed
}

// DecodedFrame is the canonical RGB matrix plus per-detector resized views.
// Once published its views are immutable; a Frame Worker owns it until all
// downstream subscribers have released it.
type DecodedFrame struct {
	RGB           []byte
	Width, Height int
	CaptureWall   time.Time
	Views         map[string]*View
}

// FrameToScan wraps a DecodedFrame with the context a Detector Runner needs.
type FrameToScan struct {
	Frame        *DecodedFrame
	DetectorName string
	StreamW      int
	StreamH      int
	CaptureTime  time.Time

	// PreprocessedFrame is written by Detector.Preprocess, if it chooses to.
	PreprocessedFrame interface{}
}

// DetectedObject is a single detection result with coordinates relative to
// the decoded frame, in [0,1]. Invariant: RelX1 < RelX2 && RelY1 < RelY2.
type DetectedObject struct {
	Label      string
	Confidence float64
	RelX1      float64
	RelY1      float64
	RelX2      float64
	RelY2      float64

	Relevant          bool
	TriggersRecording bool
	FilterHit         string
	PostProcessor     string
}

// Width/Height return the object's relative size.
func (o DetectedObject) Width() float64  { return o.RelX2 - o.RelX1 }
func (o DetectedObject) Height() float64 { return o.RelY2 - o.RelY1 }

// BottomCentre returns the relative point used for zone polygon membership.
func (o DetectedObject) BottomCentre() (x, y float64) {
	return (o.RelX1 + o.RelX2) / 2, o.RelY2
}

// MotionContours is the result of a motion-detection pass.
type MotionContours struct {
	Polygons       [][][2]int // absolute-pixel polygons
	MaxRelativeArea float64
}
