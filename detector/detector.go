// Package detector defines the Detector contract shared by every concrete
// back-end and the process-wide detection lock that serialises inference
// calls across cameras sharing hardware.
package detector

import (
	"context"

	"github.com/unblink/camerad/frame"
)

// Detector is the capability set implemented by every concrete detector
// back-end (object detectors, motion detectors, VLM-backed detectors...).
// The Filter and Zone components operate on the resulting DetectedObjects
// without knowing which Detector produced them.
type Detector interface {
	ModelWidth() int
	ModelHeight() int
	// Preprocess may write to scan.PreprocessedFrame; implementations that
	// don't need a preprocessing step leave it untouched.
	Preprocess(scan *frame.FrameToScan)
	// Detect returns objects with coordinates relative to the stream frame.
	// When the view carries LetterboxGeom, the implementation undoes the
	// letterbox itself; callers apply no further correction.
	Detect(ctx context.Context, scan *frame.FrameToScan) ([]frame.DetectedObject, error)
}
