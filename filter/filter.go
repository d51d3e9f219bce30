// Package filter applies per-label confidence/size/mask rules to detected
// objects, mirroring the original system's Filter.filter_object AND-chain.
package filter

import "github.com/unblink/camerad/frame"

// Point is an absolute-pixel polygon vertex.
type Point struct{ X, Y float64 }

// Label holds the filter configuration for one object label.
type Label struct {
	Name              string
	MinConfidence     float64
	WidthMin          float64
	WidthMax          float64
	HeightMin         float64
	HeightMax         float64
	Mask              []Point // absolute-pixel polygon, empty = no mask
	TriggersRecording bool
	RequireMotion     bool
	PostProcessor     string
}

// Filter evaluates objects for one camera against its configured labels.
type Filter struct {
	resolutionW, resolutionH int
	labels                   map[string]Label
}

// New builds a Filter for a camera of the given resolution and label set.
func New(resolutionW, resolutionH int, labels []Label) *Filter {
	m := make(map[string]Label, len(labels))
	for _, l := range labels {
		m[l.Name] = l
	}
	return &Filter{resolutionW: resolutionW, resolutionH: resolutionH, labels: m}
}

// Apply runs the full filter chain on obj, mutating and returning it.
// An object whose label has no configured filter never passes.
func (f *Filter) Apply(obj frame.DetectedObject) frame.DetectedObject {
	label, ok := f.labels[obj.Label]
	if !ok {
		obj.FilterHit = "unconfigured_label"
		return obj
	}

	if !f.filterConfidence(label, &obj) {
		return obj
	}
	if !f.filterWidth(label, &obj) {
		return obj
	}
	if !f.filterHeight(label, &obj) {
		return obj
	}
	if !f.filterMask(label, &obj) {
		return obj
	}

	obj.Relevant = true
	obj.FilterHit = ""
	if label.TriggersRecording {
		obj.TriggersRecording = true
	}
	obj.PostProcessor = label.PostProcessor
	return obj
}

func (f *Filter) filterConfidence(label Label, obj *frame.DetectedObject) bool {
	if obj.Confidence < label.MinConfidence {
		obj.FilterHit = "confidence"
		return false
	}
	return true
}

func (f *Filter) filterWidth(label Label, obj *frame.DetectedObject) bool {
	w := obj.Width()
	if w < label.WidthMin || w > label.WidthMax {
		obj.FilterHit = "width"
		return false
	}
	return true
}

func (f *Filter) filterHeight(label Label, obj *frame.DetectedObject) bool {
	h := obj.Height()
	if h < label.HeightMin || h > label.HeightMax {
		obj.FilterHit = "height"
		return false
	}
	return true
}

func (f *Filter) filterMask(label Label, obj *frame.DetectedObject) bool {
	if len(label.Mask) == 0 {
		return true
	}
	relX, relY := obj.BottomCentre()
	x := relX * float64(f.resolutionW)
	y := relY * float64(f.resolutionH)
	if pointInPolygon(Point{X: x, Y: y}, label.Mask) {
		obj.FilterHit = "mask"
		return false
	}
	return true
}

// pointInPolygon is a standard ray-casting test over absolute-pixel
// vertices.
func pointInPolygon(p Point, polygon []Point) bool {
	inside := false
	n := len(polygon)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		vi, vj := polygon[i], polygon[j]
		if (vi.Y > p.Y) != (vj.Y > p.Y) &&
			p.X < (vj.X-vi.X)*(p.Y-vi.Y)/(vj.Y-vi.Y)+vi.X {
			inside = !inside
		}
	}
	return inside
}
