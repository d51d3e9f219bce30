// Package zone evaluates named polygon zones against a frame's detected
// objects, tracking membership changes.
package zone

import (
	"sync"

	"github.com/unblink/camerad/filter"
	"github.com/unblink/camerad/frame"
)

// Point is an absolute-pixel polygon vertex.
type Point = filter.Point

// Zone is a named polygon with its own per-label filter map. A zone
// transition (non-empty <-> empty) is published to OnChange when set.
type Zone struct {
	Name        string
	Coordinates []Point
	filter      *filter.Filter

	mu            sync.Mutex
	objectsInZone []frame.DetectedObject
	OnChange      func(zone string, objects []frame.DetectedObject)
}

// New builds a Zone. resolutionW/H is the camera's capture resolution,
// used to convert relative bottom-centre points to absolute pixels.
func New(name string, coordinates []Point, resolutionW, resolutionH int, labels []filter.Label) *Zone {
	return &Zone{
		Name:        name,
		Coordinates: coordinates,
		filter:      filter.New(resolutionW, resolutionH, labels),
	}
}

// FilterZone applies the zone's own label filters to the objects it is
// given (the pipeline passes the full detected list, not the output of
// the camera-wide filter), then restricts to those whose
// bottom-centre point lies inside the polygon. Order matters: filter
// first, then polygon test, matching the original Zone.filter_zone.
func (z *Zone) FilterZone(resolutionW, resolutionH int, objects []frame.DetectedObject) []frame.DetectedObject {
	var inZone []frame.DetectedObject
	for _, obj := range objects {
		filtered := z.filter.Apply(obj)
		if !filtered.Relevant {
			continue
		}
		x, y := filtered.BottomCentre()
		px := x * float64(resolutionW)
		py := y * float64(resolutionH)
		if !pointInPolygon(Point{X: px, Y: py}, z.Coordinates) {
			continue
		}
		inZone = append(inZone, filtered)
	}

	z.setObjectsInZone(inZone)
	return inZone
}

func (z *Zone) setObjectsInZone(objects []frame.DetectedObject) {
	z.mu.Lock()
	wasEmpty := len(z.objectsInZone) == 0
	isEmpty := len(objects) == 0
	changed := wasEmpty != isEmpty
	z.objectsInZone = objects
	onChange := z.OnChange
	z.mu.Unlock()

	if changed && onChange != nil {
		onChange(z.Name, objects)
	}
}

// ObjectsInZone returns the current membership snapshot.
func (z *Zone) ObjectsInZone() []frame.DetectedObject {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.objectsInZone
}

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
