package frame

// AbsoluteBox is a bounding box in pixel space.
type AbsoluteBox struct {
	X1, Y1, X2, Y2 int
}

// ToAbsolute converts a DetectedObject's relative coordinates into pixel
// space for a frame of the given resolution.
func ToAbsolute(o DetectedObject, width, height int) AbsoluteBox {
	return AbsoluteBox{
		X1: round(o.RelX1 * float64(width)),
		Y1: round(o.RelY1 * float64(height)),
		X2: round(o.RelX2 * float64(width)),
		Y2: round(o.RelY2 * float64(height)),
	}
}

// FromAbsolute is the inverse of ToAbsolute: it fills in the relative
// coordinate fields of a DetectedObject from a pixel-space box.
func FromAbsolute(box AbsoluteBox, width, height int) DetectedObject {
	return DetectedObject{
		RelX1: float64(box.X1) / float64(width),
		RelY1: float64(box.Y1) / float64(height),
		RelX2: float64(box.X2) / float64(width),
		RelY2: float64(box.Y2) / float64(height),
	}
}

func round(v float64) int {
	if v >= 0 {
		return int(v + 0.5)
	}
	return int(v - 0.5)
}
