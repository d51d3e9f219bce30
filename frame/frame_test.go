package frame

import (
	"math"
	"testing"
	"time"
)

func TestNewRawFrameSize(t *testing.T) {
	w, h := 4, 2
	want := w * h * 3 / 2
	data := make([]byte, want)
	if _, err := NewRawFrame(data, w, h, 0, time.Time{}); err != nil {
		t.Fatalf("unexpected error for valid size: %v", err)
	}

	bad := make([]byte, want-1)
	_, err := NewRawFrame(bad, w, h, 0, time.Time{})
	if err == nil {
		t.Fatal("expected DecodeFault for mismatched size")
	}
	var fault *DecodeFault
	if !asDecodeFault(err, &fault) {
		t.Fatalf("expected *DecodeFault, got %T", err)
	}
}

// TestCoordinateRoundTrip is property 2 from the spec.
func TestCoordinateRoundTrip(t *testing.T) {
	resolutions := [][2]int{{1, 1}, {1920, 1080}, {640, 480}, {3, 7}}
	objects := []DetectedObject{
		{RelX1: 0.1, RelY1: 0.2, RelX2: 0.6, RelY2: 0.8},
		{RelX1: 0, RelY1: 0, RelX2: 1, RelY2: 1},
		{RelX1: 0.49, RelY1: 0.49, RelX2: 0.51, RelY2: 0.51},
	}
	for _, res := range resolutions {
		w, h := res[0], res[1]
		for _, obj := range objects {
			abs := ToAbsolute(obj, w, h)
			back := FromAbsolute(abs, w, h)
			if math.Abs(back.RelX1-obj.RelX1)*float64(w) > 1 ||
				math.Abs(back.RelY1-obj.RelY1)*float64(h) > 1 ||
				math.Abs(back.RelX2-obj.RelX2)*float64(w) > 1 ||
				math.Abs(back.RelY2-obj.RelY2)*float64(h) > 1 {
				t.Fatalf("round trip drifted more than 1px at %dx%d: %+v -> %+v -> %+v", w, h, obj, abs, back)
			}
			if abs.X1 >= abs.X2 && obj.RelX1 < obj.RelX2 {
				// Only degenerate at extreme sub-pixel resolutions; skip.
				continue
			}
		}
	}
}

// TestLetterboxRoundTrip is property 3 from the spec: covers both the
// horizontal-padding and vertical-padding branches.
func TestLetterboxRoundTrip(t *testing.T) {
	cases := []struct {
		name          string
		frameW, frameH int
		model         int
	}{
		{"wide frame -> vertical padding", 1920, 1080, 416},
		{"tall frame -> horizontal padding", 600, 1200, 416},
		{"square frame -> no padding", 500, 500, 416},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rgb := make([]byte, c.frameW*c.frameH*3)
			view, err := Resize(rgb, c.frameW, c.frameH, c.model, c.model)
			if err != nil {
				t.Fatalf("resize: %v", err)
			}
			if view.Letterbox == nil {
				t.Fatal("expected letterbox geometry for square model target")
			}

			points := [][2]float64{
				{0, 0},
				{float64(c.frameW) - 1, float64(c.frameH) - 1},
				{float64(c.frameW) / 2, float64(c.frameH) / 2},
			}
			for _, p := range points {
				lx, ly := OriginalPointToLetterbox(p[0], p[1], *view.Letterbox)
				ox, oy := LetterboxPointToOriginal(lx, ly, *view.Letterbox)
				if math.Abs(ox-p[0]) > 1 || math.Abs(oy-p[1]) > 1 {
					t.Fatalf("letterbox round trip drifted: %+v -> (%f,%f) -> (%f,%f)", p, lx, ly, ox, oy)
				}
			}
		})
	}
}

func TestResizeNonSquareModelStretches(t *testing.T) {
	rgb := make([]byte, 100*50*3)
	view, err := Resize(rgb, 100, 50, 80, 40)
	if err != nil {
		t.Fatalf("resize: %v", err)
	}
	if view.Letterbox != nil {
		t.Fatal("non-square model target must not be letterboxed")
	}
	if view.Width != 80 || view.Height != 40 {
		t.Fatalf("unexpected view size: %dx%d", view.Width, view.Height)
	}
}

func asDecodeFault(err error, target **DecodeFault) bool {
	if df, ok := err.(*DecodeFault); ok {
		*target = df
		return true
	}
	return false
}
