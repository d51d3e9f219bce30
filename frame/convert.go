package frame

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// DecodeNV12 converts an NV12 buffer (Y plane followed by interleaved
// chroma pairs, U first then V) into an RGB DecodedFrame.
func DecodeNV12(raw *RawFrame) (*DecodedFrame, error) {
	w, h := raw.Width, raw.Height
	want := w * h * 3 / 2
	if len(raw.Data) != want {
		return nil, &DecodeFault{Width: w, Height: h, Got: len(raw.Data), Want: want}
	}

	ySize := w * h
	rgb := make([]byte, w*h*3)
	for row := 0; row < h; row++ {
		uvRow := row / 2
		for col := 0; col < w; col++ {
			y := int(raw.Data[row*w+col])
			uvCol := (col / 2) * 2
			uvIdx := ySize + uvRow*w + uvCol
			u := int(raw.Data[uvIdx]) - 128
			v := int(raw.Data[uvIdx+1]) - 128

			r := y + (91881*v)/65536
			g := y - (22554*u)/65536 - (46802*v)/65536
			b := y + (116130*u)/65536

			out := (row*w + col) * 3
			rgb[out] = clamp8(r)
			rgb[out+1] = clamp8(g)
			rgb[out+2] = clamp8(b)
		}
	}

	return &DecodedFrame{
		RGB:         rgb,
		Width:       w,
		Height:      h,
		CaptureWall: raw.CaptureWall,
		Views:       make(map[string]*View),
	}, nil
}

func clamp8(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// Resize produces a view of rgb at modelW x modelH. When modelW == modelH
// the image is letterboxed (aspect preserved, padded black); otherwise it
// is stretched with linear interpolation to fill the target exactly.
func Resize(rgb []byte, w, h, modelW, modelH int) (*View, error) {
	if len(rgb) != w*h*3 {
		return nil, fmt.Errorf("frame: resize: source buffer is %d bytes, want %d for %dx%d", len(rgb), w*h*3, w, h)
	}
	if modelW <= 0 || modelH <= 0 {
		return nil, fmt.Errorf("frame: resize: invalid target dimensions %dx%d", modelW, modelH)
	}

	src := rgbToImage(rgb, w, h)
	if modelW == modelH {
		return letterboxResize(src, w, h, modelW)
	}

	dst := image.NewRGBA(image.Rect(0, 0, modelW, modelH))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return &View{Data: imageToRGB(dst), Width: modelW, Height: modelH}, nil
}

func letterboxResize(src *image.RGBA, w, h, model int) (*View, error) {
	scale := math.Min(float64(model)/float64(w), float64(model)/float64(h))
	scaledW := int(math.Round(float64(w) * scale))
	scaledH := int(math.Round(float64(h) * scale))
	if scaledW < 1 {
		scaledW = 1
	}
	if scaledH < 1 {
		scaledH = 1
	}
	offX := (model - scaledW) / 2
	offY := (model - scaledH) / 2

	dst := image.NewRGBA(image.Rect(0, 0, model, model))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.RGBA{A: 255}}, image.Point{}, draw.Src)

	target := image.Rect(offX, offY, offX+scaledW, offY+scaledH)
	draw.BiLinear.Scale(dst, target, src, src.Bounds(), draw.Src, nil)

	return &View{
		Data:   imageToRGB(dst),
		Width:  model,
		Height: model,
		Letterbox: &LetterboxGeom{
			ScaledW: scaledW, ScaledH: scaledH,
			OffsetX: offX, OffsetY: offY,
			OrigW: w, OrigH: h,
		},
	}, nil
}

// RGBToImage expands a packed RGB buffer into a standard image.RGBA (alpha
// forced opaque), for callers that need to hand frame data to image/draw
// or image/jpeg.
func RGBToImage(rgb []byte, w, h int) *image.RGBA { return rgbToImage(rgb, w, h) }

// ImageToRGB packs an image.RGBA back down to a tight RGB buffer.
func ImageToRGB(img *image.RGBA) []byte { return imageToRGB(img) }

func rgbToImage(rgb []byte, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		img.Pix[i*4] = rgb[i*3]
		img.Pix[i*4+1] = rgb[i*3+1]
		img.Pix[i*4+2] = rgb[i*3+2]
		img.Pix[i*4+3] = 255
	}
	return img
}

func imageToRGB(img *image.RGBA) []byte {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := make([]byte, w*h*3)
	stride := img.Stride
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			src := row*stride + col*4
			dst := (row*w + col) * 3
			out[dst] = img.Pix[src]
			out[dst+1] = img.Pix[src+1]
			out[dst+2] = img.Pix[src+2]
		}
	}
	return out
}

// LetterboxPointToOriginal maps a point in letterboxed model space back to
// the original frame's pixel space.
func LetterboxPointToOriginal(x, y float64, g LetterboxGeom) (float64, float64) {
	scaleX := float64(g.OrigW) / float64(g.ScaledW)
	scaleY := float64(g.OrigH) / float64(g.ScaledH)
	return (x - float64(g.OffsetX)) * scaleX, (y - float64(g.OffsetY)) * scaleY
}

// OriginalPointToLetterbox is the inverse of LetterboxPointToOriginal.
func OriginalPointToLetterbox(x, y float64, g LetterboxGeom) (float64, float64) {
	scaleX := float64(g.ScaledW) / float64(g.OrigW)
	scaleY := float64(g.ScaledH) / float64(g.OrigH)
	return x*scaleX + float64(g.OffsetX), y*scaleY + float64(g.OffsetY)
}
