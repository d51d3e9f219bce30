// Package thumbnail draws detected object boxes and a timestamp onto the
// triggering frame and encodes it as JPEG, mirroring the teacher's
// frame_preprocess.go/annotate.go drawing helpers.
package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"

	"github.com/unblink/camerad/frame"
)

// Options controls thumbnail rendering.
type Options struct {
	Quality   int // JPEG quality, 1-100
	Timestamp string
}

// Render draws boxes for every relevant object plus an optional timestamp
// onto an RGB frame and returns JPEG-encoded bytes.
func Render(rgb []byte, width, height int, objects []frame.DetectedObject, opts Options) ([]byte, error) {
	if opts.Quality <= 0 {
		opts.Quality = 85
	}
	img := frame.RGBToImage(rgb, width, height)

	for _, obj := range objects {
		if !obj.Relevant {
			continue
		}
		box := frame.ToAbsolute(obj, width, height)
		drawBox(img, box, color.RGBA{R: 255, G: 64, B: 64, A: 255})
		drawLabel(img, box.X1, box.Y1, fmt.Sprintf("%s %.0f%%", obj.Label, obj.Confidence*100),
			color.RGBA{R: 255, G: 255, B: 255, A: 255}, color.RGBA{A: 200})
	}

	if opts.Timestamp != "" {
		if err := drawTimestamp(img, opts.Timestamp); err != nil {
			return nil, fmt.Errorf("thumbnail: drawing timestamp: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, fmt.Errorf("thumbnail: encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func drawBox(img *image.RGBA, box frame.AbsoluteBox, c color.Color) {
	const thickness = 2
	for t := 0; t < thickness; t++ {
		for x := box.X1; x <= box.X2; x++ {
			img.Set(x, box.Y1+t, c)
			img.Set(x, box.Y2-t, c)
		}
		for y := box.Y1; y <= box.Y2; y++ {
			img.Set(box.X1+t, y, c)
			img.Set(box.X2-t, y, c)
		}
	}
}

func drawLabel(dst *image.RGBA, x, y int, text string, textColor, bgColor color.Color) {
	const padding = 1
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(textColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x + padding), Y: fixed.I(y - padding)},
	}
	advance := d.MeasureString(text)
	textWidth := advance.Ceil()
	const textHeight = 12

	top := y - textHeight - 2*padding
	if top < 0 {
		top = y
	}
	for by := top; by < top+textHeight+2*padding; by++ {
		for bx := x; bx < x+textWidth+2*padding; bx++ {
			dst.Set(bx, by, bgColor)
		}
	}
	d.Dot = fixed.Point26_6{X: fixed.I(x + padding), Y: fixed.I(top + textHeight)}
	d.DrawString(text)
}

func drawTimestamp(img *image.RGBA, text string) error {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return fmt.Errorf("parse font: %w", err)
	}

	c := freetype.NewContext()
	c.SetDPI(72)
	c.SetFont(f)
	c.SetFontSize(16)
	c.SetClip(img.Bounds())
	c.SetDst(img)

	const barHeight = 24
	for y := 0; y < barHeight; y++ {
		for x := 0; x < img.Bounds().Dx(); x++ {
			img.Set(x, y, color.RGBA{A: 200})
		}
	}

	c.SetSrc(image.NewUniform(color.RGBA{R: 255, G: 255, B: 255, A: 255}))
	pt := freetype.Pt(10, 18)
	_, err = c.DrawString(text, pt)
	return err
}
