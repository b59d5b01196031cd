package synth

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// drawText burns text into the center of a frame, scaled to about a third
// of the frame width. Glyphs take the brightest stored value of the frame
// and get a one-pixel outline of the darkest.
func drawText(raw []uint16, width, height int, text string) {
	if len(raw) == 0 || text == "" {
		return
	}
	lo, hi := raw[0], raw[0]
	for _, v := range raw {
		lo, hi = min(lo, v), max(hi, v)
	}

	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, text).Ceil()
	textHeight := face.Height
	glyphs := image.NewAlpha(image.Rect(0, 0, textWidth, textHeight))
	d := &font.Drawer{
		Dst:  glyphs,
		Src:  image.NewUniform(color.Alpha{A: 255}),
		Face: face,
		Dot:  fixed.Point26_6{Y: fixed.I(face.Ascent)},
	}
	d.DrawString(text)

	scale := max(1, width/(3*textWidth))
	scaled := image.NewAlpha(image.Rect(0, 0, textWidth*scale, textHeight*scale))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), glyphs, glyphs.Bounds(), draw.Over, nil)

	x0 := (width - scaled.Rect.Dx()) / 2
	y0 := (height - scaled.Rect.Dy()) / 2
	set := func(x, y int, v uint16) {
		if x >= 0 && x < width && y >= 0 && y < height {
			raw[y*width+x] = v
		}
	}

	b := scaled.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if scaled.AlphaAt(x, y).A < 128 {
				continue
			}
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					set(x0+x+dx, y0+y+dy, lo)
				}
			}
		}
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if scaled.AlphaAt(x, y).A >= 128 {
				set(x0+x, y0+y, hi)
			}
		}
	}
}
