// Package preview renders a slice of a volume as a grayscale PNG.
package preview

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/draw"

	"github.com/mrsinham/medvol/internal/errors"
	"github.com/mrsinham/medvol/internal/volume"
)

// Options controls the rendered image.
type Options struct {
	// Slice is the z index to render; negative selects the middle slice.
	Slice int
	// Scale multiplies the output size. Zero means 1.
	Scale float64
}

// DefaultOptions renders the middle slice at native size.
func DefaultOptions() Options {
	return Options{Slice: -1, Scale: 1}
}

// Slice returns plane z of a 2D or 3D volume as an 8-bit image windowed to the
// plane's own value range. NaN voxels are black.
func Slice(v *volume.Volume, z int) (*image.Gray, error) {
	rows, cols, planes, err := planeShape(v)
	if err != nil {
		return nil, err
	}
	if z < 0 || z >= planes {
		return nil, errors.InvalidInputf("preview: slice %d out of range [0, %d)", z, planes)
	}

	plane := v.Data[z*rows*cols : (z+1)*rows*cols]
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range plane {
		if math.IsNaN(x) {
			continue
		}
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}

	img := image.NewGray(image.Rect(0, 0, cols, rows))
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			val := plane[y*cols+x]
			var g uint8
			if !math.IsNaN(val) && hi > lo {
				g = uint8(math.Round((val - lo) / (hi - lo) * 255))
			}
			img.SetGray(x, y, color.Gray{Y: g})
		}
	}
	return img, nil
}

// Render returns the selected slice scaled so that one output pixel covers
// the same physical distance along x and y.
func Render(v *volume.Volume, opts Options) (image.Image, error) {
	_, _, planes, err := planeShape(v)
	if err != nil {
		return nil, err
	}
	z := opts.Slice
	if z < 0 {
		z = planes / 2
	}
	src, err := Slice(v, z)
	if err != nil {
		return nil, err
	}

	scale := opts.Scale
	if scale <= 0 {
		scale = 1
	}
	sx, sy := 1.0, 1.0
	if len(v.Spacing) >= 2 && v.Spacing[0] > 0 && v.Spacing[1] > 0 {
		unit := math.Min(v.Spacing[0], v.Spacing[1])
		sx, sy = v.Spacing[0]/unit, v.Spacing[1]/unit
	}

	b := src.Bounds()
	w := max(1, int(math.Round(float64(b.Dx())*sx*scale)))
	h := max(1, int(math.Round(float64(b.Dy())*sy*scale)))
	if w == b.Dx() && h == b.Dy() {
		return src, nil
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst, nil
}

// WritePNG renders v and writes it to path.
func WritePNG(path string, v *volume.Volume, opts Options) error {
	img, err := Render(v, opts)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.InvalidPathf("create preview %s", path).WithCause(err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// planeShape returns rows, cols and the number of z planes of v.
func planeShape(v *volume.Volume) (rows, cols, planes int, err error) {
	switch v.Dims() {
	case 2:
		return v.Shape[0], v.Shape[1], 1, nil
	case 3:
		return v.Shape[1], v.Shape[2], v.Shape[0], nil
	default:
		return 0, 0, 0, errors.InvalidInputf("preview: %d-dimensional volumes are not supported", v.Dims())
	}
}
