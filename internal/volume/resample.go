package volume

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/mrsinham/medvol/internal/errors"
)

// Interpolation selects how voxel values are sampled when resampling.
type Interpolation int

const (
	// Linear samples with trilinear interpolation.
	Linear Interpolation = iota
	// Nearest takes the closest input voxel.
	Nearest
)

// String returns the configuration name of the mode.
func (m Interpolation) String() string {
	switch m {
	case Linear:
		return "linear"
	case Nearest:
		return "nearest"
	default:
		return "unknown"
	}
}

// ParseInterpolation converts a configuration name to a mode. Empty means Linear.
func ParseInterpolation(s string) (Interpolation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "linear":
		return Linear, nil
	case "nearest":
		return Nearest, nil
	default:
		return Linear, fmt.Errorf("unknown interpolation %q (want linear or nearest)", s)
	}
}

// UnitSpacing returns a spacing of 1 for each of n axes.
func UnitSpacing(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = 1
	}
	return s
}

// GridResampler resamples volumes onto a new regular grid sharing origin and direction.
type GridResampler struct{}

// Resample implements the reader resampling capability.
func (GridResampler) Resample(ctx context.Context, v *Volume, spacing []float64, mode Interpolation) (*Volume, error) {
	return Resample(ctx, v, spacing, mode)
}

// Resample returns v sampled at the target spacing (physical axis order). The
// output keeps origin and direction; each axis holds round(size*old/new) voxels.
// Points falling outside the input grid by more than half a voxel read as 0.
func Resample(ctx context.Context, v *Volume, spacing []float64, mode Interpolation) (*Volume, error) {
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	dims := v.Dims()
	if dims < 2 || dims > 3 {
		return nil, errors.InvalidInputf("resample: %d-dimensional volumes are not supported", dims)
	}
	if len(spacing) != dims {
		return nil, fmt.Errorf("resample: target spacing %v does not match %d axes", spacing, dims)
	}
	for _, s := range spacing {
		if s <= 0 || math.IsNaN(s) {
			return nil, fmt.Errorf("resample: non-positive target spacing %v", spacing)
		}
	}

	src := as3D(v)
	target := append([]float64(nil), spacing...)
	if dims == 2 {
		target = append(target, 1)
	}

	// Physical axis a (x, y, z) is array axis 2-a.
	outShape := make([]int, 3)
	scale := make([]float64, 3)
	for a := 0; a < 3; a++ {
		n := src.Shape[2-a]
		outShape[2-a] = max(1, int(math.Round(float64(n)*src.Spacing[a]/target[a])))
		scale[a] = target[a] / src.Spacing[a]
	}

	out := &Volume{
		Data:      make([]float64, outShape[0]*outShape[1]*outShape[2]),
		Shape:     outShape,
		Spacing:   target,
		Origin:    append([]float64(nil), src.Origin...),
		Direction: append([]float64(nil), src.Direction...),
	}

	nz, ny, nx := outShape[0], outShape[1], outShape[2]
	for k := 0; k < nz; k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cz := float64(k) * scale[2]
		for j := 0; j < ny; j++ {
			cy := float64(j) * scale[1]
			for i := 0; i < nx; i++ {
				cx := float64(i) * scale[0]
				out.Data[(k*ny+j)*nx+i] = sample(src, cx, cy, cz, mode)
			}
		}
	}

	if dims == 2 {
		return squeeze2D(out), nil
	}
	return out, nil
}

func sample(v *Volume, cx, cy, cz float64, mode Interpolation) float64 {
	nz, ny, nx := v.Shape[0], v.Shape[1], v.Shape[2]
	if !inside(cx, nx) || !inside(cy, ny) || !inside(cz, nz) {
		return 0
	}
	if mode == Nearest {
		return v.Data[(nearest(cz, nz)*ny+nearest(cy, ny))*nx+nearest(cx, nx)]
	}

	x0, x1, fx := neighbours(cx, nx)
	y0, y1, fy := neighbours(cy, ny)
	z0, z1, fz := neighbours(cz, nz)
	at := func(z, y, x int) float64 { return v.Data[(z*ny+y)*nx+x] }

	c00 := at(z0, y0, x0)*(1-fx) + at(z0, y0, x1)*fx
	c01 := at(z0, y1, x0)*(1-fx) + at(z0, y1, x1)*fx
	c10 := at(z1, y0, x0)*(1-fx) + at(z1, y0, x1)*fx
	c11 := at(z1, y1, x0)*(1-fx) + at(z1, y1, x1)*fx
	c0 := c00*(1-fy) + c01*fy
	c1 := c10*(1-fy) + c11*fy
	return c0*(1-fz) + c1*fz
}

func inside(c float64, n int) bool {
	return c >= -0.5 && c <= float64(n)-0.5
}

func nearest(c float64, n int) int {
	return clampIndex(int(math.Floor(c+0.5)), n)
}

func neighbours(c float64, n int) (int, int, float64) {
	lo := math.Floor(c)
	frac := c - lo
	i0 := clampIndex(int(lo), n)
	i1 := clampIndex(int(lo)+1, n)
	return i0, i1, frac
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// as3D views a 2D volume as a single-slice 3D volume.
func as3D(v *Volume) *Volume {
	if v.Dims() == 3 {
		return v
	}
	d := v.Direction
	return &Volume{
		Data:    v.Data,
		Shape:   []int{1, v.Shape[0], v.Shape[1]},
		Spacing: []float64{v.Spacing[0], v.Spacing[1], 1},
		Origin:  []float64{v.Origin[0], v.Origin[1], 0},
		Direction: []float64{
			d[0], d[1], 0,
			d[2], d[3], 0,
			0, 0, 1,
		},
	}
}

func squeeze2D(v *Volume) *Volume {
	d := v.Direction
	return &Volume{
		Data:      v.Data,
		Shape:     []int{v.Shape[1], v.Shape[2]},
		Spacing:   v.Spacing[:2],
		Origin:    v.Origin[:2],
		Direction: []float64{d[0], d[1], d[3], d[4]},
	}
}
