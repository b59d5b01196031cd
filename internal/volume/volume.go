// Package volume holds voxel arrays together with their physical geometry.
package volume

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Volume is an N-dimensional voxel array in the LPS patient frame.
//
// Data is row-major with the last axis varying fastest. Shape lists the axes
// slowest first ([z, y, x] for a 3D image). Spacing and Origin use physical
// axis order (x, y, z) and Direction is the row-major DxD matrix whose columns
// are the physical directions of the index axes.
type Volume struct {
	Data      []float64
	Shape     []int
	Spacing   []float64
	Origin    []float64
	Direction []float64
}

// New allocates a zero-filled volume with identity direction, unit spacing and zero origin.
func New(shape ...int) *Volume {
	dims := len(shape)
	v := &Volume{
		Data:      make([]float64, product(shape)),
		Shape:     append([]int(nil), shape...),
		Spacing:   make([]float64, dims),
		Origin:    make([]float64, dims),
		Direction: Identity(dims),
	}
	for i := range v.Spacing {
		v.Spacing[i] = 1
	}
	return v
}

// Identity returns a flattened n x n identity matrix.
func Identity(n int) []float64 {
	d := make([]float64, n*n)
	for i := 0; i < n; i++ {
		d[i*n+i] = 1
	}
	return d
}

// Dims returns the number of axes.
func (v *Volume) Dims() int {
	return len(v.Shape)
}

// Len returns the number of voxels.
func (v *Volume) Len() int {
	return product(v.Shape)
}

// Validate checks that the geometry agrees with the shape.
func (v *Volume) Validate() error {
	d := v.Dims()
	switch {
	case d == 0:
		return fmt.Errorf("volume has no axes")
	case len(v.Data) != product(v.Shape):
		return fmt.Errorf("data length %d does not match shape %v", len(v.Data), v.Shape)
	case len(v.Spacing) != d, len(v.Origin) != d:
		return fmt.Errorf("geometry for %d axes does not match shape %v", len(v.Spacing), v.Shape)
	case len(v.Direction) != d*d:
		return fmt.Errorf("direction has %d values, want %d", len(v.Direction), d*d)
	}
	for _, s := range v.Spacing {
		if s <= 0 || math.IsNaN(s) {
			return fmt.Errorf("non-positive spacing %v", v.Spacing)
		}
	}
	return nil
}

// At returns the voxel at the given index, slowest axis first.
func (v *Volume) At(idx ...int) float64 {
	return v.Data[v.offset(idx)]
}

// Set writes the voxel at the given index, slowest axis first.
func (v *Volume) Set(value float64, idx ...int) {
	v.Data[v.offset(idx)] = value
}

func (v *Volume) offset(idx []int) int {
	off := 0
	for axis, i := range idx {
		off = off*v.Shape[axis] + i
	}
	return off
}

// Clone returns a deep copy.
func (v *Volume) Clone() *Volume {
	return &Volume{
		Data:      append([]float64(nil), v.Data...),
		Shape:     append([]int(nil), v.Shape...),
		Spacing:   append([]float64(nil), v.Spacing...),
		Origin:    append([]float64(nil), v.Origin...),
		Direction: append([]float64(nil), v.Direction...),
	}
}

// Stats summarizes the non-NaN voxel values.
type Stats struct {
	Min, Max, Mean float64
	Count          int
}

// Summary returns min, max and mean over non-NaN voxels.
func (v *Volume) Summary() Stats {
	finite := make([]float64, 0, len(v.Data))
	for _, x := range v.Data {
		if !math.IsNaN(x) {
			finite = append(finite, x)
		}
	}
	if len(finite) == 0 {
		return Stats{Min: math.NaN(), Max: math.NaN(), Mean: math.NaN()}
	}
	return Stats{
		Min:   floats.Min(finite),
		Max:   floats.Max(finite),
		Mean:  floats.Sum(finite) / float64(len(finite)),
		Count: len(finite),
	}
}

// DirectionMatrix returns Direction as a dense matrix.
func (v *Volume) DirectionMatrix() *mat.Dense {
	d := v.Dims()
	return mat.NewDense(d, d, append([]float64(nil), v.Direction...))
}

// PhysicalPoint maps a continuous index, given in physical axis order (x, y, z),
// to patient coordinates: origin + D * diag(spacing) * index.
func (v *Volume) PhysicalPoint(index []float64) []float64 {
	d := v.Dims()
	scaled := make([]float64, d)
	for i := range scaled {
		scaled[i] = index[i] * v.Spacing[i]
	}
	var p mat.VecDense
	p.MulVec(v.DirectionMatrix(), mat.NewVecDense(d, scaled))
	out := make([]float64, d)
	for i := range out {
		out[i] = v.Origin[i] + p.AtVec(i)
	}
	return out
}

func product(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}
