package nifti

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/mrsinham/medvol/internal/volume"
)

// Affine returns the 4x4 voxel-to-RAS transform of the header: the sform
// when sform_code > 0, else the qform when qform_code > 0, else plain
// pixdim scaling.
func (h *Header) Affine() *mat.Dense {
	switch {
	case h.SFormCode > 0:
		return h.sform()
	case h.QFormCode > 0:
		return h.qform()
	default:
		a := mat.NewDense(4, 4, nil)
		for i := 0; i < 3; i++ {
			a.Set(i, i, h.spacing(i))
		}
		a.Set(3, 3, 1)
		return a
	}
}

func (h *Header) spacing(axis int) float64 {
	d := math.Abs(float64(h.PixDim[axis+1]))
	if d == 0 || math.IsNaN(d) {
		return 1
	}
	return d
}

func (h *Header) sform() *mat.Dense {
	a := mat.NewDense(4, 4, nil)
	for c := 0; c < 4; c++ {
		a.Set(0, c, float64(h.SRowX[c]))
		a.Set(1, c, float64(h.SRowY[c]))
		a.Set(2, c, float64(h.SRowZ[c]))
	}
	a.Set(3, 3, 1)
	return a
}

// qform converts the quaternion representation to a matrix, following
// quatern_to_mat44 in nifti1_io.c.
func (h *Header) qform() *mat.Dense {
	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		// Special case: a 180 degree rotation, normalize (b, c, d).
		a = 1 / math.Sqrt(b*b+c*c+d*d)
		b, c, d = b*a, c*a, d*a
		a = 0
	} else {
		a = math.Sqrt(a)
	}

	xd, yd, zd := h.spacing(0), h.spacing(1), h.spacing(2)
	if h.PixDim[0] < 0 {
		zd = -zd
	}

	m := mat.NewDense(4, 4, []float64{
		(a*a + b*b - c*c - d*d) * xd, 2 * (b*c - a*d) * yd, 2 * (b*d + a*c) * zd, float64(h.QOffsetX),
		2 * (b*c + a*d) * xd, (a*a + c*c - b*b - d*d) * yd, 2 * (c*d - a*b) * zd, float64(h.QOffsetY),
		2 * (b*d - a*c) * xd, 2 * (c*d + a*b) * yd, (a*a + d*d - c*c - b*b) * zd, float64(h.QOffsetZ),
		0, 0, 0, 1,
	})
	return m
}

// setGeometry fills spacing, origin and direction of v (shape slowest first)
// from the header, converting the RAS affine to LPS.
func (h *Header) setGeometry(v *volume.Volume) {
	lps := volume.OrientationRASLPS(h.Affine())

	spatial := min(3, v.Dims())
	spacing := make([]float64, 3)
	direction := mat.NewDense(3, 3, nil)
	for c := 0; c < 3; c++ {
		col := mat.Col(nil, c, lps.Slice(0, 3, 0, 3))
		norm := math.Sqrt(col[0]*col[0] + col[1]*col[1] + col[2]*col[2])
		if norm == 0 {
			norm = 1
			col = []float64{0, 0, 0}
			col[c] = 1
		}
		spacing[c] = norm
		for r := 0; r < 3; r++ {
			direction.Set(r, c, col[r]/norm)
		}
	}

	d := v.Dims()
	v.Spacing = make([]float64, d)
	v.Origin = make([]float64, d)
	v.Direction = volume.Identity(d)
	for i := 0; i < d; i++ {
		if i < spatial {
			v.Spacing[i] = spacing[i]
			v.Origin[i] = lps.At(i, 3)
			for j := 0; j < spatial; j++ {
				v.Direction[i*d+j] = direction.At(i, j)
			}
			continue
		}
		v.Spacing[i] = h.spacing(i)
	}
}
