package volume

import (
	"gonum.org/v1/gonum/mat"
)

// Affine returns the (D+1)x(D+1) voxel-to-world matrix [[D*diag(spacing), origin], [0, 1]].
// With toRAS set, the result is converted from the LPS frame to RAS.
func Affine(v *Volume, toRAS bool) *mat.Dense {
	d := v.Dims()
	var linear mat.Dense
	linear.Mul(v.DirectionMatrix(), mat.NewDiagDense(d, append([]float64(nil), v.Spacing...)))

	a := mat.NewDense(d+1, d+1, nil)
	for r := 0; r < d; r++ {
		for c := 0; c < d; c++ {
			a.Set(r, c, linear.At(r, c))
		}
		a.Set(r, d, v.Origin[r])
	}
	a.Set(d, d, 1)

	if toRAS {
		return OrientationRASLPS(a)
	}
	return a
}

// OrientationRASLPS flips the first two world axes of an affine, converting
// between the RAS and LPS conventions. The conversion is its own inverse.
func OrientationRASLPS(a mat.Matrix) *mat.Dense {
	n, _ := a.Dims()
	flip := make([]float64, n)
	for i := range flip {
		flip[i] = 1
	}
	for i := 0; i < 2 && i < n-1; i++ {
		flip[i] = -1
	}
	var out mat.Dense
	out.Mul(mat.NewDiagDense(n, flip), a)
	return &out
}

// Rows returns the affine as a slice of rows for serialization.
func Rows(a mat.Matrix) [][]float64 {
	r, c := a.Dims()
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = make([]float64, c)
		for j := range rows[i] {
			rows[i][j] = a.At(i, j)
		}
	}
	return rows
}
