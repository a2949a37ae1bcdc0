package servo

import (
	"errors"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/mat"
)

// singularThreshold is relative to the largest singular value.
const singularThreshold = 1e-6

// PseudoInverse returns the Moore-Penrose inverse of a computed by SVD.
// Singular values below singularThreshold*σmax are treated as zero.
func PseudoInverse(a mat.Matrix) (*mat.Dense, error) {
	r, c := a.Dims()

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, errors.New("svd factorization failed")
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)

	limit := 0.0
	if len(values) > 0 {
		limit = values[0] * singularThreshold
	}

	inv := make([]float64, len(values))
	for i, s := range values {
		if s > limit && s > 0 {
			inv[i] = 1 / s
		}
	}

	var vs mat.Dense
	vs.Mul(&v, mat.NewDiagDense(len(inv), inv))

	out := mat.NewDense(c, r, nil)
	out.Mul(&vs, u.T())
	return out, nil
}

// TwistFromPose builds the 6x6 velocity twist matrix [R [t]xR; 0 R] for the
// transform aMb. Viam poses are in millimetres; the twist uses metres.
func TwistFromPose(aMb spatialmath.Pose) *mat.Dense {
	rm := aMb.Orientation().RotationMatrix()
	t := aMb.Point().Mul(0.001)

	var rot [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rot[i][j] = rm.At(i, j)
		}
	}

	skew := skewMatrix(t)
	var tr [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				tr[i][j] += skew[i][k] * rot[k][j]
			}
		}
	}

	v := mat.NewDense(6, 6, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			v.Set(i, j, rot[i][j])
			v.Set(i, j+3, tr[i][j])
			v.Set(i+3, j+3, rot[i][j])
		}
	}
	return v
}

func skewMatrix(t r3.Vector) [3][3]float64 {
	return [3][3]float64{
		{0, -t.Z, t.Y},
		{t.Z, 0, -t.X},
		{-t.Y, t.X, 0},
	}
}
