// Package joints drives an arm in articular velocity from its kinematic model.
package joints

import (
	"fmt"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/mat"
)

// Kinematics is the subset of referenceframe.Model used here.
type Kinematics interface {
	Transform([]referenceframe.Input) (spatialmath.Pose, error)
	DoF() []referenceframe.Limit
}

// jacobianStep is the finite difference step, in joint units.
const jacobianStep = 1e-4

// Jacobian returns the 6xN Jacobian eJe of the end effector at joint values q,
// expressed in the end effector frame. Rows 0-2 are linear velocity in metres
// and rows 3-5 angular velocity in radians, per unit of each joint.
func Jacobian(model Kinematics, q []float64) (*mat.Dense, error) {
	n := len(model.DoF())
	if len(q) != n {
		return nil, fmt.Errorf("got %d joint values for a %d DoF model", len(q), n)
	}

	base, err := model.Transform(referenceframe.FloatsToInputs(q))
	if err != nil {
		return nil, err
	}

	j := mat.NewDense(6, n, nil)
	perturbed := make([]float64, n)
	for i := 0; i < n; i++ {
		copy(perturbed, q)
		perturbed[i] = q[i] + jacobianStep
		plus, err := model.Transform(referenceframe.FloatsToInputs(perturbed))
		if err != nil {
			return nil, err
		}
		perturbed[i] = q[i] - jacobianStep
		minus, err := model.Transform(referenceframe.FloatsToInputs(perturbed))
		if err != nil {
			return nil, err
		}

		dPlus := spatialmath.PoseBetween(base, plus)
		dMinus := spatialmath.PoseBetween(base, minus)

		lin := dPlus.Point().Sub(dMinus.Point()).Mul(0.001 / (2 * jacobianStep))
		ang := rotationVector(dPlus).Sub(rotationVector(dMinus)).Mul(1 / (2 * jacobianStep))

		j.Set(0, i, lin.X)
		j.Set(1, i, lin.Y)
		j.Set(2, i, lin.Z)
		j.Set(3, i, ang.X)
		j.Set(4, i, ang.Y)
		j.Set(5, i, ang.Z)
	}
	return j, nil
}

func rotationVector(p spatialmath.Pose) r3.Vector {
	aa := p.Orientation().AxisAngles()
	return r3.Vector{X: aa.RX, Y: aa.RY, Z: aa.RZ}.Mul(aa.Theta)
}
