package joints

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/spatialmath"
	"go.viam.com/test"

	"visualservo/internal/sim"
)

func TestJacobianAtHome(t *testing.T) {
	g := sim.NewGantry()
	j, err := Jacobian(g, make([]float64, 6))
	test.That(t, err, test.ShouldBeNil)

	r, c := j.Dims()
	test.That(t, r, test.ShouldEqual, 6)
	test.That(t, c, test.ShouldEqual, 6)

	// prismatic joints: 1mm per unit, reported in metres
	for i := 0; i < 3; i++ {
		for row := 0; row < 6; row++ {
			want := 0.0
			if row == i {
				want = 0.001
			}
			test.That(t, j.At(row, i), test.ShouldAlmostEqual, want, 1e-9)
		}
	}
	// rotations about the body axes at the identity orientation
	for i := 3; i < 6; i++ {
		for row := 0; row < 6; row++ {
			want := 0.0
			if row == i {
				want = 1
			}
			test.That(t, j.At(row, i), test.ShouldAlmostEqual, want, 1e-6)
		}
	}

	_, err = Jacobian(g, []float64{1, 2})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestJacobianRotatedFrame(t *testing.T) {
	g := sim.NewGantry()
	// yaw by 90 degrees: world x translation appears as -y in the end effector frame
	j, err := Jacobian(g, []float64{0, 0, 0, 0, 0, math.Pi / 2})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, j.At(0, 0), test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, j.At(1, 0), test.ShouldAlmostEqual, -0.001, 1e-9)
}

func TestControllerVelocity(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	g := sim.NewGantry()

	c := NewController(g, g, nil, 0.5, logger)
	test.That(t, c.State(), test.ShouldEqual, StateStop)

	err := c.SetVelocity(ctx, make([]float64, 6), time.Second)
	test.That(t, err, test.ShouldEqual, ErrNotVelocityControl)

	test.That(t, c.SetRobotState(ctx, StateVelocity), test.ShouldBeNil)
	test.That(t, c.SetVelocity(ctx, make([]float64, 3), time.Second), test.ShouldNotBeNil)

	test.That(t, c.SetVelocity(ctx, []float64{0.2, 0, 0, 0, 0, 0.1}, 500*time.Millisecond), test.ShouldBeNil)
	q, err := c.Positions(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, q[0], test.ShouldAlmostEqual, 0.1)
	test.That(t, q[5], test.ShouldAlmostEqual, 0.05)

	// 2.0 exceeds the 0.5 limit: everything is scaled by 4
	test.That(t, c.SetVelocity(ctx, []float64{2, 1, 0, 0, 0, 0}, time.Second), test.ShouldBeNil)
	q, err = c.Positions(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, q[0], test.ShouldAlmostEqual, 0.6)
	test.That(t, q[1], test.ShouldAlmostEqual, 0.25)

	test.That(t, c.SetRobotState(ctx, StateStop), test.ShouldBeNil)
	test.That(t, g.Stops, test.ShouldEqual, 1)
	test.That(t, g.Moves, test.ShouldEqual, 2)
}

func TestControllerClampsToLimits(t *testing.T) {
	ctx := context.Background()
	g := sim.NewGantry()
	c := NewController(g, g, nil, 0, logging.NewTestLogger(t))
	test.That(t, c.SetRobotState(ctx, StateVelocity), test.ShouldBeNil)

	test.That(t, c.SetVelocity(ctx, []float64{0, 0, 0, 10, 0, 0}, time.Second), test.ShouldBeNil)
	q, err := c.Positions(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, q[3], test.ShouldAlmostEqual, math.Pi)
}

func TestControllerCVe(t *testing.T) {
	g := sim.NewGantry()
	c := NewController(g, g, spatialmath.NewPoseFromPoint(r3.Vector{Z: 50}), 1, logging.NewTestLogger(t))
	v := c.CVe()
	test.That(t, v.At(0, 0), test.ShouldAlmostEqual, 1)
	test.That(t, v.At(0, 4), test.ShouldAlmostEqual, -0.05)
	test.That(t, v.At(1, 3), test.ShouldAlmostEqual, 0.05)

	j, err := c.EJe(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, j.At(0, 0), test.ShouldAlmostEqual, 0.001, 1e-9)
}
