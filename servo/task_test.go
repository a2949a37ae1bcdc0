package servo

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestPointInteraction(t *testing.T) {
	p := NewFeaturePoint(0, 0, 1)
	l, err := p.Interaction()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.Equal(l, mat.NewDense(2, 6, []float64{
		-1, 0, 0, 0, -1, 0,
		0, -1, 0, 1, 0, 0,
	})), test.ShouldBeTrue)

	p.BuildFrom(0.1, -0.2, 2)
	l, err = p.Interaction()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, l.At(0, 0), test.ShouldAlmostEqual, -0.5)
	test.That(t, l.At(0, 2), test.ShouldAlmostEqual, 0.05)
	test.That(t, l.At(0, 3), test.ShouldAlmostEqual, -0.02)
	test.That(t, l.At(0, 4), test.ShouldAlmostEqual, -1.01)
	test.That(t, l.At(1, 3), test.ShouldAlmostEqual, 1.04)
	test.That(t, l.At(1, 5), test.ShouldAlmostEqual, -0.1)

	p.Z = 0
	_, err = p.Interaction()
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFeatureFromPixel(t *testing.T) {
	cam := DefaultCameraParameters()
	p := NewFeaturePoint(0, 0, 1)
	test.That(t, p.SetFromPixel(cam, 252, 114), test.ShouldBeNil)
	test.That(t, p.X, test.ShouldAlmostEqual, 0.1)
	test.That(t, p.Y, test.ShouldAlmostEqual, -0.05)

	u, v := cam.MeterToPixel(p.X, p.Y)
	test.That(t, u, test.ShouldAlmostEqual, 252)
	test.That(t, v, test.ShouldAlmostEqual, 114)

	test.That(t, p.SetFromPixel(CameraParameters{}, 1, 1), test.ShouldNotBeNil)
}

func TestPseudoInverse(t *testing.T) {
	a := mat.NewDense(2, 3, []float64{
		1, 0, 0,
		0, 2, 0,
	})
	inv, err := PseudoInverse(a)
	test.That(t, err, test.ShouldBeNil)
	r, c := inv.Dims()
	test.That(t, r, test.ShouldEqual, 3)
	test.That(t, c, test.ShouldEqual, 2)
	test.That(t, inv.At(0, 0), test.ShouldAlmostEqual, 1)
	test.That(t, inv.At(1, 1), test.ShouldAlmostEqual, 0.5)
	test.That(t, inv.At(2, 0), test.ShouldAlmostEqual, 0)

	// rank deficient: the null direction must not blow up
	a = mat.NewDense(2, 2, []float64{1, 1, 1, 1})
	inv, err = PseudoInverse(a)
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			test.That(t, inv.At(i, j), test.ShouldAlmostEqual, 0.25)
		}
	}
}

func TestTwistFromPose(t *testing.T) {
	v := TwistFromPose(spatialmath.NewZeroPose())
	test.That(t, mat.EqualApprox(v, eye(6), 1e-9), test.ShouldBeTrue)

	// pure translation of 100mm along x
	v = TwistFromPose(spatialmath.NewPoseFromPoint(r3.Vector{X: 100}))
	test.That(t, v.At(0, 0), test.ShouldAlmostEqual, 1)
	test.That(t, v.At(1, 5), test.ShouldAlmostEqual, -0.1)
	test.That(t, v.At(2, 4), test.ShouldAlmostEqual, 0.1)
	test.That(t, v.At(3, 0), test.ShouldAlmostEqual, 0)
}

func eye(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}

func TestTaskErrors(t *testing.T) {
	task := NewTask()
	_, err := task.ComputeControlLaw()
	test.That(t, err, test.ShouldEqual, ErrNoFeatures)

	test.That(t, task.SetLambda(0), test.ShouldNotBeNil)
	test.That(t, task.SetLambda(0.8), test.ShouldBeNil)
	test.That(t, task.Lambda(), test.ShouldEqual, 0.8)

	test.That(t, task.AddFeature(NewFeaturePoint(0.1, 0.1, 1), NewFeaturePoint(0, 0, 1)), test.ShouldBeNil)
	_, err = task.ComputeControlLaw()
	test.That(t, err, test.ShouldEqual, ErrMissingCVe)

	test.That(t, task.SetCVe(eye(6)), test.ShouldBeNil)
	_, err = task.ComputeControlLaw()
	test.That(t, err, test.ShouldEqual, ErrMissingEJe)

	test.That(t, task.SetCVe(eye(3)), test.ShouldNotBeNil)
	test.That(t, task.SetEJe(mat.NewDense(3, 6, nil)), test.ShouldNotBeNil)

	task.Kill()
	_, err = task.ComputeControlLaw()
	test.That(t, err, test.ShouldEqual, ErrKilled)
	test.That(t, task.AddFeature(NewFeaturePoint(0, 0, 1), NewFeaturePoint(0, 0, 1)), test.ShouldEqual, ErrKilled)
}

func TestControlLawDesired(t *testing.T) {
	s := NewFeaturePoint(0.1, -0.05, 1)
	sd := NewFeaturePoint(0, 0, 1)

	task := NewTask()
	task.SetServo(EyeInHandCamera)
	task.SetInteractionMatrixType(Desired, PseudoInverseInversion)
	test.That(t, task.AddFeature(s, sd), test.ShouldBeNil)
	test.That(t, task.SetLambda(0.8), test.ShouldBeNil)

	v, err := task.ComputeControlLaw()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(v), test.ShouldEqual, 6)

	// L(s*) = [-1 0 0 0 -1 0; 0 -1 0 1 0 0]; its pseudo-inverse splits each
	// error row evenly between translation and rotation.
	test.That(t, v[0], test.ShouldAlmostEqual, 0.04)
	test.That(t, v[4], test.ShouldAlmostEqual, 0.04)
	test.That(t, v[1], test.ShouldAlmostEqual, -0.02)
	test.That(t, v[3], test.ShouldAlmostEqual, 0.02)
	test.That(t, v[2], test.ShouldAlmostEqual, 0)
	test.That(t, v[5], test.ShouldAlmostEqual, 0)

	test.That(t, task.Error(), test.ShouldResemble, []float64{0.1, -0.05})
	test.That(t, task.ErrorSumSquare(), test.ShouldAlmostEqual, 0.0125)
	test.That(t, task.String(), test.ShouldContainSubstring, "lambda: 0.8")
}

func TestArticularMatchesCameraWithIdentityRobot(t *testing.T) {
	for _, it := range []InteractionMatrixType{Desired, Current, Mean} {
		camTask := NewTask()
		camTask.SetServo(EyeInHandCamera)
		camTask.SetInteractionMatrixType(it, PseudoInverseInversion)
		test.That(t, camTask.AddFeature(NewFeaturePoint(0.2, 0.1, 1), NewFeaturePoint(0, 0, 1)), test.ShouldBeNil)

		artTask := NewTask()
		artTask.SetServo(EyeInHandLcVeeJe)
		artTask.SetInteractionMatrixType(it, PseudoInverseInversion)
		test.That(t, artTask.AddFeature(NewFeaturePoint(0.2, 0.1, 1), NewFeaturePoint(0, 0, 1)), test.ShouldBeNil)
		test.That(t, artTask.SetCVe(eye(6)), test.ShouldBeNil)
		test.That(t, artTask.SetEJe(eye(6)), test.ShouldBeNil)

		vc, err := camTask.ComputeControlLaw()
		test.That(t, err, test.ShouldBeNil)
		va, err := artTask.ComputeControlLaw()
		test.That(t, err, test.ShouldBeNil)
		for i := range vc {
			test.That(t, va[i], test.ShouldAlmostEqual, vc[i])
		}
	}
}

// TestClosedLoopConvergence integrates the point kinematics ṡ = L v and checks
// the error decays exponentially.
func TestClosedLoopConvergence(t *testing.T) {
	s := NewFeaturePoint(0.15, -0.1, 1)
	sd := NewFeaturePoint(0, 0, 1)

	task := NewTask()
	task.SetServo(EyeInHandCamera)
	task.SetInteractionMatrixType(Current, PseudoInverseInversion)
	test.That(t, task.AddFeature(s, sd), test.ShouldBeNil)
	test.That(t, task.SetLambda(0.8), test.ShouldBeNil)

	dt := 0.1
	var first float64
	for i := 0; i < 50; i++ {
		v, err := task.ComputeControlLaw()
		test.That(t, err, test.ShouldBeNil)
		if i == 0 {
			first = task.ErrorSumSquare()
		}
		l, err := s.Interaction()
		test.That(t, err, test.ShouldBeNil)
		var sdot mat.VecDense
		sdot.MulVec(l, mat.NewVecDense(6, v))
		s.X += sdot.AtVec(0) * dt
		s.Y += sdot.AtVec(1) * dt
	}
	_, err := task.ComputeControlLaw()
	test.That(t, err, test.ShouldBeNil)

	expected := first * math.Pow(1-0.8*dt, 100)
	test.That(t, task.ErrorSumSquare(), test.ShouldBeLessThan, first/100)
	test.That(t, task.ErrorSumSquare(), test.ShouldAlmostEqual, expected, 1e-6)
}

func TestParseInteractionMatrixType(t *testing.T) {
	it, err := ParseInteractionMatrixType("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, it, test.ShouldEqual, Desired)

	it, err = ParseInteractionMatrixType("Mean")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, it, test.ShouldEqual, Mean)

	_, err = ParseInteractionMatrixType("nope")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestControlLawTranspose(t *testing.T) {
	task := NewTask()
	task.SetServo(EyeInHandCamera)
	task.SetInteractionMatrixType(Desired, TransposeInversion)
	test.That(t, task.AddFeature(NewFeaturePoint(0.1, -0.2, 1), NewFeaturePoint(0, 0, 1)), test.ShouldBeNil)
	test.That(t, task.SetLambda(0.5), test.ShouldBeNil)
	test.That(t, task.Lambda(), test.ShouldEqual, 0.5)

	// v = -λ L(s*)ᵀ e with e = (0.1, -0.2)
	v, err := task.ComputeControlLaw()
	test.That(t, err, test.ShouldBeNil)
	want := []float64{0.05, -0.1, 0, 0.1, 0.05, 0}
	test.That(t, len(v), test.ShouldEqual, len(want))
	for i := range want {
		test.That(t, v[i], test.ShouldAlmostEqual, want[i])
	}
	test.That(t, task.String(), test.ShouldContainSubstring, "transpose")
}

func TestParseInversionType(t *testing.T) {
	inv, err := ParseInversionType("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, inv, test.ShouldEqual, PseudoInverseInversion)

	inv, err = ParseInversionType("Transpose")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, inv, test.ShouldEqual, TransposeInversion)

	_, err = ParseInversionType("cholesky")
	test.That(t, err, test.ShouldNotBeNil)
}
