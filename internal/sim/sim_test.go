package sim

import (
	"context"
	"image"
	"testing"

	"go.viam.com/rdk/referenceframe"
	"go.viam.com/test"
)

func TestSceneProject(t *testing.T) {
	g := NewGantry()
	s := NewScene(g, 0, 0)

	u, v, err := s.Project()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, u, test.ShouldAlmostEqual, 192)
	test.That(t, v, test.ShouldAlmostEqual, 144)

	// moving the camera right moves the dot left in the image
	err = g.MoveToJointPositions(context.Background(), referenceframe.FloatsToInputs([]float64{100, 0, 0, 0, 0, 0}), nil)
	test.That(t, err, test.ShouldBeNil)
	u, v, err = s.Project()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, u, test.ShouldAlmostEqual, 132, 1e-6)
	test.That(t, v, test.ShouldAlmostEqual, 144, 1e-6)
	test.That(t, g.Moves, test.ShouldEqual, 1)

	err = g.MoveToJointPositions(context.Background(), referenceframe.FloatsToInputs([]float64{0, 0, 2000, 0, 0, 0}), nil)
	test.That(t, err, test.ShouldBeNil)
	_, _, err = s.Project()
	test.That(t, err, test.ShouldNotBeNil)

	err = g.MoveToJointPositions(context.Background(), referenceframe.FloatsToInputs([]float64{0, 0}), nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSceneAcquire(t *testing.T) {
	s := NewScene(NewGantry(), 80, -40)

	img, err := s.Acquire(context.Background())
	test.That(t, err, test.ShouldBeNil)
	gray := img.(*image.Gray)
	test.That(t, gray.Bounds().Dx(), test.ShouldEqual, 384)
	test.That(t, gray.GrayAt(240, 120).Y, test.ShouldEqual, 230)
	test.That(t, gray.GrayAt(240, 127).Y, test.ShouldEqual, 0)
	test.That(t, gray.GrayAt(192, 144).Y, test.ShouldEqual, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Acquire(ctx)
	test.That(t, err, test.ShouldNotBeNil)
}
