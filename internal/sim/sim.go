// Package sim provides a simulated eye-in-hand cell: a six axis gantry arm
// carrying a camera that looks at a single bright dot.
package sim

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/spatialmath"

	"visualservo/servo"
)

// Gantry is a cartesian robot: joints 0-2 translate along x, y, z in
// millimetres and joints 3-5 rotate roll, pitch, yaw in radians.
type Gantry struct {
	mu sync.Mutex
	q  []float64

	// Moves counts MoveToJointPositions calls.
	Moves int
	// Stops counts Stop calls.
	Stops int
}

func NewGantry() *Gantry {
	return &Gantry{q: make([]float64, 6)}
}

func (g *Gantry) DoF() []referenceframe.Limit {
	return []referenceframe.Limit{
		{Min: -1000, Max: 1000},
		{Min: -1000, Max: 1000},
		{Min: -1000, Max: 1000},
		{Min: -math.Pi, Max: math.Pi},
		{Min: -math.Pi, Max: math.Pi},
		{Min: -math.Pi, Max: math.Pi},
	}
}

func (g *Gantry) Transform(in []referenceframe.Input) (spatialmath.Pose, error) {
	q := referenceframe.InputsToFloats(in)
	if len(q) != 6 {
		return nil, fmt.Errorf("gantry has 6 joints, got %d", len(q))
	}
	return spatialmath.NewPose(
		r3.Vector{X: q[0], Y: q[1], Z: q[2]},
		&spatialmath.EulerAngles{Roll: q[3], Pitch: q[4], Yaw: q[5]},
	), nil
}

func (g *Gantry) JointPositions(ctx context.Context, extra map[string]interface{}) ([]referenceframe.Input, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return referenceframe.FloatsToInputs(append([]float64(nil), g.q...)), nil
}

func (g *Gantry) MoveToJointPositions(ctx context.Context, positions []referenceframe.Input, extra map[string]interface{}) error {
	q := referenceframe.InputsToFloats(positions)
	if len(q) != 6 {
		return fmt.Errorf("gantry has 6 joints, got %d", len(q))
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.q = q
	g.Moves++
	return nil
}

func (g *Gantry) Stop(ctx context.Context, extra map[string]interface{}) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Stops++
	return nil
}

// Pose returns the camera pose in the world frame.
func (g *Gantry) Pose() (spatialmath.Pose, error) {
	g.mu.Lock()
	q := append([]float64(nil), g.q...)
	g.mu.Unlock()
	return g.Transform(referenceframe.FloatsToInputs(q))
}

// Scene renders what the gantry's camera sees. The camera looks down its +Z axis.
type Scene struct {
	Gantry *Gantry
	Camera servo.CameraParameters
	Width  int
	Height int

	// Target is the dot's world position in millimetres.
	Target r3.Vector
	// Radius is the dot's radius in pixels.
	Radius int
}

// NewScene returns a 384x288 view of a dot one metre in front of the home pose,
// offset by (dx, dy) millimetres.
func NewScene(g *Gantry, dx, dy float64) *Scene {
	return &Scene{
		Gantry: g,
		Camera: servo.DefaultCameraParameters(),
		Width:  384,
		Height: 288,
		Target: r3.Vector{X: dx, Y: dy, Z: 1000},
		Radius: 6,
	}
}

// Project returns the target's pixel coordinates in the current view.
func (s *Scene) Project() (float64, float64, error) {
	pose, err := s.Gantry.Pose()
	if err != nil {
		return 0, 0, err
	}
	p := spatialmath.PoseBetween(pose, spatialmath.NewPoseFromPoint(s.Target)).Point()
	if p.Z <= 0 {
		return 0, 0, fmt.Errorf("target behind camera (z=%.1f)", p.Z)
	}
	u, v := s.Camera.MeterToPixel(p.X/p.Z, p.Y/p.Z)
	return u, v, nil
}

// Acquire renders the current frame.
func (s *Scene) Acquire(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, v, err := s.Project()
	if err != nil {
		return nil, err
	}

	img := image.NewGray(image.Rect(0, 0, s.Width, s.Height))
	r := float64(s.Radius)
	for y := int(v - r - 1); y <= int(v+r+1); y++ {
		for x := int(u - r - 1); x <= int(u+r+1); x++ {
			dx, dy := float64(x)-u, float64(y)-v
			if dx*dx+dy*dy <= r*r {
				img.SetGray(x, y, color.Gray{Y: 230})
			}
		}
	}
	return img, nil
}
