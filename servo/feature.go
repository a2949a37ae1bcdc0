package servo

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Feature is a visual feature that can be regulated by a Task.
type Feature interface {
	// Dimension is the number of rows the feature contributes to the error.
	Dimension() int
	Values() []float64
	// Interaction returns the Dimension()x6 matrix relating a camera twist
	// (vx, vy, vz, wx, wy, wz) to the feature's rate of change.
	Interaction() (*mat.Dense, error)
}

// FeaturePoint is the normalized image projection (X, Y) of a 3D point at depth Z.
type FeaturePoint struct {
	X, Y float64
	Z    float64
}

// NewFeaturePoint returns a point feature at (x, y) with depth z.
func NewFeaturePoint(x, y, z float64) *FeaturePoint {
	p := &FeaturePoint{}
	p.BuildFrom(x, y, z)
	return p
}

// BuildFrom sets the point's coordinates and depth.
func (p *FeaturePoint) BuildFrom(x, y, z float64) {
	p.X = x
	p.Y = y
	p.Z = z
}

// SetFromPixel updates X and Y from a pixel measurement, keeping the depth.
func (p *FeaturePoint) SetFromPixel(cam CameraParameters, u, v float64) error {
	if err := cam.validate(); err != nil {
		return err
	}
	p.X, p.Y = cam.PixelToMeter(u, v)
	return nil
}

func (p *FeaturePoint) Dimension() int {
	return 2
}

func (p *FeaturePoint) Values() []float64 {
	return []float64{p.X, p.Y}
}

func (p *FeaturePoint) Interaction() (*mat.Dense, error) {
	if p.Z <= 0 {
		return nil, fmt.Errorf("point feature depth must be positive, got %f", p.Z)
	}
	x, y, z := p.X, p.Y, p.Z
	return mat.NewDense(2, 6, []float64{
		-1 / z, 0, x / z, x * y, -(1 + x*x), y,
		0, -1 / z, y / z, 1 + y*y, -x * y, -x,
	}), nil
}

func (p *FeaturePoint) String() string {
	return fmt.Sprintf("point x=%.5f y=%.5f Z=%.3f", p.X, p.Y, p.Z)
}
