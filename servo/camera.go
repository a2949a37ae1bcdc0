package servo

import "errors"

// CameraParameters is a pinhole camera model without distortion.
// Px and Py are the focal lengths in pixels, (U0, V0) the principal point.
type CameraParameters struct {
	Px, Py float64
	U0, V0 float64
}

// DefaultCameraParameters matches a half-resolution PAL frame grabber.
func DefaultCameraParameters() CameraParameters {
	return CameraParameters{Px: 600, Py: 600, U0: 192, V0: 144}
}

func (c CameraParameters) validate() error {
	if c.Px <= 0 || c.Py <= 0 {
		return errors.New("camera focal lengths must be positive")
	}
	return nil
}

// PixelToMeter converts a pixel coordinate to normalized image coordinates.
func (c CameraParameters) PixelToMeter(u, v float64) (float64, float64) {
	return (u - c.U0) / c.Px, (v - c.V0) / c.Py
}

// MeterToPixel converts normalized image coordinates to a pixel coordinate.
func (c CameraParameters) MeterToPixel(x, y float64) (float64, float64) {
	return x*c.Px + c.U0, y*c.Py + c.V0
}
