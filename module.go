package visualservo

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"

	"visualservo/servo"
)

// NamespaceFamily is the model family of every model in this module.
var NamespaceFamily = resource.ModelNamespace("erh").WithFamily("visual-servo")

var errUnimplemented = errors.New("unimplemented")

// PoseConfig is a translation in millimetres and a rotation in degrees.
type PoseConfig struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

func (p *PoseConfig) pose() spatialmath.Pose {
	if p == nil {
		return spatialmath.NewZeroPose()
	}
	return spatialmath.NewPose(
		r3.Vector{X: p.X, Y: p.Y, Z: p.Z},
		&spatialmath.EulerAngles{
			Roll:  p.Roll * math.Pi / 180,
			Pitch: p.Pitch * math.Pi / 180,
			Yaw:   p.Yaw * math.Pi / 180,
		},
	)
}

// IntrinsicsConfig overrides the camera model when the camera reports none.
type IntrinsicsConfig struct {
	Px float64 `json:"px"`
	Py float64 `json:"py"`
	U0 float64 `json:"u0"`
	V0 float64 `json:"v0"`
}

// PointConfig is a point feature in normalized image coordinates at depth Z metres.
type PointConfig struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// SeedConfig is the pixel used to pick the dot, in place of a mouse click.
type SeedConfig struct {
	U int `json:"u"`
	V int `json:"v"`
}

type Config struct {
	Arm    string `json:"arm"`
	Camera string `json:"camera"`

	Lambda       float64 `json:"lambda"`
	UpdateRateHz float64 `json:"update_rate_hz"`

	// InteractionMatrix is one of desired, current or mean.
	InteractionMatrix string `json:"interaction_matrix"`
	// Servo is articular (velocity computed in joint space) or camera.
	Servo string `json:"servo"`
	// Inversion is pseudo-inverse or transpose.
	Inversion string `json:"inversion"`

	CameraToEffector *PoseConfig       `json:"camera_to_effector,omitempty"`
	Intrinsics       *IntrinsicsConfig `json:"intrinsics,omitempty"`
	Desired          *PointConfig      `json:"desired,omitempty"`
	Depth            float64           `json:"depth"`

	MaxJointSpeed float64 `json:"max_joint_speed"`

	GrayTolerance int        `json:"gray_tolerance"`
	MaxJumpPx     float64    `json:"max_jump_px"`
	Seed          *SeedConfig `json:"seed,omitempty"`

	// StopError ends a session once ||s - s*||² drops below it; zero never stops.
	StopError   float64 `json:"stop_error"`
	StartOnInit bool    `json:"start_on_init"`
	HistorySize int     `json:"history_size"`
}

func (cfg *Config) Validate(path string) ([]string, error) {
	if cfg.Arm == "" {
		return nil, fmt.Errorf("need arm")
	}
	if cfg.Camera == "" {
		return nil, fmt.Errorf("need camera")
	}
	if cfg.Lambda < 0 {
		return nil, fmt.Errorf("lambda must be positive")
	}
	if cfg.UpdateRateHz < 0 {
		return nil, fmt.Errorf("update_rate_hz must be positive")
	}
	if _, err := servo.ParseInteractionMatrixType(cfg.InteractionMatrix); err != nil {
		return nil, err
	}
	if _, err := cfg.servoType(); err != nil {
		return nil, err
	}
	if _, err := servo.ParseInversionType(cfg.Inversion); err != nil {
		return nil, err
	}
	if cfg.Depth < 0 {
		return nil, fmt.Errorf("depth must be positive")
	}
	if cfg.Desired != nil && cfg.Desired.Z <= 0 {
		return nil, fmt.Errorf("desired.z must be positive")
	}
	if cfg.Intrinsics != nil && (cfg.Intrinsics.Px <= 0 || cfg.Intrinsics.Py <= 0) {
		return nil, fmt.Errorf("intrinsics px and py must be positive")
	}
	if cfg.StartOnInit && cfg.Seed == nil {
		return nil, fmt.Errorf("start_on_init needs a seed")
	}

	return []string{cfg.Arm, cfg.Camera}, nil
}

func (cfg *Config) getLambda() float64 {
	if cfg.Lambda <= 0 {
		return 0.8
	}
	return cfg.Lambda
}

func (cfg *Config) getUpdateRateHz() float64 {
	if cfg.UpdateRateHz <= 0 {
		return 10
	}
	return cfg.UpdateRateHz
}

func (cfg *Config) getDepth() float64 {
	if cfg.Depth <= 0 {
		return 1
	}
	return cfg.Depth
}

func (cfg *Config) getDesired() PointConfig {
	if cfg.Desired == nil {
		return PointConfig{Z: 1}
	}
	return *cfg.Desired
}

func (cfg *Config) getMaxJointSpeed() float64 {
	if cfg.MaxJointSpeed <= 0 {
		return 0.5
	}
	return cfg.MaxJointSpeed
}

func (cfg *Config) getHistorySize() int {
	if cfg.HistorySize <= 0 {
		return 1000
	}
	return cfg.HistorySize
}

func (cfg *Config) servoType() (servo.ServoType, error) {
	switch cfg.Servo {
	case "", "articular":
		return servo.EyeInHandLcVeeJe, nil
	case "camera":
		return servo.EyeInHandCamera, nil
	}
	return 0, fmt.Errorf("unknown servo %q, want articular or camera", cfg.Servo)
}

// cameraParameters picks the configured intrinsics, falling back to the defaults.
func (cfg *Config) cameraParameters() servo.CameraParameters {
	if cfg.Intrinsics == nil {
		return servo.DefaultCameraParameters()
	}
	return servo.CameraParameters{
		Px: cfg.Intrinsics.Px,
		Py: cfg.Intrinsics.Py,
		U0: cfg.Intrinsics.U0,
		V0: cfg.Intrinsics.V0,
	}
}
