package joints

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/mat"

	"visualservo/servo"
)

// Arm is the part of arm.Arm the controller commands.
type Arm interface {
	JointPositions(ctx context.Context, extra map[string]interface{}) ([]referenceframe.Input, error)
	MoveToJointPositions(ctx context.Context, positions []referenceframe.Input, extra map[string]interface{}) error
	Stop(ctx context.Context, extra map[string]interface{}) error
}

// State is the control mode of the robot.
type State int

const (
	StateStop State = iota
	StateVelocity
)

func (s State) String() string {
	if s == StateVelocity {
		return "velocity"
	}
	return "stop"
}

var ErrNotVelocityControl = errors.New("robot is not in velocity control")

// Controller turns articular velocity commands into joint position moves.
type Controller struct {
	arm    Arm
	model  Kinematics
	cMe    spatialmath.Pose
	logger logging.Logger

	// maxSpeed is the per-joint limit, in joint units per second.
	maxSpeed float64

	mu    sync.Mutex
	state State
}

// NewController returns a stopped controller. cMe locates the end effector
// in the camera frame; nil means the two frames coincide.
func NewController(a Arm, model Kinematics, cMe spatialmath.Pose, maxSpeed float64, logger logging.Logger) *Controller {
	if cMe == nil {
		cMe = spatialmath.NewZeroPose()
	}
	return &Controller{
		arm:      a,
		model:    model,
		cMe:      cMe,
		maxSpeed: maxSpeed,
		logger:   logger,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetRobotState switches the control mode. Leaving velocity control stops the arm.
func (c *Controller) SetRobotState(ctx context.Context, s State) error {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()

	if prev == StateVelocity && s != StateVelocity {
		return c.arm.Stop(ctx, nil)
	}
	return nil
}

// Positions returns the current joint values.
func (c *Controller) Positions(ctx context.Context) ([]float64, error) {
	in, err := c.arm.JointPositions(ctx, nil)
	if err != nil {
		return nil, err
	}
	return referenceframe.InputsToFloats(in), nil
}

// EJe returns the robot Jacobian at the current joint values.
func (c *Controller) EJe(ctx context.Context) (*mat.Dense, error) {
	q, err := c.Positions(ctx)
	if err != nil {
		return nil, err
	}
	return Jacobian(c.model, q)
}

// CVe returns the twist from the end effector frame to the camera frame.
func (c *Controller) CVe() *mat.Dense {
	return servo.TwistFromPose(c.cMe)
}

// SetVelocity applies joint velocities qdot for dt. The whole vector is
// scaled down when any joint would exceed the speed limit, and the target
// is clamped to the model's joint limits.
func (c *Controller) SetVelocity(ctx context.Context, qdot []float64, dt time.Duration) error {
	if c.State() != StateVelocity {
		return ErrNotVelocityControl
	}
	limits := c.model.DoF()
	if len(qdot) != len(limits) {
		return fmt.Errorf("got %d joint velocities for a %d DoF arm", len(qdot), len(limits))
	}

	scale := 1.0
	if c.maxSpeed > 0 {
		for _, v := range qdot {
			if s := math.Abs(v) / c.maxSpeed; s > scale {
				scale = s
			}
		}
	}
	if scale > 1 {
		c.logger.Debugf("joint velocity scaled down by %.2f", scale)
	}

	q, err := c.Positions(ctx)
	if err != nil {
		return err
	}
	if len(q) != len(limits) {
		return fmt.Errorf("arm reports %d joints, model has %d", len(q), len(limits))
	}

	target := make([]float64, len(q))
	for i := range q {
		target[i] = q[i] + qdot[i]/scale*dt.Seconds()
		lim := limits[i]
		if lim.Min < lim.Max && (target[i] < lim.Min || target[i] > lim.Max) {
			c.logger.Warnf("joint %d target %.4f clamped to [%.4f, %.4f]", i, target[i], lim.Min, lim.Max)
			target[i] = math.Max(lim.Min, math.Min(lim.Max, target[i]))
		}
	}
	return c.arm.MoveToJointPositions(ctx, referenceframe.FloatsToInputs(target), nil)
}

// Stop halts the arm without changing the control mode.
func (c *Controller) Stop(ctx context.Context) error {
	return c.arm.Stop(ctx, nil)
}
