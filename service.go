package visualservo

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"sync"
	"time"

	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/rimage"
	genericservice "go.viam.com/rdk/services/generic"
	rutils "go.viam.com/rdk/utils"

	"visualservo/dot"
	"visualservo/joints"
	"visualservo/servo"
)

var VisualServo = NamespaceFamily.WithModel("visual-servo")

func init() {
	resource.RegisterService(genericservice.API, VisualServo,
		resource.Registration[resource.Resource, *Config]{
			Constructor: newVisualServo,
		},
	)
}

// FrameGrabber supplies the images the dot is tracked in.
type FrameGrabber interface {
	Acquire(ctx context.Context) (image.Image, error)
}

type visualServo struct {
	resource.AlwaysRebuild

	name resource.Name

	logger logging.Logger
	cfg    *Config

	grabber FrameGrabber
	robot   *joints.Controller
	cam     servo.CameraParameters
	law     servo.ServoType
	inter   servo.InteractionMatrixType
	inv     servo.InversionType
	period  time.Duration

	// ctrlMu serializes tracking and control steps.
	ctrlMu  sync.Mutex
	tracker *dot.Tracker
	current *servo.FeaturePoint
	desired *servo.FeaturePoint
	task    *servo.Task

	// mu guards the session state reported by DoCommand.
	mu      sync.Mutex
	sess    *session
	status  sessionStatus
	seed    [2]float64
	frame   image.Image
	history []Record

	// finished holds ended sessions until their workers are released.
	finished []*session
}

func newVisualServo(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (resource.Resource, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}

	return NewVisualServo(ctx, deps, rawConf.ResourceName(), conf, logger)
}

// NewVisualServo builds the service from the arm and camera found in deps.
func NewVisualServo(ctx context.Context, deps resource.Dependencies, name resource.Name, conf *Config, logger logging.Logger) (resource.Resource, error) {
	a, err := arm.FromDependencies(deps, conf.Arm)
	if err != nil {
		return nil, err
	}
	cam, err := camera.FromDependencies(deps, conf.Camera)
	if err != nil {
		return nil, err
	}

	model, err := a.Kinematics(ctx)
	if err != nil {
		return nil, fmt.Errorf("arm %q has no kinematics: %w", conf.Arm, err)
	}

	params := conf.cameraParameters()
	if props, err := cam.Properties(ctx); err != nil {
		logger.Warnf("cannot read properties of camera %q, using configured intrinsics: %v", conf.Camera, err)
	} else if ip := props.IntrinsicParams; ip != nil && ip.Fx > 0 && ip.Fy > 0 {
		params = servo.CameraParameters{Px: ip.Fx, Py: ip.Fy, U0: ip.Ppx, V0: ip.Ppy}
	}

	robot := joints.NewController(a, model, conf.CameraToEffector.pose(), conf.getMaxJointSpeed(), logger)
	return NewVisualServoWith(ctx, name, conf, &cameraGrabber{cam: cam}, robot, params, logger)
}

// NewVisualServoWith builds the service on an explicit frame source, robot
// controller and camera model, such as a simulated cell.
func NewVisualServoWith(
	ctx context.Context,
	name resource.Name,
	conf *Config,
	grabber FrameGrabber,
	robot *joints.Controller,
	params servo.CameraParameters,
	logger logging.Logger,
) (resource.Resource, error) {
	s, err := newServo(ctx, name, conf, grabber, robot, params, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newServo(
	ctx context.Context,
	name resource.Name,
	conf *Config,
	grabber FrameGrabber,
	robot *joints.Controller,
	params servo.CameraParameters,
	logger logging.Logger,
) (*visualServo, error) {
	st, err := conf.servoType()
	if err != nil {
		return nil, err
	}
	it, err := servo.ParseInteractionMatrixType(conf.InteractionMatrix)
	if err != nil {
		return nil, err
	}
	inv, err := servo.ParseInversionType(conf.Inversion)
	if err != nil {
		return nil, err
	}

	desired := conf.getDesired()
	s := &visualServo{
		name:    name,
		logger:  logger,
		cfg:     conf,
		grabber: grabber,
		robot:   robot,
		cam:     params,
		law:     st,
		inter:   it,
		inv:     inv,
		period:  time.Duration(float64(time.Second) / conf.getUpdateRateHz()),
		tracker: dot.NewTracker(dot.Config{
			GrayTolerance: conf.GrayTolerance,
			MaxJump:       conf.MaxJumpPx,
		}),
		current: servo.NewFeaturePoint(0, 0, conf.getDepth()),
		desired: servo.NewFeaturePoint(desired.X, desired.Y, desired.Z),
		status:  sessionStatus{State: stateIdle},
	}

	logger.Infof("visual servo: %v, interaction matrix %v (%v), lambda %g, %v per iteration, camera %+v",
		st, it, inv, conf.getLambda(), s.period, params)

	if conf.StartOnInit {
		if _, err := s.start(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *visualServo) Name() resource.Name {
	return s.name
}

func (s *visualServo) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	name, ok := cmd["command"].(string)
	if !ok {
		return nil, fmt.Errorf("need a string command, got %v", cmd["command"])
	}

	switch name {
	case "init_tracking":
		u, uok := cmd["u"].(float64)
		v, vok := cmd["v"].(float64)
		if !uok || !vok {
			return nil, fmt.Errorf("init_tracking needs numeric u and v")
		}
		if err := s.initTracking(ctx, int(u), int(v)); err != nil {
			return nil, err
		}
		s.ctrlMu.Lock()
		defer s.ctrlMu.Unlock()
		return map[string]interface{}{
			"u":    s.tracker.U(),
			"v":    s.tracker.V(),
			"area": s.tracker.Area(),
		}, nil
	case "start":
		id, err := s.start(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"session": id}, nil
	case "stop":
		s.stop()
		return s.statusMap(), nil
	case "status":
		return s.statusMap(), nil
	case "print":
		s.ctrlMu.Lock()
		defer s.ctrlMu.Unlock()
		if s.task == nil {
			return map[string]interface{}{"task": "no task"}, nil
		}
		return map[string]interface{}{"task": s.task.String(), "lambda": s.task.Lambda()}, nil
	case "history":
		return map[string]interface{}{"records": s.historyList()}, nil
	case "frame":
		img, err := s.annotatedFrame()
		if err != nil {
			return nil, err
		}
		data, err := rimage.EncodeImage(ctx, img, rutils.MimeTypeJPEG)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"mime_type": rutils.MimeTypeJPEG,
			"image":     base64.StdEncoding.EncodeToString(data),
		}, nil
	}
	return nil, fmt.Errorf("unknown command %q", name)
}

func (s *visualServo) Close(ctx context.Context) error {
	s.stop()
	s.reap()
	return s.robot.Stop(ctx)
}

// initTracking seeds the dot tracker at pixel (u, v) of a fresh frame.
func (s *visualServo) initTracking(ctx context.Context, u, v int) error {
	s.mu.Lock()
	running := s.sess != nil
	s.mu.Unlock()
	if running {
		return fmt.Errorf("cannot reinitialize tracking during a session")
	}

	img, err := s.grabber.Acquire(ctx)
	if err != nil {
		return err
	}

	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()

	if err := s.tracker.InitTracking(img, u, v); err != nil {
		// a failed seed must not leave the previous dot half-replaced
		s.tracker.Reset()
		return err
	}
	if err := s.current.SetFromPixel(s.cam, s.tracker.U(), s.tracker.V()); err != nil {
		return err
	}

	s.mu.Lock()
	s.seed = [2]float64{s.tracker.U(), s.tracker.V()}
	s.frame = img
	s.status.U, s.status.V = s.tracker.U(), s.tracker.V()
	s.mu.Unlock()

	s.logger.Infof("tracking dot at (%.1f, %.1f), area %d, feature %v",
		s.tracker.U(), s.tracker.V(), s.tracker.Area(), s.current)
	return nil
}

// annotatedFrame draws the initial, tracked and desired positions on the last frame.
func (s *visualServo) annotatedFrame() (image.Image, error) {
	s.mu.Lock()
	frame := s.frame
	seed := s.seed
	u, v := s.status.U, s.status.V
	s.mu.Unlock()

	if frame == nil {
		return nil, fmt.Errorf("no frame acquired yet")
	}
	du, dv := s.cam.MeterToPixel(s.desired.X, s.desired.Y)
	return dot.Annotate(frame, 10,
		dot.Mark{U: seed[0], V: seed[1], Color: dot.Blue},
		dot.Mark{U: du, V: dv, Color: dot.Red},
		dot.Mark{U: u, V: v, Color: dot.Green},
	)
}

type cameraGrabber struct {
	cam camera.Camera
}

func (g *cameraGrabber) Acquire(ctx context.Context) (image.Image, error) {
	all, _, err := g.cam.Images(ctx)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("camera %v returned no images", g.cam.Name())
	}
	return all[0].Image, nil
}
