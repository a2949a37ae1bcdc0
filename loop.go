package visualservo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goutils "go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"visualservo/joints"
	"visualservo/servo"
)

const (
	stateIdle      = "idle"
	stateRunning   = "running"
	stateStopped   = "stopped"
	stateConverged = "converged"
	stateFailed    = "failed"
)

var errConverged = errors.New("converged")

// Record is one control iteration.
type Record struct {
	Iteration      int
	Time           time.Time
	ErrorSumSquare float64
	Velocity       []float64
}

type sessionStatus struct {
	State          string
	Session        string
	Iteration      int
	ErrorSumSquare float64
	LastError      error
	U, V           float64
}

type session struct {
	id      string
	workers *goutils.StoppableWorkers
}

// start configures the task and launches the control loop.
func (s *visualServo) start(ctx context.Context) (string, error) {
	s.mu.Lock()
	running := s.sess != nil
	s.mu.Unlock()
	if running {
		return "", fmt.Errorf("a session is already running")
	}

	s.ctrlMu.Lock()
	initialized := s.tracker.Initialized()
	s.ctrlMu.Unlock()
	if !initialized {
		if s.cfg.Seed == nil {
			return "", fmt.Errorf("tracking not initialized, send init_tracking first")
		}
		if err := s.initTracking(ctx, s.cfg.Seed.U, s.cfg.Seed.V); err != nil {
			return "", err
		}
	}

	if err := s.configureTask(ctx); err != nil {
		return "", err
	}
	if err := s.robot.SetRobotState(ctx, joints.StateVelocity); err != nil {
		return "", err
	}

	s.reap()

	id := uuid.NewString()
	sess := &session{id: id, workers: goutils.NewBackgroundStoppableWorkers()}

	s.mu.Lock()
	if s.sess != nil {
		s.mu.Unlock()
		sess.workers.Stop()
		return "", fmt.Errorf("a session is already running")
	}
	s.sess = sess
	s.history = nil
	s.status = sessionStatus{State: stateRunning, Session: id, U: s.status.U, V: s.status.V}
	// added under mu so a concurrent stop always finds a running worker
	sess.workers.Add(func(ctx context.Context) { s.run(ctx, sess) })
	s.mu.Unlock()

	s.logger.Infof("starting servo session %s", id)
	return id, nil
}

func (s *visualServo) configureTask(ctx context.Context) error {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()

	task := servo.NewTask()
	task.SetServo(s.law)
	task.SetInteractionMatrixType(s.inter, s.inv)
	if err := task.SetCVe(s.robot.CVe()); err != nil {
		return err
	}
	eJe, err := s.robot.EJe(ctx)
	if err != nil {
		return err
	}
	if err := task.SetEJe(eJe); err != nil {
		return err
	}
	if err := task.AddFeature(s.current, s.desired); err != nil {
		return err
	}
	if err := task.SetLambda(s.cfg.getLambda()); err != nil {
		return err
	}
	s.task = task
	s.logger.Info(task.String())
	return nil
}

// stop ends the running session, if any, and waits for the loop to exit.
func (s *visualServo) stop() {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	if sess == nil {
		return
	}
	sess.workers.Stop()
}

// reap releases the workers of sessions that ended on their own.
func (s *visualServo) reap() {
	s.mu.Lock()
	done := s.finished
	s.finished = nil
	s.mu.Unlock()
	for _, sess := range done {
		sess.workers.Stop()
	}
}

func (s *visualServo) run(ctx context.Context, sess *session) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	var err error
	for err == nil {
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-ticker.C:
			err = s.step(ctx, s.period)
		}
	}
	// remote calls cut off by stop fail with a gRPC Canceled status,
	// which does not wrap context.Canceled
	if ctx.Err() != nil && !errors.Is(err, errConverged) {
		err = context.Canceled
	}
	s.finish(sess, err)
}

// finish tears down a session: the arm is stopped and the task killed.
// Any failure aborts the whole session; there is no retry.
func (s *visualServo) finish(sess *session, cause error) {
	// the loop context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	state := stateFailed
	switch {
	case errors.Is(cause, errConverged):
		state = stateConverged
		cause = nil
	case errors.Is(cause, context.Canceled):
		state = stateStopped
		cause = nil
	}

	if err := s.robot.SetRobotState(ctx, joints.StateStop); err != nil {
		s.logger.Errorf("failed to stop arm: %v", err)
	}

	s.ctrlMu.Lock()
	if s.task != nil {
		s.logger.Info(s.task.String())
		s.task.Kill()
	}
	s.ctrlMu.Unlock()

	s.mu.Lock()
	s.status.State = state
	s.status.LastError = cause
	s.sess = nil
	s.finished = append(s.finished, sess)
	s.mu.Unlock()

	if cause != nil {
		s.logger.Errorf("servo session %s failed: %v", sess.id, cause)
		return
	}
	s.logger.Infof("servo session %s %s", sess.id, state)
}

// step runs one acquisition and control iteration.
func (s *visualServo) step(ctx context.Context, dt time.Duration) error {
	img, err := s.grabber.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}

	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()

	if err := s.tracker.Track(img); err != nil {
		return err
	}
	if err := s.current.SetFromPixel(s.cam, s.tracker.U(), s.tracker.V()); err != nil {
		return err
	}

	eJe, err := s.robot.EJe(ctx)
	if err != nil {
		return fmt.Errorf("jacobian: %w", err)
	}
	if err := s.task.SetEJe(eJe); err != nil {
		return err
	}

	v, err := s.task.ComputeControlLaw()
	if err != nil {
		return err
	}

	qdot := v
	if s.law == servo.EyeInHandCamera {
		if qdot, err = s.cameraToJoint(v, eJe); err != nil {
			return err
		}
	}

	if err := s.robot.SetVelocity(ctx, qdot, dt); err != nil {
		return fmt.Errorf("set velocity: %w", err)
	}

	errSq := s.task.ErrorSumSquare()

	s.mu.Lock()
	s.status.Iteration++
	iter := s.status.Iteration
	s.status.ErrorSumSquare = errSq
	s.status.U, s.status.V = s.tracker.U(), s.tracker.V()
	s.frame = img
	s.history = append(s.history, Record{
		Iteration:      iter,
		Time:           time.Now(),
		ErrorSumSquare: errSq,
		Velocity:       qdot,
	})
	if over := len(s.history) - s.cfg.getHistorySize(); over > 0 {
		s.history = s.history[over:]
	}
	s.mu.Unlock()

	s.logger.Debugf("iteration %d: v = %v", iter, qdot)
	s.logger.Infof("iteration %d: || s - s* ||² = %f", iter, errSq)

	if s.cfg.StopError > 0 && errSq < s.cfg.StopError {
		return errConverged
	}
	return nil
}

// cameraToJoint maps a camera twist to joint velocities through (cVe eJe)⁺.
func (s *visualServo) cameraToJoint(v []float64, eJe *mat.Dense) ([]float64, error) {
	var j mat.Dense
	j.Mul(s.robot.CVe(), eJe)
	inv, err := servo.PseudoInverse(&j)
	if err != nil {
		return nil, err
	}
	var q mat.VecDense
	q.MulVec(inv, mat.NewVecDense(len(v), v))
	out := make([]float64, q.Len())
	for i := range out {
		out[i] = q.AtVec(i)
	}
	return out, nil
}

func (s *visualServo) statusMap() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	lastError := ""
	if s.status.LastError != nil {
		lastError = s.status.LastError.Error()
	}
	return map[string]interface{}{
		"state":            s.status.State,
		"session":          s.status.Session,
		"iteration":        s.status.Iteration,
		"error_sum_square": s.status.ErrorSumSquare,
		"last_error":       lastError,
		"u":                s.status.U,
		"v":                s.status.V,
	}
}

func (s *visualServo) historyList() []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]interface{}, 0, len(s.history))
	for _, r := range s.history {
		vel := make([]interface{}, len(r.Velocity))
		for i, x := range r.Velocity {
			vel[i] = x
		}
		out = append(out, map[string]interface{}{
			"iteration":        r.Iteration,
			"time":             r.Time.Format(time.RFC3339Nano),
			"error_sum_square": r.ErrorSumSquare,
			"velocity":         vel,
		})
	}
	return out
}
