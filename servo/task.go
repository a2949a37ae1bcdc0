package servo

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ServoType selects the control law computed by a Task.
type ServoType int

const (
	// EyeInHandCamera computes a camera-frame twist: v = -λ L⁺ e.
	EyeInHandCamera ServoType = iota
	// EyeInHandLcVeeJe computes articular velocities: q̇ = -λ (L cVe eJe)⁺ e.
	EyeInHandLcVeeJe
)

func (s ServoType) String() string {
	switch s {
	case EyeInHandCamera:
		return "eye-in-hand, camera frame"
	case EyeInHandLcVeeJe:
		return "eye-in-hand, articular (L cVe eJe)"
	default:
		return fmt.Sprintf("servo(%d)", int(s))
	}
}

// InteractionMatrixType selects where the interaction matrix is evaluated.
type InteractionMatrixType int

const (
	Desired InteractionMatrixType = iota
	Current
	Mean
)

func (t InteractionMatrixType) String() string {
	switch t {
	case Desired:
		return "desired"
	case Current:
		return "current"
	case Mean:
		return "mean"
	default:
		return fmt.Sprintf("interaction(%d)", int(t))
	}
}

// ParseInteractionMatrixType maps a config string to an InteractionMatrixType.
// The empty string selects Desired.
func ParseInteractionMatrixType(s string) (InteractionMatrixType, error) {
	switch strings.ToLower(s) {
	case "", "desired":
		return Desired, nil
	case "current":
		return Current, nil
	case "mean":
		return Mean, nil
	}
	return Desired, fmt.Errorf("unknown interaction matrix type %q", s)
}

// InversionType selects how the task Jacobian is inverted.
type InversionType int

const (
	PseudoInverseInversion InversionType = iota
	TransposeInversion
)

func (t InversionType) String() string {
	if t == TransposeInversion {
		return "transpose"
	}
	return "pseudo-inverse"
}

// ParseInversionType maps a config string to an InversionType.
// The empty string selects the pseudo-inverse.
func ParseInversionType(s string) (InversionType, error) {
	switch strings.ToLower(s) {
	case "", "pseudo-inverse", "pseudoinverse":
		return PseudoInverseInversion, nil
	case "transpose":
		return TransposeInversion, nil
	}
	return PseudoInverseInversion, fmt.Errorf("unknown inversion %q, want pseudo-inverse or transpose", s)
}

var (
	ErrNoFeatures = errors.New("no visual features added to task")
	ErrMissingCVe = errors.New("cVe twist matrix not set")
	ErrMissingEJe = errors.New("eJe jacobian not set")
	ErrKilled     = errors.New("task has been killed")
)

type featurePair struct {
	current, desired Feature
}

// Task regulates the stacked error e = s - s* of its features to zero.
// A Task is not safe for concurrent use.
type Task struct {
	servo       ServoType
	interaction InteractionMatrixType
	inversion   InversionType
	lambda      float64

	features []featurePair

	cVe *mat.Dense
	eJe *mat.Dense

	// desiredL is the cached stacked interaction matrix at s*.
	desiredL *mat.Dense

	err      []float64
	velocity []float64
	killed   bool
}

// NewTask returns a task with the articular law, the desired interaction
// matrix, pseudo-inverse inversion and a unit gain.
func NewTask() *Task {
	return &Task{
		servo:       EyeInHandLcVeeJe,
		interaction: Desired,
		inversion:   PseudoInverseInversion,
		lambda:      1,
	}
}

func (t *Task) SetServo(s ServoType) {
	t.servo = s
}

func (t *Task) SetInteractionMatrixType(it InteractionMatrixType, inv InversionType) {
	t.interaction = it
	t.inversion = inv
	t.desiredL = nil
}

// SetLambda sets the control gain, which must be positive.
func (t *Task) SetLambda(lambda float64) error {
	if lambda <= 0 {
		return fmt.Errorf("gain must be positive, got %f", lambda)
	}
	t.lambda = lambda
	return nil
}

func (t *Task) Lambda() float64 {
	return t.lambda
}

// AddFeature adds a current/desired feature pair to the task.
func (t *Task) AddFeature(current, desired Feature) error {
	if t.killed {
		return ErrKilled
	}
	if current.Dimension() != desired.Dimension() {
		return fmt.Errorf("feature dimension mismatch: current %d, desired %d",
			current.Dimension(), desired.Dimension())
	}
	t.features = append(t.features, featurePair{current: current, desired: desired})
	t.desiredL = nil
	return nil
}

// SetCVe sets the 6x6 twist from end-effector to camera frame.
func (t *Task) SetCVe(cVe *mat.Dense) error {
	r, c := cVe.Dims()
	if r != 6 || c != 6 {
		return fmt.Errorf("cVe must be 6x6, got %dx%d", r, c)
	}
	t.cVe = mat.DenseCopyOf(cVe)
	return nil
}

// SetEJe sets the 6xN robot Jacobian expressed in the end-effector frame.
func (t *Task) SetEJe(eJe *mat.Dense) error {
	r, _ := eJe.Dims()
	if r != 6 {
		return fmt.Errorf("eJe must have 6 rows, got %d", r)
	}
	t.eJe = mat.DenseCopyOf(eJe)
	return nil
}

func (t *Task) dimension() int {
	n := 0
	for _, f := range t.features {
		n += f.current.Dimension()
	}
	return n
}

func stackInteraction(fs []Feature, rows int) (*mat.Dense, error) {
	l := mat.NewDense(rows, 6, nil)
	row := 0
	for _, f := range fs {
		li, err := f.Interaction()
		if err != nil {
			return nil, err
		}
		r, c := li.Dims()
		if c != 6 || r != f.Dimension() {
			return nil, fmt.Errorf("interaction matrix is %dx%d, want %dx6", r, c, f.Dimension())
		}
		l.Slice(row, row+r, 0, 6).(*mat.Dense).Copy(li)
		row += r
	}
	return l, nil
}

func (t *Task) currents() []Feature {
	out := make([]Feature, len(t.features))
	for i, f := range t.features {
		out[i] = f.current
	}
	return out
}

func (t *Task) desireds() []Feature {
	out := make([]Feature, len(t.features))
	for i, f := range t.features {
		out[i] = f.desired
	}
	return out
}

func (t *Task) interactionMatrix(rows int) (*mat.Dense, error) {
	desired := func() (*mat.Dense, error) {
		if t.desiredL == nil {
			l, err := stackInteraction(t.desireds(), rows)
			if err != nil {
				return nil, err
			}
			t.desiredL = l
		}
		return t.desiredL, nil
	}

	switch t.interaction {
	case Desired:
		return desired()
	case Current:
		return stackInteraction(t.currents(), rows)
	case Mean:
		ld, err := desired()
		if err != nil {
			return nil, err
		}
		lc, err := stackInteraction(t.currents(), rows)
		if err != nil {
			return nil, err
		}
		var l mat.Dense
		l.Add(ld, lc)
		l.Scale(0.5, &l)
		return &l, nil
	}
	return nil, fmt.Errorf("unsupported interaction matrix type %v", t.interaction)
}

// ComputeControlLaw updates the error vector and returns the commanded
// velocity: a camera twist for EyeInHandCamera, joint velocities for
// EyeInHandLcVeeJe.
func (t *Task) ComputeControlLaw() ([]float64, error) {
	if t.killed {
		return nil, ErrKilled
	}
	if len(t.features) == 0 {
		return nil, ErrNoFeatures
	}

	rows := t.dimension()
	e := make([]float64, 0, rows)
	for _, f := range t.features {
		s := f.current.Values()
		sd := f.desired.Values()
		for i := range s {
			e = append(e, s[i]-sd[i])
		}
	}

	l, err := t.interactionMatrix(rows)
	if err != nil {
		return nil, err
	}

	var j mat.Matrix = l
	if t.servo == EyeInHandLcVeeJe {
		if t.cVe == nil {
			return nil, ErrMissingCVe
		}
		if t.eJe == nil {
			return nil, ErrMissingEJe
		}
		var lv, lvj mat.Dense
		lv.Mul(l, t.cVe)
		lvj.Mul(&lv, t.eJe)
		j = &lvj
	}

	var inv mat.Matrix
	switch t.inversion {
	case TransposeInversion:
		inv = j.T()
	default:
		inv, err = PseudoInverse(j)
		if err != nil {
			return nil, err
		}
	}

	var v mat.VecDense
	v.MulVec(inv, mat.NewVecDense(rows, e))
	v.ScaleVec(-t.lambda, &v)

	t.err = e
	t.velocity = make([]float64, v.Len())
	for i := range t.velocity {
		t.velocity[i] = v.AtVec(i)
	}
	return append([]float64(nil), t.velocity...), nil
}

// Error returns the last computed error vector s - s*.
func (t *Task) Error() []float64 {
	return append([]float64(nil), t.err...)
}

// ErrorSumSquare returns ||s - s*||² for the last computed error.
func (t *Task) ErrorSumSquare() float64 {
	sum := 0.0
	for _, e := range t.err {
		sum += e * e
	}
	return sum
}

// Kill releases the task's features and matrices. A killed task cannot be reused.
func (t *Task) Kill() {
	t.features = nil
	t.cVe = nil
	t.eJe = nil
	t.desiredL = nil
	t.killed = true
}

func (t *Task) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "visual servoing task:\n")
	fmt.Fprintf(&b, "  type: %v\n", t.servo)
	fmt.Fprintf(&b, "  interaction matrix: %v, %v\n", t.interaction, t.inversion)
	fmt.Fprintf(&b, "  lambda: %g\n", t.lambda)
	fmt.Fprintf(&b, "  features (%d):\n", len(t.features))
	for _, f := range t.features {
		fmt.Fprintf(&b, "    s  = %v\n", f.current.Values())
		fmt.Fprintf(&b, "    s* = %v\n", f.desired.Values())
	}
	if t.cVe != nil {
		fmt.Fprintf(&b, "  cVe:\n%v\n", mat.Formatted(t.cVe, mat.Prefix("    "), mat.Squeeze()))
	}
	if t.eJe != nil {
		fmt.Fprintf(&b, "  eJe:\n%v\n", mat.Formatted(t.eJe, mat.Prefix("    "), mat.Squeeze()))
	}
	if t.err != nil {
		fmt.Fprintf(&b, "  error: %v (sum square %g)\n", t.err, t.ErrorSumSquare())
	}
	if t.killed {
		b.WriteString("  (killed)\n")
	}
	return b.String()
}
