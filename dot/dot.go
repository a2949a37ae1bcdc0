// Package dot tracks the center of gravity of a single uniform blob across frames.
package dot

import (
	"errors"
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// column indices of the stats matrix returned by ConnectedComponentsWithStats
const (
	statLeft = iota
	statTop
	statWidth
	statHeight
	statArea
)

var (
	ErrDotLost        = errors.New("dot lost")
	ErrNotInitialized = errors.New("dot tracking not initialized")
)

// Config controls which pixels belong to the dot and which blobs are accepted.
type Config struct {
	// GrayTolerance is the accepted distance from the seed pixel's gray level.
	GrayTolerance int
	// MinArea is the smallest blob, in pixels, that counts as the dot.
	MinArea int
	// MaxAreaRatio is the largest blob as a fraction of the image.
	MaxAreaRatio float64
	// MaxJump is how far, in pixels, the centroid may move between frames.
	MaxJump float64
}

func (c Config) withDefaults() Config {
	if c.GrayTolerance <= 0 {
		c.GrayTolerance = 64
	}
	if c.MinArea <= 0 {
		c.MinArea = 4
	}
	if c.MaxAreaRatio <= 0 || c.MaxAreaRatio > 1 {
		c.MaxAreaRatio = 0.25
	}
	if c.MaxJump <= 0 {
		c.MaxJump = 100
	}
	return c
}

// Tracker follows one dot. It is not safe for concurrent use.
type Tracker struct {
	cfg Config

	initialized bool
	lower       uint8
	upper       uint8

	u, v float64
	area int
	bbox image.Rectangle
}

// NewTracker returns a tracker; zero config fields take their defaults.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg.withDefaults()}
}

// InitTracking selects the dot containing pixel (u, v). The gray level at
// that pixel fixes the range of levels accepted for the rest of the session.
func (t *Tracker) InitTracking(img image.Image, u, v int) error {
	bounds := img.Bounds()
	if !image.Pt(u, v).Add(bounds.Min).In(bounds) {
		return fmt.Errorf("seed (%d, %d) outside %dx%d image", u, v, bounds.Dx(), bounds.Dy())
	}

	gray := grayMat(img)
	defer gray.Close()

	level := int(gray.GetUCharAt(v, u))
	t.lower = uint8(clamp(level-t.cfg.GrayTolerance, 0, 255))
	t.upper = uint8(clamp(level+t.cfg.GrayTolerance, 0, 255))

	blobs, labels, err := t.label(gray)
	if err != nil {
		return err
	}
	defer labels.Close()

	id := int(labels.GetIntAt(v, u))
	for _, b := range blobs {
		if b.id != id {
			continue
		}
		if !t.acceptable(b, gray) {
			return fmt.Errorf("blob at (%d, %d) has area %d outside accepted bounds", u, v, b.area)
		}
		t.set(b)
		t.initialized = true
		return nil
	}
	return fmt.Errorf("no blob at (%d, %d)", u, v)
}

// Track locates the dot in a new frame, choosing the accepted blob nearest
// the previous centroid.
func (t *Tracker) Track(img image.Image) error {
	if !t.initialized {
		return ErrNotInitialized
	}

	gray := grayMat(img)
	defer gray.Close()

	blobs, labels, err := t.label(gray)
	if err != nil {
		return err
	}
	labels.Close()

	best := -1
	bestDist := math.MaxFloat64
	for i, b := range blobs {
		if !t.acceptable(b, gray) {
			continue
		}
		d := math.Hypot(b.u-t.u, b.v-t.v)
		if d <= t.cfg.MaxJump && d < bestDist {
			best = i
			bestDist = d
		}
	}
	if best < 0 {
		return fmt.Errorf("%w near (%.1f, %.1f)", ErrDotLost, t.u, t.v)
	}
	t.set(blobs[best])
	return nil
}

type blob struct {
	id   int
	u, v float64
	area int
	bbox image.Rectangle
}

// label thresholds gray to the dot's level range and returns its connected
// components, excluding the background. The caller owns the labels Mat.
func (t *Tracker) label(gray gocv.Mat) ([]blob, gocv.Mat, error) {
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.InRangeWithScalar(gray,
		gocv.NewScalar(float64(t.lower), 0, 0, 0),
		gocv.NewScalar(float64(t.upper), 0, 0, 0),
		&mask)

	labels := gocv.NewMat()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()

	n := gocv.ConnectedComponentsWithStats(mask, &labels, &stats, &centroids)
	if n < 1 {
		labels.Close()
		return nil, gocv.Mat{}, errors.New("connected component labelling failed")
	}

	blobs := make([]blob, 0, n-1)
	for i := 1; i < n; i++ {
		left := int(stats.GetIntAt(i, statLeft))
		top := int(stats.GetIntAt(i, statTop))
		blobs = append(blobs, blob{
			id:   i,
			u:    centroids.GetDoubleAt(i, 0),
			v:    centroids.GetDoubleAt(i, 1),
			area: int(stats.GetIntAt(i, statArea)),
			bbox: image.Rect(left, top,
				left+int(stats.GetIntAt(i, statWidth)),
				top+int(stats.GetIntAt(i, statHeight))),
		})
	}
	return blobs, labels, nil
}

func (t *Tracker) acceptable(b blob, gray gocv.Mat) bool {
	maxArea := t.cfg.MaxAreaRatio * float64(gray.Rows()*gray.Cols())
	return b.area >= t.cfg.MinArea && float64(b.area) <= maxArea
}

func (t *Tracker) set(b blob) {
	t.u = b.u
	t.v = b.v
	t.area = b.area
	t.bbox = b.bbox
}

func (t *Tracker) Initialized() bool {
	return t.initialized
}

// U is the column of the dot's center of gravity.
func (t *Tracker) U() float64 {
	return t.u
}

// V is the row of the dot's center of gravity.
func (t *Tracker) V() float64 {
	return t.v
}

func (t *Tracker) Area() int {
	return t.area
}

func (t *Tracker) BoundingBox() image.Rectangle {
	return t.bbox
}

// Reset forgets the dot so InitTracking must be called again.
func (t *Tracker) Reset() {
	*t = Tracker{cfg: t.cfg}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
