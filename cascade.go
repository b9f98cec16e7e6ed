package jda

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrConfigMismatch is returned when a model was trained with different fixed parameters.
	ErrConfigMismatch = errors.New("model parameters do not match the configuration")
	// ErrCorruptModel is returned when a model stream is inconsistent with its own header or cursor.
	ErrCorruptModel = errors.New("corrupt model")
	// ErrCursorRegression is returned when the training cursor would move backwards.
	ErrCursorRegression = errors.New("training cursor cannot move backwards")
)

// Params holds the fixed parameters of a cascade. They never change once a cascade is created.
type Params struct {
	Stages    int // T, number of boosting stages
	Carts     int // K, carts trained per stage
	Landmarks int // number of facial landmarks
	TreeDepth int // depth of every cart
}

// Validate checks the parameters for sane values.
func (p Params) Validate() error {
	switch {
	case p.Stages <= 0:
		return fmt.Errorf("%w: stages must be positive, got %d", ErrInvalidConfig, p.Stages)
	case p.Carts <= 0:
		return fmt.Errorf("%w: carts must be positive, got %d", ErrInvalidConfig, p.Carts)
	case p.Landmarks <= 0:
		return fmt.Errorf("%w: landmarks must be positive, got %d", ErrInvalidConfig, p.Landmarks)
	case p.TreeDepth <= 0:
		return fmt.Errorf("%w: tree depth must be positive, got %d", ErrInvalidConfig, p.TreeDepth)
	}
	return nil
}

// Cursor records how far the training went.
//
// (s, k) with k >= 0 means carts 0..k of stage s are trained. (s, K-1) means the whole
// stage is trained but its global shape regression is not folded in yet; once it is,
// the cursor moves to (s+1, -1). A fresh cascade starts at (0, -1).
type Cursor struct {
	Stage int
	Cart  int
}

// Start is the cursor of an untrained cascade.
var Start = Cursor{Stage: 0, Cart: -1}

// Less reports whether c comes strictly before o in lexicographic order.
func (c Cursor) Less(o Cursor) bool {
	if c.Stage != o.Stage {
		return c.Stage < o.Stage
	}
	return c.Cart < o.Cart
}

// Progress returns the number of cart ensembles that exist at this cursor.
func (c Cursor) Progress() int {
	if c.Cart >= 0 {
		return c.Stage + 1
	}
	return c.Stage
}

func (c Cursor) String() string {
	return fmt.Sprintf("(%d,%d)", c.Stage, c.Cart)
}

// Cascade is the joint cascade model: the fixed parameters, the reference shape,
// one cart ensemble per started stage and the training cursor.
type Cascade struct {
	Params
	// MeanShape is the Landmarks×2 reference shape in window-normalized coordinates.
	MeanShape *mat.Dense
	Ensembles []Ensemble
	Cursor    Cursor
}

// NewCascade creates an untrained cascade. The reference shape is the mean ground-truth shape
// of the positive samples.
func NewCascade(p Params, pos SampleStore) (*Cascade, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	mean, err := MeanShape(pos, p.Landmarks)
	if err != nil {
		return nil, err
	}
	return &Cascade{
		Params:    p,
		MeanShape: mean,
		Cursor:    Start,
	}, nil
}

// Full returns the traversal bound covering every trained cart, used at test time.
func (c *Cascade) Full() Cursor {
	return Cursor{Stage: c.Stages, Cart: -1}
}

// Done reports whether all the stages are trained.
func (c *Cascade) Done() bool {
	return c.Cursor == c.Full()
}

// advance moves the cursor forward. It is the only place the cursor changes during training.
func (c *Cascade) advance(to Cursor) error {
	if to.Less(c.Cursor) {
		return fmt.Errorf("%w: %v -> %v", ErrCursorRegression, c.Cursor, to)
	}
	if to.Progress() != len(c.Ensembles) {
		return fmt.Errorf("cursor %v expects %d ensembles, have %d", to, to.Progress(), len(c.Ensembles))
	}
	c.Cursor = to
	return nil
}

// MeanShape averages the ground-truth shapes of all samples of the store.
func MeanShape(pos SampleStore, landmarks int) (*mat.Dense, error) {
	n := pos.Size()
	if n == 0 {
		return nil, errors.New("cannot derive the mean shape from an empty positive set")
	}
	mean := mat.NewDense(landmarks, 2, nil)
	for i := 0; i < n; i++ {
		truth := pos.At(i).Truth
		if truth == nil {
			return nil, fmt.Errorf("positive sample %d has no ground-truth shape", i)
		}
		if r, _ := truth.Dims(); r != landmarks {
			return nil, fmt.Errorf("positive sample %d has %d landmarks, want %d", i, r, landmarks)
		}
		mean.Add(mean, truth)
	}
	mean.Scale(1/float64(n), mean)
	return mean, nil
}
