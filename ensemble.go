package jda

import (
	"image"
	"io"

	"gonum.org/v1/gonum/mat"
)

// Views is a candidate region seen at full, half and quarter resolution.
// Carts read deeper features from the coarser views.
type Views struct {
	Full    *image.Gray
	Half    *image.Gray
	Quarter *image.Gray
}

// Sample is one training region together with its current cascade estimate.
type Sample struct {
	Views *Views
	// Truth is the ground-truth shape in window-normalized coordinates. It is nil for negatives.
	Truth *mat.Dense
	// Shape is the shape estimated by the cascade so far.
	Shape *mat.Dense
	// Score is the cumulative classification score.
	Score float64
}

// Residual returns Truth - Shape, or nil for negative samples.
func (s *Sample) Residual() *mat.Dense {
	if s.Truth == nil || s.Shape == nil {
		return nil
	}
	var r mat.Dense
	r.Sub(s.Truth, s.Shape)
	return &r
}

// ScoreFunc scores a sample with the cascade, updates its Score and Shape
// and reports whether it is still accepted.
type ScoreFunc func(s *Sample) bool

// SampleStore is an ordered pool of training samples.
type SampleStore interface {
	Size() int
	At(i int) *Sample
	// Regenerate rebuilds the pool against the cascade state captured by score.
	// A positive pool re-scores its raw samples and drops the rejected ones,
	// a negative pool refills itself by hard negative mining.
	Regenerate(score ScoreFunc) error
}

// NegativeSource draws candidate background regions for hard negative mining.
type NegativeSource interface {
	Draw() (*Views, error)
}

// Ensemble is the boosted set of carts trained within one stage.
type Ensemble interface {
	// Fit trains cart k against the current pools and the shape residuals of the positives.
	Fit(k int, pos, neg SampleStore, ref *mat.Dense) error
	// Regress fits the global shape regression of the stage on the surviving positives.
	Regress(pos SampleStore, ref *mat.Dense) error
	// Eval runs cart k over the region. score is the cumulative score before this cart.
	// It returns the score increment, the shape increment and whether the region is rejected.
	Eval(k int, v *Views, shape *mat.Dense, score float64) (float64, *mat.Dense, bool)
	// Refine returns the global regression shape increment of a completed stage.
	Refine(v *Views, shape *mat.Dense) *mat.Dense

	io.WriterTo
	io.ReaderFrom
}

// EnsembleFactory creates the empty ensemble of a stage.
type EnsembleFactory func(stage int) Ensemble
