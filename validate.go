package jda

import "gonum.org/v1/gonum/mat"

// Verdict is the outcome of scoring one region.
type Verdict struct {
	Face  bool
	Score float64
	Shape *mat.Dense
	// Carts is the number of carts the region went through, the rejecting one included.
	Carts int
}

// Validate scores a region with every cart up to bound, in (stage, cart) order.
//
// During training bound is the training cursor, so hard negative mining only uses the carts
// trained so far. At test time bound is c.Full(). The global regression of a stage is applied
// only when the stage lies strictly below bound, which is when it has been folded in.
// A bound past the cascade cursor is clamped to it, so a checkpoint can be evaluated as is.
// Traversal stops at the first cart whose rejection threshold is not met.
func (c *Cascade) Validate(v *Views, bound Cursor) Verdict {
	if c.Cursor.Less(bound) {
		bound = c.Cursor
	}
	shape := mat.DenseCopyOf(c.MeanShape)
	res := Verdict{Face: true, Shape: shape}

	for s := 0; s < len(c.Ensembles) && s <= bound.Stage; s++ {
		last := c.Carts - 1
		if s == bound.Stage {
			last = bound.Cart
		}
		ens := c.Ensembles[s]
		for k := 0; k <= last; k++ {
			res.Carts++
			delta, dshape, reject := ens.Eval(k, v, shape, res.Score)
			res.Score += delta
			if dshape != nil {
				shape.Add(shape, dshape)
			}
			if reject {
				res.Face = false
				return res
			}
		}
		if s < bound.Stage {
			if dshape := ens.Refine(v, shape); dshape != nil {
				shape.Add(shape, dshape)
			}
		}
	}
	return res
}

// Scorer adapts Validate to the sample pools. The returned function writes the score
// and the shape back into the sample.
func (c *Cascade) Scorer(bound Cursor) ScoreFunc {
	return func(s *Sample) bool {
		res := c.Validate(s.Views, bound)
		s.Score = res.Score
		s.Shape = res.Shape
		return res.Face
	}
}
