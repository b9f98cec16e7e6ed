package jda

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"io"

	"gonum.org/v1/gonum/mat"
)

// fakeCart scores a region by its contrast: delta = Bias + Gain*contrast.
type fakeCart struct {
	Bias, Gain, Threshold float64
}

// fakeEnsemble is a deterministic ensemble whose carts are given up front or produced by Fit.
type fakeEnsemble struct {
	Stage     int
	Landmarks int
	Carts     []fakeCart
	Global    float64
	HasGlobal bool

	// next is the cart appended by Fit.
	next   fakeCart
	failAt int // Fit fails for this cart index when >= 0
	// visited records the evaluated carts. Not safe for concurrent use.
	visited *[]string
}

func newFake(stage, landmarks int, carts ...fakeCart) *fakeEnsemble {
	return &fakeEnsemble{Stage: stage, Landmarks: landmarks, Carts: carts, failAt: -1}
}

func fakeFactory(landmarks int, next fakeCart) EnsembleFactory {
	return func(stage int) Ensemble {
		e := newFake(stage, landmarks)
		e.next = next
		return e
	}
}

func (e *fakeEnsemble) record(s string) {
	if e.visited == nil {
		return
	}
	*e.visited = append(*e.visited, s)
}

func (e *fakeEnsemble) Fit(k int, pos, neg SampleStore, ref *mat.Dense) error {
	if k == e.failAt {
		return fmt.Errorf("fit failure at cart %d", k)
	}
	if k != len(e.Carts) {
		return fmt.Errorf("cart %d fitted after %d carts", k, len(e.Carts))
	}
	e.Carts = append(e.Carts, e.next)
	return nil
}

func (e *fakeEnsemble) Regress(pos SampleStore, ref *mat.Dense) error {
	e.Global = 0.1
	e.HasGlobal = true
	return nil
}

func (e *fakeEnsemble) Eval(k int, v *Views, shape *mat.Dense, score float64) (float64, *mat.Dense, bool) {
	e.record(fmt.Sprintf("%d:%d", e.Stage, k))
	c := e.Carts[k]
	delta := c.Bias + c.Gain*contrast(v.Full)
	dshape := mat.NewDense(e.Landmarks, 2, nil)
	for i := 0; i < e.Landmarks; i++ {
		dshape.Set(i, 0, 0.01)
	}
	return delta, dshape, score+delta < c.Threshold
}

func (e *fakeEnsemble) Refine(v *Views, shape *mat.Dense) *mat.Dense {
	if !e.HasGlobal {
		return nil
	}
	e.record(fmt.Sprintf("%d:g", e.Stage))
	dshape := mat.NewDense(e.Landmarks, 2, nil)
	for i := 0; i < e.Landmarks; i++ {
		dshape.Set(i, 1, e.Global)
	}
	return dshape
}

func (e *fakeEnsemble) WriteTo(w io.Writer) (int64, error) {
	cw := &countWriter{w: w}
	if err := binary.Write(cw, byteOrder, int32(len(e.Carts))); err != nil {
		return cw.n, err
	}
	if err := binary.Write(cw, byteOrder, e.Carts); err != nil {
		return cw.n, err
	}
	var flag uint8
	if e.HasGlobal {
		flag = 1
	}
	if err := binary.Write(cw, byteOrder, flag); err != nil {
		return cw.n, err
	}
	err := binary.Write(cw, byteOrder, e.Global)
	return cw.n, err
}

func (e *fakeEnsemble) ReadFrom(r io.Reader) (int64, error) {
	var n int32
	if err := binary.Read(r, byteOrder, &n); err != nil {
		return 0, err
	}
	if n < 0 || n > 1000 {
		return 4, fmt.Errorf("invalid cart count %d", n)
	}
	e.Carts = make([]fakeCart, n)
	if err := binary.Read(r, byteOrder, e.Carts); err != nil {
		return 4, err
	}
	var flag uint8
	if err := binary.Read(r, byteOrder, &flag); err != nil {
		return 0, err
	}
	e.HasGlobal = flag == 1
	if err := binary.Read(r, byteOrder, &e.Global); err != nil {
		return 0, err
	}
	return int64(4 + 24*int(n) + 1 + 8), nil
}

// contrast returns the normalized intensity range of img.
func contrast(img *image.Gray) float64 {
	b := img.Bounds()
	lo, hi := 255, 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			p := int(img.GrayAt(x, y).Y)
			lo = min(lo, p)
			hi = max(hi, p)
		}
	}
	if hi < lo {
		return 0
	}
	return float64(hi-lo) / 255
}

// fakePool is a sample store keeping the samples its score accepts.
type fakePool struct {
	live        []*Sample
	regenerated int
}

func (p *fakePool) Size() int        { return len(p.live) }
func (p *fakePool) At(i int) *Sample { return p.live[i] }

func (p *fakePool) Regenerate(score ScoreFunc) error {
	p.regenerated++
	kept := p.live[:0]
	for _, s := range p.live {
		if score(s) {
			kept = append(kept, s)
		}
	}
	p.live = kept
	return nil
}

// fakeNegatives refills itself by mining flat or textured regions.
type fakeNegatives struct {
	fakePool
	src    NegativeSource
	target int
	limit  int
}

func (n *fakeNegatives) Regenerate(score ScoreFunc) error {
	if err := n.fakePool.Regenerate(score); err != nil {
		return err
	}
	mined, err := Mine(n.src, n.target-len(n.live), n.limit, score)
	n.live = append(n.live, mined...)
	return err
}

// stripes draws regions of alternating dark and bright columns.
type stripes struct {
	window int
	draws  int
}

func (s *stripes) Draw() (*Views, error) {
	s.draws++
	return stripeViews(s.window), nil
}

func stripeViews(window int) *Views {
	img := image.NewGray(image.Rect(0, 0, window, window))
	for y := 0; y < window; y++ {
		for x := 0; x < window; x++ {
			if x%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 200})
			}
		}
	}
	return NewViews(img, window)
}

func flatViews(window int, level uint8) *Views {
	img := image.NewGray(image.Rect(0, 0, window, window))
	for i := range img.Pix {
		img.Pix[i] = level
	}
	return NewViews(img, window)
}

func positives(n, window, landmarks int) *fakePool {
	p := &fakePool{}
	for i := 0; i < n; i++ {
		truth := mat.NewDense(landmarks, 2, nil)
		for l := 0; l < landmarks; l++ {
			truth.Set(l, 0, 0.2+0.1*float64(l)+0.01*float64(i))
			truth.Set(l, 1, 0.5)
		}
		p.live = append(p.live, &Sample{Views: stripeViews(window), Truth: truth})
	}
	return p
}
