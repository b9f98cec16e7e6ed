package cart

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/esimov/jda"
	"gonum.org/v1/gonum/mat"
)

// Options tunes the carts of a stage.
type Options struct {
	Landmarks int
	Depth     int
	// Recall is the fraction of positives a cart threshold keeps.
	Recall float64
	// Features is the number of random features tried per split.
	Features int
	// Shrinkage scales the leaf shape increments.
	Shrinkage float64
	Seed      int64
}

// OptionsFromConfig extracts the cart options of a configuration.
func OptionsFromConfig(cfg *jda.Config) Options {
	return Options{
		Landmarks: cfg.Cascade.Landmarks,
		Depth:     cfg.Cascade.TreeDepth,
		Recall:    cfg.Cart.Recall,
		Features:  cfg.Cart.Features,
		Shrinkage: cfg.Cart.Shrinkage,
		Seed:      cfg.Cart.Seed,
	}
}

// NewFactory returns the ensemble factory of a configuration.
func NewFactory(cfg *jda.Config) jda.EnsembleFactory {
	opts := OptionsFromConfig(cfg)
	return func(stage int) jda.Ensemble {
		return New(stage, opts)
	}
}

// BoostCart is the boosted cart ensemble of one stage.
type BoostCart struct {
	Stage int
	Carts []*Cart
	// Global is the stage global shape regression, nil until the stage is completed.
	Global []float64

	opts Options
	rng  *rand.Rand
}

var _ jda.Ensemble = (*BoostCart)(nil)

// New creates the empty ensemble of a stage.
func New(stage int, opts Options) *BoostCart {
	return &BoostCart{
		Stage: stage,
		opts:  opts,
		rng:   rand.New(rand.NewSource(opts.Seed + int64(stage))),
	}
}

// classifyProb is the probability of a node separating faces from non-faces. Early stages mostly
// classify, later stages mostly regress the shape.
func (bc *BoostCart) classifyProb() float64 {
	return math.Max(0.1, 1-0.1*float64(bc.Stage))
}

// trainSample is a sample as seen by the tree growing code.
type trainSample struct {
	s        *jda.Sample
	label    float64 // +1 face, -1 non-face
	weight   float64
	residual []float64 // nil for negatives
}

func collect(pos, neg jda.SampleStore) []trainSample {
	samples := make([]trainSample, 0, pos.Size()+neg.Size())
	for i := 0; i < pos.Size(); i++ {
		s := pos.At(i)
		var res []float64
		if r := s.Residual(); r != nil {
			res = r.RawMatrix().Data
		}
		samples = append(samples, trainSample{s: s, label: 1, weight: math.Exp(-s.Score), residual: res})
	}
	for i := 0; i < neg.Size(); i++ {
		s := neg.At(i)
		samples = append(samples, trainSample{s: s, label: -1, weight: math.Exp(s.Score)})
	}
	return samples
}

// Fit grows cart k. It must be called for k = 0, 1, ... in order.
func (bc *BoostCart) Fit(k int, pos, neg jda.SampleStore, ref *mat.Dense) error {
	if k != len(bc.Carts) {
		return fmt.Errorf("stage %d: fitting cart %d after %d carts", bc.Stage, k, len(bc.Carts))
	}
	if pos.Size() == 0 {
		return errors.New("no positive sample to fit")
	}
	samples := collect(pos, neg)
	cart := newCart(bc.opts.Depth, bc.opts.Landmarks)

	// Grow the tree breadth first, keeping the sample indices of every node.
	parts := make([][]int, len(cart.Nodes)+len(cart.Scores))
	parts[0] = make([]int, len(samples))
	for i := range parts[0] {
		parts[0][i] = i
	}
	for i := range cart.Nodes {
		cart.Nodes[i] = bc.split(samples, parts[i])
		parts[2*i+1], parts[2*i+2] = partition(samples, parts[i], cart.Nodes[i])
	}
	for l := range cart.Scores {
		bc.fitLeaf(cart, l, samples, parts[len(cart.Nodes)+l])
	}

	// Choose the rejection threshold keeping the requested share of positives.
	scores := make([]float64, 0, pos.Size())
	for i := 0; i < pos.Size(); i++ {
		s := pos.At(i)
		scores = append(scores, s.Score+cart.Scores[cart.leaf(s.Views)])
	}
	sort.Float64s(scores)
	drop := int(math.Floor((1 - bc.opts.Recall) * float64(len(scores))))
	if drop >= len(scores) {
		drop = len(scores) - 1
	}
	cart.Threshold = scores[drop]

	bc.Carts = append(bc.Carts, cart)
	return nil
}

func partition(samples []trainSample, idx []int, n node) (left, right []int) {
	for _, i := range idx {
		if int32(n.Feature.value(samples[i].s.Views)) <= n.Threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

// candidate is a feature together with the values it takes over the node samples.
type candidate struct {
	f      feature
	order  []int // positions into idx sorted by value
	values []int
}

func (bc *BoostCart) candidate(samples []trainSample, idx []int) candidate {
	c := candidate{
		f:      randomFeature(bc.rng),
		order:  make([]int, len(idx)),
		values: make([]int, len(idx)),
	}
	for j, i := range idx {
		c.values[j] = c.f.value(samples[i].s.Views)
		c.order[j] = j
	}
	sort.Slice(c.order, func(a, b int) bool {
		return c.values[c.order[a]] < c.values[c.order[b]]
	})
	return c
}

// split picks the best of the random features for the node samples.
func (bc *BoostCart) split(samples []trainSample, idx []int) node {
	landmark := -1
	if bc.rng.Float64() >= bc.classifyProb() {
		landmark = bc.rng.Intn(bc.opts.Landmarks)
	}
	best := node{Feature: randomFeature(bc.rng), Threshold: math.MaxInt32}
	if len(idx) < 2 {
		return best
	}
	bestGain := math.Inf(-1)
	for f := 0; f < bc.opts.Features; f++ {
		c := bc.candidate(samples, idx)
		var (
			th   int32
			gain float64
			ok   bool
		)
		if landmark >= 0 {
			th, gain, ok = regressionSplit(samples, idx, c, landmark)
		}
		if !ok {
			th, gain, ok = classificationSplit(samples, idx, c)
		}
		if ok && gain > bestGain {
			bestGain = gain
			best = node{Feature: c.f, Threshold: th}
		}
	}
	return best
}

// classificationSplit maximizes Sl²/Wl + Sr²/Wr, which minimizes the weighted squared error
// of a gentle boost regression on the labels.
func classificationSplit(samples []trainSample, idx []int, c candidate) (int32, float64, bool) {
	var wTotal, sTotal float64
	for _, i := range idx {
		wTotal += samples[i].weight
		sTotal += samples[i].weight * samples[i].label
	}
	var (
		wl, sl float64
		best   = math.Inf(-1)
		th     int32
		found  bool
	)
	for n, j := range c.order {
		s := samples[idx[j]]
		wl += s.weight
		sl += s.weight * s.label
		if n == len(c.order)-1 {
			break
		}
		v := c.values[j]
		if c.values[c.order[n+1]] == v {
			continue
		}
		wr, sr := wTotal-wl, sTotal-sl
		if wl <= 0 || wr <= 0 {
			continue
		}
		if gain := sl*sl/wl + sr*sr/wr; gain > best {
			best, th, found = gain, int32(v), true
		}
	}
	return th, best, found
}

// regressionSplit maximizes |Sl|²/nl + |Sr|²/nr over the residuals of one landmark of the positives,
// which minimizes the residual variance of both sides.
func regressionSplit(samples []trainSample, idx []int, c candidate, landmark int) (int32, float64, bool) {
	var (
		tx, ty float64
		total  int
	)
	for _, i := range idx {
		if r := samples[i].residual; r != nil {
			tx += r[2*landmark]
			ty += r[2*landmark+1]
			total++
		}
	}
	if total < 2 {
		return 0, 0, false
	}
	var (
		lx, ly float64
		nl     int
		best   = math.Inf(-1)
		th     int32
		found  bool
	)
	for n, j := range c.order {
		if r := samples[idx[j]].residual; r != nil {
			lx += r[2*landmark]
			ly += r[2*landmark+1]
			nl++
		}
		if n == len(c.order)-1 {
			break
		}
		v := c.values[j]
		if c.values[c.order[n+1]] == v {
			continue
		}
		nr := total - nl
		if nl == 0 || nr == 0 {
			continue
		}
		rx, ry := tx-lx, ty-ly
		if gain := (lx*lx+ly*ly)/float64(nl) + (rx*rx+ry*ry)/float64(nr); gain > best {
			best, th, found = gain, int32(v), true
		}
	}
	return th, best, found
}

// fitLeaf sets the gentle boost score and the mean positive residual of a leaf.
func (bc *BoostCart) fitLeaf(cart *Cart, l int, samples []trainSample, idx []int) {
	var w, s float64
	var n int
	shape := cart.Shapes[l]
	for _, i := range idx {
		ts := samples[i]
		w += ts.weight
		s += ts.weight * ts.label
		if ts.residual != nil {
			for j, r := range ts.residual {
				shape[j] += r
			}
			n++
		}
	}
	if w > 0 {
		cart.Scores[l] = s / w
	}
	if n > 0 {
		for j := range shape {
			shape[j] *= bc.opts.Shrinkage / float64(n)
		}
	}
}

// Regress fits the global regression of the stage: the mean residual left on the positives.
func (bc *BoostCart) Regress(pos jda.SampleStore, ref *mat.Dense) error {
	if len(bc.Carts) == 0 {
		return fmt.Errorf("stage %d has no cart to regress", bc.Stage)
	}
	global := make([]float64, 2*bc.opts.Landmarks)
	var n int
	for i := 0; i < pos.Size(); i++ {
		r := pos.At(i).Residual()
		if r == nil {
			continue
		}
		for j, v := range r.RawMatrix().Data {
			global[j] += v
		}
		n++
	}
	if n > 0 {
		for j := range global {
			global[j] /= float64(n)
		}
	}
	bc.Global = global
	return nil
}

// Eval runs cart k over the region.
func (bc *BoostCart) Eval(k int, v *jda.Views, shape *mat.Dense, score float64) (float64, *mat.Dense, bool) {
	cart := bc.Carts[k]
	leaf := cart.leaf(v)
	delta := cart.Scores[leaf]
	dshape := mat.NewDense(bc.opts.Landmarks, 2, append([]float64(nil), cart.Shapes[leaf]...))
	return delta, dshape, score+delta < cart.Threshold
}

// Refine returns the global regression increment of the stage.
func (bc *BoostCart) Refine(v *jda.Views, shape *mat.Dense) *mat.Dense {
	if bc.Global == nil {
		return nil
	}
	return mat.NewDense(bc.opts.Landmarks, 2, append([]float64(nil), bc.Global...))
}
