// Package cart implements the boosted classification and regression trees of one cascade stage.
//
// Every tree node compares the intensity of two pixels of the candidate region, taken from the
// full, half or quarter resolution view. A node either separates faces from non-faces or splits
// the positives by the residual of one landmark; the leaves hold a classification score and a
// shape increment.
package cart

import (
	"image"
	"math/rand"

	"github.com/esimov/jda"
	"github.com/esimov/jda/utils"
)

// feature is a pixel-difference feature. Coordinates are normalized to the view size.
type feature struct {
	Level          uint8 // 0 full, 1 half, 2 quarter view
	X1, Y1, X2, Y2 float32
}

func randomFeature(rng *rand.Rand) feature {
	return feature{
		Level: uint8(rng.Intn(3)),
		X1:    rng.Float32(),
		Y1:    rng.Float32(),
		X2:    rng.Float32(),
		Y2:    rng.Float32(),
	}
}

// pixel returns the intensity at the normalized coordinate (x, y) of img.
func pixel(img *image.Gray, x, y float32) int {
	b := img.Bounds()
	px := utils.Clamp(b.Min.X+int(x*float32(b.Dx())), b.Min.X, b.Max.X-1)
	py := utils.Clamp(b.Min.Y+int(y*float32(b.Dy())), b.Min.Y, b.Max.Y-1)
	return int(img.Pix[img.PixOffset(px, py)])
}

// value returns the intensity difference of the two pixels of f.
func (f feature) value(v *jda.Views) int {
	img := v.Full
	switch f.Level {
	case 1:
		img = v.Half
	case 2:
		img = v.Quarter
	}
	return pixel(img, f.X1, f.Y1) - pixel(img, f.X2, f.Y2)
}

// node is a split: samples with a feature value not above Threshold go left.
type node struct {
	Feature   feature
	Threshold int32
}

// Cart is a complete binary tree stored in heap order: the children of node i are 2i+1 and 2i+2,
// the leaves follow the 2^depth-1 internal nodes.
type Cart struct {
	Nodes  []node
	Scores []float64
	// Shapes holds the shape increment of every leaf, landmarks*2 values in row-major order.
	Shapes [][]float64
	// Threshold rejects a region whose cumulative score falls below it.
	Threshold float64
}

func newCart(depth, landmarks int) *Cart {
	leaves := 1 << depth
	c := &Cart{
		Nodes:  make([]node, leaves-1),
		Scores: make([]float64, leaves),
		Shapes: make([][]float64, leaves),
	}
	for i := range c.Shapes {
		c.Shapes[i] = make([]float64, 2*landmarks)
	}
	return c
}

// leaf returns the leaf index the region falls into.
func (c *Cart) leaf(v *jda.Views) int {
	i := 0
	for i < len(c.Nodes) {
		n := c.Nodes[i]
		if int32(n.Feature.value(v)) <= n.Threshold {
			i = 2*i + 1
		} else {
			i = 2*i + 2
		}
	}
	return i - len(c.Nodes)
}
