package dataset

import (
	"errors"
	"fmt"
	"image"
	"math/rand"

	"github.com/esimov/jda"
	"github.com/esimov/jda/utils"
)

// NegativeOptions configures the background pool.
type NegativeOptions struct {
	Window int
	// Target is the number of negatives the pool holds after every regeneration.
	Target int
	// MaxScans is the number of regions a mining round may draw per missing negative.
	MaxScans int
	Seed     int64
}

// Negatives is the pool of background samples, refilled by hard negative mining.
type Negatives struct {
	images []*image.Gray
	opts   NegativeOptions
	rng    *rand.Rand
	pool   []*jda.Sample
	// Scans is the number of regions drawn by the last regeneration.
	Scans int
}

var (
	_ jda.SampleStore    = (*Negatives)(nil)
	_ jda.NegativeSource = (*Negatives)(nil)
)

// NewNegatives builds a background pool over images. Images smaller than the window are ignored.
func NewNegatives(images []image.Image, opts NegativeOptions) (*Negatives, error) {
	if opts.Window <= 0 {
		return nil, errors.New("the window size must be positive")
	}
	n := &Negatives{
		opts: opts,
		rng:  rand.New(rand.NewSource(opts.Seed)),
	}
	for _, img := range images {
		b := img.Bounds()
		if utils.Min(b.Dx(), b.Dy()) < opts.Window {
			continue
		}
		n.images = append(n.images, jda.ToGray(img))
	}
	if len(n.images) == 0 {
		return nil, fmt.Errorf("no background image is at least %dpx wide and high", opts.Window)
	}
	return n, nil
}

// LoadNegatives reads the background images of a list file, one path per line.
func LoadNegatives(list string, opts NegativeOptions) (*Negatives, error) {
	entries, err := readList(list)
	if err != nil {
		return nil, err
	}
	images := make([]image.Image, 0, len(entries))
	for _, e := range entries {
		img, err := jda.DecodeImage(e.path)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", list, e.line, err)
		}
		images = append(images, img)
	}
	return NewNegatives(images, opts)
}

// Draw returns a random square region of a random background image.
func (n *Negatives) Draw() (*jda.Views, error) {
	img := n.images[n.rng.Intn(len(n.images))]
	b := img.Bounds()
	w := n.opts.Window
	size := w + n.rng.Intn(utils.Min(b.Dx(), b.Dy())-w+1)
	x := b.Min.X + n.rng.Intn(b.Dx()-size+1)
	y := b.Min.Y + n.rng.Intn(b.Dy()-size+1)

	region := img.SubImage(image.Rect(x, y, x+size, y+size))
	return jda.NewViews(region, w), nil
}

// Size returns the number of negatives in the pool.
func (n *Negatives) Size() int { return len(n.pool) }

// At returns the i-th negative.
func (n *Negatives) At(i int) *jda.Sample { return n.pool[i] }

// Regenerate re-scores the pool, drops the negatives the cascade now rejects
// and mines new ones until the pool is back to its target size.
func (n *Negatives) Regenerate(score jda.ScoreFunc) error {
	kept := n.pool[:0]
	for _, s := range n.pool {
		if score(s) {
			kept = append(kept, s)
		}
	}
	for i := len(kept); i < len(n.pool); i++ {
		n.pool[i] = nil
	}
	n.pool = kept
	n.Scans = 0

	missing := n.opts.Target - len(n.pool)
	if missing <= 0 {
		return nil
	}
	mined, err := jda.Mine(countingSource{n}, missing, n.opts.MaxScans*missing, score)
	n.pool = append(n.pool, mined...)
	return err
}

// countingSource counts the regions drawn while mining.
type countingSource struct {
	n *Negatives
}

func (c countingSource) Draw() (*jda.Views, error) {
	c.n.Scans++
	return c.n.Draw()
}
