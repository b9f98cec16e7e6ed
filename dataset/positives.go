package dataset

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"runtime"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/esimov/jda"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// DefaultPadding is the margin added around the landmarks, relative to their extent.
const DefaultPadding = 0.5

// PositiveOptions configures the loading of the face samples.
type PositiveOptions struct {
	Landmarks int
	Window    int
	// Padding enlarges the landmark bounding box on every side.
	Padding float64
	// Workers bounds the images decoded in parallel. Zero means one per CPU.
	Workers int
}

// Positives is the pool of face samples. Samples rejected by the cascade are dropped
// for good: the cascade only ever grows, so a rejected face stays rejected.
type Positives struct {
	raw  []*jda.Sample
	live []*jda.Sample
}

var _ jda.SampleStore = (*Positives)(nil)

// NewPositives builds a pool over already prepared samples.
func NewPositives(samples []*jda.Sample) *Positives {
	return &Positives{
		raw:  samples,
		live: append([]*jda.Sample(nil), samples...),
	}
}

// LoadPositives reads the face samples of a list file. Every line holds an image path
// followed by 2*Landmarks pixel coordinates x1 y1 x2 y2 ...
func LoadPositives(list string, opts PositiveOptions) (*Positives, error) {
	entries, err := readList(list)
	if err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	samples := make([]*jda.Sample, len(entries))
	g := new(errgroup.Group)
	g.SetLimit(opts.Workers)
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			s, err := loadPositive(e, opts)
			if err != nil {
				return fmt.Errorf("%s:%d: %w", list, e.line, err)
			}
			samples[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return NewPositives(samples), nil
}

func loadPositive(e entry, opts PositiveOptions) (*jda.Sample, error) {
	if len(e.fields) != 2*opts.Landmarks {
		return nil, fmt.Errorf("expected %d coordinates, got %d", 2*opts.Landmarks, len(e.fields))
	}
	pts := make([]float64, len(e.fields))
	for i, f := range e.fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid coordinate %q", f)
		}
		pts[i] = v
	}
	img, err := jda.DecodeImage(e.path)
	if err != nil {
		return nil, err
	}
	return Crop(img, mat.NewDense(opts.Landmarks, 2, pts), opts.Window, opts.Padding)
}

// FaceBox returns the square region around a landmark shape given in pixel coordinates.
func FaceBox(shape *mat.Dense, padding float64) image.Rectangle {
	n, _ := shape.Dims()
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i := 0; i < n; i++ {
		x, y := shape.At(i, 0), shape.At(i, 1)
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	side := math.Max(maxX-minX, maxY-minY) * (1 + 2*padding)
	side = math.Max(math.Ceil(side), 1)
	cx, cy := (minX+maxX)/2, (minY+maxY)/2

	x0 := int(math.Round(cx - side/2))
	y0 := int(math.Round(cy - side/2))
	return image.Rect(x0, y0, x0+int(side), y0+int(side))
}

// Crop cuts the face around shape out of img and builds its training sample. The part of the
// face box outside the image is left black. The ground truth is normalized to the face box.
func Crop(img image.Image, shape *mat.Dense, window int, padding float64) (*jda.Sample, error) {
	box := FaceBox(shape, padding)
	visible := box.Intersect(img.Bounds())
	if visible.Empty() {
		return nil, fmt.Errorf("face box %v lies outside the image", box)
	}
	side := box.Dx()
	patch := imaging.New(side, side, color.Black)
	patch = imaging.Paste(patch, imaging.Crop(img, visible), visible.Min.Sub(box.Min))

	n, _ := shape.Dims()
	truth := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		truth.Set(i, 0, (shape.At(i, 0)-float64(box.Min.X))/float64(side))
		truth.Set(i, 1, (shape.At(i, 1)-float64(box.Min.Y))/float64(side))
	}
	return &jda.Sample{
		Views: jda.NewViews(patch, window),
		Truth: truth,
	}, nil
}

// Size returns the number of faces still accepted by the cascade.
func (p *Positives) Size() int { return len(p.live) }

// At returns the i-th accepted face.
func (p *Positives) At(i int) *jda.Sample { return p.live[i] }

// Total returns the number of faces loaded.
func (p *Positives) Total() int { return len(p.raw) }

// Regenerate re-scores the accepted faces and drops the rejected ones.
func (p *Positives) Regenerate(score jda.ScoreFunc) error {
	kept := p.live[:0]
	for _, s := range p.live {
		if score(s) {
			kept = append(kept, s)
		}
	}
	for i := len(kept); i < len(p.live); i++ {
		p.live[i] = nil
	}
	p.live = kept
	return nil
}
