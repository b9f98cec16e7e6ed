package jda

import (
	"image"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// ScanParams defines the sliding window search.
// MinSize and MaxSize bound the window side in image pixels, ShiftFactor moves the window
// by that fraction of the cascade window, ScaleFactor grows the window between two scales.
type ScanParams struct {
	MinSize     int
	MaxSize     int
	ShiftFactor float64
	ScaleFactor float64
	// Window is the side of the full resolution view the cascade was trained on.
	Window int
	// Overlap is the IoU above which two detections are merged.
	Overlap float64
	// Workers is the number of goroutines scoring windows. Zero means runtime.NumCPU().
	Workers int
}

// Result is the outcome of a detection pass. Rects, Scores and Shapes have equal length.
type Result struct {
	Rects  []image.Rectangle
	Scores []float64
	Shapes []*mat.Dense
	Stats  DetectionStats
}

// Count returns the number of detected faces.
func (r *Result) Count() int {
	return len(r.Rects)
}

// window is one scan position at one scale.
type window struct {
	scale int // index into the scales
	x, y  int // position in the resized image
	rect  image.Rectangle
}

// scanScale is one window size together with its resized image.
type scanScale struct {
	size int // window side in the source image
	pyr  pyramid
}

// scales enumerates the window sizes fitting into a w×h image.
func (sp ScanParams) scales(w, h int) []int {
	limit := w
	if h < limit {
		limit = h
	}
	if sp.MaxSize > 0 && sp.MaxSize < limit {
		limit = sp.MaxSize
	}
	first := sp.MinSize
	if first <= 0 {
		first = sp.Window
	}
	var sizes []int
	for size := first; size <= limit; {
		sizes = append(sizes, size)
		next := int(float64(size) * sp.ScaleFactor)
		if next <= size {
			next = size + 1
		}
		size = next
	}
	return sizes
}

// step returns the window stride in resized pixels, a multiple of 4 so the half and
// quarter views start on whole pixels.
func (sp ScanParams) step() int {
	step := int(math.Ceil(sp.ShiftFactor * float64(sp.Window)))
	if step < 4 {
		return 4
	}
	return (step + 3) / 4 * 4
}

// Detect searches img for faces with a sliding window over every scale. Each window is scored
// by Validate with the full cascade; the accepted ones are mapped back to image coordinates and
// merged by non-maximum suppression. An image smaller than the smallest window has no window
// and yields no detection.
func (c *Cascade) Detect(img *image.Gray, sp ScanParams) *Result {
	if img == nil {
		panic("jda: Detect called with a nil image")
	}
	res := &Result{}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	var (
		scales  []scanScale
		windows []window
	)
	step := sp.step()
	for _, size := range sp.scales(w, h) {
		factor := float64(sp.Window) / float64(size)
		rw, rh := int(math.Round(float64(w)*factor)), int(math.Round(float64(h)*factor))
		if rw < sp.Window || rh < sp.Window {
			continue
		}
		idx := len(scales)
		scales = append(scales, scanScale{size: size, pyr: newPyramid(img, rw, rh)})

		for y := 0; y+sp.Window <= rh; y += step {
			for x := 0; x+sp.Window <= rw; x += step {
				origin := image.Pt(
					bounds.Min.X+int(math.Round(float64(x)/factor)),
					bounds.Min.Y+int(math.Round(float64(y)/factor)),
				)
				rect := image.Rectangle{Min: origin, Max: origin.Add(image.Pt(size, size))}.Intersect(bounds)
				windows = append(windows, window{scale: idx, x: x, y: y, rect: rect})
			}
		}
	}

	verdicts := make([]Verdict, len(windows))
	workers := sp.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	// The cascade is only read here; every goroutine writes its own verdict slots.
	var g errgroup.Group
	g.SetLimit(workers)
	full := c.Full()
	for i := range windows {
		i := i
		g.Go(func() error {
			win := windows[i]
			verdicts[i] = c.Validate(scales[win.scale].pyr.views(win.x, win.y, sp.Window), full)
			return nil
		})
	}
	_ = g.Wait()

	var dets []Detection
	for i, v := range verdicts {
		res.Stats.add(v)
		if !v.Face {
			continue
		}
		win := windows[i]
		dets = append(dets, Detection{
			Rect:  win.rect,
			Score: v.Score,
			Shape: toImage(v.Shape, win.rect.Min, scales[win.scale].size),
		})
	}
	res.Stats.finish()

	for _, d := range NonMaxSuppression(dets, sp.Overlap) {
		res.Rects = append(res.Rects, d.Rect)
		res.Scores = append(res.Scores, d.Score)
		res.Shapes = append(res.Shapes, d.Shape)
	}
	return res
}

// toImage maps a window-normalized shape to image coordinates.
func toImage(shape *mat.Dense, origin image.Point, size int) *mat.Dense {
	r, _ := shape.Dims()
	out := mat.NewDense(r, 2, nil)
	for i := 0; i < r; i++ {
		out.Set(i, 0, float64(origin.X)+shape.At(i, 0)*float64(size))
		out.Set(i, 1, float64(origin.Y)+shape.At(i, 1)*float64(size))
	}
	return out
}
