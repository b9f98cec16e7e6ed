package jda

import (
	"image"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Detection is a face region in image coordinates.
type Detection struct {
	Rect  image.Rectangle
	Score float64
	Shape *mat.Dense
}

// sortDetections orders the detections by decreasing score. Ties are broken by position
// and size, so the order never depends on the order the windows were scored in.
func sortDetections(dets []Detection) {
	sort.SliceStable(dets, func(i, j int) bool {
		a, b := dets[i], dets[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Rect.Min.Y != b.Rect.Min.Y {
			return a.Rect.Min.Y < b.Rect.Min.Y
		}
		if a.Rect.Min.X != b.Rect.Min.X {
			return a.Rect.Min.X < b.Rect.Min.X
		}
		return a.Rect.Dx() < b.Rect.Dx()
	})
}

func area(r image.Rectangle) float64 {
	if r.Empty() {
		return 0
	}
	return float64(r.Dx()) * float64(r.Dy())
}

// IoU returns the intersection over union of two rectangles.
func IoU(a, b image.Rectangle) float64 {
	inter := area(a.Intersect(b))
	if inter == 0 {
		return 0
	}
	return inter / (area(a) + area(b) - inter)
}

// NonMaxSuppression groups the detections overlapping by more than overlap (IoU)
// and keeps the highest scoring detection of every group, with its rectangle, score and shape.
// The input slice is reordered.
func NonMaxSuppression(dets []Detection, overlap float64) []Detection {
	sortDetections(dets)

	suppressed := make([]bool, len(dets))
	var picked []Detection
	for i := range dets {
		if suppressed[i] {
			continue
		}
		picked = append(picked, dets[i])
		for j := i + 1; j < len(dets); j++ {
			if !suppressed[j] && IoU(dets[i].Rect, dets[j].Rect) > overlap {
				suppressed[j] = true
			}
		}
	}
	return picked
}
