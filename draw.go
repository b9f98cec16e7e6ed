package jda

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/mat"
)

// MarkType is the marker drawn over a landmark.
type MarkType string

const (
	Circle MarkType = "circle"
	Cross  MarkType = "cross"
)

// Overlay defines how the detections are rendered over the source image.
type Overlay struct {
	Color     color.Color
	Mark      MarkType
	Thickness int
	// Radius is the landmark marker size in pixels.
	Radius int
}

// Draw renders the face rectangles and the landmarks of res over a copy of img.
func (o Overlay) Draw(img image.Image, res *Result) *image.NRGBA {
	dst := imaging.Clone(img)
	col := color.NRGBAModel.Convert(o.Color).(color.NRGBA)
	off := img.Bounds().Min

	for i, rect := range res.Rects {
		o.drawRect(dst, rect.Sub(off), col)
		if i < len(res.Shapes) {
			o.drawShape(dst, res.Shapes[i], off, col)
		}
	}
	return dst
}

// drawRect draws the outline of rect with the overlay thickness.
func (o Overlay) drawRect(dst *image.NRGBA, rect image.Rectangle, col color.NRGBA) {
	t := o.Thickness
	if t < 1 {
		t = 1
	}
	for i := 0; i < t; i++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			dst.SetNRGBA(x, rect.Min.Y+i, col)
			dst.SetNRGBA(x, rect.Max.Y-1-i, col)
		}
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			dst.SetNRGBA(rect.Min.X+i, y, col)
			dst.SetNRGBA(rect.Max.X-1-i, y, col)
		}
	}
}

// drawShape marks every landmark of shape.
func (o Overlay) drawShape(dst *image.NRGBA, shape *mat.Dense, off image.Point, col color.NRGBA) {
	n, _ := shape.Dims()
	r := o.Radius
	if r < 1 {
		r = 1
	}
	for i := 0; i < n; i++ {
		cx := int(math.Round(shape.At(i, 0))) - off.X
		cy := int(math.Round(shape.At(i, 1))) - off.Y

		switch o.Mark {
		case Cross:
			for d := -r; d <= r; d++ {
				dst.SetNRGBA(cx+d, cy, col)
				dst.SetNRGBA(cx, cy+d, col)
			}
		default:
			for dy := -r; dy <= r; dy++ {
				for dx := -r; dx <= r; dx++ {
					if dx*dx+dy*dy <= r*r {
						dst.SetNRGBA(cx+dx, cy+dy, col)
					}
				}
			}
		}
	}
}
