package jda

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/esimov/jda/utils"
	pigo "github.com/esimov/pigo/core"
	"golang.org/x/image/bmp"
)

// DecodeImage decodes an image file to type image.Image.
func DecodeImage(src string) (image.Image, error) {
	ctype, err := utils.DetectContentType(src)
	if err != nil {
		return nil, err
	}
	if !utils.IsImage(ctype) {
		return nil, fmt.Errorf("%s is not an image file", src)
	}

	file, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("could not open the image file: %v", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("could not decode the image file: %v", err)
	}
	return img, nil
}

// EncodeImage encodes an image to a destination of type io.Writer.
// The format follows the file extension in case the destination is a file, otherwise it is jpeg.
func EncodeImage(w io.Writer, img image.Image) error {
	switch w := w.(type) {
	case *os.File:
		switch filepath.Ext(w.Name()) {
		case "", ".jpg", ".jpeg":
			return jpeg.Encode(w, img, &jpeg.Options{Quality: 100})
		case ".png":
			return png.Encode(w, img)
		case ".bmp":
			return bmp.Encode(w, img)
		default:
			return errors.New("unsupported image format")
		}
	default:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 100})
	}
}

// imgToNRGBA converts any image type to *image.NRGBA with min-point at (0, 0).
func imgToNRGBA(img image.Image) *image.NRGBA {
	srcBounds := img.Bounds()
	if srcBounds.Min.X == 0 && srcBounds.Min.Y == 0 {
		if src0, ok := img.(*image.NRGBA); ok {
			return src0
		}
	}
	srcMinX := srcBounds.Min.X
	srcMinY := srcBounds.Min.Y

	dstBounds := srcBounds.Sub(srcBounds.Min)
	dstW := dstBounds.Dx()
	dstH := dstBounds.Dy()
	dst := image.NewNRGBA(dstBounds)

	switch src := img.(type) {
	case *image.NRGBA:
		rowSize := srcBounds.Dx() * 4
		for dstY := 0; dstY < dstH; dstY++ {
			di := dst.PixOffset(0, dstY)
			si := src.PixOffset(srcMinX, srcMinY+dstY)
			copy(dst.Pix[di:di+rowSize], src.Pix[si:si+rowSize])
		}
	case *image.YCbCr:
		for dstY := 0; dstY < dstH; dstY++ {
			di := dst.PixOffset(0, dstY)
			for dstX := 0; dstX < dstW; dstX++ {
				srcX := srcMinX + dstX
				srcY := srcMinY + dstY
				siy := src.YOffset(srcX, srcY)
				sic := src.COffset(srcX, srcY)
				r, g, b := color.YCbCrToRGB(src.Y[siy], src.Cb[sic], src.Cr[sic])
				dst.Pix[di+0] = r
				dst.Pix[di+1] = g
				dst.Pix[di+2] = b
				dst.Pix[di+3] = 0xff
				di += 4
			}
		}
	default:
		for dstY := 0; dstY < dstH; dstY++ {
			di := dst.PixOffset(0, dstY)
			for dstX := 0; dstX < dstW; dstX++ {
				c := color.NRGBAModel.Convert(img.At(srcMinX+dstX, srcMinY+dstY)).(color.NRGBA)
				dst.Pix[di+0] = c.R
				dst.Pix[di+1] = c.G
				dst.Pix[di+2] = c.B
				dst.Pix[di+3] = c.A
				di += 4
			}
		}
	}
	return dst
}

// ToGray converts any image to an intensity image with min-point at (0, 0).
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	src := imgToNRGBA(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	return &image.Gray{
		Pix:    pigo.RgbToGrayscale(src),
		Stride: w,
		Rect:   image.Rect(0, 0, w, h),
	}
}

// resizeGray scales an intensity image to w×h.
func resizeGray(src image.Image, w, h int) *image.Gray {
	if w <= 0 || h <= 0 {
		return image.NewGray(image.Rect(0, 0, utils.Max(w, 0), utils.Max(h, 0)))
	}
	res := imaging.Resize(src, w, h, imaging.Linear)
	dst := image.NewGray(image.Rect(0, 0, w, h))
	// The source is gray, so every channel carries the same intensity.
	for i := range dst.Pix {
		dst.Pix[i] = res.Pix[i*4]
	}
	return dst
}

// NewViews scales a region to the full, half and quarter resolution views of the cascade.
// size is the side of the full resolution view and must be a multiple of 4.
func NewViews(region image.Image, size int) *Views {
	return &Views{
		Full:    resizeGray(region, size, size),
		Half:    resizeGray(region, size/2, size/2),
		Quarter: resizeGray(region, size/4, size/4),
	}
}

// pyramid holds one scan scale of an image at full, half and quarter resolution.
type pyramid struct {
	full, half, quarter *image.Gray
}

// newPyramid resizes img to w×h and builds the half and quarter images of it once,
// the windows of this scale being views into them.
func newPyramid(img *image.Gray, w, h int) pyramid {
	full := resizeGray(img, w, h)
	return pyramid{
		full:    full,
		half:    resizeGray(full, w/2, h/2),
		quarter: resizeGray(full, w/4, h/4),
	}
}

// views returns the window of side size at (x, y). x, y and size must be multiples of 4.
func (p pyramid) views(x, y, size int) *Views {
	return &Views{
		Full:    p.full.SubImage(image.Rect(x, y, x+size, y+size)).(*image.Gray),
		Half:    p.half.SubImage(image.Rect(x/2, y/2, (x+size)/2, (y+size)/2)).(*image.Gray),
		Quarter: p.quarter.SubImage(image.Rect(x/4, y/4, (x+size)/4, (y+size)/4)).(*image.Gray),
	}
}
