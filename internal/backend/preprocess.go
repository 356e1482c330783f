package backend

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"

	// Register decoders for the scanned page formats.
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

// MinOCRDimension is the minimum length of the shorter image side sent to OCR.
const MinOCRDimension = 1000

// PrepareForOCR converts an image to grayscale and upscales it so that its
// shorter side is at least MinOCRDimension pixels, using Catmull-Rom
// resampling. The result is PNG encoded.
func PrepareForOCR(data []byte) ([]byte, error) {
	const op = "PrepareForOCR"

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, WrapBackendError(op, "", ErrInvalidImage, err.Error())
	}

	dst := upscale(grayscale(src), MinOCRDimension)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, WrapBackendError(op, "", ErrInvalidImage, fmt.Sprintf("encode %s as png: %v", format, err))
	}
	return buf.Bytes(), nil
}

func grayscale(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok {
		return g
	}
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

func upscale(src *image.Gray, minSide int) *image.Gray {
	b := src.Bounds()
	short := min(b.Dx(), b.Dy())
	if short == 0 || short >= minSide {
		return src
	}
	scale := float64(minSide) / float64(short)
	w := int(math.Ceil(float64(b.Dx()) * scale))
	h := int(math.Ceil(float64(b.Dy()) * scale))

	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}
