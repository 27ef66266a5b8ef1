package preprocess

import (
	"image"
	"image/color"

	"github.com/nfnt/resize"
)

// Channels is fixed: the classifier always consumes RGB.
const Channels = 3

// Tensor is a single NHWC image batch: shape (1, Size, Size, 3), values in [0,1].
type Tensor struct {
	Data []float32
	Size int
}

// Shape returns the NHWC shape including the batch dimension.
func (t *Tensor) Shape() []int64 {
	return []int64{1, int64(t.Size), int64(t.Size), Channels}
}

// At returns the value for pixel (x, y) channel c.
func (t *Tensor) At(x, y, c int) float32 {
	return t.Data[(y*t.Size+x)*Channels+c]
}

// NCHW returns the data re-laid out channel-first, for artifacts exported that way.
func (t *Tensor) NCHW() []float32 {
	plane := t.Size * t.Size
	out := make([]float32, len(t.Data))
	for i := 0; i < plane; i++ {
		for c := 0; c < Channels; c++ {
			out[c*plane+i] = t.Data[i*Channels+c]
		}
	}
	return out
}

// Tensorize resizes img to size×size (aspect ratio is not preserved) and scales
// every channel to [0,1]. Images already at the target size are not resampled,
// which keeps the transform idempotent.
func Tensorize(img image.Image, size int) *Tensor {
	b := img.Bounds()
	if b.Dx() != size || b.Dy() != size {
		img = resize.Resize(uint(size), uint(size), img, resize.Bicubic)
		b = img.Bounds()
	}

	px := pixelReader(img)
	data := make([]float32, size*size*Channels)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := (y*size + x) * Channels
			r, g, bl := px(b.Min.X+x, b.Min.Y+y)
			data[i] = float32(r) / 255.0
			data[i+1] = float32(g) / 255.0
			data[i+2] = float32(bl) / 255.0
		}
	}
	return &Tensor{Data: data, Size: size}
}

// pixelReader returns 8-bit RGB for a pixel; single-channel sources are broadcast.
func pixelReader(img image.Image) func(x, y int) (r, g, b uint8) {
	switch src := img.(type) {
	case *image.Gray:
		return func(x, y int) (uint8, uint8, uint8) {
			v := src.GrayAt(x, y).Y
			return v, v, v
		}
	case *image.RGBA:
		return func(x, y int) (uint8, uint8, uint8) {
			c := src.RGBAAt(x, y)
			return c.R, c.G, c.B
		}
	default:
		return func(x, y int) (uint8, uint8, uint8) {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			return c.R, c.G, c.B
		}
	}
}
