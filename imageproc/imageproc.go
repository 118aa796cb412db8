// Package imageproc turns recorded camera frames into fixed-size,
// channels-first float32 buffers ready for model input.
package imageproc

import (
	"image"
	_ "image/png" // route frames are PNG
	"os"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Channels is the number of color channels in a preprocessed frame.
const Channels = 3

// Image is a preprocessed frame stored as a flat CHW float32 buffer.
// Pixel values keep their raw 0..255 range; normalization, if any, is
// the model's business.
type Image struct {
	Pix    []float32
	Height int
	Width  int
}

// At returns the value at (channel, y, x).
func (im *Image) At(c, y, x int) float32 {
	return im.Pix[c*im.Height*im.Width+y*im.Width+x]
}

// ToTensor reshapes the buffer into a [Channels][Height][Width] gomlx
// tensor.
func (im *Image) ToTensor() *tensors.Tensor {
	data := make([][][]float32, Channels)
	idx := 0
	for c := 0; c < Channels; c++ {
		data[c] = make([][]float32, im.Height)
		for y := 0; y < im.Height; y++ {
			data[c][y] = im.Pix[idx : idx+im.Width]
			idx += im.Width
		}
	}
	return tensors.FromAnyValue(data)
}

// Load decodes an image file from disk.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open image %s", path)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode image %s", path)
	}
	return img, nil
}

// ScaleAndCrop resizes img down by an integer scale factor, takes a
// centered crop x crop window, and reorders the result from HWC to CHW.
// The steps and their order mirror the recorded-data convention: resize
// to (width/scale, height/scale), crop origin at
// (h/2 - crop/2, w/2 - crop/2), then the axis reorder.
//
// If the resized image is smaller than crop in either dimension the
// slice would silently come out short, so that case is an error.
func ScaleAndCrop(img image.Image, scale, crop int) (*Image, error) {
	if scale < 1 {
		return nil, errors.Errorf("scale must be >= 1, got %d", scale)
	}
	if crop < 1 {
		return nil, errors.Errorf("crop must be >= 1, got %d", crop)
	}

	bounds := img.Bounds()
	width := bounds.Dx() / scale
	height := bounds.Dy() / scale
	if width < crop || height < crop {
		return nil, errors.Errorf("resized image %dx%d is smaller than crop %d", width, height, crop)
	}

	resized := imaging.Resize(img, width, height, imaging.Lanczos)

	startY := height/2 - crop/2
	startX := width/2 - crop/2

	out := &Image{
		Pix:    make([]float32, Channels*crop*crop),
		Height: crop,
		Width:  crop,
	}
	plane := crop * crop
	for y := 0; y < crop; y++ {
		for x := 0; x < crop; x++ {
			// NRGBA pixel layout: 4 bytes per pixel.
			off := resized.PixOffset(startX+x, startY+y)
			out.Pix[0*plane+y*crop+x] = float32(resized.Pix[off])
			out.Pix[1*plane+y*crop+x] = float32(resized.Pix[off+1])
			out.Pix[2*plane+y*crop+x] = float32(resized.Pix[off+2])
		}
	}
	return out, nil
}

// LoadAndPreprocess is the common load-then-ScaleAndCrop path used by
// the dataset accessors.
func LoadAndPreprocess(path string, scale, crop int) (*Image, error) {
	img, err := Load(path)
	if err != nil {
		return nil, err
	}
	out, err := ScaleAndCrop(img, scale, crop)
	if err != nil {
		return nil, errors.Wrapf(err, "preprocess %s", path)
	}
	return out, nil
}
