// Package imageinput decodes BMP images into float32 model inputs.
package imageinput

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"os"

	"golang.org/x/image/bmp"
	api "k8s.io/examples/AI/edgeagent/api/v1alpha1"
	"k8s.io/examples/AI/edgeagent/pkg/tensor"
)

// Channels is the number of values per pixel: R, G, B.
const Channels = 3

// Image holds 8-bit RGB samples in row-major, channel-interleaved order,
// top row first.
type Image struct {
	Width  int
	Height int
	rgb    []uint8
}

// ReadBMP decodes the BMP file at path.
func ReadBMP(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening image %q: %w", path, err)
	}
	defer f.Close()

	m, err := bmp.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding bmp %q: %w", path, err)
	}
	return FromImage(m), nil
}

// FromImage converts any image to RGB samples, dropping alpha.
func FromImage(m image.Image) *Image {
	b := m.Bounds()
	img := &Image{
		Width:  b.Dx(),
		Height: b.Dy(),
		rgb:    make([]uint8, 0, b.Dx()*b.Dy()*Channels),
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := m.At(x, y).RGBA()
			img.rgb = append(img.rgb, uint8(r>>8), uint8(g>>8), uint8(bl>>8))
		}
	}
	return img
}

// Len is the number of float32 values the image expands to.
func (img *Image) Len() int { return len(img.rgb) }

// Float32 returns the samples as float32 values in [0, 255].
func (img *Image) Float32() []float32 {
	out := make([]float32, len(img.rgb))
	for i, v := range img.rgb {
		out[i] = float32(v)
	}
	return out
}

// Fill writes the samples as little-endian float32 straight into dst,
// which is usually a shared memory mapping.
func (img *Image) Fill(dst []byte) error {
	if len(dst) != 4*len(img.rgb) {
		return fmt.Errorf("image has %d values, destination holds %d", len(img.rgb), len(dst)/4)
	}
	for i, v := range img.rgb {
		binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(float32(v)))
	}
	return nil
}

// Input returns a FLOAT32 tensor input of the given shape backed by img.
// The shape must describe exactly as many values as the image holds.
func (img *Image) Input(name string, shape []int64) (tensor.Input, error) {
	n, err := tensor.ElementCount(shape)
	if err != nil {
		return tensor.Input{}, err
	}
	if n != int64(len(img.rgb)) {
		return tensor.Input{}, fmt.Errorf("image has %d values (%dx%dx%d), input shape %v needs %d",
			len(img.rgb), img.Width, img.Height, Channels, shape, n)
	}
	return tensor.Input{
		Name:     name,
		Shape:    shape,
		DataType: api.DataTypeFloat32,
		Fill:     img.Fill,
	}, nil
}
