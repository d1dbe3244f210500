// Package image holds the tensor-style batch type used to collect generated
// images, plus format helpers for ComfyUI PNG outputs.
package image

import (
	"bytes"
	"fmt"
	"image/png"
	"strings"
)

// Batch is a stack of same-sized images: Count frames of
// Height*Width*Channels float32 values in [0,1], frame-major.
type Batch struct {
	Count    int
	Height   int
	Width    int
	Channels int
	Data     []float32
}

// Input names a batch for error reporting in Concat.
type Input struct {
	Name  string
	Batch *Batch
}

func (b *Batch) frameSize() int {
	return b.Height * b.Width * b.Channels
}

// Dims returns the per-frame dimensions, ignoring the batch dimension.
func (b *Batch) Dims() (height, width, channels int) {
	return b.Height, b.Width, b.Channels
}

// Concat stacks the given batches along the batch dimension. Nil batches are
// skipped. All frames must share dimensions; a mismatch is a hard failure
// naming the offending inputs.
func Concat(inputs ...Input) (*Batch, error) {
	var batches []*Batch
	var names []string
	for _, in := range inputs {
		if in.Batch == nil {
			continue
		}
		batches = append(batches, in.Batch)
		names = append(names, in.Name)
	}
	if len(batches) == 0 {
		return nil, fmt.Errorf("at least one input image must be provided")
	}

	ref := batches[0]
	var mismatched []string
	for i, b := range batches {
		if b.Height != ref.Height || b.Width != ref.Width || b.Channels != ref.Channels {
			mismatched = append(mismatched, names[i])
		}
	}
	if len(mismatched) > 0 {
		return nil, fmt.Errorf("input image dimensions do not match for images: %s",
			strings.Join(mismatched, ", "))
	}

	out := &Batch{
		Height:   ref.Height,
		Width:    ref.Width,
		Channels: ref.Channels,
	}
	for _, b := range batches {
		out.Count += b.Count
		out.Data = append(out.Data, b.Data...)
	}
	return out, nil
}

// FromPNG decodes PNG bytes into a single-frame RGB batch.
func FromPNG(data []byte) (*Batch, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("could not decode png: %w", err)
	}

	bounds := img.Bounds()
	b := &Batch{
		Count:    1,
		Height:   bounds.Dy(),
		Width:    bounds.Dx(),
		Channels: 3,
	}
	b.Data = make([]float32, 0, b.frameSize())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			b.Data = append(b.Data,
				float32(r)/0xffff,
				float32(g)/0xffff,
				float32(bl)/0xffff,
			)
		}
	}
	return b, nil
}
