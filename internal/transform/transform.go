// Package transform converts sampled clips into normalised model input tensors.
package transform

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
	"gorgonia.org/tensor"

	"github.com/crimewatch/crimewatch/internal/video"
)

// Channels is the number of colour channels fed to the network.
const Channels = 3

// Kinetics normalisation constants, per RGB channel.
var (
	Mean = [Channels]float32{0.43216, 0.394666, 0.37645}
	Std  = [Channels]float32{0.22803, 0.22145, 0.216989}
)

// Transform resizes frames to Size×Size and normalises them.
type Transform struct {
	Size int
}

// New returns a Transform producing size×size frames.
func New(size int) Transform {
	if size <= 0 {
		panic(fmt.Sprintf("transform: invalid size %d", size))
	}
	return Transform{Size: size}
}

// Frame returns img as a channel-major [3,Size,Size] slice of normalised values.
func (t Transform) Frame(img image.Image) []float32 {
	out := make([]float32, Channels*t.Size*t.Size)
	t.frameInto(out, img, 1)
	return out
}

// frameInto writes the normalised frame into dst with channel stride
// stride*Size*Size, so clips can be filled in [C,T,H,W] order directly.
func (t Transform) frameInto(dst []float32, img image.Image, stride int) {
	b := img.Bounds()
	if b.Dx() != t.Size || b.Dy() != t.Size {
		img = resize.Resize(uint(t.Size), uint(t.Size), img, resize.Bilinear)
		b = img.Bounds()
	}
	plane := t.Size * t.Size
	cstride := stride * plane

	rgba, fast := img.(*image.RGBA)
	for y := 0; y < t.Size; y++ {
		for x := 0; x < t.Size; x++ {
			var r, g, bl float32
			if fast {
				i := rgba.PixOffset(b.Min.X+x, b.Min.Y+y)
				r, g, bl = float32(rgba.Pix[i]), float32(rgba.Pix[i+1]), float32(rgba.Pix[i+2])
			} else {
				r16, g16, b16, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				r, g, bl = float32(r16>>8), float32(g16>>8), float32(b16>>8)
			}
			p := y*t.Size + x
			dst[p] = (r/255 - Mean[0]) / Std[0]
			dst[cstride+p] = (g/255 - Mean[1]) / Std[1]
			dst[2*cstride+p] = (bl/255 - Mean[2]) / Std[2]
		}
	}
}

// Clip stacks the frames of clip into a [C,T,H,W] tensor.
func (t Transform) Clip(clip video.Clip) *tensor.Dense {
	n := clip.Len()
	data := make([]float32, Channels*n*t.Size*t.Size)
	t.fillClip(data, clip)
	return tensor.New(
		tensor.WithShape(Channels, n, t.Size, t.Size),
		tensor.WithBacking(data),
	)
}

func (t Transform) fillClip(data []float32, clip video.Clip) {
	n := clip.Len()
	plane := t.Size * t.Size
	for ti, f := range clip.Frames {
		t.frameInto(data[ti*plane:], f, n)
	}
}

// Batch stacks clips of equal length into a [B,C,T,H,W] tensor.
func (t Transform) Batch(clips ...video.Clip) *tensor.Dense {
	if len(clips) == 0 {
		panic("transform: empty batch")
	}
	n := clips[0].Len()
	per := Channels * n * t.Size * t.Size
	data := make([]float32, len(clips)*per)
	for i, c := range clips {
		if c.Len() != n {
			panic(fmt.Sprintf("transform: clip %d has %d frames, want %d", i, c.Len(), n))
		}
		t.fillClip(data[i*per:(i+1)*per], c)
	}
	return tensor.New(
		tensor.WithShape(len(clips), Channels, n, t.Size, t.Size),
		tensor.WithBacking(data),
	)
}
