package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"

	"github.com/nfnt/resize"
)

// Policy selects which frames are kept when a source has more than N.
type Policy string

const (
	// PolicyFirst keeps the first N decoded frames.
	PolicyFirst Policy = "first"
	// PolicyUniform keeps N evenly spaced frames when the frame count is known.
	PolicyUniform Policy = "uniform"
)

// ParsePolicy maps a config string to a Policy, defaulting to PolicyFirst.
func ParsePolicy(s string) Policy {
	if Policy(s) == PolicyUniform {
		return PolicyUniform
	}
	return PolicyFirst
}

// Options configure SampleClip.
type Options struct {
	Frames     int
	Resolution int
	Policy     Policy
}

// DefaultOptions matches the C3D input of 16 frames at 112×112.
func DefaultOptions() Options {
	return Options{Frames: 16, Resolution: 112, Policy: PolicyFirst}
}

// SampleStats reports what happened while sampling. Err is informational.
type SampleStats struct {
	Decoded int
	Padded  int
	Blank   bool
	Err     error
}

// SampleClip decodes source and returns exactly opts.Frames frames.
// Short sources are padded with their last frame. Sources that yield no
// frames, including unreadable ones, produce a blank clip. Decode errors
// are reported in SampleStats and never returned.
func SampleClip(ctx context.Context, dec Decoder, source string, opts Options) (Clip, SampleStats) {
	if opts.Frames <= 0 || opts.Resolution <= 0 {
		panic(fmt.Sprintf("video: invalid sample options %+v", opts))
	}

	var stats SampleStats
	frames, err := readFrames(ctx, dec, source, opts)
	stats.Decoded = len(frames)
	stats.Err = err

	if len(frames) == 0 {
		stats.Blank = true
		stats.Padded = opts.Frames
		return BlankClip(opts.Frames, opts.Resolution), stats
	}

	last := frames[len(frames)-1]
	for len(frames) < opts.Frames {
		frames = append(frames, last)
		stats.Padded++
	}
	return Clip{Frames: frames, Size: opts.Resolution}, stats
}

func readFrames(ctx context.Context, dec Decoder, source string, opts Options) (frames []*image.RGBA, err error) {
	r, err := dec.Open(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", source, err)
	}
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close decoder: %w", cerr)
		}
	}()

	keep := selector(opts, r.Info())
	frames = make([]*image.RGBA, 0, opts.Frames)

	for idx := 0; len(frames) < opts.Frames; idx++ {
		if err := ctx.Err(); err != nil {
			return frames, err
		}
		img, err := r.Next()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, fmt.Errorf("decode frame %d: %w", idx, err)
		}
		if !keep(idx) {
			continue
		}
		frames = append(frames, toRGBA(img, opts.Resolution))
	}
	return frames, nil
}

// selector returns a predicate over decoded frame indices.
func selector(opts Options, info StreamInfo) func(int) bool {
	if opts.Policy != PolicyUniform || info.FrameCount <= opts.Frames {
		return func(int) bool { return true }
	}
	wanted := make(map[int]struct{}, opts.Frames)
	for i := 0; i < opts.Frames; i++ {
		wanted[UniformIndex(i, opts.Frames, info.FrameCount)] = struct{}{}
	}
	return func(idx int) bool {
		_, ok := wanted[idx]
		return ok
	}
}

// UniformIndex returns the source index of the i-th of n evenly spaced frames
// drawn from total frames.
func UniformIndex(i, n, total int) int {
	return i * total / n
}

// toRGBA resizes img to size×size (unless it already is) and converts it to RGBA.
func toRGBA(img image.Image, size int) *image.RGBA {
	b := img.Bounds()
	if b.Dx() != size || b.Dy() != size {
		img = resize.Resize(uint(size), uint(size), img, resize.Bilinear)
		b = img.Bounds()
	}
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba
	}
	out := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
