// Package video turns a video source into a fixed-length clip of RGB frames.
package video

import (
	"context"
	"image"
	"path/filepath"
	"strings"
)

// Clip is an ordered sequence of exactly Len() RGB frames, all Size×Size.
type Clip struct {
	Frames []*image.RGBA
	Size   int
}

// Len returns the number of frames in the clip.
func (c Clip) Len() int { return len(c.Frames) }

// BlankClip returns n black frames of the given size.
func BlankClip(n, size int) Clip {
	frames := make([]*image.RGBA, n)
	for i := range frames {
		frames[i] = blankFrame(size)
	}
	return Clip{Frames: frames, Size: size}
}

func blankFrame(size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	// Opaque black: alpha must be set, the color channels are already zero.
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img
}

// StreamInfo describes a decoded video stream.
type StreamInfo struct {
	Width  int
	Height int
	// FrameCount is the container's frame count, or 0 when unknown.
	FrameCount int
	// Rotation is the display rotation metadata in degrees, in [0, 360).
	Rotation int
}

// Decoder opens video sources for sequential frame reading.
type Decoder interface {
	Open(ctx context.Context, source string) (FrameReader, error)
}

// FrameReader yields decoded RGB frames in presentation order.
// Next returns io.EOF once the source is exhausted.
type FrameReader interface {
	Info() StreamInfo
	Next() (image.Image, error)
	Close() error
}

// SupportedExtensions lists the container extensions treated as videos.
var SupportedExtensions = []string{".mp4", ".mov", ".mkv", ".avi"}

// IsVideoFile reports whether path has a supported video extension.
func IsVideoFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
