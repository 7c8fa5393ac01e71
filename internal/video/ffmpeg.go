package video

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"strconv"

	"github.com/crimewatch/crimewatch/internal/proc"
)

const maxProbeBytes = 256 * 1024

// FFmpegDecoder decodes videos by piping raw rgb24 frames out of ffmpeg.
type FFmpegDecoder struct {
	FFmpegPath  string
	FFprobePath string
	Logger      *slog.Logger
}

// NewFFmpegDecoder resolves the ffmpeg and ffprobe binaries. Empty paths are
// looked up on PATH.
func NewFFmpegDecoder(ffmpegPath, ffprobePath string, logger *slog.Logger) (*FFmpegDecoder, error) {
	ffmpeg, err := resolveBinary(ffmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}
	ffprobe, err := resolveBinary(ffprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}
	return &FFmpegDecoder{FFmpegPath: ffmpeg, FFprobePath: ffprobe, Logger: logger}, nil
}

func resolveBinary(preferred, name string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured %s %q not found", name, preferred)
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("no %s binary found on PATH", name)
	}
	return p, nil
}

// probeOutput is the subset of `ffprobe -of json -show_streams` we read.
type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		NbFrames  string `json:"nb_frames"`
		Tags      struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideDataList []struct {
			Rotation *float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
}

// ParseProbe extracts the first video stream from ffprobe JSON output.
// Width and Height are the display size: ffmpeg applies the rotation
// metadata when decoding, so quarter-turn rotations swap the coded size.
func ParseProbe(data []byte) (StreamInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return StreamInfo{}, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}
	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		if s.Width <= 0 || s.Height <= 0 {
			return StreamInfo{}, fmt.Errorf("video stream has invalid size %dx%d", s.Width, s.Height)
		}
		info := StreamInfo{Width: s.Width, Height: s.Height}
		for _, sd := range s.SideDataList {
			if sd.Rotation != nil {
				info.Rotation = normalizeRotation(int(math.Round(*sd.Rotation)))
			}
		}
		if info.Rotation == 0 {
			if r, err := strconv.Atoi(s.Tags.Rotate); err == nil {
				info.Rotation = normalizeRotation(r)
			}
		}
		if info.Rotation == 90 || info.Rotation == 270 {
			info.Width, info.Height = info.Height, info.Width
		}
		if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
			info.FrameCount = n
		}
		return info, nil
	}
	return StreamInfo{}, errors.New("no video stream")
}

// normalizeRotation maps any multiple of 90 degrees into [0, 360).
func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}

// decodeArgs streams the first video stream as rgb24. The explicit scale
// pins the output to info's size so every frame fills the read buffer exactly.
func decodeArgs(source string, info StreamInfo) []string {
	return []string{
		"-v", "error",
		"-nostdin",
		"-i", source,
		"-map", "0:v:0",
		"-vf", fmt.Sprintf("scale=%d:%d", info.Width, info.Height),
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	}
}

// Open probes source and starts an ffmpeg process streaming its frames.
func (d *FFmpegDecoder) Open(ctx context.Context, source string) (FrameReader, error) {
	res := proc.Run(ctx, d.Logger, d.FFprobePath, maxProbeBytes,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_streams",
		"-of", "json",
		source,
	)
	if err := res.Err("ffprobe"); err != nil {
		return nil, err
	}
	info, err := ParseProbe(res.Stdout)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, d.FFmpegPath, decodeArgs(source, info)...)
	var stderrBuf bytes.Buffer
	stderr := proc.NewTailWriter(&stderrBuf, proc.MaxStderrBytes)
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	return &ffmpegReader{
		info:   info,
		cmd:    cmd,
		cancel: cancel,
		out:    bufio.NewReaderSize(stdout, 1<<20),
		buf:    make([]byte, info.Width*info.Height*3),
		stderr: stderr,
		logger: d.Logger,
	}, nil
}

type ffmpegReader struct {
	info   StreamInfo
	cmd    *exec.Cmd
	cancel context.CancelFunc
	out    *bufio.Reader
	buf    []byte
	stderr *proc.TailWriter
	logger *slog.Logger
	closed bool
}

func (r *ffmpegReader) Info() StreamInfo { return r.info }

func (r *ffmpegReader) Next() (image.Image, error) {
	_, err := io.ReadFull(r.out, r.buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		// A trailing partial frame is dropped.
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	return rgb24ToRGBA(r.buf, r.info.Width, r.info.Height), nil
}

// Close stops ffmpeg and reaps the process. Safe to call more than once.
func (r *ffmpegReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.cancel()
	err := r.cmd.Wait()
	// Killing ffmpeg before it reaches the end of the stream is the normal
	// path once N frames are read, so exit errors are not reported.
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return err
	}
	if err != nil && r.logger != nil {
		r.logger.Debug("ffmpeg stopped", "error", err, "stderr_tail", proc.Truncate(r.stderr.String(), 512))
	}
	return nil
}

func rgb24ToRGBA(buf []byte, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, j := 0, 0; i+2 < len(buf); i, j = i+3, j+4 {
		img.Pix[j] = buf[i]
		img.Pix[j+1] = buf[i+1]
		img.Pix[j+2] = buf[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}
