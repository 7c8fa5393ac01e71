package video

import (
	"slices"
	"testing"
)

func TestParseProbe(t *testing.T) {
	data := []byte(`{"streams":[
		{"codec_type":"audio"},
		{"codec_type":"video","width":320,"height":240,"nb_frames":"150"}
	]}`)
	info, err := ParseProbe(data)
	if err != nil {
		t.Fatalf("ParseProbe: %v", err)
	}
	if info.Width != 320 || info.Height != 240 || info.FrameCount != 150 {
		t.Errorf("info = %+v", info)
	}
}

func TestParseProbe_UnknownFrameCount(t *testing.T) {
	info, err := ParseProbe([]byte(`{"streams":[{"codec_type":"video","width":64,"height":48,"nb_frames":"N/A"}]}`))
	if err != nil {
		t.Fatalf("ParseProbe: %v", err)
	}
	if info.FrameCount != 0 {
		t.Errorf("FrameCount = %d, want 0", info.FrameCount)
	}
}

func TestParseProbe_Rotation(t *testing.T) {
	cases := []struct {
		name         string
		body         string
		w, h, rotate int
	}{
		{"display matrix", `{"streams":[{"codec_type":"video","width":1920,"height":1080,
			"side_data_list":[{"side_data_type":"Display Matrix","rotation":-90}]}]}`, 1080, 1920, 270},
		{"rotate tag", `{"streams":[{"codec_type":"video","width":1920,"height":1080,
			"tags":{"rotate":"90"}}]}`, 1080, 1920, 90},
		{"upside down", `{"streams":[{"codec_type":"video","width":1920,"height":1080,
			"side_data_list":[{"rotation":180}]}]}`, 1920, 1080, 180},
		{"unrelated side data", `{"streams":[{"codec_type":"video","width":640,"height":480,
			"side_data_list":[{"side_data_type":"CPB properties"}]}]}`, 640, 480, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info, err := ParseProbe([]byte(tc.body))
			if err != nil {
				t.Fatalf("ParseProbe: %v", err)
			}
			if info.Width != tc.w || info.Height != tc.h || info.Rotation != tc.rotate {
				t.Errorf("info = %+v, want %dx%d rotation %d", info, tc.w, tc.h, tc.rotate)
			}
		})
	}
}

func TestDecodeArgs_PinsOutputSize(t *testing.T) {
	args := decodeArgs("in.mp4", StreamInfo{Width: 1080, Height: 1920})
	i := slices.Index(args, "-vf")
	if i < 0 || i+1 >= len(args) || args[i+1] != "scale=1080:1920" {
		t.Errorf("args = %v, want -vf scale=1080:1920", args)
	}
	if args[len(args)-1] != "pipe:1" {
		t.Errorf("output must be the stdout pipe, got %v", args)
	}
}

func TestParseProbe_Errors(t *testing.T) {
	cases := map[string]string{
		"not json":     `garbage`,
		"no video":     `{"streams":[{"codec_type":"audio"}]}`,
		"invalid size": `{"streams":[{"codec_type":"video","width":0,"height":0}]}`,
	}
	for name, body := range cases {
		if _, err := ParseProbe([]byte(body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestRGB24ToRGBA(t *testing.T) {
	buf := []byte{10, 20, 30, 40, 50, 60}
	img := rgb24ToRGBA(buf, 2, 1)
	want := []byte{10, 20, 30, 255, 40, 50, 60, 255}
	for i := range want {
		if img.Pix[i] != want[i] {
			t.Fatalf("Pix = %v, want %v", img.Pix, want)
		}
	}
}

func TestBlankClip(t *testing.T) {
	clip := BlankClip(3, 4)
	if clip.Len() != 3 || clip.Size != 4 {
		t.Fatalf("clip = %d x %d", clip.Len(), clip.Size)
	}
	if clip.Frames[0].Pix[3] != 0xff {
		t.Error("blank frame should be opaque")
	}
}
