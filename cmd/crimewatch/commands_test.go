package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/crimewatch/crimewatch/internal/dataset"
)

func TestWriteConfusion(t *testing.T) {
	c := dataset.NewConfusion([]string{"Abuse", "Arson"})
	c.Add(0, 0)
	c.Add(0, 1)
	c.Add(1, 1)

	var buf bytes.Buffer
	writeConfusion(&buf, c)
	out := buf.String()

	for _, want := range []string{"ABUSE", "ARSON", "0.50", "1.00"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestInitWeights_RefusesOverwrite(t *testing.T) {
	out := filepath.Join(t.TempDir(), "w.c3dw")
	if err := os.WriteFile(out, []byte("existing"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CRIMEWATCH_DATA_DIR", t.TempDir())

	root := newRootCmd()
	root.SetArgs([]string{"init-weights", out})
	root.SetOut(&bytes.Buffer{})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error for existing file")
	}

	data, _ := os.ReadFile(out)
	if string(data) != "existing" {
		t.Error("existing file was modified")
	}
}

func TestEvaluate_EmptyDataset(t *testing.T) {
	if testing.Short() {
		t.Skip("initialises the full network")
	}
	t.Setenv("CRIMEWATCH_DATA_DIR", t.TempDir())
	t.Setenv("CRIMEWATCH_FFMPEG_PATH", "/nonexistent/ffmpeg")
	t.Setenv("CRIMEWATCH_FFPROBE_PATH", "/nonexistent/ffprobe")
	t.Setenv("CRIMEWATCH_ONNX_MODEL_PATH", "")

	root := newRootCmd()
	root.SetArgs([]string{"evaluate", t.TempDir()})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "no samples") {
		t.Fatalf("error = %v, want no samples", err)
	}
}
