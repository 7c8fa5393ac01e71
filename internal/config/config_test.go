package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv(EnvDataDir, "/srv/crimewatch")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port() = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.Frames() != 16 || cfg.Resolution() != 112 {
		t.Errorf("Frames/Resolution = %d/%d, want 16/112", cfg.Frames(), cfg.Resolution())
	}
	if cfg.Sampling() != "first" {
		t.Errorf("Sampling() = %q, want first", cfg.Sampling())
	}
	if _, ok := cfg.Seed(); ok {
		t.Error("Seed() should be unset by default")
	}
	if !cfg.MaskDegraded() {
		t.Error("MaskDegraded() should default to true")
	}
	if want := filepath.Join("/srv/crimewatch", "models", WeightsFilename); cfg.WeightsPath() != want {
		t.Errorf("WeightsPath() = %q, want %q", cfg.WeightsPath(), want)
	}
	if want := filepath.Join("/srv/crimewatch", DBFilename); cfg.DBPath() != want {
		t.Errorf("DBPath() = %q, want %q", cfg.DBPath(), want)
	}
	if cfg.MaxUploadBytes() != 512<<20 {
		t.Errorf("MaxUploadBytes() = %d", cfg.MaxUploadBytes())
	}
	if cfg.FetchTimeout() != 120*time.Second {
		t.Errorf("FetchTimeout() = %v", cfg.FetchTimeout())
	}
	if origins := cfg.CORSOrigins(); len(origins) != 1 || origins[0] != "*" {
		t.Errorf("CORSOrigins() = %v, want [*]", origins)
	}
}

func TestNew_FromEnv(t *testing.T) {
	t.Setenv(EnvPort, "9090")
	t.Setenv(EnvSeed, "42")
	t.Setenv(EnvSampling, "Uniform")
	t.Setenv(EnvMaskDegraded, "false")
	t.Setenv(EnvCORSOrigins, "http://localhost:3000, https://app.example ")
	t.Setenv(EnvWeightsPath, "/models/c3d.c3dw")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9090 {
		t.Errorf("Port() = %d, want 9090", cfg.Port())
	}
	if seed, ok := cfg.Seed(); !ok || seed != 42 {
		t.Errorf("Seed() = %d, %v, want 42, true", seed, ok)
	}
	if cfg.Sampling() != "uniform" {
		t.Errorf("Sampling() = %q, want uniform", cfg.Sampling())
	}
	if cfg.MaskDegraded() {
		t.Error("MaskDegraded() = true, want false")
	}
	if got := cfg.CORSOrigins(); len(got) != 2 || got[1] != "https://app.example" {
		t.Errorf("CORSOrigins() = %v", got)
	}
	if cfg.WeightsPath() != "/models/c3d.c3dw" {
		t.Errorf("WeightsPath() = %q", cfg.WeightsPath())
	}
}

func TestNew_InvalidValues(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"port not a number", EnvPort, "abc"},
		{"port out of range", EnvPort, "70000"},
		{"zero frames", EnvFrames, "0"},
		{"bad sampling", EnvSampling, "random"},
		{"bad seed", EnvSeed, "-1"},
		{"bad mask", EnvMaskDegraded, "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := New(); err == nil {
				t.Errorf("New() with %s=%q should fail", tt.key, tt.value)
			}
		})
	}
}
