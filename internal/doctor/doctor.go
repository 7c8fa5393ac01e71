// Package doctor probes the external video tooling (ffmpeg, ffprobe) and
// caches what it finds.
package doctor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/crimewatch/crimewatch/internal/proc"
)

const defaultCacheTTL = 5 * time.Minute

// ToolInfo represents the availability of one executable.
type ToolInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Capabilities is what the installed tooling can do.
type Capabilities struct {
	FFmpeg    ToolInfo  `json:"ffmpeg"`
	FFprobe   ToolInfo  `json:"ffprobe"`
	CanDecode bool      `json:"can_decode"`
	ProbedAt  time.Time `json:"probed_at"`
}

// Prober runs a capability probe.
type Prober interface {
	Probe(ctx context.Context) (*Capabilities, error)
}

// ToolProber runs `<tool> -version` for ffmpeg and ffprobe.
type ToolProber struct {
	FFmpegPath  string
	FFprobePath string
	Timeout     time.Duration
	Logger      *slog.Logger
}

// Probe reports tool availability. It only errors when neither tool could be
// executed at all.
func (p *ToolProber) Probe(ctx context.Context) (*Capabilities, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	caps := &Capabilities{
		FFmpeg:   p.probeTool(ctx, "ffmpeg", p.FFmpegPath),
		FFprobe:  p.probeTool(ctx, "ffprobe", p.FFprobePath),
		ProbedAt: time.Now(),
	}
	caps.CanDecode = caps.FFmpeg.Available && caps.FFprobe.Available

	if !caps.FFmpeg.Available && !caps.FFprobe.Available {
		return caps, fmt.Errorf("no video tooling available: %s", caps.FFmpeg.Error)
	}

	if p.Logger != nil {
		p.Logger.Info("doctor probe complete",
			"ffmpeg", caps.FFmpeg.Version,
			"ffprobe", caps.FFprobe.Version,
			"can_decode", caps.CanDecode,
		)
	}
	return caps, nil
}

func (p *ToolProber) probeTool(ctx context.Context, name, path string) ToolInfo {
	if path == "" {
		path = name
	}
	res := proc.Run(ctx, p.Logger, path, 4096, "-version")
	if err := res.Err(name); err != nil {
		return ToolInfo{Path: path, Error: err.Error()}
	}
	return ToolInfo{Available: true, Path: path, Version: ParseVersion(string(res.Stdout))}
}

// ParseVersion extracts the version token from the first line of
// `ffmpeg -version` output, e.g. "ffmpeg version 6.1.1-3ubuntu5 Copyright ...".
func ParseVersion(out string) string {
	line, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(line)
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return strings.TrimSpace(line)
}

// CachedDoctor wraps a Prober to cache results with a configurable TTL.
// This avoids spawning the tools on every status request.
type CachedDoctor struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor creates a caching wrapper around doctor probes.
func NewCachedDoctor(prober Prober, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		prober: prober,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe regardless of cache freshness.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.prober.Probe(ctx)
	if err != nil {
		d.logger.Warn("doctor probe failed", "error", err)
		// Return stale cache if available
		if d.cached != nil {
			d.logger.Info("returning stale capabilities cache")
			return d.cached, nil
		}
		return caps, err
	}

	d.cached = caps
	return caps, nil
}

// Invalidate clears the cached capabilities.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
