// Package detect runs the crime classification pipeline: frame sampling,
// tensor transform, model inference and the prediction policy.
package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"

	"github.com/crimewatch/crimewatch/internal/labels"
	"github.com/crimewatch/crimewatch/internal/transform"
	"github.com/crimewatch/crimewatch/internal/video"
)

// Status classifies how an Outcome was produced.
type Status string

const (
	StatusOK            Status = "ok"
	StatusLowConfidence Status = "low_confidence"
	StatusDegraded      Status = "degraded"
)

// Outcome is a prediction plus how it was obtained. Predict always returns
// one; failures are reported through Status and Reason.
type Outcome struct {
	CrimeType      string     `json:"crime_type"`
	Confidence     float64    `json:"confidence"`
	Description    string     `json:"description"`
	Summary        string     `json:"summary"`
	Recommendation string     `json:"recommendation"`
	Status         Status     `json:"status"`
	Reason         string     `json:"reason,omitempty"`
	ModelState     ModelState `json:"model_state"`
	FramesDecoded  int        `json:"frames_decoded"`
}

// Degraded reports whether the outcome is the fixed failure answer.
func (o Outcome) Degraded() bool { return o.Status == StatusDegraded }

// Config holds the predictor's dependencies.
type Config struct {
	Decoder video.Decoder
	Model   Model
	State   ModelState
	// LoadErr is set when State is StateLoadFailed.
	LoadErr error
	Catalog *labels.Catalog
	Sample  video.Options
	// Seed makes every Predict call draw from a fresh source seeded with it.
	Seed    uint64
	HasSeed bool
	Logger  *slog.Logger
}

var errNoDecoder = errors.New("no video decoder configured")

// Predictor is safe for concurrent use. Each call gets its own random source.
type Predictor struct {
	decoder   video.Decoder
	model     Model
	state     ModelState
	loadErr   error
	catalog   *labels.Catalog
	policy    Policy
	transform transform.Transform
	sample    video.Options
	seed      uint64
	hasSeed   bool
	logger    *slog.Logger
}

// NewPredictor builds a Predictor. A nil Catalog uses labels.Default().
func NewPredictor(cfg Config) *Predictor {
	if cfg.Catalog == nil {
		cfg.Catalog = labels.Default()
	}
	if cfg.Sample.Frames == 0 {
		cfg.Sample = video.DefaultOptions()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Predictor{
		decoder:   cfg.Decoder,
		model:     cfg.Model,
		state:     cfg.State,
		loadErr:   cfg.LoadErr,
		catalog:   cfg.Catalog,
		policy:    NewPolicy(cfg.Catalog),
		transform: transform.New(cfg.Sample.Resolution),
		sample:    cfg.Sample,
		seed:      cfg.Seed,
		hasSeed:   cfg.HasSeed,
		logger:    logger,
	}
}

// ModelState reports where the parameters came from.
func (p *Predictor) ModelState() ModelState { return p.state }

// Catalog returns the class catalog.
func (p *Predictor) Catalog() *labels.Catalog { return p.catalog }

func (p *Predictor) newRand() *rand.Rand {
	if p.hasSeed {
		return rand.New(rand.NewPCG(p.seed, p.seed))
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// Predict samples source and classifies it. It never fails: a source that
// yields no frames, or no decoder at all, is classified as a blank clip and
// answered with the low-confidence fallback. Any other failure yields the
// default class with StatusDegraded.
func (p *Predictor) Predict(ctx context.Context, source string) (out Outcome) {
	defer p.recoverInto(&out)

	if err := p.unavailable(); err != nil {
		return p.degraded(err, 0)
	}

	var (
		clip  video.Clip
		stats video.SampleStats
	)
	if p.decoder == nil {
		clip = video.BlankClip(p.sample.Frames, p.sample.Resolution)
		stats = video.SampleStats{Blank: true, Padded: p.sample.Frames, Err: errNoDecoder}
	} else {
		clip, stats = video.SampleClip(ctx, p.decoder, source, p.sample)
	}
	if stats.Err != nil {
		p.logger.Warn("video decode incomplete",
			"decoded", stats.Decoded,
			"blank", stats.Blank,
			"error", stats.Err,
		)
	}
	out = p.classify(ctx, clip, stats.Blank)
	out.FramesDecoded = stats.Decoded
	return out
}

// PredictClip classifies an already sampled clip.
func (p *Predictor) PredictClip(ctx context.Context, clip video.Clip) (out Outcome) {
	defer p.recoverInto(&out)

	if err := p.unavailable(); err != nil {
		return p.degraded(err, clip.Len())
	}
	out = p.classify(ctx, clip, false)
	out.FramesDecoded = clip.Len()
	return out
}

func (p *Predictor) unavailable() error {
	switch {
	case p.loadErr != nil:
		return fmt.Errorf("model unavailable: %w", p.loadErr)
	case p.state == StateLoadFailed || p.model == nil:
		return errors.New("model unavailable")
	}
	return nil
}

// classify runs the model on clip. Blank clips still go through the model
// but their logits carry no evidence, so the fallback answers instead.
func (p *Predictor) classify(ctx context.Context, clip video.Clip, blank bool) Outcome {
	x := p.transform.Clip(clip)
	logits, err := p.model.Logits(ctx, x)
	if err != nil {
		return p.degraded(fmt.Errorf("inference: %w", err), 0)
	}

	rng := p.newRand()
	var (
		d      Decision
		reason string
	)
	if blank {
		d, reason = p.policy.Fallback(rng), "no frames decoded from source"
		if p.decoder == nil {
			reason = errNoDecoder.Error()
		}
	} else {
		d = p.policy.Decide(logits, rng)
		if d.Status == StatusLowConfidence {
			reason = "model confidence below threshold"
		}
	}

	out := p.outcome(d)
	if d.Status == StatusLowConfidence {
		out.Reason = reason
		p.logger.Info("low confidence prediction replaced", "class", d.Class, "reason", reason, "state", p.state)
	}
	return out
}

func (p *Predictor) outcome(d Decision) Outcome {
	return Outcome{
		CrimeType:      d.Class,
		Confidence:     d.Confidence,
		Description:    p.catalog.Description(d.Class),
		Summary:        p.catalog.Summary(d.Class),
		Recommendation: p.catalog.Recommendation(),
		Status:         d.Status,
		ModelState:     p.state,
	}
}

func (p *Predictor) degraded(err error, frames int) Outcome {
	p.logger.Error("prediction failed, returning default", "error", err)
	out := p.outcome(p.policy.Default())
	out.Reason = err.Error()
	out.FramesDecoded = frames
	return out
}

func (p *Predictor) recoverInto(out *Outcome) {
	if r := recover(); r != nil {
		p.logger.Error("prediction panicked", "panic", r, "stack", string(debug.Stack()))
		*out = p.degraded(fmt.Errorf("panic: %v", r), 0)
	}
}

// Close releases the model backend.
func (p *Predictor) Close() error {
	if p.model == nil {
		return nil
	}
	return p.model.Close()
}
