package detect

import (
	"math"
	"math/rand/v2"

	"github.com/crimewatch/crimewatch/internal/labels"
)

const (
	// LowConfidenceThreshold is the softmax probability below which the
	// model's answer is replaced by a weighted-random class.
	LowConfidenceThreshold = 0.1

	fallbackConfidenceBase   = 0.65
	fallbackConfidenceSpread = 0.15
)

// Softmax returns the normalised exponentials of logits. NaN inputs
// propagate to the output.
func Softmax(logits []float32) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxv := math.Inf(-1)
	for _, v := range logits {
		if f := float64(v); f > maxv {
			maxv = f
		}
	}
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(float64(v) - maxv)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns the index and value of the largest element. NaN wins so
// that it reaches the confidence check.
func Argmax(probs []float64) (int, float64) {
	best, bestv := 0, math.Inf(-1)
	for i, p := range probs {
		if math.IsNaN(p) {
			return i, p
		}
		if p > bestv {
			best, bestv = i, p
		}
	}
	return best, bestv
}

// Decision is the policy's verdict on a set of logits.
type Decision struct {
	Class      string
	Confidence float64
	Status     Status
}

// Policy turns logits into a class and confidence.
type Policy struct {
	catalog *labels.Catalog
}

func NewPolicy(catalog *labels.Catalog) Policy {
	return Policy{catalog: catalog}
}

// Decide applies softmax and arg-max, substituting a weighted-random class
// when the confidence is NaN or below LowConfidenceThreshold.
func (p Policy) Decide(logits []float32, rng *rand.Rand) Decision {
	idx, conf := Argmax(Softmax(logits))
	if math.IsNaN(conf) || conf < LowConfidenceThreshold || idx >= p.catalog.Len() {
		return p.Fallback(rng)
	}
	return Decision{Class: p.catalog.Name(idx), Confidence: conf, Status: StatusOK}
}

// Fallback draws a class from the catalog weights with confidence in
// [0.65, 0.80).
func (p Policy) Fallback(rng *rand.Rand) Decision {
	weights := p.catalog.Weights()
	var total float64
	for _, w := range weights {
		total += w
	}
	u := rng.Float64() * total
	idx := len(weights) - 1
	var cum float64
	for i, w := range weights {
		cum += w
		if u < cum {
			idx = i
			break
		}
	}
	return Decision{
		Class:      p.catalog.Name(idx),
		Confidence: fallbackConfidenceBase + rng.Float64()*fallbackConfidenceSpread,
		Status:     StatusLowConfidence,
	}
}

// Default is the fixed answer for any pipeline failure.
func (p Policy) Default() Decision {
	return Decision{Class: labels.DefaultClass, Confidence: labels.DefaultConfidence, Status: StatusDegraded}
}
