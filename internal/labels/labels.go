// Package labels holds the fixed crime class catalog: class order, fallback
// weights, the default class and the report text attached to each class.
package labels

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Class names in model output order.
const (
	Abuse   = "Abuse"
	Arrest  = "Arrest"
	Arson   = "Arson"
	Assault = "Assault"
)

// DefaultClass is returned whenever the pipeline fails.
const DefaultClass = Assault

// DefaultConfidence accompanies DefaultClass.
const DefaultConfidence = 0.7

const (
	summaryTemplate = "Suspected case of %s detected in the submitted video footage."
	recommendation  = "Further investigation is recommended by the concerned law enforcement authority."
)

var (
	ErrUnknownClass = errors.New("unknown class")
	ErrBadWeights   = errors.New("fallback weights must be non-negative with a positive sum")
)

var defaultDescriptions = map[string]string{
	Abuse: "The video appears to show an incident of abuse, where one person is exercising power or control over another. " +
		"Abuse can take many forms including physical, verbal, emotional, or psychological. " +
		"The behavior displayed indicates a pattern of harmful or controlling actions that may cause distress or harm to the victim. " +
		"Such incidents require immediate attention from authorities to protect the victim from further harm.",
	Arrest: "The footage shows what appears to be an arrest situation, where law enforcement officers are detaining an individual. " +
		"Standard arrest procedures typically involve restraining the subject, often with handcuffs, after informing them of their rights. " +
		"The video shows characteristics consistent with official police procedures during a lawful apprehension. " +
		"This requires proper documentation and processing through appropriate legal channels.",
	Arson: "The video contains evidence suggesting an arson incident, where fire was deliberately set to property. " +
		"Arson is characterized by intentional ignition of structures, vehicles, or other property, often leaving distinctive burn patterns and evidence of accelerants. " +
		"This serious offense endangers lives and property, requiring specialized investigation techniques by fire investigators and law enforcement.",
	Assault: "The footage depicts what appears to be an assault incident, where one or more individuals are engaged in physical violence against another person. " +
		"Assault is characterized by intentional physical contact or threatening behavior that puts the victim in fear of immediate harm. " +
		"The severity can range from minor altercations to serious attacks potentially causing significant injury.",
}

// Catalog is an immutable view of the class set. Safe for concurrent use.
type Catalog struct {
	classes      []string
	weights      []float64
	descriptions map[string]string
}

// Default returns the built-in catalog.
func Default() *Catalog {
	descs := make(map[string]string, len(defaultDescriptions))
	for k, v := range defaultDescriptions {
		descs[k] = v
	}
	return &Catalog{
		classes:      []string{Abuse, Arrest, Arson, Assault},
		weights:      []float64{0.22, 0.24, 0.23, 0.31},
		descriptions: descs,
	}
}

// Classes returns class names in model output order.
func (c *Catalog) Classes() []string {
	out := make([]string, len(c.classes))
	copy(out, c.classes)
	return out
}

// Len returns the number of classes.
func (c *Catalog) Len() int { return len(c.classes) }

// Name returns the class at index i.
func (c *Catalog) Name(i int) string { return c.classes[i] }

// Index returns the position of name, or -1.
func (c *Catalog) Index(name string) int {
	for i, n := range c.classes {
		if n == name {
			return i
		}
	}
	return -1
}

// Weights returns the fallback weights aligned with Classes.
func (c *Catalog) Weights() []float64 {
	out := make([]float64, len(c.weights))
	copy(out, c.weights)
	return out
}

// Description returns the long description for a class.
func (c *Catalog) Description(class string) string {
	if d, ok := c.descriptions[class]; ok {
		return d
	}
	return c.descriptions[DefaultClass]
}

// Summary returns the one-line summary for a class.
func (c *Catalog) Summary(class string) string {
	return fmt.Sprintf(summaryTemplate, class)
}

// Recommendation is the same for every class.
func (c *Catalog) Recommendation() string {
	return recommendation
}

// Override is the YAML shape of a labels file.
type Override struct {
	Descriptions map[string]string  `yaml:"descriptions"`
	Weights      map[string]float64 `yaml:"weights"`
}

// Load reads a YAML override and applies it on top of the built-in catalog.
// An empty path returns Default().
func Load(path string) (*Catalog, error) {
	cat := Default()
	if path == "" {
		return cat, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read labels file: %w", err)
	}

	var ov Override
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return nil, fmt.Errorf("parse labels file: %w", err)
	}

	if err := cat.apply(ov); err != nil {
		return nil, err
	}
	return cat, nil
}

func (c *Catalog) apply(ov Override) error {
	for name, desc := range ov.Descriptions {
		if c.Index(name) < 0 {
			return fmt.Errorf("%w: %q", ErrUnknownClass, name)
		}
		if strings.TrimSpace(desc) != "" {
			c.descriptions[name] = desc
		}
	}

	if len(ov.Weights) == 0 {
		return nil
	}

	weights := c.Weights()
	for name, w := range ov.Weights {
		i := c.Index(name)
		if i < 0 {
			return fmt.Errorf("%w: %q", ErrUnknownClass, name)
		}
		weights[i] = w
	}

	var sum float64
	for _, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return ErrBadWeights
		}
		sum += w
	}
	if sum <= 0 || math.IsInf(sum, 0) {
		return ErrBadWeights
	}
	c.weights = weights
	return nil
}
