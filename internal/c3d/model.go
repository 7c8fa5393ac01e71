package c3d

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gorgonia.org/tensor"
)

// Mode switches layers whose behaviour differs between training and serving.
type Mode int

const (
	Inference Mode = iota
	Training
)

// Param is a named parameter tensor.
type Param struct {
	Shape []int
	Data  []float32
}

// Model is the feature network plus the classifier head. Parameters are
// read-only after construction or load, so a Model is safe for concurrent
// Forward calls.
type Model struct {
	Features []Layer
	Head     []Layer
	params   map[string]*Param
}

// New allocates zeroed parameters for the given topology.
func New(features, head []Layer) *Model {
	m := &Model{Features: features, Head: head, params: make(map[string]*Param)}
	for _, l := range m.layers() {
		w, b, ok := l.paramShapes()
		if !ok {
			continue
		}
		if _, dup := m.params[l.Name+".weight"]; dup {
			panic(fmt.Sprintf("c3d: duplicate layer name %q", l.Name))
		}
		m.params[l.Name+".weight"] = &Param{Shape: w, Data: make([]float32, volume(w))}
		m.params[l.Name+".bias"] = &Param{Shape: b, Data: make([]float32, volume(b))}
	}
	return m
}

// NewDefault returns the standard C3D topology with a classes-way head.
func NewDefault(classes int) *Model {
	return New(DefaultFeatures(), DefaultHead(classes))
}

func (m *Model) layers() []Layer {
	all := make([]Layer, 0, len(m.Features)+len(m.Head))
	all = append(all, m.Features...)
	return append(all, m.Head...)
}

// Init fills every parameter from uniform(-1/sqrt(fan_in), 1/sqrt(fan_in)),
// the PyTorch default for Conv3d and Linear.
func (m *Model) Init(seed uint64) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	for _, l := range m.layers() {
		if _, _, ok := l.paramShapes(); !ok {
			continue
		}
		bound := 1 / math.Sqrt(float64(l.fanIn()))
		for _, suffix := range []string{".weight", ".bias"} {
			p := m.params[l.Name+suffix]
			for i := range p.Data {
				p.Data[i] = float32((rng.Float64()*2 - 1) * bound)
			}
		}
	}
}

// ParamNames returns parameter names in sorted order.
func (m *Model) ParamNames() []string {
	names := make([]string, 0, len(m.params))
	for n := range m.params {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Param returns the named parameter, or nil.
func (m *Model) Param(name string) *Param {
	return m.params[name]
}

// Classes is the output width of the head.
func (m *Model) Classes() int {
	for i := len(m.Head) - 1; i >= 0; i-- {
		if m.Head[i].Kind == KindLinear {
			return m.Head[i].Out
		}
	}
	return 0
}

// Embed runs the feature network on a [C,T,H,W] or [1,C,T,H,W] tensor and
// returns the embedding.
func (m *Model) Embed(x *tensor.Dense, mode Mode, rng *rand.Rand) []float32 {
	return m.apply(m.Features, input(x), mode, rng).data
}

// Forward runs the full model and returns the class logits.
func (m *Model) Forward(x *tensor.Dense, mode Mode, rng *rand.Rand) []float32 {
	return m.apply(m.layers(), input(x), mode, rng).data
}

// input copies the tensor so layers may work in place.
func input(x *tensor.Dense) activation {
	shape := []int(x.Shape())
	if len(shape) == 5 {
		if shape[0] != 1 {
			panic(fmt.Sprintf("c3d: batch size %d not supported, want 1", shape[0]))
		}
		shape = shape[1:]
	}
	if len(shape) != 4 {
		panic(fmt.Sprintf("c3d: input must be [C,T,H,W], got %v", x.Shape()))
	}
	data, ok := x.Data().([]float32)
	if !ok {
		panic(fmt.Sprintf("c3d: input must be float32, got %T", x.Data()))
	}
	buf := make([]float32, len(data))
	copy(buf, data)
	return activation{shape: append([]int(nil), shape...), data: buf}
}

// apply is the generic forward loop over a layer list.
func (m *Model) apply(layers []Layer, x activation, mode Mode, rng *rand.Rand) activation {
	for _, l := range layers {
		switch l.Kind {
		case KindConv3D:
			x = conv3d(l, x, m.params[l.Name+".weight"].Data, m.params[l.Name+".bias"].Data)
		case KindMaxPool3D:
			x = maxPool3d(l, x)
		case KindReLU:
			x = relu(x)
		case KindFlatten:
			x.shape = l.OutputShape(x.shape)
		case KindLinear:
			x = linear(l, x, m.params[l.Name+".weight"].Data, m.params[l.Name+".bias"].Data)
		case KindDropout:
			if mode == Training {
				if rng == nil {
					panic("c3d: training mode dropout needs a random source")
				}
				x = dropout(l.P, x, rng)
			}
		default:
			panic(fmt.Sprintf("c3d: unknown layer kind %v", l.Kind))
		}
	}
	return x
}
