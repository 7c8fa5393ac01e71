// Package c3d implements the C3D 3D-convolutional network as a declarative
// list of layers evaluated by a single generic forward loop.
package c3d

import "fmt"

// Kind identifies a layer operation.
type Kind int

const (
	KindConv3D Kind = iota
	KindMaxPool3D
	KindReLU
	KindFlatten
	KindLinear
	KindDropout
)

func (k Kind) String() string {
	switch k {
	case KindConv3D:
		return "conv3d"
	case KindMaxPool3D:
		return "maxpool3d"
	case KindReLU:
		return "relu"
	case KindFlatten:
		return "flatten"
	case KindLinear:
		return "linear"
	case KindDropout:
		return "dropout"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Triple is a (time, height, width) size.
type Triple [3]int

// Layer is one step of the network. Only the fields relevant to Kind are set.
type Layer struct {
	Kind Kind
	// Name prefixes the parameter names of Conv3D and Linear layers.
	Name    string
	In, Out int
	Kernel  Triple
	Stride  Triple
	Padding Triple
	// P is the dropout probability.
	P float64
}

// Conv is a 3×3×3 convolution with stride 1 and padding 1.
func Conv(name string, in, out int) Layer {
	return Layer{
		Kind:    KindConv3D,
		Name:    name,
		In:      in,
		Out:     out,
		Kernel:  Triple{3, 3, 3},
		Stride:  Triple{1, 1, 1},
		Padding: Triple{1, 1, 1},
	}
}

// Pool is a 3D max-pool.
func Pool(kernel, stride, padding Triple) Layer {
	return Layer{Kind: KindMaxPool3D, Kernel: kernel, Stride: stride, Padding: padding}
}

func ReLU() Layer    { return Layer{Kind: KindReLU} }
func Flatten() Layer { return Layer{Kind: KindFlatten} }

// Linear is a fully connected layer.
func Linear(name string, in, out int) Layer {
	return Layer{Kind: KindLinear, Name: name, In: in, Out: out}
}

func Dropout(p float64) Layer { return Layer{Kind: KindDropout, P: p} }

// InputChannels is the channel count expected by DefaultFeatures.
const InputChannels = 3

// EmbeddingSize is the output length of DefaultFeatures.
const EmbeddingSize = 4096

// DefaultFeatures is the C3D feature extractor up to fc7, for 16×112×112 clips.
func DefaultFeatures() []Layer {
	same := Triple{0, 0, 0}
	return []Layer{
		Conv("c3d.conv1", 3, 64), ReLU(),
		Pool(Triple{1, 2, 2}, Triple{1, 2, 2}, same),

		Conv("c3d.conv2", 64, 128), ReLU(),
		Pool(Triple{2, 2, 2}, Triple{2, 2, 2}, same),

		Conv("c3d.conv3a", 128, 256), ReLU(),
		Conv("c3d.conv3b", 256, 256), ReLU(),
		Pool(Triple{2, 2, 2}, Triple{2, 2, 2}, same),

		Conv("c3d.conv4a", 256, 512), ReLU(),
		Conv("c3d.conv4b", 512, 512), ReLU(),
		Pool(Triple{2, 2, 2}, Triple{2, 2, 2}, same),

		Conv("c3d.conv5a", 512, 512), ReLU(),
		Conv("c3d.conv5b", 512, 512), ReLU(),
		Pool(Triple{2, 2, 2}, Triple{2, 2, 2}, Triple{0, 1, 1}),

		Flatten(),
		Linear("c3d.fc6", 8192, 4096), ReLU(), Dropout(0.5),
		Linear("c3d.fc7", 4096, 4096), ReLU(), Dropout(0.5),
	}
}

// DefaultHead is the fc8 classifier mapping the embedding to class logits.
func DefaultHead(classes int) []Layer {
	return []Layer{Linear("fc8", EmbeddingSize, classes)}
}

// OutputShape returns the shape layer produces for input shape in.
// It panics when in is incompatible with the layer.
func (l Layer) OutputShape(in []int) []int {
	switch l.Kind {
	case KindConv3D, KindMaxPool3D:
		if len(in) != 4 {
			panic(fmt.Sprintf("c3d: %s %s expects [C,T,H,W], got %v", l.Kind, l.Name, in))
		}
		c := in[0]
		if l.Kind == KindConv3D {
			if c != l.In {
				panic(fmt.Sprintf("c3d: %s expects %d input channels, got %d", l.Name, l.In, c))
			}
			c = l.Out
		}
		out := []int{c, 0, 0, 0}
		for d := 0; d < 3; d++ {
			n := (in[d+1]+2*l.Padding[d]-l.Kernel[d])/l.Stride[d] + 1
			if n <= 0 {
				panic(fmt.Sprintf("c3d: %s %s reduces dimension %d of %v to %d", l.Kind, l.Name, d+1, in, n))
			}
			out[d+1] = n
		}
		return out
	case KindFlatten:
		n := 1
		for _, v := range in {
			n *= v
		}
		return []int{n}
	case KindLinear:
		if len(in) != 1 || in[0] != l.In {
			panic(fmt.Sprintf("c3d: %s expects [%d], got %v", l.Name, l.In, in))
		}
		return []int{l.Out}
	case KindReLU, KindDropout:
		return append([]int(nil), in...)
	default:
		panic(fmt.Sprintf("c3d: unknown layer kind %v", l.Kind))
	}
}

// OutputShape folds layers over the input shape.
func OutputShape(layers []Layer, in []int) []int {
	shape := append([]int(nil), in...)
	for _, l := range layers {
		shape = l.OutputShape(shape)
	}
	return shape
}

// paramShapes lists the weight and bias shapes a layer owns, matching the
// PyTorch state-dict layout.
func (l Layer) paramShapes() (weight, bias []int, ok bool) {
	switch l.Kind {
	case KindConv3D:
		return []int{l.Out, l.In, l.Kernel[0], l.Kernel[1], l.Kernel[2]}, []int{l.Out}, true
	case KindLinear:
		return []int{l.Out, l.In}, []int{l.Out}, true
	default:
		return nil, nil, false
	}
}

// fanIn is the number of inputs contributing to one output unit.
func (l Layer) fanIn() int {
	if l.Kind == KindConv3D {
		return l.In * l.Kernel[0] * l.Kernel[1] * l.Kernel[2]
	}
	return l.In
}
