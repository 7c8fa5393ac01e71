package detect

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/crimewatch/crimewatch/internal/c3d"
)

// ModelState says where the model parameters came from.
type ModelState string

const (
	StateLoaded     ModelState = "loaded"
	StateRandomInit ModelState = "random_init"
	StateLoadFailed ModelState = "load_failed"
	StateONNX       ModelState = "onnx"
)

// Model maps a [C,T,H,W] clip tensor to class logits.
type Model interface {
	Logits(ctx context.Context, x *tensor.Dense) ([]float32, error)
	Close() error
}

// NativeModel runs the pure-Go C3D network.
type NativeModel struct {
	net *c3d.Model
}

func NewNativeModel(net *c3d.Model) *NativeModel {
	return &NativeModel{net: net}
}

func (m *NativeModel) Logits(ctx context.Context, x *tensor.Dense) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.net.Forward(x, c3d.Inference, nil), nil
}

func (m *NativeModel) Close() error { return nil }

// ONNX tensor names of an exported C3D classifier.
const (
	onnxInputName  = "input"
	onnxOutputName = "output"
)

var ortInit struct {
	once sync.Once
	err  error
}

// ONNXModel runs an exported classifier through onnxruntime.
type ONNXModel struct {
	session *ort.DynamicAdvancedSession
	classes int
}

// NewONNXModel creates a dynamic session for modelPath. libPath points at the
// onnxruntime shared library; empty uses the library default.
func NewONNXModel(modelPath, libPath string, classes int) (*ONNXModel, error) {
	ortInit.once.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortInit.err = ort.InitializeEnvironment()
	})
	if ortInit.err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", ortInit.err)
	}

	sess, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{onnxInputName}, []string{onnxOutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &ONNXModel{session: sess, classes: classes}, nil
}

func (m *ONNXModel) Logits(ctx context.Context, x *tensor.Dense) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := x.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("input tensor must be float32, got %T", x.Data())
	}

	shape := make([]int64, 0, 5)
	if len(x.Shape()) == 4 {
		shape = append(shape, 1)
	}
	for _, d := range x.Shape() {
		shape = append(shape, int64(d))
	}

	input, err := ort.NewTensor(ort.NewShape(shape...), data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(m.classes)))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer output.Destroy()

	if err := m.session.Run([]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}); err != nil {
		return nil, fmt.Errorf("onnx inference failed: %w", err)
	}

	logits := make([]float32, m.classes)
	copy(logits, output.GetData())
	return logits, nil
}

func (m *ONNXModel) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}

// LoadConfig selects and configures the model backend.
type LoadConfig struct {
	WeightsPath    string
	ONNXModelPath  string
	ONNXRuntimeLib string
	Classes        int
	// Seed initialises random parameters when no weights file exists.
	Seed    uint64
	HasSeed bool
}

// LoadModel picks the ONNX backend when a model path is configured and the
// native network otherwise. A missing weights file falls back to random
// parameters. A weights file that exists but cannot be loaded yields
// StateLoadFailed, a nil Model and the load error.
func LoadModel(cfg LoadConfig, logger *slog.Logger) (Model, ModelState, error) {
	if cfg.ONNXModelPath != "" {
		m, err := NewONNXModel(cfg.ONNXModelPath, cfg.ONNXRuntimeLib, cfg.Classes)
		if err != nil {
			logger.Error("onnx model load failed", "path", cfg.ONNXModelPath, "error", err)
			return nil, StateLoadFailed, err
		}
		logger.Info("onnx model loaded", "path", cfg.ONNXModelPath)
		return m, StateONNX, nil
	}

	net := c3d.NewDefault(cfg.Classes)
	err := net.LoadFile(cfg.WeightsPath)
	switch {
	case err == nil:
		logger.Info("model weights loaded", "path", cfg.WeightsPath)
		return NewNativeModel(net), StateLoaded, nil
	case errors.Is(err, fs.ErrNotExist):
		seed := cfg.Seed
		if !cfg.HasSeed {
			seed = rand.Uint64()
		}
		net.Init(seed)
		logger.Warn("model weights not found, using random initialisation; predictions are not meaningful",
			"path", cfg.WeightsPath)
		return NewNativeModel(net), StateRandomInit, nil
	default:
		logger.Error("model weights load failed", "path", cfg.WeightsPath, "error", err)
		return nil, StateLoadFailed, fmt.Errorf("load weights %s: %w", cfg.WeightsPath, err)
	}
}
