package c3d

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	weightsFormat  = "c3d-weights"
	weightsVersion = 1
)

// ErrWeightsMismatch is returned when a weights file does not fit the topology.
var ErrWeightsMismatch = errors.New("weights do not match model topology")

// weightsFile is the msgpack document stored on disk. Tensor names and
// shapes follow the PyTorch state dict of the same network.
type weightsFile struct {
	Format  string            `msgpack:"format"`
	Version int               `msgpack:"version"`
	Tensors []fileTensor      `msgpack:"tensors"`
	Meta    map[string]string `msgpack:"meta,omitempty"`
}

type fileTensor struct {
	Name  string `msgpack:"name"`
	Shape []int  `msgpack:"shape"`
	// Data holds float32 values, little-endian.
	Data []byte `msgpack:"data"`
}

// WriteWeights encodes every parameter of m to w.
func (m *Model) WriteWeights(w io.Writer, meta map[string]string) error {
	doc := weightsFile{Format: weightsFormat, Version: weightsVersion, Meta: meta}
	for _, name := range m.ParamNames() {
		p := m.params[name]
		buf := make([]byte, 4*len(p.Data))
		for i, v := range p.Data {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
		}
		doc.Tensors = append(doc.Tensors, fileTensor{Name: name, Shape: p.Shape, Data: buf})
	}
	if err := msgpack.NewEncoder(w).Encode(&doc); err != nil {
		return fmt.Errorf("encode weights: %w", err)
	}
	return nil
}

// ReadWeights replaces the parameters of m with those decoded from r.
// Every parameter must be present with its exact shape, and no unknown
// tensors may appear. On error m is left unchanged.
func (m *Model) ReadWeights(r io.Reader) error {
	var doc weightsFile
	if err := msgpack.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("decode weights: %w", err)
	}
	if doc.Format != weightsFormat {
		return fmt.Errorf("%w: format %q, want %q", ErrWeightsMismatch, doc.Format, weightsFormat)
	}
	if doc.Version != weightsVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrWeightsMismatch, doc.Version)
	}

	loaded := make(map[string][]float32, len(doc.Tensors))
	for _, t := range doc.Tensors {
		p, ok := m.params[t.Name]
		if !ok {
			return fmt.Errorf("%w: unexpected tensor %q", ErrWeightsMismatch, t.Name)
		}
		if !slices.Equal(p.Shape, t.Shape) {
			return fmt.Errorf("%w: %s has shape %v, want %v", ErrWeightsMismatch, t.Name, t.Shape, p.Shape)
		}
		if len(t.Data) != 4*len(p.Data) {
			return fmt.Errorf("%w: %s has %d bytes, want %d", ErrWeightsMismatch, t.Name, len(t.Data), 4*len(p.Data))
		}
		vals := make([]float32, len(p.Data))
		for i := range vals {
			vals[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[4*i:]))
		}
		loaded[t.Name] = vals
	}
	for name := range m.params {
		if _, ok := loaded[name]; !ok {
			return fmt.Errorf("%w: missing tensor %q", ErrWeightsMismatch, name)
		}
	}

	for name, vals := range loaded {
		m.params[name].Data = vals
	}
	return nil
}

// SaveFile writes the weights to path atomically.
func (m *Model) SaveFile(path string, meta map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create weights dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create weights file: %w", err)
	}
	bw := bufio.NewWriter(f)
	if err := m.WriteWeights(bw, meta); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write weights file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close weights file: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadFile reads weights from path. A missing file yields an error matching
// fs.ErrNotExist.
func (m *Model) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return m.ReadWeights(bufio.NewReader(f))
}
