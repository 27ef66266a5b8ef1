package model

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/fish-api/internal/preprocess"
)

var envMu sync.Mutex

// ONNXScorer runs a classifier artifact through ONNX Runtime. Input and output
// tensors are bound to the session, so runs are serialized.
type ONNXScorer struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
	layout  Layout
	size    int
}

// ONNXFactory returns a ScorerFactory that uses the shared library at libPath
// (empty means the platform default lookup).
func ONNXFactory(libPath string) ScorerFactory {
	return func(ctx context.Context, path string, meta *Metadata) (Scorer, error) {
		return NewONNXScorer(path, meta, libPath)
	}
}

func NewONNXScorer(modelPath string, meta *Metadata, libPath string) (*ONNXScorer, error) {
	if err := initEnvironment(libPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect model: %w", err)
	}

	in, err := pickInput(inputs, meta)
	if err != nil {
		return nil, err
	}
	layout, inputShape, err := resolveInputShape(in.Dimensions, meta)
	if err != nil {
		return nil, err
	}

	outNames, outShapes, err := pickOutputs(outputs, meta)
	if err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	s := &ONNXScorer{input: inputTensor, layout: layout, size: meta.ImageSize}
	bound := make([]ort.ArbitraryTensor, 0, len(outShapes))
	for _, shape := range outShapes {
		t, err := ort.NewEmptyTensor[float32](shape)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create output tensor: %w", err)
		}
		s.outputs = append(s.outputs, t)
		bound = append(bound, t)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{in.Name}, outNames,
		[]ort.ArbitraryTensor{inputTensor}, bound,
		nil)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	s.session = session

	return s, nil
}

func (s *ONNXScorer) Score(ctx context.Context, t *preprocess.Tensor) (Output, error) {
	if t.Size != s.size {
		return Output{}, fmt.Errorf("tensor size %d does not match model input %d", t.Size, s.size)
	}
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	data := t.Data
	if s.layout == LayoutNCHW {
		data = t.NCHW()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy(s.input.GetData(), data)
	if err := s.session.Run(); err != nil {
		return Output{}, fmt.Errorf("inference failed: %w", err)
	}

	out := Output{Classification: firstRow(s.outputs[0])}
	for _, aux := range s.outputs[1:] {
		out.Auxiliary = append(out.Auxiliary, append([]float32(nil), aux.GetData()...))
	}
	return out, nil
}

func (s *ONNXScorer) Close() error {
	if s.input != nil {
		s.input.Destroy()
	}
	for _, t := range s.outputs {
		t.Destroy()
	}
	if s.session != nil {
		s.session.Destroy()
	}

	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return ort.DestroyEnvironment()
	}
	return nil
}

func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

func pickInput(inputs []ort.InputOutputInfo, meta *Metadata) (ort.InputOutputInfo, error) {
	if len(inputs) == 0 {
		return ort.InputOutputInfo{}, fmt.Errorf("model declares no inputs")
	}
	if meta.InputName == "" {
		return inputs[0], nil
	}
	for _, in := range inputs {
		if in.Name == meta.InputName {
			return in, nil
		}
	}
	return ort.InputOutputInfo{}, fmt.Errorf("model has no input named %q", meta.InputName)
}

// resolveInputShape substitutes concrete values for dynamic dimensions and
// works out whether the artifact is channel-first or channel-last.
func resolveInputShape(dims ort.Shape, meta *Metadata) (Layout, ort.Shape, error) {
	if len(dims) != 4 {
		return "", nil, fmt.Errorf("expected a 4-d image input, model declares %v", dims)
	}

	layout := meta.Layout
	if layout == LayoutAuto {
		layout = LayoutNHWC
		if dims[1] == preprocess.Channels && dims[3] != preprocess.Channels {
			layout = LayoutNCHW
		}
	}

	h, w := dims[1], dims[2]
	if layout == LayoutNCHW {
		h, w = dims[2], dims[3]
	}
	for _, d := range []int64{h, w} {
		if d > 0 && d != int64(meta.ImageSize) {
			return "", nil, fmt.Errorf("model expects %dx%d input, metadata says %d", h, w, meta.ImageSize)
		}
	}

	size := int64(meta.ImageSize)
	if layout == LayoutNCHW {
		return layout, ort.NewShape(1, preprocess.Channels, size, size), nil
	}
	return layout, ort.NewShape(1, size, size, preprocess.Channels), nil
}

// pickOutputs puts the classification head first, followed by any auxiliary
// heads with fully static shapes. Heads with other dynamic dimensions are not
// requested from the session.
func pickOutputs(outputs []ort.InputOutputInfo, meta *Metadata) ([]string, []ort.Shape, error) {
	if len(outputs) == 0 {
		return nil, nil, fmt.Errorf("model declares no outputs")
	}

	primary := 0
	if meta.OutputName != "" {
		primary = -1
		for i, o := range outputs {
			if o.Name == meta.OutputName {
				primary = i
				break
			}
		}
		if primary < 0 {
			return nil, nil, fmt.Errorf("model has no output named %q", meta.OutputName)
		}
	}

	classShape := batchOne(outputs[primary].Dimensions)
	if last := len(classShape) - 1; last > 0 && classShape[last] <= 0 {
		classShape[last] = int64(len(meta.Classes))
	}
	if n := classShape.FlattenedSize(); n != int64(len(meta.Classes)) {
		return nil, nil, fmt.Errorf("classification output %q has %d values, expected %d classes",
			outputs[primary].Name, n, len(meta.Classes))
	}

	names := []string{outputs[primary].Name}
	shapes := []ort.Shape{classShape}
	for i, o := range outputs {
		if i == primary || o.DataType != ort.TensorElementDataTypeFloat {
			continue
		}
		shape := batchOne(o.Dimensions)
		if !static(shape) {
			continue
		}
		names = append(names, o.Name)
		shapes = append(shapes, shape)
	}
	return names, shapes, nil
}

func batchOne(dims ort.Shape) ort.Shape {
	shape := dims.Clone()
	if len(shape) > 0 && shape[0] <= 0 {
		shape[0] = 1
	}
	return shape
}

func static(shape ort.Shape) bool {
	for _, d := range shape {
		if d <= 0 {
			return false
		}
	}
	return true
}

func firstRow(t *ort.Tensor[float32]) []float32 {
	data := t.GetData()
	shape := t.GetShape()
	n := int64(len(data))
	if len(shape) > 1 && shape[0] > 0 {
		n = int64(len(data)) / shape[0]
	}
	return append([]float32(nil), data[:n]...)
}
