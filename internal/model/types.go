package model

import (
	"context"

	"github.com/Brownie44l1/fish-api/internal/preprocess"
)

// Layout is the memory order the artifact expects for its image input.
type Layout string

const (
	LayoutAuto Layout = ""
	LayoutNHWC Layout = "nhwc"
	LayoutNCHW Layout = "nchw"
)

// Metadata describes the classifier artifact. It is read from an optional
// sidecar file next to the model; missing fields fall back to defaults.
type Metadata struct {
	Classes       []string `json:"classes" yaml:"classes"`
	ImageSize     int      `json:"image_size" yaml:"image_size"`
	PositiveClass string   `json:"positive_class" yaml:"positive_class"`
	NegativeClass string   `json:"negative_class" yaml:"negative_class"`
	InputName     string   `json:"input_name" yaml:"input_name"`
	OutputName    string   `json:"output_name" yaml:"output_name"`
	Layout        Layout   `json:"layout" yaml:"layout"`
}

// Output is what a scorer produces for one image. Classification is the
// class-probability vector; Auxiliary holds any extra heads (boxes, masks)
// the artifact emits after it. Only Classification is used downstream.
type Output struct {
	Classification []float32
	Auxiliary      [][]float32
}

// HasAuxiliary reports whether the artifact produced more than the classification head.
func (o Output) HasAuxiliary() bool {
	return len(o.Auxiliary) > 0
}

// Scorer runs the classifier on a preprocessed tensor.
// Implementations must be safe for concurrent use.
type Scorer interface {
	Score(ctx context.Context, t *preprocess.Tensor) (Output, error)
	Close() error
}

// ScorerFactory builds the scorer for an artifact. It is invoked at most once per Handle.
type ScorerFactory func(ctx context.Context, path string, meta *Metadata) (Scorer, error)
