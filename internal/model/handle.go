package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Brownie44l1/fish-api/internal/apperror"
	"github.com/Brownie44l1/fish-api/internal/decision"
	"github.com/Brownie44l1/fish-api/internal/preprocess"
)

// Loaded is the immutable state of a successfully loaded model.
type Loaded struct {
	Metadata Metadata
	Version  string
	Engine   *decision.Engine
	scorer   Scorer
}

// NewLoaded wraps an already opened scorer, for callers that manage the artifact themselves.
func NewLoaded(meta Metadata, version string, scorer Scorer) (*Loaded, error) {
	engine, err := decision.NewEngine(meta.Classes, meta.PositiveClass, meta.NegativeClass)
	if err != nil {
		return nil, err
	}
	return &Loaded{Metadata: meta, Version: version, Engine: engine, scorer: scorer}, nil
}

// Score runs the classifier and returns the classification vector only.
func (l *Loaded) Score(ctx context.Context, t *preprocess.Tensor) ([]float32, error) {
	out, err := l.scorer.Score(ctx, t)
	if err != nil {
		var appErr *apperror.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperror.Wrap(apperror.KindInference, err, "model run failed")
	}
	if len(out.Classification) != len(l.Metadata.Classes) {
		return nil, apperror.Newf(apperror.KindInference,
			"model returned %d scores for %d classes", len(out.Classification), len(l.Metadata.Classes))
	}
	return out.Classification, nil
}

// HandleConfig tells a Handle where the artifact lives and how to open it.
type HandleConfig struct {
	ModelPath    string
	MetadataPath string
	// Lazy lets the first Get perform the load instead of requiring an explicit Load.
	Lazy    bool
	Factory ScorerFactory
}

// Handle owns the process-wide classifier. The artifact is loaded at most
// once; a failed load is remembered and reported on every later use.
type Handle struct {
	cfg HandleConfig

	mu        sync.Mutex
	attempted bool
	loaded    *Loaded
	err       error
}

func NewHandle(cfg HandleConfig) *Handle {
	return &Handle{cfg: cfg}
}

// Load opens the artifact. Concurrent and repeated calls share one attempt.
func (h *Handle) Load(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.attempted {
		return h.err
	}
	h.attempted = true
	h.loaded, h.err = h.load(ctx)
	return h.err
}

func (h *Handle) load(ctx context.Context) (*Loaded, error) {
	if h.cfg.Factory == nil {
		return nil, errors.New("no scorer factory configured")
	}

	meta, err := LoadMetadata(h.cfg.MetadataPath)
	if err != nil {
		return nil, err
	}

	version, err := ArtifactVersion(h.cfg.ModelPath)
	if err != nil {
		return nil, err
	}

	scorer, err := h.cfg.Factory(ctx, h.cfg.ModelPath, &meta)
	if err != nil {
		return nil, fmt.Errorf("failed to open model %s: %w", h.cfg.ModelPath, err)
	}

	loaded, err := NewLoaded(meta, version, scorer)
	if err != nil {
		_ = scorer.Close()
		return nil, err
	}
	return loaded, nil
}

// Get returns the loaded model. In lazy mode the first call loads it;
// otherwise calling Get before Load is a precondition failure.
func (h *Handle) Get(ctx context.Context) (*Loaded, error) {
	h.mu.Lock()
	attempted := h.attempted
	h.mu.Unlock()

	if !attempted {
		if !h.cfg.Lazy {
			return nil, apperror.New(apperror.KindModelNotLoaded, "model was never loaded")
		}
		_ = h.Load(ctx)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, apperror.Wrap(apperror.KindModelNotLoaded, h.err, "model failed to load")
	}
	return h.loaded, nil
}

// Ready reports whether the model loaded successfully.
func (h *Handle) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loaded != nil
}

func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.loaded == nil {
		return nil
	}
	return h.loaded.scorer.Close()
}
