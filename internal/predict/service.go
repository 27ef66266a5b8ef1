package predict

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Brownie44l1/fish-api/internal/apperror"
	"github.com/Brownie44l1/fish-api/internal/imageio"
	"github.com/Brownie44l1/fish-api/internal/model"
	"github.com/Brownie44l1/fish-api/internal/preprocess"
)

// ImageSource fetches or decodes the input image.
type ImageSource interface {
	FromURL(ctx context.Context, url string) (*imageio.Decoded, error)
	FromBase64(payload string) (*imageio.Decoded, error)
}

// ModelProvider hands out the loaded classifier.
type ModelProvider interface {
	Get(ctx context.Context) (*model.Loaded, error)
}

type Options struct {
	ThresholdMode    ThresholdMode
	DefaultThreshold *float64
	ThumbSize        int
}

// Service runs the prediction pipeline: validate, load image, preprocess,
// score, decide, thumbnail, assemble.
type Service struct {
	images ImageSource
	models ModelProvider
	opts   Options
	log    *zap.SugaredLogger
	now    func() time.Time
}

func NewService(images ImageSource, models ModelProvider, opts Options, log *zap.SugaredLogger) (*Service, error) {
	if opts.ThresholdMode == "" {
		opts.ThresholdMode = ThresholdRequest
	}
	if !opts.ThresholdMode.Valid() {
		return nil, fmt.Errorf("unknown threshold mode %q", opts.ThresholdMode)
	}
	if opts.ThresholdMode == ThresholdFixed && opts.DefaultThreshold == nil {
		return nil, errors.New("threshold mode \"fixed\" needs a default threshold")
	}
	if t := opts.DefaultThreshold; t != nil && !inUnitRange(*t) {
		return nil, fmt.Errorf("default threshold %v is outside [0, 1]", *t)
	}
	if opts.ThumbSize <= 0 {
		opts.ThumbSize = imageio.DefaultThumbSize
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{images: images, models: models, opts: opts, log: log, now: time.Now}, nil
}

// Predict classifies the image referenced by req. Every returned error is an *apperror.Error.
func (s *Service) Predict(ctx context.Context, req Request) (*Response, error) {
	start := s.now()
	requestID := RequestIDFromContext(ctx)
	log := s.log.With("request_id", requestID)

	if err := s.validate(req); err != nil {
		log.Infow("rejected request", "error", err)
		return nil, err
	}
	threshold := s.threshold(req)

	img, inputType, err := s.loadImage(ctx, req)
	if err != nil {
		log.Infow("image load failed", "input_type", inputType, "error", err)
		return nil, err
	}
	log.Debugw("image loaded", "input_type", inputType, "format", img.Format,
		"width", img.Width(), "height", img.Height())

	m, err := s.models.Get(ctx)
	if err != nil {
		log.Errorw("model unavailable", "error", err)
		return nil, err
	}

	tensor := preprocess.Tensorize(img.Image, m.Metadata.ImageSize)
	raw, err := m.Score(ctx, tensor)
	if err != nil {
		log.Errorw("scoring failed", "error", err)
		return nil, err
	}

	probs := make([]float64, len(raw))
	probMap := make(map[string]float64, len(raw))
	for i, p := range raw {
		probs[i] = round6(float64(p))
		probMap[m.Metadata.Classes[i]] = probs[i]
	}

	verdict, err := m.Engine.Decide(probs, threshold)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInference, err, "could not decide")
	}

	thumb, err := imageio.Thumbnail(img.Image, s.opts.ThumbSize)
	if err != nil {
		log.Errorw("thumbnail failed", "error", err)
		return nil, apperror.Wrap(apperror.KindInference, err, "could not encode thumbnail")
	}

	resp := &Response{
		OK:               true,
		RequestID:        requestID,
		ModelVersion:     m.Version,
		TookMS:           s.now().Sub(start).Milliseconds(),
		Label:            verdict.Label,
		Score:            verdict.Score,
		Decision:         verdict.Decision,
		Threshold:        verdict.Threshold,
		Probs:            probMap,
		Classes:          m.Engine.Classes(),
		ImageSize:        [2]int{m.Metadata.ImageSize, m.Metadata.ImageSize},
		InputType:        inputType,
		ImageThumbBase64: thumb,
	}
	if inputType == InputTypeURL {
		resp.ImageURL = strings.TrimSpace(req.ImageURL)
	} else {
		resp.ImageBase64 = imageio.NormalizeBase64(req.ImageBase64)
	}

	log.Infow("prediction done", "label", resp.Label, "decision", resp.Decision,
		"score", resp.Score, "took_ms", resp.TookMS)
	return resp, nil
}

func (s *Service) validate(req Request) error {
	hasURL := strings.TrimSpace(req.ImageURL) != ""
	hasB64 := strings.TrimSpace(req.ImageBase64) != ""
	if hasURL == hasB64 {
		return apperror.New(apperror.KindValidation, "send exactly one of 'image_url' or 'image_base64'")
	}

	if hasURL {
		u, err := url.Parse(strings.TrimSpace(req.ImageURL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return apperror.New(apperror.KindValidation, "'image_url' must be an absolute http or https URL")
		}
	}

	if s.opts.ThresholdMode == ThresholdRequest && req.Threshold != nil && !inUnitRange(*req.Threshold) {
		return apperror.Newf(apperror.KindValidation, "'threshold' must be between 0 and 1, got %v", *req.Threshold)
	}
	return nil
}

func (s *Service) threshold(req Request) *float64 {
	switch s.opts.ThresholdMode {
	case ThresholdIgnore:
		return nil
	case ThresholdFixed:
		return s.opts.DefaultThreshold
	default:
		if req.Threshold != nil {
			return req.Threshold
		}
		return s.opts.DefaultThreshold
	}
}

func (s *Service) loadImage(ctx context.Context, req Request) (*imageio.Decoded, string, error) {
	if strings.TrimSpace(req.ImageURL) != "" {
		img, err := s.images.FromURL(ctx, strings.TrimSpace(req.ImageURL))
		return img, InputTypeURL, err
	}
	img, err := s.images.FromBase64(req.ImageBase64)
	return img, InputTypeBase64, err
}

func inUnitRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

type requestIDKey struct{}

// WithRequestID attaches the request identifier used in responses and logs.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the attached identifier, or a fresh UUID when there is none.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
