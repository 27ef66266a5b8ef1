package predict

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/fish-api/internal/apperror"
	"github.com/Brownie44l1/fish-api/internal/imageio"
	"github.com/Brownie44l1/fish-api/internal/model"
	"github.com/Brownie44l1/fish-api/internal/preprocess"
)

type stubScorer struct {
	probs []float32
	calls atomic.Int32
}

func (s *stubScorer) Score(ctx context.Context, t *preprocess.Tensor) (model.Output, error) {
	s.calls.Add(1)
	return model.Output{
		Classification: s.probs,
		Auxiliary:      [][]float32{{0.1, 0.1, 0.5, 0.5}},
	}, nil
}

func (s *stubScorer) Close() error { return nil }

type stubModels struct {
	loaded *model.Loaded
	err    error
}

func (s *stubModels) Get(ctx context.Context) (*model.Loaded, error) {
	return s.loaded, s.err
}

type countingSource struct {
	inner ImageSource
	calls atomic.Int32
}

func (c *countingSource) FromURL(ctx context.Context, url string) (*imageio.Decoded, error) {
	c.calls.Add(1)
	return c.inner.FromURL(ctx, url)
}

func (c *countingSource) FromBase64(payload string) (*imageio.Decoded, error) {
	c.calls.Add(1)
	return c.inner.FromBase64(payload)
}

type fixture struct {
	svc    *Service
	scorer *stubScorer
	source *countingSource
}

func newFixture(t *testing.T, probs []float32, opts Options) *fixture {
	t.Helper()
	scorer := &stubScorer{probs: probs}
	source := &countingSource{inner: imageio.NewLoader(500*time.Millisecond, 0)}
	loaded, err := model.NewLoaded(model.DefaultMetadata(), "model.onnx@0123456789ab", scorer)
	require.NoError(t, err)
	models := &stubModels{loaded: loaded}

	svc, err := NewService(source, models, opts, nil)
	require.NoError(t, err)
	return &fixture{svc: svc, scorer: scorer, source: source}
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 3), G: 120, B: uint8(y * 5), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	body := jpegBytes(t, 300, 200)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func ptr(v float64) *float64 { return &v }

func TestPredict_URLWithoutThreshold(t *testing.T) {
	f := newFixture(t, []float32{0.1234567, 0.8765433}, Options{})
	srv := imageServer(t)

	resp, err := f.svc.Predict(context.Background(), Request{ImageURL: srv.URL + "/salmon.jpg"})
	require.NoError(t, err)

	require.True(t, resp.OK)
	require.Equal(t, "infected", resp.Label)
	require.Equal(t, resp.Label, resp.Decision)
	require.Nil(t, resp.Threshold)
	require.Equal(t, 0.876543, resp.Score)
	require.Equal(t, map[string]float64{"fresh": 0.123457, "infected": 0.876543}, resp.Probs)
	require.Equal(t, []string{"fresh", "infected"}, resp.Classes)
	require.Equal(t, [2]int{256, 256}, resp.ImageSize)
	require.Equal(t, InputTypeURL, resp.InputType)
	require.Equal(t, srv.URL+"/salmon.jpg", resp.ImageURL)
	require.Empty(t, resp.ImageBase64)
	require.NotEmpty(t, resp.ImageThumbBase64)
	require.Equal(t, "model.onnx@0123456789ab", resp.ModelVersion)
	require.NotEmpty(t, resp.RequestID)
	require.GreaterOrEqual(t, resp.TookMS, int64(0))
}

func TestPredict_ProbsSumToOne(t *testing.T) {
	f := newFixture(t, []float32{0.3333333, 0.6666667}, Options{})
	b64 := base64.StdEncoding.EncodeToString(jpegBytes(t, 64, 64))

	resp, err := f.svc.Predict(context.Background(), Request{ImageBase64: b64})
	require.NoError(t, err)

	sum := 0.0
	for _, p := range resp.Probs {
		sum += p
	}
	require.InDelta(t, 1.0, sum, 1e-3)
}

func TestPredict_Base64WithThresholdDiverges(t *testing.T) {
	f := newFixture(t, []float32{0.2, 0.8}, Options{})
	b64 := base64.StdEncoding.EncodeToString(jpegBytes(t, 40, 30))

	resp, err := f.svc.Predict(context.Background(), Request{
		ImageBase64: "data:image/jpeg;base64," + b64,
		Threshold:   ptr(0.9),
	})
	require.NoError(t, err)

	require.Equal(t, "infected", resp.Label)
	require.Equal(t, "fresh", resp.Decision)
	require.Equal(t, 0.9, *resp.Threshold)
	require.Equal(t, InputTypeBase64, resp.InputType)
	require.Equal(t, b64, resp.ImageBase64)
	require.NotEmpty(t, resp.ImageThumbBase64)
}

func TestPredict_EchoesNormalizedSource(t *testing.T) {
	f := newFixture(t, []float32{0.6, 0.4}, Options{})
	b64 := base64.StdEncoding.EncodeToString(jpegBytes(t, 16, 16))
	wrapped := "data:image/jpeg;base64,\n  " + b64[:20] + "\r\n" + b64[20:40] + "\n" + b64[40:] + "  \n"

	resp, err := f.svc.Predict(context.Background(), Request{ImageBase64: wrapped})
	require.NoError(t, err)
	require.Equal(t, b64, resp.ImageBase64)

	srv := imageServer(t)
	resp, err = f.svc.Predict(context.Background(), Request{ImageURL: "  " + srv.URL + "/salmon.jpg\t"})
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/salmon.jpg", resp.ImageURL)
}

func TestPredict_ThresholdBoundary(t *testing.T) {
	f := newFixture(t, []float32{0.25, 0.75}, Options{})
	b64 := base64.StdEncoding.EncodeToString(jpegBytes(t, 8, 8))

	resp, err := f.svc.Predict(context.Background(), Request{ImageBase64: b64, Threshold: ptr(0.75)})
	require.NoError(t, err)
	require.Equal(t, "infected", resp.Decision)
}

func TestPredict_BothSourcesRejectedBeforeAnyWork(t *testing.T) {
	f := newFixture(t, []float32{0.5, 0.5}, Options{})

	_, err := f.svc.Predict(context.Background(), Request{
		ImageURL:    "http://192.0.2.1/salmon.jpg",
		ImageBase64: "AAAA",
	})
	require.ErrorIs(t, err, apperror.Validation)
	require.Contains(t, apperror.Detail(err), "exactly one")
	require.Equal(t, int32(0), f.source.calls.Load())
	require.Equal(t, int32(0), f.scorer.calls.Load())
}

func TestPredict_NeitherSourceRejected(t *testing.T) {
	f := newFixture(t, []float32{0.5, 0.5}, Options{})

	_, err := f.svc.Predict(context.Background(), Request{ImageBase64: "   "})
	require.ErrorIs(t, err, apperror.Validation)
	require.Equal(t, int32(0), f.source.calls.Load())
}

func TestPredict_NotAnImage(t *testing.T) {
	f := newFixture(t, []float32{0.5, 0.5}, Options{})

	_, err := f.svc.Predict(context.Background(), Request{ImageBase64: "AAAA"})
	require.ErrorIs(t, err, apperror.UnsupportedFormat)
	require.Contains(t, apperror.Detail(err), "cannot identify image")
	require.Equal(t, int32(0), f.scorer.calls.Load())
}

func TestPredict_UnreachableHost(t *testing.T) {
	f := newFixture(t, []float32{0.5, 0.5}, Options{})
	srv := httptest.NewServer(http.NotFoundHandler())
	dead := srv.URL
	srv.Close()

	start := time.Now()
	_, err := f.svc.Predict(context.Background(), Request{ImageURL: dead + "/salmon.jpg"})
	require.ErrorIs(t, err, apperror.Fetch)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestPredict_InvalidURL(t *testing.T) {
	f := newFixture(t, []float32{0.5, 0.5}, Options{})

	for _, u := range []string{"ftp://example.com/a.jpg", "salmon.jpg", "http://"} {
		_, err := f.svc.Predict(context.Background(), Request{ImageURL: u})
		require.ErrorIs(t, err, apperror.Validation, u)
	}
	require.Equal(t, int32(0), f.source.calls.Load())
}

func TestPredict_ThresholdOutOfRange(t *testing.T) {
	f := newFixture(t, []float32{0.5, 0.5}, Options{})

	for _, th := range []float64{-0.1, 1.5} {
		_, err := f.svc.Predict(context.Background(), Request{ImageBase64: "AAAA", Threshold: ptr(th)})
		require.ErrorIs(t, err, apperror.Validation)
	}
}

func TestPredict_IgnoreModeDropsThreshold(t *testing.T) {
	f := newFixture(t, []float32{0.2, 0.8}, Options{ThresholdMode: ThresholdIgnore})
	b64 := base64.StdEncoding.EncodeToString(jpegBytes(t, 8, 8))

	resp, err := f.svc.Predict(context.Background(), Request{ImageBase64: b64, Threshold: ptr(0.9)})
	require.NoError(t, err)
	require.Nil(t, resp.Threshold)
	require.Equal(t, "infected", resp.Decision)
}

func TestPredict_FixedModeUsesDefault(t *testing.T) {
	f := newFixture(t, []float32{0.7, 0.3}, Options{ThresholdMode: ThresholdFixed, DefaultThreshold: ptr(0.25)})
	b64 := base64.StdEncoding.EncodeToString(jpegBytes(t, 8, 8))

	resp, err := f.svc.Predict(context.Background(), Request{ImageBase64: b64, Threshold: ptr(0.9)})
	require.NoError(t, err)
	require.Equal(t, 0.25, *resp.Threshold)
	require.Equal(t, "fresh", resp.Label)
	require.Equal(t, "infected", resp.Decision)
}

func TestPredict_RequestModeFallsBackToDefault(t *testing.T) {
	f := newFixture(t, []float32{0.7, 0.3}, Options{DefaultThreshold: ptr(0.5)})
	b64 := base64.StdEncoding.EncodeToString(jpegBytes(t, 8, 8))

	resp, err := f.svc.Predict(context.Background(), Request{ImageBase64: b64})
	require.NoError(t, err)
	require.Equal(t, 0.5, *resp.Threshold)
	require.Equal(t, "fresh", resp.Decision)
}

func TestPredict_ModelNotLoaded(t *testing.T) {
	source := imageio.NewLoader(time.Second, 0)
	models := &stubModels{err: apperror.New(apperror.KindModelNotLoaded, "model was never loaded")}
	svc, err := NewService(source, models, Options{}, nil)
	require.NoError(t, err)

	b64 := base64.StdEncoding.EncodeToString(jpegBytes(t, 8, 8))
	_, err = svc.Predict(context.Background(), Request{ImageBase64: b64})
	require.ErrorIs(t, err, apperror.ModelNotLoaded)
	require.False(t, apperror.KindOf(err).ClientFault())
}

func TestPredict_UsesRequestIDFromContext(t *testing.T) {
	f := newFixture(t, []float32{0.5, 0.5}, Options{})
	b64 := base64.StdEncoding.EncodeToString(jpegBytes(t, 8, 8))

	ctx := WithRequestID(context.Background(), "req-42")
	resp, err := f.svc.Predict(ctx, Request{ImageBase64: b64})
	require.NoError(t, err)
	require.Equal(t, "req-42", resp.RequestID)
}

func TestRequestIDFromContext_FreshPerCall(t *testing.T) {
	a := RequestIDFromContext(context.Background())
	b := RequestIDFromContext(context.Background())
	require.NotEqual(t, a, b)
	require.Len(t, a, 36)
}

func TestNewService_RejectsBadOptions(t *testing.T) {
	_, err := NewService(nil, nil, Options{ThresholdMode: "sometimes"}, nil)
	require.Error(t, err)

	_, err = NewService(nil, nil, Options{ThresholdMode: ThresholdFixed}, nil)
	require.Error(t, err)

	_, err = NewService(nil, nil, Options{DefaultThreshold: ptr(2)}, nil)
	require.Error(t, err)
}
