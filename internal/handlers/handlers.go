package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Brownie44l1/fish-api/internal/apperror"
	"github.com/Brownie44l1/fish-api/internal/predict"
)

const DefaultMaxBodyBytes = 30 << 20

type Predictor interface {
	Predict(ctx context.Context, req predict.Request) (*predict.Response, error)
}

type Handler struct {
	predictor Predictor
	maxBody   int64
	log       *zap.SugaredLogger
}

func NewHandler(predictor Predictor, maxBody int64, log *zap.SugaredLogger) *Handler {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{
		predictor: predictor,
		maxBody:   maxBody,
		log:       log,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSON(w, http.StatusNotFound, predict.ErrorResponse{
			Error:     "not_found",
			Detail:    "no route for " + r.URL.Path,
			RequestID: requestID(r),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"message": "Fish classifier API. POST /predict with image_url or image_base64.",
	})
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, predict.ErrorResponse{
			Error:     "method_not_allowed",
			Detail:    "use POST",
			RequestID: requestID(r),
		})
		return
	}

	var req predict.Request
	body := http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.writeError(w, r, decodeError(err))
		return
	}

	resp, err := h.predictor.Predict(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperror.Newf(apperror.KindValidation, "request body exceeds %d bytes", tooLarge.Limit)
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return apperror.Newf(apperror.KindValidation, "'%s' has the wrong type", typeErr.Field)
	}
	return apperror.Wrap(apperror.KindValidation, err, "request body is not valid JSON")
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperror.KindOf(err)
	id := requestID(r)
	if !kind.ClientFault() {
		h.log.Errorw("prediction failed", "request_id", id, "kind", kind, "error", err)
	}
	writeJSON(w, kind.Status(), predict.ErrorResponse{
		OK:        false,
		Error:     string(kind),
		Detail:    apperror.Detail(err),
		RequestID: id,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func requestID(r *http.Request) string {
	return predict.RequestIDFromContext(r.Context())
}
