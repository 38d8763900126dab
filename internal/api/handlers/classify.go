package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/imgclassify/internal/apierr"
	"github.com/onnwee/imgclassify/internal/inference"
	"github.com/onnwee/imgclassify/internal/logger"
	"github.com/onnwee/imgclassify/internal/middleware"
	"github.com/onnwee/imgclassify/internal/secrets"
	"github.com/onnwee/imgclassify/internal/utils"
)

// Inferer runs cache-mediated inference for one request key.
type Inferer interface {
	Infer(ctx context.Context, key string) inference.Outcome
}

// ClassifyRequest is the body of POST /classify-image.
type ClassifyRequest struct {
	ImageURL *string `json:"image_url"`
}

// ClassifyResponse carries three-decimal strings so clients see exactly what
// the service measured, independent of float formatting on their side.
type ClassifyResponse struct {
	Label          string `json:"label"`
	Confidence     string `json:"confidence"`
	ProcessingTime string `json:"processing_time"`
}

// ClassifyHandler serves POST /classify-image.
type ClassifyHandler struct {
	pipeline  Inferer
	timeout   time.Duration
	sanitizer middleware.SanitizeInput
}

// NewClassifyHandler creates a classify handler. A positive timeout bounds how
// long a request waits for its result; the computation itself keeps running
// and its result is cached.
func NewClassifyHandler(p Inferer, timeout time.Duration) *ClassifyHandler {
	return &ClassifyHandler{pipeline: p, timeout: timeout}
}

// Classify decodes the request, runs the pipeline and maps the outcome.
// POST /classify-image
func (h *ClassifyHandler) Classify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var mbe *http.MaxBytesError
		switch {
		case errors.As(err, &mbe):
			apierr.WriteErrorWithContext(w, r, apierr.ValidationTooLarge(mbe.Limit))
		case errors.Is(err, io.EOF):
			apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("image_url"))
		default:
			apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidJSON())
		}
		return
	}

	if req.ImageURL == nil || strings.TrimSpace(*req.ImageURL) == "" {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("image_url"))
		return
	}
	if err := h.sanitizer.ValidateImageURL(*req.ImageURL); err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("image_url", err.Error()))
		return
	}
	key := utils.CanonicalURL(*req.ImageURL)

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	out := h.pipeline.Infer(ctx, key)
	if !out.Result.OK() {
		if ctx.Err() != nil {
			logger.WarnContext(r.Context(), "Classification timed out", "image_url", secrets.MaskImageURL(key), "elapsed", out.Elapsed)
			apierr.WriteErrorWithContext(w, r, apierr.ClassifyTimeout())
			return
		}
		apierr.WriteErrorWithContext(w, r, apierr.ClassifyNoResult(secrets.MaskImageURL(key)))
		return
	}

	resp := ClassifyResponse{
		Label:          out.Result.Label(),
		Confidence:     fmt.Sprintf("%.3f", out.Result.Confidence()),
		ProcessingTime: fmt.Sprintf("%.3f", out.Elapsed.Seconds()),
	}

	w.Header().Set("Content-Type", "application/json")
	if out.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.ErrorContext(r.Context(), "Failed to encode classify response", "error", err)
	}
}
