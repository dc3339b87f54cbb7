package handler

import (
	"errors"
	"log/slog"
	"net/http"

	mw "github.com/kiranshivaraju/vodwatch/internal/api/middleware"
	"github.com/kiranshivaraju/vodwatch/internal/api/response"
	"github.com/kiranshivaraju/vodwatch/internal/pipelineapi"
)

// writePipelineError maps pipeline API failures onto gateway responses.
func writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	requestID, _ := mw.GetRequestID(r)

	switch {
	case errors.Is(err, pipelineapi.ErrInvalidArgument):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, pipelineapi.ErrNotFound):
		response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND",
			"The requested job does not exist", nil)
	case errors.Is(err, pipelineapi.ErrTimeout):
		slog.Warn("pipeline api timed out", "path", r.URL.Path, "request_id", requestID, "error", err)
		response.Error(w, http.StatusGatewayTimeout, "PIPELINE_TIMEOUT",
			"The pipeline API did not respond in time", nil)
	case errors.Is(err, pipelineapi.ErrUnreachable):
		slog.Warn("pipeline api unreachable", "path", r.URL.Path, "request_id", requestID, "error", err)
		response.Error(w, http.StatusBadGateway, "PIPELINE_UNAVAILABLE",
			"The pipeline API is not reachable", nil)
	case errors.Is(err, pipelineapi.ErrBadResponse):
		slog.Error("pipeline api returned a bad response", "path", r.URL.Path, "request_id", requestID, "error", err)
		response.Error(w, http.StatusBadGateway, "PIPELINE_BAD_RESPONSE",
			"The pipeline API returned an unexpected response", nil)
	default:
		slog.Error("pipeline api request failed", "path", r.URL.Path, "request_id", requestID, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
