package httpapi

import (
	"context"
	"errors"
	"net/http"

	"ttsd/internal/admission"
	"ttsd/internal/flight"
	"ttsd/internal/orchestrator"
	"ttsd/internal/registry"
	"ttsd/internal/store"
)

// statusFor maps typed service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case orchestrator.IsValidation(err):
		return http.StatusBadRequest
	case orchestrator.IsModelNotFound(err), store.IsNotFound(err):
		return http.StatusNotFound
	case store.IsExpired(err):
		return http.StatusGone
	case admission.IsQueueFull(err), admission.IsQueueTimeout(err):
		return http.StatusTooManyRequests
	case admission.IsDeviceUnavailable(err), registry.IsLoadError(err),
		flight.IsWaitTimeout(err), orchestrator.IsAborted(err):
		return http.StatusServiceUnavailable
	case orchestrator.IsInference(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// kindFor gives the stable machine-readable failure kind for a typed error.
func kindFor(err error) string {
	switch {
	case orchestrator.IsValidation(err):
		return "invalid_request"
	case orchestrator.IsModelNotFound(err):
		return "model_not_found"
	case store.IsNotFound(err):
		return "artifact_not_found"
	case store.IsExpired(err):
		return "artifact_expired"
	case admission.IsQueueFull(err):
		return "queue_full"
	case admission.IsQueueTimeout(err):
		return "queue_timeout"
	case admission.IsDeviceUnavailable(err):
		return "device_unavailable"
	case registry.IsLoadError(err):
		return "model_load_failed"
	case flight.IsWaitTimeout(err):
		return "wait_timeout"
	case orchestrator.IsAborted(err):
		return "computation_aborted"
	case orchestrator.IsInference(err):
		return "inference_failed"
	case store.IsStorage(err):
		return "storage"
	default:
		return "internal"
	}
}

// writeMappedError translates a service error into the JSON error payload.
// Caller cancellation produces no response body: the client is gone.
func writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		return
	}
	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure(kindFor(err))
	}
	writeJSONError(w, status, err.Error(), kindFor(err))
}
