package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"ttsd/internal/store"
	"ttsd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Synthesize(ctx context.Context, req types.SynthesisRequest) (types.ArtifactHandle, error)
	Convert(ctx context.Context, req types.ConversionRequest) (types.ArtifactHandle, error)
	Download(ctx context.Context, artifactID string) (io.ReadCloser, types.ArtifactInfo, error)
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
	ListModels() []types.Model
	ModelStatus(modelID string, device types.Device) (types.HandleStatus, error)
	ReloadModel(modelID string, device types.Device) bool
	Status() types.StatusResponse
	Ready() bool
}

// zlog is an optional structured logger. If unset, the HTTP layer is silent.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = &l }

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints; audio formats are already compressed
	// so the gzip pass costs little there.
	r.Use(middleware.Compress(5, "application/json"))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	r.Use(MetricsMiddleware)

	r.Post("/synthesize", func(w http.ResponseWriter, r *http.Request) {
		var req types.SynthesisRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		start := time.Now()
		handle, err := svc.Synthesize(r.Context(), req)
		if err != nil {
			writeMappedError(w, r, err)
			logRequest(r, "synthesize", statusFor(err), start, err)
			return
		}
		writeJSON(w, http.StatusOK, handle)
		logRequest(r, "synthesize", http.StatusOK, start, nil)
	})

	r.Post("/convert", func(w http.ResponseWriter, r *http.Request) {
		var req types.ConversionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		start := time.Now()
		handle, err := svc.Convert(r.Context(), req)
		if err != nil {
			writeMappedError(w, r, err)
			logRequest(r, "convert", statusFor(err), start, err)
			return
		}
		writeJSON(w, http.StatusOK, handle)
		logRequest(r, "convert", http.StatusOK, start, nil)
	})

	r.Get("/audio/{artifactID}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "artifactID")
		rc, info, err := svc.Download(r.Context(), id)
		if err != nil {
			writeMappedError(w, r, err)
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", store.ContentType(info.Format))
		w.Header().Set("Content-Length", strconv.FormatInt(info.SizeBytes, 10))
		w.Header().Set("Content-Disposition", `attachment; filename="`+info.ID+`.`+info.Format+`"`)
		if _, err := io.Copy(w, rc); err != nil && zlog != nil {
			zlog.Debug().Err(err).Str("artifact", info.ID).Msg("download interrupted")
		}
	})

	r.Delete("/cleanup", func(w http.ResponseWriter, r *http.Request) {
		var maxAge time.Duration
		if v := r.URL.Query().Get("max_age_seconds"); v != "" {
			sec, err := strconv.ParseInt(v, 10, 64)
			if err != nil || sec < 0 {
				writeJSONError(w, http.StatusBadRequest, "invalid max_age_seconds", "invalid_request")
				return
			}
			maxAge = time.Duration(sec) * time.Second
		}
		removed, err := svc.Cleanup(r.Context(), maxAge)
		if err != nil {
			writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, types.CleanupResponse{Removed: removed})
	})

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: svc.ListModels()})
	})

	r.Get("/models/{modelID}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "modelID")
		device := types.Device(r.URL.Query().Get("device"))
		st, err := svc.ModelStatus(id, device)
		if err != nil {
			writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	})

	r.Post("/models/{modelID}/reload", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "modelID")
		device := types.Device(r.URL.Query().Get("device"))
		reloaded := svc.ReloadModel(id, device)
		writeJSON(w, http.StatusOK, map[string]bool{"reloaded": reloaded})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("unavailable"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// decodeJSON enforces the content type and body limit, then decodes into
// dst. It writes the error response itself and reports success.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", "unsupported_media_type")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large", "body_too_large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body", "invalid_request")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && zlog != nil {
		zlog.Debug().Err(err).Msg("encode response")
	}
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Kind: kind, Code: status})
}

func logRequest(r *http.Request, op string, status int, start time.Time, err error) {
	if zlog == nil {
		return
	}
	z := zlog.Info().Str("op", op).Int("status", status).Dur("dur", time.Since(start))
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		z = z.Str("request_id", rid)
	}
	if err != nil {
		z = z.Err(err)
	}
	z.Msg("request end")
}
