// Package httpapi exposes a local debug/control surface over the engine.
// It is bound to loopback by default; the desktop application talks to the
// engine in-process and only uses this for diagnostics.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"coachlm/internal/engine"
	"coachlm/pkg/types"
)

// maxBodyBytes caps JSON request bodies. Prompts are large but bounded by
// the context window; 1 MiB is generous.
const maxBodyBytes int64 = 1 << 20

// Service is what the HTTP layer needs from the engine.
type Service interface {
	Generate(prompt string, maxTokens int, temperature float32) (*types.LlmResponse, error)
	GenerateStream(ctx context.Context, prompt string, maxTokens int, temperature float32) (<-chan engine.StreamResult, error)
	IsLoaded() bool
	LoadModel() error
	UnloadModel() error
	HealthCheck() error
	ModelInfo() types.ModelConfig
}

// Server wires the engine to a chi router.
type Server struct {
	svc     Service
	log     zerolog.Logger
	metrics http.Handler
	started time.Time
}

// NewServer builds the HTTP layer. metricsHandler may be nil to disable
// the /metrics route.
func NewServer(svc Service, log zerolog.Logger, metricsHandler http.Handler) *Server {
	return &Server{
		svc:     svc,
		log:     log.With().Str("component", "httpapi").Logger(),
		metrics: metricsHandler,
		started: time.Now(),
	}
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Post("/generate", s.handleGenerate)
	r.Post("/load", s.handleLoad)
	r.Post("/unload", s.handleUnload)
	r.Get("/status", s.handleStatus)
	r.Get("/model", s.handleModel)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

// handleGenerate runs one generation.
//
// @Summary  Generate a completion
// @Accept   json
// @Produce  json
// @Param    request body types.GenerateRequest true "generation request"
// @Success  200 {object} types.GenerateResponse
// @Failure  400 {object} types.ErrorResponse
// @Failure  404 {object} types.ErrorResponse
// @Failure  500 {object} types.ErrorResponse
// @Router   /generate [post]
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer func() { _, _ = io.Copy(io.Discard, body) }()

	var req types.GenerateRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Prompt == "" {
		s.writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if req.Stream {
		s.streamGenerate(w, r, req)
		return
	}
	resp, err := s.svc.Generate(req.Prompt, req.MaxTokens, req.Temperature)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, types.GenerateResponse{
		Text:            resp.Text,
		TokensGenerated: resp.TokensGenerated,
		ElapsedMs:       resp.Elapsed.Milliseconds(),
	})
}

// streamGenerate writes NDJSON chunk lines, flushing after each one. A
// client disconnect cancels the request context, which ends the producer
// silently.
func (s *Server) streamGenerate(w http.ResponseWriter, r *http.Request, req types.GenerateRequest) {
	ch, err := s.svc.GenerateStream(r.Context(), req.Prompt, req.MaxTokens, req.Temperature)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	for res := range ch {
		if res.Err != nil {
			// Headers are already sent; surface the error as a line.
			_ = enc.Encode(types.ErrorResponse{Error: res.Err.Error(), Code: http.StatusInternalServerError})
			return
		}
		if err := enc.Encode(res.Chunk); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// handleLoad loads the configured model.
//
// @Summary  Load the model
// @Success  204
// @Router   /load [post]
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.LoadModel(); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUnload frees the model.
//
// @Summary  Unload the model
// @Success  204
// @Router   /unload [post]
func (s *Server) handleUnload(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.UnloadModel(); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStatus reports engine state.
//
// @Summary  Engine status
// @Produce  json
// @Success  200 {object} types.StatusResponse
// @Router   /status [get]
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	s.writeJSON(w, http.StatusOK, types.StatusResponse{
		Loaded:         s.svc.IsLoaded(),
		Model:          s.svc.ModelInfo(),
		UptimeSeconds:  int64(now.Sub(s.started).Seconds()),
		ServerTimeUnix: now.Unix(),
	})
}

// handleModel returns the immutable model configuration.
//
// @Summary  Model info
// @Produce  json
// @Success  200 {object} types.ModelConfig
// @Router   /model [get]
func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.ModelInfo())
}

// handleHealthz is pure liveness: the process is up.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz runs a real minimal generation through the engine.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.HealthCheck(); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// writeEngineError maps the engine error taxonomy onto status codes:
// NotFound -> 404 (prompt the user to download), InvalidInput -> 400
// ("your message is too long"), anything else -> 500 (engine unavailable).
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case engine.IsNotFound(err):
		s.writeError(w, http.StatusNotFound, err.Error())
	case engine.IsInvalidInput(err):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error().Err(err).Msg("engine error")
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, types.ErrorResponse{Error: msg, Code: code})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}
