// Package engine runs a single local model: lazy load/unload, prompt
// tokenization and chunked batch submission, greedy token generation with
// degenerate-output guards, and blocking plus streaming surfaces.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"coachlm/internal/native"
	"coachlm/internal/resolver"
	"coachlm/pkg/types"
)

// batchSize is the fixed batch width for prompt submission. Large batches
// minimize decode calls for long prompts.
const batchSize = 2048

// defaultMaxTokens applies when a caller passes max_tokens <= 0.
const defaultMaxTokens = 256

// defaultStreamBuffer is the chunk channel capacity for streaming calls.
const defaultStreamBuffer = 64

// Engine orchestrates lazy loading and serializes all access to the one
// loaded model. At most one loadedModel exists at a time.
type Engine struct {
	cfg       types.ModelConfig
	resolver  resolver.Resolver
	runtime   native.Runtime
	guards    GuardConfig
	gpuLayers int
	streamBuf int
	log       zerolog.Logger
	metrics   *engineMetrics

	// genMu serializes whole generation calls: one logical inference
	// thread at a time, on both surfaces.
	genMu sync.Mutex
	// mu guards the model cell. The blocking surface holds it for the
	// full call; the streaming surface re-acquires it per token so
	// IsLoaded and unload requests can interleave.
	mu    sync.RWMutex
	model *loadedModel
}

// loadedModel owns weights and their execution context together, so the
// context can never outlive the model it borrows from.
type loadedModel struct {
	model native.Model
	ctx   native.Context
}

func (lm *loadedModel) free() {
	lm.ctx.Close()
	lm.model.Close()
}

// Options tunes engine construction. Zero values pick defaults.
type Options struct {
	// Resolver overrides the models-dir resolver, mainly for tests.
	Resolver resolver.Resolver
	// Runtime overrides the llama.cpp runtime, mainly for tests. When
	// nil the native backend is initialized from LibPath.
	Runtime native.Runtime
	// LibPath is the llama.cpp shared-library directory.
	LibPath string
	// GPULayers: -1 offloads all layers when a GPU is present, 0 is CPU.
	GPULayers int
	// Guards tunes the degenerate-output heuristics.
	Guards GuardConfig
	// StreamBuffer is the chunk channel capacity.
	StreamBuffer int
	// Logger for structured engine events.
	Logger *zerolog.Logger
	// Registerer for engine metrics. Nil uses a private registry.
	Registerer prometheus.Registerer
}

// New builds an engine with an empty model cell. Backend initialization is
// process-wide and happens here once; a failure is a system error.
func New(modelsDir string, cfg types.ModelConfig, opts Options) (*Engine, error) {
	if cfg.ContextWindow <= 0 {
		return nil, ErrInvalidInput("model config: context window must be positive")
	}
	res := opts.Resolver
	if res == nil {
		dir, err := resolver.NewDir(modelsDir)
		if err != nil {
			return nil, ErrSystem("models dir", err)
		}
		res = dir
	}
	rt := opts.Runtime
	if rt == nil {
		if err := native.Init(opts.LibPath); err != nil {
			return nil, ErrSystem("backend init", err)
		}
		rt = native.NewRuntime()
	}
	guards := opts.Guards
	guards.applyDefaults()
	buf := opts.StreamBuffer
	if buf <= 0 {
		buf = defaultStreamBuffer
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Engine{
		cfg:       cfg,
		resolver:  res,
		runtime:   rt,
		guards:    guards,
		gpuLayers: opts.GPULayers,
		streamBuf: buf,
		log:       logger.With().Str("component", "engine").Str("model", cfg.Name).Logger(),
		metrics:   newEngineMetrics(opts.Registerer),
	}, nil
}

// ModelInfo returns the immutable model configuration.
func (e *Engine) ModelInfo() types.ModelConfig { return e.cfg }

// IsLoaded reports whether the model cell is populated. Non-blocking with
// respect to in-flight streaming generations.
func (e *Engine) IsLoaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model != nil
}

// EnsureModelDownloaded asks the resolver to validate or fetch the model
// file. A model that cannot be produced surfaces as not-found.
func (e *Engine) EnsureModelDownloaded(ctx context.Context, progress resolver.ProgressFunc) error {
	if e.resolver.IsDownloaded(e.cfg) {
		return nil
	}
	if err := e.resolver.Download(ctx, e.cfg, progress); err != nil {
		return ErrNotFound(err.Error())
	}
	return nil
}

// LoadModel populates the model cell. No-op when already loaded.
func (e *Engine) LoadModel() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.loadLocked()
	return err
}

// loadLocked resolves, loads, and attaches a context. Caller holds mu.
func (e *Engine) loadLocked() (*loadedModel, error) {
	if e.model != nil {
		return e.model, nil
	}
	path, err := e.resolver.ModelPath(e.cfg)
	if err != nil {
		return nil, ErrNotFound(err.Error())
	}
	start := time.Now()
	m, err := e.runtime.LoadModel(path, native.ModelParams{GPULayers: e.gpuLayers})
	if err != nil {
		return nil, ErrSystem("load model", err)
	}
	ctx, err := m.NewContext(native.ContextParams{
		ContextWindow: e.cfg.ContextWindow,
		BatchSize:     batchSize,
	})
	if err != nil {
		m.Close()
		return nil, ErrSystem("create context", err)
	}
	e.model = &loadedModel{model: m, ctx: ctx}
	e.metrics.loadsTotal.Inc()
	e.log.Info().
		Str("path", path).
		Int("context_window", e.cfg.ContextWindow).
		Dur("took", time.Since(start)).
		Msg("model loaded")
	return e.model, nil
}

// UnloadModel clears the cell, freeing model and context. Idempotent.
func (e *Engine) UnloadModel() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return nil
	}
	e.model.free()
	e.model = nil
	e.metrics.unloadsTotal.Inc()
	e.log.Info().Msg("model unloaded")
	return nil
}
