package types

import "time"

// ModelConfig describes the single model the engine runs. It is fixed at
// engine construction and never mutated afterwards.
type ModelConfig struct {
	// Stable identifier / filename stem for the model.
	// example: qwen2.5-3b-instruct-q4_k_m
	Name string `json:"name" yaml:"name" toml:"name"`
	// Human-friendly description shown in the UI.
	// example: Qwen 2.5 3B Instruct (Q4_K_M)
	Description string `json:"description,omitempty" yaml:"description" toml:"description"`
	// Approximate on-disk size in bytes, used for download progress.
	// example: 2019377440
	SizeBytes int64 `json:"size_bytes,omitempty" yaml:"size_bytes" toml:"size_bytes"`
	// Context window in tokens. Prompts longer than this are rejected.
	// example: 4096
	ContextWindow int `json:"context_window" yaml:"context_window" toml:"context_window"`
}

// LlmResponse is the result of one blocking generation call.
type LlmResponse struct {
	// Generated text after guard truncation and post-processing.
	Text string `json:"text"`
	// Number of tokens sampled before a terminal state was reached.
	TokensGenerated int `json:"tokens_generated"`
	// Wall-clock time of the whole call (tokenize, decode, sample loop).
	Elapsed time.Duration `json:"elapsed"`
}

// StreamChunk is one incremental fragment of a streaming generation.
// Chunks are strictly FIFO; IsFinal is true on exactly the last chunk.
type StreamChunk struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}
