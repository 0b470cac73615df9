// Package native wraps the llama.cpp runtime behind small interfaces so the
// engine can be exercised against a fake in tests. The real implementation
// uses yzma's purego FFI bindings; no cgo is involved.
package native

// Token is a vocabulary id produced by tokenization and sampling.
type Token int32

// ModelParams configures model weight loading.
type ModelParams struct {
	// GPULayers is the number of layers to offload. -1 offloads all
	// layers when a GPU backend is available, 0 forces CPU.
	GPULayers int
}

// ContextParams configures the execution context attached to a model.
type ContextParams struct {
	// ContextWindow is the KV cache capacity in tokens.
	ContextWindow int
	// BatchSize is the maximum number of tokens per decode call.
	BatchSize int
}

// Runtime loads model weights from disk.
type Runtime interface {
	LoadModel(path string, params ModelParams) (Model, error)
}

// Model owns loaded weights. Contexts are created from it and must be
// closed before the model itself.
type Model interface {
	// NewContext builds an execution context (working buffers plus the
	// KV cache) attached to this model.
	NewContext(params ContextParams) (Context, error)
	// Close frees the weights. Contexts created from this model become
	// invalid.
	Close()
}

// Context is a single execution context. It is safe for use from one
// goroutine at a time; callers serialize access externally.
type Context interface {
	// Tokenize converts text to tokens, prefixing the model's
	// beginning-of-sequence marker when addBOS is set.
	Tokenize(text string, addBOS bool) ([]Token, error)
	// Decode submits up to BatchSize tokens in one call, advancing the
	// cache position by len(tokens). The output distribution is
	// computed for the final token of the batch only.
	Decode(tokens []Token) error
	// Sample greedily picks the highest-probability token from the
	// distribution at the last decoded position.
	Sample() (Token, error)
	// IsEOS reports whether tok is an end-of-sequence/end-of-generation
	// marker for this model's vocabulary.
	IsEOS(tok Token) bool
	// Piece converts a token to its text fragment.
	Piece(tok Token) (string, error)
	// Reset empties the KV cache so the next Decode starts at
	// position 0. Nothing leaks between independent calls.
	Reset() error
	// Close frees the context.
	Close()
}
