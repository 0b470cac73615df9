package engine

import (
	"context"
	"time"

	"coachlm/pkg/types"
)

// StreamResult carries either one chunk or a terminal error.
type StreamResult struct {
	Chunk types.StreamChunk
	Err   error
}

// GenerateStream starts an asynchronous generation. Prompt validation and
// submission happen synchronously, so callers get tokenization and
// context-window errors before any chunk. A background task then samples
// token by token, re-acquiring the model guard once per token so load-state
// queries can interleave with a long generation.
//
// The task runs only end-of-sequence detection; the stop-marker, repetition,
// and malformed-pattern guards are skipped on this surface to keep per-chunk
// latency low. Canceling ctx (or abandoning the channel and canceling) ends
// the task silently with no error.
func (e *Engine) GenerateStream(ctx context.Context, prompt string, maxTokens int, temperature float32) (<-chan StreamResult, error) {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	_ = temperature

	e.genMu.Lock()
	e.mu.Lock()
	lm, err := e.loadLocked()
	if err != nil {
		e.mu.Unlock()
		e.genMu.Unlock()
		return nil, err
	}
	st, err := e.beginLocked(lm, prompt, maxTokens, eosOnly)
	if err != nil {
		e.mu.Unlock()
		e.genMu.Unlock()
		return nil, err
	}
	e.mu.Unlock()

	ch := make(chan StreamResult, e.streamBuf)
	go e.streamLoop(ctx, st, ch)
	return ch, nil
}

// streamLoop owns the token loop for one streaming call. It holds genMu
// (taken by GenerateStream) until it returns, so generations never overlap.
func (e *Engine) streamLoop(ctx context.Context, st *genState, ch chan<- StreamResult) {
	defer e.genMu.Unlock()
	defer close(ch)
	start := time.Now()

	for {
		e.mu.Lock()
		lm := e.model
		if lm == nil {
			e.mu.Unlock()
			e.emit(ctx, ch, StreamResult{Err: ErrSystem("model unloaded during generation", nil)})
			return
		}
		piece, done, err := e.stepLocked(lm, st)
		e.mu.Unlock()

		if err != nil {
			e.emit(ctx, ch, StreamResult{Err: err})
			return
		}
		if done {
			// The terminating chunk carries IsFinal and whatever text
			// the final step produced.
			e.emit(ctx, ch, StreamResult{Chunk: types.StreamChunk{Text: piece, IsFinal: true}})
			elapsed := time.Since(start)
			e.metrics.observe(st.terminal, st.produced, elapsed.Seconds())
			e.log.Debug().
				Str("generation_id", st.id).
				Str("terminal", string(st.terminal)).
				Int("tokens", st.produced).
				Dur("took", elapsed).
				Msg("stream finished")
			return
		}
		if piece != "" {
			if !e.emit(ctx, ch, StreamResult{Chunk: types.StreamChunk{Text: piece}}) {
				// Consumer went away; exit silently, no error.
				e.log.Debug().Str("generation_id", st.id).Msg("stream canceled by consumer")
				return
			}
		}
	}
}

// emit sends one result, giving up when the consumer cancels.
func (e *Engine) emit(ctx context.Context, ch chan<- StreamResult, r StreamResult) bool {
	select {
	case ch <- r:
		return true
	case <-ctx.Done():
		return false
	}
}
