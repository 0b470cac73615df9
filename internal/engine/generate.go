package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"coachlm/internal/native"
	"coachlm/pkg/types"
)

// Terminal names the condition that ended a generation.
type Terminal string

const (
	// TerminalCompleted: the model sampled its end-of-sequence marker.
	TerminalCompleted Terminal = "completed"
	// TerminalMarker: a stop marker appeared in the accumulated output.
	TerminalMarker Terminal = "stopped_on_marker"
	// TerminalRepetition: the output fell into a short exact loop.
	TerminalRepetition Terminal = "stopped_on_repetition"
	// TerminalMalformed: the output contained malformed tool-call syntax.
	TerminalMalformed Terminal = "stopped_on_malformed_pattern"
	// TerminalLimit: max_tokens was reached.
	TerminalLimit Terminal = "max_tokens"
)

// guardSet selects which heuristics run during a generation. Both surfaces
// share one step function parameterized by this, so their behavior cannot
// drift apart.
type guardSet struct {
	markers    bool
	repetition bool
	patterns   bool
}

var (
	allGuards = guardSet{markers: true, repetition: true, patterns: true}
	eosOnly   = guardSet{}
)

// genState is the per-call state of one generation.
type genState struct {
	id       string
	text     string
	produced int
	max      int
	pos      int // next sequence position; starts at prompt length
	guards   guardSet
	terminal Terminal
}

// beginLocked resets the cache, tokenizes the prompt, enforces the context
// window, and submits the prompt in batch-width chunks. Caller holds mu.
func (e *Engine) beginLocked(lm *loadedModel, prompt string, maxTokens int, guards guardSet) (*genState, error) {
	if err := lm.ctx.Reset(); err != nil {
		return nil, ErrSystem("reset cache", err)
	}
	tokens, err := lm.ctx.Tokenize(prompt, true)
	if err != nil {
		return nil, ErrSystem("tokenize prompt", err)
	}
	if len(tokens) > e.cfg.ContextWindow {
		return nil, ErrInvalidInput(fmt.Sprintf(
			"prompt of %d tokens exceeds context window %d", len(tokens), e.cfg.ContextWindow))
	}
	if len(tokens)+maxTokens > e.cfg.ContextWindow {
		// Soft limit: the runtime degrades gracefully, so log and proceed.
		e.log.Warn().
			Int("prompt_tokens", len(tokens)).
			Int("max_tokens", maxTokens).
			Int("context_window", e.cfg.ContextWindow).
			Msg("prompt plus requested generation exceeds context window")
	}
	for off := 0; off < len(tokens); off += batchSize {
		end := off + batchSize
		if end > len(tokens) {
			end = len(tokens)
		}
		if err := lm.ctx.Decode(tokens[off:end]); err != nil {
			return nil, ErrSystem("decode prompt", err)
		}
	}
	return &genState{
		id:     uuid.NewString(),
		max:    maxTokens,
		pos:    len(tokens),
		guards: guards,
	}, nil
}

// stepLocked performs one decode cycle: sample, terminal checks, append,
// cadenced guards, then submit the token for the next position. Returns the
// text fragment produced this step and whether the generation is done.
// Caller holds mu.
func (e *Engine) stepLocked(lm *loadedModel, st *genState) (string, bool, error) {
	tok, err := lm.ctx.Sample()
	if err != nil {
		return "", false, ErrSystem("sample token", err)
	}
	if lm.ctx.IsEOS(tok) {
		st.terminal = TerminalCompleted
		return "", true, nil
	}
	piece, err := lm.ctx.Piece(tok)
	if err != nil {
		return "", false, ErrSystem("detokenize", err)
	}
	st.text += piece
	st.produced++

	n := st.produced
	g := e.guards
	if st.guards.markers && n%g.StopCheckEvery == 0 && shouldStop(st.text) {
		st.text = truncateAtMarker(st.text)
		st.terminal = TerminalMarker
		return piece, true, nil
	}
	if st.guards.repetition && n%g.LoopCheckEvery == 0 && n > g.LoopMinTokens &&
		detectRepetitionLoop(st.text, g.LoopWindowWords) {
		st.text = truncateLastSentence(st.text)
		st.terminal = TerminalRepetition
		return piece, true, nil
	}
	if st.guards.patterns && n%g.LoopCheckEvery == 0 && n > g.PatternMinTokens &&
		detectBadPatterns(st.text) {
		st.text = truncateAfterToolCall(st.text)
		st.terminal = TerminalMalformed
		return piece, true, nil
	}
	if st.produced >= st.max {
		st.terminal = TerminalLimit
		return piece, true, nil
	}
	if err := lm.ctx.Decode([]native.Token{tok}); err != nil {
		return "", false, ErrSystem("decode token", err)
	}
	st.pos++
	return piece, false, nil
}

// Generate produces a full response in one blocking call. The exclusive
// model guard is held for the whole call, so there is no mid-flight
// cancellation; callers racing a deadline must abandon the result.
// temperature is accepted but unused: the runtime samples greedily.
func (e *Engine) Generate(prompt string, maxTokens int, temperature float32) (*types.LlmResponse, error) {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	_ = temperature

	start := time.Now()
	e.genMu.Lock()
	defer e.genMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	lm, err := e.loadLocked()
	if err != nil {
		return nil, err
	}
	st, err := e.beginLocked(lm, prompt, maxTokens, allGuards)
	if err != nil {
		return nil, err
	}
	for {
		_, done, err := e.stepLocked(lm, st)
		if err != nil {
			// Native failures abort the call; no partial response.
			return nil, err
		}
		if done {
			break
		}
	}
	elapsed := time.Since(start)
	e.metrics.observe(st.terminal, st.produced, elapsed.Seconds())
	e.log.Debug().
		Str("generation_id", st.id).
		Str("terminal", string(st.terminal)).
		Int("tokens", st.produced).
		Dur("took", elapsed).
		Msg("generation finished")
	return &types.LlmResponse{
		Text:            postProcess(st.text),
		TokensGenerated: st.produced,
		Elapsed:         elapsed,
	}, nil
}
