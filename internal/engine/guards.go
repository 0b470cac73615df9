package engine

import (
	"regexp"
	"strings"
)

// GuardConfig tunes the degenerate-output heuristics. The cadences and
// thresholds are empirically tuned per model; defaults match the values the
// coaching assistant ships with.
type GuardConfig struct {
	// StopCheckEvery runs the stop-marker scan every Nth generated token.
	StopCheckEvery int
	// LoopCheckEvery runs the repetition and malformed-pattern checks
	// every Nth generated token.
	LoopCheckEvery int
	// LoopMinTokens is the minimum generated-token count before the
	// repetition check runs.
	LoopMinTokens int
	// PatternMinTokens is the minimum generated-token count before the
	// malformed-pattern check runs.
	PatternMinTokens int
	// LoopWindowWords is the word count of each repetition window. Three
	// consecutive identical windows count as a loop.
	LoopWindowWords int
}

// DefaultGuardConfig returns the shipped tuning.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		StopCheckEvery:   8,
		LoopCheckEvery:   16,
		LoopMinTokens:    32,
		PatternMinTokens: 48,
		LoopWindowWords:  4,
	}
}

func (g *GuardConfig) applyDefaults() {
	d := DefaultGuardConfig()
	if g.StopCheckEvery <= 0 {
		g.StopCheckEvery = d.StopCheckEvery
	}
	if g.LoopCheckEvery <= 0 {
		g.LoopCheckEvery = d.LoopCheckEvery
	}
	if g.LoopMinTokens <= 0 {
		g.LoopMinTokens = d.LoopMinTokens
	}
	if g.PatternMinTokens <= 0 {
		g.PatternMinTokens = d.PatternMinTokens
	}
	if g.LoopWindowWords <= 0 {
		g.LoopWindowWords = d.LoopWindowWords
	}
}

// stopMarkers are literal substrings whose appearance means the model is
// ending its turn or hallucinating a new one. End-of-turn tokens first,
// then role-switch markers and chat-turn prefixes the coaching prompt uses.
var stopMarkers = []string{
	"<|im_end|>",
	"<|endoftext|>",
	"<|eot_id|>",
	"</s>",
	"<|user|>",
	"<|assistant|>",
	"\nUser:",
	"\nAssistant:",
	"\nCoach:",
	"\nClient:",
	"\nSystem:",
	"### Instruction",
}

// shouldStop reports whether text contains any stop marker.
func shouldStop(text string) bool {
	return findStopMarker(text) >= 0
}

// findStopMarker returns the index of the earliest stop marker in text, or
// -1 when none is present.
func findStopMarker(text string) int {
	found := -1
	for _, m := range stopMarkers {
		if i := strings.Index(text, m); i >= 0 && (found < 0 || i < found) {
			found = i
		}
	}
	return found
}

// truncateAtMarker cuts text at the start of the earliest stop marker.
func truncateAtMarker(text string) string {
	if i := findStopMarker(text); i >= 0 {
		return strings.TrimRight(text[:i], " \t\n")
	}
	return text
}

// detectRepetitionLoop reports whether the trailing 3*windowWords words of
// text form three identical windows. Greedy sampling has no repetition
// penalty, so an exact short cycle is the dominant failure mode.
func detectRepetitionLoop(text string, windowWords int) bool {
	if windowWords <= 0 {
		return false
	}
	words := strings.Fields(text)
	need := 3 * windowWords
	if len(words) < need {
		return false
	}
	tail := words[len(words)-need:]
	w1 := strings.Join(tail[:windowWords], " ")
	w2 := strings.Join(tail[windowWords:2*windowWords], " ")
	w3 := strings.Join(tail[2*windowWords:], " ")
	return w1 == w2 && w2 == w3
}

const (
	toolCallOpen  = "<tool_call>"
	toolCallClose = "</tool_call>"
)

var (
	// A fenced code block containing nothing but whitespace.
	emptyFenceRe = regexp.MustCompile("```[a-zA-Z0-9_-]*[ \t\r\n]*```")
	// A fence whose body opens a tool invocation. Tool calls must be
	// emitted bare; wrapping them in a fence breaks the downstream parser.
	fencedToolRe = regexp.MustCompile("```[a-zA-Z0-9_-]*[ \t\r\n]*<tool_call>")
	// A fenced tool invocation with its full body, used for unwrapping.
	fencedToolBodyRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*[ \t\r\n]*(<tool_call>.*?</tool_call>)[ \t\r\n]*(```)?")
)

// detectBadPatterns reports whether text contains malformed tool-call
// output: an empty fenced block, more than one tool invocation, or a tool
// invocation wrapped in a fence.
func detectBadPatterns(text string) bool {
	if emptyFenceRe.MatchString(text) {
		return true
	}
	if strings.Count(text, toolCallOpen) >= 2 {
		return true
	}
	return fencedToolRe.MatchString(text)
}

// truncateAfterToolCall keeps everything through the first complete tool
// invocation, dropping whatever the model produced after it. When no
// complete invocation exists, it falls back to the last complete sentence.
func truncateAfterToolCall(text string) string {
	if i := strings.Index(text, toolCallClose); i >= 0 {
		return text[:i+len(toolCallClose)]
	}
	return truncateLastSentence(text)
}

// truncateLastSentence cuts text after its last sentence terminator. Text
// with no terminator is returned unchanged.
func truncateLastSentence(text string) string {
	last := -1
	for i, r := range text {
		switch r {
		case '.', '!', '?':
			last = i
		}
	}
	if last < 0 {
		return text
	}
	return text[:last+1]
}

// rolePrefixes are header prefixes models sometimes emit before the actual
// reply. Stripped from the front of the output during post-processing.
var rolePrefixes = []string{
	"Assistant:",
	"Coach:",
	"AI:",
	"Response:",
	"### Response:",
	"### Response",
}

// postProcess cleans generated text regardless of terminal state: known
// header/role prefixes are stripped and a fenced tool invocation is
// unwrapped, keeping any prose before it.
func postProcess(text string) string {
	out := strings.TrimSpace(text)
	for changed := true; changed; {
		changed = false
		for _, p := range rolePrefixes {
			if strings.HasPrefix(out, p) {
				out = strings.TrimSpace(strings.TrimPrefix(out, p))
				changed = true
			}
		}
	}
	out = fencedToolBodyRe.ReplaceAllString(out, "$1")
	return strings.TrimSpace(out)
}
