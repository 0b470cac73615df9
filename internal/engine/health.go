package engine

import "strings"

// Health-check generation is deliberately tiny: a fixed short prompt and a
// handful of tokens are enough to prove the decode path works end to end.
const (
	healthPrompt    = "Hello"
	healthMaxTokens = 4
)

// HealthCheck runs a minimal real generation to verify operability before
// the engine is trusted with real requests. It fails when no model is
// loaded or the model returns empty text.
func (e *Engine) HealthCheck() error {
	if !e.IsLoaded() {
		return ErrSystem("health check: no model loaded", nil)
	}
	resp, err := e.Generate(healthPrompt, healthMaxTokens, 0)
	if err != nil {
		return err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return ErrSystem("health check: model returned empty text", nil)
	}
	return nil
}
