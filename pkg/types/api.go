package types

// GenerateRequest is the payload accepted by POST /generate.
type GenerateRequest struct {
	// Required prompt text. Assembled upstream; treated as opaque here.
	// example: How can I structure my week to protect deep-work time?
	Prompt string `json:"prompt" example:"How can I structure my week to protect deep-work time?"`
	// Maximum number of new tokens to generate.
	// example: 256
	MaxTokens int `json:"max_tokens,omitempty" example:"256"`
	// Sampling temperature. Accepted for forward compatibility; the
	// current runtime samples greedily and ignores it.
	// example: 0.7
	Temperature float32 `json:"temperature,omitempty" example:"0.7"`
	// If true, stream NDJSON chunks instead of a single JSON response.
	// example: false
	Stream bool `json:"stream,omitempty" example:"false"`
}

// GenerateResponse is the blocking JSON response of POST /generate.
type GenerateResponse struct {
	// Generated text.
	Text string `json:"text"`
	// Number of tokens generated.
	// example: 118
	TokensGenerated int `json:"tokens_generated" example:"118"`
	// Wall-clock duration in milliseconds.
	// example: 5321
	ElapsedMs int64 `json:"elapsed_ms" example:"5321"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Whether a model is currently resident in memory.
	Loaded bool `json:"loaded"`
	// Configured model.
	Model ModelConfig `json:"model"`
	// Uptime of the process in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: prompt exceeds context window
	Error string `json:"error" example:"prompt exceeds context window"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
