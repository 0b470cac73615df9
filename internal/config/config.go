// Package config loads file-based configuration for the coachlm CLI and
// debug server. Zero values mean "unspecified" and are replaced by defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"coachlm/pkg/types"
)

// Guards holds the tunables of the degenerate-output heuristics. They are
// empirically tuned per model, so they live in config rather than code.
type Guards struct {
	// Check accumulated output for stop markers every N tokens.
	StopCheckEvery int `json:"stop_check_every" yaml:"stop_check_every" toml:"stop_check_every"`
	// Run the repetition/pattern checks every N tokens.
	LoopCheckEvery int `json:"loop_check_every" yaml:"loop_check_every" toml:"loop_check_every"`
	// Repetition check only runs past this many generated tokens.
	LoopMinTokens int `json:"loop_min_tokens" yaml:"loop_min_tokens" toml:"loop_min_tokens"`
	// Malformed tool-call check only runs past this many generated tokens.
	PatternMinTokens int `json:"pattern_min_tokens" yaml:"pattern_min_tokens" toml:"pattern_min_tokens"`
	// Word count of each repetition comparison window.
	LoopWindowWords int `json:"loop_window_words" yaml:"loop_window_words" toml:"loop_window_words"`
}

// Config holds runtime parameters for the process.
type Config struct {
	// Model picked at construction time; the engine runs exactly one.
	Model types.ModelConfig `json:"model" yaml:"model" toml:"model"`
	// Directory holding downloaded *.gguf files.
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	// Directory holding the llama.cpp shared libraries.
	LibPath string `json:"lib_path" yaml:"lib_path" toml:"lib_path"`
	// HTTP listen address for the debug server.
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
	// Buffer size of the streaming chunk channel.
	StreamBuffer int `json:"stream_buffer" yaml:"stream_buffer" toml:"stream_buffer"`
	// Log level: debug|info|warn|error.
	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
	// Heuristic guard tuning.
	Guards Guards `json:"guards" yaml:"guards" toml:"guards"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Model: types.ModelConfig{
			Name:          "qwen2.5-3b-instruct-q4_k_m",
			ContextWindow: 4096,
		},
		ModelsDir:    "~/models/llm",
		Addr:         "127.0.0.1:8090",
		StreamBuffer: 64,
		LogLevel:     "info",
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields from Default.
func (c *Config) ApplyDefaults() {
	d := Default()
	if c.Model.Name == "" {
		c.Model.Name = d.Model.Name
	}
	if c.Model.ContextWindow <= 0 {
		c.Model.ContextWindow = d.Model.ContextWindow
	}
	if c.ModelsDir == "" {
		c.ModelsDir = d.ModelsDir
	}
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.StreamBuffer <= 0 {
		c.StreamBuffer = d.StreamBuffer
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}
