package native

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hybridgroup/yzma/pkg/llama"
)

// Backend init is process-wide and holds no per-model state. yzma keeps the
// shared libraries loaded for the lifetime of the process, so Init runs once.
var (
	initOnce sync.Once
	initErr  error
)

// Init loads the llama.cpp shared libraries and initializes the backend.
// libPath may be empty, in which case common install locations are probed.
// Safe to call multiple times; only the first call does work.
func Init(libPath string) error {
	initOnce.Do(func() {
		if libPath == "" {
			libPath = discoverLibPath()
		}
		abs, err := filepath.Abs(libPath)
		if err == nil {
			libPath = abs
		}
		if err := llama.Load(libPath); err != nil {
			initErr = fmt.Errorf("load llama.cpp libraries from %s: %w", libPath, err)
			return
		}
		llama.Init()
	})
	return initErr
}

// discoverLibPath probes common locations for the yzma-installed llama.cpp
// libraries. Callers should pass an explicit path to override.
func discoverLibPath() string {
	if v := os.Getenv("COACHLM_LIB"); v != "" {
		return v
	}
	candidates := []string{
		"./lib/llama",
	}
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(dir, "lib", "llama"),
			filepath.Join(dir, "lib"),
		)
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".yzma", "lib"))
	}
	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && fi.IsDir() {
			return c
		}
	}
	return "./lib/llama"
}

// yzmaRuntime is the production Runtime backed by llama.cpp.
type yzmaRuntime struct{}

// NewRuntime returns the llama.cpp-backed Runtime. Init must have
// succeeded before any model is loaded.
func NewRuntime() Runtime { return yzmaRuntime{} }

func (yzmaRuntime) LoadModel(path string, params ModelParams) (Model, error) {
	if fi, err := os.Stat(path); err != nil || fi.IsDir() {
		return nil, fmt.Errorf("model file not found: %s", path)
	}
	mp := llama.ModelDefaultParams()
	mp.NGpuLayers = int32(params.GPULayers)
	m, err := llama.ModelLoadFromFile(path, mp)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}
	return &yzmaModel{model: m, vocab: llama.ModelGetVocab(m)}, nil
}

type yzmaModel struct {
	model llama.Model
	vocab llama.Vocab
}

func (m *yzmaModel) NewContext(params ContextParams) (Context, error) {
	c := &yzmaContext{model: m, params: params}
	if err := c.init(); err != nil {
		return nil, err
	}
	return c, nil
}

func (m *yzmaModel) Close() {
	llama.ModelFree(m.model)
}

// yzmaContext owns one llama context plus the greedy sampler attached to it.
// Both are rebuilt together on Reset, which is the cache-clear primitive:
// a fresh context starts with an empty KV cache at position 0.
type yzmaContext struct {
	model   *yzmaModel
	params  ContextParams
	lctx    llama.Context
	sampler llama.Sampler
	valid   bool
}

func (c *yzmaContext) init() error {
	cp := llama.ContextDefaultParams()
	cp.NCtx = uint32(c.params.ContextWindow)
	cp.NBatch = uint32(c.params.BatchSize)
	cp.Embeddings = 0
	lctx, err := llama.InitFromModel(c.model.model, cp)
	if err != nil {
		return fmt.Errorf("create context: %w", err)
	}
	// Greedy decoding: a top-k sampler with k=1 always picks the
	// highest-probability token.
	sp := llama.DefaultSamplerParams()
	sp.Temp = 0
	sp.TopK = 1
	sp.TopP = 1
	sampler := llama.NewSampler(c.model.model, llama.DefaultSamplers, sp)
	c.lctx = lctx
	c.sampler = sampler
	c.valid = true
	return nil
}

func (c *yzmaContext) Tokenize(text string, addBOS bool) ([]Token, error) {
	toks := llama.Tokenize(c.model.vocab, text, addBOS, false)
	if len(toks) == 0 {
		return nil, fmt.Errorf("tokenize produced no tokens")
	}
	out := make([]Token, len(toks))
	for i, t := range toks {
		out[i] = Token(t)
	}
	return out, nil
}

func (c *yzmaContext) Decode(tokens []Token) error {
	if len(tokens) == 0 {
		return fmt.Errorf("decode called with empty batch")
	}
	if len(tokens) > c.params.BatchSize {
		return fmt.Errorf("decode batch of %d exceeds batch size %d", len(tokens), c.params.BatchSize)
	}
	lt := make([]llama.Token, len(tokens))
	for i, t := range tokens {
		lt[i] = llama.Token(t)
	}
	// BatchGetOne returns a stack-allocated batch with the output
	// distribution requested for the last token only. Do not BatchFree.
	batch := llama.BatchGetOne(lt)
	if _, err := llama.Decode(c.lctx, batch); err != nil {
		return fmt.Errorf("decode %d tokens: %w", len(tokens), err)
	}
	return nil
}

func (c *yzmaContext) Sample() (Token, error) {
	tok := llama.SamplerSample(c.sampler, c.lctx, -1)
	if tok < 0 {
		return 0, fmt.Errorf("sampler returned invalid token %d", tok)
	}
	return Token(tok), nil
}

func (c *yzmaContext) IsEOS(tok Token) bool {
	return llama.VocabIsEOG(c.model.vocab, llama.Token(tok))
}

func (c *yzmaContext) Piece(tok Token) (string, error) {
	buf := make([]byte, 64)
	n := llama.TokenToPiece(c.model.vocab, llama.Token(tok), buf, 0, true)
	if n < 0 {
		return "", fmt.Errorf("token %d has no text piece", tok)
	}
	return string(buf[:n]), nil
}

func (c *yzmaContext) Reset() error {
	c.free()
	return c.init()
}

func (c *yzmaContext) Close() {
	c.free()
}

func (c *yzmaContext) free() {
	if !c.valid {
		return
	}
	llama.SamplerFree(c.sampler)
	llama.Free(c.lctx)
	c.valid = false
}
