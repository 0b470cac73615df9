package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"coachlm/internal/native"
	"coachlm/internal/resolver"
	"coachlm/pkg/types"
)

var errTest = errors.New("boom")

// fakeResolver serves a fixed path without touching the filesystem.
type fakeResolver struct {
	downloaded bool
	path       string
}

func (r fakeResolver) IsDownloaded(types.ModelConfig) bool { return r.downloaded }

func (r fakeResolver) ModelPath(cfg types.ModelConfig) (string, error) {
	if !r.downloaded {
		return "", resolver.ErrNotDownloaded{Name: cfg.Name, Path: r.path}
	}
	return r.path, nil
}

func (r fakeResolver) Download(context.Context, types.ModelConfig, resolver.ProgressFunc) error {
	if r.downloaded {
		return nil
	}
	return resolver.ErrNotDownloaded{Name: "fake", Path: r.path}
}

// fakeRuntime scripts the native layer. Tokenization maps one token per
// whitespace-separated word (plus BOS); sampling replays the scripted
// pieces in order, then EOS.
type fakeRuntime struct {
	mu       sync.Mutex
	script   []string
	loadErr  error
	loads    int
	lastPath string
	ctx      *fakeContext
}

func (r *fakeRuntime) LoadModel(path string, _ native.ModelParams) (native.Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	r.lastPath = path
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	return &fakeModel{rt: r}, nil
}

type fakeModel struct {
	rt     *fakeRuntime
	closed bool
}

func (m *fakeModel) NewContext(params native.ContextParams) (native.Context, error) {
	c := &fakeContext{rt: m.rt, params: params}
	m.rt.mu.Lock()
	m.rt.ctx = c
	m.rt.mu.Unlock()
	return c, nil
}

func (m *fakeModel) Close() { m.closed = true }

const (
	fakeBOS     = native.Token(1)
	fakeEOS     = native.Token(2)
	fakeTokBase = native.Token(100)
)

type fakeContext struct {
	rt     *fakeRuntime
	params native.ContextParams

	pos       int
	sampleIdx int
	resets    int
	decodes   [][]native.Token
	closed    bool

	tokenizeErr error
	decodeErr   error
	sampleErr   error
}

func (c *fakeContext) Tokenize(text string, addBOS bool) ([]native.Token, error) {
	if c.tokenizeErr != nil {
		return nil, c.tokenizeErr
	}
	words := strings.Fields(text)
	var out []native.Token
	if addBOS {
		out = append(out, fakeBOS)
	}
	for i := range words {
		out = append(out, fakeTokBase+native.Token(i))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no tokens")
	}
	return out, nil
}

func (c *fakeContext) Decode(tokens []native.Token) error {
	if c.decodeErr != nil {
		return c.decodeErr
	}
	if len(tokens) > c.params.BatchSize {
		return fmt.Errorf("batch of %d exceeds %d", len(tokens), c.params.BatchSize)
	}
	cp := make([]native.Token, len(tokens))
	copy(cp, tokens)
	c.decodes = append(c.decodes, cp)
	c.pos += len(tokens)
	return nil
}

func (c *fakeContext) Sample() (native.Token, error) {
	if c.sampleErr != nil {
		return 0, c.sampleErr
	}
	if c.sampleIdx >= len(c.rt.script) {
		return fakeEOS, nil
	}
	tok := fakeTokBase + native.Token(c.sampleIdx)
	c.sampleIdx++
	return tok, nil
}

func (c *fakeContext) IsEOS(tok native.Token) bool { return tok == fakeEOS }

func (c *fakeContext) Piece(tok native.Token) (string, error) {
	i := int(tok - fakeTokBase)
	if i < 0 || i >= len(c.rt.script) {
		return "", fmt.Errorf("unknown token %d", tok)
	}
	return c.rt.script[i], nil
}

func (c *fakeContext) Reset() error {
	c.resets++
	c.pos = 0
	c.sampleIdx = 0
	c.decodes = nil
	return nil
}

func (c *fakeContext) Close() { c.closed = true }

// repeat builds a script of n copies of piece.
func repeat(piece string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = piece
	}
	return out
}

// newTestEngine wires an engine to the fake runtime and resolver.
func newTestEngine(rt *fakeRuntime, window int, opts ...func(*Options)) (*Engine, error) {
	cfg := types.ModelConfig{Name: "test-model", ContextWindow: window}
	o := Options{
		Resolver: fakeResolver{downloaded: true, path: "/models/test-model.gguf"},
		Runtime:  rt,
	}
	for _, f := range opts {
		f(&o)
	}
	return New("", cfg, o)
}
