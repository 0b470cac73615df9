package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"coachlm/internal/engine"
	"coachlm/pkg/types"
)

// stubService scripts engine behavior for handler tests.
type stubService struct {
	loaded      bool
	generateErr error
	healthErr   error
	resp        types.LlmResponse
	chunks      []types.StreamChunk
	streamErr   error
}

func (s *stubService) Generate(prompt string, maxTokens int, temperature float32) (*types.LlmResponse, error) {
	if s.generateErr != nil {
		return nil, s.generateErr
	}
	r := s.resp
	return &r, nil
}

func (s *stubService) GenerateStream(ctx context.Context, prompt string, maxTokens int, temperature float32) (<-chan engine.StreamResult, error) {
	if s.generateErr != nil {
		return nil, s.generateErr
	}
	ch := make(chan engine.StreamResult, len(s.chunks)+1)
	go func() {
		defer close(ch)
		for _, c := range s.chunks {
			select {
			case ch <- engine.StreamResult{Chunk: c}:
			case <-ctx.Done():
				return
			}
		}
		if s.streamErr != nil {
			ch <- engine.StreamResult{Err: s.streamErr}
		}
	}()
	return ch, nil
}

func (s *stubService) IsLoaded() bool      { return s.loaded }
func (s *stubService) LoadModel() error    { s.loaded = true; return nil }
func (s *stubService) UnloadModel() error  { s.loaded = false; return nil }
func (s *stubService) HealthCheck() error  { return s.healthErr }
func (s *stubService) ModelInfo() types.ModelConfig {
	return types.ModelConfig{Name: "tiny-q4", ContextWindow: 512}
}

func newTestServer(svc Service) http.Handler {
	return NewServer(svc, zerolog.Nop(), nil).Router()
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGenerateOK(t *testing.T) {
	svc := &stubService{resp: types.LlmResponse{Text: "hello", TokensGenerated: 3, Elapsed: 1500 * time.Millisecond}}
	rec := postJSON(t, newTestServer(svc), "/generate", types.GenerateRequest{Prompt: "hi", MaxTokens: 8})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp types.GenerateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Text != "hello" || resp.TokensGenerated != 3 || resp.ElapsedMs != 1500 {
		t.Fatalf("resp: %+v", resp)
	}
}

func TestGenerateRequiresPrompt(t *testing.T) {
	rec := postJSON(t, newTestServer(&stubService{}), "/generate", types.GenerateRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestGenerateRejectsBadJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	newTestServer(&stubService{}).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestGenerateErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", engine.ErrNotFound("model absent"), http.StatusNotFound},
		{"invalid input", engine.ErrInvalidInput("prompt too long"), http.StatusBadRequest},
		{"system", engine.ErrSystem("decode failed", nil), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubService{generateErr: tc.err}
			rec := postJSON(t, newTestServer(svc), "/generate", types.GenerateRequest{Prompt: "hi"})
			if rec.Code != tc.want {
				t.Fatalf("status %d, want %d", rec.Code, tc.want)
			}
			var er types.ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &er); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if er.Code != tc.want || er.Error == "" {
				t.Fatalf("error payload: %+v", er)
			}
		})
	}
}

func TestGenerateStreamNDJSON(t *testing.T) {
	svc := &stubService{chunks: []types.StreamChunk{
		{Text: "One"},
		{Text: " two"},
		{IsFinal: true},
	}}
	rec := postJSON(t, newTestServer(svc), "/generate", types.GenerateRequest{Prompt: "hi", Stream: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content type %s", ct)
	}
	var got []types.StreamChunk
	sc := bufio.NewScanner(rec.Body)
	for sc.Scan() {
		var c types.StreamChunk
		if err := json.Unmarshal(sc.Bytes(), &c); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		got = append(got, c)
	}
	if len(got) != 3 || got[0].Text != "One" || !got[2].IsFinal {
		t.Fatalf("chunks: %+v", got)
	}
}

func TestStatus(t *testing.T) {
	svc := &stubService{loaded: true}
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	newTestServer(svc).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var st types.StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.Loaded || st.Model.Name != "tiny-q4" {
		t.Fatalf("payload: %+v", st)
	}
}

func TestLoadUnload(t *testing.T) {
	svc := &stubService{}
	h := newTestServer(svc)
	rec := postJSON(t, h, "/load", struct{}{})
	if rec.Code != http.StatusNoContent || !svc.loaded {
		t.Fatalf("load: %d loaded=%v", rec.Code, svc.loaded)
	}
	rec = postJSON(t, h, "/unload", struct{}{})
	if rec.Code != http.StatusNoContent || svc.loaded {
		t.Fatalf("unload: %d loaded=%v", rec.Code, svc.loaded)
	}
}

func TestHealthzAndReadyz(t *testing.T) {
	svc := &stubService{}
	h := newTestServer(svc)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz %d", rec.Code)
	}

	svc.healthErr = engine.ErrSystem("no model loaded", nil)
	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz %d", rec.Code)
	}

	svc.healthErr = nil
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz ok %d", rec.Code)
	}
}

func TestModelEndpoint(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/model", nil)
	rec := httptest.NewRecorder()
	newTestServer(&stubService{}).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var mc types.ModelConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &mc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if mc.Name != "tiny-q4" || mc.ContextWindow != 512 {
		t.Fatalf("model: %+v", mc)
	}
}
