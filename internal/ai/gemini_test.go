package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func fakeGemini(t *testing.T, handler http.HandlerFunc) *Assistant {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a := NewAssistant("test-key", "gemini-2.5-flash")
	a.baseURL = srv.URL
	return a
}

func generationBody(text string) []byte {
	resp := map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]string{{"text": text}}}},
		},
	}
	b, _ := json.Marshal(resp)
	return b
}

func TestGenerateBookMetadata(t *testing.T) {
	var gotPath string
	var gotReq generateRequest
	a := fakeGemini(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(generationBody(`{"description":"Una saga familiar en Macondo.","category":"Ficción"}`))
	})

	meta := a.GenerateBookMetadata(context.Background(), "Cien años de soledad", "Gabriel García Márquez")
	if meta.Description != "Una saga familiar en Macondo." || meta.Category != "Ficción" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if gotPath != "/models/gemini-2.5-flash:generateContent" {
		t.Fatalf("unexpected path: %q", gotPath)
	}
	if gotReq.GenerationConfig == nil || gotReq.GenerationConfig.ResponseMIMEType != "application/json" {
		t.Fatalf("structured output not requested: %+v", gotReq.GenerationConfig)
	}
	if gotReq.GenerationConfig.Temperature != 0.3 {
		t.Fatalf("unexpected temperature: %v", gotReq.GenerationConfig.Temperature)
	}
}

func TestGenerateBookMetadataMalformedResponse(t *testing.T) {
	a := fakeGemini(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(generationBody("not json at all"))
	})
	meta := a.GenerateBookMetadata(context.Background(), "t", "a")
	if meta != fallbackFailed {
		t.Fatalf("expected failure fallback, got %+v", meta)
	}
}

func TestGenerateBookMetadataAPIError(t *testing.T) {
	a := fakeGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	})
	meta := a.GenerateBookMetadata(context.Background(), "t", "a")
	if meta != fallbackFailed {
		t.Fatalf("expected failure fallback, got %+v", meta)
	}
}

func TestGenerateBookMetadataMissingKey(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	a := NewAssistant("", "")
	a.baseURL = srv.URL
	meta := a.GenerateBookMetadata(context.Background(), "t", "a")
	if meta != fallbackMissingKey {
		t.Fatalf("expected missing-key fallback, got %+v", meta)
	}
	if called {
		t.Fatalf("no HTTP call should happen without an API key")
	}
}

func TestGenerateBookMetadataNilAssistant(t *testing.T) {
	var a *Assistant
	if meta := a.GenerateBookMetadata(context.Background(), "t", "a"); meta != fallbackMissingKey {
		t.Fatalf("nil assistant should fall back, got %+v", meta)
	}
}
