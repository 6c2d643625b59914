package pkg

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"ai-proxy/pkg/amslog"
	"ai-proxy/pkg/metrics"
)

func TestMain(m *testing.M) {
	Logger = amslog.NewLogger(amslog.Config{
		ServiceName:    "ai-proxy",
		ServiceVersion: "test",
		Environment:    "dev",
		Output:         io.Discard,
	})

	code := m.Run()
	Logger.Close()
	os.Exit(code)
}

// bufferLogger crea un logger síncrono sobre un buffer para inspeccionar
// los eventos emitidos durante el test
func bufferLogger(buf *bytes.Buffer) *amslog.Logger {
	return amslog.NewLogger(amslog.Config{
		ServiceName:    "ai-proxy",
		ServiceVersion: "test",
		Environment:    "dev",
		Output:         buf,
	})
}

func newAzureRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost,
		"/azure/openai/deployments/gpt-4o/chat/completions", strings.NewReader(body))
	req.Header.Set("api-key", "test-key")
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeJSONError(t *testing.T, body string) string {
	t.Helper()
	var doc map[string]string
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		t.Fatalf("Expected JSON error body, got: %q", body)
	}
	return doc["error"]
}

func TestHandleProxyUnsupportedPath(t *testing.T) {
	client := NewAzureClient(&AzureConfig{Endpoint: "http://example.invalid"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/azure/openai/models", nil)
	req.Header.Set("api-key", "test-key")
	rec := httptest.NewRecorder()

	client.HandleProxy(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
	if msg := decodeJSONError(t, rec.Body.String()); msg != "Unsupported path: openai/models" {
		t.Errorf("Unexpected error message: %q", msg)
	}
}

func TestHandleProxyMissingAPIKey(t *testing.T) {
	client := NewAzureClient(&AzureConfig{Endpoint: "http://example.invalid"}, nil)

	req := httptest.NewRequest(http.MethodPost,
		"/azure/openai/deployments/gpt-4o/chat/completions", strings.NewReader("{}"))
	rec := httptest.NewRecorder()

	client.HandleProxy(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}
	if msg := decodeJSONError(t, rec.Body.String()); msg != "Missing api-key header" {
		t.Errorf("Unexpected error message: %q", msg)
	}
}

func TestHandleProxyForcesIncludeUsage(t *testing.T) {
	var captured map[string]interface{}
	var gotAPIKey, gotAPIVersion string

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &captured)
		gotAPIKey = r.Header.Get("api-key")
		gotAPIVersion = r.URL.Query().Get("api-version")

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer upstream.Close()

	client := NewAzureClient(&AzureConfig{Endpoint: upstream.URL, APIVersion: "2024-02-01"}, nil)

	// El cliente intenta desactivar el reporte de uso: el proxy lo pisa
	req := newAzureRequest(`{"stream":true,"stream_options":{"include_usage":false},"messages":[]}`)
	rec := httptest.NewRecorder()
	client.HandleProxy(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	options, ok := captured["stream_options"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected stream_options object upstream, got: %v", captured)
	}
	if options["include_usage"] != true {
		t.Errorf("Expected include_usage forced to true, got: %v", options)
	}
	if gotAPIKey != "test-key" {
		t.Errorf("Expected api-key forwarded, got: %q", gotAPIKey)
	}
	if gotAPIVersion != "2024-02-01" {
		t.Errorf("Expected default api-version injected, got: %q", gotAPIVersion)
	}
}

func TestHandleProxyReplacesInvalidStreamOptions(t *testing.T) {
	var captured map[string]interface{}

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &captured)
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer upstream.Close()

	client := NewAzureClient(&AzureConfig{Endpoint: upstream.URL}, nil)

	req := newAzureRequest(`{"stream":true,"stream_options":"inválido"}`)
	rec := httptest.NewRecorder()
	client.HandleProxy(rec, req)

	options, ok := captured["stream_options"].(map[string]interface{})
	if !ok || options["include_usage"] != true {
		t.Errorf("Expected stream_options replaced with include_usage, got: %v", captured)
	}
}

func TestHandleProxyClientAPIVersionWins(t *testing.T) {
	var gotAPIVersion string

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIVersion = r.URL.Query().Get("api-version")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer upstream.Close()

	client := NewAzureClient(&AzureConfig{Endpoint: upstream.URL, APIVersion: "2024-02-01"}, nil)

	req := httptest.NewRequest(http.MethodPost,
		"/azure/openai/deployments/gpt-4o/chat/completions?api-version=2023-05-15",
		strings.NewReader(`{"messages":[]}`))
	req.Header.Set("api-key", "test-key")
	rec := httptest.NewRecorder()
	client.HandleProxy(rec, req)

	if gotAPIVersion != "2023-05-15" {
		t.Errorf("Expected client api-version to win, got: %q", gotAPIVersion)
	}
}

func TestHandleProxyRelaysUpstreamStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte(`{"error":{"code":"teapot"}}`))
	}))
	defer upstream.Close()

	client := NewAzureClient(&AzureConfig{Endpoint: upstream.URL}, nil)

	req := newAzureRequest(`{"messages":[]}`)
	rec := httptest.NewRecorder()
	client.HandleProxy(rec, req)

	// El status y el body del upstream viajan sin transcodificar
	if rec.Code != http.StatusTeapot {
		t.Errorf("Expected 418 relayed, got %d", rec.Code)
	}
	if rec.Body.String() != `{"error":{"code":"teapot"}}` {
		t.Errorf("Expected upstream body verbatim, got: %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected upstream content type, got: %q", ct)
	}
}

func TestHandleProxyUpstreamDown(t *testing.T) {
	// Puerto 1: nadie escucha
	client := NewAzureClient(&AzureConfig{Endpoint: "http://127.0.0.1:1"}, nil)

	req := newAzureRequest(`{"messages":[]}`)
	rec := httptest.NewRecorder()
	client.HandleProxy(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", rec.Code)
	}
	if msg := decodeJSONError(t, rec.Body.String()); msg != "Upstream connection failed" {
		t.Errorf("Unexpected error message: %q", msg)
	}
}

func TestHandleProxyStreamEndToEnd(t *testing.T) {
	sse := `data: {"choices":[{"delta":{"content":"Ho"}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"content":"la"}}]}` + "\n\n" +
		`data: {"usage":{"prompt_tokens":8,"completion_tokens":2,"total_tokens":10}}` + "\n\n" +
		"data: [DONE]\n\n"

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sse))
	}))
	defer upstream.Close()

	var logBuf bytes.Buffer
	workerLogger := bufferLogger(&logBuf)
	defer workerLogger.Close()

	worker := metrics.NewUsageWorker(workerLogger, metrics.Config{
		BufferSize:    10,
		BatchSize:     10,
		FlushInterval: time.Minute,
	})
	worker.Start()

	client := NewAzureClient(&AzureConfig{Endpoint: upstream.URL}, worker)

	req := newAzureRequest(`{"stream":true,"messages":[]}`)
	rec := httptest.NewRecorder()
	client.HandleProxy(rec, req)

	worker.Stop()

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got: %q", ct)
	}
	if rec.Header().Get("X-Accel-Buffering") != "no" {
		t.Error("Expected X-Accel-Buffering: no")
	}
	if !rec.Flushed {
		t.Error("Expected streamed response to be flushed")
	}

	// El stream transcodificado reproduce el SSE original línea a línea
	if rec.Body.String() != sse {
		t.Errorf("Unexpected stream body:\n got: %q\nwant: %q", rec.Body.String(), sse)
	}

	// El consumo acumulado llega al worker de uso
	logged := logBuf.String()
	if !strings.Contains(logged, "USAGE_RECORD") {
		t.Errorf("Expected a usage record, got logs: %s", logged)
	}
	if !strings.Contains(logged, "azure chat_completions | Tokens: 10 (Input: 8, Output: 2)") {
		t.Errorf("Expected usage message with token counts, got logs: %s", logged)
	}
}

func TestHandleProxyFullResponse(t *testing.T) {
	responseBody := `{"id":"cmpl-1","choices":[{"message":{"content":"Hola"}}],"usage":{"prompt_tokens":100,"completion_tokens":40,"total_tokens":140}}`

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(responseBody))
	}))
	defer upstream.Close()

	var logBuf bytes.Buffer
	workerLogger := bufferLogger(&logBuf)
	defer workerLogger.Close()

	worker := metrics.NewUsageWorker(workerLogger, metrics.Config{
		BufferSize:    10,
		BatchSize:     10,
		FlushInterval: time.Minute,
	})
	worker.Start()

	client := NewAzureClient(&AzureConfig{Endpoint: upstream.URL}, worker)

	req := newAzureRequest(`{"messages":[]}`)
	rec := httptest.NewRecorder()
	client.HandleProxy(rec, req)

	worker.Stop()

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != responseBody {
		t.Errorf("Expected upstream body verbatim, got: %q", rec.Body.String())
	}

	if !strings.Contains(logBuf.String(), "azure chat_completions | Tokens: 140 (Input: 100, Output: 40)") {
		t.Errorf("Expected usage extracted from full response, got logs: %s", logBuf.String())
	}
}
