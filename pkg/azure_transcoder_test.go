package pkg

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
)

func TestAzureTranscodeForwardsDeltaLine(t *testing.T) {
	transcoder := &AzureTranscoder{}
	state := NewUsageState()

	line := `data: {"choices":[{"delta":{"content":"Hola"}}]}`
	chunk := transcoder.Transcode(SSELine(line), state)

	if chunk == nil {
		t.Fatal("Expected a chunk for a data line")
	}
	if got := string(chunk.Data); got != line+"\n" {
		t.Errorf("Expected line forwarded verbatim with newline, got: %q", got)
	}
	if chunk.Terminal {
		t.Error("Delta chunk should not be terminal")
	}
	if state.Text() != "Hola" {
		t.Errorf("Expected delta content accumulated, got: %q", state.Text())
	}
	if state.TotalTokens() != 0 {
		t.Errorf("Expected no tokens from a delta chunk, got %d", state.TotalTokens())
	}
}

func TestAzureTranscodeDone(t *testing.T) {
	transcoder := &AzureTranscoder{}
	chunk := transcoder.Transcode(SSELine("data: [DONE]"), NewUsageState())

	if chunk == nil {
		t.Fatal("Expected a chunk for the DONE sentinel")
	}
	if got := string(chunk.Data); got != "data: [DONE]\n\n" {
		t.Errorf("Expected DONE with double newline, got: %q", got)
	}
	if !chunk.Terminal {
		t.Error("DONE chunk should be terminal")
	}
}

func TestAzureTranscodeKeepAlive(t *testing.T) {
	transcoder := &AzureTranscoder{}
	state := NewUsageState()

	chunk := transcoder.Transcode(SSELine(""), state)

	// La línea vacía separa eventos SSE y debe llegar al cliente
	if chunk == nil {
		t.Fatal("Expected blank keep-alive line to be forwarded")
	}
	if got := string(chunk.Data); got != "\n" {
		t.Errorf("Expected bare newline, got: %q", got)
	}
	if chunk.Terminal {
		t.Error("Keep-alive should not be terminal")
	}
}

func TestAzureTranscodeNonDataLine(t *testing.T) {
	transcoder := &AzureTranscoder{}
	state := NewUsageState()

	chunk := transcoder.Transcode(SSELine("event: ping"), state)

	if chunk == nil || string(chunk.Data) != "event: ping\n" {
		t.Errorf("Expected non-data line forwarded verbatim, got: %v", chunk)
	}
	if state.Text() != "" || state.TotalTokens() != 0 {
		t.Error("Non-data line should not touch usage state")
	}
}

func TestAzureTranscodeUsage(t *testing.T) {
	transcoder := &AzureTranscoder{}
	state := NewUsageState()

	line := `data: {"choices":[],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`
	transcoder.Transcode(SSELine(line), state)

	if state.InputTokens != 10 || state.OutputTokens != 5 {
		t.Errorf("Expected tokens 10/5, got %d/%d", state.InputTokens, state.OutputTokens)
	}
}

func TestAzureTranscodeUsageTotalOnly(t *testing.T) {
	transcoder := &AzureTranscoder{}
	state := NewUsageState()

	// Algunos deployments solo reportan total_tokens: se atribuye a salida
	transcoder.Transcode(SSELine(`data: {"usage":{"total_tokens":42}}`), state)

	if state.InputTokens != 0 || state.OutputTokens != 42 {
		t.Errorf("Expected total attributed to output, got %d/%d", state.InputTokens, state.OutputTokens)
	}
	if state.TotalTokens() != 42 {
		t.Errorf("Expected total 42, got %d", state.TotalTokens())
	}
}

func TestAzureTranscodeLastUsageWins(t *testing.T) {
	transcoder := &AzureTranscoder{}
	state := NewUsageState()

	transcoder.Transcode(SSELine(`data: {"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`), state)
	transcoder.Transcode(SSELine(`data: {"usage":{"prompt_tokens":20,"completion_tokens":7,"total_tokens":27}}`), state)

	if state.InputTokens != 20 || state.OutputTokens != 7 {
		t.Errorf("Expected last usage report to win, got %d/%d", state.InputTokens, state.OutputTokens)
	}
}

func TestAzureTranscodeNullUsageIgnored(t *testing.T) {
	transcoder := &AzureTranscoder{}
	state := NewUsageState()
	state.SetTokens(10, 5)

	// usage: null no debe pisar los contadores ya acumulados
	transcoder.Transcode(SSELine(`data: {"choices":[{"delta":{"content":"x"}}],"usage":null}`), state)

	if state.InputTokens != 10 || state.OutputTokens != 5 {
		t.Errorf("Expected null usage to be ignored, got %d/%d", state.InputTokens, state.OutputTokens)
	}
}

func TestAzureTranscodeMalformedJSON(t *testing.T) {
	transcoder := &AzureTranscoder{}
	state := NewUsageState()

	line := `data: {esto no es json`
	chunk := transcoder.Transcode(SSELine(line), state)

	// El payload ilegible viaja igualmente; el stream no se corta
	if chunk == nil || string(chunk.Data) != line+"\n" {
		t.Errorf("Expected malformed payload forwarded verbatim, got: %v", chunk)
	}
	if chunk.Terminal {
		t.Error("Malformed payload should not be terminal")
	}
	if state.Text() != "" || state.TotalTokens() != 0 {
		t.Error("Malformed payload should not touch usage state")
	}
}

func TestAzureTranscodeLegacyTextField(t *testing.T) {
	transcoder := &AzureTranscoder{}
	state := NewUsageState()

	transcoder.Transcode(SSELine(`data: {"choices":[{"text":"clásico"}]}`), state)

	if state.Text() != "clásico" {
		t.Errorf("Expected legacy text field accumulated, got: %q", state.Text())
	}
}

func TestAzureTranscodeDeltaThenText(t *testing.T) {
	transcoder := &AzureTranscoder{}
	state := NewUsageState()

	// Con ambos campos presentes, delta.content se acumula antes que text
	transcoder.Transcode(SSELine(`data: {"choices":[{"delta":{"content":"a"},"text":"b"}]}`), state)

	if state.Text() != "ab" {
		t.Errorf("Expected delta before text, got: %q", state.Text())
	}
}

func TestAzureTranscodeDeterministic(t *testing.T) {
	lines := []string{
		`data: {"choices":[{"delta":{"content":"Ho"}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"la"}}]}`,
		``,
		`data: {"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
		``,
		`data: [DONE]`,
	}

	run := func() (string, *UsageState) {
		transcoder := &AzureTranscoder{}
		state := NewUsageState()
		var out bytes.Buffer
		for _, line := range lines {
			if chunk := transcoder.Transcode(SSELine(line), state); chunk != nil {
				out.Write(chunk.Data)
			}
		}
		return out.String(), state
	}

	first, firstState := run()
	second, secondState := run()

	if first != second {
		t.Error("Expected identical output for identical input")
	}
	if firstState.Text() != secondState.Text() || firstState.TotalTokens() != secondState.TotalTokens() {
		t.Error("Expected identical usage state for identical input")
	}
}

// closeTracker registra si el body fue cerrado
type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestSSESourceIteratesLines(t *testing.T) {
	body := &closeTracker{Reader: strings.NewReader("línea1\n\nlínea2\n")}
	source := NewSSESource(body)

	expected := []string{"línea1", "", "línea2"}
	for i, want := range expected {
		event, err := source.Next(context.Background())
		if err != nil {
			t.Fatalf("Unexpected error at line %d: %v", i, err)
		}
		if !event.SSE || event.Line != want {
			t.Errorf("Expected SSE line %q, got: %+v", want, event)
		}
	}

	if _, err := source.Next(context.Background()); err != io.EOF {
		t.Errorf("Expected io.EOF at end of body, got: %v", err)
	}

	source.Close()
	if !body.closed {
		t.Error("Expected Close to close the body")
	}
}

func TestAzureStreamEndToEnd(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"id":"1","choices":[{"delta":{"content":"Ho"}}]}`,
		``,
		`data: {"id":"2","choices":[{"delta":{"content":"la"}}]}`,
		``,
		`data: {"id":"3","choices":[],"usage":{"prompt_tokens":8,"completion_tokens":2,"total_tokens":10}}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	body := io.NopCloser(strings.NewReader(sse))

	var reported *UsageState
	pump := NewPump(NewSSESource(body), &AzureTranscoder{}, func(state *UsageState) {
		reported = state
	})

	var out bytes.Buffer
	pump.Run(context.Background(), &out)

	expected := `data: {"id":"1","choices":[{"delta":{"content":"Ho"}}]}` + "\n" +
		"\n" +
		`data: {"id":"2","choices":[{"delta":{"content":"la"}}]}` + "\n" +
		"\n" +
		`data: {"id":"3","choices":[],"usage":{"prompt_tokens":8,"completion_tokens":2,"total_tokens":10}}` + "\n" +
		"\n" +
		"data: [DONE]\n\n"

	if out.String() != expected {
		t.Errorf("Unexpected stream output:\n got: %q\nwant: %q", out.String(), expected)
	}

	if reported == nil {
		t.Fatal("Expected usage report")
	}
	if reported.InputTokens != 8 || reported.OutputTokens != 2 {
		t.Errorf("Expected reported tokens 8/2, got %d/%d", reported.InputTokens, reported.OutputTokens)
	}
	if reported.Text() != "Hola" {
		t.Errorf("Expected reported text Hola, got: %q", reported.Text())
	}
}

func BenchmarkAzureTranscodeDelta(b *testing.B) {
	transcoder := &AzureTranscoder{}
	state := NewUsageState()
	line := SSELine(`data: {"id":"1","choices":[{"delta":{"content":"Hola"}}]}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		transcoder.Transcode(line, state)
	}
}
