package pkg

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
)

const (
	azureDataPrefix   = "data: "
	azureDoneSentinel = "data: [DONE]"

	// Tamaño máximo de una línea SSE (los chunks de Azure pueden traer
	// bloques de uso y deltas largos en una sola línea)
	maxSSELineBytes = 1024 * 1024
)

// azureChunk es la porción de un chunk SSE de Azure que el proxy examina.
// El resto del payload viaja intacto hacia el cliente
type azureChunk struct {
	Usage   *azureUsage   `json:"usage"`
	Choices []azureChoice `json:"choices"`
}

type azureChoice struct {
	Delta *azureDelta `json:"delta"`
	Text  string      `json:"text"`
}

type azureDelta struct {
	Content string `json:"content"`
}

// parseAzureChunk intenta interpretar el payload JSON de una línea data:.
// El resultado indica de forma explícita si el parseo tuvo éxito; un fallo
// nunca detiene el stream
func parseAzureChunk(data []byte) (azureChunk, bool) {
	var chunk azureChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return azureChunk{}, false
	}
	return chunk, true
}

// AzureTranscoder reenvía líneas SSE de Azure tal cual llegan, extrayendo
// de paso tokens y texto generado
type AzureTranscoder struct{}

// Transcode procesa una línea SSE. Toda línea se reenvía: las vacías
// actúan de keep-alive, data: [DONE] cierra el stream y el resto viaja
// verbatim con terminación de línea
func (t *AzureTranscoder) Transcode(event Event, state *UsageState) *Chunk {
	line := event.Line

	if line == azureDoneSentinel {
		return &Chunk{Data: []byte(line + "\n\n"), Terminal: true}
	}

	chunk := &Chunk{Data: []byte(line + "\n")}

	if !strings.HasPrefix(line, azureDataPrefix) {
		return chunk
	}

	payload, ok := parseAzureChunk([]byte(strings.TrimPrefix(line, azureDataPrefix)))
	if !ok {
		return chunk
	}

	if payload.Usage != nil && !payload.Usage.empty() {
		state.SetTokens(payload.Usage.split())
	}

	for _, choice := range payload.Choices {
		if choice.Delta != nil && choice.Delta.Content != "" {
			state.AppendText(choice.Delta.Content)
		}
		if choice.Text != "" {
			state.AppendText(choice.Text)
		}
	}

	return chunk
}

// sseSource itera las líneas de un body SSE de Azure
type sseSource struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// NewSSESource crea un EventSource sobre un body HTTP con formato SSE
func NewSSESource(body io.ReadCloser) EventSource {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)
	return &sseSource{
		body:    body,
		scanner: scanner,
	}
}

func (s *sseSource) Next(ctx context.Context) (Event, error) {
	if s.scanner.Scan() {
		return SSELine(s.scanner.Text()), nil
	}
	if err := s.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

func (s *sseSource) Close() error {
	return s.body.Close()
}
