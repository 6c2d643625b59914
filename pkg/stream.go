package pkg

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// Event es un elemento crudo recibido del stream upstream. Una línea SSE de
// Azure viaja en Line (con SSE a true para distinguir la línea vacía de
// keep-alive); un evento estructurado de Bedrock viaja en Kind y Payload
type Event struct {
	Line    string
	SSE     bool
	Kind    string
	Payload map[string]interface{}
}

// SSELine construye un evento a partir de una línea SSE
func SSELine(line string) Event {
	return Event{Line: line, SSE: true}
}

// StreamEvent construye un evento estructurado de Bedrock
func StreamEvent(kind string, payload map[string]interface{}) Event {
	return Event{Kind: kind, Payload: payload}
}

// Chunk es la unidad que ve el cliente. Terminal marca el último chunk del
// stream: después de emitirlo no se consume nada más del upstream
type Chunk struct {
	Data     []byte
	Terminal bool
}

// EventSource itera los eventos de un stream upstream en modo pull.
// Next devuelve io.EOF cuando el stream termina de forma normal
type EventSource interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Transcoder convierte un evento upstream en cero o un chunk para el
// cliente, actualizando el estado de uso por el camino
type Transcoder interface {
	Transcode(event Event, state *UsageState) *Chunk
}

// Pump conduce un stream upstream hacia el writer del cliente aplicando el
// transcoder evento a evento, en orden estricto
type Pump struct {
	source     EventSource
	transcoder Transcoder
	report     func(*UsageState)
}

// NewPump crea un pump. El callback report se invoca exactamente una vez
// con el estado final de uso, sea cual sea la forma en que acabe el stream
func NewPump(source EventSource, transcoder Transcoder, report func(*UsageState)) *Pump {
	return &Pump{
		source:     source,
		transcoder: transcoder,
		report:     report,
	}
}

// Run consume el stream hasta agotarlo, hasta un chunk terminal, hasta un
// error o hasta que el contexto se cancele. Un error a mitad de stream se
// convierte en una línea JSON {"error": ...} hacia el cliente. Devuelve el
// estado de uso acumulado
func (p *Pump) Run(ctx context.Context, w io.Writer) *UsageState {
	state := NewUsageState()
	flusher, _ := w.(http.Flusher)

	defer p.source.Close()
	if p.report != nil {
		defer func() { p.report(state) }()
	}

	for {
		select {
		case <-ctx.Done():
			return state
		default:
		}

		event, err := p.source.Next(ctx)
		if err == io.EOF {
			return state
		}
		if err != nil {
			p.writeError(w, flusher, err)
			return state
		}

		chunk := p.transcoder.Transcode(event, state)
		if chunk == nil {
			continue
		}

		if _, err := w.Write(chunk.Data); err != nil {
			// El cliente cerró la conexión
			return state
		}
		if flusher != nil {
			flusher.Flush()
		}

		if chunk.Terminal {
			return state
		}
	}
}

// writeError emite el error como una línea JSON, igual que un chunk más
func (p *Pump) writeError(w io.Writer, flusher http.Flusher, err error) {
	data, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return
	}
	if flusher != nil {
		flusher.Flush()
	}
}
