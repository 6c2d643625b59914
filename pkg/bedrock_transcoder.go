package pkg

import (
	"context"
	"encoding/json"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// invokePayload es la porción de un chunk de InvokeModel que puede traer
// texto generado. Cada familia de modelos usa un campo distinto; la primera
// variante presente gana
type invokePayload struct {
	OutputText *string      `json:"outputText"`
	Completion *string      `json:"completion"`
	Delta      *invokeDelta `json:"delta"`
}

type invokeDelta struct {
	Text *string `json:"text"`
}

// extractInvokeText busca texto generado dentro del payload de un chunk.
// Orden de preferencia: outputText (Titan), completion (Claude clásico),
// delta.text (Claude messages)
func extractInvokeText(data []byte) (string, bool) {
	var payload invokePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", false
	}
	if payload.OutputText != nil {
		return *payload.OutputText, true
	}
	if payload.Completion != nil {
		return *payload.Completion, true
	}
	if payload.Delta != nil && payload.Delta.Text != nil {
		return *payload.Delta.Text, true
	}
	return "", false
}

// BedrockTranscoder serializa cada evento de Bedrock como una línea JSON
// {tipo: payload} y acumula tokens y texto generado por el camino. Los
// tipos de evento desconocidos también se reenvían
type BedrockTranscoder struct{}

func (t *BedrockTranscoder) Transcode(event Event, state *UsageState) *Chunk {
	data, err := json.Marshal(map[string]interface{}{event.Kind: event.Payload})
	if err != nil {
		return nil
	}

	switch event.Kind {
	case "metadata":
		if usage, ok := event.Payload["usage"].(map[string]interface{}); ok {
			state.SetTokens(intField(usage, "inputTokens"), intField(usage, "outputTokens"))
		}
	case "chunk":
		if raw, ok := event.Payload["bytes"].(string); ok {
			if text, ok := extractInvokeText([]byte(raw)); ok {
				state.AppendText(text)
			}
		}
	case "contentBlockDelta":
		if delta, ok := event.Payload["delta"].(map[string]interface{}); ok {
			if text, ok := delta["text"].(string); ok {
				state.AppendText(text)
			}
		}
	}

	return &Chunk{Data: append(data, '\n')}
}

// intField lee un campo numérico de un payload, venga como int nativo o
// como float64 tras pasar por JSON
func intField(payload map[string]interface{}, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// convertConverseEvent serializa un evento tipado de ConverseStream al
// formato de mapa que viaja al cliente
func convertConverseEvent(event types.ConverseStreamOutput) Event {
	switch e := event.(type) {
	case *types.ConverseStreamOutputMemberMessageStart:
		return StreamEvent("messageStart", map[string]interface{}{
			"role": string(e.Value.Role),
		})

	case *types.ConverseStreamOutputMemberContentBlockStart:
		return StreamEvent("contentBlockStart", map[string]interface{}{
			"contentBlockIndex": int(aws.ToInt32(e.Value.ContentBlockIndex)),
		})

	case *types.ConverseStreamOutputMemberContentBlockDelta:
		payload := map[string]interface{}{
			"contentBlockIndex": int(aws.ToInt32(e.Value.ContentBlockIndex)),
		}
		if delta, ok := e.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
			payload["delta"] = map[string]interface{}{"text": delta.Value}
		}
		return StreamEvent("contentBlockDelta", payload)

	case *types.ConverseStreamOutputMemberContentBlockStop:
		return StreamEvent("contentBlockStop", map[string]interface{}{
			"contentBlockIndex": int(aws.ToInt32(e.Value.ContentBlockIndex)),
		})

	case *types.ConverseStreamOutputMemberMessageStop:
		return StreamEvent("messageStop", map[string]interface{}{
			"stopReason": string(e.Value.StopReason),
		})

	case *types.ConverseStreamOutputMemberMetadata:
		payload := map[string]interface{}{}
		if usage := e.Value.Usage; usage != nil {
			usageDoc := map[string]interface{}{}
			if usage.InputTokens != nil {
				usageDoc["inputTokens"] = int(*usage.InputTokens)
			}
			if usage.OutputTokens != nil {
				usageDoc["outputTokens"] = int(*usage.OutputTokens)
			}
			if usage.TotalTokens != nil {
				usageDoc["totalTokens"] = int(*usage.TotalTokens)
			}
			payload["usage"] = usageDoc
		}
		return StreamEvent("metadata", payload)

	default:
		return StreamEvent("unknown", map[string]interface{}{})
	}
}

// convertResponseStreamEvent serializa un evento de InvokeModel streaming.
// Los bytes binarios del chunk se decodifican a texto para que el cliente
// reciba JSON plano
func convertResponseStreamEvent(event types.ResponseStream) Event {
	switch e := event.(type) {
	case *types.ResponseStreamMemberChunk:
		return StreamEvent("chunk", map[string]interface{}{
			"bytes": string(e.Value.Bytes),
		})
	default:
		return StreamEvent("unknown", map[string]interface{}{})
	}
}

// converseSource adapta el stream de eventos de ConverseStream al iterador
// pull del pump
type converseSource struct {
	stream *bedrockruntime.ConverseStreamEventStream
}

func (s *converseSource) Next(ctx context.Context) (Event, error) {
	event, ok := <-s.stream.Events()
	if !ok {
		if err := s.stream.Err(); err != nil {
			return Event{}, err
		}
		return Event{}, io.EOF
	}
	return convertConverseEvent(event), nil
}

func (s *converseSource) Close() error {
	return s.stream.Close()
}

// invokeStreamSource adapta el stream de InvokeModelWithResponseStream
type invokeStreamSource struct {
	stream *bedrockruntime.InvokeModelWithResponseStreamEventStream
}

func (s *invokeStreamSource) Next(ctx context.Context) (Event, error) {
	event, ok := <-s.stream.Events()
	if !ok {
		if err := s.stream.Err(); err != nil {
			return Event{}, err
		}
		return Event{}, io.EOF
	}
	return convertResponseStreamEvent(event), nil
}

func (s *invokeStreamSource) Close() error {
	return s.stream.Close()
}
