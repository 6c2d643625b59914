package pkg

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	bedrockRuntime "github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/google/uuid"

	"ai-proxy/pkg/amslog"
	"ai-proxy/pkg/metrics"
)

// Cabeceras con los contadores de tokens de InvokeModel. El SDK no las
// expone en el output tipado, así que se capturan con un middleware
const (
	headerInputTokenCount  = "X-Amzn-Bedrock-Input-Token-Count"
	headerOutputTokenCount = "X-Amzn-Bedrock-Output-Token-Count"
)

type BedrockConfig struct {
	Region  string `json:"region"`
	RoleARN string `json:"role_arn"`
	DEBUG   bool   `json:"debug,omitempty"`
}

func LoadBedrockConfigWithEnv() *BedrockConfig {
	config := &BedrockConfig{
		Region:  os.Getenv("AWS_REGION"),
		RoleARN: os.Getenv("AWS_ROLE_ARN"),
		DEBUG:   os.Getenv("PROXY_DEBUG") == "true",
	}

	if config.Region == "" {
		config.Region = "eu-central-1"
	}

	return config
}

// bedrockOperation es una entrada del registro de operaciones soportadas.
// Solo las operaciones con stream a true pueden responder en streaming
type bedrockOperation struct {
	stream bool
	invoke func(ctx context.Context, client *bedrockRuntime.Client, body []byte) (*invokeResult, error)
	open   func(ctx context.Context, client *bedrockRuntime.Client, body []byte) (EventSource, error)
}

// invokeResult es el resultado de una operación no streaming
type invokeResult struct {
	body         []byte
	inputTokens  int
	outputTokens int
}

// BedrockClient despacha operaciones del runtime de Bedrock resolviendo el
// nombre de la URL contra un registro explícito poblado al arrancar
type BedrockClient struct {
	config      *BedrockConfig
	awsConfig   aws.Config
	credentials *CredentialCache
	usage       *metrics.UsageWorker
	operations  map[string]bedrockOperation
}

func NewBedrockClient(config *BedrockConfig, cache *CredentialCache, worker *metrics.UsageWorker) (*BedrockClient, error) {
	options := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(config.Region),
	}

	if config.DEBUG {
		options = append(options, awsConfig.WithHTTPClient(&http.Client{
			Transport: loggingRoundTripper{
				wrapped: http.DefaultTransport,
			},
		}))
	}

	cfg, err := awsConfig.LoadDefaultConfig(context.TODO(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %v", err)
	}

	client := &BedrockClient{
		config:      config,
		awsConfig:   cfg,
		credentials: cache,
		usage:       worker,
	}
	client.operations = client.buildOperations()

	return client, nil
}

// buildOperations puebla el registro de operaciones. Cualquier operación
// fuera de este mapa responde 404
func (this *BedrockClient) buildOperations() map[string]bedrockOperation {
	return map[string]bedrockOperation{
		"invoke_model": {
			invoke: this.invokeModel,
		},
		"invoke_model_with_response_stream": {
			stream: true,
			open:   this.openInvokeStream,
		},
		"converse": {
			invoke: this.converse,
		},
		"converse_stream": {
			stream: true,
			open:   this.openConverseStream,
		},
	}
}

// runtimeClientFor construye el cliente del runtime con las credenciales
// temporales vigentes, o con la cadena por defecto si no hay rol delegado
func (this *BedrockClient) runtimeClientFor(entry *CredentialEntry) *bedrockRuntime.Client {
	cfg := this.awsConfig.Copy()
	if entry != nil {
		cfg.Credentials = credentials.NewStaticCredentialsProvider(
			entry.AccessKeyID,
			entry.SecretAccessKey,
			entry.SessionToken,
		)
	}
	return bedrockRuntime.NewFromConfig(cfg)
}

// HandleRuntime gestiona POST /bedrock/runtime/{Operation}
func (this *BedrockClient) HandleRuntime(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := amslog.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
		ctx = amslog.WithRequestID(ctx, requestID)
	}
	reqCtx := NewRequestContext(requestID)

	operation := strings.TrimPrefix(r.URL.Path, "/bedrock/runtime/")
	method := OperationToMethod(operation)

	Logger.InfoContext(ctx, amslog.Event{
		Name:    EventProxyRequestStart,
		Message: fmt.Sprintf("Bedrock runtime request: %s", operation),
		Fields: map[string]interface{}{
			"operation": operation,
			"method":    method,
		},
	})

	op, ok := this.operations[method]
	if !ok {
		Logger.WarningContext(ctx, amslog.Event{
			Name:    EventBedrockError,
			Message: fmt.Sprintf("Operation %s not found", operation),
			Outcome: amslog.OutcomeFailure,
			Fields:  map[string]interface{}{"operation": operation},
		})
		WriteJSONError(w, http.StatusNotFound, fmt.Sprintf("Operation %s not found", operation))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	modelID := modelIDFrom(body)

	Logger.InfoContext(ctx, amslog.Event{
		Name:    EventBedrockInvoke,
		Message: fmt.Sprintf("Bedrock %s invoked", method),
		Fields: map[string]interface{}{
			"operation": method,
			"model_id":  modelID,
			"stream":    op.stream,
			"body":      string(body),
		},
	})

	endCredentials := reqCtx.StartPhase("credentials")
	entry, err := this.credentials.Get(ctx)
	endCredentials()
	if err != nil {
		Logger.ErrorContext(ctx, amslog.Event{
			Name:    EventBedrockError,
			Message: "Could not obtain delegated credentials",
			Error: &amslog.ErrorInfo{
				Type:    "CredentialsError",
				Message: err.Error(),
			},
		})
		WriteJSONError(w, http.StatusBadGateway, "Upstream connection failed")
		return
	}

	client := this.runtimeClientFor(entry)

	if op.stream {
		this.streamOperation(ctx, reqCtx, w, op, client, body, method, modelID)
	} else {
		this.invokeOperation(ctx, reqCtx, w, op, client, body, method, modelID)
	}

	reqCtx.LogSummary()
}

// streamOperation abre el stream contra Bedrock y lo bombea hacia el
// cliente como líneas JSON
func (this *BedrockClient) streamOperation(ctx context.Context, reqCtx *RequestContext, w http.ResponseWriter, op bedrockOperation, client *bedrockRuntime.Client, body []byte, method, modelID string) {
	endConnect := reqCtx.StartPhase("upstream_connect")
	source, err := op.open(ctx, client, body)
	endConnect()
	if err != nil {
		status, message := ClassifyUpstreamError(err)
		Logger.ErrorContext(ctx, amslog.Event{
			Name:    EventBedrockError,
			Message: fmt.Sprintf("Bedrock %s failed to start stream", method),
			Error: &amslog.ErrorInfo{
				Type:    "StreamOpenError",
				Message: err.Error(),
			},
			Fields: map[string]interface{}{
				"operation": method,
				"model_id":  modelID,
			},
		})
		WriteJSONError(w, status, message)
		return
	}

	Logger.InfoContext(ctx, amslog.Event{
		Name:    EventBedrockStreamStart,
		Message: fmt.Sprintf("Bedrock %s stream started", method),
		Fields: map[string]interface{}{
			"operation": method,
			"model_id":  modelID,
		},
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		source.Close()
		WriteJSONError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	endStream := reqCtx.StartPhase("stream_pump")
	pump := NewPump(source, &BedrockTranscoder{}, this.finishStream(ctx, reqCtx, method, modelID))
	pump.Run(ctx, w)
	endStream()
}

// finishStream loguea el uso acumulado del stream y lo encola en el worker.
// El pump garantiza una única invocación por stream
func (this *BedrockClient) finishStream(ctx context.Context, reqCtx *RequestContext, method, modelID string) func(*UsageState) {
	return func(state *UsageState) {
		if state.TotalTokens() > 0 {
			Logger.InfoContext(ctx, amslog.Event{
				Name: EventBedrockStreamComplete,
				Message: fmt.Sprintf("Bedrock Stream Finished | Tokens: %d (Input: %d, Output: %d)",
					state.TotalTokens(), state.InputTokens, state.OutputTokens),
				Fields: map[string]interface{}{
					"operation":     method,
					"model_id":      modelID,
					"input_tokens":  state.InputTokens,
					"output_tokens": state.OutputTokens,
					"total_tokens":  state.TotalTokens(),
				},
			})
		}

		Logger.InfoContext(ctx, amslog.Event{
			Name:    EventBedrockStreamOutput,
			Message: "Bedrock stream output",
			Fields: map[string]interface{}{
				"operation":   method,
				"model_id":    modelID,
				"output_text": state.Text(),
			},
		})

		this.record(ctx, reqCtx, method, modelID, state.InputTokens, state.OutputTokens, true)
	}
}

// invokeOperation ejecuta una operación no streaming y devuelve el body
// completo del proveedor
func (this *BedrockClient) invokeOperation(ctx context.Context, reqCtx *RequestContext, w http.ResponseWriter, op bedrockOperation, client *bedrockRuntime.Client, body []byte, method, modelID string) {
	endInvoke := reqCtx.StartPhase("upstream_invoke")
	result, err := op.invoke(ctx, client, body)
	endInvoke()
	if err != nil {
		status, message := ClassifyUpstreamError(err)
		Logger.ErrorContext(ctx, amslog.Event{
			Name:    EventBedrockError,
			Message: fmt.Sprintf("Bedrock %s failed", method),
			Error: &amslog.ErrorInfo{
				Type:    "InvokeError",
				Message: err.Error(),
			},
			Fields: map[string]interface{}{
				"operation": method,
				"model_id":  modelID,
			},
		})
		WriteJSONError(w, status, message)
		return
	}

	if result.inputTokens+result.outputTokens > 0 {
		Logger.InfoContext(ctx, amslog.Event{
			Name: EventBedrockInvoke,
			Message: fmt.Sprintf("Bedrock %s Finished | Tokens: %d (Input: %d, Output: %d)",
				method, result.inputTokens+result.outputTokens, result.inputTokens, result.outputTokens),
			Fields: map[string]interface{}{
				"operation":     method,
				"model_id":      modelID,
				"input_tokens":  result.inputTokens,
				"output_tokens": result.outputTokens,
			},
		})
	}

	this.record(ctx, reqCtx, method, modelID, result.inputTokens, result.outputTokens, false)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(result.body)
}

// record encola el consumo en el worker de uso
func (this *BedrockClient) record(ctx context.Context, reqCtx *RequestContext, method, modelID string, input, output int, streamed bool) {
	if this.usage == nil {
		return
	}

	record := &metrics.UsageRecord{
		RequestID:    reqCtx.RequestID,
		Provider:     "bedrock",
		Operation:    method,
		ModelID:      modelID,
		Streamed:     streamed,
		InputTokens:  int64(input),
		OutputTokens: int64(output),
		DurationMs:   reqCtx.GetTotalDuration().Milliseconds(),
		Timestamp:    time.Now().UTC(),
	}

	if err := this.usage.Record(record); err != nil {
		Logger.WarningContext(ctx, amslog.Event{
			Name:    EventUsageDropped,
			Message: "Usage record dropped",
			Outcome: amslog.OutcomeFailure,
			Fields: map[string]interface{}{
				"reason": err.Error(),
			},
		})
	}
}

// converseRequest es el body en formato wire de Converse/ConverseStream
type converseRequest struct {
	ModelID         string                `json:"modelId"`
	Messages        []converseMessage     `json:"messages"`
	System          []converseSystemBlock `json:"system"`
	InferenceConfig *converseInference    `json:"inferenceConfig"`
}

type converseMessage struct {
	Role    string                 `json:"role"`
	Content []converseContentBlock `json:"content"`
}

type converseContentBlock struct {
	Text string `json:"text"`
}

type converseSystemBlock struct {
	Text string `json:"text"`
}

type converseInference struct {
	MaxTokens     int      `json:"maxTokens"`
	Temperature   *float32 `json:"temperature"`
	TopP          *float32 `json:"topP"`
	StopSequences []string `json:"stopSequences"`
}

func parseConverseRequest(body []byte) (*converseRequest, error) {
	var request converseRequest
	if err := json.Unmarshal(body, &request); err != nil {
		return nil, NewClientError(http.StatusBadRequest, "Invalid request body: %v", err)
	}
	if request.ModelID == "" {
		return nil, NewClientError(http.StatusBadRequest, "modelId is required")
	}
	if len(request.Messages) == 0 {
		return nil, NewClientError(http.StatusBadRequest, "messages is required")
	}
	return &request, nil
}

// sdkMessages convierte los mensajes wire a los tipos del SDK
func (this *converseRequest) sdkMessages() []types.Message {
	messages := make([]types.Message, 0, len(this.Messages))
	for _, message := range this.Messages {
		content := make([]types.ContentBlock, 0, len(message.Content))
		for _, block := range message.Content {
			content = append(content, &types.ContentBlockMemberText{Value: block.Text})
		}
		messages = append(messages, types.Message{
			Role:    types.ConversationRole(message.Role),
			Content: content,
		})
	}
	return messages
}

func (this *converseRequest) sdkSystem() []types.SystemContentBlock {
	if len(this.System) == 0 {
		return nil
	}
	system := make([]types.SystemContentBlock, 0, len(this.System))
	for _, block := range this.System {
		system = append(system, &types.SystemContentBlockMemberText{Value: block.Text})
	}
	return system
}

func (this *converseRequest) sdkInference() *types.InferenceConfiguration {
	if this.InferenceConfig == nil {
		return nil
	}
	inference := &types.InferenceConfiguration{
		Temperature:   this.InferenceConfig.Temperature,
		TopP:          this.InferenceConfig.TopP,
		StopSequences: this.InferenceConfig.StopSequences,
	}
	if this.InferenceConfig.MaxTokens > 0 {
		inference.MaxTokens = aws.Int32(int32(this.InferenceConfig.MaxTokens))
	}
	return inference
}

// invokeModelRequest es el body en formato wire de InvokeModel. El payload
// del modelo puede venir como objeto JSON o como string serializado
type invokeModelRequest struct {
	ModelID     string          `json:"modelId"`
	ContentType string          `json:"contentType"`
	Accept      string          `json:"accept"`
	Body        json.RawMessage `json:"body"`
}

func parseInvokeRequest(body []byte) (*invokeModelRequest, error) {
	var request invokeModelRequest
	if err := json.Unmarshal(body, &request); err != nil {
		return nil, NewClientError(http.StatusBadRequest, "Invalid request body: %v", err)
	}
	if request.ModelID == "" {
		return nil, NewClientError(http.StatusBadRequest, "modelId is required")
	}
	return &request, nil
}

func (this *invokeModelRequest) contentTypeOrDefault() string {
	if this.ContentType != "" {
		return this.ContentType
	}
	return "application/json"
}

func (this *invokeModelRequest) acceptOrDefault() string {
	if this.Accept != "" {
		return this.Accept
	}
	return "application/json"
}

// payloadBytes normaliza el payload del modelo a bytes crudos
func (this *invokeModelRequest) payloadBytes() []byte {
	if len(this.Body) > 0 && this.Body[0] == '"' {
		var serialized string
		if err := json.Unmarshal(this.Body, &serialized); err == nil {
			return []byte(serialized)
		}
	}
	return this.Body
}

// modelIDFrom extrae el modelId del body para logging y métricas
func modelIDFrom(body []byte) string {
	var doc struct {
		ModelID string `json:"modelId"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	return doc.ModelID
}

// converse ejecuta la operación Converse
func (this *BedrockClient) converse(ctx context.Context, client *bedrockRuntime.Client, body []byte) (*invokeResult, error) {
	request, err := parseConverseRequest(body)
	if err != nil {
		return nil, err
	}

	output, err := client.Converse(ctx, &bedrockRuntime.ConverseInput{
		ModelId:         aws.String(request.ModelID),
		Messages:        request.sdkMessages(),
		System:          request.sdkSystem(),
		InferenceConfig: request.sdkInference(),
	})
	if err != nil {
		return nil, err
	}

	document := converseOutputDocument(output)
	data, err := json.Marshal(document)
	if err != nil {
		return nil, err
	}

	result := &invokeResult{body: data}
	if output.Usage != nil {
		result.inputTokens = int(aws.ToInt32(output.Usage.InputTokens))
		result.outputTokens = int(aws.ToInt32(output.Usage.OutputTokens))
	}
	return result, nil
}

// converseOutputDocument serializa la respuesta tipada de Converse al
// formato wire del proveedor
func converseOutputDocument(output *bedrockRuntime.ConverseOutput) map[string]interface{} {
	document := map[string]interface{}{}

	if message, ok := output.Output.(*types.ConverseOutputMemberMessage); ok {
		content := make([]map[string]interface{}, 0, len(message.Value.Content))
		for _, block := range message.Value.Content {
			if text, ok := block.(*types.ContentBlockMemberText); ok {
				content = append(content, map[string]interface{}{"text": text.Value})
			}
		}
		document["output"] = map[string]interface{}{
			"message": map[string]interface{}{
				"role":    string(message.Value.Role),
				"content": content,
			},
		}
	}

	if output.StopReason != "" {
		document["stopReason"] = string(output.StopReason)
	}

	if output.Usage != nil {
		document["usage"] = map[string]interface{}{
			"inputTokens":  int(aws.ToInt32(output.Usage.InputTokens)),
			"outputTokens": int(aws.ToInt32(output.Usage.OutputTokens)),
			"totalTokens":  int(aws.ToInt32(output.Usage.TotalTokens)),
		}
	}

	return document
}

// invokeModel ejecuta la operación InvokeModel. Los contadores de tokens
// solo viajan en cabeceras HTTP, capturadas con un middleware del SDK
func (this *BedrockClient) invokeModel(ctx context.Context, client *bedrockRuntime.Client, body []byte) (*invokeResult, error) {
	request, err := parseInvokeRequest(body)
	if err != nil {
		return nil, err
	}

	var responseHeader http.Header
	output, err := client.InvokeModel(ctx, &bedrockRuntime.InvokeModelInput{
		ModelId:     aws.String(request.ModelID),
		Body:        request.payloadBytes(),
		ContentType: aws.String(request.contentTypeOrDefault()),
		Accept:      aws.String(request.acceptOrDefault()),
	}, bedrockRuntime.WithAPIOptions(captureResponseHeaders(&responseHeader)))
	if err != nil {
		return nil, err
	}

	inputTokens, _ := strconv.Atoi(responseHeader.Get(headerInputTokenCount))
	outputTokens, _ := strconv.Atoi(responseHeader.Get(headerOutputTokenCount))

	return &invokeResult{
		body:         output.Body,
		inputTokens:  inputTokens,
		outputTokens: outputTokens,
	}, nil
}

// openConverseStream abre un stream de ConverseStream
func (this *BedrockClient) openConverseStream(ctx context.Context, client *bedrockRuntime.Client, body []byte) (EventSource, error) {
	request, err := parseConverseRequest(body)
	if err != nil {
		return nil, err
	}

	output, err := client.ConverseStream(ctx, &bedrockRuntime.ConverseStreamInput{
		ModelId:         aws.String(request.ModelID),
		Messages:        request.sdkMessages(),
		System:          request.sdkSystem(),
		InferenceConfig: request.sdkInference(),
	})
	if err != nil {
		return nil, err
	}

	return &converseSource{stream: output.GetStream()}, nil
}

// openInvokeStream abre un stream de InvokeModelWithResponseStream
func (this *BedrockClient) openInvokeStream(ctx context.Context, client *bedrockRuntime.Client, body []byte) (EventSource, error) {
	request, err := parseInvokeRequest(body)
	if err != nil {
		return nil, err
	}

	output, err := client.InvokeModelWithResponseStream(ctx, &bedrockRuntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(request.ModelID),
		Body:        request.payloadBytes(),
		ContentType: aws.String(request.contentTypeOrDefault()),
		Accept:      aws.String(request.acceptOrDefault()),
	})
	if err != nil {
		return nil, err
	}

	return &invokeStreamSource{stream: output.GetStream()}, nil
}

// captureResponseHeaders añade un middleware de deserialización que copia
// las cabeceras HTTP crudas de la respuesta
func captureResponseHeaders(destination *http.Header) func(*middleware.Stack) error {
	return func(stack *middleware.Stack) error {
		return stack.Deserialize.Add(middleware.DeserializeMiddlewareFunc("CaptureResponseHeaders",
			func(ctx context.Context, input middleware.DeserializeInput, next middleware.DeserializeHandler) (middleware.DeserializeOutput, middleware.Metadata, error) {
				output, metadata, err := next.HandleDeserialize(ctx, input)
				if response, ok := output.RawResponse.(*smithyhttp.Response); ok && response != nil {
					*destination = response.Header.Clone()
				}
				return output, metadata, err
			}), middleware.Before)
	}
}

// Custom RoundTripper for logging requests and responses
type loggingRoundTripper struct {
	wrapped http.RoundTripper
}

func (l loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// Log request (DEBUG mode only)
	reqDump, _ := httputil.DumpRequestOut(req, false)
	Logger.Debug(amslog.Event{
		Name:    "HTTP_REQUEST_DUMP",
		Message: "HTTP request details",
		Fields: map[string]interface{}{
			"request": string(reqDump),
		},
	})

	// Send request
	resp, err := l.wrapped.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	// Log response (DEBUG mode only)
	respDump, _ := httputil.DumpResponse(resp, false)
	Logger.Debug(amslog.Event{
		Name:    "HTTP_RESPONSE_DUMP",
		Message: "HTTP response details",
		Fields: map[string]interface{}{
			"response": string(respDump),
		},
	})

	return resp, nil
}
