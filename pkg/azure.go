package pkg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"ai-proxy/pkg/amslog"
	"ai-proxy/pkg/metrics"
)

// Tiempo máximo para establecer la conexión con el upstream y recibir las
// cabeceras de respuesta. No limita la duración del stream
const upstreamConnectTimeout = 60 * time.Second

// Única forma de ruta soportada hacia Azure: chat completions sobre un
// deployment concreto
var azureDeploymentPattern = regexp.MustCompile(`deployments/([^/]+)/chat/completions$`)

// AzureConfig contiene la configuración del endpoint de Azure OpenAI
type AzureConfig struct {
	Endpoint   string
	APIVersion string
}

// LoadAzureConfigWithEnv carga la configuración de Azure desde variables de entorno
func LoadAzureConfigWithEnv() *AzureConfig {
	return &AzureConfig{
		Endpoint:   strings.TrimRight(os.Getenv("AZURE_OPENAI_ENDPOINT"), "/"),
		APIVersion: os.Getenv("AZURE_OPENAI_API_VERSION"),
	}
}

// AzureClient reenvía peticiones de chat completions al endpoint de Azure
// OpenAI, transcodificando los streams SSE de vuelta
type AzureClient struct {
	config     *AzureConfig
	httpClient *http.Client
	usage      *metrics.UsageWorker
}

// NewAzureClient crea el cliente de Azure
func NewAzureClient(config *AzureConfig, worker *metrics.UsageWorker) *AzureClient {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: upstreamConnectTimeout,
	}

	return &AzureClient{
		config:     config,
		httpClient: &http.Client{Transport: transport},
		usage:      worker,
	}
}

// HandleProxy gestiona POST /azure/{path}
func (this *AzureClient) HandleProxy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := amslog.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
		ctx = amslog.WithRequestID(ctx, requestID)
	}
	reqCtx := NewRequestContext(requestID)

	path := strings.TrimPrefix(r.URL.Path, "/azure/")

	Logger.InfoContext(ctx, amslog.Event{
		Name:    EventProxyRequestStart,
		Message: "Azure proxy request received",
		Fields: map[string]interface{}{
			"path":   path,
			"method": r.Method,
		},
	})

	matches := azureDeploymentPattern.FindStringSubmatch(path)
	if matches == nil {
		Logger.WarningContext(ctx, amslog.Event{
			Name:    EventAzureError,
			Message: "Unsupported Azure path",
			Outcome: amslog.OutcomeFailure,
			Fields:  map[string]interface{}{"path": path},
		})
		WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported path: %s", path))
		return
	}
	deploymentID := matches[1]

	apiKey := r.Header.Get("api-key")
	if apiKey == "" {
		WriteJSONError(w, http.StatusUnauthorized, "Missing api-key header")
		return
	}

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	// Un body ilegible se trata como objeto vacío: la petición viaja
	// igualmente y es el upstream quien decide
	payload := map[string]interface{}{}
	if len(rawBody) > 0 {
		if err := json.Unmarshal(rawBody, &payload); err != nil {
			payload = map[string]interface{}{}
		}
	}

	isStream := false
	if v, ok := payload["stream"].(bool); ok {
		isStream = v
	}

	// En modo stream se fuerza el reporte de uso, pisando cualquier valor
	// que haya puesto el cliente
	if isStream {
		options, ok := payload["stream_options"].(map[string]interface{})
		if !ok {
			options = map[string]interface{}{}
		}
		options["include_usage"] = true
		payload["stream_options"] = options
	}

	Logger.InfoContext(ctx, amslog.Event{
		Name:    EventAzureRequest,
		Message: fmt.Sprintf("Azure request for deployment %s", deploymentID),
		Fields: map[string]interface{}{
			"deployment_id": deploymentID,
			"stream":        isStream,
			"body":          payload,
		},
	})

	endConnect := reqCtx.StartPhase("upstream_connect")
	response, err := this.forward(ctx, r, path, payload)
	endConnect()
	if err != nil {
		Logger.ErrorContext(ctx, amslog.Event{
			Name:    EventAzureError,
			Message: "Azure upstream connection failed",
			Error: &amslog.ErrorInfo{
				Type:    "UpstreamConnectError",
				Message: err.Error(),
			},
		})
		WriteJSONError(w, http.StatusBadGateway, "Upstream connection failed")
		return
	}
	defer response.Body.Close()

	// Un status no exitoso se retransmite tal cual, sin transcodificar
	if response.StatusCode != http.StatusOK {
		this.relay(ctx, w, response)
		reqCtx.LogSummary()
		return
	}

	if isStream {
		this.streamResponse(ctx, reqCtx, w, response, deploymentID)
	} else {
		this.fullResponse(ctx, reqCtx, w, response, deploymentID)
	}

	reqCtx.LogSummary()
}

// forward construye y ejecuta la petición hacia el endpoint de Azure
func (this *AzureClient) forward(ctx context.Context, r *http.Request, path string, payload map[string]interface{}) (*http.Response, error) {
	query := r.URL.Query()
	if this.config.APIVersion != "" && query.Get("api-version") == "" {
		query.Set("api-version", this.config.APIVersion)
	}

	target := this.config.Endpoint + "/" + path
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(ctx, r.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	// Las cabeceras del cliente viajan al upstream menos host y
	// content-length, que se recalculan
	for key, values := range r.Header {
		if key == "Host" || key == "Content-Length" {
			continue
		}
		request.Header[key] = values
	}
	if request.Header.Get("Content-Type") == "" {
		request.Header.Set("Content-Type", "application/json")
	}

	return this.httpClient.Do(request)
}

// relay retransmite una respuesta no exitosa del upstream sin tocarla
func (this *AzureClient) relay(ctx context.Context, w http.ResponseWriter, response *http.Response) {
	Logger.WarningContext(ctx, amslog.Event{
		Name:    EventAzureError,
		Message: fmt.Sprintf("Azure upstream returned status %d", response.StatusCode),
		Outcome: amslog.OutcomeFailure,
		Fields: map[string]interface{}{
			"status_code": response.StatusCode,
		},
	})

	if contentType := response.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(response.StatusCode)
	io.Copy(w, response.Body)
}

// streamResponse transcodifica el stream SSE del upstream hacia el cliente
func (this *AzureClient) streamResponse(ctx context.Context, reqCtx *RequestContext, w http.ResponseWriter, response *http.Response, deploymentID string) {
	contentType := response.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/event-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteJSONError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	endStream := reqCtx.StartPhase("stream_pump")
	pump := NewPump(NewSSESource(response.Body), &AzureTranscoder{}, this.finishStream(ctx, reqCtx, deploymentID))
	pump.Run(ctx, w)
	endStream()
}

// finishStream es la finalización del stream: loguea el uso acumulado y lo
// encola en el worker. El pump garantiza una única invocación
func (this *AzureClient) finishStream(ctx context.Context, reqCtx *RequestContext, deploymentID string) func(*UsageState) {
	return func(state *UsageState) {
		if state.TotalTokens() > 0 {
			Logger.InfoContext(ctx, amslog.Event{
				Name:    EventAzureStreamComplete,
				Message: fmt.Sprintf("Azure Stream Finished (Usage Reported) | Total Tokens: %d", state.TotalTokens()),
				Fields: map[string]interface{}{
					"deployment_id": deploymentID,
					"input_tokens":  state.InputTokens,
					"output_tokens": state.OutputTokens,
					"total_tokens":  state.TotalTokens(),
				},
			})
		}

		Logger.InfoContext(ctx, amslog.Event{
			Name:    EventAzureStreamOutput,
			Message: "Azure stream output",
			Fields: map[string]interface{}{
				"deployment_id": deploymentID,
				"output_text":   state.Text(),
			},
		})

		this.record(ctx, reqCtx, deploymentID, state.InputTokens, state.OutputTokens, true)
	}
}

// fullResponse devuelve una respuesta completa tal cual, extrayendo el uso
// en una única pasada sobre el body
func (this *AzureClient) fullResponse(ctx context.Context, reqCtx *RequestContext, w http.ResponseWriter, response *http.Response, deploymentID string) {
	endRead := reqCtx.StartPhase("upstream_read")
	body, err := io.ReadAll(response.Body)
	endRead()
	if err != nil {
		Logger.ErrorContext(ctx, amslog.Event{
			Name:    EventAzureError,
			Message: "Failed to read Azure response body",
			Error: &amslog.ErrorInfo{
				Type:    "UpstreamReadError",
				Message: err.Error(),
			},
		})
		WriteJSONError(w, http.StatusBadGateway, "Upstream connection failed")
		return
	}

	input, output, ok := ExtractAzureUsage(body)
	if ok {
		Logger.InfoContext(ctx, amslog.Event{
			Name:    EventAzureResponse,
			Message: fmt.Sprintf("Azure Request Finished | Total Tokens: %d", input+output),
			Fields: map[string]interface{}{
				"deployment_id": deploymentID,
				"input_tokens":  input,
				"output_tokens": output,
				"total_tokens":  input + output,
			},
		})
	}

	Logger.InfoContext(ctx, amslog.Event{
		Name:    EventAzureResponse,
		Message: "Azure response body",
		Fields: map[string]interface{}{
			"deployment_id": deploymentID,
			"body":          string(body),
		},
	})

	this.record(ctx, reqCtx, deploymentID, input, output, false)

	if contentType := response.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(response.StatusCode)
	w.Write(body)
}

// record encola el consumo en el worker de uso
func (this *AzureClient) record(ctx context.Context, reqCtx *RequestContext, deploymentID string, input, output int, streamed bool) {
	if this.usage == nil {
		return
	}

	record := &metrics.UsageRecord{
		RequestID:    reqCtx.RequestID,
		Provider:     "azure",
		Operation:    "chat_completions",
		ModelID:      deploymentID,
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
