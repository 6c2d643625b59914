package pkg

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	agentRuntime "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	agentTypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"github.com/google/uuid"

	"ai-proxy/pkg/amslog"
	"ai-proxy/pkg/metrics"
)

// agentOperation es una operación del agent-runtime. Ninguna responde en
// streaming
type agentOperation func(ctx context.Context, client *agentRuntime.Client, body []byte) (*invokeResult, error)

// AgentClient despacha operaciones del agent-runtime de Bedrock (consultas
// a bases de conocimiento). Comparte la caché de credenciales del runtime
type AgentClient struct {
	config      *BedrockConfig
	awsConfig   aws.Config
	credentials *CredentialCache
	usage       *metrics.UsageWorker
	operations  map[string]agentOperation
}

func NewAgentClient(config *BedrockConfig, cache *CredentialCache, worker *metrics.UsageWorker) (*AgentClient, error) {
	cfg, err := awsConfig.LoadDefaultConfig(context.TODO(), awsConfig.WithRegion(config.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %v", err)
	}

	client := &AgentClient{
		config:      config,
		awsConfig:   cfg,
		credentials: cache,
		usage:       worker,
	}
	client.operations = client.buildOperations()

	return client, nil
}

func (this *AgentClient) buildOperations() map[string]agentOperation {
	return map[string]agentOperation{
		"retrieve":              this.retrieve,
		"retrieve_and_generate": this.retrieveAndGenerate,
	}
}

// agentClientFor construye el cliente del agent-runtime con las
// credenciales temporales vigentes
func (this *AgentClient) agentClientFor(entry *CredentialEntry) *agentRuntime.Client {
	cfg := this.awsConfig.Copy()
	if entry != nil {
		cfg.Credentials = credentials.NewStaticCredentialsProvider(
			entry.AccessKeyID,
			entry.SecretAccessKey,
			entry.SessionToken,
		)
	}
	return agentRuntime.NewFromConfig(cfg)
}

// HandleAgent gestiona POST /bedrock/agent-runtime/{Operation}
func (this *AgentClient) HandleAgent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := amslog.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
		ctx = amslog.WithRequestID(ctx, requestID)
	}
	reqCtx := NewRequestContext(requestID)

	operation := strings.TrimPrefix(r.URL.Path, "/bedrock/agent-runtime/")
	method := OperationToMethod(operation)

	Logger.InfoContext(ctx, amslog.Event{
		Name:    EventProxyRequestStart,
		Message: fmt.Sprintf("Bedrock agent-runtime request: %s", operation),
		Fields: map[string]interface{}{
			"operation": operation,
			"method":    method,
		},
	})

	handle, ok := this.operations[method]
	if !ok {
		Logger.WarningContext(ctx, amslog.Event{
			Name:    EventAgentError,
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

	endCredentials := reqCtx.StartPhase("credentials")
	entry, err := this.credentials.Get(ctx)
	endCredentials()
	if err != nil {
		Logger.ErrorContext(ctx, amslog.Event{
			Name:    EventAgentError,
			Message: "Could not obtain delegated credentials",
			Error: &amslog.ErrorInfo{
				Type:    "CredentialsError",
				Message: err.Error(),
			},
		})
		WriteJSONError(w, http.StatusBadGateway, "Upstream connection failed")
		return
	}

	client := this.agentClientFor(entry)

	var result *invokeResult
	endInvoke := reqCtx.StartPhase("upstream_invoke")
	err = amslog.LogOperation(ctx, Logger, EventAgentInvoke, func() error {
		var opErr error
		result, opErr = handle(ctx, client, body)
		return opErr
	})
	endInvoke()
	if err != nil {
		status, message := ClassifyUpstreamError(err)
		Logger.ErrorContext(ctx, amslog.Event{
			Name:    EventAgentError,
			Message: fmt.Sprintf("Bedrock Agent %s failed", method),
			Error: &amslog.ErrorInfo{
				Type:    "AgentInvokeError",
				Message: err.Error(),
			},
			Fields: map[string]interface{}{
				"operation": method,
			},
		})
		WriteJSONError(w, status, message)
		return
	}

	Logger.InfoContext(ctx, amslog.Event{
		Name:    EventAgentInvoke,
		Message: fmt.Sprintf("Bedrock Agent %s Finished", method),
		Fields: map[string]interface{}{
			"operation": method,
		},
	})

	if this.usage != nil {
		record := &metrics.UsageRecord{
			RequestID:    reqCtx.RequestID,
			Provider:     "bedrock-agent",
			Operation:    method,
			InputTokens:  int64(result.inputTokens),
			OutputTokens: int64(result.outputTokens),
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

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(result.body)

	reqCtx.LogSummary()
}

// retrieveRequest es el body en formato wire de Retrieve
type retrieveRequest struct {
	KnowledgeBaseID string         `json:"knowledgeBaseId"`
	RetrievalQuery  *retrieveQuery `json:"retrievalQuery"`
	NextToken       string         `json:"nextToken"`
}

type retrieveQuery struct {
	Text string `json:"text"`
}

// retrieve consulta una base de conocimiento
func (this *AgentClient) retrieve(ctx context.Context, client *agentRuntime.Client, body []byte) (*invokeResult, error) {
	var request retrieveRequest
	if err := json.Unmarshal(body, &request); err != nil {
		return nil, NewClientError(http.StatusBadRequest, "Invalid request body: %v", err)
	}
	if request.KnowledgeBaseID == "" {
		return nil, NewClientError(http.StatusBadRequest, "knowledgeBaseId is required")
	}
	if request.RetrievalQuery == nil || request.RetrievalQuery.Text == "" {
		return nil, NewClientError(http.StatusBadRequest, "retrievalQuery.text is required")
	}

	input := &agentRuntime.RetrieveInput{
		KnowledgeBaseId: aws.String(request.KnowledgeBaseID),
		RetrievalQuery: &agentTypes.KnowledgeBaseQuery{
			Text: aws.String(request.RetrievalQuery.Text),
		},
	}
	if request.NextToken != "" {
		input.NextToken = aws.String(request.NextToken)
	}

	output, err := client.Retrieve(ctx, input)
	if err != nil {
		return nil, err
	}

	results := make([]map[string]interface{}, 0, len(output.RetrievalResults))
	for _, item := range output.RetrievalResults {
		result := map[string]interface{}{}
		if item.Content != nil {
			result["content"] = map[string]interface{}{
				"text": aws.ToString(item.Content.Text),
			}
		}
		if item.Score != nil {
			result["score"] = *item.Score
		}
		if item.Location != nil {
			location := map[string]interface{}{
				"type": string(item.Location.Type),
			}
			if item.Location.S3Location != nil {
				location["s3Location"] = map[string]interface{}{
					"uri": aws.ToString(item.Location.S3Location.Uri),
				}
			}
			result["location"] = location
		}
		results = append(results, result)
	}

	document := map[string]interface{}{
		"retrievalResults": results,
	}
	if output.NextToken != nil {
		document["nextToken"] = *output.NextToken
	}

	data, err := json.Marshal(document)
	if err != nil {
		return nil, err
	}
	return &invokeResult{body: data}, nil
}

// retrieveAndGenerateRequest es el body en formato wire de RetrieveAndGenerate
type retrieveAndGenerateRequest struct {
	Input         *retrieveQuery `json:"input"`
	Configuration *ragConfig     `json:"retrieveAndGenerateConfiguration"`
	SessionID     string         `json:"sessionId"`
}

type ragConfig struct {
	Type                       string            `json:"type"`
	KnowledgeBaseConfiguration *ragKnowledgeBase `json:"knowledgeBaseConfiguration"`
}

type ragKnowledgeBase struct {
	KnowledgeBaseID string `json:"knowledgeBaseId"`
	ModelARN        string `json:"modelArn"`
}

// retrieveAndGenerate consulta una base de conocimiento y genera una
// respuesta con el modelo indicado
func (this *AgentClient) retrieveAndGenerate(ctx context.Context, client *agentRuntime.Client, body []byte) (*invokeResult, error) {
	var request retrieveAndGenerateRequest
	if err := json.Unmarshal(body, &request); err != nil {
		return nil, NewClientError(http.StatusBadRequest, "Invalid request body: %v", err)
	}
	if request.Input == nil || request.Input.Text == "" {
		return nil, NewClientError(http.StatusBadRequest, "input.text is required")
	}

	input := &agentRuntime.RetrieveAndGenerateInput{
		Input: &agentTypes.RetrieveAndGenerateInput{
			Text: aws.String(request.Input.Text),
		},
	}

	if config := request.Configuration; config != nil && config.KnowledgeBaseConfiguration != nil {
		ragType := agentTypes.RetrieveAndGenerateType(config.Type)
		if config.Type == "" {
			ragType = agentTypes.RetrieveAndGenerateTypeKnowledgeBase
		}
		input.RetrieveAndGenerateConfiguration = &agentTypes.RetrieveAndGenerateConfiguration{
			Type: ragType,
			KnowledgeBaseConfiguration: &agentTypes.KnowledgeBaseRetrieveAndGenerateConfiguration{
				KnowledgeBaseId: aws.String(config.KnowledgeBaseConfiguration.KnowledgeBaseID),
				ModelArn:        aws.String(config.KnowledgeBaseConfiguration.ModelARN),
			},
		}
	}

	if request.SessionID != "" {
		input.SessionId = aws.String(request.SessionID)
	}

	output, err := client.RetrieveAndGenerate(ctx, input)
	if err != nil {
		return nil, err
	}

	document := map[string]interface{}{}
	if output.Output != nil {
		document["output"] = map[string]interface{}{
			"text": aws.ToString(output.Output.Text),
		}
	}
	if output.SessionId != nil {
		document["sessionId"] = *output.SessionId
	}

	data, err := json.Marshal(document)
	if err != nil {
		return nil, err
	}
	return &invokeResult{body: data}, nil
}
