package pkg

// Eventos de Request/Response
const (
	EventProxyRequestStart = "PROXY_REQUEST_START"
	EventProxyRequestEnd   = "PROXY_REQUEST_END"
	EventProxyRequestError = "PROXY_REQUEST_ERROR"
)

// Eventos de Azure OpenAI
const (
	EventAzureRequest        = "AZURE_REQUEST"
	EventAzureResponse       = "AZURE_RESPONSE"
	EventAzureStreamComplete = "AZURE_STREAM_COMPLETE"
	EventAzureStreamOutput   = "AZURE_STREAM_OUTPUT"
	EventAzureError          = "AZURE_ERROR"
)

// Eventos de Bedrock
const (
	EventBedrockInvoke         = "BEDROCK_INVOKE"
	EventBedrockStreamStart    = "BEDROCK_STREAM_START"
	EventBedrockStreamComplete = "BEDROCK_STREAM_COMPLETE"
	EventBedrockStreamOutput   = "BEDROCK_STREAM_OUTPUT"
	EventBedrockError          = "BEDROCK_ERROR"
)

// Eventos de Agent Runtime
const (
	EventAgentInvoke = "AGENT_INVOKE"
	EventAgentError  = "AGENT_ERROR"
)

// Eventos de Credenciales
const (
	EventCredentialsRefresh = "CREDENTIALS_REFRESH"
	EventCredentialsError   = "CREDENTIALS_ERROR"
)

// Eventos de Uso
const (
	EventUsageReport  = "USAGE_REPORT"
	EventUsageDropped = "USAGE_DROPPED"
)

// Eventos de Sistema
const (
	EventLoggerInit     = "LOGGER_INIT"
	EventServerStart    = "SERVER_START"
	EventServerShutdown = "SERVER_SHUTDOWN"
)
