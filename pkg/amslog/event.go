package amslog

// Event representa un evento de log
type Event struct {
	// Name es el nombre del evento en formato DOMINIO_ACCION
	Name string

	// Message es el mensaje descriptivo del evento
	Message string

	// Outcome es el resultado del evento (SUCCESS/FAILURE)
	Outcome Outcome

	// DurationMs es la duración del evento en milisegundos
	DurationMs int64

	// Error contiene información del error (si aplica)
	Error *ErrorInfo

	// Fields contiene campos adicionales personalizados
	Fields map[string]interface{}
}

// ErrorInfo contiene información de un error
type ErrorInfo struct {
	// Type es el tipo de error
	Type string

	// Message es el mensaje del error
	Message string

	// Code es el código de error
	Code string

	// StackTrace es el stack trace del error
	StackTrace string
}

// LogEntry representa una entrada de log completa
type LogEntry struct {
	Timestamp       string                 `json:"@timestamp"`
	LogLevel        string                 `json:"log.level"`
	ServiceName     string                 `json:"service.name"`
	ServiceVersion  string                 `json:"service.version"`
	Environment     string                 `json:"labels.environment"`
	InstanceID      string                 `json:"service.instance.id,omitempty"`
	EventName       string                 `json:"event.name"`
	EventOutcome    string                 `json:"event.outcome"`
	Message         string                 `json:"message"`
	TraceID         string                 `json:"trace.id,omitempty"`
	RequestID       string                 `json:"request.id,omitempty"`
	DurationMs      int64                  `json:"event.duration_ms,omitempty"`
	ErrorType       string                 `json:"error.type,omitempty"`
	ErrorMessage    string                 `json:"error.message,omitempty"`
	ErrorCode       string                 `json:"error.code,omitempty"`
	ErrorStackTrace string                 `json:"error.stack_trace,omitempty"`
	Fields          map[string]interface{} `json:"-"`
}

// document aplana la entrada en un mapa serializable, incorporando los
// campos adicionales al nivel raíz como exige la política
func (e *LogEntry) document() map[string]interface{} {
	data := make(map[string]interface{})

	// Campos obligatorios
	data["@timestamp"] = e.Timestamp
	data["log.level"] = e.LogLevel
	data["service.name"] = e.ServiceName
	data["service.version"] = e.ServiceVersion
	data["labels.environment"] = e.Environment

	if e.InstanceID != "" {
		data["service.instance.id"] = e.InstanceID
	}

	data["event.name"] = e.EventName
	data["event.outcome"] = e.EventOutcome
	data["message"] = e.Message

	if e.TraceID != "" {
		data["trace.id"] = e.TraceID
	}

	if e.RequestID != "" {
		data["request.id"] = e.RequestID
	}

	if e.DurationMs > 0 {
		data["event.duration_ms"] = e.DurationMs
	}

	// Campos de error
	if e.ErrorType != "" {
		data["error.type"] = e.ErrorType
	}
	if e.ErrorMessage != "" {
		data["error.message"] = e.ErrorMessage
	}
	if e.ErrorCode != "" {
		data["error.code"] = e.ErrorCode
	}
	if e.ErrorStackTrace != "" {
		data["error.stack_trace"] = e.ErrorStackTrace
	}

	// Campos adicionales
	for key, value := range e.Fields {
		data[key] = value
	}

	return data
}
