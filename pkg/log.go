package pkg

import (
	"io"
	"os"
	"strconv"

	"gopkg.in/natefinch/lumberjack.v2"

	"ai-proxy/pkg/amslog"
)

var Logger *amslog.Logger

// InitLogger inicializa el logger según la Política de Logs v1.0
// Sección 13.2: En contenedores, los logs se emiten a stdout/stderr.
// Con LOG_FILE definido se escribe a fichero con rotación automática
func InitLogger() {
	serviceName := "ai-proxy"
	environment := getEnv("ENVIRONMENT", "dev")
	instanceID := getEnv("INSTANCE_ID", "inst-01")

	config := amslog.Config{
		ServiceName:        serviceName,
		ServiceVersion:     getEnv("SERVICE_VERSION", "0.1.0"),
		Environment:        environment,
		InstanceID:         instanceID,
		MinLevel:           amslog.ParseLevel(getEnv("LOG_LEVEL", "INFO")),
		EnableSanitization: true,
		Output:             logOutput(),
		Async:              true,
		BufferSize:         10000,
	}

	Logger = amslog.NewLogger(config)

	// Log de inicialización
	Logger.Info(amslog.Event{
		Name:    EventLoggerInit,
		Message: "Logger initialized",
		Fields: map[string]interface{}{
			"output":      getEnv("LOG_FILE", "stdout"),
			"environment": environment,
			"version":     config.ServiceVersion,
		},
	})
}

// logOutput decide el destino de los logs: stdout por defecto, fichero
// rotado con lumberjack cuando LOG_FILE está configurado
func logOutput() io.Writer {
	file := os.Getenv("LOG_FILE")
	if file == "" {
		return os.Stdout
	}

	return &lumberjack.Logger{
		Filename:   file,
		MaxSize:    getEnvInt("LOG_MAX_SIZE_MB", 100),
		MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		MaxAge:     getEnvInt("LOG_MAX_AGE_DAYS", 30),
		Compress:   true,
	}
}

// getEnv obtiene una variable de entorno con valor por defecto
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt obtiene una variable de entorno numérica con valor por defecto
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

// CloseLogger cierra el logger y espera a que se procesen logs pendientes
func CloseLogger() {
	if Logger != nil {
		Logger.Info(amslog.Event{
			Name:    EventServerShutdown,
			Message: "Logger shutting down",
		})
		Logger.Close()
	}
}
