package pkg

import (
	"os"
	"strconv"
	"time"

	"ai-proxy/pkg/metrics"
)

// ServerConfig contiene la configuración del servidor HTTP
type ServerConfig struct {
	Port string
}

// LoadServerConfigWithEnv carga la configuración del servidor desde variables de entorno
func LoadServerConfigWithEnv() *ServerConfig {
	config := &ServerConfig{
		Port: "8000",
	}

	if port := os.Getenv("PORT"); port != "" {
		config.Port = port
	}

	return config
}

// LoadUsageWorkerConfigWithEnv carga la configuración del worker de uso desde variables de entorno
func LoadUsageWorkerConfigWithEnv() metrics.Config {
	config := metrics.DefaultConfig()

	if sizeStr := os.Getenv("USAGE_BUFFER_SIZE"); sizeStr != "" {
		if size, err := strconv.Atoi(sizeStr); err == nil && size > 0 {
			config.BufferSize = size
		}
	}

	if batchStr := os.Getenv("USAGE_BATCH_SIZE"); batchStr != "" {
		if batch, err := strconv.Atoi(batchStr); err == nil && batch > 0 {
			config.BatchSize = batch
		}
	}

	if intervalStr := os.Getenv("USAGE_FLUSH_INTERVAL_SECONDS"); intervalStr != "" {
		if interval, err := strconv.Atoi(intervalStr); err == nil && interval > 0 {
			config.FlushInterval = time.Duration(interval) * time.Second
		}
	}

	return config
}
