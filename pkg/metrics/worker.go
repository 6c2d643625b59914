package metrics

import (
	"fmt"
	"sync"
	"time"

	"ai-proxy/pkg/amslog"
)

// UsageRecord es el consumo observado en una petición al proxy
type UsageRecord struct {
	RequestID    string
	Provider     string
	Operation    string
	ModelID      string
	Streamed     bool
	InputTokens  int64
	OutputTokens int64
	DurationMs   int64
	Timestamp    time.Time
}

// UsageWorker gestiona el volcado asíncrono de registros de uso al log
// estructurado, con coste estimado por modelo
type UsageWorker struct {
	logger        *amslog.Logger
	records       chan *UsageRecord
	batchSize     int
	flushInterval time.Duration
	wg            sync.WaitGroup
	stopChan      chan struct{}
	stopped       bool
	mu            sync.Mutex
}

// Config contiene la configuración del worker de uso
type Config struct {
	BufferSize    int           // Tamaño del canal buffered
	BatchSize     int           // Número de registros por batch
	FlushInterval time.Duration // Intervalo de flush automático
}

// DefaultConfig retorna la configuración por defecto
func DefaultConfig() Config {
	return Config{
		BufferSize:    1000,            // Buffer para 1000 registros
		BatchSize:     50,              // Volcar cada 50 registros
		FlushInterval: 5 * time.Second, // O cada 5 segundos
	}
}

// NewUsageWorker crea una nueva instancia del worker de uso
func NewUsageWorker(logger *amslog.Logger, config Config) *UsageWorker {
	return &UsageWorker{
		logger:        logger,
		records:       make(chan *UsageRecord, config.BufferSize),
		batchSize:     config.BatchSize,
		flushInterval: config.FlushInterval,
		stopChan:      make(chan struct{}),
		stopped:       false,
	}
}

// Start inicia el worker de uso
func (uw *UsageWorker) Start() {
	uw.wg.Add(1)
	go uw.run()
}

// run es el loop principal del worker
func (uw *UsageWorker) run() {
	defer uw.wg.Done()

	batch := make([]*UsageRecord, 0, uw.batchSize)
	ticker := time.NewTicker(uw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case record := <-uw.records:
			// Añadir registro al batch
			batch = append(batch, record)

			// Si el batch está lleno, volcar
			if len(batch) >= uw.batchSize {
				uw.flushBatch(batch)
				batch = make([]*UsageRecord, 0, uw.batchSize)
			}

		case <-ticker.C:
			// Flush periódico aunque el batch no esté lleno
			if len(batch) > 0 {
				uw.flushBatch(batch)
				batch = make([]*UsageRecord, 0, uw.batchSize)
			}

		case <-uw.stopChan:
			// Drenar los registros pendientes y hacer el flush final
			for {
				select {
				case record := <-uw.records:
					batch = append(batch, record)
				default:
					if len(batch) > 0 {
						uw.flushBatch(batch)
					}
					return
				}
			}
		}
	}
}

// flushBatch vuelca un batch de registros al log estructurado
func (uw *UsageWorker) flushBatch(batch []*UsageRecord) {
	if len(batch) == 0 {
		return
	}

	var totalInput, totalOutput int64
	totalCost := 0.0

	for _, record := range batch {
		fields := map[string]interface{}{
			"request_id":    record.RequestID,
			"provider":      record.Provider,
			"operation":     record.Operation,
			"model_id":      record.ModelID,
			"streamed":      record.Streamed,
			"input_tokens":  record.InputTokens,
			"output_tokens": record.OutputTokens,
			"duration_ms":   record.DurationMs,
			"timestamp":     record.Timestamp.Format(time.RFC3339),
		}

		if breakdown, err := CalculateCostBreakdown(record.ModelID, record.InputTokens, record.OutputTokens); err == nil {
			fields["input_cost_usd"] = breakdown.InputCost
			fields["output_cost_usd"] = breakdown.OutputCost
			fields["total_cost_usd"] = breakdown.TotalCost
			totalCost += breakdown.TotalCost
		}

		uw.logger.Info(amslog.Event{
			Name: "USAGE_RECORD",
			Message: fmt.Sprintf("%s %s | Tokens: %d (Input: %d, Output: %d)",
				record.Provider, record.Operation,
				record.InputTokens+record.OutputTokens, record.InputTokens, record.OutputTokens),
			Fields: fields,
		})

		totalInput += record.InputTokens
		totalOutput += record.OutputTokens
	}

	uw.logger.Info(amslog.Event{
		Name:    "USAGE_FLUSH",
		Message: fmt.Sprintf("Flushed usage batch: %d records", len(batch)),
		Fields: map[string]interface{}{
			"records":        len(batch),
			"input_tokens":   totalInput,
			"output_tokens":  totalOutput,
			"total_cost_usd": totalCost,
		},
	})
}

// Record añade un registro al canal para procesamiento asíncrono
func (uw *UsageWorker) Record(record *UsageRecord) error {
	uw.mu.Lock()
	defer uw.mu.Unlock()

	if uw.stopped {
		return fmt.Errorf("usage worker is stopped")
	}

	// Intentar enviar al canal sin bloquear
	select {
	case uw.records <- record:
		return nil
	default:
		// Canal lleno, el registro se pierde
		return fmt.Errorf("usage channel is full, record dropped")
	}
}

// Stop detiene el worker de uso de forma graceful
func (uw *UsageWorker) Stop() {
	uw.mu.Lock()
	if uw.stopped {
		uw.mu.Unlock()
		return
	}
	uw.stopped = true
	uw.mu.Unlock()

	// Señalar al worker que debe detenerse
	close(uw.stopChan)

	// Esperar a que termine el flush final
	uw.wg.Wait()

	// Cerrar el canal de registros
	close(uw.records)
}

// Stats retorna estadísticas del worker
func (uw *UsageWorker) Stats() WorkerStats {
	uw.mu.Lock()
	defer uw.mu.Unlock()

	return WorkerStats{
		BufferSize:    cap(uw.records),
		BufferedCount: len(uw.records),
		BatchSize:     uw.batchSize,
		FlushInterval: uw.flushInterval,
		IsStopped:     uw.stopped,
	}
}

// WorkerStats contiene estadísticas del worker
type WorkerStats struct {
	BufferSize    int
	BufferedCount int
	BatchSize     int
	FlushInterval time.Duration
	IsStopped     bool
}
