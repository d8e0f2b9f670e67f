package usecase

import (
	"context"
	"encoding/json"
	"time"

	"GridCast/internal/domain/models"
	domrepo "GridCast/internal/domain/repository"
	mid "GridCast/internal/middleware"
	pkgkafka "GridCast/pkg/kafka"
)

// KafkaTelemetryHandler consumes telemetry messages and feeds them through
// the same validation pipeline as the stream source. Invalid payloads error
// out to the consumer's retry/DLQ path.
type KafkaTelemetryHandler struct {
	topic   string
	pipe    *mid.TelemetryPipeline
	metrics domrepo.Metrics
}

func NewKafkaTelemetryHandler(topic string, pipe *mid.TelemetryPipeline, metrics domrepo.Metrics) *KafkaTelemetryHandler {
	return &KafkaTelemetryHandler{topic: topic, pipe: pipe, metrics: metrics}
}

func (h *KafkaTelemetryHandler) Topic() string { return h.topic }

// incoming message schema: {entity_id, signal, t, v, quality}
func (h *KafkaTelemetryHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		EntityID string  `json:"entity_id"`
		Signal   string  `json:"signal"`
		T        int64   `json:"t"`
		V        float64 `json:"v"`
		Quality  string  `json:"quality"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	var ts time.Time
	if m.T > 1e11 { // ms
		ts = time.UnixMilli(m.T).UTC()
	} else {
		ts = time.Unix(m.T, 0).UTC()
	}
	// E2E latency from event time to now (approx)
	h.metrics.RecordIngestLatency("kafka", time.Since(ts).Seconds())

	quality := models.Quality(m.Quality)
	if quality == "" {
		quality = models.QualityGood
	}
	return h.pipe.Process(ctx, &models.Reading{
		EntityID:  m.EntityID,
		Signal:    m.Signal,
		Timestamp: ts,
		Value:     m.V,
		Quality:   quality,
	})
}

var _ pkgkafka.MessageHandler = (*KafkaTelemetryHandler)(nil)
