package repository

import (
	"context"

	"GridCast/internal/domain/models"
	"GridCast/internal/domain/repository"
	pkgkafka "GridCast/pkg/kafka"
)

// KafkaPublisher implements Publisher for Kafka. Readings are keyed by
// entity so per-meter ordering survives partitioning.
type KafkaPublisher struct {
	producer       *pkgkafka.Producer
	telemetryTopic string
	forecastTopic  string
	priceTopic     string
}

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, telemetryTopic, forecastTopic, priceTopic string) repository.Publisher {
	return &KafkaPublisher{
		producer:       producer,
		telemetryTopic: telemetryTopic,
		forecastTopic:  forecastTopic,
		priceTopic:     priceTopic,
	}
}

func (p *KafkaPublisher) PublishReading(ctx context.Context, r *models.Reading) error {
	return p.producer.Publish(ctx, p.telemetryTopic, []byte(r.EntityID), map[string]interface{}{
		"entity_id": r.EntityID,
		"signal":    r.Signal,
		"t":         r.Timestamp.UnixMilli(),
		"v":         r.Value,
		"quality":   string(r.Quality),
	})
}

func (p *KafkaPublisher) PublishReadings(ctx context.Context, rs []*models.Reading) error {
	if len(rs) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(rs))
	for i, r := range rs {
		msgs[i] = pkgkafka.Message{
			Key: []byte(r.EntityID),
			Value: map[string]interface{}{
				"entity_id": r.EntityID,
				"signal":    r.Signal,
				"t":         r.Timestamp.UnixMilli(),
				"v":         r.Value,
				"quality":   string(r.Quality),
			},
		}
	}
	return p.producer.PublishBatch(ctx, p.telemetryTopic, msgs)
}

func (p *KafkaPublisher) PublishForecast(ctx context.Context, b *models.ForecastBatch) error {
	points := make([]map[string]interface{}, len(b.Points))
	for i, fp := range b.Points {
		points[i] = map[string]interface{}{
			"target": fp.TargetTimestamp,
			"point":  fp.PointEstimate,
			"lower":  fp.LowerBound,
			"upper":  fp.UpperBound,
		}
	}
	key := string(b.Type) + "/" + b.EntityID
	return p.producer.Publish(ctx, p.forecastTopic, []byte(key), map[string]interface{}{
		"type":      string(b.Type),
		"entity_id": b.EntityID,
		"issued_at": b.IssuedAt,
		"model":     b.Model,
		"points":    points,
	})
}

func (p *KafkaPublisher) PublishPrices(ctx context.Context, c *models.PriceCurve) error {
	points := make([]map[string]interface{}, len(c.Points))
	for i, pp := range c.Points {
		points[i] = map[string]interface{}{
			"target":     pp.TargetTimestamp,
			"price":      pp.Price,
			"tier":       string(pp.Tier),
			"adjustment": pp.AdjustmentFactor,
			"degraded":   pp.Degraded,
		}
	}
	return p.producer.Publish(ctx, p.priceTopic, []byte("curve"), map[string]interface{}{
		"issued_at": c.IssuedAt,
		"points":    points,
	})
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
