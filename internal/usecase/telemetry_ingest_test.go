package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GridCast/internal/domain/models"
	mid "GridCast/internal/middleware"
)

type stubPublisher struct {
	mu       sync.Mutex
	readings []*models.Reading
	failNext int
}

func (p *stubPublisher) PublishReading(_ context.Context, r *models.Reading) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext > 0 {
		p.failNext--
		return errors.New("broker unavailable")
	}
	p.readings = append(p.readings, r)
	return nil
}

func (p *stubPublisher) PublishReadings(_ context.Context, rs []*models.Reading) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readings = append(p.readings, rs...)
	return nil
}

func (p *stubPublisher) PublishForecast(context.Context, *models.ForecastBatch) error { return nil }
func (p *stubPublisher) PublishPrices(context.Context, *models.PriceCurve) error     { return nil }
func (p *stubPublisher) Close() error                                                { return nil }

type stubTelemetryStore struct {
	mu        sync.Mutex
	stored    []*models.Reading
	batches   int
	failNext  int
	series    map[string][]models.Reading // entity/signal -> seeded readings
	seriesErr error
}

func (s *stubTelemetryStore) Init(context.Context) error { return nil }

func (s *stubTelemetryStore) Store(_ context.Context, r *models.Reading) error {
	return s.StoreBatch(nil, []*models.Reading{r})
}

func (s *stubTelemetryStore) StoreBatch(_ context.Context, rs []*models.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return errors.New("clickhouse unavailable")
	}
	s.batches++
	s.stored = append(s.stored, rs...)
	return nil
}

func (s *stubTelemetryStore) Series(_ context.Context, entityID, signal string, from, to time.Time) ([]models.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seriesErr != nil {
		return nil, s.seriesErr
	}
	var out []models.Reading
	for _, r := range s.series[entityID+"/"+signal] {
		if !r.Timestamp.Before(from) && !r.Timestamp.After(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubTelemetryStore) LatestValue(context.Context, string, string, time.Time) (models.Reading, error) {
	return models.Reading{}, errors.New("not implemented")
}

func (s *stubTelemetryStore) Health(context.Context) error { return nil }
func (s *stubTelemetryStore) Close() error                 { return nil }

func (s *stubTelemetryStore) storedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stored)
}

type nopMetrics struct{}

func (nopMetrics) RecordReadingIngested(string, string)  {}
func (nopMetrics) RecordReadingRejected(string)          {}
func (nopMetrics) RecordIngestLatency(string, float64)   {}
func (nopMetrics) RecordForecastIssued(string, int)      {}
func (nopMetrics) RecordForecastLatency(string, float64) {}
func (nopMetrics) RecordPriceCycle(float64, int)         {}
func (nopMetrics) RecordOptimizerIterations(int)         {}
func (nopMetrics) RecordAccuracy(string, float64)        {}
func (nopMetrics) RecordPromotion(string, string)        {}
func (nopMetrics) RecordRetrain(string, string)          {}
func (nopMetrics) RecordGridHealth(float64)              {}
func (nopMetrics) RecordError(string)                    {}

func sampleReading(entity string, value float64) *models.Reading {
	return &models.Reading{
		EntityID:  entity,
		Signal:    models.SignalPower,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Value:     value,
		Quality:   models.QualityGood,
	}
}

func TestProcessor_KafkaBackendPublishes(t *testing.T) {
	pub := &stubPublisher{}
	store := &stubTelemetryStore{}
	p := NewTelemetryProcessor(pub, store, nopMetrics{}, "kafka", 10, time.Second)

	require.NoError(t, p.Process(context.Background(), sampleReading("meter-1", 5.5)))
	assert.Len(t, pub.readings, 1)
	assert.Equal(t, 0, store.storedCount())

	pub.failNext = 1
	err := p.Process(context.Background(), sampleReading("meter-1", 5.6))
	require.Error(t, err)
}

func TestProcessor_ClickHouseFlushesOnBatchSize(t *testing.T) {
	store := &stubTelemetryStore{}
	p := NewTelemetryProcessor(&stubPublisher{}, store, nopMetrics{}, "clickhouse", 3, time.Hour)

	ctx := context.Background()
	require.NoError(t, p.Process(ctx, sampleReading("meter-1", 1)))
	require.NoError(t, p.Process(ctx, sampleReading("meter-1", 2)))
	assert.Equal(t, 0, store.storedCount())

	require.NoError(t, p.Process(ctx, sampleReading("meter-1", 3)))
	assert.Equal(t, 3, store.storedCount())
	assert.Equal(t, 1, store.batches)
}

func TestProcessor_ClickHouseFlushesOnTimeout(t *testing.T) {
	store := &stubTelemetryStore{}
	p := NewTelemetryProcessor(&stubPublisher{}, store, nopMetrics{}, "clickhouse", 100, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	require.NoError(t, p.Process(ctx, sampleReading("meter-1", 9.9)))
	require.Eventually(t, func() bool { return store.storedCount() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestProcessor_FlushFailureRetainsReadings(t *testing.T) {
	store := &stubTelemetryStore{failNext: 1}
	p := NewTelemetryProcessor(&stubPublisher{}, store, nopMetrics{}, "clickhouse", 3, time.Hour)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Process(ctx, sampleReading("meter-1", float64(i))))
	}
	// first flush attempt failed; nothing stored, nothing lost
	assert.Equal(t, 0, store.storedCount())

	require.NoError(t, p.Process(ctx, sampleReading("meter-1", 3)))
	assert.Equal(t, 4, store.storedCount())
}

func TestProcessor_CloseFlushesPending(t *testing.T) {
	store := &stubTelemetryStore{}
	p := NewTelemetryProcessor(&stubPublisher{}, store, nopMetrics{}, "clickhouse", 100, time.Hour)

	require.NoError(t, p.Process(context.Background(), sampleReading("meter-1", 7.7)))
	assert.Equal(t, 0, store.storedCount())

	p.Close()
	assert.Equal(t, 1, store.storedCount())
}

func TestKafkaTelemetryHandler(t *testing.T) {
	store := &stubTelemetryStore{}
	proc := NewTelemetryProcessor(&stubPublisher{}, store, nopMetrics{}, "clickhouse", 1, time.Hour)
	pipe := mid.NewTelemetryPipeline(proc, nopMetrics{})
	h := NewKafkaTelemetryHandler("grid.telemetry", pipe, nopMetrics{})

	assert.Equal(t, "grid.telemetry", h.Topic())

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	msg, err := json.Marshal(map[string]interface{}{
		"entity_id": "meter-1",
		"signal":    models.SignalVoltage,
		"t":         ts.UnixMilli(),
		"v":         231.7,
		"quality":   "good",
	})
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), msg))
	require.Equal(t, 1, store.storedCount())
	store.mu.Lock()
	got := store.stored[0]
	store.mu.Unlock()
	assert.Equal(t, "meter-1", got.EntityID)
	assert.Equal(t, models.SignalVoltage, got.Signal)
	assert.True(t, ts.Equal(got.Timestamp))
	assert.Equal(t, 231.7, got.Value)

	// malformed payload goes to the consumer's retry/DLQ path
	require.Error(t, h.Handle(context.Background(), []byte("{not json")))

	// out-of-range values are rejected by the shared pipeline
	bad, _ := json.Marshal(map[string]interface{}{
		"entity_id": "meter-1",
		"signal":    models.SignalVoltage,
		"t":         ts.UnixMilli(),
		"v":         999.0,
	})
	require.Error(t, h.Handle(context.Background(), bad))
	assert.Equal(t, 1, store.storedCount())
}

type stubStream struct {
	mu         sync.Mutex
	connected  bool
	subscribed bool
	reconnects int
	rCh        chan *models.Reading
	errCh      chan error
}

func newStubStream() *stubStream {
	return &stubStream{rCh: make(chan *models.Reading, 16), errCh: make(chan error, 4)}
}

func (s *stubStream) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *stubStream) Subscribe(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = true
	return nil
}

func (s *stubStream) Read(context.Context) (<-chan *models.Reading, <-chan error) {
	return s.rCh, s.errCh
}

func (s *stubStream) Reconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	return nil
}

func (s *stubStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *stubStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *stubStream) reconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

func TestCollector_ConsumesAndReconnects(t *testing.T) {
	stream := newStubStream()
	store := &stubTelemetryStore{}
	proc := NewTelemetryProcessor(&stubPublisher{}, store, nopMetrics{}, "clickhouse", 1, time.Hour)
	c := NewTelemetryCollector(stream, proc, nopMetrics{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))
	assert.True(t, c.IsConnected())
	assert.True(t, stream.subscribed)

	stream.rCh <- sampleReading("meter-1", 4.0)
	require.Eventually(t, func() bool { return store.storedCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	stream.errCh <- errors.New("gateway closed connection")
	require.Eventually(t, func() bool { return stream.reconnectCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Shutdown(ctx))
	assert.False(t, c.IsConnected())
}
