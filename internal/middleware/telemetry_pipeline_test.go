package middleware

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GridCast/internal/domain/models"
)

type captureProc struct {
	mu       sync.Mutex
	got      []*models.Reading
	failNext int
}

func (p *captureProc) Process(_ context.Context, r *models.Reading) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext > 0 {
		p.failNext--
		return errors.New("downstream unavailable")
	}
	p.got = append(p.got, r)
	return nil
}

func (p *captureProc) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.got)
}

type captureMetrics struct {
	mu       sync.Mutex
	rejected map[string]int
	errs     map[string]int
}

func newCaptureMetrics() *captureMetrics {
	return &captureMetrics{rejected: make(map[string]int), errs: make(map[string]int)}
}

func (m *captureMetrics) RecordReadingIngested(string, string) {}
func (m *captureMetrics) RecordReadingRejected(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[reason]++
}
func (m *captureMetrics) RecordIngestLatency(string, float64) {}
func (m *captureMetrics) RecordForecastIssued(string, int)      {}
func (m *captureMetrics) RecordForecastLatency(string, float64) {}
func (m *captureMetrics) RecordPriceCycle(float64, int)         {}
func (m *captureMetrics) RecordOptimizerIterations(int)         {}
func (m *captureMetrics) RecordAccuracy(string, float64)        {}
func (m *captureMetrics) RecordPromotion(string, string)        {}
func (m *captureMetrics) RecordRetrain(string, string)          {}
func (m *captureMetrics) RecordGridHealth(float64)              {}
func (m *captureMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[kind]++
}

func (m *captureMetrics) rejectedFor(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rejected[reason]
}

func goodReading(entity, signal string, value float64) *models.Reading {
	return &models.Reading{
		EntityID:  entity,
		Signal:    signal,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Value:     value,
		Quality:   models.QualityGood,
	}
}

func TestPipeline_ValidatesRanges(t *testing.T) {
	proc := &captureProc{}
	metrics := newCaptureMetrics()
	p := NewTelemetryPipeline(proc, metrics)

	ctx := context.Background()

	bad := []struct {
		name   string
		r      *models.Reading
		reason string
	}{
		{"nil reading", nil, "nil"},
		{"empty entity", goodReading("", models.SignalPower, 5), "entity"},
		{"empty signal", goodReading("meter-1", "", 5), "signal"},
		{"zero timestamp", &models.Reading{EntityID: "meter-1", Signal: models.SignalPower, Value: 5, Quality: models.QualityGood}, "timestamp"},
		{"unknown quality", &models.Reading{EntityID: "meter-1", Signal: models.SignalPower, Timestamp: time.Now(), Value: 5, Quality: "suspect"}, "quality"},
		{"nan value", goodReading("meter-1", models.SignalPower, math.NaN()), "value"},
		{"voltage too high", goodReading("meter-1", models.SignalVoltage, 350), "range"},
		{"voltage too low", goodReading("meter-1", models.SignalVoltage, 12), "range"},
		{"frequency out of band", goodReading("meter-1", models.SignalFrequency, 30), "range"},
		{"irradiance too high", goodReading("pv-1", models.SignalIrradiance, 2000), "range"},
		{"power factor above one", goodReading("meter-1", models.SignalPowerFactor, 1.4), "range"},
		{"negative wind speed", goodReading("ws-1", models.SignalWindSpeed, -3), "range"},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			before := metrics.rejectedFor(tc.reason)
			err := p.Process(ctx, tc.r)
			require.Error(t, err)
			assert.Equal(t, before+1, metrics.rejectedFor(tc.reason))
		})
	}
	assert.Equal(t, 0, proc.count())

	require.NoError(t, p.Process(ctx, goodReading("meter-1", models.SignalVoltage, 231.5)))
	require.NoError(t, p.Process(ctx, goodReading("meter-1", models.SignalFrequency, 49.97)))
	require.NoError(t, p.Process(ctx, goodReading("pv-1", models.SignalIrradiance, 850)))
	assert.Equal(t, 3, proc.count())
}

func TestPipeline_ThrottlesPerEntitySignal(t *testing.T) {
	proc := &captureProc{}
	metrics := newCaptureMetrics()
	p := NewTelemetryPipeline(proc, metrics, WithMaxRPS(1))

	ctx := context.Background()

	require.NoError(t, p.Process(ctx, goodReading("meter-1", models.SignalPower, 5.0)))
	// second sample on the same signal inside the window drops silently
	require.NoError(t, p.Process(ctx, goodReading("meter-1", models.SignalPower, 5.1)))
	// a different signal from the same entity is its own throttle key
	require.NoError(t, p.Process(ctx, goodReading("meter-1", models.SignalVoltage, 230.0)))
	require.NoError(t, p.Process(ctx, goodReading("meter-2", models.SignalPower, 7.0)))

	assert.Equal(t, 3, proc.count())
	assert.Equal(t, 1, metrics.rejectedFor("throttled"))
}

func TestPipeline_BuffersAndFlushesOnRecovery(t *testing.T) {
	proc := &captureProc{failNext: 1}
	metrics := newCaptureMetrics()
	p := NewTelemetryPipeline(proc, metrics, WithBufferSize(8))

	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop()

	err := p.Process(ctx, goodReading("meter-1", models.SignalPower, 4.2))
	require.Error(t, err)

	// flush loop retries the buffered reading once downstream recovers
	require.Eventually(t, func() bool { return proc.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	proc.mu.Lock()
	defer proc.mu.Unlock()
	assert.Equal(t, "meter-1", proc.got[0].EntityID)
	assert.Equal(t, 4.2, proc.got[0].Value)
}

func TestPipeline_TransformHook(t *testing.T) {
	proc := &captureProc{}
	metrics := newCaptureMetrics()
	p := NewTelemetryPipeline(proc, metrics, WithTransform(func(r *models.Reading) *models.Reading {
		if r.Signal == "freq" {
			r.Signal = models.SignalFrequency
		}
		return r
	}))

	r := goodReading("meter-1", "freq", 50.01)
	require.NoError(t, p.Process(context.Background(), r))
	require.Equal(t, 1, proc.count())
	assert.Equal(t, models.SignalFrequency, proc.got[0].Signal)
}
