package middleware

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"GridCast/internal/domain/models"
	domrepo "GridCast/internal/domain/repository"
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, r *models.Reading) error
}

// TelemetryPipeline sits between the meter gateway and the processor.
// It validates, throttles per entity signal, optionally transforms, and
// buffers when downstream is unavailable.
type TelemetryPipeline struct {
	proc     Proc
	metrics  domrepo.Metrics
	maxRPS   int
	bufSize  int
	bufCh    chan *models.Reading
	stopCh   chan struct{}
	started  bool
	mu       sync.Mutex
	lastSeen map[string]time.Time // per entity/signal last accepted time
	// format transform hook (optional)
	transform func(*models.Reading) *models.Reading
}

type PipelineOption func(*TelemetryPipeline)

// WithMaxRPS sets the max readings per second per entity signal.
func WithMaxRPS(n int) PipelineOption {
	return func(p *TelemetryPipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the temporary buffer size when downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *TelemetryPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithTransform sets a transformation hook to normalize reading format.
func WithTransform(fn func(*models.Reading) *models.Reading) PipelineOption {
	return func(p *TelemetryPipeline) { p.transform = fn }
}

// NewTelemetryPipeline creates a new pipeline.
func NewTelemetryPipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *TelemetryPipeline {
	p := &TelemetryPipeline{
		proc:     proc,
		metrics:  metrics,
		maxRPS:   20,   // default throttle per entity signal
		bufSize:  1000, // default buffer
		bufCh:    make(chan *models.Reading, 1000),
		stopCh:   make(chan struct{}),
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufSize != cap(p.bufCh) {
		p.bufCh = make(chan *models.Reading, p.bufSize)
	}
	return p
}

// Start launches background flushing of buffered readings.
func (p *TelemetryPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case r := <-p.bufCh:
				if r == nil {
					continue
				}
				if err := p.proc.Process(ctx, r); err != nil {
					// exponential backoff with cap
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("pipeline_flush")
					time.Sleep(backoff)
					// requeue if space; drop otherwise
					select {
					case p.bufCh <- r:
					default:
						p.metrics.RecordError("pipeline_buffer_drop")
					}
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

// Stop stops the background flushing.
func (p *TelemetryPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
}

// Process validates, throttles, and forwards the reading downstream,
// buffering on errors.
func (p *TelemetryPipeline) Process(ctx context.Context, r *models.Reading) error {
	start := time.Now()
	if reason, err := validateReading(r); err != nil {
		p.metrics.RecordReadingRejected(reason)
		return err
	}
	if p.transform != nil {
		r = p.transform(r)
		if reason, err := validateReading(r); err != nil {
			p.metrics.RecordReadingRejected("transform_" + reason)
			return err
		}
	}
	if !p.allow(r.EntityID+"/"+r.Signal, start) {
		// throttled; count and drop silently
		p.metrics.RecordReadingRejected("throttled")
		return nil
	}

	if err := p.proc.Process(ctx, r); err != nil {
		p.metrics.RecordError("pipeline_process")
		// buffer non-blocking
		select {
		case p.bufCh <- r:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	return nil
}

// validateReading screens shape, quality flag, and per-signal physical ranges.
func validateReading(r *models.Reading) (string, error) {
	if r == nil {
		return "nil", fmt.Errorf("reading nil")
	}
	if r.EntityID == "" || len(r.EntityID) > 128 {
		return "entity", fmt.Errorf("entity id invalid")
	}
	if r.Signal == "" {
		return "signal", fmt.Errorf("signal empty")
	}
	if r.Timestamp.IsZero() {
		return "timestamp", fmt.Errorf("timestamp invalid")
	}
	switch r.Quality {
	case models.QualityGood, models.QualityEstimated, models.QualityMissing:
	default:
		return "quality", fmt.Errorf("unknown quality %q", r.Quality)
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return "value", fmt.Errorf("value not finite")
	}
	switch r.Signal {
	case models.SignalVoltage:
		if r.Value < 100 || r.Value > 300 {
			return "range", fmt.Errorf("voltage %.1f out of range", r.Value)
		}
	case models.SignalFrequency:
		if r.Value < 45 || r.Value > 65 {
			return "range", fmt.Errorf("frequency %.2f out of range", r.Value)
		}
	case models.SignalIrradiance:
		if r.Value < 0 || r.Value > 1500 {
			return "range", fmt.Errorf("irradiance %.1f out of range", r.Value)
		}
	case models.SignalPowerFactor, models.SignalCloudCover:
		if r.Value < 0 || r.Value > 1 {
			return "range", fmt.Errorf("%s %.3f out of range", r.Signal, r.Value)
		}
	case models.SignalWindSpeed:
		if r.Value < 0 {
			return "range", fmt.Errorf("wind speed %.1f negative", r.Value)
		}
	}
	return "", nil
}

func (p *TelemetryPipeline) allow(key string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	// at most maxRPS accepted per second per key
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.lastSeen[key]
	if last.IsZero() {
		p.lastSeen[key] = now
		return true
	}
	if now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[key] = now
	return true
}
