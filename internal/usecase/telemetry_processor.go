package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"GridCast/internal/domain/models"
	drepo "GridCast/internal/domain/repository"
)

// TelemetryProcessor routes validated readings to the configured backend.
// The kafka backend publishes synchronously; the clickhouse backend batches
// write-behind (flush on size or timeout) so ingest never issues single-row
// inserts. Flush failures are retried internally, not surfaced upstream.
type TelemetryProcessor struct {
	pub     drepo.Publisher
	store   drepo.TelemetryStore
	metrics drepo.Metrics
	backend string
	batchSz int
	batchTO time.Duration

	mu      sync.Mutex
	buf     []*models.Reading
	started bool
	stopCh  chan struct{}
}

// NewTelemetryProcessor creates a new TelemetryProcessor instance.
func NewTelemetryProcessor(
	pub drepo.Publisher,
	store drepo.TelemetryStore,
	metrics drepo.Metrics,
	backend string,
	batchSz int,
	batchTO time.Duration,
) *TelemetryProcessor {
	if batchSz <= 0 {
		batchSz = 200
	}
	if batchTO <= 0 {
		batchTO = 2 * time.Second
	}
	return &TelemetryProcessor{
		pub:     pub,
		store:   store,
		metrics: metrics,
		backend: backend,
		batchSz: batchSz,
		batchTO: batchTO,
		buf:     make([]*models.Reading, 0, batchSz),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the periodic flush loop for the clickhouse backend.
func (p *TelemetryProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.backend != "clickhouse" {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(p.batchTO)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.mu.Lock()
				p.flushLocked(ctx)
				p.mu.Unlock()
			}
		}
	}()
}

// Process routes a single reading to the configured backend.
func (p *TelemetryProcessor) Process(ctx context.Context, r *models.Reading) error {
	if r == nil {
		return fmt.Errorf("reading is nil")
	}

	switch p.backend {
	case "kafka":
		if err := p.pub.PublishReading(ctx, r); err != nil {
			p.metrics.RecordError("process")
			return fmt.Errorf("process reading: %w", err)
		}
		p.metrics.RecordReadingIngested(p.backend, r.Signal)
		return nil
	case "clickhouse":
		p.enqueue(ctx, r)
		return nil
	default:
		return fmt.Errorf("unknown backend: %s", p.backend)
	}
}

// ProcessBatch routes multiple readings in one call, bypassing the
// write-behind buffer.
func (p *TelemetryProcessor) ProcessBatch(ctx context.Context, rs []*models.Reading) error {
	if len(rs) == 0 {
		return nil
	}

	var err error
	switch p.backend {
	case "kafka":
		err = p.pub.PublishReadings(ctx, rs)
	case "clickhouse":
		err = p.store.StoreBatch(ctx, rs)
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}

	if err != nil {
		p.metrics.RecordError("process_batch")
		return fmt.Errorf("process batch: %w", err)
	}

	for _, r := range rs {
		p.metrics.RecordReadingIngested(p.backend, r.Signal)
	}
	return nil
}

func (p *TelemetryProcessor) enqueue(ctx context.Context, r *models.Reading) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = append(p.buf, r)
	if len(p.buf) >= p.batchSz {
		p.flushLocked(ctx)
	}
}

// flushLocked writes the buffered readings. On failure the batch stays
// buffered for the next attempt; above four batches worth the oldest batch
// is dropped so a long outage cannot grow the buffer unbounded.
func (p *TelemetryProcessor) flushLocked(ctx context.Context) {
	if len(p.buf) == 0 {
		return
	}
	batch := p.buf
	if err := p.store.StoreBatch(ctx, batch); err != nil {
		p.metrics.RecordError("ingest_flush")
		if len(p.buf) > 4*p.batchSz {
			p.buf = p.buf[p.batchSz:]
			p.metrics.RecordError("ingest_buffer_drop")
		}
		return
	}
	for _, r := range batch {
		p.metrics.RecordReadingIngested(p.backend, r.Signal)
	}
	p.buf = p.buf[:0]
}

// Close flushes pending readings and closes underlying resources.
func (p *TelemetryProcessor) Close() {
	p.mu.Lock()
	if p.started {
		p.started = false
		close(p.stopCh)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	p.flushLocked(ctx)
	cancel()
	p.mu.Unlock()

	if p.pub != nil {
		_ = p.pub.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}
