package usecase

import (
	"context"
	"time"

	"GridCast/internal/domain/models"
	drepo "GridCast/internal/domain/repository"
	mid "GridCast/internal/middleware"
)

// TelemetryCollector collects readings from the meter gateway stream and
// feeds them through the validation pipeline.
type TelemetryCollector struct {
	stream  drepo.TelemetryStream
	proc    *TelemetryProcessor
	metrics drepo.Metrics
	pipe    *mid.TelemetryPipeline
}

// NewTelemetryCollector creates a new TelemetryCollector instance.
func NewTelemetryCollector(stream drepo.TelemetryStream, proc *TelemetryProcessor, metrics drepo.Metrics, pipe *mid.TelemetryPipeline) *TelemetryCollector {
	return &TelemetryCollector{stream: stream, proc: proc, metrics: metrics, pipe: pipe}
}

// IsConnected returns true if the gateway stream is connected.
func (c *TelemetryCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *TelemetryCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	if c.pipe != nil {
		c.pipe.Start(ctx)
	}
	c.proc.Start(ctx)
	rCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, rCh, errCh)
	return nil
}

func (c *TelemetryCollector) consume(ctx context.Context, rCh <-chan *models.Reading, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			if err != nil {
				c.metrics.RecordError("stream")
				_ = c.stream.Reconnect(ctx)
			}
		case r := <-rCh:
			if r == nil {
				continue
			}
			if c.pipe != nil {
				_ = c.pipe.Process(ctx, r)
			} else {
				_ = c.proc.Process(ctx, r)
			}
			c.metrics.RecordIngestLatency("stream", time.Since(r.Timestamp).Seconds())
		}
	}
}

func (c *TelemetryCollector) Stop() error { return c.stream.Close() }

// Processor returns the underlying TelemetryProcessor for lifecycle management.
func (c *TelemetryCollector) Processor() *TelemetryProcessor { return c.proc }

// Shutdown stops the pipeline and closes the stream.
func (c *TelemetryCollector) Shutdown(ctx context.Context) error {
	if c.pipe != nil {
		c.pipe.Stop()
	}
	return c.stream.Close()
}
