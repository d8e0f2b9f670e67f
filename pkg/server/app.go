package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"GridCast/internal/middleware"
	"GridCast/internal/usecase"
	pkgch "GridCast/pkg/clickhouse"
	"GridCast/pkg/config"
	xhttp "GridCast/pkg/http"
	pkgkafka "GridCast/pkg/kafka"
	applogger "GridCast/pkg/logger"
	"GridCast/pkg/queue"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	logger      *applogger.Logger
	collector   *usecase.TelemetryCollector
	consumer    *pkgkafka.Consumer
	kh          pkgkafka.MessageHandler
	pipe        *middleware.TelemetryPipeline
	processor   *usecase.TelemetryProcessor
	sched       *usecase.Scheduler
	jobs        *queue.RedisQueue
	producer    *pkgkafka.Producer
	chClient    *pkgch.Client
	redisClient *redis.Client
	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	collector *usecase.TelemetryCollector,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	pipe *middleware.TelemetryPipeline,
	processor *usecase.TelemetryProcessor,
	sched *usecase.Scheduler,
	jobs *queue.RedisQueue,
	producer *pkgkafka.Producer,
	chClient *pkgch.Client,
	redisClient *redis.Client,
) *App {
	return &App{
		cfg:         cfg,
		logger:      l,
		collector:   collector,
		consumer:    consumer,
		kh:          kh,
		pipe:        pipe,
		processor:   processor,
		sched:       sched,
		jobs:        jobs,
		producer:    producer,
		chClient:    chClient,
		redisClient: redisClient,
	}
}

// SetHTTPHandler allows DI to inject an HTTP handler.
func (a *App) SetHTTPHandler(h xhttp.Handler) { a.httpHandler = h }

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := a.logger

	// Ship aggregated error logs to Kafka when a log topic is configured.
	if a.cfg.Kafka.LogTopic != "" && a.producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          a.cfg.Kafka.LogTopic,
			Publisher:      &logPublisher{producer: a.producer},
		})
	}

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout.Std(), a.cfg.Server.WriteTimeout.Std(), a.cfg.Server.ShutdownTimeout.Std()),
		xhttp.WithRequestLogger(l, time.Second),
	)

	// Job queue first: the scheduler and the retrain endpoint enqueue into it.
	if a.jobs != nil {
		if err := a.jobs.Start(); err != nil {
			l.Error("job queue start error", applogger.Error(err))
			return err
		}
		l.Info("job queue started")
	}

	// Telemetry intake: either the meter gateway stream or a Kafka topic.
	switch a.cfg.Ingest.Source {
	case "kafka":
		a.pipe.Start(ctx)
		a.processor.Start(ctx)
		a.consumer.RegisterHandler(a.kh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				l.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		l.Info("kafka intake started", applogger.String("topic", a.kh.Topic()))
	default:
		go func() {
			if err := a.collector.Start(ctx); err != nil {
				l.Error("collector error", applogger.Error(err))
			}
		}()
		l.Info("gateway stream started", applogger.Int("entities", len(a.cfg.Entities)))
	}

	a.sched.Start(ctx)
	l.Info("scheduler started",
		applogger.Duration("forecast_every", a.cfg.Scheduler.ForecastEvery.Std()),
		applogger.Duration("pricing_every", a.cfg.Scheduler.PricingEvery.Std()))

	if err := a.httpServer.Start(); err != nil {
		l.Error("http server start error", applogger.Error(err))
		return err
	}

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	l.Info("shutdown signal received")
	return a.shutdown(ctx, l)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context, l *applogger.Logger) error {
	l.Info("shutting down")

	// Stop intake first so nothing new enters the pipeline.
	if a.cfg.Ingest.Source == "kafka" {
		if a.consumer != nil {
			if err := a.consumer.Stop(ctx); err != nil {
				l.Warn("kafka consumer stop error", applogger.Error(err))
			}
		}
		if a.pipe != nil {
			a.pipe.Stop()
		}
	} else if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			l.Warn("collector stop error", applogger.Error(err))
		}
	}

	a.sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		l.Error("http shutdown error", applogger.Error(err))
	}

	if a.jobs != nil {
		if err := a.jobs.Stop(shutdownCtx); err != nil {
			l.Warn("job queue stop error", applogger.Error(err))
		}
	}

	// Flush aggregated logs while the Kafka producer is still open; the
	// processor owns the publisher and closes it below.
	l.RemoveCollector()

	if a.processor != nil {
		a.processor.Close()
	}

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			l.Warn("redis close error", applogger.Error(err))
		}
	}

	l.Info("shutdown complete")
	return nil
}

// logPublisher adapts the Kafka producer to the log collector's Publisher.
type logPublisher struct {
	producer *pkgkafka.Producer
}

func (p *logPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}
