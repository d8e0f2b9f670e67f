package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"GridCast/internal/domain/models"
	"GridCast/internal/domain/repository"
	"GridCast/internal/domain/service"
	"GridCast/internal/handler/api"
	mid "GridCast/internal/middleware"
	internalrepo "GridCast/internal/repository"
	icache "GridCast/internal/service/cache"
	"GridCast/internal/service/market"
	"GridCast/internal/service/metergw"
	"GridCast/internal/service/registry"
	"GridCast/internal/services/features"
	"GridCast/internal/services/model"
	"GridCast/internal/services/pricing"
	"GridCast/internal/usecase"
	pkgcache "GridCast/pkg/cache"
	pkgch "GridCast/pkg/clickhouse"
	"GridCast/pkg/config"
	pkgkafka "GridCast/pkg/kafka"
	applogger "GridCast/pkg/logger"
	"GridCast/pkg/metrics"
	"GridCast/pkg/queue"
	"GridCast/pkg/server"
)

// ProvideLogger creates the application logger shared by all components.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	format := "console"
	if cfg.Environment == "production" {
		format = "json"
	}
	return applogger.New(&applogger.Config{Level: "info", Format: format, Output: "stdout"})
}

// ProvideClickHouseClient creates a ClickHouse client and ensures the schema.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout.Std(), cfg.ClickHouse.ReadTimeout.Std(), cfg.ClickHouse.WriteTimeout.Std()),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime.Std()),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.InitSchema(ctx, internalrepo.Schema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideKafkaProducer creates the Kafka producer used for all publishing.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger.Std()),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout.Std(), cfg.Kafka.Producer.ReadTimeout.Std()),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	return producer, nil
}

// ProvideKafkaConsumer creates a Kafka consumer for telemetry intake.
// Stream-sourced deployments get no consumer; the app never starts one.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	if cfg.Ingest.Source != "kafka" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin.Std(), cfg.Kafka.Consumer.BackoffMax.Std()),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideRedisClient creates the Redis client shared by the job queue, the
// retrain lock, and the response cache.
func ProvideRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideEntities converts the configured catalog into domain entities.
func ProvideEntities(cfg *config.Config) []models.Entity {
	out := make([]models.Entity, 0, len(cfg.Entities))
	for _, e := range cfg.Entities {
		ent := models.Entity{
			ID:         e.ID,
			Type:       models.EntityType(e.Type),
			RatedKW:    e.RatedKW,
			WeatherRef: e.WeatherRef,
		}
		if e.Solar != nil {
			ent.Solar = &models.SolarParams{
				TiltDeg:    e.Solar.TiltDeg,
				AzimuthDeg: e.Solar.AzimuthDeg,
				Efficiency: e.Solar.Efficiency,
				AreaM2:     e.Solar.AreaM2,
			}
		}
		if e.Wind != nil {
			ent.Wind = &models.WindParams{
				CutInMS:        e.Wind.CutInMS,
				CutOutMS:       e.Wind.CutOutMS,
				RatedMS:        e.Wind.RatedMS,
				RotorDiameterM: e.Wind.RotorDiameterM,
				HubHeightM:     e.Wind.HubHeightM,
			}
		}
		out = append(out, ent)
	}
	return out
}

// ProvideTelemetryStore creates the ClickHouse telemetry repository.
func ProvideTelemetryStore(chClient *pkgch.Client, cfg *config.Config) repository.TelemetryStore {
	return internalrepo.NewClickHouseTelemetry(chClient.DB(), cfg.ClickHouse.Database+".telemetry_raw")
}

// ProvideBatchStore creates the forecast batch repository.
func ProvideBatchStore(chClient *pkgch.Client, cfg *config.Config, l *applogger.Logger) repository.BatchStore {
	s := internalrepo.NewCHBatchStore(chClient, cfg.ClickHouse.Database)
	s.SetLogger(l)
	return s
}

// ProvideModelStore creates the model version repository.
func ProvideModelStore(chClient *pkgch.Client, cfg *config.Config) repository.ModelStore {
	return internalrepo.NewCHModelStore(chClient, cfg.ClickHouse.Database)
}

// ProvideAccuracyStore creates the accuracy record repository.
func ProvideAccuracyStore(chClient *pkgch.Client, cfg *config.Config) repository.AccuracyStore {
	return internalrepo.NewCHAccuracyStore(chClient, cfg.ClickHouse.Database)
}

// ProvidePublisher creates the Kafka publisher for readings, forecasts and prices.
func ProvidePublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.Publisher {
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.TelemetryTopic, cfg.Kafka.ForecastTopic, cfg.Kafka.PriceTopic)
}

// ProvideStream creates the meter gateway WebSocket stream.
func ProvideStream(cfg *config.Config, entities []models.Entity) repository.TelemetryStream {
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.ID)
	}
	return metergw.New(
		cfg.Gateway.APIKey,
		cfg.Gateway.WebSocketURL,
		ids,
		cfg.Gateway.ReconnectDelay.Std(),
		cfg.Gateway.PingInterval.Std(),
	)
}

// ProvideProcessor creates the telemetry processor use case.
func ProvideProcessor(
	pub repository.Publisher,
	store repository.TelemetryStore,
	metrics repository.Metrics,
	cfg *config.Config,
) *usecase.TelemetryProcessor {
	return usecase.NewTelemetryProcessor(
		pub,
		store,
		metrics,
		cfg.Ingest.Backend,
		cfg.Ingest.BatchSize,
		cfg.Ingest.BatchTimeout.Std(),
	)
}

// ProvidePipeline creates the validation and throttling pipeline in front of
// the processor. Both intake paths feed through it.
func ProvidePipeline(proc *usecase.TelemetryProcessor, metrics repository.Metrics, cfg *config.Config) *mid.TelemetryPipeline {
	return mid.NewTelemetryPipeline(proc, metrics,
		mid.WithMaxRPS(cfg.Ingest.MaxRPS),
		mid.WithBufferSize(cfg.Ingest.BufferSize),
	)
}

// ProvideCollector creates the stream intake use case.
func ProvideCollector(
	stream repository.TelemetryStream,
	proc *usecase.TelemetryProcessor,
	metrics repository.Metrics,
	pipe *mid.TelemetryPipeline,
) *usecase.TelemetryCollector {
	return usecase.NewTelemetryCollector(stream, proc, metrics, pipe)
}

// ProvideKafkaTelemetryHandler creates the handler for the telemetry topic.
func ProvideKafkaTelemetryHandler(pipe *mid.TelemetryPipeline, metrics repository.Metrics, cfg *config.Config) *usecase.KafkaTelemetryHandler {
	return usecase.NewKafkaTelemetryHandler(cfg.Kafka.TelemetryTopic, pipe, metrics)
}

// ProvideResponseCache creates the shared read cache for market conditions
// and storage-backed API responses. Redis is the source of truth so replicas
// see the same entries; a small in-process layer absorbs repeat reads.
func ProvideResponseCache(redisClient *redis.Client) icache.BytesCache {
	base := pkgcache.NewRedisCacheFromClient(redisClient, "gridcast")
	layered := pkgcache.NewLayeredCache(base,
		pkgcache.WithLayeredMemorySize(2048),
		pkgcache.WithLayeredWriteBackTTL(30*time.Second),
	)
	return &svcBytes{svc: layered}
}

// ProvideBoard creates the published results board.
func ProvideBoard() *registry.Board {
	return registry.NewBoard()
}

// ProvideModels creates the model registry.
func ProvideModels() *registry.Models {
	return registry.NewModels()
}

// ProvideFeatureBuilder creates the feature window builder. Peak hours come
// from the tariff config so serving features match the trained layout.
func ProvideFeatureBuilder(cfg *config.Config) *features.Builder {
	return features.NewBuilder(features.Config{
		WindowHours:       cfg.Forecast.WindowHours,
		GapToleranceHours: cfg.Forecast.GapToleranceHours,
		PeakStartHour:     cfg.Pricing.PeakStartHour,
		PeakEndHour:       cfg.Pricing.PeakEndHour,
	})
}

// ProvideOptimizer creates the tariff optimizer.
func ProvideOptimizer(cfg *config.Config) *pricing.Optimizer {
	return pricing.NewOptimizer(pricing.Config{
		BasePrice:         cfg.Pricing.BasePrice,
		MinPrice:          cfg.Pricing.MinPrice,
		MaxPrice:          cfg.Pricing.MaxPrice,
		PeakStartHour:     cfg.Pricing.PeakStartHour,
		PeakEndHour:       cfg.Pricing.PeakEndHour,
		OffPeakStart:      cfg.Pricing.OffPeakStart,
		OffPeakEnd:        cfg.Pricing.OffPeakEnd,
		PeakMultiplier:    cfg.Pricing.PeakMultiplier,
		OffPeakMultiplier: cfg.Pricing.OffPeakMultiplier,
		RevenueWeight:     cfg.Pricing.Weights.Revenue,
		StabilityWeight:   cfg.Pricing.Weights.Stability,
		MarketWeight:      cfg.Pricing.Weights.Market,
		MaxIterations:     cfg.Pricing.MaxIterations,
		Tolerance:         cfg.Pricing.Tolerance,
	})
}

// ProvideMarketClient creates the market data service client.
func ProvideMarketClient(cfg *config.Config, cache icache.BytesCache, l *applogger.Logger) repository.MarketSource {
	return market.NewClient(market.Config{
		ServiceURL:           cfg.Market.ServiceURL,
		Timeout:              cfg.Market.Timeout.Std(),
		CacheTTL:             cfg.Market.CacheTTL.Std(),
		FallbackWholesale:    cfg.Market.Fallback.WholesalePrice,
		FallbackTransmission: cfg.Market.Fallback.TransmissionCost,
		FallbackDistribution: cfg.Market.Fallback.DistributionCost,
	}, cache, l)
}

// ProvideTrainer creates the model trainer.
func ProvideTrainer(store repository.TelemetryStore, cfg *config.Config, l *applogger.Logger) service.Trainer {
	return model.NewTrainer(store, model.TrainerConfig{
		CorpusWeeks:   cfg.Forecast.Training.CorpusWeeks,
		HiddenLayers:  cfg.Forecast.Training.HiddenLayers,
		LearningRate:  cfg.Forecast.Training.LearningRate,
		BatchSize:     cfg.Forecast.Training.BatchSize,
		Epochs:        cfg.Forecast.Training.Epochs,
		Patience:      cfg.Forecast.Training.Patience,
		Seed:          cfg.Forecast.Training.Seed,
		ValidationPct: cfg.Forecast.Training.ValidationPct,
		PeakStartHour: cfg.Pricing.PeakStartHour,
		PeakEndHour:   cfg.Pricing.PeakEndHour,
	}, l)
}

// ProvideLoader creates the predictor loader.
func ProvideLoader(cfg *config.Config) service.PredictorLoader {
	return model.NewLoader(cfg.Forecast.BoundsZ)
}

// ProvideForecastRunner creates the forecast cycle runner.
func ProvideForecastRunner(
	cfg *config.Config,
	builder *features.Builder,
	telemetry repository.TelemetryStore,
	reg *registry.Models,
	board *registry.Board,
	store repository.BatchStore,
	pub repository.Publisher,
	entities []models.Entity,
	metrics repository.Metrics,
	l *applogger.Logger,
) *usecase.ForecastRunner {
	return usecase.NewForecastRunner(usecase.ForecastRunnerConfig{
		HorizonHours: cfg.Forecast.HorizonHours,
		CycleBudget:  cfg.Forecast.CycleBudget.Std(),
	}, builder, telemetry, reg, board, store, pub, entities, metrics, l)
}

// ProvidePriceRunner creates the pricing cycle runner.
func ProvidePriceRunner(
	cfg *config.Config,
	opt *pricing.Optimizer,
	marketSrc repository.MarketSource,
	board *registry.Board,
	store repository.BatchStore,
	pub repository.Publisher,
	metrics repository.Metrics,
	l *applogger.Logger,
) *usecase.PriceRunner {
	return usecase.NewPriceRunner(usecase.PriceRunnerConfig{
		HorizonHours: cfg.Forecast.HorizonHours,
		CycleBudget:  cfg.Pricing.CycleBudget.Std(),
	}, opt, marketSrc, board, store, pub, metrics, l)
}

// ProvideAccuracyTracker creates the forecast accuracy tracker.
func ProvideAccuracyTracker(
	cfg *config.Config,
	batches repository.BatchStore,
	telemetry repository.TelemetryStore,
	acc repository.AccuracyStore,
	metrics repository.Metrics,
	l *applogger.Logger,
) *usecase.AccuracyTracker {
	return usecase.NewAccuracyTracker(usecase.AccuracyTrackerConfig{
		MinSamples: cfg.Scheduler.MinSamples,
	}, batches, telemetry, acc, metrics, l)
}

// ProvideGridHealthRunner creates the grid health assessor.
func ProvideGridHealthRunner(
	cfg *config.Config,
	telemetry repository.TelemetryStore,
	board *registry.Board,
	entities []models.Entity,
	metrics repository.Metrics,
	l *applogger.Logger,
) *usecase.GridHealthRunner {
	return usecase.NewGridHealthRunner(usecase.GridHealthConfig{
		CapacityKW: cfg.Grid.CapacityKW,
	}, telemetry, board, entities, metrics, l)
}

// ProvideQueue creates the Redis job queue. Jobs are registered at app
// assembly, after the scheduler that handles them exists.
func ProvideQueue(l *applogger.Logger, cfg *config.Config, redisClient *redis.Client) *queue.RedisQueue {
	return queue.NewRedisQueue(l, &queue.QueueConfig{
		Workers:    cfg.Redis.Workers,
		QueueSize:  100,
		RetryLimit: 3,
		RetryDelay: 30 * time.Second,
	}, redisClient, queue.ModeProducerConsumer)
}

// ProvideScheduler creates the cycle scheduler.
func ProvideScheduler(
	cfg *config.Config,
	forecasts *usecase.ForecastRunner,
	prices *usecase.PriceRunner,
	accuracy *usecase.AccuracyTracker,
	health *usecase.GridHealthRunner,
	trainer service.Trainer,
	loader service.PredictorLoader,
	reg *registry.Models,
	modelStore repository.ModelStore,
	jobs *queue.RedisQueue,
	entities []models.Entity,
	metrics repository.Metrics,
	l *applogger.Logger,
) *usecase.Scheduler {
	return usecase.NewScheduler(usecase.SchedulerConfig{
		ForecastEvery:   cfg.Scheduler.ForecastEvery.Std(),
		PricingEvery:    cfg.Scheduler.PricingEvery.Std(),
		AccuracyEvery:   cfg.Scheduler.AccuracyEvery.Std(),
		GridHealthEvery: cfg.Scheduler.GridHealthEvery.Std(),
		MAPEThreshold:   cfg.Scheduler.MAPEThreshold,
		BreachWindows:   cfg.Scheduler.BreachWindows,
		PromotionMargin: cfg.Scheduler.PromotionMargin,
	}, forecasts, prices, accuracy, health, trainer, loader, reg, modelStore, jobs, entities, metrics, l)
}

// ProvideRetrainJob creates the queue job that runs retraining. The Redis
// lock keeps one training run per forecast type across replicas.
func ProvideRetrainJob(sched *usecase.Scheduler, redisClient *redis.Client, l *applogger.Logger) *usecase.RetrainJob {
	locker := pkgcache.NewRedisCacheFromClient(redisClient, "gridcast")
	return usecase.NewRetrainJob(sched, locker, l)
}

// ProvidePipelineHandler creates the HTTP API handler.
func ProvidePipelineHandler(
	l *applogger.Logger,
	board *registry.Board,
	opt *pricing.Optimizer,
	sched *usecase.Scheduler,
	prices *usecase.PriceRunner,
	acc repository.AccuracyStore,
	cache icache.BytesCache,
) *api.PipelineHandler {
	h := api.NewPipelineHandler(l, board, opt, sched, prices, acc)
	h.SetCache(cache)
	return h
}

// ProvideApp assembles the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	collector *usecase.TelemetryCollector,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaTelemetryHandler,
	pipe *mid.TelemetryPipeline,
	processor *usecase.TelemetryProcessor,
	sched *usecase.Scheduler,
	jobs *queue.RedisQueue,
	retrain *usecase.RetrainJob,
	producer *pkgkafka.Producer,
	chClient *pkgch.Client,
	redisClient *redis.Client,
	h *api.PipelineHandler,
	metrics repository.Metrics,
) *server.App {
	jobs.RegisterJob(retrain)
	if consumer != nil {
		countFailures := pkgkafka.HookFuncs{
			Err: func(_ context.Context, _ string, _ kafkago.Message, _ []byte, _ error) {
				metrics.RecordError("kafka_consume")
			},
		}
		logFailures := pkgkafka.HookFuncs{
			Err: func(_ context.Context, topic string, km kafkago.Message, _ []byte, err error) {
				fields := []applogger.Field{applogger.String("topic", topic), applogger.Error(err)}
				if id := pkgkafka.TraceID(km); id != "" {
					fields = append(fields, applogger.String("trace_id", id))
				}
				l.Error("kafka message failed", fields...)
			},
		}
		consumer.WithConsumerHook(pkgkafka.NewHookChain(countFailures, logFailures))
	}
	app := server.New(cfg, l, collector, consumer, kh, pipe, processor, sched, jobs, producer, chClient, redisClient)
	app.SetHTTPHandler(h)
	return app
}

// svcBytes adapts a cache Service to the BytesCache the handlers and market
// client consume. Payloads are stored as strings so both layers keep them
// verbatim.
type svcBytes struct {
	svc pkgcache.Service
}

func (b *svcBytes) GetBytes(key string) ([]byte, bool, error) {
	var s string
	err := b.svc.Get(context.Background(), key, &s)
	if errors.Is(err, pkgcache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(s), true, nil
}

func (b *svcBytes) SetBytes(key string, value []byte, ttl time.Duration) error {
	return b.svc.Set(context.Background(), key, string(value), ttl)
}
