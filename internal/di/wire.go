//go:build wireinject
// +build wireinject

package di

import (
	"GridCast/pkg/config"
	"GridCast/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Logging and metrics
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideRedisClient,

		// Catalog
		ProvideEntities,

		// Repositories
		ProvideTelemetryStore,
		ProvideBatchStore,
		ProvideModelStore,
		ProvideAccuracyStore,
		ProvidePublisher,
		ProvideStream,

		// Intake
		ProvideProcessor,
		ProvidePipeline,
		ProvideCollector,
		ProvideKafkaTelemetryHandler,

		// Forecasting and pricing services
		ProvideResponseCache,
		ProvideBoard,
		ProvideModels,
		ProvideFeatureBuilder,
		ProvideOptimizer,
		ProvideMarketClient,
		ProvideTrainer,
		ProvideLoader,

		// Cycle runners
		ProvideForecastRunner,
		ProvidePriceRunner,
		ProvideAccuracyTracker,
		ProvideGridHealthRunner,

		// Scheduling and jobs
		ProvideQueue,
		ProvideScheduler,
		ProvideRetrainJob,

		// HTTP API
		ProvidePipelineHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
