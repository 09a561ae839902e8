//go:build wireinject
// +build wireinject

package di

import (
	"FinTrain/pkg/config"
	"FinTrain/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideRedisCache,
		ProvideCacheService,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideQueue,

		// Repositories
		ProvideCandleSource,
		ProvideRunStore,
		ProvideRunLocker,

		// Event fan-out
		ProvideHub,
		ProvideEventBroadcaster,
		ProvideEventPublisher,

		// Pipeline stages
		ProvideCollector,
		ProvideFeatureBuilder,
		ProvideSequenceBuilder,
		ProvideTrainer,
		ProvideComparator,
		ProvideDeployer,

		// Use cases
		ProvideStatusTracker,
		ProvideRetrainer,
		ProvidePipelineRunner,
		ProvidePredictor,
		ProvideCandlesUseCase,
		ProvideRetrainJob,
		ProvideRetrainCommandsHandler,

		// Entry points
		ProvideScheduler,
		ProvideHTTPHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
