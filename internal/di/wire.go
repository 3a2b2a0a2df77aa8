//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"FinAlloc/pkg/config"
	"FinAlloc/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideRedisCache,
		ProvideCache,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideCHMarketData,
		ProvideMarketData,
		ProvidePublisher,
		ProvideBroker,
		ProvideMessageHandlers,

		// Use cases
		ProvidePipeline,
		ProvideHistoryLoader,
		ProvideBacktestRunner,
		ProvideQueue,
		ProvideBacktestJobs,
		ProvideSignalQuery,
		ProvideQuoteBook,
		ProvideQuoteCollector,
		ProvideLiveTrader,

		ProvideHTTPHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
