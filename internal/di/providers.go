package di

import (
	"context"
	"fmt"
	"time"

	"FinAlloc/internal/broker"
	domrepo "FinAlloc/internal/domain/repository"
	"FinAlloc/internal/handler/api"
	mid "FinAlloc/internal/middleware"
	internalrepo "FinAlloc/internal/repository"
	"FinAlloc/internal/service/finnhub"
	"FinAlloc/internal/usecase"
	"FinAlloc/pkg/cache"
	pkgch "FinAlloc/pkg/clickhouse"
	"FinAlloc/pkg/config"
	pkgkafka "FinAlloc/pkg/kafka"
	applogger "FinAlloc/pkg/logger"
	"FinAlloc/pkg/metrics"
	"FinAlloc/pkg/queue"
	"FinAlloc/pkg/server"
)

// ProvideLogger builds the root logger from the logger section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		TimeFormat: cfg.Logger.TimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus recorder on the default registry.
func ProvideMetrics(cfg *config.Config) domrepo.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Noop{}
	}
	return metrics.New(nil)
}

// ProvideRedisCache connects to redis when the cache type needs it.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	switch cfg.Data.Cache.Type {
	case "redis", "layered":
	default:
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(10, 2, 4*time.Second),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideCache picks the cache backing market data reads and job results.
func ProvideCache(cfg *config.Config, rc *cache.RedisCache) cache.Service {
	switch {
	case rc != nil && cfg.Data.Cache.Type == "layered":
		return cache.NewLayeredCache(rc,
			cache.WithLayeredMemorySize(cfg.Data.Cache.Capacity),
			cache.WithLayeredMemoryTTL(cfg.Data.Cache.TTL),
		)
	case rc != nil:
		return rc
	}
	return cache.NewMemoryCache(
		cache.WithMemoryMaxSize(cfg.Data.Cache.Capacity),
		cache.WithMemoryDefaultTTL(cfg.Data.Cache.TTL),
	)
}

// ProvideClickHouseClient connects only for the clickhouse data source.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Data.Source != "clickhouse" {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideCHMarketData creates the schema and returns the store, or nil without a client.
func ProvideCHMarketData(cfg *config.Config, ch *pkgch.Client, log *applogger.Logger) (*internalrepo.CHMarketData, error) {
	if ch == nil {
		return nil, nil
	}
	store := internalrepo.NewCHMarketData(ch, cfg.ClickHouse.Database, log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

// ProvideMarketData returns the configured source, cached unless the cache type is none.
func ProvideMarketData(cfg *config.Config, store *internalrepo.CHMarketData, c cache.Service, log *applogger.Logger) (domrepo.MarketData, error) {
	var src domrepo.MarketData
	switch cfg.Data.Source {
	case "clickhouse":
		if store == nil {
			return nil, fmt.Errorf("clickhouse source without client")
		}
		src = store
	default:
		csv, err := internalrepo.NewCSVMarketData(cfg.Data.CSVDir, cfg.Data.UniverseFile, cfg.Data.FundamentalsFile, log)
		if err != nil {
			return nil, fmt.Errorf("csv market data: %w", err)
		}
		src = csv
	}
	if cfg.Data.Cache.Type == "none" {
		return src, nil
	}
	return internalrepo.NewCachedMarketData(src, c, cfg.Data.Cache.TTL), nil
}

// ProvideKafkaProducer returns nil when no brokers are configured.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

func ProvidePublisher(producer *pkgkafka.Producer, cfg *config.Config) domrepo.EventPublisher {
	if producer == nil {
		return internalrepo.NopPublisher{}
	}
	return internalrepo.NewKafkaPublisher(producer, internalrepo.Topics{
		Orders:    cfg.Kafka.Topics.Orders,
		Trades:    cfg.Kafka.Topics.Trades,
		Snapshots: cfg.Kafka.Topics.Snapshots,
	})
}

// ProvideKafkaConsumer returns nil when no brokers are configured.
func ProvideKafkaConsumer(cfg *config.Config, log *applogger.Logger) (*pkgkafka.Consumer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(log,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.UseHook(pkgkafka.NewHookChain(pkgkafka.TraceHook(), pkgkafka.JSONValidationHook()))
	return consumer, nil
}

func ProvideBroker(cfg *config.Config, producer *pkgkafka.Producer, log *applogger.Logger) (domrepo.Broker, error) {
	return broker.New(cfg, producer, log)
}

// ProvideMessageHandlers collects the consumer handlers: bar ingestion when
// clickhouse is the store, account snapshots when the broker is the gateway.
func ProvideMessageHandlers(cfg *config.Config, store *internalrepo.CHMarketData, md domrepo.MarketData, b domrepo.Broker, m domrepo.Metrics, log *applogger.Logger) []pkgkafka.MessageHandler {
	var out []pkgkafka.MessageHandler
	if store != nil {
		inv, _ := md.(usecase.Invalidator)
		out = append(out, usecase.NewBarIngestHandler(cfg.Kafka.Topics.Bars, store, inv, m, log))
	}
	if gw, ok := b.(*broker.Gateway); ok {
		out = append(out, gw.AccountHandler())
	}
	return out
}

func ProvidePipeline(cfg *config.Config, m domrepo.Metrics, log *applogger.Logger) (*usecase.Pipeline, error) {
	return usecase.NewPipeline(cfg, log, usecase.WithMetrics(m))
}

func ProvideHistoryLoader(cfg *config.Config, md domrepo.MarketData, log *applogger.Logger) *usecase.HistoryLoader {
	return usecase.NewHistoryLoader(md, cfg.Data.Symbols, log)
}

func ProvideBacktestRunner(cfg *config.Config, loader *usecase.HistoryLoader, p *usecase.Pipeline, pub domrepo.EventPublisher, m domrepo.Metrics, log *applogger.Logger) *usecase.BacktestRunner {
	return usecase.NewBacktestRunner(cfg, loader, p, pub, m, log)
}

// ProvideQueue shares the redis connection with the cache when one exists.
func ProvideQueue(cfg *config.Config, rc *cache.RedisCache, log *applogger.Logger) queue.Queue {
	qc := queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.MaxRetries,
		RetryDelay: cfg.Queue.RetryDelay,
	}
	if rc != nil {
		return queue.NewRedisQueue(log, qc, rc.Client(), queue.WithKeyPrefix(cfg.Redis.Prefix+":queue:"+cfg.Queue.Name))
	}
	return queue.NewMemoryQueue(log, qc)
}

func ProvideBacktestJobs(cfg *config.Config, runner *usecase.BacktestRunner, q queue.Queue, c cache.Service, log *applogger.Logger) *usecase.BacktestJobs {
	return usecase.NewBacktestJobs(runner, q, c, cfg.Queue.ResultTTL, log)
}

func ProvideSignalQuery(cfg *config.Config, loader *usecase.HistoryLoader, p *usecase.Pipeline, log *applogger.Logger) *usecase.SignalQuery {
	return usecase.NewSignalQuery(cfg, loader, p, log)
}

// ProvideQuoteBook keeps prints for two poll intervals.
func ProvideQuoteBook(cfg *config.Config) *usecase.QuoteBook {
	return usecase.NewQuoteBook(2 * cfg.Live.PollInterval)
}

// ProvideQuoteCollector returns nil unless the finnhub stream is enabled.
func ProvideQuoteCollector(cfg *config.Config, book *usecase.QuoteBook, m domrepo.Metrics, log *applogger.Logger) *usecase.QuoteCollector {
	if !cfg.Finnhub.Enabled {
		return nil
	}
	stream := finnhub.New(
		cfg.Finnhub.APIKey,
		cfg.Finnhub.WebSocketURL,
		cfg.Data.Symbols,
		cfg.Finnhub.ReconnectDelay,
		cfg.Finnhub.PingInterval,
		log,
	)
	pipe := mid.NewQuotePipeline(book, m, mid.WithMaxRPS(cfg.Finnhub.MaxRPS))
	return usecase.NewQuoteCollector(stream, pipe, m, log)
}

func ProvideLiveTrader(
	cfg *config.Config,
	loader *usecase.HistoryLoader,
	p *usecase.Pipeline,
	b domrepo.Broker,
	book *usecase.QuoteBook,
	pub domrepo.EventPublisher,
	m domrepo.Metrics,
	log *applogger.Logger,
) *usecase.LiveTrader {
	return usecase.NewLiveTrader(cfg, loader, p, b,
		usecase.WithQuotes(book),
		usecase.WithPublisher(pub),
		usecase.WithLiveMetrics(m),
		usecase.WithLiveLogger(log),
	)
}

// ProvideHTTPHandler exposes a health check per configured dependency.
func ProvideHTTPHandler(
	cfg *config.Config,
	sq *usecase.SignalQuery,
	jobs *usecase.BacktestJobs,
	ch *pkgch.Client,
	rc *cache.RedisCache,
	log *applogger.Logger,
) *api.PipelineEchoHandler {
	checks := map[string]api.HealthCheck{}
	if ch != nil {
		checks["clickhouse"] = ch.Health
	}
	if rc != nil {
		checks["redis"] = func(ctx context.Context) error { return rc.Client().Ping(ctx).Err() }
	}
	return api.NewPipelineEchoHandler(log, sq, jobs, cfg.Server.SubmitRPS, cfg.Server.SubmitBurst, checks)
}

func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	runner *usecase.BacktestRunner,
	trader *usecase.LiveTrader,
	collector *usecase.QuoteCollector,
	q queue.Queue,
	consumer *pkgkafka.Consumer,
	handlers []pkgkafka.MessageHandler,
	h *api.PipelineEchoHandler,
	pub domrepo.EventPublisher,
	ch *pkgch.Client,
	c cache.Service,
) *server.App {
	return &server.App{
		Cfg:       cfg,
		Log:       log,
		Runner:    runner,
		Trader:    trader,
		Collector: collector,
		Queue:     q,
		Consumer:  consumer,
		Handlers:  handlers,
		HTTP:      h,
		Publisher: pub,
		CH:        ch,
		Cache:     c,
	}
}
