package di

import (
	"context"
	"fmt"
	"time"

	"FinTrain/internal/domain/models"
	domrepo "FinTrain/internal/domain/repository"
	domsvc "FinTrain/internal/domain/service"
	"FinTrain/internal/handler/api"
	"FinTrain/internal/handler/ws"
	mid "FinTrain/internal/middleware"
	internalrepo "FinTrain/internal/repository"
	"FinTrain/internal/scheduler"
	"FinTrain/internal/services/collect"
	"FinTrain/internal/services/compare"
	"FinTrain/internal/services/deploy"
	"FinTrain/internal/services/features"
	"FinTrain/internal/services/sequences"
	"FinTrain/internal/services/train"
	"FinTrain/internal/usecase"
	"FinTrain/pkg/cache"
	pkgch "FinTrain/pkg/clickhouse"
	"FinTrain/pkg/config"
	xhttp "FinTrain/pkg/http"
	pkgkafka "FinTrain/pkg/kafka"
	applogger "FinTrain/pkg/logger"
	"FinTrain/pkg/metrics"
	"FinTrain/pkg/queue"
	"FinTrain/pkg/server"
)

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client and ensures the
// candle and run-history tables exist.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, fmt.Errorf("clickhouse client: must be enabled, it backs the run history store")
	}

	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	// Initialize schema
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db := cfg.ClickHouse.Database
	if err := client.InitSchema(ctx, []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
			symbol LowCardinality(String),
			bucket DateTime,
			open Float64,
			high Float64,
			low Float64,
			close Float64,
			vol Float64
		) ENGINE = ReplacingMergeTree ORDER BY (symbol, bucket)`, db, cfg.ClickHouse.CandlesTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
			ts DateTime,
			duration_seconds Float64,
			total_symbols UInt32,
			successful_updates UInt32,
			report String
		) ENGINE = MergeTree ORDER BY ts`, db, cfg.ClickHouse.RunsTable),
	}); err != nil {
		_ = client.Close() // cannot log here (DI layer no logger); propagate error
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideRedisCache creates the Redis cache client. Redis backs the retrain
// queue, the per-instrument run locks, and the report/prediction caches, so
// it cannot be disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, fmt.Errorf("redis: must be enabled, it backs the retrain queue and run locks")
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCacheService layers a small in-process L1 over Redis. Report and
// prediction reads are served from memory between runs; locks and counters
// still go straight to Redis.
func ProvideCacheService(rc *cache.RedisCache) cache.Service {
	return cache.NewLayeredCache(rc, cache.WithLayeredMemoryTTL(30*time.Second))
}

// ProvideKafkaProducer creates a Kafka producer for pipeline events and
// aggregated logs. Returns nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithRequiredAcks(1),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates the consumer for the retrain command topic.
// Returns nil when the command topic is disabled.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Commands.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Commands.GroupID),
		pkgkafka.WithConsumerWorkers(1),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Commands.RetryMax, cfg.Kafka.Commands.BackoffMin, cfg.Kafka.Commands.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Commands.DLQTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideQueue creates the Redis work queue that serializes retrain
// commands. A single worker keeps runs from overlapping in-process; the
// run lock covers other processes.
func ProvideQueue(cfg *config.Config, lgr *applogger.Logger, rc *cache.RedisCache) *queue.RedisQueue {
	qcfg := &queue.QueueConfig{
		Workers:    1,
		QueueSize:  100,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}
	return queue.NewRedisQueue(lgr, qcfg, rc.Client(), queue.ModeProducerConsumer,
		queue.WithKeyPrefix(cfg.Redis.Prefix),
	)
}

// ProvideCandleSource selects the market data backend from config.
func ProvideCandleSource(cfg *config.Config, chClient *pkgch.Client, lgr *applogger.Logger) (domrepo.CandleSource, error) {
	switch cfg.MarketData.Source {
	case "http":
		client := xhttp.NewClient(xhttp.WithTimeout(cfg.MarketData.HTTP.Timeout))
		return internalrepo.NewHTTPCandleSource(client, cfg.MarketData.HTTP.BaseURL,
			internalrepo.WithRateLimit(cfg.MarketData.HTTP.RatePerSec, cfg.MarketData.HTTP.RateBurst),
			internalrepo.WithRetries(cfg.MarketData.HTTP.RetryMax),
			internalrepo.WithSourceLogger(lgr),
		), nil
	case "clickhouse":
		src := internalrepo.NewCHCandleSource(chClient, cfg.ClickHouse.Database+"."+cfg.ClickHouse.CandlesTable)
		src.SetLogger(lgr)
		return src, nil
	default:
		return nil, fmt.Errorf("market data source %q not supported", cfg.MarketData.Source)
	}
}

// ProvideRunStore creates the ClickHouse-backed run history store.
func ProvideRunStore(cfg *config.Config, chClient *pkgch.Client) domrepo.RunStore {
	return internalrepo.NewCHRunStore(chClient, cfg.ClickHouse.Database+"."+cfg.ClickHouse.RunsTable)
}

// ProvideRunLocker creates the cache-backed per-instrument lock.
func ProvideRunLocker(svc cache.Service) domrepo.RunLocker {
	return internalrepo.NewCacheRunLocker(svc)
}

// ProvideHub creates the WebSocket hub for live run watching.
func ProvideHub(lgr *applogger.Logger) *ws.Hub {
	return ws.NewHub(ws.WithLogger(lgr))
}

// ProvideEventBroadcaster fans pipeline events out to the WebSocket hub
// and, when Kafka is enabled, the events topic.
func ProvideEventBroadcaster(cfg *config.Config, m domrepo.Metrics, producer *pkgkafka.Producer, hub *ws.Hub) *mid.EventBroadcaster {
	sinks := []mid.Sink{hub}
	if producer != nil {
		sinks = append(sinks, internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.EventsTopic))
	}
	return mid.NewEventBroadcaster(m, sinks)
}

// ProvideEventPublisher exposes the broadcaster to the use cases.
func ProvideEventPublisher(b *mid.EventBroadcaster) domrepo.EventPublisher {
	return b
}

// ProvideCollector creates the data collection stage.
func ProvideCollector(cfg *config.Config, source domrepo.CandleSource, lgr *applogger.Logger) domsvc.Collector {
	return collect.New(source,
		collect.WithAudit(collect.NewAuditWriter(cfg.DataDir, cfg.MarketData.AuditFormat)),
		collect.WithMinRows(2*cfg.SequenceLength),
		collect.WithFreshness(cfg.FreshnessWindow()),
		collect.WithLogger(lgr),
	)
}

// ProvideFeatureBuilder creates the feature engineering stage. An unknown
// feature name in config is fatal here, before any run starts.
func ProvideFeatureBuilder(cfg *config.Config, lgr *applogger.Logger) (domsvc.FeatureBuilder, error) {
	b, err := features.NewBuilder(cfg.Features, features.WithLogger(lgr))
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ProvideSequenceBuilder creates the windowing stage.
func ProvideSequenceBuilder(cfg *config.Config) (domsvc.SequenceBuilder, error) {
	return sequences.NewBuilder(cfg.SequenceLength, models.LabelMode(cfg.Training.Mode))
}

// ProvideTrainer creates the training stage from the configured
// hyperparameters.
func ProvideTrainer(cfg *config.Config, lgr *applogger.Logger) domsvc.Trainer {
	return train.New(train.Params{
		Mode:         models.LabelMode(cfg.Training.Mode),
		Epochs:       cfg.Training.Epochs,
		BatchSize:    cfg.Training.BatchSize,
		HiddenSizes:  cfg.Training.HiddenSizes,
		DenseSize:    cfg.Training.DenseSize,
		Dropout:      cfg.Training.Dropout,
		LearningRate: cfg.Training.LearningRate,
		TrainSplit:   cfg.Training.TrainSplit,
		Patience:     cfg.Training.Patience,
		LRPatience:   cfg.Training.LRPatience,
		LRDecay:      cfg.Training.LRDecay,
		MinLR:        cfg.Training.MinLR,
		Seed:         cfg.Training.Seed,
	}, train.WithLogger(lgr))
}

// ProvideComparator creates the candidate-vs-incumbent gate.
func ProvideComparator(cfg *config.Config, lgr *applogger.Logger) domsvc.Comparator {
	return compare.New(compare.Thresholds{
		MinimumAccuracy:     cfg.MinimumAccuracy,
		ValidationThreshold: cfg.ValidationThreshold,
	}, compare.WithLogger(lgr))
}

// ProvideDeployer creates the versioned model store.
func ProvideDeployer(cfg *config.Config, lgr *applogger.Logger) domsvc.Deployer {
	return deploy.New(cfg.ModelsDir, cfg.BackupDir, deploy.WithLogger(lgr))
}

// ProvideStatusTracker seeds per-instrument status for the configured set.
func ProvideStatusTracker(cfg *config.Config) *usecase.StatusTracker {
	return usecase.NewStatusTracker(cfg.Symbols)
}

// ProvideRetrainer wires the six pipeline stages for one instrument.
func ProvideRetrainer(
	cfg *config.Config,
	collector domsvc.Collector,
	feats domsvc.FeatureBuilder,
	seqs domsvc.SequenceBuilder,
	trainer domsvc.Trainer,
	comparator domsvc.Comparator,
	deployer domsvc.Deployer,
	locker domrepo.RunLocker,
	events domrepo.EventPublisher,
	m domrepo.Metrics,
	tracker *usecase.StatusTracker,
	lgr *applogger.Logger,
) *usecase.InstrumentRetrainer {
	return usecase.NewInstrumentRetrainer(
		collector, feats, seqs, trainer, comparator, deployer,
		locker, events, m, tracker,
		usecase.WithLookback(time.Duration(cfg.LookbackDays)*24*time.Hour),
		usecase.WithLockTTL(cfg.Lock.TTL),
		usecase.WithRetrainLogger(lgr),
	)
}

// ProvidePipelineRunner creates the full-run orchestrator.
func ProvidePipelineRunner(
	cfg *config.Config,
	retrainer *usecase.InstrumentRetrainer,
	deployer domsvc.Deployer,
	runs domrepo.RunStore,
	events domrepo.EventPublisher,
	m domrepo.Metrics,
	svc cache.Service,
	lgr *applogger.Logger,
) *usecase.PipelineRunner {
	return usecase.NewPipelineRunner(retrainer, deployer, runs, events, m, cfg.Symbols,
		usecase.WithReportCache(svc),
		usecase.WithBackupRetention(cfg.BackupRetention()),
		usecase.WithReportDir(cfg.ModelsDir),
		usecase.WithRunnerLogger(lgr),
	)
}

// ProvidePredictor serves signals from the deployed models.
func ProvidePredictor(
	cfg *config.Config,
	source domrepo.CandleSource,
	deployer domsvc.Deployer,
	feats domsvc.FeatureBuilder,
	svc cache.Service,
	lgr *applogger.Logger,
) *usecase.Predictor {
	return usecase.NewPredictor(source, deployer, feats, cfg.SequenceLength,
		usecase.WithPredictionCache(svc),
		usecase.WithPredictorLogger(lgr),
	)
}

// ProvideCandlesUseCase serves raw candle history over the API.
func ProvideCandlesUseCase(source domrepo.CandleSource) *usecase.CandlesUseCase {
	return usecase.NewCandlesUseCase(source)
}

// ProvideRetrainJob creates the queue worker that executes retrain commands.
func ProvideRetrainJob(runner *usecase.PipelineRunner) *usecase.RetrainJob {
	return usecase.NewRetrainJob(runner)
}

// ProvideRetrainCommandsHandler bridges the Kafka command topic onto the queue.
func ProvideRetrainCommandsHandler(cfg *config.Config, q *queue.RedisQueue, m domrepo.Metrics) *usecase.RetrainCommandsHandler {
	return usecase.NewRetrainCommandsHandler(cfg.Kafka.Commands.Topic, q, m)
}

// ProvideScheduler enqueues a full run every retrain interval.
func ProvideScheduler(cfg *config.Config, q *queue.RedisQueue, lgr *applogger.Logger) *scheduler.Scheduler {
	opts := []scheduler.Option{scheduler.WithLogger(lgr)}
	if cfg.RetrainOnStart {
		opts = append(opts, scheduler.WithRunOnStart())
	}
	return scheduler.New(q, cfg.RetrainInterval(), opts...)
}

// ProvideHTTPHandler creates the Echo route handler.
func ProvideHTTPHandler(
	lgr *applogger.Logger,
	runner *usecase.PipelineRunner,
	predictor *usecase.Predictor,
	candles *usecase.CandlesUseCase,
	tracker *usecase.StatusTracker,
	runs domrepo.RunStore,
	q *queue.RedisQueue,
	hub *ws.Hub,
) xhttp.Handler {
	return api.NewPipelineEchoHandler(lgr, runner, predictor, candles, tracker, runs, q, hub)
}

// kafkaLogPublisher feeds aggregated log batches to the log topic.
type kafkaLogPublisher struct {
	producer *pkgkafka.Producer
}

func (p kafkaLogPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

// ProvideApp assembles the application server and finishes cross-cutting
// wiring: the retrain job joins the queue, the command topic handler joins
// the consumer, and the log collector attaches when Kafka carries logs.
func ProvideApp(
	cfg *config.Config,
	lgr *applogger.Logger,
	q *queue.RedisQueue,
	job *usecase.RetrainJob,
	consumer *pkgkafka.Consumer,
	cmdHandler *usecase.RetrainCommandsHandler,
	producer *pkgkafka.Producer,
	broadcaster *mid.EventBroadcaster,
	hub *ws.Hub,
	sched *scheduler.Scheduler,
	httpHandler xhttp.Handler,
	runner *usecase.PipelineRunner,
	chClient *pkgch.Client,
	rc *cache.RedisCache,
) *server.App {
	q.RegisterJob(job)

	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NoopHook{})
		consumer.RegisterHandler(cmdHandler)
	}

	if cfg.Logger.Collector.Enabled && producer != nil {
		lgr.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Logger.Collector.FlushInterval,
			CountThreshold: cfg.Logger.Collector.CountThreshold,
			Topic:          cfg.Kafka.LogsTopic,
			Publisher:      kafkaLogPublisher{producer: producer},
		})
	}

	return server.New(cfg, lgr, q, consumer, broadcaster, hub, sched, httpHandler, runner, chClient, rc)
}
