package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"FinTrain/internal/domain/models"
	"FinTrain/internal/handler/ws"
	mid "FinTrain/internal/middleware"
	"FinTrain/internal/scheduler"
	"FinTrain/internal/usecase"
	"FinTrain/pkg/cache"
	pkgch "FinTrain/pkg/clickhouse"
	"FinTrain/pkg/config"
	xhttp "FinTrain/pkg/http"
	pkgkafka "FinTrain/pkg/kafka"
	applogger "FinTrain/pkg/logger"
	"FinTrain/pkg/queue"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	lgr         *applogger.Logger
	queue       *queue.RedisQueue
	consumer    *pkgkafka.Consumer
	broadcaster *mid.EventBroadcaster
	hub         *ws.Hub
	sched       *scheduler.Scheduler
	httpHandler xhttp.Handler
	httpServer  *xhttp.Server
	runner      *usecase.PipelineRunner
	chClient    *pkgch.Client
	redis       *cache.RedisCache
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	lgr *applogger.Logger,
	q *queue.RedisQueue,
	consumer *pkgkafka.Consumer,
	broadcaster *mid.EventBroadcaster,
	hub *ws.Hub,
	sched *scheduler.Scheduler,
	httpHandler xhttp.Handler,
	runner *usecase.PipelineRunner,
	chClient *pkgch.Client,
	redis *cache.RedisCache,
) *App {
	return &App{
		cfg:         cfg,
		lgr:         lgr,
		queue:       q,
		consumer:    consumer,
		broadcaster: broadcaster,
		hub:         hub,
		sched:       sched,
		httpHandler: httpHandler,
		runner:      runner,
		chClient:    chClient,
		redis:       redis,
	}
}

// RunOnce executes a single full retraining run and exits without starting
// the daemon loops. Events still reach the configured sinks.
func (a *App) RunOnce(ctx context.Context) (models.RunReport, error) {
	a.broadcaster.Start(ctx)
	go a.hub.Run()
	defer func() {
		if err := a.broadcaster.Close(); err != nil {
			a.lgr.Warn("event broadcaster close error", applogger.Error(err))
		}
		a.hub.Stop()
		a.closeClients()
	}()

	return a.runner.RunAll(ctx)
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.broadcaster.Start(ctx)
	go a.hub.Run()

	if err := a.queue.Start(); err != nil {
		return err
	}

	if a.consumer != nil {
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.lgr.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.lgr.Info("kafka consumer started", applogger.String("topic", a.cfg.Kafka.Commands.Topic))
	}

	if err := a.sched.Start(); err != nil {
		return err
	}
	a.lgr.Info("retrain scheduler started",
		applogger.Duration("interval", a.cfg.RetrainInterval()),
		applogger.Strings("symbols", a.cfg.Symbols),
	)

	if a.cfg.Server.Enabled {
		a.httpServer = xhttp.NewServer(a.httpHandler,
			xhttp.WithPort(a.cfg.Server.Port),
			xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		)
		if err := a.httpServer.Start(); err != nil {
			a.lgr.Error("http server start error", applogger.Error(err))
			return err
		}
		a.lgr.Info("http server started", applogger.Int("port", a.cfg.Server.Port))
	}

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.lgr.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services. Producers of work stop before
// the queue so an in-flight run can finish cleanly; event sinks close
// last so terminal events still go out.
func (a *App) shutdown(ctx context.Context) error {
	if err := a.sched.Stop(ctx); err != nil {
		a.lgr.Warn("scheduler stop error", applogger.Error(err))
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.lgr.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	stopCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.queue.Stop(stopCtx); err != nil {
		a.lgr.Warn("queue stop error", applogger.Error(err))
	}

	if a.httpServer != nil {
		httpCtx, cancelHTTP := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
		defer cancelHTTP()
		if err := a.httpServer.Stop(httpCtx); err != nil {
			a.lgr.Error("http shutdown error", applogger.Error(err))
		}
	}

	// Flush aggregated logs while the Kafka producer is still open
	a.lgr.RemoveCollector()

	if err := a.broadcaster.Close(); err != nil {
		a.lgr.Warn("event broadcaster close error", applogger.Error(err))
	}
	a.hub.Stop()

	a.closeClients()

	a.lgr.Info("shutdown complete")
	return nil
}

func (a *App) closeClients() {
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.lgr.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.lgr.Warn("redis close error", applogger.Error(err))
		}
	}
}
