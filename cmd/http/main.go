package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hilthontt/watchparty/internal/domain"
	"github.com/hilthontt/watchparty/internal/engine"
	"github.com/hilthontt/watchparty/internal/infrastructure/configs"
	"github.com/hilthontt/watchparty/internal/infrastructure/events"
	"github.com/hilthontt/watchparty/internal/infrastructure/jobs"
	"github.com/hilthontt/watchparty/internal/infrastructure/logging"
	"github.com/hilthontt/watchparty/internal/infrastructure/messaging"
	"github.com/hilthontt/watchparty/internal/infrastructure/metrics"
	"github.com/hilthontt/watchparty/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/watchparty/internal/infrastructure/relay"
	"github.com/hilthontt/watchparty/internal/infrastructure/tracing"
	"github.com/hilthontt/watchparty/internal/infrastructure/ws"
	"github.com/hilthontt/watchparty/internal/persistence/db"
	"github.com/hilthontt/watchparty/internal/persistence/repository"
	"github.com/hilthontt/watchparty/internal/presentation/api"
	"github.com/hilthontt/watchparty/internal/presentation/handler/health"
	"github.com/hilthontt/watchparty/internal/presentation/handler/rooms"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName = "watchparty"
)

func main() {
	startedAt := time.Now()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configPath := configs.DetermineConfigPath()
	cfg, err := configs.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.NewLogger(&logging.LoggerConfig{
		FilePath: cfg.Logger.FilePath,
		Encoding: cfg.Logger.Encoding,
		Level:    cfg.Logger.Level,
		Logger:   cfg.Logger.Logger,
		AppName:  serviceName,
	})
	defer logger.Sync()

	logger.Info(logging.General, logging.Startup, "configuration loaded", map[logging.ExtraKey]any{
		"config": configPath,
		"store":  cfg.Store.Driver,
	})

	shutdownTracer, err := tracing.InitTracer(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: serviceName,
		Environment: cfg.Tracing.Environment,
		Endpoint:    cfg.Tracing.Endpoint,
	})
	if err != nil {
		logger.Fatal(logging.General, logging.Startup, "failed to initialize the tracer", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
	defer shutdownTracer(context.Background())

	m := metrics.New(prometheus.NewRegistry())

	var mongoDB *mongo.Database
	if cfg.Store.Driver == configs.StoreDriverMongo || cfg.RabbitMQ.Enabled {
		mongoCfg := &db.MongoConfig{
			URI:               cfg.Mongo.URI,
			Database:          cfg.Mongo.Database,
			ConnectionTimeout: cfg.Mongo.ConnectTimeout,
			MaxPoolSize:       cfg.Mongo.MaxPoolSize,
		}
		client, err := db.NewMongoClient(ctx, mongoCfg)
		if err != nil {
			logger.Fatal(logging.MongoDB, logging.Startup, "failed to connect to mongodb", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}
		defer db.DisconnectMongo(context.Background(), client)
		mongoDB = db.GetDatabase(client, mongoCfg)
	}

	var auditRepository domain.RoomAuditRepository
	if mongoDB != nil {
		auditRepository = repository.NewRoomAuditLogRepository(mongoDB)
		if err := auditRepository.EnsureIndexes(ctx); err != nil {
			logger.Warn(logging.MongoDB, logging.Startup, "failed to ensure audit log indexes", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}
	}

	var store domain.RoomRepository
	switch cfg.Store.Driver {
	case configs.StoreDriverMongo:
		store = repository.NewMongoRoomRepository(mongoDB, tracing.GetTracer("watchparty/store/mongo"))
	case configs.StoreDriverRedis:
		client, err := db.NewRedisClient(ctx, &db.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Fatal(logging.Redis, logging.Startup, "failed to connect to redis", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}
		defer client.Close()
		store = repository.NewRedisRoomRepository(client, cfg.Redis.KeyPrefix, tracing.GetTracer("watchparty/store/redis"))
	default:
		store = repository.NewMemoryRoomRepository(cfg.Store.Capacity)
	}

	router := ws.NewRouter(m, logger)

	var broadcaster engine.Broadcaster = router
	if cfg.Nats.Enabled {
		nc, err := relay.Connect(relay.NatsConfig{
			URL:           cfg.Nats.URL,
			MaxReconnects: cfg.Nats.MaxReconnects,
			ReconnectWait: cfg.Nats.ReconnectWait,
		}, logger)
		if err != nil {
			logger.Fatal(logging.Nats, logging.Startup, "failed to connect to nats", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}
		defer nc.Drain()

		rl := relay.New(router, nc, cfg.Nats.SubjectPrefix, logger)
		if err := rl.Start(); err != nil {
			logger.Fatal(logging.Nats, logging.Startup, "failed to start room relay", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}
		defer rl.Stop()
		logger.Info(logging.Nats, logging.Startup, "room relay started", map[logging.ExtraKey]any{
			logging.NodeID:  rl.NodeID(),
			logging.Subject: cfg.Nats.SubjectPrefix + ".room.*",
		})
		broadcaster = rl
	}

	g, gctx := errgroup.WithContext(ctx)

	engineOpts := []engine.Option{}
	reaperOpts := []jobs.ReaperOption{}
	if cfg.RabbitMQ.Enabled {
		rabbitmq, err := messaging.NewRabbitMQ(cfg.RabbitMQ.URI)
		if err != nil {
			logger.Fatal(logging.RabbitMQ, logging.Startup, "failed to connect to rabbitmq", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}
		defer rabbitmq.Close()

		roomPublisher := events.NewRoomPublisher(rabbitmq)
		engineOpts = append(engineOpts, engine.WithNotifier(roomPublisher))
		reaperOpts = append(reaperOpts, jobs.WithDeletionNotifier(roomPublisher))

		roomConsumer := events.NewRoomConsumer(rabbitmq, auditRepository, logger)
		g.Go(func() error {
			return roomConsumer.Listen(gctx)
		})
	}

	eng := engine.New(store, broadcaster, logger, m, engine.Config{
		StoreTimeout: cfg.Store.Timeout,
		MaxRetries:   cfg.Store.MaxRetries,
	}, engineOpts...)

	reaper := jobs.NewRoomReaper(store, logger, m, jobs.ReaperConfig{
		Interval:     cfg.Reaper.Interval,
		Retention:    cfg.Reaper.Retention,
		StoreTimeout: cfg.Store.Timeout,
	}, reaperOpts...)
	reaper.Start(gctx)
	defer reaper.Stop()

	var limiter ratelimiter.Limiter
	if cfg.RateLimiter.Enabled {
		fw := ratelimiter.NewFixedWindowRateLimiter(cfg.RateLimiter.Limit, cfg.RateLimiter.Window)
		defer fw.Close()
		limiter = fw
	}

	roomHandler := rooms.NewHandler(store, auditRepository, eng, logger, cfg.HTTP.AllowedOrigins, cfg.Store.Timeout,
		ws.WithCommandRate(cfg.WebSocket.CommandsPerSecond, cfg.WebSocket.CommandBurst),
	)
	healthHandler := health.NewHandler()

	app := api.NewApplication(*cfg, roomHandler, healthHandler, m.Handler(), logger, limiter)

	g.Go(func() error {
		return app.Run(gctx, app.Mount())
	})

	// Hijacked websocket connections are not closed by http.Server.Shutdown.
	g.Go(func() error {
		<-gctx.Done()
		router.DisconnectAll()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(logging.General, logging.Shutdown, "server stopped with error", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}

	logger.Info(logging.General, logging.Shutdown, "bye", map[logging.ExtraKey]any{
		"uptime": time.Since(startedAt).Round(time.Second).String(),
	})
}
