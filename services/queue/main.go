package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/apt/middleware"
	"github.com/joho/godotenv"

	"github.com/appetiteclub/kiosk/pkg"
	"github.com/appetiteclub/kiosk/pkg/event"
	"github.com/appetiteclub/kiosk/services/queue/internal/mongo"
	"github.com/appetiteclub/kiosk/services/queue/internal/queue"
	"github.com/appetiteclub/kiosk/services/queue/internal/redis"
)

const (
	appNamespace = "QUEUE"
	appName      = "queue"
	appVersion   = "0.1.0"
)

func main() {
	_ = godotenv.Load()

	config, err := apt.LoadConfig(appNamespace, os.Args[1:])
	if err != nil {
		log.Fatalf("%s(%s) cannot setup: %v", appName, appVersion, err)
	}

	logLevel, _ := config.GetString("log.level")
	logger := apt.NewLogger(logLevel)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	seedCtx, cancelSeeds := context.WithCancel(ctx)
	defer cancelSeeds()

	queueCfg, err := queue.ConfigFrom(config)
	if err != nil {
		log.Fatalf("%s(%s) invalid queue configuration: %v", appName, appVersion, err)
	}

	baseRepo := mongo.NewBaseRepo(config, logger)
	err = baseRepo.Start(ctx)
	if err != nil {
		log.Fatalf("%s(%s) cannot start base repository: %v", appName, appVersion, err)
	}

	db := baseRepo.GetDatabase()
	if db == nil {
		log.Fatalf("%s(%s) cannot initialize repository database: %v", appName, appVersion, errors.New("repository database is nil"))
	}

	counterRepo := mongo.NewCounterRepo(db)

	natsURL := config.GetStringOrDef("nats.url", "nats://localhost:4222")

	var (
		queueStream *pkg.NATSStream
		publisher   events.Publisher
		closePub    func() error
	)

	streamEnabled, _ := config.GetString("nats.stream.enabled")
	if streamEnabled == "true" {
		queueStream, err = pkg.NewNATSStream(pkg.NATSStreamConfig{
			URL:        natsURL,
			StreamName: "QUEUE_EVENTS",
			Topic:      event.QueueSubjects,
			ClientName: "queue-" + hostname(),
			MaxAge:     24 * time.Hour,
		})
		if err != nil {
			log.Fatalf("%s(%s) cannot create NATS stream: %v", appName, appVersion, err)
		}
		logger.Info("NATS stream initialized for persistent events")
		publisher = queueStream
		closePub = queueStream.Close
	} else {
		pub, err := pkg.NewNATSPublisher(natsURL)
		if err != nil {
			log.Fatalf("%s(%s) cannot connect to NATS publisher: %v", appName, appVersion, err)
		}
		publisher = pub
		closePub = pub.Close
	}

	sub, err := pkg.NewNATSSubscriber(natsURL)
	if err != nil {
		log.Fatalf("%s(%s) cannot connect to NATS subscriber: %v", appName, appVersion, err)
	}
	sub.OnError = func(topic string, err error) {
		logger.Error("queue event handler failed", "topic", topic, "error", err)
	}

	idempotency := redis.NewIdempotencyStore(config, logger)

	svc := queue.NewService(queue.Deps{
		Store:       mongo.NewStore(db),
		Orders:      mongo.NewOrderRepo(db),
		Counters:    counterRepo,
		Settings:    mongo.NewSettingsRepo(db),
		Live:        mongo.NewWatcher(db, logger),
		Publisher:   publisher,
		Idempotency: idempotency,
	}, queueCfg, logger)

	var replay events.StreamConsumer
	if queueStream != nil {
		replay = queueStream
	}
	counterCache := queue.NewCounterCache(replay, counterRepo, logger)
	counterSub := queue.NewCounterSubscriber(sub, counterCache, logger)

	jwtSecret, _ := config.GetString("auth.jwt.secret")
	staffAuth := queue.NewStaffAuth(jwtSecret, logger)
	if !staffAuth.Enabled() {
		logger.Info("auth.jwt.secret is empty, staff routes will refuse every request")
	}

	handler := queue.NewHandler(queue.HandlerDeps{
		Service:  svc,
		Counters: counterCache,
		Auth:     staffAuth,
		Limiter:  queue.NewSubmitLimiter(floatOrDef(config, "queue.submit.rate", 20), intOrDef(config, "queue.submit.burst", 5)),
	}, config, logger)

	publisherLifecycle := apt.LifecycleHooks{
		OnStop: func(context.Context) error {
			return closePub()
		},
	}

	subLifecycle := apt.LifecycleHooks{
		OnStop: func(context.Context) error {
			return sub.Close()
		},
	}

	demoEnabled, _ := config.GetString("seeding.demo")
	var seedHooks apt.LifecycleHooks
	if demoEnabled == "true" {
		logger.Info("Demo seeding enabled for queue service")
		seedHooks = apt.LifecycleHooks{
			OnStart: queue.DemoSeedingFunc(seedCtx, svc, db, logger),
			OnStop: func(context.Context) error {
				cancelSeeds()
				return nil
			},
		}
	}

	// Public kiosk API, CORS stays enabled for the customer pages.
	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger: logger,
	})

	lifecycles := []interface{}{
		apt.LifecycleHooks{OnStop: baseRepo.Stop},
		idempotency,
		counterSub,
		publisherLifecycle,
		subLifecycle,
	}
	if demoEnabled == "true" {
		lifecycles = append(lifecycles, seedHooks)
	}

	options := []apt.Option{
		apt.WithConfig(config),
		apt.WithLogger(logger),
		apt.WithHTTPMiddleware(stack...),
		apt.WithHTTPServerModules("web.port", handler),
		apt.WithLifecycle(lifecycles...),
		apt.WithHealthChecks(appName),
	}

	ms := apt.NewMicro(options...)
	logger.Infof("Starting %s(%s)", appName, appVersion)

	err = ms.Run(ctx)
	if err != nil {
		_ = baseRepo.Stop(context.Background())
		log.Fatalf("%s(%s) stopped: %v", appName, appVersion, err)
	}

	logger.Infof("%s(%s) stopped", appName, appVersion)
}

func floatOrDef(config *apt.Config, key string, def float64) float64 {
	raw, ok := config.GetString(key)
	if !ok || raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Fatalf("%s(%s) invalid %s: %v", appName, appVersion, key, err)
	}
	return v
}

func intOrDef(config *apt.Config, key string, def int) int {
	raw, ok := config.GetString(key)
	if !ok || raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Fatalf("%s(%s) invalid %s: %v", appName, appVersion, key, err)
	}
	return v
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "local"
	}
	return name
}
