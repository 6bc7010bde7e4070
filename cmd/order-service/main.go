package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jogardn/bespoke-orders/internal/app"
	"github.com/jogardn/bespoke-orders/internal/config"
	"github.com/jogardn/bespoke-orders/internal/events"
	"github.com/jogardn/bespoke-orders/internal/fulfillment"
	"github.com/jogardn/bespoke-orders/internal/middleware"
	"github.com/jogardn/bespoke-orders/internal/orders"
	"github.com/jogardn/bespoke-orders/internal/uploads"
	"github.com/jogardn/bespoke-orders/internal/validation"
	"github.com/jogardn/bespoke-orders/internal/websocket"
	"github.com/sirupsen/logrus"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := app.NewLogger(cfg.LogLevel)
	flush := app.InitSentry(cfg.SentryDSN, version, logger)
	defer flush()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancelStart()

	st, err := app.OpenStore(startCtx, cfg.Store, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open order store")
	}
	defer st.Close()

	guard, closeGuard, err := app.NewGuard(startCtx, cfg.RedisAddr, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create idempotency guard")
	}
	defer closeGuard()

	breakers := app.NewBreakers(logger)
	gateway := app.NewGateway(cfg.Payment, breakers, logger)
	if gateway.TestMode() {
		logger.Warn("Payment test mode enabled, mock payment orders are accepted")
	}

	// Fulfillment runs in-process on a worker pool, or is handed to
	// cmd/fulfillment-worker through Kafka.
	var (
		dispatcher fulfillment.Dispatcher
		pool       *fulfillment.Pool
	)
	switch cfg.Fulfillment.Mode {
	case config.ModeKafka:
		producer, err := events.NewKafkaProducer(cfg.Fulfillment.Brokers, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()
		dispatcher = producer
	default:
		notifier, err := app.NewNotifier(context.Background(), cfg.Notify, breakers, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create notifier")
		}
		pool = fulfillment.NewPool(notifier, fulfillment.PoolConfig{
			Workers:     cfg.Fulfillment.Workers,
			QueueSize:   cfg.Fulfillment.QueueSize,
			TaskTimeout: cfg.Fulfillment.TaskTimeout,
		}, logger)
		pool.Start()
		dispatcher = pool
	}

	images, err := uploads.NewLocalStore(cfg.Upload.Dir)
	if err != nil {
		logger.WithError(err).Fatal("Failed to prepare upload directory")
	}

	service := orders.NewService(st, validation.New(), gateway, dispatcher, guard, orders.Config{
		BasePrice:          cfg.Payment.BasePrice,
		Currency:           cfg.Payment.Currency,
		PaymentLinkBaseURL: cfg.Payment.LinkBase,
	}, logger)

	if len(cfg.WSOrigins) == 0 {
		logger.Info("WS_ORIGINS not set, live event feed disabled")
	}
	hub := websocket.NewHub(cfg.WSOrigins, logger)
	go hub.Run()
	service.SetBroadcaster(hub)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, logger)
	if err := limiter.TrustProxies(cfg.RateLimit.TrustedProxies); err != nil {
		logger.WithError(err).Fatal("Invalid TRUSTED_PROXIES")
	}
	stopSweep := make(chan struct{})
	go limiter.Run(stopSweep)

	// Set up routes
	router := mux.NewRouter()
	orders.NewHandler(service, images, breakers, cfg.Upload.MaxBytes, logger).Register(router, limiter.Middleware())
	router.PathPrefix(uploads.PublicPath + "/").Handler(
		http.StripPrefix(uploads.PublicPath+"/", http.FileServer(http.Dir(images.Dir()))),
	).Methods("GET")
	router.HandleFunc("/ws", hub.HandleWebSocket)

	router.Use(middleware.Recover(logger))
	router.Use(middleware.Logging(logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      middleware.CORS(cfg.CORSOrigins)(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":        cfg.Port,
			"store":       cfg.Store.Backend,
			"fulfillment": cfg.Fulfillment.Mode,
		}).Info("Starting order service")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	close(stopSweep)
	hub.Stop()

	if pool != nil {
		if err := pool.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("Fulfillment tasks were still pending at shutdown")
		}
	}

	logger.Info("Server gracefully stopped")
}
