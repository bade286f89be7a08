package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	attributionpkg "consentd/internal/attribution"
	attributionHandler "consentd/internal/attribution/handler"
	"consentd/internal/audit"
	consentHandler "consentd/internal/consent/handler"
	"consentd/internal/consent/machine"
	"consentd/internal/consent/metrics"
	"consentd/internal/consent/store"
	"consentd/internal/platform/config"
	"consentd/internal/platform/database"
	"consentd/internal/platform/health"
	kafkaproducer "consentd/internal/platform/kafka/producer"
	"consentd/internal/platform/logger"
	redisplatform "consentd/internal/platform/redis"
	"consentd/internal/tracking"
	trackingHandler "consentd/internal/tracking/handler"
	httptransport "consentd/internal/transport/http"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	log.Info("initializing consentd",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
		"retention_days", cfg.RetentionDays,
		"conversion_domain", cfg.ConversionDomain,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis backs both the consent records and the session-scoped campaign
	// slots. Without it everything degrades to in-process stores, which is
	// fine for development but loses data on restart.
	redisClient, err := redisplatform.New(cfg.Redis)
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}

	var consentKV store.KV
	var sessions attributionpkg.SessionStore
	if redisClient != nil {
		// Key TTL runs a month past the record-level retention window so
		// abandoned visitor records age out of Redis on their own.
		consentKV = store.NewRedisKV(redisClient.Client, time.Duration(cfg.RetentionDays+30)*24*time.Hour)
		sessions = attributionpkg.NewRedisSessionStore(redisClient.Client, cfg.SessionTTL)
		log.Info("redis connected", "url", cfg.Redis.URL)
	} else {
		consentKV = store.NewMemoryKV()
		sessions = attributionpkg.NewMemorySessionStore()
		log.Warn("redis not configured, using in-memory stores")
	}

	storage := store.New(consentKV,
		store.WithRetentionDays(cfg.RetentionDays),
		store.WithLogger(log),
	)

	// Audit trail goes to Postgres when configured, else stays in memory.
	dbPool, err := database.New(cfg.Database)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}

	var auditStore audit.Store
	if dbPool != nil {
		if err := database.Migrate(ctx, dbPool.DB); err != nil {
			log.Error("database migration failed", "error", err)
			os.Exit(1)
		}
		auditStore = audit.NewPostgresStore(dbPool.DB)
		log.Info("audit store backed by postgres")
	} else {
		auditStore = audit.NewInMemoryStore()
		log.Warn("database not configured, audit trail is in-memory")
	}
	auditor := audit.NewPublisher(auditStore,
		audit.WithAsyncBuffer(256),
		audit.WithPublisherLogger(log),
	)

	consentMetrics := metrics.New()
	registry := machine.NewRegistry(storage, consentMetrics,
		machine.WithAuditor(auditor),
		machine.WithLogger(log),
	)

	attribution := attributionpkg.NewService(sessions, registry,
		attributionpkg.WithLogger(log),
	)

	// Analytics events flow to Kafka when brokers are configured; the log
	// sink keeps the pipeline observable in development.
	var sink tracking.Sink
	producer, err := kafkaproducer.New(cfg.Kafka, log)
	if err != nil {
		log.Error("kafka init failed", "error", err)
		os.Exit(1)
	}
	if producer != nil {
		sink = tracking.NewKafkaSink(producer, cfg.Kafka.Topic)
		log.Info("analytics sink backed by kafka", "topic", cfg.Kafka.Topic)
	} else {
		sink = tracking.NewLogSink(log)
		log.Warn("kafka not configured, analytics events go to the log")
	}

	tracker := tracking.NewService(attribution, sink, cfg.ConversionDomain,
		tracking.WithLogger(log),
	)

	healthHandler := health.New(cfg.Environment)
	if redisClient != nil {
		healthHandler.RegisterCheck("redis", func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Health(checkCtx)
		})
	}
	if dbPool != nil {
		healthHandler.RegisterCheck("database", func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return dbPool.Health(checkCtx)
		})
	}
	if producer != nil {
		healthHandler.RegisterCheck("kafka", func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return producer.Health(checkCtx)
		})
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Consent:     consentHandler.New(registry, log),
		Attribution: attributionHandler.New(attribution, log),
		Tracking:    trackingHandler.New(tracker, log),
		Health:      healthHandler,
		Logger:      log,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if redisClient != nil {
		g.Go(func() error {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					redisClient.RecordPoolStats()
				}
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	waitErr := g.Wait()

	// Drain buffered audit and analytics events before deciding the exit
	// code; abnormal shutdown is exactly when they must not be dropped.
	auditor.Close()
	if producer != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		producer.Close(closeCtx) //nolint:errcheck // best-effort flush on shutdown
		cancel()
	}
	if redisClient != nil {
		redisClient.Close() //nolint:errcheck
	}
	if dbPool != nil {
		dbPool.Close() //nolint:errcheck
	}

	if waitErr != nil {
		log.Error("server error", "error", waitErr)
		os.Exit(1)
	}

	log.Info("server stopped")
}
