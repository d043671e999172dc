package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"renttrack/internal/clients"
	"renttrack/internal/config"
	"renttrack/internal/logging"
	"renttrack/internal/repository"
	"renttrack/internal/service"
	"renttrack/internal/transport/auth"
	"renttrack/internal/transport/rest"
	"renttrack/internal/transport/websocket"
	"renttrack/pkg/database/postgres"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Info("no .env file found, using system env or defaults")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}

	db := mustInitPostgres(ctx, logger, cfg.Postgres)
	defer postgres.Close(db)

	redisClient := mustInitRedis(ctx, cfg.Redis, logger)
	defer redisClient.Close()

	storageClient, err := clients.NewLocalStorage(cfg.ExportDir, cfg.FilesPublicPrefix, cfg.ExternalURL)
	if err != nil {
		logger.Fatalf("storage init error: %v", err)
	}

	var s3Client *clients.S3Client
	if cfg.S3.Enabled {
		s3Client = mustInitS3(ctx, cfg.S3, logger)
	}

	wsHub := websocket.NewHub(logger)
	go wsHub.Run(ctx)
	wsClient := clients.NewWebSocketClient(wsHub)

	publishers := []service.EventPublisher{wsClient}
	if cfg.AMQP.URL != "" {
		amqpPublisher, err := clients.NewAMQPPublisher(clients.AMQPConfig{
			URL:      cfg.AMQP.URL,
			Exchange: cfg.AMQP.Exchange,
			Queue:    cfg.AMQP.Queue,
		})
		if err != nil {
			logger.Fatalf("amqp init error: %v", err)
		}
		defer amqpPublisher.Close()
		publishers = append(publishers, amqpPublisher)
	}

	store := repository.NewStore(db)
	opts := service.Options{
		Logger:     logger,
		Cache:      redisClient,
		Locker:     redisClient,
		Publishers: publishers,
		Retry: service.RetryPolicy{
			MaxRetries: cfg.Allocation.MaxRetries,
			Base:       cfg.Allocation.RetryBase,
		},
		ArrearsTTL: cfg.ArrearsCacheTTL,
	}

	allocationSvc := service.NewAllocationService(store, opts)
	chargeSvc := service.NewChargeService(store, opts)
	paymentSvc := service.NewPaymentService(store, opts)
	arrearsSvc := service.NewArrearsService(store, opts)
	exportSvc := service.NewExportService(arrearsSvc, redisClient, storageClient, s3Client, wsClient, logger)

	handler := rest.NewHandler(rest.Deps{
		Allocations: allocationSvc,
		Charges:     chargeSvc,
		Payments:    paymentSvc,
		Reports:     arrearsSvc,
		Exports:     exportSvc,
		Files:       storageClient,
		WebSocket:   wsHub,
		Logger:      logger,
	})
	router := handler.InitRouterWith(auth.RequesterMiddleware)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      withCORS(router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Port).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
			return
		}
		srvErr <- nil
	}()

	go every(ctx, 5*time.Minute, func() {
		removed, err := storageClient.CleanupOlderThan(cfg.ExportRetention)
		if err != nil {
			logging.LogError(logger, "main", "storageCleanup", "cleanup exports", cfg.ExportDir, err)
		}
		if removed > 0 {
			logger.WithField("removed", removed).Info("expired exports removed")
		}
	})

	refresh := func() {
		if _, err := chargeSvc.RefreshStatuses(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.LogError(logger, "main", "statusRefresh", "refresh charge statuses", nil, err)
		}
	}
	go func() {
		refresh()
		every(ctx, cfg.StatusRefreshInterval, refresh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-srvErr:
		if err != nil {
			logger.Fatalf("HTTP server error: %v", err)
		}
	case sig := <-stop:
		logger.WithField("signal", sig.String()).Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("HTTP server shutdown error")
		}

		cancel()
		logger.Info("shutdown complete")
	}
}

func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func mustInitPostgres(ctx context.Context, logger *logrus.Logger, cfg config.PostgresConfig) *sql.DB {
	info := postgres.ConnectionInfo{
		Host:            cfg.Host,
		Port:            cfg.Port,
		Username:        cfg.User,
		DBName:          cfg.DBName,
		SSLMode:         cfg.SSLMode,
		Password:        cfg.Password,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}

	if cfg.RunMigrations {
		if err := repository.RunMigrations(info.DSN()); err != nil {
			logger.Fatalf("postgres migration error: %v", err)
		}
		logger.Info("postgres migrations applied")
	}

	db, err := postgres.NewPostgresConnection(ctx, info)
	if err != nil {
		logger.Fatalf("postgres init error: %v", err)
	}
	return db
}

func mustInitRedis(ctx context.Context, cfg config.RedisConfig, logger *logrus.Logger) *clients.RedisClient {
	client, err := clients.NewRedisClient(ctx, clients.RedisConfig{
		URL:         cfg.URL,
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: time.Duration(cfg.DialTimeout) * time.Second,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		Prefix:      cfg.Prefix,
	})
	if err != nil {
		logger.Fatalf("redis init error: %v", err)
	}
	return client
}

func mustInitS3(ctx context.Context, cfg config.S3Config, logger *logrus.Logger) *clients.S3Client {
	client, err := clients.NewS3Client(ctx, clients.S3Config{
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Bucket:          cfg.Bucket,
		UseSSL:          cfg.UseSSL,
		Region:          cfg.Region,
		Prefix:          cfg.Prefix,
	})
	if err != nil {
		logger.Fatalf("s3 init error: %v", err)
	}
	if err := client.EnsureBucket(ctx); err != nil {
		logger.Fatalf("s3 bucket error: %v", err)
	}
	return client
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")

			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Requested-By, X-Requested-With")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
