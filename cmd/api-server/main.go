package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/medloop/patient-scheduler/internal/api"
	"github.com/medloop/patient-scheduler/internal/assistant"
	"github.com/medloop/patient-scheduler/internal/config"
	"github.com/medloop/patient-scheduler/internal/db"
	"github.com/medloop/patient-scheduler/internal/events"
	redisclient "github.com/medloop/patient-scheduler/internal/redis"
	"github.com/medloop/patient-scheduler/internal/scheduling"
)

const version = "1.0.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s", cfg.Env, cfg.HTTPPort)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	// Kafka is optional; without brokers the ledger only writes the
	// Postgres event log.
	var publisher scheduling.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := producer.Close(); err != nil {
				log.Printf("error closing kafka producer: %v", err)
			}
		}()
		publisher = producer
		log.Printf("publishing events to kafka topic %s", cfg.KafkaTopic)
	}

	repo := scheduling.NewPgRepository(pgPool)
	svc := scheduling.NewService(repo, publisher)

	router := api.NewRouter(api.RouterConfig{
		Service:       svc,
		Assistant:     assistant.New(svc),
		Cache:         redisclient.NewCache(rdb, cfg.CacheTTL),
		PgPool:        pgPool,
		Redis:         rdb,
		RateLimit:     cfg.RateLimit,
		ChatRateLimit: cfg.ChatRateLimit,
		RateWindow:    cfg.RateWindow,
		Env:           cfg.Env,
		Version:       version,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		log.Fatalf("http server error: %v", err)
	case <-rootCtx.Done():
	}

	log.Println("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
