package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tourism-core/config"
	"tourism-core/internal/api"
	"tourism-core/internal/broker"
	"tourism-core/internal/lock"
	"tourism-core/internal/redisclient"
	"tourism-core/internal/service"
	"tourism-core/internal/stock"
	"tourism-core/internal/store"
	"tourism-core/internal/util"
	"tourism-core/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting tourism core service")

	tp, err := util.InitTracer("tourism-core", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	topics := broker.Topics{
		OrderPaid:      cfg.Kafka.TopicOrderPaid,
		OrderCancelled: cfg.Kafka.TopicOrderCancelled,
		ReviewChanged:  cfg.Kafka.TopicReviewChanged,
	}
	eventPublisher := broker.NewEventPublisher(producer, topics)

	locker := lock.New(redisClient, cfg.Business.LockLease, cfg.Business.LockRetryInterval)
	ledger := stock.NewLedger(redisClient, db, locker, cfg.Business.LockWaitTimeout)

	lifecycle := service.NewOrderLifecycle(db, ledger, eventPublisher, locker, cfg.Business.LockWaitTimeout)
	aggregator := service.NewProductAggregator(db, ledger)
	notifier := service.NewReviewNotifier(eventPublisher)

	// Seed the stock cache so the first reservations skip the init lock.
	ctx := context.Background()
	if products, err := db.GetProducts(ctx); err != nil {
		log.Printf("Failed to list products for stock warmup: %v", err)
	} else {
		for _, p := range products {
			if err := ledger.Initialize(ctx, p.ID); err != nil {
				log.Printf("Failed to warm stock cache for product %d: %v", p.ID, err)
			}
		}
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	workers := make([]*worker.AggregateWorker, 0, 3)
	for _, topic := range []string{cfg.Kafka.TopicOrderPaid, cfg.Kafka.TopicOrderCancelled, cfg.Kafka.TopicReviewChanged} {
		consumer := broker.NewConsumer(broker.ConsumerConfig{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          topic,
			GroupID:        cfg.Kafka.ConsumerGroup,
			DeadLetter:     cfg.Kafka.TopicDeadLetter,
			MaxAttempts:    cfg.Business.ConsumerMaxRetries,
			HandlerTimeout: cfg.Business.HandlerTimeout,
		}, producer)

		w := worker.NewAggregateWorker(consumer, aggregator, topic)
		workers = append(workers, w)
		go func(w *worker.AggregateWorker) {
			if err := w.Start(workerCtx); err != nil && workerCtx.Err() == nil {
				log.Printf("Aggregate worker error: %v", err)
			}
		}(w)
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(lifecycle, ledger, notifier)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	for _, w := range workers {
		w.Stop()
	}

	log.Println("Server exited")
}
