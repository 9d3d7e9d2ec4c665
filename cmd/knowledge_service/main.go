package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"Athena/internal/config"
	"Athena/internal/database/kafka"
	"Athena/internal/database/minio"
	"Athena/internal/database/mongo"
	"Athena/internal/database/mysql"
	"Athena/internal/database/redis"
	"Athena/internal/embedding"
	"Athena/internal/knowledge/api"
	"Athena/internal/knowledge/archive"
	"Athena/internal/knowledge/dal"
	"Athena/internal/knowledge/queue"
	"Athena/internal/knowledge/service"
	"Athena/internal/models"
	"Athena/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logLevel, err := logrus.ParseLevel(cfg.Logger.Level)
	if err != nil {
		log.Fatalf("Invalid logger level: %v", err)
	}
	logger.Init(logLevel)

	// Create a single base logger for the service
	serviceLogger := logger.New("KnowledgeService", "")

	// Connect to MySQL and migrate the metadata schema
	db, err := mysql.GetDB(&cfg.Databases.MySQL)
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to connect to MySQL")
	}
	knowledgeDAL := dal.NewKnowledgeDAL(db)
	if err := knowledgeDAL.AutoMigrate(); err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to migrate knowledge tables")
	}
	serviceLogger.Info("Successfully connected to MySQL")

	health := map[string]api.HealthCheck{
		"mysql": mysql.HealthCheck,
	}

	// Build the embedding model, wrapped with the Redis vector cache when enabled
	var cacheClient *goredis.Client
	if cfg.Embedding.Cache.Enabled {
		cacheClient, err = redis.GetClient(&cfg.Databases.Redis)
		if err != nil {
			serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to connect to Redis")
		}
		health["redis"] = redis.HealthCheck
	}
	embedder, info, err := embedding.NewModel(&cfg.Embedding, cacheClient)
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to build the embedding model")
	}
	serviceLogger.Info("Embedding model ready: " + info.Provider + "/" + info.Model)

	// Build the configured vector store backend
	strategy, err := service.NewStrategy(cfg, info, serviceLogger)
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to build the vector store backend")
	}
	if initer, ok := strategy.(interface{ Init(context.Context) error }); ok {
		initCtx, cancelInit := context.WithTimeout(context.Background(), 10*time.Second)
		if err := initer.Init(initCtx); err != nil {
			serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Warn("Vector store init failed, resolution is retried on first use")
		}
		cancelInit()
	}
	if cfg.VectorStore.Provider == "mongodb" {
		health["mongodb"] = mongo.HealthCheck
	}

	// Object archive for replayable uploads
	var objects *archive.Store
	if cfg.Knowledge.ArchiveUploads {
		minioClient, err := minio.GetClient(&cfg.Databases.MinIO)
		if err != nil {
			serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to connect to MinIO")
		}
		bucketCtx, cancelBucket := context.WithTimeout(context.Background(), 10*time.Second)
		if err := minio.EnsureBucket(bucketCtx, minioClient, cfg.Databases.MinIO.Bucket); err != nil {
			serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to ensure the archive bucket")
		}
		cancelBucket()
		objects = archive.New(minioClient, cfg.Databases.MinIO.Bucket)
		health["minio"] = minio.HealthCheck
	}

	// Kafka queue for asynchronous ingestion
	var (
		kafkaClient *kafka.KafkaClient
		publisher   *queue.Publisher
		consumer    *queue.Consumer
	)
	if cfg.Knowledge.Queue.Enabled {
		kafkaClient, err = kafka.GetClient(&cfg.Databases.Kafka, cfg.Knowledge.Queue)
		if err != nil {
			serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to connect to Kafka")
		}
		publisher = queue.NewPublisher(kafkaClient.Writer)
		consumer = queue.NewConsumer(kafkaClient.Reader, serviceLogger)
		health["kafka"] = kafkaClient.HealthCheck
	}

	// Assemble the pipeline
	manager, err := service.NewManager(cfg, knowledgeDAL, strategy, embedder, info, objects, publisher, serviceLogger)
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to assemble the knowledge pipeline")
	}

	// Start Kafka consumer
	ctx, cancel := context.WithCancel(context.Background())
	if consumer != nil {
		consumer.Start(ctx, manager.ProcessTask)
		serviceLogger.Info("Kafka ingest consumer started")
	}

	// Setup HTTP server
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()
	apiHandler := api.NewAPI(manager, serviceLogger, health)
	api.RegisterRoutes(router, apiHandler)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server
	go func() {
		serviceLogger.Info("Starting HTTP server on " + srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("HTTP server failed to start")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	serviceLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Server forced to shutdown")
	}

	cancel()
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error closing Kafka consumer")
		}
	}
	if kafkaClient != nil {
		if err := kafkaClient.Close(); err != nil {
			serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error closing Kafka client")
		}
	}
	if err := mysql.Close(); err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error closing MySQL connection")
	}
	if cfg.VectorStore.Provider == "mongodb" {
		if err := mongo.Close(context.Background()); err != nil {
			serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error disconnecting from MongoDB")
		}
	}
	if cacheClient != nil {
		if err := redis.Close(); err != nil {
			serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error closing Redis connection")
		}
	}

	serviceLogger.Info("Server gracefully stopped")
}
