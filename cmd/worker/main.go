package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loreforge/loreforge/backend/internal/queue"
	"github.com/loreforge/loreforge/backend/internal/server"
	"github.com/loreforge/loreforge/backend/internal/storage"
	"github.com/loreforge/loreforge/backend/internal/util"
	"github.com/loreforge/loreforge/backend/pkg/graph"
	"github.com/loreforge/loreforge/backend/pkg/leaselock"
	"github.com/loreforge/loreforge/backend/pkg/logger"
	"github.com/loreforge/loreforge/backend/pkg/logger/console"
	pgxstore "github.com/loreforge/loreforge/backend/pkg/store/pgx"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

const staleRecoveryInterval = time.Minute

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	// Init s3 client
	s3Client := storage.NewS3Client(ctx)

	aiClient := server.NewAIClient()

	// Init pgx client
	poolConfig, err := pgxpool.ParseConfig(util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Unable to parse database config", "err", err)
	}
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pgConn, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	// Init rabbitmq queues if not exist
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.RebuildQueueName}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	engine := graph.NewEngine(graph.NewEngineParams{
		Store: pgxstore.NewCampaignDBStorageWithConnection(pgConn, aiClient),
		AI:    aiClient,
		Blobs: storage.NewArchiveBlobStore(s3Client, util.GetEnv("AWS_ARCHIVE_BUCKET")),
		Queue: queue.NewRebuildPublisher(ch),

		ParallelAiRequests: int(util.GetEnvNumeric("AI_PARALLEL_REQ", 0)),
		DedupThreshold:     util.GetEnvNumeric("DEDUP_THRESHOLD", 0),
		MaxTraversalDepth:  int(util.GetEnvNumeric("MAX_TRAVERSAL_DEPTH", 0)),
		CommunityLevelCap:  int(util.GetEnvNumeric("COMMUNITY_LEVEL_CAP", 0)),
	})
	locks := leaselock.New(pgConn)

	// Requeue jobs orphaned by a crashed worker, then keep checking.
	if err := queue.RecoverStaleRebuilds(ctx, pgConn, ch); err != nil {
		logger.Error("Failed to recover stale rebuilds", "err", err)
	}
	go func() {
		t := time.NewTicker(staleRecoveryInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := queue.RecoverStaleRebuilds(ctx, pgConn, ch); err != nil {
					logger.Error("Failed to recover stale rebuilds", "err", err)
				}
			}
		}
	}()

	logger.Info("Listening for messages")

	// A single consumer channel with prefetch=1, so one rebuild runs at a
	// time on this worker.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	err = consumerCh.Qos(1, 0, true)
	if err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.Consume(
		queue.RebuildQueueName,
		queue.RebuildQueueName+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.RebuildQueueName, "err", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case msg, ok := <-msgs:
				if !ok {
					logger.Info("Message channel closed", "queue", queue.RebuildQueueName)
					return
				}

				startTime := time.Now()
				logger.Info("Received message", "queue", queue.RebuildQueueName)

				processingErr := queue.ProcessRebuildMessage(ctx, engine, locks, string(msg.Body))

				// If there was an error send to retry or dead-letter, otherwise ack the message
				if processingErr != nil {
					logger.Error("Error processing message", "queue", queue.RebuildQueueName, "err", processingErr)
					handleProcessingError(consumerCh, msg, queue.RebuildQueueName)
				} else {
					if err := msg.Ack(false); err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message processed successfully", "queue", queue.RebuildQueueName)
				}

				logger.Info("Processing time", "duration", time.Since(startTime).Round(time.Second).String())
				logger.Info("Waiting for next message")
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

func handleProcessingError(ch *amqp.Channel, msg amqp.Delivery, queueName string) {
	retries := 0
	if val, ok := msg.Headers["x-retries"]; ok {
		if v, ok := val.(int32); ok {
			retries = int(v)
		}
	}

	// If message has been retried 10 times, send to dead-letter
	if retries >= 10 {
		dlqName := queueName + "_dlq"
		logger.Info("Sending message to DLQ", "dlq", dlqName)
		pubErr := ch.Publish(
			"",
			dlqName,
			false,
			false,
			amqp.Publishing{
				ContentType: "text/plain",
				Body:        msg.Body,
				Headers:     msg.Headers,
			},
		)
		if pubErr != nil {
			logger.Error("Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
			msg.Nack(false, true)
			return
		}
		msg.Ack(false)
		return
	}

	retryName := queueName + "_retry"
	headers := msg.Headers
	if headers == nil {
		headers = amqp.Table{}
	}
	headers["x-retries"] = retries + 1

	pubErr := ch.Publish(
		"",
		retryName,
		false,
		false,
		amqp.Publishing{
			ContentType: "text/plain",
			Body:        msg.Body,
			Headers:     headers,
		},
	)
	if pubErr != nil {
		logger.Error("Failed to publish to retry queue", "retry_queue", retryName, "err", pubErr)
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}
