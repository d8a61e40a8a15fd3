package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/toolgraph/backend/internal/config"
	"github.com/OFFIS-RIT/toolgraph/backend/internal/graphstore"
	"github.com/OFFIS-RIT/toolgraph/backend/internal/queue"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/catalog"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/logger/console"

	_ "github.com/lib/pq"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		console.NewConsoleLogger(console.ConsoleLoggerParams{}).Fatal("Invalid configuration", "err", err)
	}

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: cfg.Debug,
		JSON:  !cfg.IsDevelopment(),
	})
	logger.Init(consoleLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	graphStore, err := graphstore.Open(ctx, cfg, graphstore.Options{Migrate: true})
	if err != nil {
		logger.Fatal("Unable to open graph store", "err", err)
	}
	defer graphStore.Close()

	if cfg.Graph.SeedFile != "" && cfg.Graph.Adapter != config.AdapterMemory {
		gen, err := graphstore.Seed(ctx, graphStore, cfg.Graph.SeedFile)
		if err != nil {
			logger.Fatal("Failed to import seed", "path", cfg.Graph.SeedFile, "err", err)
		}
		logger.Info("Seed imported", "path", cfg.Graph.SeedFile, "generation", gen)
	}

	initial, err := graphStore.CatalogGeneration(ctx)
	if err != nil {
		logger.Fatal("Unable to read catalog generation", "err", err)
	}

	// Init rabbitmq
	conn, err := queue.Dial(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("Failed to connect to rabbitmq", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.UpsertQueue); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}
	if err := queue.SetupEvents(ch); err != nil {
		logger.Fatal("Failed to declare events exchange", "err", err)
	}

	origin := "worker-" + gonanoid.Must(8)
	svc := catalog.NewService(graphStore, catalog.NewGeneration(initial), queue.NewPublisher(ch), origin)

	// prefetch=1 keeps upserts strictly ordered per worker
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.ConsumeWithContext(
		ctx,
		queue.UpsertQueue,
		queue.UpsertQueue+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.UpsertQueue, "err", err)
	}

	logger.Info("Listening for messages", "queue", queue.UpsertQueue, "origin", origin, "generation", initial)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Message channel closed", "queue", queue.UpsertQueue)
				return
			}
			startTime := time.Now()

			gen, err := queue.ProcessUpsertMessage(ctx, svc, msg.Body)
			if err != nil {
				logger.Error("Error processing message", "queue", queue.UpsertQueue, "err", err)
				queue.HandleProcessingError(ctx, consumerCh, msg, queue.UpsertQueue, queue.IsPermanent(err))
				continue
			}
			if err := msg.Ack(false); err != nil {
				logger.Error("Failed to ack message", "err", err)
			}
			logger.Info("Message processed successfully", "generation", gen, "duration", time.Since(startTime))
		}
	}
}
