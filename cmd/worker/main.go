package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prsnl/kgraph/internal/bootstrap"
	"github.com/prsnl/kgraph/internal/config"
	"github.com/prsnl/kgraph/internal/queue"
	"github.com/prsnl/kgraph/internal/util"
	"github.com/prsnl/kgraph/pkg/ai"
	"github.com/prsnl/kgraph/pkg/logger"
	"github.com/prsnl/kgraph/pkg/logger/console"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"
)

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

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}
	// The worker only exists to drain the broker.
	cfg.Queue.Enabled = true

	rt, err := bootstrap.Setup(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to start", "err", err)
	}
	defer rt.Close()

	// Create a single consumer channel with prefetch=1
	// This ensures only ONE message is delivered at a time
	consumerCh, err := rt.Queue.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()
	if err := consumerCh.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.Consume(
		queue.ProcessQueue,
		queue.ProcessQueue+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.ProcessQueue, "err", err)
	}
	consumer := queue.NewConsumer(queue.ProcessQueue, rt.Orchestrator, rt.Publisher)

	logger.Info("Listening for messages", "queue", queue.ProcessQueue)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.Orchestrator.Run(gctx)
	})
	g.Go(func() error {
		return consumer.Consume(gctx, msgs)
	})
	g.Go(func() error {
		reportAIMetrics(gctx, rt.AI, time.Minute)
		return nil
	})
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("Worker stopped", "err", err)
	}
	logger.Info("Shutdown signal received, exiting...")
}

// reportAIMetrics logs and resets the token usage of client every interval.
func reportAIMetrics(ctx context.Context, client ai.GraphAIClient, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics := client.GetMetrics()
			if metrics.TotalTokens == 0 {
				continue
			}
			aiDuration := time.Duration(metrics.DurationMs) * time.Millisecond
			aiHours := int(aiDuration.Hours())
			aiMinutes := int(aiDuration.Minutes()) % 60
			aiSeconds := int(aiDuration.Seconds()) % 60
			logger.Info(
				"AI Metrics",
				"input_tokens", metrics.InputTokens,
				"output_tokens", metrics.OutputTokens,
				"total_tokens", metrics.TotalTokens,
				"duration", fmt.Sprintf("%02d:%02d:%02d", aiHours, aiMinutes, aiSeconds),
			)
			client.ResetMetrics()
		}
	}
}
