package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"classtrack/internal/attendance"
	"classtrack/internal/config"
	"classtrack/internal/override"
	"classtrack/internal/queue"
	"classtrack/internal/store"
	"classtrack/internal/stream"
	"classtrack/internal/timetable"
)

// Worker consumes pre-seed retry messages and re-runs the per-member
// attendance seeding for the referenced override. Seeding is idempotent, so
// a retry after a partial failure only fills in the missing members.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.PreseedQueueKey)
	}

	streamRepo := stream.NewPostgresRepository(db.Client)
	ttRepo := timetable.NewPostgresRepository(db.Client)
	ovRepo := override.NewPostgresRepository(db.Client)
	attRepo := attendance.NewPostgresRepository(db.Client)
	streams := stream.NewService(streamRepo)
	ledger := attendance.NewLedger(attRepo, ttRepo, ovRepo, streamRepo, streams)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != queue.TypePreseed {
			continue
		}

		var ov override.Override
		if err := json.Unmarshal(msg.Body, &ov); err != nil {
			log.Printf("bad preseed payload: %v", err)
			continue
		}

		res, err := ledger.PreSeedOverride(ctx, ov)
		if err != nil {
			log.Printf("preseed retry for override %s failed: %v", ov.ID, err)
			continue
		}
		log.Printf("preseed retry for override %s: seeded=%d failed=%d", ov.ID, res.Seeded, res.Failed)
	}

	log.Println("worker stopped")
}
