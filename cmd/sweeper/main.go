package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"videoattend/internal/attendance"
	"videoattend/internal/config"
	"videoattend/internal/lock"
	"videoattend/internal/material"
	"videoattend/internal/notify"
	"videoattend/internal/queue"
	"videoattend/internal/store"
	"videoattend/internal/watch"
)

// Sweeper closes watch sessions idle past the inactivity timeout and drains
// attendance events to the notification service.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
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

	var events queue.Queue
	var locker lock.Locker
	if cfg.QueueBackend == "memory" {
		events = queue.NewInMemory(64)
		locker = lock.NewMemory()
	} else {
		events = queue.NewRedisQueue(redisClient.Client, "videoattend:events")
		locker = lock.NewRedis(redisClient.Client, 10*time.Second)
	}

	materials := material.NewCached(
		material.New(cfg.MaterialServiceURL, cfg.CollaboratorSkip),
		redisClient, cfg.MaterialCacheTTL,
	)
	sessions := watch.NewRepository(db.Client)
	ledger := attendance.NewRepository(db.Client)
	svc := watch.NewService(sessions, ledger, materials, locker, nil, cfg.SessionIdleTimeout, cfg.LedgerWriteRetries)

	notifier := notify.New(cfg.NotifyServiceURL, cfg.CollaboratorSkip)

	go runSweep(ctx, svc, cfg.SweepInterval, cfg.SweepBatchSize)

	messages, err := events.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("sweeper started")
	for msg := range messages {
		if msg.Type != "attendance_recorded" {
			continue
		}
		var evt notify.AttendanceRecorded
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("drop undecodable event: %v", err)
			continue
		}
		// Fire and forget: the record is durable either way.
		if err := notifier.Send(ctx, evt); err != nil {
			log.Printf("notify %s/%s failed: %v", evt.StudentID, evt.MaterialID, err)
		}
	}

	log.Println("sweeper stopped")
}

func runSweep(ctx context.Context, svc *watch.Service, every time.Duration, batch int) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			closed, err := svc.Sweep(ctx, batch)
			if err != nil {
				log.Printf("sweep failed: %v", err)
				continue
			}
			if closed > 0 {
				log.Printf("closed %d idle sessions", closed)
			}
		}
	}
}
