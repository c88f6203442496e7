package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"emergency-rescue-system/pkg/cases"
	"emergency-rescue-system/pkg/config"
	"emergency-rescue-system/pkg/middleware"
	"emergency-rescue-system/pkg/queue"
)

func main() {
	cfg := config.Load("DISPATCHER_PORT", "")
	flush := middleware.InitSentry(cfg.SentryDSN, "dispatcher-service", cfg.AppEnv)
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, ch, err := queue.ConnectRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("[ERROR] Failed to connect to RabbitMQ: %v", err)
	}
	defer conn.Close()
	defer ch.Close()
	log.Println("[OK] Dispatcher Service connected to RabbitMQ")

	q, err := queue.BindQueue(ch, cases.Exchange, cases.DispatchQueue, cases.EventCreated)
	if err != nil {
		log.Fatalf("[ERROR] Failed to bind queue: %v", err)
	}
	msgs, err := queue.ConsumeMessages(ch, q.Name)
	if err != nil {
		log.Fatalf("[ERROR] %v", err)
	}

	caseSvc := caseClient{newServiceClient(cfg.CaseServiceURL, cfg.InternalToken)}
	d := NewDispatcher(
		locationClient{newServiceClient(cfg.LocationServiceURL, cfg.InternalToken)},
		caseSvc,
		caseSvc,
	)

	go d.RunSweeper(ctx, cfg.DispatchSweepInterval)
	log.Printf("[INFO] Sweeping pending cases every %s", cfg.DispatchSweepInterval)

	log.Printf("[INFO] Waiting for new cases on queue '%s'", q.Name)
	queue.ConsumeJSON(ctx, msgs, queue.DefaultRetryDelay, d.Handle)
	log.Println("[INFO] Dispatcher Service stopped")
}
