package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"emergency-rescue-system/pkg/cases"
	"emergency-rescue-system/pkg/config"
	"emergency-rescue-system/pkg/middleware"
	"emergency-rescue-system/pkg/queue"

	"github.com/gorilla/mux"
)

func main() {
	cfg := config.Load("NOTIFICATION_PORT", "8084")
	middleware.SetServiceName("notification-service")
	middleware.RegisterMetrics()
	flush := middleware.InitSentry(cfg.SentryDSN, "notification-service", cfg.AppEnv)
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, ch, err := queue.ConnectRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("[ERROR] Failed to connect to RabbitMQ: %v", err)
	}
	defer conn.Close()
	defer ch.Close()
	log.Println("[OK] Connected to RabbitMQ")

	q, err := queue.BindQueue(ch, cases.Exchange, cases.ChangeQueueName, cases.EventRoutingAll)
	if err != nil {
		log.Fatalf("[ERROR] Failed to bind queue: %v", err)
	}
	msgs, err := queue.ConsumeMessages(ch, q.Name)
	if err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
	log.Printf("[INFO] Listening to %s queue", q.Name)

	hub := NewHub()
	go hub.Run(ctx)
	go queue.ConsumeJSON(ctx, msgs, queue.DefaultRetryDelay, func(ctx context.Context, event cases.ChangeEvent) error {
		log.Printf("[OK] Change received - Case: %s, Status: %s", event.CaseID, event.Status)
		hub.Broadcast(ctx, event)
		return nil
	})

	api := mux.NewRouter()
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":            "UP",
			"service":           "notification-service",
			"connected_clients": hub.Clients(r.Context()),
		})
	}).Methods(http.MethodGet)
	api.Handle("/metrics", middleware.GetMetricsHandler()).Methods(http.MethodGet)

	// Streams only get tracing; the request logger and metrics would record
	// each one as a single request lasting the whole session.
	root := http.NewServeMux()
	root.Handle("/subscribe", middleware.TraceMiddleware(hub.SubscribeHandler([]byte(cfg.JWTSecret))))
	root.Handle("/", middleware.Chain(api))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[INFO] Notification Service running on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[ERROR] Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[INFO] Shutting down Notification Service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[WARN] Graceful shutdown failed: %v", err)
	}
}
