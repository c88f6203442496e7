package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"emergency-rescue-system/pkg/cases"
	"emergency-rescue-system/pkg/config"
	"emergency-rescue-system/pkg/database"
	"emergency-rescue-system/pkg/middleware"
	"emergency-rescue-system/pkg/queue"
	"emergency-rescue-system/pkg/security"
	"emergency-rescue-system/pkg/storage"

	"github.com/gorilla/mux"
)

func main() {
	cfg := config.Load("CASE_PORT", "8082")
	middleware.SetServiceName("case-service")
	middleware.RegisterMetrics()
	flush := middleware.InitSentry(cfg.SentryDSN, "case-service", cfg.AppEnv)
	defer flush()

	ctx := context.Background()

	db, err := database.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		log.Fatalf("[ERROR] Failed to connect to MongoDB: %v", err)
	}
	defer database.DisconnectMongo(db)

	key, err := security.KeyFromSecrets(cfg.FieldEncKey, cfg.JWTSecret)
	if err != nil {
		log.Fatalf("[ERROR] Invalid field encryption key: %v", err)
	}
	cipher, err := security.NewFieldCipher(key)
	if err != nil {
		log.Fatalf("[ERROR] Failed to init field cipher: %v", err)
	}

	store := cases.NewMongoStore(db, cipher)
	if err := store.EnsureIndexes(ctx); err != nil {
		log.Fatalf("[ERROR] Failed to create case indexes: %v", err)
	}

	conn, ch, err := queue.ConnectRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("[ERROR] Failed to connect to RabbitMQ: %v", err)
	}
	defer conn.Close()
	defer ch.Close()

	publisher, err := queue.NewPublisher(ch, cases.Exchange)
	if err != nil {
		log.Fatalf("[ERROR] Failed to declare exchange %s: %v", cases.Exchange, err)
	}
	log.Println("[OK] Connected to RabbitMQ")

	objects, err := storage.NewMinioStore(ctx, storage.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
		PublicURL: cfg.MinioPublicURL,
	})
	if err != nil {
		log.Fatalf("[ERROR] Failed to connect to MinIO: %v", err)
	}
	log.Printf("[OK] Connected to MinIO bucket %s", cfg.MinioBucket)

	h := newHandler(cases.NewService(store, publisher), objects)

	r := mux.NewRouter()
	r.Handle("/metrics", middleware.GetMetricsHandler()).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	h.routes(r, []byte(cfg.JWTSecret), cfg.InternalToken)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           middleware.Chain(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[INFO] Case Service running on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[ERROR] Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[INFO] Shutting down Case Service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[WARN] Graceful shutdown failed: %v", err)
	}
}
