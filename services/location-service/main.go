package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"emergency-rescue-system/pkg/config"
	"emergency-rescue-system/pkg/database"
	"emergency-rescue-system/pkg/middleware"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load("LOCATION_PORT", "8083")
	middleware.SetServiceName("location-service")
	middleware.RegisterMetrics()
	flush := middleware.InitSentry(cfg.SentryDSN, "location-service", cfg.AppEnv)
	defer flush()

	db, err := database.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("[ERROR] Failed to connect to database: %v", err)
	}
	defer database.ClosePostgres(db)

	store := &gormStore{db: db}
	if err := store.migrate(); err != nil {
		log.Fatalf("[ERROR] Migration failed: %v", err)
	}
	log.Println("[OK] Migration success")

	var cache landmarkCache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Printf("[WARN] Redis unavailable, landmark cache disabled: %v", err)
		} else {
			cache = newRedisLandmarkCache(client, cfg.CacheTTL)
			log.Printf("[OK] Connected to Redis at %s", cfg.RedisAddr)
		}
	}

	h := newHandler(store, cache)

	r := mux.NewRouter()
	r.Handle("/metrics", middleware.GetMetricsHandler()).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Ping(r.Context(), db); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	h.routes(r, []byte(cfg.JWTSecret), cfg.InternalToken)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           middleware.Chain(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[INFO] Location Service running on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[ERROR] Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[INFO] Shutting down Location Service")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[WARN] Graceful shutdown failed: %v", err)
	}
}
