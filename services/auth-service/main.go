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

	"emergency-rescue-system/pkg/config"
	"emergency-rescue-system/pkg/database"
	"emergency-rescue-system/pkg/middleware"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

func main() {
	cfg := config.Load("AUTH_PORT", "8081")
	middleware.SetServiceName("auth-service")
	middleware.RegisterMetrics()
	flush := middleware.InitSentry(cfg.SentryDSN, "auth-service", cfg.AppEnv)
	defer flush()

	db, err := database.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("[ERROR] Failed to connect to database: %v", err)
	}
	defer database.ClosePostgres(db)

	store := newGormStore(db)
	log.Println("[INFO] Running Auto Migration...")
	if err := store.migrate(); err != nil {
		log.Fatalf("[ERROR] Migration failed: %v", err)
	}
	log.Println("[OK] Migration success")

	auth := newAuthService(store, []byte(cfg.JWTSecret), cfg.JWTAccessExpiry, cfg.JWTRefreshExpiry).
		withFederation([]byte(cfg.FederationSecret))
	if cfg.FederationSecret == "" {
		log.Println("[WARN] FEDERATION_SECRET not set, federated sign-in disabled")
	}
	h := &handler{auth: auth, redirects: cfg.FederatedRedirects}

	r := mux.NewRouter()
	r.HandleFunc("/health", healthCheckHandler(db)).Methods(http.MethodGet)
	r.Handle("/metrics", middleware.GetMetricsHandler()).Methods(http.MethodGet)
	h.routes(r, []byte(cfg.JWTSecret))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           middleware.Chain(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[INFO] Auth Service running on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[ERROR] Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[INFO] Shutting down Auth Service")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[WARN] Graceful shutdown failed: %v", err)
	}
}

// healthCheckHandler reports service health including database connectivity.
func healthCheckHandler(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := map[string]interface{}{
			"status":  "UP",
			"service": "auth-service",
		}

		w.Header().Set("Content-Type", "application/json")
		if err := database.Ping(r.Context(), db); err != nil {
			health["status"] = "DOWN"
			health["database"] = "disconnected"
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			health["database"] = "connected"
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(health)
	}
}
