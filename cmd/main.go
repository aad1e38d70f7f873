package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-maintenance/internal/auth"
	"github.com/ukydev/fleet-maintenance/internal/db"
	"github.com/ukydev/fleet-maintenance/internal/engine"
	"github.com/ukydev/fleet-maintenance/internal/handlers"
	"github.com/ukydev/fleet-maintenance/internal/ingest"
	"github.com/ukydev/fleet-maintenance/internal/middleware"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file found, using environment variables")
	}

	logger := log.StandardLogger()
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if level, err := log.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(level)
	}

	client, err := db.ConnectMongo()
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to MongoDB")
	}
	logger.Info("Connected to MongoDB")

	dbName := os.Getenv("MONGO_DB")
	if dbName == "" {
		dbName = "fleet"
	}
	database := client.Database(dbName)
	vehicleStore := &db.MongoVehicleStore{Collection: database.Collection("vehicles")}
	userCollection := &db.MongoUserCollection{Collection: database.Collection("users")}

	queue := db.NewWriteQueue(vehicleStore, writeDelay(), logger)
	eng := engine.New(vehicleStore, queue, logger)

	authService, err := auth.NewService()
	if err != nil {
		logger.WithError(err).Fatal("Failed to create auth service")
	}

	authHandler := handlers.NewAuthHandler(authService, userCollection, logger)
	maintenanceHandler := handlers.NewMaintenanceHandler(eng, vehicleStore, logger)

	authMiddleware := middleware.NewAuthMiddleware(authService)
	rateLimiter := middleware.NewRateLimitMiddleware()

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	router.HandleFunc("/api/auth/login", authHandler.Login).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/register", authHandler.Register).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/profile", authHandler.GetProfile).Methods(http.MethodGet)
	maintenanceHandler.Register(router)

	handler := rateLimiter.RateLimit(300, 60)(authMiddleware.Authenticate(router))

	// Odometer feed is optional: without a broker the API still works.
	var subscriber *ingest.OdometerSubscriber
	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		subscriber, err = ingest.NewOdometerSubscriber(broker, "fleet-maintenance", eng, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to MQTT broker")
		}
		if err := subscriber.Start(); err != nil {
			logger.WithError(err).Fatal("Failed to subscribe to odometer feed")
		}
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.WithField("port", port).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("HTTP shutdown failed")
	}
	if subscriber != nil {
		subscriber.Stop()
	}

	// Drain debounced writes before closing the database connection.
	queue.Flush()
	if err := client.Disconnect(ctx); err != nil {
		logger.WithError(err).Error("Mongo disconnect failed")
	}
	logger.Info("Shutdown complete")
}

func writeDelay() time.Duration {
	ms := 1500
	if v := os.Getenv("WRITE_DEBOUNCE_MS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			ms = parsed
		}
	}
	return time.Duration(ms) * time.Millisecond
}
