package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/bankcards/card-service/internal/config"
	"github.com/bankcards/card-service/internal/crypto"
	"github.com/bankcards/card-service/internal/handler"
	"github.com/bankcards/card-service/internal/job"
	"github.com/bankcards/card-service/internal/lock"
	"github.com/bankcards/card-service/internal/notify"
	"github.com/bankcards/card-service/internal/report"
	"github.com/bankcards/card-service/internal/service"
	"github.com/bankcards/card-service/internal/storage"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	store := storage.NewPostgres(db)
	if err := store.Migrate(context.Background()); err != nil {
		logger.Fatalf("Failed to migrate schema: %v", err)
	}

	// Initialize the encrypted-field codec
	codec, err := crypto.NewCodec(cfg.EncryptionKey)
	if err != nil {
		logger.Fatalf("Failed to initialize codec: %v", err)
	}

	// Initialize layers
	locks := lock.NewRegistry(cfg.LockWait)
	users := service.NewUserService(store, logger)
	cards := service.NewCardService(store, codec, locks, logger)
	txs := service.NewTransactionService(store, locks, logger, cfg.Currency)
	reports := report.NewService(store, logger)
	sender := notify.NewSender(cfg, logger)
	h := handler.NewHandler(users, cards, txs, reports, logger)

	// Schedule housekeeping
	sweeper := job.NewSweeper(cards, reports, store, sender, logger)
	if err := sweeper.Start(cfg.SweepSchedule); err != nil {
		logger.Fatalf("Failed to schedule sweep job: %v", err)
	}
	defer sweeper.Stop()

	// Setup router
	r := mux.NewRouter()
	h.Register(r)

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Infof("Starting server on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}
