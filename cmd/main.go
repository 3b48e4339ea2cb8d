package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"libledger/internal/handlers"
	"libledger/internal/models"
	"libledger/internal/repositories"
	"libledger/internal/services"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("failed to get generic DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if os.Getenv("AUTO_MIGRATE") == "1" {
		if err := models.AutoMigrate(db); err != nil {
			log.Fatalf("failed to migrate schema: %v", err)
		}
		log.Print("schema migration complete")
	}

	bookRepo := repositories.NewBookRepository(db)
	readerRepo := repositories.NewReaderRepository(db)
	txnRepo := repositories.NewTransactionRepository(db)

	ledgerService := services.NewLedgerService(db, bookRepo, readerRepo, txnRepo)

	router := gin.Default()

	handlers.RegisterRoutes(router, ledgerService)

	serverAddr := os.Getenv("SERVER_ADDR")
	if serverAddr == "" {
		serverAddr = ":8080"
	}

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	log.Printf("Starting server on %s", serverAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
