package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	v1 "github.com/klubbkiosk/kiosk-backend/v1"
	"github.com/klubbkiosk/kiosk-backend/v1/handlers"
	"github.com/klubbkiosk/kiosk-backend/v1/locks"
	"github.com/klubbkiosk/kiosk-backend/v1/metrics"
	"github.com/klubbkiosk/kiosk-backend/v1/middleware"
	"github.com/klubbkiosk/kiosk-backend/v1/services"
	"github.com/klubbkiosk/kiosk-backend/v1/utils"
)

func main() {
	// Load .env file if it exists (optional - fails silently if not found)
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	slog.Info("Starting kiosk backend initialization")

	dbConfig := v1.NewDatabaseConfig()
	gormDB, err := v1.ConnectGormDB(dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := v1.InitSchema(gormDB); err != nil {
		slog.Error("Failed to initialize schema", "error", err)
		os.Exit(1)
	}

	metrics.Register()

	sheets := services.NewSheetServiceFromEnv()

	// Both locks live in one directory shared by all worker processes.
	lockDir := utils.GetEnvOrDefault("KIOSK_LOCK_DIR", ".")
	electionLock := locks.New(lockDir, locks.SchedulerLockName)
	exportLock := locks.New(lockDir, locks.ExportLockName)

	memberService := services.NewMemberService(gormDB, sheets)
	exportService := services.NewExportService(gormDB, sheets, exportLock)
	scheduler := services.NewSyncScheduler(memberService, exportService, electionLock)

	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()

	elected, err := scheduler.TryElect()
	if err != nil {
		slog.Error("Scheduler election failed", "error", err)
		os.Exit(1)
	}
	if elected {
		go scheduler.Start(schedulerCtx)
	}

	kioskHandler := handlers.NewKioskHandler(gormDB, sheets)
	apiMux := http.NewServeMux()
	kioskHandler.SetupRoutes(apiMux)

	corsMiddleware := middleware.NewCORSMiddleware()
	apiHandler := corsMiddleware(utils.PanicRecoveryMiddleware(apiMux))

	topLevelMux := http.NewServeMux()
	topLevelMux.Handle("/api/v1/", apiHandler)
	topLevelMux.Handle("/metrics", metrics.Handler())
	topLevelMux.Handle("/health", utils.PanicRecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		type HealthStatus struct {
			Status   string `json:"status"`
			Service  string `json:"service"`
			Database string `json:"database"`
			Error    string `json:"error,omitempty"`
		}

		status := HealthStatus{Status: "healthy", Service: "kiosk-backend", Database: dbConfig.Driver}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		sqlDB, err := gormDB.DB()
		if err != nil {
			status.Status = "unhealthy"
			status.Error = err.Error()
		} else if err := sqlDB.PingContext(ctx); err != nil {
			status.Status = "unhealthy"
			status.Error = err.Error()
		}

		statusCode := http.StatusOK
		if status.Status != "healthy" {
			statusCode = http.StatusServiceUnavailable
		}
		utils.RespondWithJSON(w, statusCode, status)
	})))

	port := utils.GetEnvOrDefault("PORT", "5000")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      topLevelMux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("Kiosk backend starting", "port", port, "elected", elected)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to start kiosk backend", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down kiosk backend...")
	stopScheduler()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if sqlDB, err := gormDB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			slog.Error("Failed to close database connection", "error", err)
		}
	}

	// The election lock drops with the process anyway; releasing keeps
	// shutdown tidy.
	if elected {
		if err := electionLock.Release(); err != nil {
			slog.Warn("Failed to release election lock", "error", err)
		}
	}

	slog.Info("Kiosk backend exited")
}
