package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"langsam-server/internal/adapters/primary/http/handlers"
	"langsam-server/internal/adapters/primary/http/middleware"
	"langsam-server/internal/adapters/secondary/langsam"
	"langsam-server/internal/config"
	"langsam-server/internal/core/services"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	initLogger(cfg)

	// ============================================================================
	// Hexagonal Architecture Wiring
	// ============================================================================

	// Secondary Adapter (Output Port - LangSAM runtime)
	runtime := langsam.NewClient(&cfg.Backend)
	log.WithField("url", cfg.Backend.URL).Info("LangSAM runtime client initialized")

	// Core Services (Application Layer)
	handle := services.NewModelHandle(runtime, services.HandlePolicy{
		DefaultVariant:  cfg.Model.DefaultType,
		AllowSwitch:     cfg.Model.AllowSwitch,
		AllowedVariants: cfg.Model.AllowedTypes,
		BuildTimeout:    cfg.Model.BuildTimeout,
	})
	if err := handle.Init(context.Background()); err != nil {
		log.Fatalf("initialize model: %v", err)
	}
	predictSvc := services.NewPredictionService(handle, cfg.Model.MaxImagePixels)

	// Primary Adapter (HTTP Handlers)
	h := handlers.New(predictSvc, handle, cfg.Server.MaxUploadBytes())

	// Setup router
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.Logging(), gin.Recovery())
	if n := cfg.Server.MaxUploadBytes(); n > 0 {
		router.MaxMultipartMemory = n
	}

	h.RegisterRoutes(router, middleware.RateLimit(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst))

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Infof("starting server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("server forced shutdown: %v", err)
	}

	log.Info("server stopped")
}

func initLogger(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.Logger.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Logger.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	if cfg.Logger.File != "" {
		log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.Logger.File,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
		}))
	}
}
