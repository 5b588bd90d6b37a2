package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Hammad-tech/wellness/internal/api"
	"github.com/Hammad-tech/wellness/internal/browser"
	"github.com/Hammad-tech/wellness/internal/challenge"
	"github.com/Hammad-tech/wellness/internal/config"
	"github.com/Hammad-tech/wellness/internal/login"
	"github.com/Hammad-tech/wellness/internal/pipeline"
	"github.com/Hammad-tech/wellness/internal/ratelimit"
	"github.com/Hammad-tech/wellness/internal/solver"
	"github.com/Hammad-tech/wellness/internal/token"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system environment")
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	logger, err := buildLogger()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	// Browser runtime launcher. Docker mode runs Chrome in one-shot
	// containers; local mode launches headless Chrome directly.
	var launcher browser.Launcher
	switch cfg.ChromeMode {
	case config.ChromeModeDocker:
		dockerLauncher, err := browser.NewDockerLauncher(logger)
		if err != nil {
			logger.Fatal("docker launcher init failed", zap.Error(err))
		}
		defer dockerLauncher.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		if err := dockerLauncher.EnsureImage(ctx); err != nil {
			cancel()
			logger.Fatal("chrome image not available", zap.Error(err))
		}
		cancel()
		launcher = dockerLauncher
	default:
		launcher = browser.NewExecLauncher()
	}

	detector := challenge.NewDetector()
	deps := pipeline.Deps{
		Driver:    browser.NewChromeDriver(launcher, cfg.Headless, cfg.UserAgent, logger),
		Detector:  detector,
		Solver:    solver.New(cfg.SolverAPIKey, cfg.SolverBaseURL, cfg.SolverPollInterval, logger),
		Injector:  challenge.NewInjector(logger),
		Login:     login.NewCompleter(cfg, detector, logger),
		Extractor: token.NewExtractor(cfg.TokenCookie, cfg.TokenStorageKey, logger),
	}
	if cfg.FastPath {
		deps.Fast = pipeline.NewFastPath(cfg, logger)
	}

	runner := pipeline.NewRunner(cfg, deps, logger)
	limiter := ratelimit.NewLimiter(cfg.RatePerHour, cfg.RateBurst)
	handler := api.NewHandler(runner, logger)
	router := handler.SetupRoutes(limiter)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute, // a run can wait on the solver for minutes
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.Addr),
			zap.String("chromeMode", cfg.ChromeMode),
			zap.Int64("maxSessions", cfg.MaxSessions))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func buildLogger() (*zap.Logger, error) {
	if os.Getenv("LOG_MODE") == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
