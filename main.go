// ffclip/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ffclip/api"
	"ffclip/config"
	"ffclip/ffmpeg"
	"ffclip/logging"
	"ffclip/task"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	logging.Configure(logging.Config{Level: logLevel(cfg)})
	logger := logging.WithComponent("main")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 2. Initialize the ffmpeg engine
	ffmpegRunner, err := ffmpeg.NewRunner(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize ffmpeg runner")
	}

	// 3. Initialize task manager on top of the engine
	taskManager, err := task.NewManager(cfg, ffmpegRunner)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize task manager")
	}

	// 4. Set up router and server
	router := api.SetupRouter(taskManager, cfg)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 5. Start background services and HTTP server
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	taskManager.Start(ctx)

	go func() {
		logger.Info().Str("port", cfg.Port).Str("output_dir", cfg.OutputDir).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen failed")
		}
	}()

	// 6. Wait for interrupt signal for graceful shutdown
	<-ctx.Done()
	stop()
	logger.Info().Msg("shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	// Running clips were canceled with ctx; wait for ffmpeg to exit.
	taskManager.Wait()
	logger.Info().Msg("server exiting")
}

func logLevel(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	return cfg.LogLevel
}
