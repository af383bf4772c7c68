// Platform server - captures the overlay window, recognizes text and serves translations
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GriffinCanCode/live-translator/backend/platform/internal/changedetect"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/config"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/grpcclient"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/orchestrator"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/recognition"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/screen"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/server"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/translation"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/translation/redisstore"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/window"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("platform server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Setup structured logging
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	supported := translation.DefaultSupported()
	if cfg.LanguagePairs != "" {
		if supported, err = translation.ParseSupported(cfg.LanguagePairs); err != nil {
			return err
		}
	}

	// Inference gRPC server; the connection is made on first use
	inference, err := grpcclient.New(cfg.InferenceAddr, grpcclient.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer func() { _ = inference.Close() }()
	if err := inference.Check(ctx); err != nil {
		logger.Warn("inference server not ready", "addr", cfg.InferenceAddr, "error", err)
	}

	// Optional shared translation memory
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		if rdb, err = redisstore.Connect(ctx, cfg.RedisURL); err != nil {
			logger.Warn("translation memory disabled", "error", err)
			rdb = nil
		} else {
			defer func() { _ = rdb.Close() }()
		}
	}

	ocr, closer, err := recognitionBackend(cfg, inference)
	if err != nil {
		return err
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	hasher := fingerprinter(cfg)
	setup := func() (*orchestrator.Components, error) {
		// Recognition results are keyed by exact content in every hash mode.
		rec, err := recognition.New(ocr, changedetect.NewStrideHasher(cfg.DownsampleRate), cfg.OCRCacheSize)
		if err != nil {
			return nil, err
		}

		var mt translation.Backend = inference
		if rdb != nil {
			mt = redisstore.New(rdb, inference, cfg.TranslationMemoryTTL, logger)
		}
		tr, err := translation.NewTranslator(mt, supported, cfg.SourceLang, cfg.TargetLang, cfg.TranslationCacheSize)
		if err != nil {
			return nil, err
		}
		return &orchestrator.Components{Capturer: screen.New(), Recognizer: rec, Translator: tr}, nil
	}

	tracker := window.NewTracker(window.Bounds{
		X: cfg.WindowX, Y: cfg.WindowY, Width: cfg.WindowWidth, Height: cfg.WindowHeight,
	})
	coord, err := orchestrator.New(orchestrator.Config{
		Interval:        cfg.ProcessingInterval,
		StopTimeout:     cfg.StopTimeout,
		MoveThreshold:   cfg.WindowMoveThreshold,
		ResizeThreshold: cfg.WindowResizeThreshold,
		MinConfidence:   cfg.MinOCRConfidence,
		GridSize:        cfg.GridSize,
		Hasher:          hasher,
		Supported:       supported,
	}, tracker, setup, cfg.SourceLang, cfg.TargetLang, logger)
	if err != nil {
		return err
	}

	// Create HTTP/WebSocket server
	srv := server.New(coord, tracker, server.Options{
		Logger:     logger,
		Breakers:   inference,
		RunContext: ctx,
	})
	coord.SetObserver(srv.Notify)

	if cfg.AutoStart {
		if err := coord.Start(ctx); err != nil {
			return err
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("platform server starting",
			"http", cfg.HTTPAddr,
			"inference", cfg.InferenceAddr,
			"ocr", cfg.OCRBackend,
			"languages", cfg.SourceLang+"->"+cfg.TargetLang,
			"translation_memory", rdb != nil,
		)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("http server error", "error", err)
	}

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	srv.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	if err := coord.Close(); err != nil {
		logger.Warn("capturer close error", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func fingerprinter(cfg *config.Config) changedetect.Fingerprinter {
	if cfg.HashMode == config.HashModePerceptual {
		return changedetect.PerceptualHasher{MaxDistance: cfg.PerceptualMaxDistance}
	}
	return changedetect.NewStrideHasher(cfg.DownsampleRate)
}

// recognitionBackend picks the OCR engine. The returned closer, if any, is
// released at shutdown.
func recognitionBackend(cfg *config.Config, inference *grpcclient.Client) (recognition.Backend, io.Closer, error) {
	if cfg.OCRBackend == config.OCRBackendTesseract {
		return newTesseract(cfg.TesseractLanguages)
	}
	return inference, nil, nil
}
