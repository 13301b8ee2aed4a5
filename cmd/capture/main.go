// Capture server - records desktop workflow steps with element
// identification and serves the session over HTTP/WebSocket.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docugen/platform/internal/accessibility"
	"github.com/docugen/platform/internal/cache"
	"github.com/docugen/platform/internal/config"
	"github.com/docugen/platform/internal/detector"
	"github.com/docugen/platform/internal/fallback"
	"github.com/docugen/platform/internal/metrics"
	"github.com/docugen/platform/internal/screen"
	"github.com/docugen/platform/internal/server"
	"github.com/docugen/platform/internal/session"
	"github.com/docugen/platform/internal/vision"
)

func main() {
	title := flag.String("title", "Desktop Workflow", "workflow title")
	appName := flag.String("app", "", "application under documentation")
	description := flag.String("description", "", "workflow description")
	outputDir := flag.String("output", "", "directory for step screenshots")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	_ = godotenv.Load()
	cfg := config.Load()
	if err := cfg.Fallback.Validate(); err != nil {
		slog.Error("invalid fallback configuration", "error", err)
		os.Exit(1)
	}

	adapter := accessibility.New()
	capturer := screen.New()
	defer capturer.Close()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	var identifier fallback.VisionIdentifier
	if cfg.VisionAPIKey != "" {
		client := vision.NewHTTPClient(cfg.VisionEndpoint, cfg.VisionModel, cfg.VisionAPIKey)
		visionCache := cache.NewVisionCache(cache.DefaultVisionCapacity, time.Duration(cfg.Fallback.CacheTTLSeconds)*time.Second)
		identifier = vision.NewIdentifier(client, visionCache, adapter.Platform())
	} else {
		slog.Warn("no vision api key configured; visual fallback disabled")
	}

	orch := fallback.NewOrchestrator(
		cfg.Fallback,
		adapter,
		identifier,
		cache.NewElementCache(cache.DefaultElementCapacity),
		collector,
	)

	detCfg := detector.Config{
		DesktopThreshold: cfg.DesktopSimilarityThreshold,
		WebThreshold:     cfg.WebSimilarityThreshold,
		DebounceSeconds:  cfg.DebounceSeconds,
		WebMode:          cfg.WebCaptureMode,
		OutputDir:        *outputDir,
	}
	det := detector.New(detCfg, capturer)

	sess := session.New(session.Options{
		Title:       *title,
		Description: *description,
		AppName:     *appName,
		Platform:    adapter.Platform(),
	}, det, orch)

	srv := server.New(sess, collector, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("capture server starting",
			"http", cfg.HTTPAddr, "platform", adapter.Platform(), "app", *appName)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	if sess.State() == session.StateRecording || sess.State() == session.StatePaused {
		if wf, err := sess.Finish(); err == nil && *outputDir != "" {
			path := filepath.Join(*outputDir, "workflow.json")
			if err := session.SaveWorkflowJSON(wf, path); err != nil {
				slog.Error("cannot save workflow", "path", path, "error", err)
			} else {
				slog.Info("workflow saved", "path", path, "steps", len(wf.Steps))
			}
		}
	}

	slog.Info("shutdown complete")
}
