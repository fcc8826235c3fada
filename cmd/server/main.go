package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"clinsum"
	"clinsum/extract"
	"clinsum/metrics"
	"clinsum/store"
)

// serverConfig wraps the engine configuration with service-level settings.
type serverConfig struct {
	Engine clinsum.Config `yaml:"engine"`
	DBPath string         `yaml:"db_path"`
}

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := serverConfig{
		Engine: clinsum.DefaultConfig(),
		DBPath: "clinsum.db",
	}
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			slog.Error("reading config", "error", err)
			os.Exit(1)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			slog.Error("parsing config", "error", err)
			os.Exit(1)
		}
	}

	// Override from environment variables.
	if v := os.Getenv("CLINSUM_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CLINSUM_BACKEND_BASE_URL"); v != "" {
		cfg.Engine.Backend.BaseURL = v
	}
	if v := os.Getenv("CLINSUM_BACKEND_API_KEY"); v != "" {
		cfg.Engine.Backend.APIKey = v
	}
	if v := os.Getenv("CLINSUM_BACKEND_MODEL"); v != "" {
		cfg.Engine.Backend.Model = v
	}

	// Fallback: the usual provider env var for the API key.
	if cfg.Engine.Backend.APIKey == "" {
		cfg.Engine.Backend.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	apiKey := os.Getenv("CLINSUM_API_KEY")
	corsOrigins := os.Getenv("CLINSUM_CORS_ORIGINS")

	engine, err := clinsum.NewFromConfig(cfg.Engine, clinsum.WithMetrics(metrics.Log{}))
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}

	db, err := store.New(cfg.DBPath)
	if err != nil {
		slog.Error("opening store", "db_path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	h := newHandler(engine, db, extract.NewRegistry())
	mux := http.NewServeMux()

	mux.HandleFunc("POST /summarize", h.handleSummarize)
	mux.HandleFunc("GET /runs", h.handleListRuns)
	mux.HandleFunc("GET /runs/{id}", h.handleGetRun)
	mux.HandleFunc("GET /runs/{id}/preview", h.handlePreview)
	mux.HandleFunc("GET /review", h.handleReviewQueue)
	mux.HandleFunc("POST /review/{id}/resolve", h.handleResolveReview)
	mux.HandleFunc("GET /review/export", h.handleExportReview)
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // summarization requests can run for minutes
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr, "db_path", cfg.DBPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
