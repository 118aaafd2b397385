package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-prism/cmd/prismd/handlers"
	"github.com/23skdu/longbow-prism/internal/config"
	"github.com/23skdu/longbow-prism/internal/logger"
)

var (
	host           = flag.String("host", "0.0.0.0", "Host to bind to")
	port           = flag.Int("port", 8080, "HTTP server port")
	allowedOrigins = flag.String("allowed-origins", "", "Comma-separated list of allowed CORS origins")
	topk           = flag.Int("topk", 10, "Default top-k for layer predictions")
	components     = flag.Int("components", 10, "Default number of NMF components")
	logLevel       = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat      = flag.String("log-format", "json", "Log format: console or json")
)

func main() {
	flag.Parse()
	logger.Setup(*logLevel, *logFormat)
	log := logger.Log.Component("prismd")

	cfg := config.Server{
		Host:           *host,
		Port:           *port,
		AllowedOrigins: parseOrigins(*allowedOrigins),
		LogLevel:       *logLevel,
		LogFormat:      *logFormat,
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid server config", "err", err)
		os.Exit(1)
	}

	defaults := config.Default()
	defaults.TopK = *topk
	defaults.NMFComponents = *components
	if err := defaults.Validate(); err != nil {
		log.Error("invalid analysis defaults", "err", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	cors := handlers.NewCORSMiddleware(cfg.AllowedOrigins)

	mux.Handle("/health", handlers.HealthHandler())
	mux.Handle("/healthz", handlers.HealthzHandler())
	mux.Handle("/version", handlers.VersionHandler())
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/analyze", cors.Middleware(handlers.AnalyzeHandler(defaults)))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Info("shutting down")
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		server.Shutdown(shutdownCtx)
	}()

	log.Info("listening", "addr", server.Addr, "version", handlers.Version)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "err", err)
		os.Exit(1)
	}

	<-ctx.Done()
	log.Info("stopped")
}

func parseOrigins(origins string) []string {
	if origins == "" {
		return nil
	}
	var result []string
	for _, origin := range strings.Split(origins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
