package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/textpipe/internal/config"
	"github.com/MeKo-Tech/textpipe/internal/server"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP OCR API",
	Long: `Start an HTTP server exposing the OCR pipeline.

Endpoints:
  POST /ocr          - full pipeline, one result per page
  POST /detection    - word geometries per page
  POST /recognition  - text of word crops
  GET  /ws/ocr       - streaming OCR over WebSocket
  GET  /models       - registered architectures
  GET  /health       - health check
  GET  /metrics      - Prometheus metrics

Request form fields (det_arch, reco_arch, det_bs, ...) override the
configured defaults per request.

Examples:
  textpipe serve
  textpipe serve --host 0.0.0.0 --port 3000 --rate-limit-enabled`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int64("max-upload-size", 50, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 60, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().Bool("rate-limit-enabled", false, "enable per-client rate limiting")
	serveCmd.Flags().Int("requests-per-minute", 60, "sustained requests per minute per client")
	serveCmd.Flags().Int("burst", 10, "requests a client may make at once")
	addDetectionFlags(serveCmd)
	addRecognitionFlags(serveCmd)
	addDocumentFlags(serveCmd)
}

// applyServeFlags copies the changed server flags over cfg.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Server.Host, _ = f.GetString("host")
	}
	if f.Changed("port") {
		cfg.Server.Port, _ = f.GetInt("port")
	}
	if f.Changed("cors-origin") {
		cfg.Server.CORSOrigin, _ = f.GetString("cors-origin")
	}
	if f.Changed("max-upload-size") {
		cfg.Server.MaxUploadMB, _ = f.GetInt64("max-upload-size")
	}
	if f.Changed("timeout") {
		cfg.Server.TimeoutSec, _ = f.GetInt("timeout")
	}
	if f.Changed("shutdown-timeout") {
		cfg.Server.ShutdownTimeout, _ = f.GetInt("shutdown-timeout")
	}
	if f.Changed("rate-limit-enabled") {
		cfg.Server.RateLimit.Enabled, _ = f.GetBool("rate-limit-enabled")
	}
	if f.Changed("requests-per-minute") {
		cfg.Server.RateLimit.RequestsPerMinute, _ = f.GetInt("requests-per-minute")
	}
	if f.Changed("burst") {
		cfg.Server.RateLimit.Burst, _ = f.GetInt("burst")
	}
}

// newOCRServer builds the API server for cfg.
func newOCRServer(cfg *config.Config) (*server.Server, error) {
	vocab, err := loadVocab(cfg)
	if err != nil {
		return nil, err
	}
	resolver, err := newResolver(cfg)
	if err != nil {
		return nil, err
	}
	sc := server.ConfigFrom(cfg)
	sc.Vocab = vocab
	s, err := server.NewServer(sc, resolver)
	if err != nil {
		resolver.Close()
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}
	return s, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := *GetConfig()
	applyServeFlags(cmd, &cfg)
	if err := applyFlags(cmd, &cfg); err != nil {
		return err
	}

	ocrServer, err := newOCRServer(&cfg)
	if err != nil {
		return err
	}

	timeout := time.Duration(cfg.Server.TimeoutSec) * time.Second
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           ocrServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       timeout,
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting OCR server", "host", cfg.Server.Host, "port", cfg.Server.Port,
			"backend", cfg.Backend, "det_arch", cfg.Detection.Arch, "reco_arch", cfg.Recognition.Arch)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			serveErr <- err
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		slog.Info("Context cancelled, initiating shutdown")
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout.String())
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	if err := ocrServer.Close(); err != nil {
		slog.Error("Server cleanup error", "error", err)
	}
	slog.Info("Graceful shutdown completed")

	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}
