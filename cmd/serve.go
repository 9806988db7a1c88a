package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ananyateklu/second-brain-go/internal/config"
	"github.com/ananyateklu/second-brain-go/internal/conversation"
	"github.com/ananyateklu/second-brain-go/internal/embedding"
	"github.com/ananyateklu/second-brain-go/internal/llm"
	"github.com/ananyateklu/second-brain-go/internal/notes"
	"github.com/ananyateklu/second-brain-go/internal/server"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Run the second-brain HTTP server.

Endpoints:
  POST /api/chat/stream      (SSE)
  GET  /api/conversations
  POST /api/notes
  GET  /metrics
  GET  /health`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Bind port (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		if servePort < 0 || servePort > 65535 {
			return fmt.Errorf("invalid --port %d (must be 1-65535)", servePort)
		}
		cfg.Server.Port = servePort
	}

	logger := newLogger()
	zlog.Logger = logger

	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	provider, err := llm.NewProvider(cfg)
	if err != nil {
		return err
	}

	embedProvider, err := embedding.NewEmbeddingProvider(cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("embedding provider unavailable, note retrieval disabled")
		embedProvider = nil
	}

	conversations, err := conversation.NewStore(cfg.ConversationsDBPath())
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}
	defer conversations.Close()

	noteStore, err := notes.NewStore(notes.Config{Path: cfg.NotesDBPath()})
	if err != nil {
		return fmt.Errorf("open note store: %w", err)
	}
	defer noteStore.Close()

	srv := server.New(cfg, logger, provider, embedProvider, conversations, noteStore)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if debugLog {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()
}
