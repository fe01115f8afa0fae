package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatrelay/internal/adapter/llm"
	"github.com/xiaot623/gogo/chatrelay/internal/agui"
	"github.com/xiaot623/gogo/chatrelay/internal/config"
	"github.com/xiaot623/gogo/chatrelay/internal/logger"
	"github.com/xiaot623/gogo/chatrelay/internal/policy"
	"github.com/xiaot623/gogo/chatrelay/internal/repository"
	"github.com/xiaot623/gogo/chatrelay/internal/service"
	handler "github.com/xiaot623/gogo/chatrelay/internal/transport/http"
	"github.com/xiaot623/gogo/chatrelay/internal/transport/ws"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat relay server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildServer(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.cleanup()
	e := app.echo

	errCh := make(chan error, 1)
	go func() {
		log.Info("chat relay listening", zap.String("addr", cfg.Server.Addr()))
		if err := e.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down chat relay")
	app.ws.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// server bundles the wired HTTP and WebSocket transports.
type server struct {
	echo    *echo.Echo
	ws      *ws.Server
	cleanup func()
}

// buildServer wires the provider, journal, policy and transports described by
// cfg. cleanup releases the journal.
func buildServer(ctx context.Context, cfg *config.Config, log *zap.Logger) (*server, error) {
	mode, err := agui.ParseRationaleMode(cfg.Agent.RationaleMode)
	if err != nil {
		return nil, err
	}
	encoder := agui.NewEncoder(mode)

	client, err := llm.NewClient(llm.Options{
		Provider:  cfg.Provider.Name,
		APIKey:    cfg.Provider.APIKey,
		BaseURL:   cfg.Provider.BaseURL,
		MaxTokens: cfg.Provider.MaxTokens,
		Timeout:   cfg.Provider.Timeout,
		RateLimit: cfg.RateLimit.RPS,
		Burst:     cfg.RateLimit.Burst,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build LLM client: %w", err)
	}

	engine, err := policy.NewEngineFromFile(ctx, cfg.Policy.File)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	opts := []service.Option{
		service.WithModel(cfg.Provider.Model),
		service.WithAgentID(cfg.Agent.ID),
	}
	cleanup := func() {}
	if cfg.Journal.DSN != "" {
		store, err := repository.NewSQLiteStore(cfg.Journal.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize journal: %w", err)
		}
		opts = append(opts, service.WithJournal(store))
		cleanup = func() {
			if err := store.Close(); err != nil {
				log.Warn("failed to close journal", zap.Error(err))
			}
		}
		log.Info("run journal enabled", zap.String("dsn", cfg.Journal.DSN))
	}

	svc := service.New(client, log, opts...)

	chatHandler := handler.NewHandler(svc, engine, encoder, log)
	wsServer := ws.NewServer(ws.Config{
		PingInterval:   cfg.WS.PingInterval,
		WriteTimeout:   cfg.WS.WriteTimeout,
		ReadTimeout:    cfg.WS.ReadTimeout,
		MaxMessageSize: cfg.WS.MaxMessageSize,
	}, svc, engine, encoder, log)

	return &server{
		echo:    handler.NewServer(log, cfg.Server.CORSOrigins, chatHandler, wsServer),
		ws:      wsServer,
		cleanup: cleanup,
	}, nil
}
