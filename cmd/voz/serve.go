package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/RichardoC/voz/internal/api"
	"github.com/RichardoC/voz/internal/llm"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		design     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the voice chat page and its API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, configPath, addr, design)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to voz config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&design, "design", false, "simulate the voice SDK instead of calling it")
	return cmd
}

func runServe(ctx context.Context, configPath, addr string, design bool) (err error) {
	e, err := openEnv(configPath)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, e.Close()) }()

	cfg, logger := e.cfg, e.logger
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if design {
		cfg.Voice.DesignMode = true
	}
	if err := cfg.RequireVoice(); err != nil {
		logger.Error("voice is not configured", zap.Error(err))
		return err
	}
	if !e.store.Available() {
		logger.Warn("history storage disabled; conversations will not be kept")
	}

	recap, err := llm.New(llm.Config{
		Enabled:     cfg.Recap.Enabled,
		BaseURL:     cfg.Recap.BaseURL,
		Token:       cfg.Recap.Token,
		Model:       cfg.Recap.Model,
		Timeout:     cfg.Recap.Timeout,
		MaxMessages: cfg.Recap.MaxMessages,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize recap service", zap.Error(err))
		return err
	}

	handler := api.NewHandler(e.store, recap, api.Options{
		APIKey:         cfg.Voice.APIKey,
		AssistantID:    cfg.Voice.AssistantID,
		DesignMode:     cfg.Voice.DesignMode,
		DesignInterval: cfg.Voice.DesignInterval,
		MinDuration:    cfg.Retention.MinDuration,
	}, logger)

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("/", http.FileServer(http.Dir(cfg.Server.WebDir)))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server",
			zap.String("addr", cfg.Server.Addr),
			zap.String("storage", cfg.Storage.Driver),
			zap.Bool("designMode", cfg.Voice.DesignMode))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
