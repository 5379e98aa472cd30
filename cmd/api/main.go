package main

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

	"tempmailproxy/internal/admin"
	"tempmailproxy/internal/api"
	"tempmailproxy/internal/config"
	"tempmailproxy/internal/mailtm"
	"tempmailproxy/internal/provision"
	"tempmailproxy/internal/redisstore"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:           "tempmail-proxy",
		Short:         "REST proxy over the mail.tm temporary email API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides PORT)")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	client := mailtm.New(cfg.MailTMBaseURL, cfg.UpstreamTimeout, mailtm.WithUserAgent(cfg.UserAgent))

	var provOpts []provision.Option
	var apiOpts []api.Option
	if cfg.StatsEnabled() {
		store, err := redisstore.New(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer store.Close()

		adminHandler, err := admin.NewAdminHandler(cfg, store, logger)
		if err != nil {
			return fmt.Errorf("creating admin handler: %w", err)
		}
		provOpts = append(provOpts, provision.WithStats(store))
		apiOpts = append(apiOpts, api.WithAdmin(adminHandler), api.WithReadiness(store))
	}

	provisioner := provision.New(client, logger, provOpts...)
	handler := api.New(cfg, client, provisioner, logger, apiOpts...)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API server starting",
			slog.String("addr", srv.Addr),
			slog.String("upstream", cfg.MailTMBaseURL),
			slog.Bool("stats", cfg.StatsEnabled()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server exiting")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
