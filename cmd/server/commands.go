package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"storefront-chat/internal/adapters/handler"
	"storefront-chat/internal/adapters/repository"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server, staff hub and watchdog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Process due message batches once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				result, err := a.batcher.Sweep(ctx)
				if err != nil {
					return err
				}
				return printJSON(result)
			})
		},
	}
}

func purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Garbage-collect processed messages (and old history under disk pressure)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				report, err := a.watchdog.RunOnce(ctx)
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			db, err := connectMariaDB(ctx, cfg.DB, 5, 2*time.Second)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repository.Migrate(db); err != nil {
				return err
			}
			slog.Info("Migrations applied")
			return nil
		},
	}
}

// runServe starts every long-running component and blocks until SIGINT/SIGTERM
func runServe(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(parent)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := repository.Migrate(a.db); err != nil {
		return err
	}

	// Background components
	go a.hub.Run(ctx)
	go a.watchdog.Run(ctx)

	webhook := handler.NewWebhookHandler(a.dispatcher, cfg.Facebook.AppSecret, cfg.Facebook.VerifyToken)
	router := handler.NewRouter(handler.Routes{
		Webhook: webhook,
		Cron:    handler.NewCronHandler(a.batcher, a.watchdog, cfg.App.CronSecret, cfg.App.IsProduction()),
		Dashboard: handler.NewDashboardHandler(a.killSwitch, a.resolver, a.orderDesk, handler.DashboardConfig{
			MeshSecret:     cfg.App.MeshSecret,
			Version:        Version,
			DiskPath:       cfg.Housekeeping.DiskPath,
			PurgeThreshold: cfg.Housekeeping.PurgeDiskThreshold,
			DefaultPause:   cfg.Pipeline.HandoffPause,
		}),
		StaffWS: a.hub.ServeWS,
		Metrics: a.metrics,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening",
			"addr", srv.Addr,
			"env", cfg.App.Env,
			"batching", cfg.Pipeline.BatchingEnabled,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}
	webhook.Wait()
	return nil
}

// withApp builds the app for a one-shot command and tears it down afterwards
func withApp(parent context.Context, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(parent)
	defer stop()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(nonNil(parent), os.Interrupt, syscall.SIGTERM)
}

func nonNil(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
