package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	httpapi "github.com/tbourn/go-secret-vault/internal/http"
	"github.com/tbourn/go-secret-vault/internal/observability"
	"github.com/tbourn/go-secret-vault/internal/sysutil"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(rt func() *vaultEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the front end and the app API",
		Long: `Starts the HTTP server and, unless MAINTENANCE_SCHEDULE is empty, the
retention sweeper. Stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), rt())
		},
	}
}

func serve(parent context.Context, rt *vaultEnv) error {
	cfg := rt.cfg
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL,
		sysutil.FirstNonEmpty(version, "dev"),
		attribute.String("vault.delivery_policy", cfg.Vault.DeliveryPolicy),
	)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			rt.log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, rt.db, rt.vault, cfg)

	sched := cron.New()
	if cfg.Vault.MaintenanceSchedule != "" {
		if _, err := rt.sweeper.Schedule(sched, cfg.Vault.MaintenanceSchedule); err != nil {
			return err
		}
		sched.Start()
		defer func() { <-sched.Stop().Done() }()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.log.Info().
			Str("addr", srv.Addr).
			Str("delivery_policy", cfg.Vault.DeliveryPolicy).
			Str("maintenance", cfg.Vault.MaintenanceSchedule).
			Msg("vault listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	rt.log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
